package catalog

import (
	"context"

	"go.uber.org/zap"

	"catalog-cache/internal/invalidation"
	"catalog-cache/pkg/logging/logging"
)

// Reader is the read side of the catalog, served behind the response cache.
type Reader interface {
	GetProduct(ctx context.Context, id int64) (ProductDetail, error)
	ListCategoryProducts(ctx context.Context, p ListParams) (ProductPage, error)
	Featured(ctx context.Context, limit int) ([]Product, error)
	Search(ctx context.Context, p SearchParams) (ProductPage, error)
	Categories(ctx context.Context) ([]Category, error)
	ActiveBanners(ctx context.Context) ([]Banner, error)
	UserStats(ctx context.Context, userID int64) (UserStats, error)
	UserProfile(ctx context.Context, userID int64) (UserProfile, error)
	UserReviews(ctx context.Context, userID int64, limit int) ([]Review, error)
}

// Writer is the write side of the store of record.
type Writer interface {
	CreateReview(ctx context.Context, in ReviewInput) (Review, error)
	UpdateReview(ctx context.Context, id int64, patch ReviewPatch) (Review, error)
	DeleteReview(ctx context.Context, id int64) (Review, error)
	RecomputeProductStats(ctx context.Context, productID int64) (StatsChange, error)
	UpdateProduct(ctx context.Context, id int64, patch ProductPatch) (Product, int64, error)
	UpdateCategory(ctx context.Context, id int64, patch CategoryPatch) (Category, error)
	UpdateBanner(ctx context.Context, id int64, patch BannerPatch) (Banner, error)
}

// Invalidator deletes the cache entries staled by committed writes.
type Invalidator interface {
	Invalidate(ctx context.Context, events ...invalidation.Event) invalidation.Report
}

var (
	_ Reader = (*Repository)(nil)
	_ Writer = (*Repository)(nil)
)

// ReviewResult is a review write together with the product's new stats.
type ReviewResult struct {
	Review Review `json:"review"`
	Stats  Stats  `json:"product_stats"`
}

// WriteService runs catalog writes in order: commit the write, recompute
// derived stats, then invalidate. Invalidation never fails a write.
type WriteService struct {
	repo   Writer
	inv    Invalidator
	logger *zap.Logger
}

func NewWriteService(repo Writer, inv Invalidator, logger *zap.Logger) *WriteService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WriteService{repo: repo, inv: inv, logger: logger.Named("catalog_writes")}
}

func (s *WriteService) CreateReview(ctx context.Context, in ReviewInput) (ReviewResult, error) {
	rv, err := s.repo.CreateReview(ctx, in)
	if err != nil {
		return ReviewResult{}, err
	}
	return s.afterReview(ctx, rv)
}

func (s *WriteService) UpdateReview(ctx context.Context, id int64, patch ReviewPatch) (ReviewResult, error) {
	rv, err := s.repo.UpdateReview(ctx, id, patch)
	if err != nil {
		return ReviewResult{}, err
	}
	return s.afterReview(ctx, rv)
}

func (s *WriteService) DeleteReview(ctx context.Context, id int64) (ReviewResult, error) {
	rv, err := s.repo.DeleteReview(ctx, id)
	if err != nil {
		return ReviewResult{}, err
	}
	return s.afterReview(ctx, rv)
}

// afterReview recomputes the product stats of a committed review write and
// then invalidates. If recomputation fails the product and author keys are
// still invalidated and the error is returned.
func (s *WriteService) afterReview(ctx context.Context, rv Review) (ReviewResult, error) {
	change, err := s.repo.RecomputeProductStats(ctx, rv.ProductID)
	if err != nil {
		logging.Or(ctx, s.logger).Error("recompute_stats_failed",
			zap.Int64("product_id", rv.ProductID),
			zap.Int64("review_id", rv.ID),
			zap.Error(err),
		)
		s.inv.Invalidate(ctx, invalidation.ReviewWritten{ProductID: rv.ProductID, UserID: rv.UserID})
		return ReviewResult{}, err
	}

	s.inv.Invalidate(ctx, invalidation.ReviewWritten{
		ProductID:   change.ProductID,
		CategoryID:  change.CategoryID,
		RatingDelta: change.RatingDelta(),
		CountBefore: change.Before.Count,
		CountAfter:  change.After.Count,
		UserID:      rv.UserID,
	})
	return ReviewResult{Review: rv, Stats: change.After}, nil
}

func (s *WriteService) UpdateProduct(ctx context.Context, id int64, patch ProductPatch) (Product, error) {
	p, prevCategory, err := s.repo.UpdateProduct(ctx, id, patch)
	if err != nil {
		return Product{}, err
	}

	events := []invalidation.Event{invalidation.ProductWritten{ID: p.ID, CategoryID: p.CategoryID}}
	if prevCategory != p.CategoryID {
		events = append(events, invalidation.ProductWritten{ID: p.ID, CategoryID: prevCategory})
	}
	s.inv.Invalidate(ctx, events...)
	return p, nil
}

func (s *WriteService) UpdateCategory(ctx context.Context, id int64, patch CategoryPatch) (Category, error) {
	c, err := s.repo.UpdateCategory(ctx, id, patch)
	if err != nil {
		return Category{}, err
	}
	s.inv.Invalidate(ctx, invalidation.CategoryWritten{ID: c.ID})
	return c, nil
}

func (s *WriteService) UpdateBanner(ctx context.Context, id int64, patch BannerPatch) (Banner, error) {
	b, err := s.repo.UpdateBanner(ctx, id, patch)
	if err != nil {
		return Banner{}, err
	}
	s.inv.Invalidate(ctx, invalidation.BannerWritten{})
	return b, nil
}
