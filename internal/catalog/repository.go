package catalog

import (
	"context"
	"database/sql"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"
)

// recentReviews is how many reviews a product detail embeds.
const recentReviews = 5

// Repository reads and writes the catalog tables.
type Repository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewRepository(db *sql.DB, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{db: db, logger: logger.Named("catalog_repo")}
}

func (r *Repository) qb() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

func (r *Repository) logSQL(op, query string, args []any, start time.Time, err error) {
	r.logger.Debug("sql",
		zap.String("op", op),
		zap.String("query", query),
		zap.Int("args", len(args)),
		zap.Duration("latency", time.Since(start)),
		zap.Error(err),
	)
}

var productColumns = []string{
	"p.id", "p.category_id", "p.name", "p.description", "p.price_cents",
	"p.is_featured", "p.rating_average", "p.review_count", "p.created_at", "p.updated_at",
}

const reviewColumns = "id, product_id, user_id, rating, body, created_at, updated_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(s scanner) (Product, error) {
	var (
		p   Product
		avg sql.NullFloat64
	)
	if err := s.Scan(
		&p.ID, &p.CategoryID, &p.Name, &p.Description, &p.PriceCents,
		&p.Featured, &avg, &p.Count, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return Product{}, err
	}
	p.Average = floatPtr(avg)
	return p, nil
}

func scanReview(s scanner) (Review, error) {
	var rv Review
	err := s.Scan(&rv.ID, &rv.ProductID, &rv.UserID, &rv.Rating, &rv.Body, &rv.CreatedAt, &rv.UpdatedAt)
	return rv, err
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// GetProduct returns a product with its latest reviews.
func (r *Repository) GetProduct(ctx context.Context, id int64) (ProductDetail, error) {
	const op = "GetProduct"

	query, args, err := r.qb().Select(productColumns...).
		From("products p").
		Where(sq.Eq{"p.id": id}).
		ToSql()
	if err != nil {
		return ProductDetail{}, translate(op, err)
	}

	start := time.Now()
	p, err := scanProduct(r.db.QueryRowContext(ctx, query, args...))
	r.logSQL(op, query, args, start, err)
	if err != nil {
		return ProductDetail{}, translate(op, err)
	}

	query, args, err = r.qb().Select(reviewColumns).
		From("reviews").
		Where(sq.Eq{"product_id": id}).
		OrderBy("created_at DESC", "id DESC").
		Limit(recentReviews).
		ToSql()
	if err != nil {
		return ProductDetail{}, translate(op, err)
	}

	start = time.Now()
	rows, err := r.db.QueryContext(ctx, query, args...)
	r.logSQL(op+".reviews", query, args, start, err)
	if err != nil {
		return ProductDetail{}, translate(op, err)
	}
	defer rows.Close()

	detail := ProductDetail{Product: p, Reviews: []Review{}}
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return ProductDetail{}, translate(op, err)
		}
		detail.Reviews = append(detail.Reviews, rv)
	}
	if err := rows.Err(); err != nil {
		return ProductDetail{}, translate(op, err)
	}
	return detail, nil
}

// ListCategoryProducts returns one page of a category's products.
func (r *Repository) ListCategoryProducts(ctx context.Context, p ListParams) (ProductPage, error) {
	where := sq.Eq{"p.category_id": p.CategoryID}
	return r.page(ctx, "ListCategoryProducts", where, orderBy(listingOrder(p.Sort)...), p.Page, p.Limit)
}

// Search returns one page of products matching the query and filters.
func (r *Repository) Search(ctx context.Context, p SearchParams) (ProductPage, error) {
	where := sq.And{}
	if p.Query != "" {
		like := "%" + escapeLike(p.Query) + "%"
		where = append(where, sq.Or{
			sq.ILike{"p.name": like},
			sq.ILike{"p.description": like},
		})
	}
	if p.CategoryID > 0 {
		where = append(where, sq.Eq{"p.category_id": p.CategoryID})
	}
	if p.MinRating > 0 {
		where = append(where, sq.GtOrEq{"p.rating_average": p.MinRating})
	}

	order := orderBy(listingOrder(p.Sort)...)
	if p.Sort == "" || p.Sort == "relevance" {
		order = func(b sq.SelectBuilder) sq.SelectBuilder {
			// Name prefix matches rank first.
			if p.Query != "" {
				b = b.OrderByClause("CASE WHEN p.name ILIKE ? THEN 0 ELSE 1 END", escapeLike(p.Query)+"%")
			}
			return b.OrderBy("p.review_count DESC", "p.id ASC")
		}
	}

	return r.page(ctx, "Search", where, order, p.Page, p.Limit)
}

type orderFunc func(sq.SelectBuilder) sq.SelectBuilder

func orderBy(cols ...string) orderFunc {
	return func(b sq.SelectBuilder) sq.SelectBuilder { return b.OrderBy(cols...) }
}

// page counts and selects one page of products.
func (r *Repository) page(ctx context.Context, op string, where sq.Sqlizer, order orderFunc, page, limit int) (ProductPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	out := ProductPage{Items: []Product{}, Page: page, Limit: limit}

	query, args, err := r.qb().Select("COUNT(*)").From("products p").Where(where).ToSql()
	if err != nil {
		return ProductPage{}, translate(op, err)
	}
	start := time.Now()
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&out.Total)
	r.logSQL(op+".count", query, args, start, err)
	if err != nil {
		return ProductPage{}, translate(op, err)
	}
	if out.Total == 0 {
		return out, nil
	}

	sb := order(r.qb().Select(productColumns...).From("products p").Where(where))
	query, args, err = sb.
		Limit(uint64(limit)).
		Offset(uint64((page - 1) * limit)).
		ToSql()
	if err != nil {
		return ProductPage{}, translate(op, err)
	}

	start = time.Now()
	rows, err := r.db.QueryContext(ctx, query, args...)
	r.logSQL(op, query, args, start, err)
	if err != nil {
		return ProductPage{}, translate(op, err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return ProductPage{}, translate(op, err)
		}
		out.Items = append(out.Items, p)
	}
	return out, translate(op, rows.Err())
}

// Featured returns the best rated featured products.
func (r *Repository) Featured(ctx context.Context, limit int) ([]Product, error) {
	const op = "Featured"

	query, args, err := r.qb().Select(productColumns...).
		From("products p").
		Where(sq.Eq{"p.is_featured": true}).
		OrderBy("p.rating_average DESC NULLS LAST", "p.review_count DESC", "p.id ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, translate(op, err)
	}

	start := time.Now()
	rows, err := r.db.QueryContext(ctx, query, args...)
	r.logSQL(op, query, args, start, err)
	if err != nil {
		return nil, translate(op, err)
	}
	defer rows.Close()

	out := []Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, translate(op, err)
		}
		out = append(out, p)
	}
	return out, translate(op, rows.Err())
}

func (r *Repository) Categories(ctx context.Context) ([]Category, error) {
	const op = "Categories"

	query, args, err := r.qb().Select("id", "name", "slug", "sort_order").
		From("categories").
		OrderBy("sort_order ASC", "name ASC").
		ToSql()
	if err != nil {
		return nil, translate(op, err)
	}

	start := time.Now()
	rows, err := r.db.QueryContext(ctx, query, args...)
	r.logSQL(op, query, args, start, err)
	if err != nil {
		return nil, translate(op, err)
	}
	defer rows.Close()

	out := []Category{}
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &c.SortOrder); err != nil {
			return nil, translate(op, err)
		}
		out = append(out, c)
	}
	return out, translate(op, rows.Err())
}

func (r *Repository) ActiveBanners(ctx context.Context) ([]Banner, error) {
	const op = "ActiveBanners"

	query, args, err := r.qb().Select("id", "title", "image_url", "link_url", "active", "sort_order").
		From("banners").
		Where(sq.Eq{"active": true}).
		OrderBy("sort_order ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, translate(op, err)
	}

	start := time.Now()
	rows, err := r.db.QueryContext(ctx, query, args...)
	r.logSQL(op, query, args, start, err)
	if err != nil {
		return nil, translate(op, err)
	}
	defer rows.Close()

	out := []Banner{}
	for rows.Next() {
		var b Banner
		if err := rows.Scan(&b.ID, &b.Title, &b.ImageURL, &b.LinkURL, &b.Active, &b.SortOrder); err != nil {
			return nil, translate(op, err)
		}
		out = append(out, b)
	}
	return out, translate(op, rows.Err())
}

// UserStats summarizes a user's reviews. Unknown users are ErrNotFound.
func (r *Repository) UserStats(ctx context.Context, userID int64) (UserStats, error) {
	const op = "UserStats"

	query, args, err := r.qb().
		Select("u.id", "COUNT(r.id)", "ROUND(AVG(r.rating)::numeric, 2)", "MAX(r.created_at)").
		From("users u").
		LeftJoin("reviews r ON r.user_id = u.id").
		Where(sq.Eq{"u.id": userID}).
		GroupBy("u.id").
		ToSql()
	if err != nil {
		return UserStats{}, translate(op, err)
	}

	var (
		out  UserStats
		avg  sql.NullFloat64
		last sql.NullTime
	)
	start := time.Now()
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&out.UserID, &out.ReviewCount, &avg, &last)
	r.logSQL(op, query, args, start, err)
	if err != nil {
		return UserStats{}, translate(op, err)
	}

	out.AverageGiven = floatPtr(avg)
	if last.Valid {
		t := last.Time
		out.LastReviewAt = &t
	}
	return out, nil
}

// UserProfile returns the public profile of a user.
func (r *Repository) UserProfile(ctx context.Context, userID int64) (UserProfile, error) {
	const op = "UserProfile"

	query, args, err := r.qb().Select("id", "display_name", "created_at").
		From("users").
		Where(sq.Eq{"id": userID}).
		ToSql()
	if err != nil {
		return UserProfile{}, translate(op, err)
	}

	var u UserProfile
	start := time.Now()
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&u.ID, &u.DisplayName, &u.JoinedAt)
	r.logSQL(op, query, args, start, err)
	return u, translate(op, err)
}

// UserReviews returns a user's most recent reviews.
func (r *Repository) UserReviews(ctx context.Context, userID int64, limit int) ([]Review, error) {
	const op = "UserReviews"

	query, args, err := r.qb().Select(reviewColumns).
		From("reviews").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, translate(op, err)
	}

	start := time.Now()
	rows, err := r.db.QueryContext(ctx, query, args...)
	r.logSQL(op, query, args, start, err)
	if err != nil {
		return nil, translate(op, err)
	}
	defer rows.Close()

	out := []Review{}
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, translate(op, err)
		}
		out = append(out, rv)
	}
	return out, translate(op, rows.Err())
}

func listingOrder(sort string) []string {
	switch sort {
	case "price_asc":
		return []string{"p.price_cents ASC", "p.id ASC"}
	case "price_desc":
		return []string{"p.price_cents DESC", "p.id DESC"}
	case "rating":
		return []string{"p.rating_average DESC NULLS LAST", "p.review_count DESC", "p.id ASC"}
	default:
		return []string{"p.created_at DESC", "p.id DESC"}
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
