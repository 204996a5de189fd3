// Package catalog is the store of record behind the cached read API: the
// product, category, review and banner tables, the derived rating stats,
// and the write service that keeps the cache consistent with them.
package catalog

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("catalog: not found")
	ErrInvalid  = errors.New("catalog: invalid input")
	ErrConflict = errors.New("catalog: conflict")
)

type Product struct {
	ID          int64     `json:"id"`
	CategoryID  int64     `json:"category_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	PriceCents  int64     `json:"price_cents"`
	Featured    bool      `json:"featured"`
	Stats                 // rating_average, review_count
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProductDetail is a product with its most recent reviews.
type ProductDetail struct {
	Product
	Reviews []Review `json:"reviews"`
}

type Category struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	SortOrder int    `json:"sort_order"`
}

type Review struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"product_id"`
	UserID    int64     `json:"user_id"`
	Rating    int       `json:"rating"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Banner struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	ImageURL  string `json:"image_url"`
	LinkURL   string `json:"link_url"`
	Active    bool   `json:"active"`
	SortOrder int    `json:"sort_order"`
}

type UserProfile struct {
	ID          int64     `json:"id"`
	DisplayName string    `json:"display_name"`
	JoinedAt    time.Time `json:"joined_at"`
}

// UserDashboard is everything shown on a user's own page.
type UserDashboard struct {
	Profile       UserProfile `json:"profile"`
	Stats         UserStats   `json:"stats"`
	RecentReviews []Review    `json:"recent_reviews"`
}

// UserStats summarizes the reviews a user has written.
type UserStats struct {
	UserID       int64      `json:"user_id"`
	ReviewCount  int        `json:"review_count"`
	AverageGiven *float64   `json:"average_given"`
	LastReviewAt *time.Time `json:"last_review_at"`
}

// ProductPage is one page of a product listing.
type ProductPage struct {
	Items []Product `json:"items"`
	Page  int       `json:"page"`
	Limit int       `json:"limit"`
	Total int       `json:"total"`
}

// ListParams selects a page of a category listing. Sort is one of newest,
// price_asc, price_desc or rating.
type ListParams struct {
	CategoryID int64
	Page       int
	Limit      int
	Sort       string
}

// SearchParams selects a page of search results. CategoryID 0 searches every
// category; MinRating 0 disables the rating filter.
type SearchParams struct {
	Query      string
	CategoryID int64
	Sort       string
	Page       int
	Limit      int
	MinRating  float64
}

// ReviewInput creates a review.
type ReviewInput struct {
	ProductID int64
	UserID    int64
	Rating    int
	Body      string
}

func (in ReviewInput) Validate() error {
	if in.ProductID <= 0 || in.UserID <= 0 {
		return ErrInvalid
	}
	return validRating(in.Rating)
}

// ReviewPatch updates the fields that are set.
type ReviewPatch struct {
	Rating *int
	Body   *string
}

func (p ReviewPatch) Validate() error {
	if p.Rating == nil && p.Body == nil {
		return ErrInvalid
	}
	if p.Rating != nil {
		return validRating(*p.Rating)
	}
	return nil
}

type ProductPatch struct {
	CategoryID  *int64
	Name        *string
	Description *string
	PriceCents  *int64
	Featured    *bool
}

func (p ProductPatch) Validate() error {
	switch {
	case p.CategoryID == nil && p.Name == nil && p.Description == nil && p.PriceCents == nil && p.Featured == nil:
		return ErrInvalid
	case p.CategoryID != nil && *p.CategoryID <= 0:
		return ErrInvalid
	case p.Name != nil && *p.Name == "":
		return ErrInvalid
	case p.PriceCents != nil && *p.PriceCents < 0:
		return ErrInvalid
	}
	return nil
}

type CategoryPatch struct {
	Name      *string
	Slug      *string
	SortOrder *int
}

func (p CategoryPatch) Validate() error {
	if p.Name == nil && p.Slug == nil && p.SortOrder == nil {
		return ErrInvalid
	}
	if (p.Name != nil && *p.Name == "") || (p.Slug != nil && *p.Slug == "") {
		return ErrInvalid
	}
	return nil
}

type BannerPatch struct {
	Title     *string
	ImageURL  *string
	LinkURL   *string
	Active    *bool
	SortOrder *int
}

func (p BannerPatch) Validate() error {
	if p.Title == nil && p.ImageURL == nil && p.LinkURL == nil && p.Active == nil && p.SortOrder == nil {
		return ErrInvalid
	}
	return nil
}

func validRating(r int) error {
	if r < 1 || r > 5 {
		return ErrInvalid
	}
	return nil
}
