package invalidation

import (
	"math"
	"strconv"

	"catalog-cache/internal/cache"
)

// Event is a committed domain write that may stale cached reads.
type Event interface {
	Name() string
}

// ProductWritten is emitted after a product row is created or updated.
type ProductWritten struct {
	ID         int64
	CategoryID int64
}

// ReviewWritten is emitted after a review is created, updated or deleted and
// the product's derived stats have been recomputed.
type ReviewWritten struct {
	ProductID   int64
	CategoryID  int64
	RatingDelta float64
	CountBefore int
	CountAfter  int
	// UserID is the author; zero when unknown.
	UserID int64
}

// CategoryWritten is emitted after a category is created or updated.
type CategoryWritten struct {
	ID int64
}

// BannerWritten is emitted after any banner changes.
type BannerWritten struct{}

// UserStateChanged is emitted when anything shown on a user's pages changes.
type UserStateChanged struct {
	UserID int64
}

func (ProductWritten) Name() string   { return "product_written" }
func (ReviewWritten) Name() string    { return "review_written" }
func (CategoryWritten) Name() string  { return "category_written" }
func (BannerWritten) Name() string    { return "banner_written" }
func (UserStateChanged) Name() string { return "user_state_changed" }

// Significant reports whether the review moved the product's rating by at
// least a full star, or added the first or removed the last review.
func (e ReviewWritten) Significant() bool {
	if math.Abs(e.RatingDelta) >= 1 {
		return true
	}
	return (e.CountBefore == 0) != (e.CountAfter == 0)
}

// ReviewCascade controls when a review write widens to a product cascade.
type ReviewCascade int

const (
	// CascadeSignificant widens only for significant reviews.
	CascadeSignificant ReviewCascade = iota
	// CascadeAlways widens on every review write.
	CascadeAlways
)

func (c ReviewCascade) String() string {
	if c == CascadeAlways {
		return "always"
	}
	return "significant"
}

// ParseReviewCascade accepts "significant" or "always".
func ParseReviewCascade(s string) (ReviewCascade, bool) {
	switch s {
	case "", "significant":
		return CascadeSignificant, true
	case "always":
		return CascadeAlways, true
	}
	return CascadeSignificant, false
}

// Target is one key or glob pattern to delete.
type Target struct {
	Key     string
	Pattern bool
}

func (t Target) kind() string {
	if t.Pattern {
		return "pattern"
	}
	return "key"
}

// Policy maps events to targets.
type Policy struct {
	Review ReviewCascade
}

// Plan returns the deduplicated targets for events, in first-seen order.
func (p Policy) Plan(events ...Event) []Target {
	var out []Target
	seen := make(map[Target]struct{})
	add := func(t Target) {
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	for _, ev := range events {
		for _, t := range p.targets(ev) {
			add(t)
		}
	}
	return out
}

func (p Policy) targets(ev Event) []Target {
	switch e := ev.(type) {
	case ProductWritten:
		return productTargets(e.ID, e.CategoryID)

	case ReviewWritten:
		var out []Target
		if p.Review == CascadeAlways || e.Significant() {
			out = productTargets(e.ProductID, e.CategoryID)
		} else {
			out = []Target{exact("product", id(e.ProductID))}
		}
		if e.UserID > 0 {
			out = append(out, userTargets(e.UserID)...)
		}
		return out

	case CategoryWritten:
		return []Target{
			{Key: "categories:all"},
			pattern("category", id(e.ID)),
		}

	case BannerWritten:
		return []Target{{Key: "banners:active"}}

	case UserStateChanged:
		return userTargets(e.UserID)
	}
	return nil
}

func productTargets(productID, categoryID int64) []Target {
	out := []Target{exact("product", id(productID))}
	if categoryID > 0 {
		out = append(out, pattern("category", id(categoryID)))
	}
	return append(out,
		pattern("products", "featured"),
		pattern("search"),
	)
}

func userTargets(userID int64) []Target {
	u := id(userID)
	return []Target{
		exact("profile", "user", u),
		exact("dashboard", "user", u),
		exact("stats", "user", u),
	}
}

func exact(parts ...string) Target   { return Target{Key: cache.Join(parts...)} }
func pattern(parts ...string) Target { return Target{Key: cache.Under(parts...), Pattern: true} }

func id(v int64) string { return strconv.FormatInt(v, 10) }
