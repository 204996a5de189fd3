package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"golang.org/x/sync/errgroup"

	"catalog-cache/internal/cache"
	"catalog-cache/internal/catalog"
)

// dashboardReviews is how many of a user's reviews the dashboard shows.
const dashboardReviews = 10

// CatalogHandler serves the cached read endpoints. Query values are read
// through the same key family that names the cache entry, so a response is
// always built from exactly the values its key encodes.
type CatalogHandler struct {
	Reader   catalog.Reader
	Families *cache.Registry
}

func NewCatalogHandler(reader catalog.Reader, families *cache.Registry) *CatalogHandler {
	return &CatalogHandler{Reader: reader, Families: families}
}

// resolve normalizes the request through family, writing a 400 when a
// required value is missing or malformed.
func (h *CatalogHandler) resolve(w http.ResponseWriter, r *http.Request, family string) (cache.Values, bool) {
	vals, ok := h.Families.Must(family).Resolve(cache.RequestFromHTTP(r))
	if !ok {
		respondError(w, r, fmt.Errorf("%w: %s parameters", catalog.ErrInvalid, family))
	}
	return vals, ok
}

// Product handles GET /v1/products/{id}.
func (h *CatalogHandler) Product(w http.ResponseWriter, r *http.Request) {
	vals, ok := h.resolve(w, r, cache.FamilyProduct)
	if !ok {
		return
	}
	p, err := h.Reader.GetProduct(r.Context(), atoi64(vals["id"]))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, p)
}

// CategoryProducts handles GET /v1/categories/{id}/products?page=&limit=&sort=.
func (h *CatalogHandler) CategoryProducts(w http.ResponseWriter, r *http.Request) {
	vals, ok := h.resolve(w, r, cache.FamilyCategoryProducts)
	if !ok {
		return
	}
	page, err := h.Reader.ListCategoryProducts(r.Context(), catalog.ListParams{
		CategoryID: atoi64(vals["id"]),
		Page:       atoi(vals["page"]),
		Limit:      atoi(vals["limit"]),
		Sort:       vals["sort"],
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, page)
}

// Featured handles GET /v1/products/featured?limit=.
func (h *CatalogHandler) Featured(w http.ResponseWriter, r *http.Request) {
	vals, ok := h.resolve(w, r, cache.FamilyFeatured)
	if !ok {
		return
	}
	items, err := h.Reader.Featured(r.Context(), atoi(vals["limit"]))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, items)
}

// Search handles GET /v1/search?q=&category=&sort=&page=&min_rating=. The
// page size is fixed since limit is not part of the search key.
func (h *CatalogHandler) Search(w http.ResponseWriter, r *http.Request) {
	vals, ok := h.resolve(w, r, cache.FamilySearch)
	if !ok {
		return
	}
	var category int64
	if c := vals["category"]; c != "all" {
		category = atoi64(c)
	}
	minRating, _ := strconv.ParseFloat(vals["minRating"], 64)

	page, err := h.Reader.Search(r.Context(), catalog.SearchParams{
		Query:      vals["q"],
		CategoryID: category,
		Sort:       vals["sort"],
		Page:       atoi(vals["page"]),
		Limit:      cache.DefaultPageSize,
		MinRating:  minRating,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, page)
}

// Categories handles GET /v1/categories.
func (h *CatalogHandler) Categories(w http.ResponseWriter, r *http.Request) {
	items, err := h.Reader.Categories(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, items)
}

// Banners handles GET /v1/banners.
func (h *CatalogHandler) Banners(w http.ResponseWriter, r *http.Request) {
	items, err := h.Reader.ActiveBanners(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, items)
}

// UserProfile handles GET /v1/users/{id}/profile.
func (h *CatalogHandler) UserProfile(w http.ResponseWriter, r *http.Request) {
	vals, ok := h.resolve(w, r, cache.FamilyUserProfile)
	if !ok {
		return
	}
	u, err := h.Reader.UserProfile(r.Context(), atoi64(vals["id"]))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, u)
}

// UserStats handles GET /v1/users/{id}/stats.
func (h *CatalogHandler) UserStats(w http.ResponseWriter, r *http.Request) {
	vals, ok := h.resolve(w, r, cache.FamilyUserStats)
	if !ok {
		return
	}
	st, err := h.Reader.UserStats(r.Context(), atoi64(vals["id"]))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, st)
}

// UserDashboard handles GET /v1/users/{id}/dashboard.
func (h *CatalogHandler) UserDashboard(w http.ResponseWriter, r *http.Request) {
	vals, ok := h.resolve(w, r, cache.FamilyUserDashboard)
	if !ok {
		return
	}
	id := atoi64(vals["id"])

	var d catalog.UserDashboard
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) {
		d.Profile, err = h.Reader.UserProfile(ctx, id)
		return err
	})
	g.Go(func() (err error) {
		d.Stats, err = h.Reader.UserStats(ctx, id)
		return err
	})
	g.Go(func() (err error) {
		d.RecentReviews, err = h.Reader.UserReviews(ctx, id, dashboardReviews)
		return err
	})
	if err := g.Wait(); err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, d)
}

// Values come out of family normalizers, so they are known to parse.
func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

