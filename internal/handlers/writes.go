package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"catalog-cache/internal/catalog"
)

// UserHeader identifies the acting user on review writes. Authentication
// happens upstream of this service.
const UserHeader = "X-User-ID"

// CatalogWriter is the write side consumed by WriteHandler;
// *catalog.WriteService implements it.
type CatalogWriter interface {
	CreateReview(ctx context.Context, in catalog.ReviewInput) (catalog.ReviewResult, error)
	UpdateReview(ctx context.Context, id int64, patch catalog.ReviewPatch) (catalog.ReviewResult, error)
	DeleteReview(ctx context.Context, id int64) (catalog.ReviewResult, error)
	UpdateProduct(ctx context.Context, id int64, patch catalog.ProductPatch) (catalog.Product, error)
	UpdateCategory(ctx context.Context, id int64, patch catalog.CategoryPatch) (catalog.Category, error)
	UpdateBanner(ctx context.Context, id int64, patch catalog.BannerPatch) (catalog.Banner, error)
}

var _ CatalogWriter = (*catalog.WriteService)(nil)

// WriteHandler serves the mutating endpoints. Each one commits, recomputes
// and invalidates through the write service before responding, so a read
// issued after the response never sees a stale cache entry.
type WriteHandler struct {
	Writes CatalogWriter
}

func NewWriteHandler(writes CatalogWriter) *WriteHandler {
	return &WriteHandler{Writes: writes}
}

type reviewBody struct {
	Rating *int    `json:"rating"`
	Body   *string `json:"body"`
}

// CreateReview handles POST /v1/products/{id}/reviews.
func (h *WriteHandler) CreateReview(w http.ResponseWriter, r *http.Request) {
	productID, err := pathID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	userID, err := strconv.ParseInt(r.Header.Get(UserHeader), 10, 64)
	if err != nil || userID <= 0 {
		respondError(w, r, fmt.Errorf("%w: %s header", catalog.ErrInvalid, UserHeader))
		return
	}

	var body reviewBody
	if err := decodeJSON(w, r, &body); err != nil {
		respondError(w, r, err)
		return
	}
	in := catalog.ReviewInput{ProductID: productID, UserID: userID}
	if body.Rating != nil {
		in.Rating = *body.Rating
	}
	if body.Body != nil {
		in.Body = *body.Body
	}

	res, err := h.Writes.CreateReview(r.Context(), in)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, res)
}

// UpdateReview handles PATCH /v1/reviews/{id}.
func (h *WriteHandler) UpdateReview(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	var body reviewBody
	if err := decodeJSON(w, r, &body); err != nil {
		respondError(w, r, err)
		return
	}

	res, err := h.Writes.UpdateReview(r.Context(), id, catalog.ReviewPatch{Rating: body.Rating, Body: body.Body})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, res)
}

// DeleteReview handles DELETE /v1/reviews/{id}.
func (h *WriteHandler) DeleteReview(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	res, err := h.Writes.DeleteReview(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, res)
}

// UpdateProduct handles PATCH /v1/products/{id}.
func (h *WriteHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	var body struct {
		CategoryID  *int64  `json:"category_id"`
		Name        *string `json:"name"`
		Description *string `json:"description"`
		PriceCents  *int64  `json:"price_cents"`
		Featured    *bool   `json:"featured"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		respondError(w, r, err)
		return
	}

	p, err := h.Writes.UpdateProduct(r.Context(), id, catalog.ProductPatch{
		CategoryID:  body.CategoryID,
		Name:        body.Name,
		Description: body.Description,
		PriceCents:  body.PriceCents,
		Featured:    body.Featured,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, p)
}

// UpdateCategory handles PATCH /v1/categories/{id}.
func (h *WriteHandler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	var body struct {
		Name      *string `json:"name"`
		Slug      *string `json:"slug"`
		SortOrder *int    `json:"sort_order"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		respondError(w, r, err)
		return
	}

	c, err := h.Writes.UpdateCategory(r.Context(), id, catalog.CategoryPatch{
		Name:      body.Name,
		Slug:      body.Slug,
		SortOrder: body.SortOrder,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, c)
}

// UpdateBanner handles PATCH /v1/banners/{id}.
func (h *WriteHandler) UpdateBanner(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	var body struct {
		Title     *string `json:"title"`
		ImageURL  *string `json:"image_url"`
		LinkURL   *string `json:"link_url"`
		Active    *bool   `json:"active"`
		SortOrder *int    `json:"sort_order"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		respondError(w, r, err)
		return
	}

	b, err := h.Writes.UpdateBanner(r.Context(), id, catalog.BannerPatch{
		Title:     body.Title,
		ImageURL:  body.ImageURL,
		LinkURL:   body.LinkURL,
		Active:    body.Active,
		SortOrder: body.SortOrder,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, b)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: id", catalog.ErrInvalid)
	}
	return id, nil
}
