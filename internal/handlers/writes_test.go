package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"catalog-cache/internal/catalog"
)

type fakeWriter struct {
	review      catalog.ReviewInput
	reviewPatch catalog.ReviewPatch
	product     catalog.ProductPatch
	id          int64
	err         error
}

func (f *fakeWriter) CreateReview(_ context.Context, in catalog.ReviewInput) (catalog.ReviewResult, error) {
	f.review = in
	if f.err != nil {
		return catalog.ReviewResult{}, f.err
	}
	if err := in.Validate(); err != nil {
		return catalog.ReviewResult{}, err
	}
	return catalog.ReviewResult{Review: catalog.Review{ID: 1, ProductID: in.ProductID, UserID: in.UserID, Rating: in.Rating}}, nil
}

func (f *fakeWriter) UpdateReview(_ context.Context, id int64, p catalog.ReviewPatch) (catalog.ReviewResult, error) {
	f.id, f.reviewPatch = id, p
	return catalog.ReviewResult{Review: catalog.Review{ID: id}}, f.err
}

func (f *fakeWriter) DeleteReview(_ context.Context, id int64) (catalog.ReviewResult, error) {
	f.id = id
	return catalog.ReviewResult{Review: catalog.Review{ID: id}}, f.err
}

func (f *fakeWriter) UpdateProduct(_ context.Context, id int64, p catalog.ProductPatch) (catalog.Product, error) {
	f.id, f.product = id, p
	return catalog.Product{ID: id}, f.err
}

func (f *fakeWriter) UpdateCategory(_ context.Context, id int64, _ catalog.CategoryPatch) (catalog.Category, error) {
	f.id = id
	return catalog.Category{ID: id}, f.err
}

func (f *fakeWriter) UpdateBanner(_ context.Context, id int64, _ catalog.BannerPatch) (catalog.Banner, error) {
	f.id = id
	return catalog.Banner{ID: id}, f.err
}

func newWriteRouter(w CatalogWriter) *chi.Mux {
	h := NewWriteHandler(w)
	r := chi.NewRouter()
	r.Post("/v1/products/{id}/reviews", h.CreateReview)
	r.Patch("/v1/reviews/{id}", h.UpdateReview)
	r.Delete("/v1/reviews/{id}", h.DeleteReview)
	r.Patch("/v1/products/{id}", h.UpdateProduct)
	r.Patch("/v1/categories/{id}", h.UpdateCategory)
	r.Patch("/v1/banners/{id}", h.UpdateBanner)
	return r
}

func send(h http.Handler, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestCreateReviewHandler(t *testing.T) {
	fw := &fakeWriter{}
	rr := send(newWriteRouter(fw), http.MethodPost, "/v1/products/42/reviews",
		`{"rating":5,"body":"bright"}`, map[string]string{UserHeader: "9"})

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	want := catalog.ReviewInput{ProductID: 42, UserID: 9, Rating: 5, Body: "bright"}
	if fw.review != want {
		t.Fatalf("input = %+v, want %+v", fw.review, want)
	}
	if !strings.Contains(rr.Body.String(), `"success":true`) {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestCreateReviewHandlerRejects(t *testing.T) {
	cases := []struct {
		name   string
		target string
		body   string
		user   string
		want   int
	}{
		{"missing user", "/v1/products/42/reviews", `{"rating":5}`, "", http.StatusBadRequest},
		{"bad user", "/v1/products/42/reviews", `{"rating":5}`, "bob", http.StatusBadRequest},
		{"bad product id", "/v1/products/x/reviews", `{"rating":5}`, "9", http.StatusBadRequest},
		{"malformed json", "/v1/products/42/reviews", `{"rating":`, "9", http.StatusBadRequest},
		{"unknown field", "/v1/products/42/reviews", `{"rating":5,"stars":5}`, "9", http.StatusBadRequest},
		{"rating out of range", "/v1/products/42/reviews", `{"rating":6}`, "9", http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := send(newWriteRouter(&fakeWriter{}), http.MethodPost, tc.target, tc.body, map[string]string{UserHeader: tc.user})
			if rr.Code != tc.want {
				t.Fatalf("status = %d, want %d (body %s)", rr.Code, tc.want, rr.Body.String())
			}
			if !strings.Contains(rr.Body.String(), `"success":false`) {
				t.Fatalf("body = %s", rr.Body.String())
			}
		})
	}
}

func TestWriteHandlerErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{catalog.ErrNotFound, http.StatusNotFound},
		{catalog.ErrConflict, http.StatusConflict},
		{catalog.ErrInvalid, http.StatusBadRequest},
		{context.Canceled, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		rr := send(newWriteRouter(&fakeWriter{err: tc.err}), http.MethodDelete, "/v1/reviews/3", "", nil)
		if rr.Code != tc.want {
			t.Fatalf("%v: status = %d, want %d", tc.err, rr.Code, tc.want)
		}
	}
}

func TestUpdateHandlersPassPatches(t *testing.T) {
	fw := &fakeWriter{}
	r := newWriteRouter(fw)

	rr := send(r, http.MethodPatch, "/v1/reviews/3", `{"rating":2}`, nil)
	if rr.Code != http.StatusOK || fw.id != 3 || fw.reviewPatch.Rating == nil || *fw.reviewPatch.Rating != 2 || fw.reviewPatch.Body != nil {
		t.Fatalf("review patch: status %d id %d patch %+v", rr.Code, fw.id, fw.reviewPatch)
	}

	rr = send(r, http.MethodPatch, "/v1/products/42", `{"category_id":8,"featured":false}`, nil)
	if rr.Code != http.StatusOK || fw.id != 42 {
		t.Fatalf("product patch: status %d id %d", rr.Code, fw.id)
	}
	if fw.product.CategoryID == nil || *fw.product.CategoryID != 8 || fw.product.Featured == nil || *fw.product.Featured {
		t.Fatalf("product patch = %+v", fw.product)
	}

	for _, target := range []string{"/v1/categories/4", "/v1/banners/6"} {
		rr = send(r, http.MethodPatch, target, `{"sort_order":1}`, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", target, rr.Code)
		}
	}
}
