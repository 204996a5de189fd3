package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"catalog-cache/internal/cache"
	"catalog-cache/internal/handlers"
	"catalog-cache/internal/metrics"
	"catalog-cache/internal/middleware"
)

// Deps are the wired components the router mounts.
type Deps struct {
	Logger         *zap.Logger
	Store          cache.Store
	Families       *cache.Registry
	Interceptor    *cache.Interceptor
	Reads          *handlers.CatalogHandler
	Writes         *handlers.WriteHandler
	RequestTimeout time.Duration
}

// SetupRouter mounts the API on r. Every read route sits behind the response
// cache for its key family; write routes never do.
func SetupRouter(r *chi.Mux, d Deps) {
	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(d.Logger))
	r.Use(middleware.Recoverer())
	if d.RequestTimeout > 0 {
		r.Use(middleware.Timeout(d.RequestTimeout))
	}

	cached := func(family string) func(http.Handler) http.Handler {
		return d.Interceptor.Middleware(d.Families.Must(family))
	}

	r.Route("/v1", func(r chi.Router) {
		r.With(cached(cache.FamilyBanners)).Get("/banners", d.Reads.Banners)
		r.With(cached(cache.FamilyCategories)).Get("/categories", d.Reads.Categories)
		r.With(cached(cache.FamilyCategoryProducts)).Get("/categories/{id}/products", d.Reads.CategoryProducts)
		r.With(cached(cache.FamilyFeatured)).Get("/products/featured", d.Reads.Featured)
		r.With(cached(cache.FamilyProduct)).Get("/products/{id}", d.Reads.Product)
		r.With(cached(cache.FamilySearch)).Get("/search", d.Reads.Search)
		r.With(cached(cache.FamilyUserProfile)).Get("/users/{id}/profile", d.Reads.UserProfile)
		r.With(cached(cache.FamilyUserDashboard)).Get("/users/{id}/dashboard", d.Reads.UserDashboard)
		r.With(cached(cache.FamilyUserStats)).Get("/users/{id}/stats", d.Reads.UserStats)

		r.Post("/products/{id}/reviews", d.Writes.CreateReview)
		r.Patch("/reviews/{id}", d.Writes.UpdateReview)
		r.Delete("/reviews/{id}", d.Writes.DeleteReview)
		r.Patch("/products/{id}", d.Writes.UpdateProduct)
		r.Patch("/categories/{id}", d.Writes.UpdateCategory)
		r.Patch("/banners/{id}", d.Writes.UpdateBanner)
	})

	// health check
	r.Get("/healthz", handlers.Health(d.Store))

	r.Handle("/metrics", metrics.Handler())
}
