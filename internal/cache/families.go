package cache

import (
	"fmt"
	"sort"
	"time"
)

// Key family names.
const (
	FamilyBanners          = "banners"
	FamilyCategories       = "categories"
	FamilyProduct          = "product"
	FamilyCategoryProducts = "category_products"
	FamilyFeatured         = "featured"
	FamilySearch           = "search"
	FamilyUserProfile      = "user_profile"
	FamilyUserDashboard    = "user_dashboard"
	FamilyUserStats        = "user_stats"
)

// Paging defaults shared by the listing families.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	MaxPage         = 10000

	DefaultFeaturedLimit = 8
	MaxFeaturedLimit     = 50
)

// Sort orders accepted by listing and search families. The first entry of
// each list is the default.
var (
	ListingSorts = []string{"newest", "price_asc", "price_desc", "rating"}
	SearchSorts  = []string{"relevance", "newest", "price_asc", "price_desc", "rating"}
)

// DefaultTTLs are the reference TTLs per family.
var DefaultTTLs = map[string]time.Duration{
	FamilyBanners:          15 * time.Minute,
	FamilyCategories:       30 * time.Minute,
	FamilyProduct:          10 * time.Minute,
	FamilyCategoryProducts: 4 * time.Minute,
	FamilyFeatured:         5 * time.Minute,
	FamilySearch:           4 * time.Minute,
	FamilyUserProfile:      10 * time.Minute,
	FamilyUserDashboard:    5 * time.Minute,
	FamilyUserStats:        5 * time.Minute,
}

// DefaultFamilies returns the catalog key families. overrides replaces the
// TTL of the named families.
func DefaultFamilies(overrides map[string]time.Duration) []Family {
	ttl := func(name string) time.Duration {
		if d, ok := overrides[name]; ok && d > 0 {
			return d
		}
		return DefaultTTLs[name]
	}

	page := Query("page", "1", IntRange(1, MaxPage))
	limit := Query("limit", fmt.Sprint(DefaultPageSize), IntRange(1, MaxPageSize))

	return []Family{
		{Name: FamilyBanners, Template: "banners:active", TTL: ttl(FamilyBanners)},
		{Name: FamilyCategories, Template: "categories:all", TTL: ttl(FamilyCategories)},
		{
			Name:     FamilyProduct,
			Template: "product:{id}",
			TTL:      ttl(FamilyProduct),
			Bindings: map[string]Binding{"id": Param("id")},
		},
		{
			Name:     FamilyCategoryProducts,
			Template: "category:{id}:page:{page}:limit:{limit}:sort:{sort}",
			TTL:      ttl(FamilyCategoryProducts),
			Bindings: map[string]Binding{
				"id":    Param("id"),
				"page":  page,
				"limit": limit,
				"sort":  Query("sort", ListingSorts[0], OneOf(ListingSorts...)),
			},
		},
		{
			Name:     FamilyFeatured,
			Template: "products:featured:limit:{limit}",
			TTL:      ttl(FamilyFeatured),
			Bindings: map[string]Binding{
				"limit": Query("limit", fmt.Sprint(DefaultFeaturedLimit), IntRange(1, MaxFeaturedLimit)),
			},
		},
		{
			Name:     FamilySearch,
			Template: "search:{q}:{category}:{sort}:{page}:{minRating}",
			TTL:      ttl(FamilySearch),
			Bindings: map[string]Binding{
				"q":         Query("q", "", Text()),
				"category":  Query("category", "all", IntRange(1, 1<<62)),
				"sort":      Query("sort", SearchSorts[0], OneOf(SearchSorts...)),
				"page":      page,
				"minRating": Query("min_rating", "0", Decimal(0, 5)),
			},
		},
		{
			Name:     FamilyUserProfile,
			Template: "profile:user:{id}",
			TTL:      ttl(FamilyUserProfile),
			Bindings: map[string]Binding{"id": Param("id")},
		},
		{
			Name:     FamilyUserDashboard,
			Template: "dashboard:user:{id}",
			TTL:      ttl(FamilyUserDashboard),
			Bindings: map[string]Binding{"id": Param("id")},
		},
		{
			Name:     FamilyUserStats,
			Template: "stats:user:{id}",
			TTL:      ttl(FamilyUserStats),
			Bindings: map[string]Binding{"id": Param("id")},
		},
	}
}

// Registry is the static, validated set of key families.
type Registry struct {
	families map[string]*Family
}

// NewRegistry validates and indexes families by name.
func NewRegistry(families ...Family) (*Registry, error) {
	r := &Registry{families: make(map[string]*Family, len(families))}
	for i := range families {
		f := families[i]
		if err := f.compile(); err != nil {
			return nil, err
		}
		if _, dup := r.families[f.Name]; dup {
			return nil, fmt.Errorf("cache: duplicate family %q", f.Name)
		}
		r.families[f.Name] = &f
	}
	return r, nil
}

// MustRegistry is like NewRegistry but panics on an invalid family.
func MustRegistry(families ...Family) *Registry {
	r, err := NewRegistry(families...)
	if err != nil {
		panic(err)
	}
	return r
}

// Family returns the named family.
func (r *Registry) Family(name string) (*Family, bool) {
	f, ok := r.families[name]
	return f, ok
}

// Must returns the named family or panics; for wiring routes at startup.
func (r *Registry) Must(name string) *Family {
	f, ok := r.families[name]
	if !ok {
		panic(fmt.Sprintf("cache: unknown family %q", name))
	}
	return f
}

// Names lists registered families in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.families))
	for n := range r.families {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
