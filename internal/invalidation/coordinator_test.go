package invalidation

import (
	"context"
	"path"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"catalog-cache/internal/cache"
	"catalog-cache/internal/cache/cachetest"
)

func keysOf(targets []Target) []string {
	out := make([]string, len(targets))
	for i, t := range targets {
		out[i] = t.Key
	}
	sort.Strings(out)
	return out
}

func TestPlanPolicyTable(t *testing.T) {
	p := Policy{}

	cases := map[string]struct {
		event Event
		want  []string
	}{
		"product": {
			ProductWritten{ID: 42, CategoryID: 7},
			[]string{"category:7:*", "product:42", "products:featured:*", "search:*"},
		},
		"category": {
			CategoryWritten{ID: 7},
			[]string{"categories:all", "category:7:*"},
		},
		"banner": {
			BannerWritten{},
			[]string{"banners:active"},
		},
		"user": {
			UserStateChanged{UserID: 9},
			[]string{"dashboard:user:9", "profile:user:9", "stats:user:9"},
		},
		"review full star": {
			ReviewWritten{ProductID: 42, CategoryID: 7, RatingDelta: 1, CountBefore: 2, CountAfter: 3},
			[]string{"category:7:*", "product:42", "products:featured:*", "search:*"},
		},
		"review negative full star": {
			ReviewWritten{ProductID: 42, CategoryID: 7, RatingDelta: -1.5, CountBefore: 3, CountAfter: 2},
			[]string{"category:7:*", "product:42", "products:featured:*", "search:*"},
		},
		"review sub threshold": {
			ReviewWritten{ProductID: 42, CategoryID: 7, RatingDelta: 0.1, CountBefore: 4, CountAfter: 5},
			[]string{"product:42"},
		},
		"first review": {
			ReviewWritten{ProductID: 42, CategoryID: 7, RatingDelta: 0, CountBefore: 0, CountAfter: 1},
			[]string{"category:7:*", "product:42", "products:featured:*", "search:*"},
		},
		"last review removed": {
			ReviewWritten{ProductID: 42, CategoryID: 7, RatingDelta: 0.2, CountBefore: 1, CountAfter: 0},
			[]string{"category:7:*", "product:42", "products:featured:*", "search:*"},
		},
		"review with author": {
			ReviewWritten{ProductID: 42, CategoryID: 7, RatingDelta: 0.1, CountBefore: 4, CountAfter: 4, UserID: 3},
			[]string{"dashboard:user:3", "product:42", "profile:user:3", "stats:user:3"},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := keysOf(p.Plan(tc.event))
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Plan(%T) = %v, want %v", tc.event, got, tc.want)
			}
		})
	}
}

func TestPlanCascadeAlways(t *testing.T) {
	p := Policy{Review: CascadeAlways}
	got := keysOf(p.Plan(ReviewWritten{ProductID: 42, CategoryID: 7, RatingDelta: 0, CountBefore: 4, CountAfter: 4}))
	want := []string{"category:7:*", "product:42", "products:featured:*", "search:*"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Plan = %v, want %v", got, want)
	}
}

func TestPlanDeduplicates(t *testing.T) {
	targets := Policy{}.Plan(
		ProductWritten{ID: 1, CategoryID: 7},
		ProductWritten{ID: 2, CategoryID: 7},
		CategoryWritten{ID: 7},
	)
	seen := map[string]bool{}
	for _, tg := range targets {
		if seen[tg.Key] {
			t.Fatalf("duplicate target %q in %v", tg.Key, targets)
		}
		seen[tg.Key] = true
	}
	if len(targets) != 6 {
		t.Fatalf("targets = %v, want 6 distinct", keysOf(targets))
	}
}

func TestParseReviewCascade(t *testing.T) {
	if c, ok := ParseReviewCascade("always"); !ok || c != CascadeAlways {
		t.Fatalf("always: %v %v", c, ok)
	}
	if c, ok := ParseReviewCascade(""); !ok || c != CascadeSignificant {
		t.Fatalf("empty: %v %v", c, ok)
	}
	if _, ok := ParseReviewCascade("sometimes"); ok {
		t.Fatalf("unknown value accepted")
	}
}

// Every key a family can produce must be reachable by the targets of the
// events that stale it.
func TestPatternsCoverFamilyKeys(t *testing.T) {
	reg, err := cache.NewRegistry(cache.DefaultFamilies(nil)...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	covered := func(key string, targets []Target) bool {
		for _, tg := range targets {
			if !tg.Pattern && tg.Key == key {
				return true
			}
			if ok, _ := path.Match(tg.Key, key); tg.Pattern && ok {
				return true
			}
		}
		return false
	}

	product := Policy{}.Plan(ProductWritten{ID: 42, CategoryID: 7})
	category := Policy{}.Plan(CategoryWritten{ID: 7})
	user := Policy{}.Plan(UserStateChanged{UserID: 9})

	cases := []struct {
		family  string
		req     cache.Request
		targets []Target
	}{
		{cache.FamilyProduct, cache.Request{Params: map[string]string{"id": "42"}}, product},
		{cache.FamilyCategoryProducts, cache.Request{Params: map[string]string{"id": "7"}, Query: map[string]string{"page": "4", "sort": "rating"}}, product},
		{cache.FamilyCategoryProducts, cache.Request{Params: map[string]string{"id": "7"}}, category},
		{cache.FamilyFeatured, cache.Request{Query: map[string]string{"limit": "12"}}, product},
		{cache.FamilySearch, cache.Request{Query: map[string]string{"q": "lamp:desk*"}}, product},
		{cache.FamilyCategories, cache.Request{}, category},
		{cache.FamilyUserStats, cache.Request{Params: map[string]string{"id": "9"}}, user},
		{cache.FamilyUserProfile, cache.Request{Params: map[string]string{"id": "9"}}, user},
		{cache.FamilyUserDashboard, cache.Request{Params: map[string]string{"id": "9"}}, user},
	}
	for _, tc := range cases {
		key, ok := reg.Must(tc.family).Key(tc.req)
		if !ok {
			t.Fatalf("%s: no key", tc.family)
		}
		if !covered(key, tc.targets) {
			t.Fatalf("%s key %q not covered by %v", tc.family, key, keysOf(tc.targets))
		}
	}

	// A neighbouring category must survive.
	other, _ := reg.Must(cache.FamilyCategoryProducts).Key(cache.Request{Params: map[string]string{"id": "70"}})
	if covered(other, product) {
		t.Fatalf("category 70 key %q swept by category 7 targets", other)
	}
}

func seed(store *cachetest.MemoryStore) {
	for _, k := range []string{
		"product:42", "product:43",
		"category:7:page:1:limit:20:sort:newest", "category:7:page:2:limit:20:sort:newest",
		"category:8:page:1:limit:20:sort:newest",
		"products:featured:limit:8",
		"search:laptop:all:relevance:1:0", "search:lamp:7:rating:1:4",
		"banners:active", "categories:all",
	} {
		store.Put(k, []byte("v"), time.Hour)
	}
}

func TestInvalidateReviewCascade(t *testing.T) {
	store := cachetest.NewMemoryStore()
	seed(store)
	c := New(store, Options{}, zaptest.NewLogger(t))

	rep := c.Invalidate(context.Background(), ReviewWritten{ProductID: 42, CategoryID: 7, RatingDelta: 1, CountBefore: 1, CountAfter: 2})

	want := []string{"banners:active", "categories:all", "category:8:page:1:limit:20:sort:newest", "product:43"}
	if got := store.Keys(); !reflect.DeepEqual(got, want) {
		t.Fatalf("remaining keys = %v, want %v", got, want)
	}
	if rep.Targets != 4 || rep.Failed != 0 {
		t.Fatalf("report = %+v", rep)
	}
	// 1 exact + 2 category + 1 featured + 2 search
	if rep.Deleted != 6 {
		t.Fatalf("deleted = %d, want 6", rep.Deleted)
	}

	deletes := store.CallsOf("delete")
	patterns := store.CallsOf("delete_matching")
	sort.Strings(patterns)
	if !reflect.DeepEqual(deletes, []string{"product:42"}) {
		t.Fatalf("exact deletes = %v", deletes)
	}
	if !reflect.DeepEqual(patterns, []string{"category:7:*", "products:featured:*", "search:*"}) {
		t.Fatalf("pattern deletes = %v", patterns)
	}
}

func TestInvalidateSubThresholdReview(t *testing.T) {
	store := cachetest.NewMemoryStore()
	seed(store)
	c := New(store, Options{}, zaptest.NewLogger(t))

	c.Invalidate(context.Background(), ReviewWritten{ProductID: 42, CategoryID: 7, RatingDelta: 0.1, CountBefore: 3, CountAfter: 4})

	if store.Has("product:42") {
		t.Fatalf("product:42 must be invalidated")
	}
	for _, k := range []string{"category:7:page:1:limit:20:sort:newest", "products:featured:limit:8", "search:laptop:all:relevance:1:0"} {
		if !store.Has(k) {
			t.Fatalf("%s must survive a sub-threshold review", k)
		}
	}
	if n := len(store.CallsOf("delete_matching")); n != 0 {
		t.Fatalf("no pattern sweeps expected, got %d", n)
	}
}

func TestInvalidateConcurrentTwiceIsIdempotent(t *testing.T) {
	once := cachetest.NewMemoryStore()
	seed(once)
	New(once, Options{}, zaptest.NewLogger(t)).Invalidate(context.Background(), ProductWritten{ID: 42, CategoryID: 7})

	twice := cachetest.NewMemoryStore()
	seed(twice)
	c := New(twice, Options{Concurrency: 2}, zaptest.NewLogger(t))

	var wg sync.WaitGroup
	reports := make([]Report, 2)
	for i := range reports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reports[i] = c.Invalidate(context.Background(), ProductWritten{ID: 42, CategoryID: 7})
		}(i)
	}
	wg.Wait()

	if !reflect.DeepEqual(once.Keys(), twice.Keys()) {
		t.Fatalf("end state differs: once=%v twice=%v", once.Keys(), twice.Keys())
	}
	for _, r := range reports {
		if r.Failed != 0 {
			t.Fatalf("unexpected failure in %+v", r)
		}
	}
}

// downStore reports Disconnected and fails every call.
type downStore struct{ *cachetest.MemoryStore }

func (downStore) State() cache.State { return cache.Disconnected }

func TestInvalidateSwallowsFailures(t *testing.T) {
	mem := cachetest.NewMemoryStore()
	mem.SetDown(true)
	c := New(downStore{mem}, Options{}, zaptest.NewLogger(t))

	rep := c.Invalidate(context.Background(),
		ProductWritten{ID: 1, CategoryID: 2},
		BannerWritten{},
	)
	if rep.Targets != 5 || rep.Failed != 5 || rep.Deleted != 0 {
		t.Fatalf("report = %+v, want 5 targets all failed", rep)
	}
}

func TestInvalidateNoEvents(t *testing.T) {
	store := cachetest.NewMemoryStore()
	c := New(store, Options{}, zaptest.NewLogger(t))
	if rep := c.Invalidate(context.Background()); rep != (Report{}) {
		t.Fatalf("report = %+v", rep)
	}
	if len(store.Calls()) != 0 {
		t.Fatalf("store touched without events")
	}
}

func TestInvalidateIgnoresCallerCancellation(t *testing.T) {
	store := cachetest.NewMemoryStore()
	seed(store)
	c := New(store, Options{}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.Invalidate(ctx, BannerWritten{})

	if store.Has("banners:active") {
		t.Fatalf("invalidation must run even when the request context is gone")
	}
}
