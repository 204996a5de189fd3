package cache

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap/zaptest"

	"catalog-cache/internal/cache/cachetest"
)

func newTestInterceptor(t *testing.T, store Store) (*Interceptor, *Writer) {
	t.Helper()
	w := NewWriter(store, WriterOptions{QueueSize: 16, Workers: 1}, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = w.Close(context.Background()) })
	return NewInterceptor(store, w), w
}

// drain waits for queued background writes to land.
func drain(t *testing.T, w *Writer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Close(ctx); err != nil {
		t.Fatalf("writer drain: %v", err)
	}
}

func okHandler(calls *int32, body string) Handler {
	return func(ctx context.Context, req Request) Response {
		atomic.AddInt32(calls, 1)
		return Response{Status: http.StatusOK, Header: http.Header{"Content-Type": {"application/json"}}, Body: []byte(body)}
	}
}

func TestInterceptorMissThenHit(t *testing.T) {
	store := cachetest.NewMemoryStore()
	ic, w := newTestInterceptor(t, store)
	fam := testRegistry(t).Must(FamilyProduct)
	req := Request{Method: http.MethodGet, Params: map[string]string{"id": "42"}}

	var calls int32
	body := `{"success":true,"data":{"id":42,"name":"Lamp"}}`

	resp, outcome := ic.Handle(context.Background(), fam, req, okHandler(&calls, body))
	if outcome != OutcomeMiss || string(resp.Body) != body {
		t.Fatalf("first call: outcome=%s body=%s", outcome, resp.Body)
	}
	drain(t, w)

	if !store.Has("product:42") {
		t.Fatalf("expected product:42 to be stored, keys=%v", store.Keys())
	}

	// Fresh writer: the previous one is closed.
	ic, _ = newTestInterceptor(t, store)
	resp, outcome = ic.Handle(context.Background(), fam, req, okHandler(&calls, `{"success":true,"data":"fresh"}`))
	if outcome != OutcomeHit {
		t.Fatalf("second call outcome = %s, want hit", outcome)
	}
	if string(resp.Body) != body {
		t.Fatalf("hit body = %s, want %s", resp.Body, body)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("handler called %d times, want 1", got)
	}
}

func TestInterceptorNeverCachesFailures(t *testing.T) {
	fam := testRegistry(t).Must(FamilyProduct)
	req := Request{Method: http.MethodGet, Params: map[string]string{"id": "1"}}

	cases := map[string]Response{
		"404":             {Status: http.StatusNotFound, Body: []byte(`{"success":false,"error":"not found"}`)},
		"500":             {Status: http.StatusInternalServerError, Body: []byte(`{"success":true}`)},
		"success false":   {Status: http.StatusOK, Body: []byte(`{"success":false}`)},
		"no marker":       {Status: http.StatusOK, Body: []byte(`{"data":1}`)},
		"not json":        {Status: http.StatusOK, Body: []byte(`ok`)},
		"empty":           {Status: http.StatusOK},
		"success as text": {Status: http.StatusOK, Body: []byte(`{"success":"true"}`)},
	}

	for name, resp := range cases {
		t.Run(name, func(t *testing.T) {
			store := cachetest.NewMemoryStore()
			ic, w := newTestInterceptor(t, store)
			ic.Handle(context.Background(), fam, req, func(context.Context, Request) Response { return resp })
			drain(t, w)
			if store.Len() != 0 {
				t.Fatalf("response must not be cached, keys=%v", store.Keys())
			}
		})
	}
}

func TestInterceptorSkipBypassesCache(t *testing.T) {
	fam := testRegistry(t).Must(FamilyProduct)

	cases := map[string]Request{
		"post":          {Method: http.MethodPost, Params: map[string]string{"id": "1"}},
		"no-cache":      {Method: http.MethodGet, Params: map[string]string{"id": "1"}, Header: map[string]string{"Cache-Control": "no-cache"}},
		"no-store":      {Method: http.MethodGet, Params: map[string]string{"id": "1"}, Header: map[string]string{"Cache-Control": "private, no-store"}},
		"bypass header": {Method: http.MethodGet, Params: map[string]string{"id": "1"}, Header: map[string]string{BypassHeader: "1"}},
		"bad id":        {Method: http.MethodGet, Params: map[string]string{"id": "x"}},
	}

	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			store := cachetest.NewMemoryStore()
			store.Put("product:1", []byte(`{"success":true,"data":"stale"}`), time.Minute)
			ic, w := newTestInterceptor(t, store)

			var calls int32
			resp, outcome := ic.Handle(context.Background(), fam, req, okHandler(&calls, `{"success":true,"data":"live"}`))
			drain(t, w)

			if outcome != OutcomeBypass {
				t.Fatalf("outcome = %s, want bypass", outcome)
			}
			if string(resp.Body) != `{"success":true,"data":"live"}` || calls != 1 {
				t.Fatalf("bypass must call the handler: body=%s calls=%d", resp.Body, calls)
			}
			if n := len(store.Calls()); n != 0 {
				t.Fatalf("bypass must not touch the store, got %v", store.Calls())
			}
		})
	}
}

func TestInterceptorCustomSkip(t *testing.T) {
	fam := *testRegistry(t).Must(FamilyBanners)
	fam.Skip = func(req Request) bool { return req.Query["preview"] == "1" }

	store := cachetest.NewMemoryStore()
	ic, w := newTestInterceptor(t, store)

	var calls int32
	_, outcome := ic.Handle(context.Background(), &fam, Request{Method: http.MethodGet, Query: map[string]string{"preview": "1"}}, okHandler(&calls, `{"success":true}`))
	drain(t, w)
	if outcome != OutcomeBypass || store.Len() != 0 {
		t.Fatalf("custom skip ignored: outcome=%s keys=%v", outcome, store.Keys())
	}
}

func TestInterceptorDegradedStore(t *testing.T) {
	store := cachetest.NewMemoryStore()
	store.SetDown(true)
	ic, w := newTestInterceptor(t, store)
	fam := testRegistry(t).Must(FamilyProduct)
	req := Request{Method: http.MethodGet, Params: map[string]string{"id": "5"}}

	var calls int32
	for i := 0; i < 3; i++ {
		resp, outcome := ic.Handle(context.Background(), fam, req, okHandler(&calls, `{"success":true,"data":5}`))
		if outcome != OutcomeMiss || resp.Status != http.StatusOK || string(resp.Body) != `{"success":true,"data":5}` {
			t.Fatalf("degraded store must still serve the live response: %s %d %s", outcome, resp.Status, resp.Body)
		}
	}
	drain(t, w)
	if calls != 3 {
		t.Fatalf("handler calls = %d, want 3", calls)
	}
}

func TestInterceptorLegacyEntryServedRaw(t *testing.T) {
	store := cachetest.NewMemoryStore()
	legacy := `{"success":true,"data":{"id":3}}`
	store.Put("product:3", []byte(legacy), time.Minute)

	ic, _ := newTestInterceptor(t, store)
	var calls int32
	resp, outcome := ic.Handle(context.Background(), testRegistry(t).Must(FamilyProduct),
		Request{Method: http.MethodGet, Params: map[string]string{"id": "3"}}, okHandler(&calls, "{}"))

	if outcome != OutcomeHit || string(resp.Body) != legacy || calls != 0 {
		t.Fatalf("legacy entry: outcome=%s body=%s calls=%d", outcome, resp.Body, calls)
	}
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("content type = %q", resp.Header.Get("Content-Type"))
	}
}

// slowStore blocks every Set until release is closed.
type slowStore struct {
	*cachetest.MemoryStore
	release chan struct{}
}

func (s *slowStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	select {
	case <-s.release:
	case <-ctx.Done():
		return false
	}
	return s.MemoryStore.Set(ctx, key, value, ttl)
}

func TestInterceptorSlowStoreDoesNotDelayResponse(t *testing.T) {
	store := &slowStore{MemoryStore: cachetest.NewMemoryStore(), release: make(chan struct{})}
	w := NewWriter(store, WriterOptions{QueueSize: 4, Workers: 1, Timeout: 5 * time.Second}, zaptest.NewLogger(t))
	ic := NewInterceptor(store, w)
	fam := testRegistry(t).Must(FamilyProduct)

	var calls int32
	done := make(chan struct{})
	go func() {
		ic.Handle(context.Background(), fam, Request{Method: http.MethodGet, Params: map[string]string{"id": "8"}}, okHandler(&calls, `{"success":true}`))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("response waited for the cache write")
	}

	close(store.release)
	drain(t, w)
	if !store.Has("product:8") {
		t.Fatalf("write should complete during drain")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMiddlewareWithChi(t *testing.T) {
	store := cachetest.NewMemoryStore()
	ic, _ := newTestInterceptor(t, store)
	fam := testRegistry(t).Must(FamilyProduct)

	var calls int32
	r := chi.NewRouter()
	r.With(ic.Middleware(fam)).Get("/v1/products/{id}", func(rw http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&calls, 1)
		rw.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(rw, `{"success":true,"data":{"id":"`+chi.URLParam(req, "id")+`"}}`)
	})

	get := func(method string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(method, "/v1/products/42?utm=x", nil))
		return rec
	}

	first := get(http.MethodGet)
	if first.Header().Get("X-Cache") != "MISS" || first.Code != http.StatusOK {
		t.Fatalf("first: X-Cache=%q code=%d", first.Header().Get("X-Cache"), first.Code)
	}
	waitFor(t, func() bool { return store.Has("product:42") })

	second := get(http.MethodGet)
	if second.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("second X-Cache = %q", second.Header().Get("X-Cache"))
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("hit body %q differs from original %q", second.Body.String(), first.Body.String())
	}
	if second.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("hit content type = %q", second.Header().Get("Content-Type"))
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("handler calls = %d, want 1", got)
	}

	// Writes are never served from the cache.
	post := get(http.MethodPost)
	if post.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST code = %d, want 405", post.Code)
	}
}

func TestInterceptorHitReplaysBodyVerbatim(t *testing.T) {
	store := cachetest.NewMemoryStore()
	ic, w := newTestInterceptor(t, store)
	fam := testRegistry(t).Must(FamilyProduct)
	req := Request{Method: http.MethodGet, Params: map[string]string{"id": "42"}}

	var calls int32
	body := "{\"success\":true,\n \"data\":{\"id\":42}}\n"

	miss, _ := ic.Handle(context.Background(), fam, req, okHandler(&calls, body))
	drain(t, w)

	ic, _ = newTestInterceptor(t, store)
	hit, outcome := ic.Handle(context.Background(), fam, req, okHandler(&calls, body))
	if outcome != OutcomeHit {
		t.Fatalf("outcome = %s, want hit", outcome)
	}
	if string(hit.Body) != string(miss.Body) || string(hit.Body) != body {
		t.Fatalf("hit body %q differs from miss body %q", hit.Body, miss.Body)
	}
}
