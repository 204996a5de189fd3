package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"catalog-cache/internal/metrics"
	"catalog-cache/pkg/logging/logging"
)

// Request is the transport-neutral description of a read.
type Request struct {
	Method string
	Route  string
	Params map[string]string
	Query  map[string]string
	Header map[string]string // canonical header names, first value
}

// RequestFromHTTP builds a Request from r, picking route params from chi.
func RequestFromHTTP(r *http.Request) Request {
	req := Request{
		Method: r.Method,
		Route:  r.URL.Path,
		Params: map[string]string{},
		Query:  map[string]string{},
		Header: make(map[string]string, len(r.Header)),
	}

	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			req.Route = p
		}
		for i, k := range rctx.URLParams.Keys {
			if k == "*" || i >= len(rctx.URLParams.Values) {
				continue
			}
			req.Params[k] = rctx.URLParams.Values[i]
		}
	}

	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			req.Query[k] = vs[0]
		}
	}
	for k, vs := range r.Header {
		if len(vs) > 0 {
			req.Header[http.CanonicalHeaderKey(k)] = vs[0]
		}
	}
	return req
}

// SkipFunc decides whether a request bypasses the cache entirely.
type SkipFunc func(Request) bool

// BypassHeader forces a cache bypass when set to a truthy value.
const BypassHeader = "X-Cache-Bypass"

// DefaultSkip bypasses non-GET requests, Cache-Control no-cache/no-store and
// requests carrying a truthy X-Cache-Bypass header.
func DefaultSkip(req Request) bool {
	if req.Method != "" && req.Method != http.MethodGet {
		return true
	}
	cc := strings.ToLower(req.Header["Cache-Control"])
	if strings.Contains(cc, "no-cache") || strings.Contains(cc, "no-store") {
		return true
	}
	if v := req.Header[BypassHeader]; v != "" {
		if b, err := strconv.ParseBool(v); err == nil && b {
			return true
		}
	}
	return false
}

// Response is what a domain handler produced.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Cacheable reports whether resp may be stored: a 2xx status and a JSON
// envelope carrying "success": true.
func Cacheable(resp Response) bool {
	if resp.Status < 200 || resp.Status > 299 || len(resp.Body) == 0 {
		return false
	}
	var env struct {
		Success *bool `json:"success"`
	}
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return false
	}
	return env.Success != nil && *env.Success
}

// Outcome is the interceptor's decision for one request.
type Outcome string

const (
	OutcomeHit    Outcome = "hit"
	OutcomeMiss   Outcome = "miss"
	OutcomeBypass Outcome = "bypass"
)

// Handler produces the uncached response.
type Handler func(ctx context.Context, req Request) Response

// Interceptor serves reads from the cache and captures successful misses.
type Interceptor struct {
	store  Store
	writer *Writer
}

func NewInterceptor(store Store, writer *Writer) *Interceptor {
	return &Interceptor{store: store, writer: writer}
}

// Handle runs one read through the cache. On a hit next is never called. On
// a cacheable miss the response is handed to the background writer and
// returned without waiting for the store.
func (i *Interceptor) Handle(ctx context.Context, fam *Family, req Request, next Handler) (Response, Outcome) {
	start := time.Now()
	logger := logging.L(ctx)

	skip := fam.Skip
	if skip == nil {
		skip = DefaultSkip
	}
	if skip(req) {
		metrics.CacheLookupsTotal.WithLabelValues(fam.Name, string(OutcomeBypass)).Inc()
		return next(ctx, req), OutcomeBypass
	}

	key, ok := fam.Key(req)
	if !ok {
		metrics.CacheLookupsTotal.WithLabelValues(fam.Name, string(OutcomeBypass)).Inc()
		logger.Debug("cache_key_unresolved", zap.String("family", fam.Name))
		return next(ctx, req), OutcomeBypass
	}

	if payload, hit := i.store.Get(ctx, key); hit {
		entry := Decode(payload)
		metrics.CacheLookupsTotal.WithLabelValues(fam.Name, string(OutcomeHit)).Inc()

		logger.Debug("cache_decision",
			zap.String("family", fam.Name),
			zap.String("key", key),
			zap.Bool("cache_hit", true),
			zap.Bool("legacy_entry", entry.Legacy),
			zap.Duration("total_latency", time.Since(start)),
		)
		return hitResponse(entry, time.Now()), OutcomeHit
	}

	lookupLatency := time.Since(start)
	resp := next(ctx, req)
	metrics.CacheLookupsTotal.WithLabelValues(fam.Name, string(OutcomeMiss)).Inc()

	queued := false
	if Cacheable(resp) {
		value, err := Encode(resp.Body, fam.TTL, KindOf(resp.Body))
		if err != nil {
			logger.Warn("cache_encode_error", zap.String("key", key), zap.Error(err))
		} else {
			queued = i.writer.Submit(key, value, fam.TTL)
		}
	}

	logger.Debug("cache_decision",
		zap.String("family", fam.Name),
		zap.String("key", key),
		zap.Bool("cache_hit", false),
		zap.Int("status", resp.Status),
		zap.Bool("queued", queued),
		zap.Duration("lookup_latency", lookupLatency),
		zap.Duration("total_latency", time.Since(start)),
	)
	return resp, OutcomeMiss
}

func hitResponse(entry Entry, now time.Time) Response {
	h := http.Header{}
	if entry.Kind == KindJSON {
		h.Set("Content-Type", "application/json")
	} else {
		h.Set("Content-Type", "application/octet-stream")
	}
	if age := entry.Age(now); age > 0 {
		h.Set("Age", strconv.FormatInt(int64(age/time.Second), 10))
	}
	return Response{Status: http.StatusOK, Header: h, Body: entry.Data}
}

// Middleware wraps a chi handler with the response cache for fam. The
// downstream response is buffered, written to the client, and only then
// considered for caching.
func (i *Interceptor) Middleware(fam *Family) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := RequestFromHTTP(r)

			resp, outcome := i.Handle(r.Context(), fam, req, func(ctx context.Context, _ Request) Response {
				rec := newBufferedWriter()
				next.ServeHTTP(rec, r.WithContext(ctx))
				return rec.response()
			})

			for k, vs := range resp.Header {
				for _, v := range vs {
					w.Header().Add(k, v)
				}
			}
			w.Header().Set("X-Cache", strings.ToUpper(string(outcome)))
			w.WriteHeader(resp.Status)
			if r.Method != http.MethodHead {
				_, _ = w.Write(resp.Body)
			}
		})
	}
}

// bufferedWriter captures a downstream response so it can be inspected
// before it reaches the client.
type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedWriter() *bufferedWriter {
	return &bufferedWriter{header: http.Header{}}
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(code int) {
	if b.status == 0 {
		b.status = code
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedWriter) response() Response {
	status := b.status
	if status == 0 {
		status = http.StatusOK
	}
	return Response{Status: status, Header: b.header, Body: b.body.Bytes()}
}
