package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// maxSegmentLen caps a rendered selector value; longer values are replaced
// by their SHA-256 so free-text search keys stay bounded.
const maxSegmentLen = 64

// Source says where a placeholder value is read from.
type Source int

const (
	FromParam Source = iota
	FromQuery
)

// Normalizer canonicalizes a raw request value. ok=false means the value is
// unusable and the binding default applies.
type Normalizer func(raw string) (value string, ok bool)

// Binding ties one template placeholder to a request value.
type Binding struct {
	Source    Source
	Name      string
	Default   string
	Required  bool
	Normalize Normalizer
}

// Param binds a required route parameter holding a positive integer id.
func Param(name string) Binding {
	return Binding{Source: FromParam, Name: name, Required: true, Normalize: IntRange(1, math.MaxInt64)}
}

// Query binds an optional query parameter with a default.
func Query(name, def string, norm Normalizer) Binding {
	return Binding{Source: FromQuery, Name: name, Default: def, Normalize: norm}
}

// IntRange accepts base-10 integers in [lo, hi] and renders them canonically.
func IntRange(lo, hi int64) Normalizer {
	return func(raw string) (string, bool) {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil || n < lo || n > hi {
			return "", false
		}
		return strconv.FormatInt(n, 10), true
	}
}

// Decimal accepts numbers in [lo, hi], rendered without trailing zeros.
func Decimal(lo, hi float64) Normalizer {
	return func(raw string) (string, bool) {
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || math.IsNaN(f) || f < lo || f > hi {
			return "", false
		}
		if f == 0 {
			f = 0 // -0 renders as "-0"
		}
		return strconv.FormatFloat(f, 'f', -1, 64), true
	}
}

// OneOf accepts a fixed, case-insensitive set of values.
func OneOf(values ...string) Normalizer {
	allowed := make(map[string]struct{}, len(values))
	for _, v := range values {
		allowed[v] = struct{}{}
	}
	return func(raw string) (string, bool) {
		v := strings.ToLower(strings.TrimSpace(raw))
		_, ok := allowed[v]
		return v, ok
	}
}

// Text lowercases, trims and collapses inner whitespace.
func Text() Normalizer {
	return func(raw string) (string, bool) {
		v := strings.Join(strings.Fields(strings.ToLower(raw)), " ")
		return v, v != ""
	}
}

// Values are the normalized placeholder values of one request.
type Values map[string]string

type segment struct {
	literal     string
	placeholder string
}

// Family is a named class of cache keys sharing a selector template, TTL and
// skip policy. Build families with NewRegistry so templates are validated.
type Family struct {
	Name     string
	Template string
	TTL      time.Duration
	Bindings map[string]Binding
	// Skip overrides DefaultSkip for this family when set.
	Skip SkipFunc

	segments []segment
}

func (f *Family) compile() error {
	if f.Name == "" {
		return fmt.Errorf("cache: family without name")
	}
	if f.Template == "" {
		return fmt.Errorf("cache: family %q: empty template", f.Name)
	}
	if f.TTL <= 0 {
		return fmt.Errorf("cache: family %q: ttl must be positive", f.Name)
	}

	var segs []segment
	used := make(map[string]bool, len(f.Bindings))
	rest := f.Template
	for rest != "" {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			segs = append(segs, segment{literal: rest})
			break
		}
		if open > 0 {
			segs = append(segs, segment{literal: rest[:open]})
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return fmt.Errorf("cache: family %q: unterminated placeholder", f.Name)
		}
		name := rest[open+1 : open+end]
		if _, ok := f.Bindings[name]; !ok {
			return fmt.Errorf("cache: family %q: placeholder {%s} has no binding", f.Name, name)
		}
		used[name] = true
		segs = append(segs, segment{placeholder: name})
		rest = rest[open+end+1:]
	}

	for name := range f.Bindings {
		if !used[name] {
			return fmt.Errorf("cache: family %q: binding %q not used by template", f.Name, name)
		}
	}

	f.segments = segs
	return nil
}

// Resolve reads and normalizes every bound value of req. ok=false means a
// required value is missing or invalid and the request must not be cached.
func (f *Family) Resolve(req Request) (Values, bool) {
	vals := make(Values, len(f.Bindings))
	for name, b := range f.Bindings {
		var raw string
		var present bool
		switch b.Source {
		case FromParam:
			raw, present = req.Params[b.Name]
		case FromQuery:
			raw, present = req.Query[b.Name]
		}

		v, ok := raw, present && raw != ""
		if ok && b.Normalize != nil {
			v, ok = b.Normalize(raw)
		}
		if !ok {
			if b.Required {
				return nil, false
			}
			v = b.Default
		}
		vals[name] = v
	}
	return vals, true
}

// Key renders the unprefixed key for req.
func (f *Family) Key(req Request) (string, bool) {
	vals, ok := f.Resolve(req)
	if !ok {
		return "", false
	}
	return f.render(vals), true
}

func (f *Family) render(vals Values) string {
	var sb strings.Builder
	for _, s := range f.segments {
		if s.placeholder == "" {
			sb.WriteString(s.literal)
			continue
		}
		sb.WriteString(Segment(vals[s.placeholder]))
	}
	return sb.String()
}

// Segment makes a value safe to embed between ':' separators: separators,
// glob metacharacters and '/' are percent-escaped, and long values are
// hashed. Escaping '/' keeps keys matchable by path-style globs as well as
// Redis MATCH.
func Segment(v string) string {
	if len(v) > maxSegmentLen {
		sum := sha256.Sum256([]byte(v))
		return "h." + hex.EncodeToString(sum[:])
	}
	if !strings.ContainsAny(v, ":*?[]\\%/ \t\n") {
		return v
	}
	var sb strings.Builder
	for i := 0; i < len(v); i++ {
		c := v[i]
		switch c {
		case ':', '*', '?', '[', ']', '\\', '%', '/', ' ', '\t', '\n':
			fmt.Fprintf(&sb, "%%%02X", c)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// Join builds an exact key from literal parts, escaping each one.
func Join(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = Segment(p)
	}
	return strings.Join(escaped, ":")
}

// Under builds a glob matching every key nested below parts.
func Under(parts ...string) string {
	if len(parts) == 0 {
		return "*"
	}
	return Join(parts...) + ":*"
}
