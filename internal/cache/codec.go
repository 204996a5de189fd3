package cache

import (
	"bytes"
	"encoding/json"
	"time"
)

// envelopeVersion is bumped whenever the envelope layout changes. Version 1
// entries are still read; any other version decodes as a legacy raw value.
const (
	envelopeVersion   = 2
	envelopeVersionV1 = 1
)

// Kind records what the cached body is, so a hit can restore its
// Content-Type.
type Kind string

const (
	KindJSON  Kind = "json"
	KindBytes Kind = "bytes"
)

// envelope carries the body as opaque bytes in raw so a hit replays it byte
// for byte. Data only appears in version 1 entries.
type envelope struct {
	Version    int             `json:"v"`
	Kind       Kind            `json:"kind"`
	CachedAt   time.Time       `json:"cached_at"`
	TTLSeconds int64           `json:"ttl"`
	Data       json.RawMessage `json:"data,omitempty"`
	Raw        []byte          `json:"raw"`
}

// Entry is a decoded cache value.
type Entry struct {
	Data     []byte
	Kind     Kind
	CachedAt time.Time
	TTL      time.Duration
	// Legacy is set when the payload was not a current envelope and Data is
	// the payload itself.
	Legacy bool
}

// Age is how long ago the entry was written, zero for legacy entries.
func (e Entry) Age(now time.Time) time.Duration {
	if e.Legacy || e.CachedAt.IsZero() {
		return 0
	}
	return now.Sub(e.CachedAt)
}

// KindOf picks KindJSON for valid JSON documents and KindBytes otherwise.
func KindOf(data []byte) Kind {
	if len(bytes.TrimSpace(data)) > 0 && json.Valid(data) {
		return KindJSON
	}
	return KindBytes
}

// Encode wraps data with its write time, declared ttl and kind.
func Encode(data []byte, ttl time.Duration, kind Kind) ([]byte, error) {
	if kind != KindJSON {
		kind = KindBytes
	}
	return json.Marshal(envelope{
		Version:    envelopeVersion,
		Kind:       kind,
		CachedAt:   time.Now().UTC(),
		TTLSeconds: int64(ttl / time.Second),
		Raw:        data,
	})
}

// Decode unwraps an envelope. Anything that is not a current or version 1
// envelope (older layout, foreign writer, corrupted bytes) is returned as the data
// itself rather than failing the read.
func Decode(payload []byte) Entry {
	legacy := Entry{Data: payload, Kind: KindOf(payload), Legacy: true}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return legacy
	}
	if env.Kind != KindJSON && env.Kind != KindBytes {
		return legacy
	}

	entry := Entry{
		Kind:     env.Kind,
		CachedAt: env.CachedAt,
		TTL:      time.Duration(env.TTLSeconds) * time.Second,
	}
	switch {
	case env.Version == envelopeVersion && env.Raw != nil:
		entry.Data = env.Raw
	case env.Version == envelopeVersionV1 && env.Kind == KindJSON && len(env.Data) > 0:
		entry.Data = []byte(env.Data)
	case env.Version == envelopeVersionV1 && env.Kind == KindBytes && env.Raw != nil:
		entry.Data = env.Raw
	default:
		return legacy
	}
	return entry
}
