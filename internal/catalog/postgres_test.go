package catalog

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap/zaptest"
)

func TestOpenRequiresDSN(t *testing.T) {
	if _, err := Open(context.Background(), nil); !errors.Is(err, ErrMissingDSN) {
		t.Fatalf("err = %v, want ErrMissingDSN", err)
	}
}

type flakyPinger struct {
	errs  []error
	calls int
}

func (p *flakyPinger) PingContext(context.Context) error {
	p.calls++
	if len(p.errs) == 0 {
		return nil
	}
	err := p.errs[0]
	p.errs = p.errs[1:]
	return err
}

func TestPingWithRetryRecovers(t *testing.T) {
	p := &flakyPinger{errs: []error{
		&net.OpError{Op: "dial", Err: errors.New("connection refused")},
		&pq.Error{Code: "57P03", Message: "the database system is starting up"},
	}}
	cfg := Options{ConnectAttempts: 5, BaseBackoff: time.Millisecond}

	if err := pingWithRetry(context.Background(), p, cfg, zaptest.NewLogger(t)); err != nil {
		t.Fatalf("pingWithRetry: %v", err)
	}
	if p.calls != 3 {
		t.Fatalf("calls = %d, want 3", p.calls)
	}
}

func TestPingWithRetryStopsOnPermanentError(t *testing.T) {
	p := &flakyPinger{errs: []error{&pq.Error{Code: "28P01", Message: "password authentication failed"}}}
	cfg := Options{ConnectAttempts: 5, BaseBackoff: time.Millisecond}

	if err := pingWithRetry(context.Background(), p, cfg, zaptest.NewLogger(t)); err == nil {
		t.Fatalf("expected error")
	}
	if p.calls != 1 {
		t.Fatalf("calls = %d, want 1", p.calls)
	}
}

func TestPingWithRetryGivesUp(t *testing.T) {
	refused := errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")
	p := &flakyPinger{errs: []error{refused, refused, refused, refused}}
	cfg := Options{ConnectAttempts: 3, BaseBackoff: time.Millisecond}

	err := pingWithRetry(context.Background(), p, cfg, zaptest.NewLogger(t))
	if !errors.Is(err, refused) {
		t.Fatalf("err = %v, want wrapped refusal", err)
	}
	if p.calls != 3 {
		t.Fatalf("calls = %d, want 3", p.calls)
	}
}

func TestComputeBackoffBounds(t *testing.T) {
	base := 100 * time.Millisecond
	for attempt := 0; attempt < 20; attempt++ {
		ceiling := base << attempt
		if ceiling > 30*time.Second || ceiling <= 0 {
			ceiling = 30 * time.Second
		}
		for i := 0; i < 50; i++ {
			d := computeBackoff(base, attempt)
			if d < 0 || d > ceiling {
				t.Fatalf("attempt %d: backoff %s outside [0, %s]", attempt, d, ceiling)
			}
		}
	}
}
