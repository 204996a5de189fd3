package cache

import (
	"context"
	"time"
)

// Store is the best-effort key-value contract the interceptor and the
// invalidation coordinator depend on. Implementations never return errors:
// failures are logged and reported as a miss, false or zero.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool
	Delete(ctx context.Context, key string) bool
	// DeleteMatching removes every key matching a glob pattern and returns
	// how many were deleted. The count is informational.
	DeleteMatching(ctx context.Context, pattern string) int
}

// Stateful is implemented by stores that can report their connection state.
type Stateful interface {
	State() State
}

// StateOf returns the state of s, treating stores without one as Connected.
func StateOf(s Store) State {
	if st, ok := s.(Stateful); ok {
		return st.State()
	}
	return Connected
}

// State is the connection state of a Client.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}
