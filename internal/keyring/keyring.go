// Package keyring rotates signed requests between several API keys.
package keyring

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"restkit/pkg/core"
)

type RotationStrategy int

const (
	// RotationRoundRobin hands out the next enabled key on every call.
	RotationRoundRobin RotationStrategy = iota
	// RotationOnError moves to the next key after any failed request.
	RotationOnError
	// RotationOnRateLimit moves to the next key only when a request was throttled.
	RotationOnRateLimit
)

func (s RotationStrategy) String() string {
	return [...]string{"ROUND_ROBIN", "ON_ERROR", "ON_RATE_LIMIT"}[s]
}

type Key struct {
	ID          string
	Credentials core.Credentials
	Disabled    bool
	LastUsed    time.Time
	ErrorCount  int
}

func (k *Key) String() string {
	return fmt.Sprintf("Key{ID:%s, %s}", k.ID, k.Credentials.String())
}

// KeyRing is safe for concurrent use.
type KeyRing struct {
	mu       sync.RWMutex
	keys     []*Key
	current  int
	strategy RotationStrategy
	logger   zerolog.Logger
}

type Option func(*KeyRing)

func WithLogger(logger zerolog.Logger) Option {
	return func(k *KeyRing) {
		k.logger = logger
	}
}

func New(keys []Key, strategy RotationStrategy, opts ...Option) *KeyRing {
	k := &KeyRing{
		keys:     make([]*Key, 0, len(keys)),
		strategy: strategy,
		logger:   zerolog.Nop(),
	}
	for _, key := range keys {
		key := key
		k.keys = append(k.keys, &key)
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Credentials returns the credentials to sign the next request with, or nil
// when every key is disabled.
func (k *KeyRing) Credentials() *core.Credentials {
	k.mu.Lock()
	defer k.mu.Unlock()

	idx := k.enabledFrom(k.current)
	if idx < 0 {
		return nil
	}
	k.current = idx
	key := k.keys[idx]
	key.LastUsed = time.Now()
	if k.strategy == RotationRoundRobin {
		k.current = (idx + 1) % len(k.keys)
	}

	creds := key.Credentials
	return &creds
}

// Current returns the key the next request would use.
func (k *KeyRing) Current() *Key {
	k.mu.RLock()
	defer k.mu.RUnlock()

	idx := k.enabledFrom(k.current)
	if idx < 0 {
		return nil
	}
	key := *k.keys[idx]
	return &key
}

func (k *KeyRing) enabledFrom(start int) int {
	for i := 0; i < len(k.keys); i++ {
		idx := (start + i) % len(k.keys)
		if !k.keys[idx].Disabled {
			return idx
		}
	}
	return -1
}

// Rotate moves to the next enabled key.
func (k *KeyRing) Rotate() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.rotate()
}

func (k *KeyRing) rotate() {
	if len(k.keys) == 0 {
		return
	}
	if idx := k.enabledFrom((k.current + 1) % len(k.keys)); idx >= 0 {
		k.current = idx
	}
}

// OnError records a failed request made with the current key and rotates
// according to the strategy.
func (k *KeyRing) OnError(err error) {
	if err == nil {
		return
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if len(k.keys) == 0 {
		return
	}
	key := k.keys[k.current]
	key.ErrorCount++

	switch {
	case k.strategy == RotationOnError,
		k.strategy == RotationOnRateLimit && core.IsRateLimitError(err):
		k.rotate()
		k.logger.Info().
			Str("from", key.ID).
			Str("to", k.keys[k.current].ID).
			Err(err).
			Msg("api key rotated")
	}
}

func (k *KeyRing) Disable(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, key := range k.keys {
		if key.ID == id {
			key.Disabled = true
			return
		}
	}
}

func (k *KeyRing) Enable(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, key := range k.keys {
		if key.ID == id {
			key.Disabled = false
			key.ErrorCount = 0
			return
		}
	}
}

func (k *KeyRing) Add(key Key) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, existing := range k.keys {
		if existing.ID == key.ID {
			return
		}
	}
	k.keys = append(k.keys, &Key{ID: key.ID, Credentials: key.Credentials})
}

func (k *KeyRing) Remove(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for i, key := range k.keys {
		if key.ID == id {
			k.keys = append(k.keys[:i], k.keys[i+1:]...)
			if k.current >= len(k.keys) {
				k.current = 0
			}
			return
		}
	}
}

func (k *KeyRing) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys)
}
