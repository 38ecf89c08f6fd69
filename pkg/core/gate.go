package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// OverflowBehavior decides what an admission gate does when quota is exhausted.
type OverflowBehavior int

const (
	// OverflowWait blocks until quota frees up or the context is done.
	OverflowWait OverflowBehavior = iota
	// OverflowFail rejects the request immediately.
	OverflowFail
	// OverflowFailWithLogging rejects the request immediately and logs the rejection.
	OverflowFailWithLogging
)

// String returns the string representation of the overflow behavior.
func (b OverflowBehavior) String() string {
	return [...]string{"WAIT", "FAIL", "FAIL_WITH_LOGGING"}[b]
}

// ParseOverflowBehavior accepts "wait", "fail" and "fail_with_logging" in any case.
func ParseOverflowBehavior(s string) (OverflowBehavior, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "-", "_")) {
	case "wait", "":
		return OverflowWait, nil
	case "fail":
		return OverflowFail, nil
	case "fail_with_logging":
		return OverflowFailWithLogging, nil
	}
	return OverflowWait, fmt.Errorf("unknown overflow behavior %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (b OverflowBehavior) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(b.String())), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *OverflowBehavior) UnmarshalText(text []byte) error {
	parsed, err := ParseOverflowBehavior(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// AdmitRequest describes one outgoing request presented to an admission gate.
type AdmitRequest struct {
	Endpoint string
	Method   string
	Signed   bool
	// Identity is an opaque token for the credentials signing the request.
	Identity string
	Overflow OverflowBehavior
	// Weight is the amount of quota the request consumes, at least 1.
	Weight int
}

// Gate decides whether a request may be sent now. Implementations must be safe
// for concurrent use and must return promptly once ctx is done.
// The returned duration is the time spent waiting, zero when none.
type Gate interface {
	Admit(ctx context.Context, req AdmitRequest) (time.Duration, error)
}

// Identity returns an opaque, stable token for the API key that can be used to
// key per-credential bookkeeping without retaining the key itself.
func (c *Credentials) Identity() string {
	if c == nil || c.APIKey == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(c.APIKey))
	return hex.EncodeToString(sum[:8])
}

// String masks the key so credentials can be logged safely.
func (c *Credentials) String() string {
	if c == nil {
		return "Credentials{}"
	}
	return fmt.Sprintf("Credentials{APIKey:%s}", maskKey(c.APIKey))
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
