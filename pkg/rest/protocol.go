package rest

import (
	"fmt"
	"time"

	"restkit/pkg/core"
	"restkit/pkg/decode"
)

// Protocol adapts the client to one remote API. Implementations are supplied
// by the caller; the client only knows how to call them.
type Protocol interface {
	// Name identifies the API in logs and errors.
	Name() string

	// BaseURL returns the API base URL for the given environment.
	BaseURL(sandbox bool) string

	// Sign adds authentication to req. now is the local clock corrected by
	// the current server time offset.
	Sign(req *core.Request, creds core.Credentials, now time.Time) error

	// ServerTimeRequest returns the request that fetches the server time.
	ServerTimeRequest() *core.Request

	// ParseServerTime extracts the server time from the decoded response of
	// ServerTimeRequest.
	ParseServerTime(node decode.Node) (time.Time, error)
}

// CredentialSource supplies the credentials for each signed request.
type CredentialSource interface {
	Credentials() *core.Credentials
}

// ErrorObserver is implemented by credential sources that want to hear about
// failed signed requests, e.g. to rotate keys.
type ErrorObserver interface {
	OnError(err error)
}

type staticCredentials struct {
	creds *core.Credentials
}

func (s staticCredentials) Credentials() *core.Credentials {
	if s.creds == nil || s.creds.APIKey == "" {
		return nil
	}
	creds := *s.creds
	return &creds
}

// MillisecondField returns a ParseServerTime implementation for APIs that
// report the server time as Unix milliseconds under a dotted path such as
// "serverTime" or "data.ts".
func MillisecondField(path string) func(decode.Node) (time.Time, error) {
	return func(node decode.Node) (time.Time, error) {
		field, ok := node.Lookup(path)
		if !ok {
			return time.Time{}, fmt.Errorf("server time field %q not found", path)
		}
		ms, ok := field.Int64()
		if !ok {
			return time.Time{}, fmt.Errorf("server time field %q is not an integer: %s", path, field.Raw())
		}
		return time.UnixMilli(ms), nil
	}
}
