package rest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"restkit/pkg/core"
)

var errNoSecret = errors.New("secret key is required for signing")

// HMACSigner implements the common query signing scheme: a millisecond
// timestamp is added to the query, the sorted query string is signed with
// HMAC-SHA256 using the secret key and the hex digest is appended as one
// more parameter. Protocols can call Sign from their own Sign method.
type HMACSigner struct {
	// TimestampParam defaults to "timestamp".
	TimestampParam string
	// SignatureParam defaults to "signature".
	SignatureParam string
	// APIKeyHeader carries the API key when set.
	APIKeyHeader string
	// RecvWindowParam and RecvWindow bound how late the server may accept
	// the request. Both must be set for the parameter to be sent.
	RecvWindowParam string
	RecvWindow      time.Duration
}

// Sign adds the timestamp, optional receive window and signature to req.
func (s HMACSigner) Sign(req *core.Request, creds core.Credentials, now time.Time) error {
	if creds.SecretKey == "" {
		return errNoSecret
	}

	req.SetQuery(or(s.TimestampParam, "timestamp"), strconv.FormatInt(now.UnixMilli(), 10))
	if s.RecvWindowParam != "" && s.RecvWindow > 0 {
		req.SetQuery(s.RecvWindowParam, strconv.FormatInt(s.RecvWindow.Milliseconds(), 10))
	}

	signatureParam := or(s.SignatureParam, "signature")
	delete(req.Query, signatureParam)
	req.SetQuery(signatureParam, SignHMAC(req.Query.Encode(), creds.SecretKey))

	if s.APIKeyHeader != "" {
		req.SetHeader(s.APIKeyHeader, creds.APIKey)
	}
	return nil
}

// SignHMAC returns the hex encoded HMAC-SHA256 of message.
func SignHMAC(message, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

func or(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
