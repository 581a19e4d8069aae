// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements idempotency support for contact submissions. It
// validates an Idempotency-Key request header, looks up a previously stored
// response for that key, and annotates the request context so downstream
// handlers can:
//   - read the normalized key (GetIdempotencyKey)
//   - fetch the stored response to replay (StoredReplay / IsReplay)
//   - bypass rate limiting when a replay is served (via an internal flag)
//
// Persistence stays behind the narrow IdempotencyLookup function type.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the canonical request header that clients use to
// convey an idempotency key for POST requests.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderIdempotencyReplayed is set to "true" on responses served from a
// stored result.
const HeaderIdempotencyReplayed = "Idempotency-Replayed"

// Context keys used internally to stash idempotency state.
const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay" // *StoredResponse when a live record exists
	ctxKeyRateBypass = "rate.bypass" // bool: true to skip rate limiting
)

// StoredResponse is the result recorded for an idempotency key.
type StoredResponse struct {
	Status  int
	Success bool
	Message string
}

// GetIdempotencyKey returns the validated idempotency key stored in the Gin
// context by IdempotencyValidator. The second return value indicates presence.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// StoredReplay returns the stored response for this request's key, if any.
func StoredReplay(c *gin.Context) (*StoredResponse, bool) {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return nil, false
	}
	sr, _ := v.(*StoredResponse)
	return sr, sr != nil
}

// IsReplay reports whether a stored response exists for this request's key.
func IsReplay(c *gin.Context) bool {
	_, ok := StoredReplay(c)
	return ok
}

// IdempotencyOptions configures header validation for IdempotencyValidator.
// TTL is enforced by the lookup, not here.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters. If nil, a conservative RFC7230-like
	// token pattern is used: ^[A-Za-z0-9._~\-:]+$
	Pattern *regexp.Regexp
}

// IdempotencyLookup returns the stored response for key when a still-valid
// one exists, or (nil, nil) when none does. Errors are treated as a miss.
type IdempotencyLookup func(ctx context.Context, key string, now time.Time) (*StoredResponse, error)

// IdempotencyValidator validates the Idempotency-Key header on POST requests,
// stashes it in the request context, and consults lookup for a prior result.
//
// Behavior:
//   - Non-POST requests and requests without the header pass through.
//   - If the header fails validation: responds 400 {success:false,message}.
//   - If lookup finds a stored result: stashes it and sets the rate-bypass
//     flag. The handler decides how to serve it.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" || c.Request.Method != http.MethodPost {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"success": false,
				"message": "Invalid Idempotency-Key header",
			})
			return
		}

		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			if sr, err := lookup(c.Request.Context(), key, time.Now().UTC()); err == nil && sr != nil {
				c.Set(ctxKeyIdemReplay, sr)
				c.Set(ctxKeyRateBypass, true)
			}
		}

		c.Next()
	}
}
