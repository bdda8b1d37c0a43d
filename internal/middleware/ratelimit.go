package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"smb-ledger/internal/audit"
	"smb-ledger/internal/metrics"
	"smb-ledger/internal/ratelimit"
	"smb-ledger/internal/util"

	"github.com/gin-gonic/gin"
)

// KeyFunc extracts the rate-limit key from a request.
type KeyFunc func(c *gin.Context) string

// Limiter describes one rate-limit policy.
type Limiter struct {
	Name           string
	Window         time.Duration
	Max            int
	SkipSuccessful bool
	Message        string
	Action         audit.Action
	Key            KeyFunc
}

// GeneralLimiter allows maxRequests requests per client IP per window.
func GeneralLimiter(window time.Duration, maxRequests int) Limiter {
	return Limiter{
		Name:    "general",
		Window:  window,
		Max:     maxRequests,
		Message: "Too many requests, please try again later.",
		Action:  audit.ActionRateLimitExceeded,
		Key:     IPKey,
	}
}

// LoginLimiter allows maxRequests failed attempts per client IP per window,
// whatever usernames are tried. Successful logins are not counted.
func LoginLimiter(window time.Duration, maxRequests int) Limiter {
	return Limiter{
		Name:           "login",
		Window:         window,
		Max:            maxRequests,
		SkipSuccessful: true,
		Message:        "Too many login attempts. Please wait 15 minutes.",
		Action:         audit.ActionLoginRateLimitExceeded,
		Key:            LoginKey,
	}
}

// IPKey keys by client IP.
func IPKey(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// LoginKey keys by client IP in a namespace separate from IPKey, so login
// failures and general traffic are counted apart.
func LoginKey(c *gin.Context) string {
	return "login:" + c.ClientIP()
}

const maxPeekBody = 64 << 10

// peekUsername reads the username of a JSON body for audit details and
// restores the body for the handler.
func peekUsername(c *gin.Context) string {
	if c.Request.Body == nil {
		return ""
	}
	bodyBytes, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPeekBody))
	if err != nil {
		return ""
	}
	c.Request.Body = io.NopCloser(io.MultiReader(bytes.NewReader(bodyBytes), c.Request.Body))

	var body struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(bodyBytes, &body); err != nil {
		return ""
	}
	return strings.TrimSpace(body.Username)
}

// RateLimit enforces l against store. Rejections get 429 with Retry-After
// and are audited.
func RateLimit(store ratelimit.Store, l Limiter, log *audit.Log, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := l.Key(c)
		count, resetAt, err := store.Increment(c.Request.Context(), key, l.Window)
		if err != nil {
			slog.Warn("rate limit check failed, allowing request", "limiter", l.Name, "error", err)
			c.Next()
			return
		}

		remaining := l.Max - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(l.Max))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if count > l.Max {
			retryAfter := int(math.Ceil(time.Until(resetAt).Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			details := map[string]interface{}{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
			}
			if l.Name == "login" {
				details["username"] = peekUsername(c)
			}
			log.Record(audit.FromRequest(c, l.Action, c.Request.URL.Path, audit.StatusFailure).WithDetails(details))
			m.RateLimited(l.Name)

			c.Header("Retry-After", strconv.Itoa(retryAfter))
			util.Error(c, http.StatusTooManyRequests, l.Message)
			c.Abort()
			return
		}

		c.Next()

		if l.SkipSuccessful && c.Writer.Status() < http.StatusBadRequest {
			_ = store.Decrement(c.Request.Context(), key)
		}
	}
}
