package middleware

import (
	"log/slog"
	"net/http"

	"smb-ledger/internal/audit"
	"smb-ledger/internal/csrf"
	"smb-ledger/internal/metrics"
	"smb-ledger/internal/session"
	"smb-ledger/internal/util"

	"github.com/gin-gonic/gin"
)

// ProvideCSRFToken makes sure the current session has a token and echoes
// it in the X-CSRF-Token response header.
func ProvideCSRFToken(sessions *session.Store, svc *csrf.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := CurrentSession(c)
		if !ok {
			c.Next()
			return
		}
		if sess.CSRFToken == "" {
			tok, err := svc.Generate()
			if err != nil {
				slog.Error("generate csrf token failed", "error", err)
				c.Next()
				return
			}
			if err := sessions.SetCSRFToken(c.Request.Context(), sess.ID, tok); err != nil {
				slog.Error("store csrf token failed", "error", err)
				c.Next()
				return
			}
			sess.CSRFToken = tok
		}
		c.Header(csrf.HeaderName, sess.CSRFToken)
		c.Next()
	}
}

// CSRFProtection rejects mutating requests whose X-CSRF-Token does not match
// the session token. Requests that sent no session cookie and carry a bearer
// token are not cookie-authenticated and pass through.
func CSRFProtection(svc *csrf.Service, log *audit.Log, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		if !c.GetBool(SessionCookieKey) && bearerToken(c) != "" {
			c.Next()
			return
		}

		reject := func(reason, msg string) {
			log.Record(audit.FromRequest(c, audit.ActionCSRFValidationFailed, c.Request.URL.Path, audit.StatusFailure).
				WithDetails(map[string]interface{}{
					"method": c.Request.Method,
					"reason": reason,
				}))
			m.CSRFRejected()
			util.Error(c, http.StatusForbidden, msg)
			c.Abort()
		}

		sess, ok := CurrentSession(c)
		if !ok {
			reject("no_session", "Session not found")
			return
		}
		presented := c.GetHeader(csrf.HeaderName)
		if presented == "" {
			reject("missing_token", "CSRF token missing")
			return
		}
		if !svc.Verify(presented, sess.CSRFToken) {
			reject("token_mismatch", "Invalid CSRF token")
			return
		}
		c.Next()
	}
}
