package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"smb-ledger/internal/audit"
	"smb-ledger/internal/models"
	"smb-ledger/internal/session"
	"smb-ledger/internal/token"
	"smb-ledger/internal/util"

	"github.com/casbin/casbin/v2"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Gate resolves the caller's identity from the session cookie or a bearer
// access token.
type Gate struct {
	DB         *gorm.DB
	Sessions   *session.Store
	Tokens     *token.Manager
	Audit      *audit.Log
	Enforcer   *casbin.Enforcer
	CookieName string
	Secure     bool
}

// LoadSession attaches the session named by a valid cookie. Bad signatures,
// unknown and expired sessions leave the request anonymous.
func (g *Gate) LoadSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.Cookie(g.CookieName)
		if err != nil || raw == "" {
			c.Next()
			return
		}
		c.Set(SessionCookieKey, true)

		id, ok := g.Sessions.Unsign(raw)
		if !ok {
			c.Next()
			return
		}
		sess, err := g.Sessions.Get(c.Request.Context(), id)
		if err != nil {
			if !errors.Is(err, session.ErrNotFound) {
				slog.Error("load session failed", "error", err)
			}
			c.Next()
			return
		}
		c.Set(SessionKey, sess)
		c.Next()
	}
}

// SetSessionCookie writes the signed session cookie.
func (g *Gate) SetSessionCookie(c *gin.Context, sessionID string) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     g.CookieName,
		Value:    g.Sessions.Sign(sessionID),
		Path:     "/",
		MaxAge:   int(g.Sessions.MaxAge() / time.Second),
		HttpOnly: true,
		Secure:   g.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearSessionCookie expires the session cookie.
func (g *Gate) ClearSessionCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     g.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   g.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// bearerToken returns the token of an "Authorization: Bearer" header.
func bearerToken(c *gin.Context) string {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// resolveUserID prefers the session. A bearer token is only consulted when
// no session cookie was sent at all.
func (g *Gate) resolveUserID(c *gin.Context) string {
	if sess, ok := CurrentSession(c); ok {
		return sess.UserID
	}
	if c.GetBool(SessionCookieKey) || g.Tokens == nil {
		return ""
	}
	tok := bearerToken(c)
	if tok == "" {
		return ""
	}
	claims, err := g.Tokens.ParseAccess(tok)
	if err != nil {
		return ""
	}
	return claims.UserID
}

func (g *Gate) loadActiveUser(c *gin.Context, userID string) (*models.User, error) {
	var user models.User
	if err := g.DB.WithContext(c.Request.Context()).Where("id = ?", userID).First(&user).Error; err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, gorm.ErrRecordNotFound
	}
	return &user, nil
}

// RequireAuth rejects anonymous callers and inactive users with 401.
func (g *Gate) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := g.resolveUserID(c)
		if userID == "" {
			g.deny(c, "no_session")
			return
		}

		user, err := g.loadActiveUser(c, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				g.deny(c, "user_not_found_or_inactive")
			} else {
				util.Fail(c, util.Internal("load user", err))
			}
			return
		}

		c.Set(CurrentUserKey, user)
		c.Next()
	}
}

func (g *Gate) deny(c *gin.Context, reason string) {
	g.Audit.Record(audit.FromRequest(c, audit.ActionUnauthorizedAccess, c.Request.URL.Path, audit.StatusFailure).
		WithDetails(map[string]interface{}{
			"method": c.Request.Method,
			"reason": reason,
		}))
	util.Error(c, http.StatusUnauthorized, "Unauthorized")
	c.Abort()
}

// OptionalAuth attaches the user when one resolves and never rejects.
func (g *Gate) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID := g.resolveUserID(c); userID != "" {
			if user, err := g.loadActiveUser(c, userID); err == nil {
				c.Set(CurrentUserKey, user)
			}
		}
		c.Next()
	}
}

// RequireAdmin must run after RequireAuth. Access is decided by the casbin
// role policy.
func (g *Gate) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			g.deny(c, "no_user")
			return
		}

		allowed, err := g.Enforcer.Enforce(user.Role, c.Request.URL.Path, c.Request.Method)
		if err != nil {
			util.Fail(c, util.Internal("enforce policy", err))
			return
		}
		if !allowed {
			g.Audit.Record(audit.FromRequest(c, audit.ActionForbiddenAccess, c.Request.URL.Path, audit.StatusFailure).
				WithDetails(map[string]interface{}{
					"method": c.Request.Method,
					"role":   user.Role,
				}))
			util.Error(c, http.StatusForbidden, "Forbidden")
			c.Abort()
			return
		}
		c.Next()
	}
}
