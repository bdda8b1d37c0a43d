package middleware

import (
	"smb-ledger/internal/models"

	"github.com/gin-gonic/gin"
)

// Context keys shared with handlers.
const (
	CurrentUserKey   = "currentUser"
	SessionKey       = "session"
	SessionCookieKey = "sessionCookieSent"
	AuditDetailsKey  = "auditDetails"
	AuditResourceKey = "auditResourceID"
)

// CurrentUser returns the user attached by RequireAuth or OptionalAuth.
func CurrentUser(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(CurrentUserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok && user != nil
}

// CurrentSession returns the session attached by LoadSession.
func CurrentSession(c *gin.Context) (*models.Session, bool) {
	v, ok := c.Get(SessionKey)
	if !ok {
		return nil, false
	}
	sess, ok := v.(*models.Session)
	return sess, ok && sess != nil
}

// SetAuditDetails lets a handler add details to the mutation audit entry.
func SetAuditDetails(c *gin.Context, resourceID string, details map[string]interface{}) {
	if resourceID != "" {
		c.Set(AuditResourceKey, resourceID)
	}
	if details != nil {
		c.Set(AuditDetailsKey, details)
	}
}
