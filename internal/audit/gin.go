package audit

import (
	"smb-ledger/internal/models"

	"github.com/gin-gonic/gin"
)

// FromRequest builds an Event carrying the client address, user agent and,
// when one is attached, the current user.
func FromRequest(c *gin.Context, action Action, resource string, status Status) Event {
	ev := Event{
		Action:    action,
		Resource:  resource,
		Status:    status,
		IPAddress: c.ClientIP(),
	}
	if ua := c.Request.UserAgent(); ua != "" {
		ev.UserAgent = &ua
	}
	if v, ok := c.Get("currentUser"); ok {
		if user, ok := v.(*models.User); ok && user != nil {
			id, name := user.ID, user.Username
			ev.UserID = &id
			ev.Username = &name
		}
	}
	return ev
}

// WithDetails returns ev with details attached.
func (ev Event) WithDetails(details map[string]interface{}) Event {
	ev.Details = details
	return ev
}

// WithUser returns ev attributed to the given user.
func (ev Event) WithUser(id, username string) Event {
	if id != "" {
		ev.UserID = &id
	}
	if username != "" {
		ev.Username = &username
	}
	return ev
}
