package middleware

import (
	"net/http"
	"strings"

	"smb-ledger/internal/audit"

	"github.com/gin-gonic/gin"
)

// Currency recorded with financial audit details.
const Currency = "BRL"

// MutationAudit records a FINANCIAL_* entry after every mutating request of
// the group. It must be installed after the auth and CSRF middleware so that
// rejected requests never reach it. Handlers add the resource id and details
// via SetAuditDetails.
func MutationAudit(log *audit.Log, resource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var action audit.Action
		switch c.Request.Method {
		case http.MethodPost:
			action = audit.ActionFinancialCreate
		case http.MethodPut, http.MethodPatch:
			action = audit.ActionFinancialUpdate
		case http.MethodDelete:
			action = audit.ActionFinancialDelete
		default:
			c.Next()
			return
		}

		c.Next()

		status := audit.StatusSuccess
		if c.Writer.Status() >= http.StatusBadRequest {
			status = audit.StatusFailure
		}

		ev := audit.FromRequest(c, action, resource, status)
		resourceID := c.GetString(AuditResourceKey)
		if resourceID == "" {
			resourceID = c.Param("id")
		}
		if resourceID != "" {
			ev.ResourceID = &resourceID
		}

		details := map[string]interface{}{
			"method":      c.Request.Method,
			"path":        strings.TrimSuffix(c.FullPath(), "/"),
			"status_code": c.Writer.Status(),
		}
		if v, ok := c.Get(AuditDetailsKey); ok {
			if extra, ok := v.(map[string]interface{}); ok {
				for k, val := range extra {
					details[k] = val
				}
				if _, hasAmount := extra["amount"]; hasAmount {
					details["currency"] = Currency
				}
			}
		}
		log.Record(ev.WithDetails(details))
	}
}
