package handler

import (
	"strconv"
	"strings"
	"time"

	"smb-ledger/internal/audit"
	"smb-ledger/internal/util"

	"github.com/gin-gonic/gin"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// AuditHandler exposes the audit chain to administrators.
type AuditHandler struct {
	Log    *audit.Log
	Mirror *audit.Mirror
}

func NewAuditHandler(log *audit.Log, mirror *audit.Mirror) *AuditHandler {
	return &AuditHandler{Log: log, Mirror: mirror}
}

func parseLimit(c *gin.Context) (int, error) {
	s := c.Query("limit")
	if s == "" {
		return defaultAuditLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, util.Validation("limit must be a positive integer", nil)
	}
	if n > maxAuditLimit {
		n = maxAuditLimit
	}
	return n, nil
}

// parseInstant accepts RFC 3339 or YYYY-MM-DD. A bare date means the start
// of that day, or its last instant when endOfDay is set.
func parseInstant(c *gin.Context, name string, endOfDay bool) (time.Time, error) {
	s := strings.TrimSpace(c.Query(name))
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := util.ParseDate(s)
	if err != nil {
		return time.Time{}, util.Validation("Invalid "+name+", expected RFC 3339 or YYYY-MM-DD", nil)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

// List queries the in-memory chain, most recent first.
func (h *AuditHandler) List(c *gin.Context) {
	limit, err := parseLimit(c)
	if err != nil {
		util.Fail(c, err)
		return
	}
	since, err := parseInstant(c, "since", false)
	if err != nil {
		util.Fail(c, err)
		return
	}
	until, err := parseInstant(c, "until", true)
	if err != nil {
		util.Fail(c, err)
		return
	}

	entries := h.Log.Query(audit.Filter{
		UserID:   c.Query("user_id"),
		Action:   audit.Action(c.Query("action")),
		Resource: c.Query("resource"),
		Since:    since,
		Until:    until,
		Limit:    limit,
	})
	util.Success(c, util.Response{"items": entries, "total": len(entries)})
}

// Verify walks the whole chain.
func (h *AuditHandler) Verify(c *gin.Context) {
	brokenAt, ok := h.Log.VerifyChain()
	resp := util.Response{
		"valid":   ok,
		"entries": h.Log.Len(),
	}
	if !ok {
		resp["broken_at"] = brokenAt
	}
	util.Success(c, resp)
}

// Archive reads entries persisted by previous runs, details decrypted.
func (h *AuditHandler) Archive(c *gin.Context) {
	if h.Mirror == nil {
		util.Fail(c, util.NotFound("Audit archive is not enabled"))
		return
	}
	limit, err := parseLimit(c)
	if err != nil {
		util.Fail(c, err)
		return
	}
	entries, err := h.Mirror.Load(c.Request.Context(), limit)
	if err != nil {
		util.Fail(c, util.Internal("load audit archive", err))
		return
	}
	util.Success(c, util.Response{"items": entries, "total": len(entries)})
}
