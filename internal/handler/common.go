package handler

import (
	"errors"
	"strings"
	"time"

	"smb-ledger/internal/middleware"
	"smb-ledger/internal/models"
	"smb-ledger/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// requireUser returns the authenticated user or writes 401.
func requireUser(c *gin.Context) (*models.User, bool) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		util.Fail(c, util.Unauthorized("Unauthorized"))
		return nil, false
	}
	return user, true
}

// bindJSON decodes the body into req or writes 400.
func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		util.Fail(c, util.Validation("Invalid request body", nil))
		return false
	}
	return true
}

// findOwned loads the row with the given id owned by userID into dest.
// Rows owned by other users are reported as notFoundMsg.
func findOwned(db *gorm.DB, c *gin.Context, dest interface{}, userID, notFoundMsg string) bool {
	err := db.WithContext(c.Request.Context()).
		Where("id = ? AND user_id = ?", c.Param("id"), userID).
		First(dest).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			util.Fail(c, util.NotFound(notFoundMsg))
		} else {
			util.Fail(c, util.Internal("load record", err))
		}
		return false
	}
	return true
}

// deleteOwned deletes the row with the route id owned by userID.
func deleteOwned(db *gorm.DB, c *gin.Context, model interface{}, userID, notFoundMsg string) bool {
	res := db.WithContext(c.Request.Context()).
		Where("id = ? AND user_id = ?", c.Param("id"), userID).
		Delete(model)
	if res.Error != nil {
		util.Fail(c, util.Internal("delete record", res.Error))
		return false
	}
	if res.RowsAffected == 0 {
		util.Fail(c, util.NotFound(notFoundMsg))
		return false
	}
	return true
}

// fieldErrors collects per-field validation messages.
type fieldErrors map[string]string

func (f fieldErrors) add(field string, err error) {
	if err != nil {
		f[field] = err.Error()
	}
}

func (f fieldErrors) fail(c *gin.Context) bool {
	if len(f) == 0 {
		return false
	}
	util.Fail(c, util.Validation("Validation failed", f))
	return true
}

// parseAmountField parses a required positive amount.
func parseAmountField(errs fieldErrors, field, value string) int64 {
	cents, err := util.ParsePositiveAmount(value)
	errs.add(field, err)
	return cents
}

func parseDateField(errs fieldErrors, field, value string) time.Time {
	t, err := util.ParseDate(value)
	errs.add(field, err)
	return t
}

// parseDateQuery parses an optional YYYY-MM-DD query parameter.
func parseDateQuery(c *gin.Context, name string) (time.Time, bool, error) {
	v := strings.TrimSpace(c.Query(name))
	if v == "" {
		return time.Time{}, false, nil
	}
	t, err := util.ParseDate(v)
	if err != nil {
		return time.Time{}, false, util.Validation("Invalid "+name+" date, expected YYYY-MM-DD", nil)
	}
	return t, true, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func formatOptionalDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatDate(*t)
	return &s
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
