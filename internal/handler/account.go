package handler

import (
	"fmt"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"smb-ledger/internal/middleware"
	"smb-ledger/internal/models"
	"smb-ledger/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AccountHandler serves accounts payable and receivable.
type AccountHandler struct {
	DB        *gorm.DB
	UploadDir string
	now       func() time.Time
}

func NewAccountHandler(db *gorm.DB, uploadDir string) *AccountHandler {
	return &AccountHandler{DB: db, UploadDir: uploadDir, now: time.Now}
}

type accountResp struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Amount      string    `json:"amount"`
	DueDate     string    `json:"due_date"`
	PaidAt      *string   `json:"paid_at"`
	Status      string    `json:"status"`
	Category    string    `json:"category"`
	ContactID   *string   `json:"contact_id"`
	Notes       string    `json:"notes"`
	Attachment  string    `json:"attachment"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toAccountResp(a *models.Account) accountResp {
	return accountResp{
		ID:          a.ID,
		Type:        a.Type,
		Description: a.Description,
		Amount:      util.FormatAmount(a.AmountCents),
		DueDate:     formatDate(a.DueDate),
		PaidAt:      formatOptionalDate(a.PaidAt),
		Status:      a.Status,
		Category:    a.Category,
		ContactID:   a.ContactID,
		Notes:       a.Notes,
		Attachment:  a.Attachment,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

var accountStatuses = []string{models.StatusPending, models.StatusPaid, models.StatusOverdue, models.StatusCancelled}

type accountReq struct {
	Type        *string `json:"type"`
	Description *string `json:"description" binding:"omitempty,max=255"`
	Amount      *string `json:"amount"`
	DueDate     *string `json:"due_date"`
	PaidAt      *string `json:"paid_at"`
	Status      *string `json:"status"`
	Category    *string `json:"category" binding:"omitempty,max=64"`
	ContactID   *string `json:"contact_id"`
	Notes       *string `json:"notes"`
}

// apply validates req and copies the present fields onto a.
func (req *accountReq) apply(a *models.Account, errs fieldErrors) {
	if req.Type != nil {
		if !util.OneOf(*req.Type, models.AccountReceivable, models.AccountPayable) {
			errs["type"] = "type must be receivable or payable"
		}
		a.Type = *req.Type
	}
	if v := trimPtr(req.Description); v != nil {
		if *v == "" {
			errs["description"] = "description is required"
		}
		a.Description = *v
	}
	if req.Amount != nil {
		a.AmountCents = parseAmountField(errs, "amount", *req.Amount)
	}
	if req.DueDate != nil {
		a.DueDate = parseDateField(errs, "due_date", *req.DueDate)
	}
	if req.PaidAt != nil {
		if *req.PaidAt == "" {
			a.PaidAt = nil
		} else {
			t := parseDateField(errs, "paid_at", *req.PaidAt)
			a.PaidAt = &t
		}
	}
	if req.Status != nil {
		if !util.OneOf(*req.Status, accountStatuses...) {
			errs["status"] = "invalid status"
		}
		a.Status = *req.Status
	}
	if v := trimPtr(req.Category); v != nil {
		a.Category = *v
	}
	if req.ContactID != nil {
		if *req.ContactID == "" {
			a.ContactID = nil
		} else {
			id := *req.ContactID
			a.ContactID = &id
		}
	}
	if req.Notes != nil {
		a.Notes = *req.Notes
	}
}

func (h *AccountHandler) List(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}

	q := h.DB.WithContext(c.Request.Context()).Where("user_id = ?", user.ID)
	if t := c.Query("type"); t != "" {
		q = q.Where("type = ?", t)
	}
	if s := c.Query("status"); s != "" {
		q = q.Where("status = ?", s)
	}
	if cat := c.Query("category"); cat != "" {
		q = q.Where("category = ?", cat)
	}

	var accounts []models.Account
	if err := q.Order("due_date ASC, created_at ASC").Find(&accounts).Error; err != nil {
		util.Fail(c, util.Internal("list accounts", err))
		return
	}
	items := make([]accountResp, 0, len(accounts))
	for i := range accounts {
		items = append(items, toAccountResp(&accounts[i]))
	}
	util.Success(c, util.Response{"items": items, "total": len(items)})
}

type accountTotals struct {
	Receivable string `json:"receivable"`
	Payable    string `json:"payable"`
	Balance    string `json:"balance"`
}

// Stats aggregates the caller's accounts: pending totals, this month's
// totals and counts by state. Pending accounts past their due date count
// as overdue.
func (h *AccountHandler) Stats(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}

	var accounts []models.Account
	if err := h.DB.WithContext(c.Request.Context()).
		Where("user_id = ? AND status <> ?", user.ID, models.StatusCancelled).
		Find(&accounts).Error; err != nil {
		util.Fail(c, util.Internal("load accounts", err))
		return
	}

	now := h.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, 0)

	var pendingRec, pendingPay, monthRec, monthPay int64
	var overdue, paid, pending int
	for i := range accounts {
		a := &accounts[i]
		if a.Status == models.StatusPaid {
			paid++
		} else {
			if a.DueDate.Before(today) {
				overdue++
			} else {
				pending++
			}
			if a.Type == models.AccountReceivable {
				pendingRec += a.AmountCents
			} else {
				pendingPay += a.AmountCents
			}
		}
		if !a.DueDate.Before(monthStart) && a.DueDate.Before(monthEnd) {
			if a.Type == models.AccountReceivable {
				monthRec += a.AmountCents
			} else {
				monthPay += a.AmountCents
			}
		}
	}

	util.Success(c, util.Response{
		"pending": accountTotals{
			Receivable: util.FormatAmount(pendingRec),
			Payable:    util.FormatAmount(pendingPay),
			Balance:    util.FormatAmount(pendingRec - pendingPay),
		},
		"this_month": accountTotals{
			Receivable: util.FormatAmount(monthRec),
			Payable:    util.FormatAmount(monthPay),
			Balance:    util.FormatAmount(monthRec - monthPay),
		},
		"counts": gin.H{
			"overdue": overdue,
			"pending": pending,
			"paid":    paid,
			"total":   len(accounts),
		},
	})
}

func (h *AccountHandler) Get(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	var a models.Account
	if !findOwned(h.DB, c, &a, user.ID, "Account not found") {
		return
	}
	util.Success(c, util.Response{"account": toAccountResp(&a)})
}

func (h *AccountHandler) Create(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	var req accountReq
	if !bindJSON(c, &req) {
		return
	}

	errs := fieldErrors{}
	for field, present := range map[string]bool{
		"type":        req.Type != nil,
		"description": req.Description != nil,
		"amount":      req.Amount != nil,
		"due_date":    req.DueDate != nil,
	} {
		if !present {
			errs[field] = field + " is required"
		}
	}
	a := models.Account{UserID: user.ID, Status: models.StatusPending}
	req.apply(&a, errs)
	if errs.fail(c) {
		return
	}

	if err := h.DB.WithContext(c.Request.Context()).Create(&a).Error; err != nil {
		util.Fail(c, util.Internal("create account", err))
		return
	}
	middleware.SetAuditDetails(c, a.ID, map[string]interface{}{
		"type":   a.Type,
		"amount": util.FormatAmount(a.AmountCents),
	})
	util.Created(c, util.Response{"account": toAccountResp(&a)})
}

func (h *AccountHandler) Update(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	var req accountReq
	if !bindJSON(c, &req) {
		return
	}
	var a models.Account
	if !findOwned(h.DB, c, &a, user.ID, "Account not found") {
		return
	}

	errs := fieldErrors{}
	req.apply(&a, errs)
	if errs.fail(c) {
		return
	}
	if a.Status == models.StatusPaid && a.PaidAt == nil {
		now := h.now()
		a.PaidAt = &now
	}

	if err := h.DB.WithContext(c.Request.Context()).Save(&a).Error; err != nil {
		util.Fail(c, util.Internal("update account", err))
		return
	}
	middleware.SetAuditDetails(c, a.ID, map[string]interface{}{
		"amount": util.FormatAmount(a.AmountCents),
		"status": a.Status,
	})
	util.Success(c, util.Response{"account": toAccountResp(&a)})
}

func (h *AccountHandler) Delete(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	if !deleteOwned(h.DB, c, &models.Account{}, user.ID, "Account not found") {
		return
	}
	util.Success(c, util.Response{"message": "Account deleted"})
}

// UploadAttachment stores the file validated by middleware.ValidateUpload
// and links it to the account.
func (h *AccountHandler) UploadAttachment(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	v, ok := c.Get(middleware.UploadFileKey)
	fh, _ := v.(*multipart.FileHeader)
	if !ok || fh == nil {
		util.Fail(c, util.Validation("No file uploaded", nil))
		return
	}

	var a models.Account
	if !findOwned(h.DB, c, &a, user.ID, "Account not found") {
		return
	}

	dir := filepath.Join(h.UploadDir, user.ID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		util.Fail(c, util.Internal("create upload dir", err))
		return
	}
	name := fmt.Sprintf("%s-%s", uuid.NewString(), middleware.SanitizeFilename(fh.Filename))
	if err := c.SaveUploadedFile(fh, filepath.Join(dir, name)); err != nil {
		util.Fail(c, util.Internal("save upload", err))
		return
	}

	old := a.Attachment
	a.Attachment = name
	if err := h.DB.WithContext(c.Request.Context()).Model(&a).Update("attachment", name).Error; err != nil {
		_ = os.Remove(filepath.Join(dir, name))
		util.Fail(c, util.Internal("link attachment", err))
		return
	}
	if old != "" && !strings.ContainsAny(old, `/\`) {
		_ = os.Remove(filepath.Join(dir, old))
	}

	middleware.SetAuditDetails(c, a.ID, map[string]interface{}{"attachment": name, "size": fh.Size})
	util.Success(c, util.Response{"account": toAccountResp(&a)})
}
