package handler

import (
	"time"

	"smb-ledger/internal/middleware"
	"smb-ledger/internal/models"
	"smb-ledger/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type InvoiceHandler struct {
	DB *gorm.DB
}

func NewInvoiceHandler(db *gorm.DB) *InvoiceHandler {
	return &InvoiceHandler{DB: db}
}

type invoiceResp struct {
	ID          string    `json:"id"`
	Number      string    `json:"number"`
	ContactID   *string   `json:"contact_id"`
	Description string    `json:"description"`
	Amount      string    `json:"amount"`
	Discount    string    `json:"discount"`
	Total       string    `json:"total"`
	IssueDate   string    `json:"issue_date"`
	DueDate     string    `json:"due_date"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toInvoiceResp(inv *models.Invoice) invoiceResp {
	return invoiceResp{
		ID:          inv.ID,
		Number:      inv.Number,
		ContactID:   inv.ContactID,
		Description: inv.Description,
		Amount:      util.FormatAmount(inv.AmountCents),
		Discount:    util.FormatAmount(inv.DiscountCents),
		Total:       util.FormatAmount(inv.TotalCents),
		IssueDate:   formatDate(inv.IssueDate),
		DueDate:     formatDate(inv.DueDate),
		Status:      inv.Status,
		CreatedAt:   inv.CreatedAt,
		UpdatedAt:   inv.UpdatedAt,
	}
}

type invoiceReq struct {
	Number      *string `json:"number" binding:"omitempty,max=64"`
	ContactID   *string `json:"contact_id"`
	Description *string `json:"description" binding:"omitempty,max=255"`
	Amount      *string `json:"amount"`
	Discount    *string `json:"discount"`
	IssueDate   *string `json:"issue_date"`
	DueDate     *string `json:"due_date"`
	Status      *string `json:"status"`
}

func (req *invoiceReq) apply(inv *models.Invoice, errs fieldErrors) {
	if v := trimPtr(req.Number); v != nil {
		if *v == "" {
			errs["number"] = "number is required"
		}
		inv.Number = *v
	}
	if req.ContactID != nil {
		if *req.ContactID == "" {
			inv.ContactID = nil
		} else {
			id := *req.ContactID
			inv.ContactID = &id
		}
	}
	if v := trimPtr(req.Description); v != nil {
		inv.Description = *v
	}
	if req.Amount != nil {
		inv.AmountCents = parseAmountField(errs, "amount", *req.Amount)
	}
	if req.Discount != nil {
		d, err := util.ParseAmount(*req.Discount)
		errs.add("discount", err)
		if err == nil && d < 0 {
			errs["discount"] = "discount must not be negative"
		}
		inv.DiscountCents = d
	}
	if req.IssueDate != nil {
		inv.IssueDate = parseDateField(errs, "issue_date", *req.IssueDate)
	}
	if req.DueDate != nil {
		inv.DueDate = parseDateField(errs, "due_date", *req.DueDate)
	}
	if req.Status != nil {
		if !util.OneOf(*req.Status, accountStatuses...) {
			errs["status"] = "invalid status"
		}
		inv.Status = *req.Status
	}

	inv.TotalCents = inv.AmountCents - inv.DiscountCents
	if _, bad := errs["discount"]; !bad && inv.TotalCents < 0 {
		errs["discount"] = "discount must not exceed amount"
	}
	if !inv.IssueDate.IsZero() && !inv.DueDate.IsZero() && inv.DueDate.Before(inv.IssueDate) {
		errs["due_date"] = "due date must not be before issue date"
	}
}

func (h *InvoiceHandler) List(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	q := h.DB.WithContext(c.Request.Context()).Where("user_id = ?", user.ID)
	if s := c.Query("status"); s != "" {
		q = q.Where("status = ?", s)
	}
	var invoices []models.Invoice
	if err := q.Order("issue_date DESC, created_at DESC").Find(&invoices).Error; err != nil {
		util.Fail(c, util.Internal("list invoices", err))
		return
	}
	items := make([]invoiceResp, 0, len(invoices))
	for i := range invoices {
		items = append(items, toInvoiceResp(&invoices[i]))
	}
	util.Success(c, util.Response{"items": items, "total": len(items)})
}

func (h *InvoiceHandler) Get(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	var inv models.Invoice
	if !findOwned(h.DB, c, &inv, user.ID, "Invoice not found") {
		return
	}
	util.Success(c, util.Response{"invoice": toInvoiceResp(&inv)})
}

func (h *InvoiceHandler) Create(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	var req invoiceReq
	if !bindJSON(c, &req) {
		return
	}

	errs := fieldErrors{}
	if req.Number == nil {
		errs["number"] = "number is required"
	}
	if req.Amount == nil {
		errs["amount"] = "amount is required"
	}
	if req.IssueDate == nil {
		errs["issue_date"] = "issue_date is required"
	}
	if req.DueDate == nil {
		errs["due_date"] = "due_date is required"
	}
	inv := models.Invoice{UserID: user.ID, Status: models.StatusPending}
	req.apply(&inv, errs)
	if errs.fail(c) {
		return
	}

	if err := h.DB.WithContext(c.Request.Context()).Create(&inv).Error; err != nil {
		util.Fail(c, util.Internal("create invoice", err))
		return
	}
	middleware.SetAuditDetails(c, inv.ID, map[string]interface{}{
		"number": inv.Number,
		"amount": util.FormatAmount(inv.TotalCents),
	})
	util.Created(c, util.Response{"invoice": toInvoiceResp(&inv)})
}

func (h *InvoiceHandler) Update(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	var req invoiceReq
	if !bindJSON(c, &req) {
		return
	}
	var inv models.Invoice
	if !findOwned(h.DB, c, &inv, user.ID, "Invoice not found") {
		return
	}

	errs := fieldErrors{}
	req.apply(&inv, errs)
	if errs.fail(c) {
		return
	}
	if err := h.DB.WithContext(c.Request.Context()).Save(&inv).Error; err != nil {
		util.Fail(c, util.Internal("update invoice", err))
		return
	}
	middleware.SetAuditDetails(c, inv.ID, map[string]interface{}{
		"amount": util.FormatAmount(inv.TotalCents),
		"status": inv.Status,
	})
	util.Success(c, util.Response{"invoice": toInvoiceResp(&inv)})
}

func (h *InvoiceHandler) Delete(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	if !deleteOwned(h.DB, c, &models.Invoice{}, user.ID, "Invoice not found") {
		return
	}
	util.Success(c, util.Response{"message": "Invoice deleted"})
}
