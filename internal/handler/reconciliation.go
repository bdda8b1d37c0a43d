package handler

import (
	"errors"
	"time"

	"smb-ledger/internal/middleware"
	"smb-ledger/internal/models"
	"smb-ledger/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type ReconciliationHandler struct {
	DB *gorm.DB
}

func NewReconciliationHandler(db *gorm.DB) *ReconciliationHandler {
	return &ReconciliationHandler{DB: db}
}

type reconciliationResp struct {
	ID               string    `json:"id"`
	BankAccount      string    `json:"bank_account"`
	PeriodStart      string    `json:"period_start"`
	PeriodEnd        string    `json:"period_end"`
	StatementBalance string    `json:"statement_balance"`
	LedgerBalance    string    `json:"ledger_balance"`
	Difference       string    `json:"difference"`
	Status           string    `json:"status"`
	Notes            string    `json:"notes"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func toReconciliationResp(r *models.Reconciliation) reconciliationResp {
	return reconciliationResp{
		ID:               r.ID,
		BankAccount:      r.BankAccount,
		PeriodStart:      formatDate(r.PeriodStart),
		PeriodEnd:        formatDate(r.PeriodEnd),
		StatementBalance: util.FormatAmount(r.StatementBalance),
		LedgerBalance:    util.FormatAmount(r.LedgerBalance),
		Difference:       util.FormatAmount(r.DifferenceCents),
		Status:           r.Status,
		Notes:            r.Notes,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

type reconciliationReq struct {
	BankAccount      *string `json:"bank_account" binding:"omitempty,max=64"`
	PeriodStart      *string `json:"period_start"`
	PeriodEnd        *string `json:"period_end"`
	StatementBalance *string `json:"statement_balance"`
	Status           *string `json:"status"`
	Notes            *string `json:"notes"`
}

func (req *reconciliationReq) apply(r *models.Reconciliation, errs fieldErrors) {
	if v := trimPtr(req.BankAccount); v != nil {
		if *v == "" {
			errs["bank_account"] = "bank_account is required"
		}
		r.BankAccount = *v
	}
	if req.PeriodStart != nil {
		r.PeriodStart = parseDateField(errs, "period_start", *req.PeriodStart)
	}
	if req.PeriodEnd != nil {
		r.PeriodEnd = parseDateField(errs, "period_end", *req.PeriodEnd)
	}
	if req.StatementBalance != nil {
		b, err := util.ParseAmount(*req.StatementBalance)
		errs.add("statement_balance", err)
		r.StatementBalance = b
	}
	if req.Status != nil {
		if !util.OneOf(*req.Status, models.ReconciliationPending, models.ReconciliationReconciled) {
			errs["status"] = "status must be pending or reconciled"
		}
		r.Status = *req.Status
	}
	if req.Notes != nil {
		r.Notes = *req.Notes
	}
	if r.PeriodEnd.Before(r.PeriodStart) {
		errs["period_end"] = "period_end must not be before period_start"
	}
}

// ledgerBalance is the running cash-flow balance at the end of the period.
func (h *ReconciliationHandler) ledgerBalance(c *gin.Context, userID string, periodEnd time.Time) (int64, error) {
	var last models.CashFlowEntry
	err := h.DB.WithContext(c.Request.Context()).
		Where("user_id = ? AND date < ?", userID, periodEnd.AddDate(0, 0, 1)).
		Order("date DESC, created_at DESC").
		First(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return last.BalanceCents, err
}

func (h *ReconciliationHandler) save(c *gin.Context, r *models.Reconciliation, create bool) bool {
	ledger, err := h.ledgerBalance(c, r.UserID, r.PeriodEnd)
	if err != nil {
		util.Fail(c, util.Internal("compute ledger balance", err))
		return false
	}
	r.LedgerBalance = ledger
	r.DifferenceCents = r.StatementBalance - ledger

	db := h.DB.WithContext(c.Request.Context())
	if create {
		err = db.Create(r).Error
	} else {
		err = db.Save(r).Error
	}
	if err != nil {
		util.Fail(c, util.Internal("save reconciliation", err))
		return false
	}
	middleware.SetAuditDetails(c, r.ID, map[string]interface{}{
		"amount":     util.FormatAmount(r.StatementBalance),
		"difference": util.FormatAmount(r.DifferenceCents),
	})
	return true
}

func (h *ReconciliationHandler) List(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	var list []models.Reconciliation
	if err := h.DB.WithContext(c.Request.Context()).
		Where("user_id = ?", user.ID).
		Order("period_end DESC, created_at DESC").
		Find(&list).Error; err != nil {
		util.Fail(c, util.Internal("list reconciliations", err))
		return
	}
	items := make([]reconciliationResp, 0, len(list))
	for i := range list {
		items = append(items, toReconciliationResp(&list[i]))
	}
	util.Success(c, util.Response{"items": items, "total": len(items)})
}

func (h *ReconciliationHandler) Get(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	var r models.Reconciliation
	if !findOwned(h.DB, c, &r, user.ID, "Reconciliation not found") {
		return
	}
	util.Success(c, util.Response{"reconciliation": toReconciliationResp(&r)})
}

// Create records a statement balance and compares it with the ledger.
func (h *ReconciliationHandler) Create(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	var req reconciliationReq
	if !bindJSON(c, &req) {
		return
	}

	errs := fieldErrors{}
	for field, present := range map[string]bool{
		"bank_account":      req.BankAccount != nil,
		"period_start":      req.PeriodStart != nil,
		"period_end":        req.PeriodEnd != nil,
		"statement_balance": req.StatementBalance != nil,
	} {
		if !present {
			errs[field] = field + " is required"
		}
	}
	r := models.Reconciliation{UserID: user.ID, Status: models.ReconciliationPending}
	req.apply(&r, errs)
	if errs.fail(c) {
		return
	}
	if !h.save(c, &r, true) {
		return
	}
	util.Created(c, util.Response{"reconciliation": toReconciliationResp(&r)})
}

func (h *ReconciliationHandler) Update(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	var req reconciliationReq
	if !bindJSON(c, &req) {
		return
	}
	var r models.Reconciliation
	if !findOwned(h.DB, c, &r, user.ID, "Reconciliation not found") {
		return
	}
	errs := fieldErrors{}
	req.apply(&r, errs)
	if errs.fail(c) {
		return
	}
	if !h.save(c, &r, false) {
		return
	}
	util.Success(c, util.Response{"reconciliation": toReconciliationResp(&r)})
}

func (h *ReconciliationHandler) Delete(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	if !deleteOwned(h.DB, c, &models.Reconciliation{}, user.ID, "Reconciliation not found") {
		return
	}
	util.Success(c, util.Response{"message": "Reconciliation deleted"})
}
