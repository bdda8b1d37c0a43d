package handler

import (
	"errors"
	"time"

	"smb-ledger/internal/models"
	"smb-ledger/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type DashboardHandler struct {
	DB  *gorm.DB
	now func() time.Time
}

func NewDashboardHandler(db *gorm.DB) *DashboardHandler {
	return &DashboardHandler{DB: db, now: time.Now}
}

// Stats summarises the caller's position: open receivables and payables,
// overdue accounts, pending invoices, the cash balance and this month's
// cash movement.
func (h *DashboardHandler) Stats(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	db := h.DB.WithContext(c.Request.Context())
	now := h.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	var open struct {
		Receivable int64
		Payable    int64
	}
	if err := db.Model(&models.Account{}).
		Select("COALESCE(SUM(CASE WHEN type = ? THEN amount_cents ELSE 0 END), 0) AS receivable, "+
			"COALESCE(SUM(CASE WHEN type = ? THEN amount_cents ELSE 0 END), 0) AS payable",
			models.AccountReceivable, models.AccountPayable).
		Where("user_id = ? AND status IN ?", user.ID, []string{models.StatusPending, models.StatusOverdue}).
		Scan(&open).Error; err != nil {
		util.Fail(c, util.Internal("sum accounts", err))
		return
	}

	var overdue int64
	if err := db.Model(&models.Account{}).
		Where("user_id = ? AND status IN ? AND due_date < ?", user.ID,
			[]string{models.StatusPending, models.StatusOverdue}, today).
		Count(&overdue).Error; err != nil {
		util.Fail(c, util.Internal("count overdue", err))
		return
	}

	var pendingInvoices int64
	if err := db.Model(&models.Invoice{}).
		Where("user_id = ? AND status = ?", user.ID, models.StatusPending).
		Count(&pendingInvoices).Error; err != nil {
		util.Fail(c, util.Internal("count invoices", err))
		return
	}

	var balance int64
	var last models.CashFlowEntry
	err := db.Where("user_id = ?", user.ID).Order("date DESC, created_at DESC").First(&last).Error
	switch {
	case err == nil:
		balance = last.BalanceCents
	case !errors.Is(err, gorm.ErrRecordNotFound):
		util.Fail(c, util.Internal("load balance", err))
		return
	}

	var month []models.CashFlowEntry
	if err := db.Where("user_id = ? AND date >= ?", user.ID, monthStart).Find(&month).Error; err != nil {
		util.Fail(c, util.Internal("load month", err))
		return
	}
	var income, expense int64
	for i := range month {
		if month[i].Type == models.FlowIncome {
			income += month[i].AmountCents
		} else {
			expense += month[i].AmountCents
		}
	}

	util.Success(c, util.Response{
		"receivable":       util.FormatAmount(open.Receivable),
		"payable":          util.FormatAmount(open.Payable),
		"overdue_accounts": overdue,
		"pending_invoices": pendingInvoices,
		"cash_balance":     util.FormatAmount(balance),
		"month_income":     util.FormatAmount(income),
		"month_expense":    util.FormatAmount(expense),
		"month_net":        util.FormatAmount(income - expense),
	})
}
