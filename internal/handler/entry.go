package handler

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"smb-ledger/internal/middleware"
	"smb-ledger/internal/models"
	"smb-ledger/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// CashFlowHandler serves the cash-flow ledger. Every entry carries the
// running balance after it, ordered by date then creation time.
type CashFlowHandler struct {
	DB *gorm.DB

	// serialises balance maintenance
	mu sync.Mutex
}

func NewCashFlowHandler(db *gorm.DB) *CashFlowHandler {
	return &CashFlowHandler{DB: db}
}

type cashFlowResp struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Amount      string    `json:"amount"`
	Balance     string    `json:"balance"`
	Date        string    `json:"date"`
	AccountID   *string   `json:"account_id"`
	CreatedAt   time.Time `json:"created_at"`
}

func toCashFlowResp(e *models.CashFlowEntry) cashFlowResp {
	return cashFlowResp{
		ID:          e.ID,
		Type:        e.Type,
		Category:    e.Category,
		Description: e.Description,
		Amount:      util.FormatAmount(e.AmountCents),
		Balance:     util.FormatAmount(e.BalanceCents),
		Date:        formatDate(e.Date),
		AccountID:   e.AccountID,
		CreatedAt:   e.CreatedAt,
	}
}

// signed returns the effect of e on the balance.
func signed(e *models.CashFlowEntry) int64 {
	if e.Type == models.FlowExpense {
		return -e.AmountCents
	}
	return e.AmountCents
}

// rangeQuery applies the optional start/end (inclusive) query parameters.
func rangeQuery(c *gin.Context, q *gorm.DB) (*gorm.DB, error) {
	start, hasStart, err := parseDateQuery(c, "start")
	if err != nil {
		return nil, err
	}
	end, hasEnd, err := parseDateQuery(c, "end")
	if err != nil {
		return nil, err
	}
	if hasStart && hasEnd && end.Before(start) {
		return nil, util.Validation("end must not be before start", nil)
	}
	if hasStart {
		q = q.Where("date >= ?", start)
	}
	if hasEnd {
		q = q.Where("date < ?", end.AddDate(0, 0, 1))
	}
	return q, nil
}

func (h *CashFlowHandler) entries(c *gin.Context, userID string) ([]models.CashFlowEntry, bool) {
	q, err := rangeQuery(c, h.DB.WithContext(c.Request.Context()).Where("user_id = ?", userID))
	if err != nil {
		util.Fail(c, err)
		return nil, false
	}
	var list []models.CashFlowEntry
	if err := q.Order("date ASC, created_at ASC").Find(&list).Error; err != nil {
		util.Fail(c, util.Internal("list cash flow", err))
		return nil, false
	}
	return list, true
}

func (h *CashFlowHandler) List(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	list, ok := h.entries(c, user.ID)
	if !ok {
		return
	}
	items := make([]cashFlowResp, 0, len(list))
	for i := range list {
		items = append(items, toCashFlowResp(&list[i]))
	}
	util.Success(c, util.Response{"items": items, "total": len(items)})
}

type createCashFlowReq struct {
	Type        string  `json:"type" binding:"required"`
	Category    string  `json:"category" binding:"max=64"`
	Description string  `json:"description" binding:"max=255"`
	Amount      string  `json:"amount" binding:"required"`
	Date        string  `json:"date" binding:"required"`
	AccountID   *string `json:"account_id"`
}

// Create appends an entry. Its balance is the balance of the latest entry
// on or before its date plus or minus the amount; entries dated after it
// are shifted by the same amount.
func (h *CashFlowHandler) Create(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	var req createCashFlowReq
	if !bindJSON(c, &req) {
		return
	}

	errs := fieldErrors{}
	if !util.OneOf(req.Type, models.FlowIncome, models.FlowExpense) {
		errs["type"] = "type must be income or expense"
	}
	entry := models.CashFlowEntry{
		UserID:      user.ID,
		Type:        req.Type,
		Category:    strings.TrimSpace(req.Category),
		Description: strings.TrimSpace(req.Description),
		AmountCents: parseAmountField(errs, "amount", req.Amount),
		Date:        parseDateField(errs, "date", req.Date),
	}
	if req.AccountID != nil && *req.AccountID != "" {
		id := *req.AccountID
		entry.AccountID = &id
	}
	if errs.fail(c) {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	err := h.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		var prev models.CashFlowEntry
		err := tx.Where("user_id = ? AND date <= ?", user.ID, entry.Date).
			Order("date DESC, created_at DESC").
			First(&prev).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return err
		default:
			entry.BalanceCents = prev.BalanceCents
		}
		entry.BalanceCents += signed(&entry)

		if err := tx.Model(&models.CashFlowEntry{}).
			Where("user_id = ? AND date > ?", user.ID, entry.Date).
			UpdateColumn("balance_cents", gorm.Expr("balance_cents + ?", signed(&entry))).Error; err != nil {
			return err
		}
		return tx.Create(&entry).Error
	})
	if err != nil {
		util.Fail(c, util.Internal("create cash flow entry", err))
		return
	}

	middleware.SetAuditDetails(c, entry.ID, map[string]interface{}{
		"type":   entry.Type,
		"amount": util.FormatAmount(entry.AmountCents),
	})
	util.Created(c, util.Response{"entry": toCashFlowResp(&entry)})
}

// Delete removes an entry and takes its amount out of every later balance.
func (h *CashFlowHandler) Delete(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	var entry models.CashFlowEntry
	if !findOwned(h.DB, c, &entry, user.ID, "Entry not found") {
		return
	}
	err := h.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.CashFlowEntry{}).
			Where("user_id = ? AND (date > ? OR (date = ? AND created_at > ?))",
				user.ID, entry.Date, entry.Date, entry.CreatedAt).
			UpdateColumn("balance_cents", gorm.Expr("balance_cents - ?", signed(&entry))).Error; err != nil {
			return err
		}
		return tx.Delete(&entry).Error
	})
	if err != nil {
		util.Fail(c, util.Internal("delete cash flow entry", err))
		return
	}
	middleware.SetAuditDetails(c, entry.ID, map[string]interface{}{
		"amount": util.FormatAmount(entry.AmountCents),
	})
	util.Success(c, util.Response{"message": "Entry deleted"})
}

type categoryTotal struct {
	Category string `json:"category"`
	Income   string `json:"income"`
	Expense  string `json:"expense"`
}

// Summary totals the entries of the requested range.
func (h *CashFlowHandler) Summary(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	list, ok := h.entries(c, user.ID)
	if !ok {
		return
	}

	var income, expense int64
	type sums struct{ income, expense int64 }
	byCat := map[string]*sums{}
	for i := range list {
		e := &list[i]
		s, ok := byCat[e.Category]
		if !ok {
			s = &sums{}
			byCat[e.Category] = s
		}
		if e.Type == models.FlowIncome {
			income += e.AmountCents
			s.income += e.AmountCents
		} else {
			expense += e.AmountCents
			s.expense += e.AmountCents
		}
	}

	cats := make([]categoryTotal, 0, len(byCat))
	for name, s := range byCat {
		cats = append(cats, categoryTotal{
			Category: name,
			Income:   util.FormatAmount(s.income),
			Expense:  util.FormatAmount(s.expense),
		})
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i].Category < cats[j].Category })

	var closing int64
	if len(list) > 0 {
		closing = list[len(list)-1].BalanceCents
	}
	util.Success(c, util.Response{
		"income":          util.FormatAmount(income),
		"expense":         util.FormatAmount(expense),
		"net":             util.FormatAmount(income - expense),
		"closing_balance": util.FormatAmount(closing),
		"entries":         len(list),
		"by_category":     cats,
	})
}
