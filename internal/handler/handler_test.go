package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"smb-ledger/internal/audit"
	"smb-ledger/internal/csrf"
	"smb-ledger/internal/database"
	"smb-ledger/internal/middleware"
	"smb-ledger/internal/models"
	"smb-ledger/internal/rbac"
	"smb-ledger/internal/session"
	"smb-ledger/internal/token"
	"smb-ledger/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/xuri/excelize/v2"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testKey = "test-encryption-key-test-encryption-key"

func init() {
	gin.SetMode(gin.TestMode)
}

type env struct {
	db     *gorm.DB
	log    *audit.Log
	tokens *token.Store
	gate   *middleware.Gate
	csrf   *csrf.Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	enforcer, err := rbac.NewEnforcer()
	if err != nil {
		t.Fatalf("enforcer: %v", err)
	}
	csrfSvc, err := csrf.NewService("", strings.Repeat("s", 32))
	if err != nil {
		t.Fatalf("csrf: %v", err)
	}

	e := &env{
		db:     db,
		log:    audit.NewLog(audit.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))),
		tokens: token.NewStore(),
		csrf:   csrfSvc,
	}
	e.gate = &middleware.Gate{
		DB:         db,
		Sessions:   session.NewStore(db, strings.Repeat("s", 32), time.Hour),
		Tokens:     token.NewManager(strings.Repeat("a", 32), strings.Repeat("r", 32), time.Minute, time.Hour, e.tokens),
		Audit:      e.log,
		Enforcer:   enforcer,
		CookieName: "sid",
	}
	return e
}

func (e *env) user(t *testing.T, username, password, role string, active bool) *models.User {
	t.Helper()
	hash, err := util.HashPassword(password, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := &models.User{Username: username, PasswordHash: hash, Role: role, IsActive: active}
	if err := e.db.Create(u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (e *env) authHandler() *AuthHandler {
	return NewAuthHandler(e.db, e.gate, e.csrf, e.log, nil, bcrypt.MinCost)
}

// as attaches u the way RequireAuth would.
func as(u *models.User) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.CurrentUserKey, u)
		c.Next()
	}
}

func call(r http.Handler, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestLogin_SuccessAndUniformFailures(t *testing.T) {
	e := newEnv(t)
	alice := e.user(t, "alice", "Secret-pass1", models.RoleUser, true)
	e.user(t, "carol", "Secret-pass1", models.RoleUser, false)

	r := gin.New()
	r.Use(e.gate.LoadSession())
	r.POST("/login", e.authHandler().Login)

	w := call(r, http.MethodPost, "/login", `{"username":"Alice","password":"Secret-pass1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", w.Code, w.Body.String())
	}
	var ok struct {
		CSRFToken    string `json:"csrf_token"`
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	decode(t, w, &ok)
	if ok.CSRFToken == "" || ok.AccessToken == "" || ok.RefreshToken == "" {
		t.Fatalf("login body missing tokens: %s", w.Body.String())
	}
	if len(w.Result().Cookies()) == 0 {
		t.Fatal("no session cookie")
	}

	var bodies []string
	for _, body := range []string{
		`{"username":"nobody","password":"Secret-pass1"}`,
		`{"username":"alice","password":"Wrong-pass1"}`,
		`{"username":"carol","password":"Secret-pass1"}`,
	} {
		w := call(r, http.MethodPost, "/login", body)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", body, w.Code)
		}
		bodies = append(bodies, w.Body.String())
	}
	for _, b := range bodies[1:] {
		if b != bodies[0] {
			t.Errorf("failure bodies differ: %q vs %q", b, bodies[0])
		}
	}
	if !strings.Contains(bodies[0], "Invalid credentials") {
		t.Errorf("failure body = %q", bodies[0])
	}

	var reloaded models.User
	e.db.First(&reloaded, "id = ?", alice.ID)
	if reloaded.FailedLoginAttempts != 1 {
		t.Errorf("failed_login_attempts = %d, want 1", reloaded.FailedLoginAttempts)
	}
	if got := len(e.log.Query(audit.Filter{Action: audit.ActionLoginFailed})); got != 3 {
		t.Errorf("LOGIN_FAILED entries = %d, want 3", got)
	}
	if got := len(e.log.Query(audit.Filter{Action: audit.ActionLoginSuccess})); got != 1 {
		t.Errorf("LOGIN_SUCCESS entries = %d, want 1", got)
	}
}

func TestLogout_EndsSession(t *testing.T) {
	e := newEnv(t)
	e.user(t, "alice", "Secret-pass1", models.RoleUser, true)
	h := e.authHandler()

	r := gin.New()
	r.Use(e.gate.LoadSession())
	r.POST("/login", h.Login)
	r.POST("/logout", e.gate.OptionalAuth(), h.Logout)
	r.GET("/me", e.gate.RequireAuth(), h.Me)

	w := call(r, http.MethodPost, "/login", `{"username":"alice","password":"Secret-pass1"}`)
	cookie := w.Result().Cookies()[0]

	if w := call(r, http.MethodGet, "/me", "", cookie); w.Code != http.StatusOK {
		t.Fatalf("me before logout = %d", w.Code)
	}
	if w := call(r, http.MethodPost, "/logout", "", cookie); w.Code != http.StatusOK {
		t.Fatalf("logout = %d", w.Code)
	}
	if w := call(r, http.MethodGet, "/me", "", cookie); w.Code != http.StatusUnauthorized {
		t.Fatalf("me after logout = %d, want 401", w.Code)
	}
	if got := len(e.log.Query(audit.Filter{Action: audit.ActionLogout})); got != 1 {
		t.Errorf("LOGOUT entries = %d, want 1", got)
	}
}

func TestRefresh_RotatesAndRejectsReuse(t *testing.T) {
	e := newEnv(t)
	u := e.user(t, "alice", "Secret-pass1", models.RoleUser, true)
	pair, err := e.gate.Tokens.Issue(token.Subject{UserID: u.ID, Username: u.Username, Role: u.Role})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	r := gin.New()
	r.POST("/refresh", e.authHandler().Refresh)

	body := `{"refresh_token":"` + pair.RefreshToken + `"}`
	if w := call(r, http.MethodPost, "/refresh", body); w.Code != http.StatusOK {
		t.Fatalf("refresh = %d, body %s", w.Code, w.Body.String())
	}
	if w := call(r, http.MethodPost, "/refresh", body); w.Code != http.StatusUnauthorized {
		t.Fatalf("reused refresh = %d, want 401", w.Code)
	}
}

func TestRegister_DuplicateUsername(t *testing.T) {
	e := newEnv(t)
	r := gin.New()
	r.POST("/register", e.authHandler().Register)

	w := call(r, http.MethodPost, "/register", `{"username":"alice","password":"Secret-pass1","role":"admin"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("register = %d, body %s", w.Code, w.Body.String())
	}
	var created struct {
		User models.User `json:"user"`
	}
	decode(t, w, &created)
	if created.User.Role != models.RoleUser || !created.User.IsActive {
		t.Errorf("registered user role=%q active=%v", created.User.Role, created.User.IsActive)
	}

	if w := call(r, http.MethodPost, "/register", `{"username":"ALICE","password":"Secret-pass1"}`); w.Code != http.StatusConflict {
		t.Fatalf("duplicate register = %d, want 409", w.Code)
	}
	if w := call(r, http.MethodPost, "/register", `{"username":"bob","password":"weak"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("weak password register = %d, want 400", w.Code)
	}
}

func TestAccounts_OwnershipIsEnforced(t *testing.T) {
	e := newEnv(t)
	alice := e.user(t, "alice", "Secret-pass1", models.RoleUser, true)
	bob := e.user(t, "bob", "Secret-pass1", models.RoleUser, true)
	h := NewAccountHandler(e.db, t.TempDir())

	ra := gin.New()
	ra.Use(as(alice))
	ra.POST("/accounts", h.Create)
	ra.GET("/accounts/:id", h.Get)

	rb := gin.New()
	rb.Use(as(bob))
	rb.GET("/accounts/:id", h.Get)
	rb.DELETE("/accounts/:id", h.Delete)

	w := call(ra, http.MethodPost, "/accounts",
		`{"type":"receivable","description":"Consulting","amount":"150.00","due_date":"2024-06-01"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d, body %s", w.Code, w.Body.String())
	}
	var created struct {
		Account struct {
			ID     string `json:"id"`
			Amount string `json:"amount"`
		} `json:"account"`
	}
	decode(t, w, &created)
	if created.Account.Amount != "150.00" {
		t.Errorf("amount = %q, want 150.00", created.Account.Amount)
	}

	path := "/accounts/" + created.Account.ID
	if w := call(rb, http.MethodGet, path, ""); w.Code != http.StatusNotFound {
		t.Errorf("cross-user get = %d, want 404", w.Code)
	}
	if w := call(rb, http.MethodDelete, path, ""); w.Code != http.StatusNotFound {
		t.Errorf("cross-user delete = %d, want 404", w.Code)
	}
	if w := call(ra, http.MethodGet, path, ""); w.Code != http.StatusOK {
		t.Errorf("owner get = %d, want 200", w.Code)
	}
}

func TestAccounts_ValidationListsFields(t *testing.T) {
	e := newEnv(t)
	alice := e.user(t, "alice", "Secret-pass1", models.RoleUser, true)
	h := NewAccountHandler(e.db, t.TempDir())
	r := gin.New()
	r.Use(as(alice))
	r.POST("/accounts", h.Create)

	w := call(r, http.MethodPost, "/accounts", `{"type":"gift","amount":"-3"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var body struct {
		Errors map[string]string `json:"errors"`
	}
	decode(t, w, &body)
	for _, field := range []string{"type", "amount", "description", "due_date"} {
		if _, ok := body.Errors[field]; !ok {
			t.Errorf("missing error for %s: %v", field, body.Errors)
		}
	}
}

func TestCashFlow_RunningBalance(t *testing.T) {
	e := newEnv(t)
	alice := e.user(t, "alice", "Secret-pass1", models.RoleUser, true)
	h := NewCashFlowHandler(e.db)
	r := gin.New()
	r.Use(as(alice))
	r.POST("/cash-flow", h.Create)
	r.DELETE("/cash-flow/:id", h.Delete)
	r.GET("/cash-flow/summary", h.Summary)

	ids := map[string]string{}
	for _, in := range []struct{ typ, amount, date string }{
		{models.FlowIncome, "100.00", "2024-01-10"},
		{models.FlowExpense, "30.00", "2024-01-20"},
		{models.FlowIncome, "50.00", "2024-01-05"},
	} {
		w := call(r, http.MethodPost, "/cash-flow",
			`{"type":"`+in.typ+`","amount":"`+in.amount+`","date":"`+in.date+`","category":"sales"}`)
		if w.Code != http.StatusCreated {
			t.Fatalf("create %s = %d, body %s", in.date, w.Code, w.Body.String())
		}
		var resp struct {
			Entry cashFlowResp `json:"entry"`
		}
		decode(t, w, &resp)
		ids[in.date] = resp.Entry.ID
	}

	balances := func() map[string]int64 {
		var list []models.CashFlowEntry
		e.db.Where("user_id = ?", alice.ID).Find(&list)
		out := map[string]int64{}
		for _, entry := range list {
			out[formatDate(entry.Date)] = entry.BalanceCents
		}
		return out
	}

	want := map[string]int64{"2024-01-05": 5000, "2024-01-10": 15000, "2024-01-20": 12000}
	got := balances()
	for d, b := range want {
		if got[d] != b {
			t.Errorf("balance on %s = %d, want %d", d, got[d], b)
		}
	}

	if w := call(r, http.MethodDelete, "/cash-flow/"+ids["2024-01-10"], ""); w.Code != http.StatusOK {
		t.Fatalf("delete = %d", w.Code)
	}
	if got := balances()["2024-01-20"]; got != 2000 {
		t.Errorf("balance after delete = %d, want 2000", got)
	}

	w := call(r, http.MethodGet, "/cash-flow/summary", "")
	var sum struct {
		Income         string `json:"income"`
		Expense        string `json:"expense"`
		ClosingBalance string `json:"closing_balance"`
	}
	decode(t, w, &sum)
	if sum.Income != "50.00" || sum.Expense != "30.00" || sum.ClosingBalance != "20.00" {
		t.Errorf("summary = %+v", sum)
	}
}

func TestCashFlow_ExportCSVHasBOM(t *testing.T) {
	e := newEnv(t)
	alice := e.user(t, "alice", "Secret-pass1", models.RoleUser, true)
	h := NewCashFlowHandler(e.db)
	r := gin.New()
	r.Use(as(alice))
	r.POST("/cash-flow", h.Create)
	r.GET("/cash-flow/export/csv", h.ExportCSV)

	call(r, http.MethodPost, "/cash-flow", `{"type":"income","amount":"12.50","date":"2024-03-01","description":"Sale, counter"}`)

	w := call(r, http.MethodGet, "/cash-flow/export/csv", "")
	if w.Code != http.StatusOK {
		t.Fatalf("export = %d", w.Code)
	}
	body := w.Body.Bytes()
	if !bytes.HasPrefix(body, []byte{0xEF, 0xBB, 0xBF}) {
		t.Fatal("csv does not start with a UTF-8 BOM")
	}
	text := string(body[3:])
	if !strings.HasPrefix(text, "Date,Type,Category,Description,Amount,Balance") {
		t.Errorf("unexpected header: %q", text)
	}
	if !strings.Contains(text, `2024-03-01,income,,"Sale, counter",12.50,12.50`) {
		t.Errorf("row missing from %q", text)
	}
}

func TestInvoices_TotalsAndDates(t *testing.T) {
	e := newEnv(t)
	alice := e.user(t, "alice", "Secret-pass1", models.RoleUser, true)
	h := NewInvoiceHandler(e.db)
	r := gin.New()
	r.Use(as(alice))
	r.POST("/invoices", h.Create)

	testCases := []struct {
		name string
		body string
		want int
	}{
		{"discount above amount", `{"number":"NF-1","amount":"100.00","discount":"120.00","issue_date":"2024-01-01","due_date":"2024-02-01"}`, http.StatusBadRequest},
		{"due before issue", `{"number":"NF-2","amount":"100.00","issue_date":"2024-02-01","due_date":"2024-01-01"}`, http.StatusBadRequest},
		{"valid", `{"number":"NF-3","amount":"100.00","discount":"10.00","issue_date":"2024-01-01","due_date":"2024-02-01"}`, http.StatusCreated},
	}
	for _, tc := range testCases {
		w := call(r, http.MethodPost, "/invoices", tc.body)
		if w.Code != tc.want {
			t.Errorf("%s: status = %d, want %d (%s)", tc.name, w.Code, tc.want, w.Body.String())
			continue
		}
		if tc.want == http.StatusCreated {
			var resp struct {
				Invoice invoiceResp `json:"invoice"`
			}
			decode(t, w, &resp)
			if resp.Invoice.Total != "90.00" {
				t.Errorf("total = %q, want 90.00", resp.Invoice.Total)
			}
		}
	}
}

func TestContacts_TaxIDEncryptedAtRest(t *testing.T) {
	e := newEnv(t)
	alice := e.user(t, "alice", "Secret-pass1", models.RoleUser, true)
	h := NewContactHandler(e.db, testKey)
	r := gin.New()
	r.Use(as(alice))
	r.POST("/contacts", h.Create)
	r.GET("/contacts/:id", h.Get)

	const taxID = "12.345.678/0001-90"
	w := call(r, http.MethodPost, "/contacts", `{"type":"customer","name":"ACME","tax_id":"`+taxID+`"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Contact contactResp `json:"contact"`
	}
	decode(t, w, &resp)
	if resp.Contact.TaxID != taxID {
		t.Errorf("tax_id in response = %q", resp.Contact.TaxID)
	}

	var stored models.Contact
	e.db.First(&stored, "id = ?", resp.Contact.ID)
	if stored.TaxIDEnc == "" || strings.Contains(stored.TaxIDEnc, "345") {
		t.Errorf("tax id stored in clear: %q", stored.TaxIDEnc)
	}

	w = call(r, http.MethodGet, "/contacts/"+resp.Contact.ID, "")
	decode(t, w, &resp)
	if resp.Contact.TaxID != taxID {
		t.Errorf("tax_id on read = %q", resp.Contact.TaxID)
	}
}

func TestAdmin_CannotDeleteOrDemoteSelf(t *testing.T) {
	e := newEnv(t)
	admin := e.user(t, "root", "Secret-pass1", models.RoleAdmin, true)
	h := NewAdminHandler(e.db, e.gate.Sessions, e.gate.Tokens, e.log, nil, bcrypt.MinCost)
	r := gin.New()
	r.Use(as(admin))
	r.PUT("/users/:id", h.UpdateUser)
	r.DELETE("/users/:id", h.DeleteUser)

	if w := call(r, http.MethodDelete, "/users/"+admin.ID, ""); w.Code != http.StatusBadRequest {
		t.Errorf("self delete = %d, want 400", w.Code)
	}
	if w := call(r, http.MethodPut, "/users/"+admin.ID, `{"role":"user"}`); w.Code != http.StatusBadRequest {
		t.Errorf("self demote = %d, want 400", w.Code)
	}
	if w := call(r, http.MethodPut, "/users/"+admin.ID, `{"is_active":false}`); w.Code != http.StatusBadRequest {
		t.Errorf("self deactivate = %d, want 400", w.Code)
	}
}

func TestAdmin_DeactivationEndsSessions(t *testing.T) {
	e := newEnv(t)
	admin := e.user(t, "root", "Secret-pass1", models.RoleAdmin, true)
	bob := e.user(t, "bob", "Secret-pass1", models.RoleUser, true)
	ctx := context.Background()

	sess, err := e.gate.Sessions.Create(ctx, bob.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := e.gate.Tokens.Issue(token.Subject{UserID: bob.ID, Username: bob.Username, Role: bob.Role}); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	h := NewAdminHandler(e.db, e.gate.Sessions, e.gate.Tokens, e.log, nil, bcrypt.MinCost)
	r := gin.New()
	r.Use(as(admin))
	r.PUT("/users/:id", h.UpdateUser)

	if w := call(r, http.MethodPut, "/users/"+bob.ID, `{"is_active":false}`); w.Code != http.StatusOK {
		t.Fatalf("deactivate = %d, body %s", w.Code, w.Body.String())
	}
	if _, err := e.gate.Sessions.Get(ctx, sess.ID); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("session after deactivation: err = %v, want ErrNotFound", err)
	}
	if n := e.tokens.Sweep(); n != 1 {
		t.Errorf("revoked refresh tokens swept = %d, want 1", n)
	}
	if got := len(e.log.Query(audit.Filter{Action: audit.ActionUserUpdated})); got != 1 {
		t.Errorf("USER_UPDATED entries = %d, want 1", got)
	}
}

func TestAuditVerify(t *testing.T) {
	log := audit.NewLog(audit.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	for i := 0; i < 3; i++ {
		log.Record(audit.Event{Action: audit.ActionLoginSuccess, Resource: "auth"})
	}
	r := gin.New()
	r.GET("/verify", NewAuditHandler(log, nil).Verify)
	r.GET("/archive", NewAuditHandler(log, nil).Archive)

	w := call(r, http.MethodGet, "/verify", "")
	var resp struct {
		Valid   bool `json:"valid"`
		Entries int  `json:"entries"`
	}
	decode(t, w, &resp)
	if !resp.Valid || resp.Entries != 3 {
		t.Errorf("verify = %+v, want valid with 3 entries", resp)
	}
	if w := call(r, http.MethodGet, "/archive", ""); w.Code != http.StatusNotFound {
		t.Errorf("archive without mirror = %d, want 404", w.Code)
	}
}

func TestReconciliation_ComparesLedgerAtPeriodEnd(t *testing.T) {
	e := newEnv(t)
	alice := e.user(t, "alice", "Secret-pass1", models.RoleUser, true)
	flows := NewCashFlowHandler(e.db)
	recs := NewReconciliationHandler(e.db)
	r := gin.New()
	r.Use(as(alice))
	r.POST("/cash-flow", flows.Create)
	r.POST("/reconciliations", recs.Create)

	call(r, http.MethodPost, "/cash-flow", `{"type":"income","amount":"100.00","date":"2024-01-31"}`)
	call(r, http.MethodPost, "/cash-flow", `{"type":"income","amount":"20.00","date":"2024-02-05"}`)

	w := call(r, http.MethodPost, "/reconciliations",
		`{"bank_account":"Itau 0001","period_start":"2024-01-01","period_end":"2024-01-31","statement_balance":"95.00"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Reconciliation reconciliationResp `json:"reconciliation"`
	}
	decode(t, w, &resp)
	if resp.Reconciliation.LedgerBalance != "100.00" || resp.Reconciliation.Difference != "-5.00" {
		t.Errorf("ledger = %q difference = %q, want 100.00 / -5.00",
			resp.Reconciliation.LedgerBalance, resp.Reconciliation.Difference)
	}
}

func TestCashFlow_ExportXLSX(t *testing.T) {
	e := newEnv(t)
	alice := e.user(t, "alice", "Secret-pass1", models.RoleUser, true)
	h := NewCashFlowHandler(e.db)
	r := gin.New()
	r.Use(as(alice))
	r.POST("/cash-flow", h.Create)
	r.GET("/cash-flow/export/xlsx", h.ExportXLSX)

	call(r, http.MethodPost, "/cash-flow", `{"type":"income","amount":"12.50","date":"2024-03-01","category":"sales"}`)
	call(r, http.MethodPost, "/cash-flow", `{"type":"expense","amount":"2.50","date":"2024-03-02","category":"fees"}`)

	w := call(r, http.MethodGet, "/cash-flow/export/xlsx", "")
	if w.Code != http.StatusOK {
		t.Fatalf("export = %d, body %s", w.Code, w.Body.String())
	}
	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Cash Flow")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header + 2", len(rows))
	}
	if strings.Join(rows[0], ",") != strings.Join(exportHeaders, ",") {
		t.Errorf("header = %v, want %v", rows[0], exportHeaders)
	}
	if rows[1][0] != "2024-03-01" || rows[1][1] != "income" || rows[1][2] != "sales" {
		t.Errorf("first row = %v", rows[1])
	}
	if rows[2][0] != "2024-03-02" || rows[2][1] != "expense" {
		t.Errorf("second row = %v", rows[2])
	}
}

func TestAuditList_DateOnlyUntilCoversWholeDay(t *testing.T) {
	at := time.Date(2026, 10, 16, 14, 0, 0, 0, time.UTC)
	log := audit.NewLog(
		audit.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		audit.WithClock(func() time.Time { return at }),
	)
	log.Record(audit.Event{Action: audit.ActionLoginSuccess, Resource: "auth"})

	r := gin.New()
	r.GET("/audit-logs", NewAuditHandler(log, nil).List)

	testCases := []struct {
		query string
		want  int
	}{
		{"until=2026-10-16", 1},
		{"until=2026-10-15", 0},
		{"since=2026-10-16", 1},
		{"since=2026-10-17", 0},
		{"since=2026-10-16&until=2026-10-16", 1},
		{"until=2026-10-16T13:00:00Z", 0},
	}
	for _, tc := range testCases {
		w := call(r, http.MethodGet, "/audit-logs?"+tc.query, "")
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", tc.query, w.Code)
		}
		var resp struct {
			Total int `json:"total"`
		}
		decode(t, w, &resp)
		if resp.Total != tc.want {
			t.Errorf("%s: total = %d, want %d", tc.query, resp.Total, tc.want)
		}
	}
}

func TestLogin_CounterWriteFailureIsLogged(t *testing.T) {
	e := newEnv(t)
	e.user(t, "alice", "Secret-pass1", models.RoleUser, true)

	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	if err := e.db.Callback().Update().Before("gorm:update").Register("test:fail_update", func(db *gorm.DB) {
		db.AddError(errors.New("disk full"))
	}); err != nil {
		t.Fatalf("register callback: %v", err)
	}

	r := gin.New()
	r.POST("/login", e.authHandler().Login)

	w := call(r, http.MethodPost, "/login", `{"username":"alice","password":"Wrong-pass1"}`)
	if w.Code != http.StatusUnauthorized || !strings.Contains(w.Body.String(), "Invalid credentials") {
		t.Fatalf("login = %d %s, want uniform 401", w.Code, w.Body.String())
	}
	if !strings.Contains(buf.String(), "failed login counter not updated") || !strings.Contains(buf.String(), "disk full") {
		t.Errorf("counter failure not logged: %q", buf.String())
	}
}
