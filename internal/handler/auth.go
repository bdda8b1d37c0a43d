package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"smb-ledger/internal/audit"
	"smb-ledger/internal/csrf"
	"smb-ledger/internal/metrics"
	"smb-ledger/internal/middleware"
	"smb-ledger/internal/models"
	"smb-ledger/internal/session"
	"smb-ledger/internal/token"
	"smb-ledger/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ErrInvalidCredentials is the single outcome of every failed login.
var ErrInvalidCredentials = errors.New("invalid credentials")

// AuthHandler serves login, logout, registration, token refresh and the
// caller's own profile.
type AuthHandler struct {
	DB         *gorm.DB
	Gate       *middleware.Gate
	Sessions   *session.Store
	Tokens     *token.Manager
	CSRF       *csrf.Service
	Audit      *audit.Log
	Metrics    *metrics.Metrics
	BcryptCost int

	dummyOnce sync.Once
	dummyHash string
}

func NewAuthHandler(db *gorm.DB, gate *middleware.Gate, csrfSvc *csrf.Service, log *audit.Log, m *metrics.Metrics, bcryptCost int) *AuthHandler {
	return &AuthHandler{
		DB:         db,
		Gate:       gate,
		Sessions:   gate.Sessions,
		Tokens:     gate.Tokens,
		CSRF:       csrfSvc,
		Audit:      log,
		Metrics:    m,
		BcryptCost: bcryptCost,
	}
}

// dummy returns a hash that unknown usernames are compared against, so a
// miss costs the same bcrypt work as a wrong password.
func (h *AuthHandler) dummy() string {
	h.dummyOnce.Do(func() {
		pw, err := util.RandomString(24)
		if err != nil {
			pw = "dummy-password-for-timing"
		}
		h.dummyHash, _ = util.HashPassword(pw, h.BcryptCost)
	})
	return h.dummyHash
}

// ---------- register ----------

type registerReq struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Email    string `json:"email"`
	FullName string `json:"full_name" binding:"max=128"`
	Phone    string `json:"phone" binding:"max=32"`
	Company  string `json:"company" binding:"max=128"`
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req registerReq
	if !bindJSON(c, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)

	errs := fieldErrors{}
	errs.add("username", util.ValidateUsername(req.Username))
	errs.add("password", util.ValidatePassword(req.Password))
	errs.add("email", util.ValidateEmail(req.Email))
	if errs.fail(c) {
		return
	}

	taken, err := usernameTaken(h.DB, req.Username)
	if err != nil {
		util.Fail(c, util.Internal("check username", err))
		return
	}
	if taken {
		util.Fail(c, util.Conflict("Username already exists"))
		return
	}

	hash, err := util.HashPassword(req.Password, h.BcryptCost)
	if err != nil {
		util.Fail(c, util.Internal("hash password", err))
		return
	}
	user := models.User{
		Username:     req.Username,
		PasswordHash: hash,
		Email:        req.Email,
		FullName:     strings.TrimSpace(req.FullName),
		Phone:        strings.TrimSpace(req.Phone),
		Company:      strings.TrimSpace(req.Company),
		Role:         models.RoleUser,
		IsActive:     true,
	}
	if err := h.DB.WithContext(c.Request.Context()).Create(&user).Error; err != nil {
		util.Fail(c, util.Internal("create user", err))
		return
	}

	h.Audit.Record(audit.FromRequest(c, audit.ActionRegister, "auth", audit.StatusSuccess).
		WithUser(user.ID, user.Username))

	util.Created(c, util.Response{"user": &user})
}

func usernameTaken(db *gorm.DB, username string) (bool, error) {
	var count int64
	err := db.Model(&models.User{}).
		Where("LOWER(username) = LOWER(?)", username).
		Count(&count).Error
	return count > 0, err
}

// ---------- login ----------

type loginReq struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginReq
	if !bindJSON(c, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	ctx := c.Request.Context()

	var user models.User
	err := h.DB.WithContext(ctx).Where("LOWER(username) = LOWER(?)", req.Username).First(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		util.CheckPassword(req.Password, h.dummy())
		h.loginFailed(c, req.Username, nil, "unknown_user")
		return
	case err != nil:
		util.Fail(c, util.Internal("load user", err))
		return
	}

	passwordOK := util.CheckPassword(req.Password, user.PasswordHash)
	if !user.IsActive {
		h.loginFailed(c, req.Username, &user, "inactive")
		return
	}
	if !passwordOK {
		if err := h.DB.WithContext(ctx).Model(&user).
			UpdateColumn("failed_login_attempts", gorm.Expr("failed_login_attempts + 1")).Error; err != nil {
			slog.Warn("failed login counter not updated", "user_id", user.ID, "error", err)
		}
		h.loginFailed(c, req.Username, &user, "bad_password")
		return
	}

	now := time.Now()
	ip := c.ClientIP()
	if err := h.DB.WithContext(ctx).Model(&user).Updates(map[string]interface{}{
		"failed_login_attempts": 0,
		"last_login_at":         now,
		"last_login_ip":         ip,
	}).Error; err != nil {
		util.Fail(c, util.Internal("record login", err))
		return
	}
	user.FailedLoginAttempts = 0
	user.LastLoginAt = &now
	user.LastLoginIP = ip

	// a login always starts a fresh session
	if prev, ok := middleware.CurrentSession(c); ok {
		_ = h.Sessions.Destroy(ctx, prev.ID)
	}
	sess, err := h.Sessions.Create(ctx, user.ID)
	if err != nil {
		util.Fail(c, util.Internal("create session", err))
		return
	}
	csrfToken, err := h.CSRF.Generate()
	if err != nil {
		util.Fail(c, util.Internal("generate csrf token", err))
		return
	}
	if err := h.Sessions.SetCSRFToken(ctx, sess.ID, csrfToken); err != nil {
		util.Fail(c, util.Internal("store csrf token", err))
		return
	}

	pair, err := h.Tokens.Issue(token.Subject{UserID: user.ID, Username: user.Username, Role: user.Role})
	if err != nil {
		util.Fail(c, util.Internal("issue tokens", err))
		return
	}

	h.Gate.SetSessionCookie(c, sess.ID)
	c.Header(csrf.HeaderName, csrfToken)

	h.Audit.Record(audit.FromRequest(c, audit.ActionLoginSuccess, "auth", audit.StatusSuccess).
		WithUser(user.ID, user.Username))
	h.Metrics.LoginAttempt(metrics.StatusSuccess)

	util.Success(c, util.Response{
		"user":          &user,
		"csrf_token":    csrfToken,
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"expires_at":    pair.ExpiresAt,
	})
}

// loginFailed answers every failure identically. The reason only goes to
// the audit trail.
func (h *AuthHandler) loginFailed(c *gin.Context, username string, user *models.User, reason string) {
	ev := audit.FromRequest(c, audit.ActionLoginFailed, "auth", audit.StatusFailure).
		WithDetails(map[string]interface{}{"username": username, "reason": reason})
	if user != nil {
		ev = ev.WithUser(user.ID, user.Username)
	}
	h.Audit.Record(ev)
	h.Metrics.LoginAttempt(metrics.StatusFailure)
	util.Fail(c, &util.AppError{Kind: util.KindUnauthorized, Message: "Invalid credentials", Err: ErrInvalidCredentials})
}

// ---------- logout ----------

type logoutReq struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) Logout(c *gin.Context) {
	var req logoutReq
	_ = c.ShouldBindJSON(&req)

	ev := audit.FromRequest(c, audit.ActionLogout, "auth", audit.StatusSuccess)
	if sess, ok := middleware.CurrentSession(c); ok {
		if err := h.Sessions.Destroy(c.Request.Context(), sess.ID); err != nil {
			util.Fail(c, util.Internal("destroy session", err))
			return
		}
		if ev.UserID == nil {
			ev = ev.WithUser(sess.UserID, "")
		}
	}
	if req.RefreshToken != "" {
		h.Tokens.Revoke(req.RefreshToken)
	}
	h.Gate.ClearSessionCookie(c)
	h.Audit.Record(ev)

	util.Success(c, util.Response{"message": "Logged out"})
}

// ---------- refresh ----------

type refreshReq struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshReq
	if !bindJSON(c, &req) {
		return
	}

	fail := func(reason string) {
		h.Audit.Record(audit.FromRequest(c, audit.ActionTokenRefreshFailed, "auth", audit.StatusFailure).
			WithDetails(map[string]interface{}{"reason": reason}))
		util.Error(c, http.StatusUnauthorized, "Invalid refresh token")
		c.Abort()
	}

	claims, err := h.Tokens.ParseRefresh(req.RefreshToken)
	if err != nil {
		fail("invalid_token")
		return
	}
	var user models.User
	if err := h.DB.WithContext(c.Request.Context()).Where("id = ?", claims.UserID).First(&user).Error; err != nil || !user.IsActive {
		h.Tokens.Revoke(req.RefreshToken)
		fail("user_not_found_or_inactive")
		return
	}

	pair, err := h.Tokens.Rotate(req.RefreshToken, token.Subject{UserID: user.ID, Username: user.Username, Role: user.Role})
	if err != nil {
		fail("rotation_failed")
		return
	}

	h.Audit.Record(audit.FromRequest(c, audit.ActionTokenRefreshed, "auth", audit.StatusSuccess).
		WithUser(user.ID, user.Username))
	util.Success(c, util.Response{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"expires_at":    pair.ExpiresAt,
	})
}
