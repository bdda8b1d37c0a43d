package handler

import (
	"errors"
	"strings"

	"smb-ledger/internal/audit"
	"smb-ledger/internal/backup"
	"smb-ledger/internal/models"
	"smb-ledger/internal/session"
	"smb-ledger/internal/token"
	"smb-ledger/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// AdminHandler serves user administration under /api/admin.
type AdminHandler struct {
	DB         *gorm.DB
	Sessions   *session.Store
	Tokens     *token.Manager
	Audit      *audit.Log
	Backups    *backup.Service
	BcryptCost int
}

func NewAdminHandler(db *gorm.DB, sessions *session.Store, tokens *token.Manager, log *audit.Log, backups *backup.Service, bcryptCost int) *AdminHandler {
	return &AdminHandler{
		DB:         db,
		Sessions:   sessions,
		Tokens:     tokens,
		Audit:      log,
		Backups:    backups,
		BcryptCost: bcryptCost,
	}
}

func (h *AdminHandler) ListUsers(c *gin.Context) {
	var users []models.User
	if err := h.DB.WithContext(c.Request.Context()).Order("created_at ASC").Find(&users).Error; err != nil {
		util.Fail(c, util.Internal("list users", err))
		return
	}
	util.Success(c, util.Response{"items": users, "total": len(users)})
}

type adminUserReq struct {
	Username *string `json:"username"`
	Password *string `json:"password"`
	Email    *string `json:"email"`
	FullName *string `json:"full_name" binding:"omitempty,max=128"`
	Phone    *string `json:"phone" binding:"omitempty,max=32"`
	Company  *string `json:"company" binding:"omitempty,max=128"`
	Role     *string `json:"role"`
	IsActive *bool   `json:"is_active"`
}

// apply copies the present fields onto u. It reports whether credentials
// or access changed in a way that must end the user's sessions.
func (h *AdminHandler) apply(req *adminUserReq, u *models.User, errs fieldErrors) (revoke bool) {
	if v := trimPtr(req.Username); v != nil {
		errs.add("username", util.ValidateUsername(*v))
		u.Username = *v
	}
	if req.Password != nil {
		if err := util.ValidatePassword(*req.Password); err != nil {
			errs.add("password", err)
		} else if hash, err := util.HashPassword(*req.Password, h.BcryptCost); err != nil {
			errs["password"] = "could not be stored"
		} else {
			u.PasswordHash = hash
			revoke = true
		}
	}
	if v := trimPtr(req.Email); v != nil {
		errs.add("email", util.ValidateEmail(*v))
		u.Email = *v
	}
	if v := trimPtr(req.FullName); v != nil {
		u.FullName = *v
	}
	if v := trimPtr(req.Phone); v != nil {
		u.Phone = *v
	}
	if v := trimPtr(req.Company); v != nil {
		u.Company = *v
	}
	if req.Role != nil {
		if !util.OneOf(*req.Role, models.RoleUser, models.RoleAdmin) {
			errs["role"] = "role must be user or admin"
		}
		if *req.Role != u.Role {
			revoke = true
		}
		u.Role = *req.Role
	}
	if req.IsActive != nil {
		if u.IsActive && !*req.IsActive {
			revoke = true
		}
		u.IsActive = *req.IsActive
	}
	return revoke
}

func (h *AdminHandler) CreateUser(c *gin.Context) {
	var req adminUserReq
	if !bindJSON(c, &req) {
		return
	}
	errs := fieldErrors{}
	if req.Username == nil {
		errs["username"] = "username is required"
	}
	if req.Password == nil {
		errs["password"] = "password is required"
	}
	u := models.User{Role: models.RoleUser, IsActive: true}
	h.apply(&req, &u, errs)
	if errs.fail(c) {
		return
	}

	taken, err := usernameTaken(h.DB.WithContext(c.Request.Context()), u.Username)
	if err != nil {
		util.Fail(c, util.Internal("check username", err))
		return
	}
	if taken {
		util.Fail(c, util.Conflict("Username already exists"))
		return
	}
	if err := h.DB.WithContext(c.Request.Context()).Create(&u).Error; err != nil {
		util.Fail(c, util.Internal("create user", err))
		return
	}

	h.Audit.Record(audit.FromRequest(c, audit.ActionUserCreated, "users", audit.StatusSuccess).
		WithDetails(map[string]interface{}{"target_user_id": u.ID, "username": u.Username, "role": u.Role}))
	util.Created(c, util.Response{"user": &u})
}

func (h *AdminHandler) loadUser(c *gin.Context) (*models.User, bool) {
	var u models.User
	err := h.DB.WithContext(c.Request.Context()).Where("id = ?", c.Param("id")).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			util.Fail(c, util.NotFound("User not found"))
		} else {
			util.Fail(c, util.Internal("load user", err))
		}
		return nil, false
	}
	return &u, true
}

// UpdateUser edits a user. Deactivating, demoting or resetting the password
// of a user revokes their refresh tokens and sessions.
func (h *AdminHandler) UpdateUser(c *gin.Context) {
	admin, ok := requireUser(c)
	if !ok {
		return
	}
	var req adminUserReq
	if !bindJSON(c, &req) {
		return
	}
	u, ok := h.loadUser(c)
	if !ok {
		return
	}
	oldName := u.Username

	errs := fieldErrors{}
	if u.ID == admin.ID {
		if req.IsActive != nil && !*req.IsActive {
			errs["is_active"] = "cannot deactivate your own account"
		}
		if req.Role != nil && *req.Role != models.RoleAdmin {
			errs["role"] = "cannot remove your own admin role"
		}
	}
	revoke := h.apply(&req, u, errs)
	if errs.fail(c) {
		return
	}

	if !strings.EqualFold(oldName, u.Username) {
		taken, err := usernameTaken(h.DB.WithContext(c.Request.Context()), u.Username)
		if err != nil {
			util.Fail(c, util.Internal("check username", err))
			return
		}
		if taken {
			util.Fail(c, util.Conflict("Username already exists"))
			return
		}
	}
	if err := h.DB.WithContext(c.Request.Context()).Save(u).Error; err != nil {
		util.Fail(c, util.Internal("update user", err))
		return
	}
	if revoke {
		if err := h.endSessions(c, u.ID); err != nil {
			util.Fail(c, util.Internal("end sessions", err))
			return
		}
	}

	h.Audit.Record(audit.FromRequest(c, audit.ActionUserUpdated, "users", audit.StatusSuccess).
		WithDetails(map[string]interface{}{
			"target_user_id":   u.ID,
			"role":             u.Role,
			"is_active":        u.IsActive,
			"sessions_revoked": revoke,
		}))
	util.Success(c, util.Response{"user": u})
}

func (h *AdminHandler) endSessions(c *gin.Context, userID string) error {
	h.Tokens.RevokeUser(userID)
	return h.Sessions.DestroyForUser(c.Request.Context(), userID, "")
}

// DeleteUser removes a user and everything they own. Admins cannot delete
// themselves.
func (h *AdminHandler) DeleteUser(c *gin.Context) {
	admin, ok := requireUser(c)
	if !ok {
		return
	}
	if c.Param("id") == admin.ID {
		util.Fail(c, util.Validation("Cannot delete your own account", nil))
		return
	}
	u, ok := h.loadUser(c)
	if !ok {
		return
	}

	err := h.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{
			&models.Account{},
			&models.Invoice{},
			&models.Contact{},
			&models.CashFlowEntry{},
			&models.Reconciliation{},
		} {
			if err := tx.Where("user_id = ?", u.ID).Delete(model).Error; err != nil {
				return err
			}
		}
		return tx.Delete(u).Error
	})
	if err != nil {
		util.Fail(c, util.Internal("delete user", err))
		return
	}
	if err := h.endSessions(c, u.ID); err != nil {
		util.Fail(c, util.Internal("end sessions", err))
		return
	}

	h.Audit.Record(audit.FromRequest(c, audit.ActionUserDeleted, "users", audit.StatusSuccess).
		WithDetails(map[string]interface{}{"target_user_id": u.ID, "username": u.Username}))
	util.Success(c, util.Response{"message": "User deleted"})
}

// Stats reports system-wide counts for the admin panel.
func (h *AdminHandler) Stats(c *gin.Context) {
	db := h.DB.WithContext(c.Request.Context())
	counts := map[string]int64{}
	for name, q := range map[string]*gorm.DB{
		"users":           db.Model(&models.User{}),
		"active_users":    db.Model(&models.User{}).Where("is_active = ?", true),
		"accounts":        db.Model(&models.Account{}),
		"invoices":        db.Model(&models.Invoice{}),
		"contacts":        db.Model(&models.Contact{}),
		"cash_flow":       db.Model(&models.CashFlowEntry{}),
		"reconciliations": db.Model(&models.Reconciliation{}),
	} {
		var n int64
		if err := q.Count(&n).Error; err != nil {
			util.Fail(c, util.Internal("count "+name, err))
			return
		}
		counts[name] = n
	}

	resp := util.Response{
		"counts":        counts,
		"audit_entries": h.Audit.Len(),
	}
	if h.Backups != nil {
		files, err := h.Backups.List()
		if err != nil {
			util.Fail(c, util.Internal("list backups", err))
			return
		}
		resp["backups"] = len(files)
	}
	util.Success(c, resp)
}
