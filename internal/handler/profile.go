package handler

import (
	"strings"

	"smb-ledger/internal/audit"
	"smb-ledger/internal/middleware"
	"smb-ledger/internal/util"

	"github.com/gin-gonic/gin"
)

// Me returns the current user.
func (h *AuthHandler) Me(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	util.Success(c, util.Response{"user": user})
}

type updateProfileReq struct {
	Email           *string `json:"email"`
	FullName        *string `json:"full_name" binding:"omitempty,max=128"`
	Phone           *string `json:"phone" binding:"omitempty,max=32"`
	Company         *string `json:"company" binding:"omitempty,max=128"`
	CurrentPassword string  `json:"current_password"`
	NewPassword     string  `json:"new_password"`
}

// UpdateProfile changes contact details and, when new_password is given,
// the password. A password change revokes every refresh token of the user
// and ends all other sessions.
func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	var req updateProfileReq
	if !bindJSON(c, &req) {
		return
	}

	errs := fieldErrors{}
	updates := map[string]interface{}{}
	if req.Email != nil {
		email := strings.TrimSpace(*req.Email)
		errs.add("email", util.ValidateEmail(email))
		updates["email"] = email
	}
	if v := trimPtr(req.FullName); v != nil {
		updates["full_name"] = *v
	}
	if v := trimPtr(req.Phone); v != nil {
		updates["phone"] = *v
	}
	if v := trimPtr(req.Company); v != nil {
		updates["company"] = *v
	}

	changePassword := req.NewPassword != ""
	if changePassword {
		if !util.CheckPassword(req.CurrentPassword, user.PasswordHash) {
			errs["current_password"] = "current password is incorrect"
		}
		errs.add("new_password", util.ValidatePassword(req.NewPassword))
	}
	if errs.fail(c) {
		return
	}

	if changePassword {
		hash, err := util.HashPassword(req.NewPassword, h.BcryptCost)
		if err != nil {
			util.Fail(c, util.Internal("hash password", err))
			return
		}
		updates["password"] = hash
	}

	ctx := c.Request.Context()
	if len(updates) > 0 {
		if err := h.DB.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
			util.Fail(c, util.Internal("update profile", err))
			return
		}
		if err := h.DB.WithContext(ctx).Where("id = ?", user.ID).First(user).Error; err != nil {
			util.Fail(c, util.Internal("reload user", err))
			return
		}
	}

	if changePassword {
		h.Tokens.RevokeUser(user.ID)
		keep := ""
		if sess, ok := middleware.CurrentSession(c); ok {
			keep = sess.ID
		}
		if err := h.Sessions.DestroyForUser(ctx, user.ID, keep); err != nil {
			util.Fail(c, util.Internal("destroy sessions", err))
			return
		}
		h.Audit.Record(audit.FromRequest(c, audit.ActionPasswordChanged, "auth", audit.StatusSuccess))
	}

	util.Success(c, util.Response{"user": user})
}
