package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"smb-ledger/internal/middleware"
	"smb-ledger/internal/models"
	"smb-ledger/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ContactHandler serves customers and suppliers. Tax ids are encrypted at
// rest with EncryptKey.
type ContactHandler struct {
	DB         *gorm.DB
	EncryptKey string
}

func NewContactHandler(db *gorm.DB, encryptKey string) *ContactHandler {
	return &ContactHandler{DB: db, EncryptKey: encryptKey}
}

type contactResp struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	TaxID     string    `json:"tax_id"`
	Address   string    `json:"address"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (h *ContactHandler) toResp(ct *models.Contact) (contactResp, error) {
	taxID, err := util.DecryptString(h.EncryptKey, ct.TaxIDEnc)
	if err != nil {
		return contactResp{}, err
	}
	return contactResp{
		ID:        ct.ID,
		Type:      ct.Type,
		Name:      ct.Name,
		Email:     ct.Email,
		Phone:     ct.Phone,
		TaxID:     taxID,
		Address:   ct.Address,
		IsActive:  ct.IsActive,
		CreatedAt: ct.CreatedAt,
		UpdatedAt: ct.UpdatedAt,
	}, nil
}

type contactReq struct {
	Type     *string `json:"type"`
	Name     *string `json:"name" binding:"omitempty,max=128"`
	Email    *string `json:"email"`
	Phone    *string `json:"phone" binding:"omitempty,max=32"`
	TaxID    *string `json:"tax_id" binding:"omitempty,max=32"`
	Address  *string `json:"address" binding:"omitempty,max=255"`
	IsActive *bool   `json:"is_active"`
}

func (h *ContactHandler) apply(req *contactReq, ct *models.Contact, errs fieldErrors) {
	if req.Type != nil {
		if !util.OneOf(*req.Type, models.ContactCustomer, models.ContactSupplier) {
			errs["type"] = "type must be customer or supplier"
		}
		ct.Type = *req.Type
	}
	if v := trimPtr(req.Name); v != nil {
		if *v == "" {
			errs["name"] = "name is required"
		}
		ct.Name = *v
	}
	if v := trimPtr(req.Email); v != nil {
		errs.add("email", util.ValidateEmail(*v))
		ct.Email = *v
	}
	if v := trimPtr(req.Phone); v != nil {
		ct.Phone = *v
	}
	if v := trimPtr(req.TaxID); v != nil {
		enc, err := util.EncryptString(h.EncryptKey, *v)
		if err != nil {
			errs["tax_id"] = "could not be stored"
		}
		ct.TaxIDEnc = enc
	}
	if v := trimPtr(req.Address); v != nil {
		ct.Address = *v
	}
	if req.IsActive != nil {
		ct.IsActive = *req.IsActive
	}
}

func (h *ContactHandler) respond(c *gin.Context, status int, ct *models.Contact) {
	resp, err := h.toResp(ct)
	if err != nil {
		util.Fail(c, util.Internal("decrypt contact", err))
		return
	}
	c.JSON(status, util.Response{"contact": resp})
}

func (h *ContactHandler) List(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	q := h.DB.WithContext(c.Request.Context()).Where("user_id = ?", user.ID)
	if t := c.Query("type"); t != "" {
		q = q.Where("type = ?", t)
	}
	if a := c.Query("active"); a != "" {
		active, err := strconv.ParseBool(a)
		if err != nil {
			util.Fail(c, util.Validation("Invalid active filter", nil))
			return
		}
		q = q.Where("is_active = ?", active)
	}
	if s := strings.TrimSpace(c.Query("q")); s != "" {
		q = q.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(s)+"%")
	}

	var contacts []models.Contact
	if err := q.Order("name ASC").Find(&contacts).Error; err != nil {
		util.Fail(c, util.Internal("list contacts", err))
		return
	}
	items := make([]contactResp, 0, len(contacts))
	for i := range contacts {
		resp, err := h.toResp(&contacts[i])
		if err != nil {
			util.Fail(c, util.Internal("decrypt contact", err))
			return
		}
		items = append(items, resp)
	}
	util.Success(c, util.Response{"items": items, "total": len(items)})
}

func (h *ContactHandler) Get(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	var ct models.Contact
	if !findOwned(h.DB, c, &ct, user.ID, "Contact not found") {
		return
	}
	h.respond(c, http.StatusOK, &ct)
}

func (h *ContactHandler) Create(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	var req contactReq
	if !bindJSON(c, &req) {
		return
	}

	errs := fieldErrors{}
	if req.Type == nil {
		errs["type"] = "type is required"
	}
	if req.Name == nil {
		errs["name"] = "name is required"
	}
	ct := models.Contact{UserID: user.ID, IsActive: true}
	h.apply(&req, &ct, errs)
	if errs.fail(c) {
		return
	}

	if err := h.DB.WithContext(c.Request.Context()).Create(&ct).Error; err != nil {
		util.Fail(c, util.Internal("create contact", err))
		return
	}
	middleware.SetAuditDetails(c, ct.ID, map[string]interface{}{"type": ct.Type})
	h.respond(c, http.StatusCreated, &ct)
}

func (h *ContactHandler) Update(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	var req contactReq
	if !bindJSON(c, &req) {
		return
	}
	var ct models.Contact
	if !findOwned(h.DB, c, &ct, user.ID, "Contact not found") {
		return
	}

	errs := fieldErrors{}
	h.apply(&req, &ct, errs)
	if errs.fail(c) {
		return
	}
	if err := h.DB.WithContext(c.Request.Context()).Save(&ct).Error; err != nil {
		util.Fail(c, util.Internal("update contact", err))
		return
	}
	h.respond(c, http.StatusOK, &ct)
}

func (h *ContactHandler) Delete(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	if !deleteOwned(h.DB, c, &models.Contact{}, user.ID, "Contact not found") {
		return
	}
	util.Success(c, util.Response{"message": "Contact deleted"})
}
