package handler

import (
	"smb-ledger/internal/backup"
	"smb-ledger/internal/util"

	"github.com/gin-gonic/gin"
)

// BackupHandler lists and triggers encrypted backups.
type BackupHandler struct {
	Service *backup.Service
}

func NewBackupHandler(svc *backup.Service) *BackupHandler {
	return &BackupHandler{Service: svc}
}

func (h *BackupHandler) List(c *gin.Context) {
	files, err := h.Service.List()
	if err != nil {
		util.Fail(c, util.Internal("list backups", err))
		return
	}
	util.Success(c, util.Response{"items": files, "total": len(files)})
}

// Create runs a backup now, attributed to the calling admin.
func (h *BackupHandler) Create(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	name, err := h.Service.Trigger(c.Request.Context(), user.ID, user.Username)
	if err != nil {
		util.Fail(c, util.Internal("create backup", err))
		return
	}
	util.Created(c, util.Response{"filename": name})
}
