package middleware

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"smb-ledger/internal/audit"
	"smb-ledger/internal/config"
	"smb-ledger/internal/util"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
)

// UploadFileKey holds the validated *multipart.FileHeader.
const UploadFileKey = "uploadFile"

// DangerousExtensions are rejected regardless of content type.
var DangerousExtensions = []string{".exe", ".bat", ".cmd", ".sh", ".ps1", ".vbs", ".js", ".jar", ".com", ".scr"}

// ValidateUpload checks the multipart field "file": size, extension and the
// sniffed content type against cfg. Every rejection is audited.
func ValidateUpload(cfg config.UploadConfig, log *audit.Log) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, cfg.MaxFileSize+1<<20)

		tooLarge := fmt.Sprintf("File too large. Maximum size is %d MB.", cfg.MaxFileSize>>20)
		reject := func(action audit.Action, msg string, details map[string]interface{}) {
			log.Record(audit.FromRequest(c, action, "upload", audit.StatusFailure).WithDetails(details))
			util.Error(c, http.StatusBadRequest, msg)
			c.Abort()
		}

		fh, err := c.FormFile("file")
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				reject(audit.ActionUploadFileTooLarge, tooLarge,
					map[string]interface{}{"max_size": cfg.MaxFileSize})
				return
			}
			util.Error(c, http.StatusBadRequest, "No file uploaded")
			c.Abort()
			return
		}

		if fh.Size > cfg.MaxFileSize {
			reject(audit.ActionUploadFileTooLarge, tooLarge,
				map[string]interface{}{"filename": fh.Filename, "size": fh.Size, "max_size": cfg.MaxFileSize})
			return
		}

		ext := strings.ToLower(filepath.Ext(fh.Filename))
		if isDangerousExtension(fh.Filename) {
			reject(audit.ActionUploadDangerousExtension, "File type not allowed",
				map[string]interface{}{"filename": fh.Filename, "extension": ext})
			return
		}

		detected, err := sniff(fh)
		if err != nil {
			util.Fail(c, util.Internal("read upload", err))
			return
		}
		if !allowedType(detected, cfg.AllowedMimeTypes) {
			reject(audit.ActionUploadInvalidFileType, "Invalid file type",
				map[string]interface{}{
					"filename":  fh.Filename,
					"mime_type": detected.String(),
					"declared":  fh.Header.Get("Content-Type"),
				})
			return
		}

		log.Record(audit.FromRequest(c, audit.ActionUploadFileValidated, "upload", audit.StatusSuccess).
			WithDetails(map[string]interface{}{
				"filename":  fh.Filename,
				"size":      fh.Size,
				"mime_type": detected.String(),
			}))
		c.Set(UploadFileKey, fh)
		c.Next()
	}
}

// isDangerousExtension also catches double extensions such as "invoice.exe.pdf".
func isDangerousExtension(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range DangerousExtensions {
		if strings.HasSuffix(lower, ext) || strings.Contains(lower, ext+".") {
			return true
		}
	}
	return false
}

func sniff(fh *multipart.FileHeader) (*mimetype.MIME, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return mimetype.DetectReader(f)
}

func allowedType(m *mimetype.MIME, allowed []string) bool {
	for ; m != nil; m = m.Parent() {
		for _, a := range allowed {
			if m.Is(a) {
				return true
			}
		}
	}
	return false
}

// SanitizeFilename strips directories and anything outside [A-Za-z0-9._-].
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	if out == "" {
		out = "file"
	}
	if len(out) > 100 {
		out = out[len(out)-100:]
	}
	return out
}
