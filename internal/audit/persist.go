package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"smb-ledger/internal/models"
	"smb-ledger/internal/util"

	"gorm.io/gorm"
)

// Mirror copies chain entries into the audit_logs table. Details are
// encrypted at rest.
type Mirror struct {
	DB         *gorm.DB
	EncryptKey string
}

// NewMirror writes to db, encrypting details with encryptKey.
func NewMirror(db *gorm.DB, encryptKey string) *Mirror {
	return &Mirror{DB: db, EncryptKey: encryptKey}
}

// Save persists one entry.
func (m *Mirror) Save(ctx context.Context, e Entry) error {
	var detailsEnc string
	if len(e.Details) > 0 {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshal details: %w", err)
		}
		detailsEnc, err = util.EncryptString(m.EncryptKey, string(raw))
		if err != nil {
			return fmt.Errorf("encrypt details: %w", err)
		}
	}

	row := models.AuditLog{
		ID:         e.ID,
		Seq:        e.Seq,
		Timestamp:  e.Timestamp,
		UserID:     e.UserID,
		Username:   e.Username,
		Action:     string(e.Action),
		Resource:   e.Resource,
		ResourceID: e.ResourceID,
		IPAddress:  e.IPAddress,
		UserAgent:  e.UserAgent,
		Status:     string(e.Status),
		DetailsEnc: detailsEnc,
		PrevHash:   e.PrevHash,
		Hash:       e.Hash,
	}
	if err := m.DB.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// Run drains in until ctx is cancelled, then flushes whatever is still
// buffered. Persistence failures are logged only.
func (m *Mirror) Run(ctx context.Context, in <-chan Entry) {
	for {
		select {
		case e := <-in:
			m.save(ctx, e)
		case <-ctx.Done():
			for {
				select {
				case e := <-in:
					m.save(context.Background(), e)
				default:
					return
				}
			}
		}
	}
}

func (m *Mirror) save(ctx context.Context, e Entry) {
	if err := m.Save(ctx, e); err != nil {
		slog.Error("audit mirror write failed", "id", e.ID, "action", string(e.Action), "error", err)
	}
}

// Load reads back the most recent persisted entries, details decrypted,
// most recent first.
func (m *Mirror) Load(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var rows []models.AuditLog
	if err := m.DB.WithContext(ctx).
		Order("recorded_at DESC, seq DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}

	out := make([]Entry, 0, len(rows))
	for i := range rows {
		r := &rows[i]
		e := Entry{
			ID:         r.ID,
			Seq:        r.Seq,
			Timestamp:  r.Timestamp.UTC(),
			UserID:     r.UserID,
			Username:   r.Username,
			Action:     Action(r.Action),
			Resource:   r.Resource,
			ResourceID: r.ResourceID,
			IPAddress:  r.IPAddress,
			UserAgent:  r.UserAgent,
			Status:     Status(r.Status),
			PrevHash:   r.PrevHash,
			Hash:       r.Hash,
		}
		if r.DetailsEnc != "" {
			plain, err := util.DecryptString(m.EncryptKey, r.DetailsEnc)
			if err != nil {
				return nil, fmt.Errorf("decrypt details of %s: %w", r.ID, err)
			}
			if err := json.Unmarshal([]byte(plain), &e.Details); err != nil {
				return nil, fmt.Errorf("unmarshal details of %s: %w", r.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, nil
}
