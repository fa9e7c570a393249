package shared

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ApprovalAction enumerates approval log actions.
type ApprovalAction string

const (
	// ApprovalApprove signs off a reviewed item.
	ApprovalApprove ApprovalAction = "APPROVE"
	// ApprovalReject sends an item back.
	ApprovalReject ApprovalAction = "REJECT"
)

// ApprovalLog is a single sign-off on a task or other reviewed record.
type ApprovalLog struct {
	Module  string
	RefID   uuid.UUID
	ActorID int64
	Action  ApprovalAction
	Note    string
	At      time.Time
}

// ApprovalRecorder persists approval history.
type ApprovalRecorder struct {
	db     Execer
	logger *slog.Logger
}

// NewApprovalRecorder constructs ApprovalRecorder.
func NewApprovalRecorder(db Execer, logger *slog.Logger) *ApprovalRecorder {
	return &ApprovalRecorder{db: db, logger: logger}
}

// Record writes an approval entry.
func (r *ApprovalRecorder) Record(ctx context.Context, log ApprovalLog) error {
	if r == nil || r.db == nil {
		return ErrStoreNotInitialised
	}
	switch {
	case log.Module == "":
		return errors.New("approval module required")
	case log.ActorID <= 0:
		return errors.New("approval actor required")
	case log.RefID == uuid.Nil:
		return errors.New("approval ref id required")
	case log.Action != ApprovalApprove && log.Action != ApprovalReject:
		return errors.New("approval action invalid")
	}
	var at *time.Time
	if !log.At.IsZero() {
		ts := log.At.UTC()
		at = &ts
	}
	_, err := r.db.Exec(ctx, `INSERT INTO approvals (module, ref_id, actor_id, action, note, at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, log.Module, log.RefID, log.ActorID, string(log.Action), log.Note, at)
	if err != nil {
		if r.logger != nil {
			r.logger.Error("record approval", slog.String("module", log.Module), slog.String("ref_id", log.RefID.String()), slog.Any("error", err))
		}
		return err
	}
	return nil
}
