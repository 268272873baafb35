// README: Append-only audit trail for state changes and money movements.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"yoonu/internal/types"
)

// Recorder appends audit entries. Recording is fire-and-forget: a failed
// insert is logged, never propagated, so an audit outage cannot block the
// operation being audited.
type Recorder struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewRecorder(db *pgxpool.Pool, logger *slog.Logger) *Recorder {
	return &Recorder{db: db, logger: logger}
}

// Record appends one entry. details may be nil.
func (r *Recorder) Record(ctx context.Context, actor types.ID, action, entityType string, entityID types.ID, details map[string]any) {
	var payload []byte
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			r.logger.Error("audit details marshal failed", "action", action, "error", err)
			return
		}
		payload = b
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO audit_log (actor_id, action, entity_type, entity_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, now())`,
		string(actor), action, entityType, string(entityID), payload,
	)
	if err != nil {
		r.logger.Error("audit insert failed",
			"action", action,
			"entity_type", entityType,
			"entity_id", entityID,
			"error", err,
		)
	}
}
