package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"amora-calls-backend/internal/errs"
	"amora-calls-backend/internal/models"

	"github.com/jackc/pgx/v5"
)

// CallRepository handles database operations for call sessions
type CallRepository struct {
	db PgxPool
}

// NewCallRepository creates a new call repository
func NewCallRepository(db PgxPool) *CallRepository {
	return &CallRepository{db: db}
}

// StatusUpdate describes a version-checked status transition.
// Nil timestamps leave the stored values untouched.
type StatusUpdate struct {
	Status          models.CallStatus
	StartedAt       *time.Time
	EndedAt         *time.Time
	DurationSeconds int
	EndReason       string
}

const callColumns = `
	id, caller_id, receiver_id, call_type, status, version,
	offer, answer, ice_candidates, end_reason,
	created_at, started_at, ended_at, duration_seconds
`

// Create creates a new call session with version 1
func (r *CallRepository) Create(ctx context.Context, session *models.CallSession) error {
	query := `
		INSERT INTO call_sessions (id, caller_id, receiver_id, call_type, status, version, ice_candidates, created_at)
		VALUES ($1, $2, $3, $4, $5, 1, '[]'::jsonb, $6)
	`
	_, err := r.db.Exec(ctx, query,
		session.ID, session.CallerID, session.ReceiverID,
		session.CallType, session.Status, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create call session: %w", err)
	}
	session.Version = 1
	return nil
}

// GetByID retrieves a call session by ID
func (r *CallRepository) GetByID(ctx context.Context, id string) (*models.CallSession, error) {
	query := `SELECT ` + callColumns + ` FROM call_sessions WHERE id = $1`
	session, err := scanCallSession(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("call session %s: %w", id, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get call session: %w", err)
	}
	return session, nil
}

// HasActiveCall checks whether the user participates in a non-terminal session
func (r *CallRepository) HasActiveCall(ctx context.Context, userID string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM call_sessions
			WHERE (caller_id = $1 OR receiver_id = $1)
			  AND status NOT IN ('ended', 'rejected', 'cancelled', 'failed')
		)
	`
	var exists bool
	err := r.db.QueryRow(ctx, query, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check active call: %w", err)
	}
	return exists, nil
}

// History retrieves call sessions for a user with pagination
func (r *CallRepository) History(ctx context.Context, userID string, limit, offset int) ([]*models.CallSession, int, error) {
	countQuery := `SELECT COUNT(*) FROM call_sessions WHERE caller_id = $1 OR receiver_id = $1`
	var total int
	err := r.db.QueryRow(ctx, countQuery, userID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count call sessions: %w", err)
	}

	query := `
		SELECT ` + callColumns + `
		FROM call_sessions
		WHERE caller_id = $1 OR receiver_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get call sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.CallSession
	for rows.Next() {
		session, err := scanCallSession(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan call session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating call sessions: %w", err)
	}

	return sessions, total, nil
}

// UpdateStatus applies a status transition guarded by the expected version.
// A concurrent writer that bumped the version first wins; the loser gets
// errs.ErrVersionConflict.
func (r *CallRepository) UpdateStatus(ctx context.Context, id string, expectedVersion int64, upd StatusUpdate) error {
	query := `
		UPDATE call_sessions
		SET status = $3,
		    version = version + 1,
		    started_at = COALESCE($4, started_at),
		    ended_at = COALESCE($5, ended_at),
		    duration_seconds = GREATEST(duration_seconds, $6),
		    end_reason = CASE WHEN $7 = '' THEN end_reason ELSE $7 END
		WHERE id = $1 AND version = $2
	`
	result, err := r.db.Exec(ctx, query,
		id, expectedVersion, upd.Status,
		upd.StartedAt, upd.EndedAt, upd.DurationSeconds, upd.EndReason,
	)
	if err != nil {
		return fmt.Errorf("failed to update call status: %w", err)
	}
	if result.RowsAffected() == 0 {
		exists, err := r.exists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("call session %s: %w", id, errs.ErrNotFound)
		}
		return fmt.Errorf("call session %s at version %d: %w", id, expectedVersion, errs.ErrVersionConflict)
	}
	return nil
}

// SetOffer stores the caller's SDP offer
func (r *CallRepository) SetOffer(ctx context.Context, id string, payload *models.SignalPayload) error {
	return r.setSignal(ctx, id, "offer", payload)
}

// SetAnswer stores the receiver's SDP answer
func (r *CallRepository) SetAnswer(ctx context.Context, id string, payload *models.SignalPayload) error {
	return r.setSignal(ctx, id, "answer", payload)
}

func (r *CallRepository) setSignal(ctx context.Context, id, column string, payload *models.SignalPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", column, err)
	}
	query := fmt.Sprintf(`UPDATE call_sessions SET %s = $2, version = version + 1 WHERE id = $1`, column)
	result, err := r.db.Exec(ctx, query, id, data)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", column, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("call session %s: %w", id, errs.ErrNotFound)
	}
	return nil
}

// AppendICECandidate appends one candidate to the session's candidate list
func (r *CallRepository) AppendICECandidate(ctx context.Context, id string, payload *models.SignalPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal ice candidate: %w", err)
	}
	query := `
		UPDATE call_sessions
		SET ice_candidates = ice_candidates || $2::jsonb,
		    version = version + 1
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query, id, data)
	if err != nil {
		return fmt.Errorf("failed to append ice candidate: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("call session %s: %w", id, errs.ErrNotFound)
	}
	return nil
}

// ExpireRinging cancels a session still in ringing, used by the ring timeout.
// Returns false when the session already left ringing.
func (r *CallRepository) ExpireRinging(ctx context.Context, id, endReason string) (bool, error) {
	query := `
		UPDATE call_sessions
		SET status = 'cancelled',
		    version = version + 1,
		    ended_at = $3,
		    end_reason = $2
		WHERE id = $1 AND status = 'ringing'
	`
	result, err := r.db.Exec(ctx, query, id, endReason, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to expire ringing call: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

func (r *CallRepository) exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM call_sessions WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check call session existence: %w", err)
	}
	return exists, nil
}

func scanCallSession(row pgx.Row) (*models.CallSession, error) {
	var (
		session       models.CallSession
		offer, answer []byte
		candidates    []byte
	)
	err := row.Scan(
		&session.ID, &session.CallerID, &session.ReceiverID,
		&session.CallType, &session.Status, &session.Version,
		&offer, &answer, &candidates, &session.EndReason,
		&session.CreatedAt, &session.StartedAt, &session.EndedAt, &session.DurationSeconds,
	)
	if err != nil {
		return nil, err
	}
	if len(offer) > 0 {
		if err := json.Unmarshal(offer, &session.Offer); err != nil {
			return nil, fmt.Errorf("failed to decode offer: %w", err)
		}
	}
	if len(answer) > 0 {
		if err := json.Unmarshal(answer, &session.Answer); err != nil {
			return nil, fmt.Errorf("failed to decode answer: %w", err)
		}
	}
	if len(candidates) > 0 {
		if err := json.Unmarshal(candidates, &session.ICECandidates); err != nil {
			return nil, fmt.Errorf("failed to decode ice candidates: %w", err)
		}
	}
	return &session, nil
}
