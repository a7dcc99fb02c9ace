package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"site-decisions/internal/config"
	"site-decisions/internal/workflow"
)

type SQLProvider struct {
	db     *sqlx.DB
	driver string

	config *config.Storage

	logger *slog.Logger
}

func NewSQLProvider(config *config.Storage, driverName string, dataSource string) (*SQLProvider, error) {
	db, err := sqlx.Open(driverName, dataSource)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLProvider{
		db:     db,
		driver: driverName,
		config: config,
		logger: slog.With("component", "storage", "driver", driverName),
	}, nil
}

func (p *SQLProvider) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func (p *SQLProvider) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			p.logger.Error("Rollback failed", "error", rbErr)
		}
		return err
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Schema
// ---------------------------------------------------------------------------

const createSchemaMigrations = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version     INTEGER PRIMARY KEY,
	name        TEXT NOT NULL,
	applied_at  DATETIME NOT NULL
)`

func (p *SQLProvider) GetSchemaVersion(ctx context.Context) (int, error) {
	if _, err := p.db.ExecContext(ctx, createSchemaMigrations); err != nil {
		return -1, fmt.Errorf("failed to create schema_migrations: %w", err)
	}
	var version int
	if err := p.db.GetContext(ctx, &version, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`); err != nil {
		return -1, err
	}
	return version, nil
}

// Migrate moves the schema to target. -1 migrates to the latest version.
func (p *SQLProvider) Migrate(ctx context.Context, target int) error {
	current, err := p.GetSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations, err := NewMigrationRunner(p.driver).LoadMigrations(current, target)
	if errors.Is(err, ErrMigrateCurrentVersionSameAsTarget) {
		p.logger.Debug("Schema is up to date", "version", current)
		return nil
	} else if err != nil {
		return err
	}

	for _, m := range migrations {
		err := p.withTx(ctx, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
				return err
			}
			if m.Up {
				_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
					m.Version, m.Name, time.Now().UTC())
				return err
			}
			_, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = ?`, m.Version)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %04d_%s failed: %w", m.Version, m.Name, err)
		}
		p.logger.Info("Applied migration", "version", m.Version, "name", m.Name, "up", m.Up, "schema_version", m.After())
	}
	return nil
}

// ---------------------------------------------------------------------------
// Approval requests
// ---------------------------------------------------------------------------

const (
	approvalColumns = `id, entity_type, entity_id, title, requester_id, current_status, version, created_at, updated_at`
	stepColumns     = `id, request_id, step_order, approver_role, approver_id, status, comments, decided_at`
)

func (p *SQLProvider) CreateApprovalRequest(ctx context.Context, r workflow.ApprovalRequest) (workflow.ApprovalRequest, error) {
	r = r.Clone()
	r.Version = 1
	err := p.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, `INSERT INTO approval_requests (`+approvalColumns+`)
			VALUES (:id, :entity_type, :entity_id, :title, :requester_id, :current_status, :version, :created_at, :updated_at)`,
			toApprovalRow(r)); err != nil {
			return err
		}
		return insertSteps(ctx, tx, toStepRows(r))
	})
	if err != nil {
		return workflow.ApprovalRequest{}, fmt.Errorf("failed to create approval request: %w", err)
	}
	return r, nil
}

func insertSteps(ctx context.Context, tx *sqlx.Tx, rows []stepRow) error {
	if len(rows) == 0 {
		return nil
	}
	_, err := tx.NamedExecContext(ctx, `INSERT INTO approval_steps (`+stepColumns+`)
		VALUES (:id, :request_id, :step_order, :approver_role, :approver_id, :status, :comments, :decided_at)`, rows)
	return err
}

func (p *SQLProvider) GetApprovalRequest(ctx context.Context, id string) (workflow.ApprovalRequest, error) {
	var row approvalRow
	err := p.db.GetContext(ctx, &row, `SELECT `+approvalColumns+` FROM approval_requests WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.ApprovalRequest{}, fmt.Errorf("%w: approval request %s", workflow.ErrNotFound, id)
	} else if err != nil {
		return workflow.ApprovalRequest{}, err
	}

	var steps []stepRow
	if err := p.db.SelectContext(ctx, &steps, `SELECT `+stepColumns+` FROM approval_steps WHERE request_id = ? ORDER BY step_order`, id); err != nil {
		return workflow.ApprovalRequest{}, err
	}
	return row.approval(steps), nil
}

func (p *SQLProvider) ListApprovalRequests(ctx context.Context, filter ApprovalFilter) ([]workflow.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests WHERE 1 = 1`
	var args []any
	if filter.EntityType != "" {
		query += ` AND entity_type = ?`
		args = append(args, filter.EntityType)
	}
	if filter.EntityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, filter.EntityID)
	}
	if filter.Status != "" {
		query += ` AND current_status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY created_at, id`

	var rows []approvalRow
	if err := p.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []workflow.ApprovalRequest{}, nil
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	stepQuery, stepArgs, err := sqlx.In(`SELECT `+stepColumns+` FROM approval_steps WHERE request_id IN (?) ORDER BY request_id, step_order`, ids)
	if err != nil {
		return nil, err
	}
	var steps []stepRow
	if err := p.db.SelectContext(ctx, &steps, p.db.Rebind(stepQuery), stepArgs...); err != nil {
		return nil, err
	}
	byRequest := make(map[string][]stepRow, len(rows))
	for _, s := range steps {
		byRequest[s.RequestID] = append(byRequest[s.RequestID], s)
	}

	out := make([]workflow.ApprovalRequest, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.approval(byRequest[row.ID]))
	}
	return out, nil
}

// Update parameters: the new row plus the version the caller loaded.
type approvalUpdate struct {
	approvalRow
	Expected int `db:"expected"`
}

type meetingUpdate struct {
	meetingRow
	Expected int `db:"expected"`
}

func (p *SQLProvider) SaveApprovalRequest(ctx context.Context, r workflow.ApprovalRequest) (workflow.ApprovalRequest, error) {
	r = r.Clone()
	expected := r.Version
	r.Version = expected + 1

	err := p.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.NamedExecContext(ctx, `UPDATE approval_requests SET
				title = :title, current_status = :current_status, version = :version, updated_at = :updated_at
			WHERE id = :id AND version = :expected`,
			approvalUpdate{approvalRow: toApprovalRow(r), Expected: expected})
		if err != nil {
			return err
		}
		if err := p.checkSaved(ctx, tx, res, "approval_requests", r.ID, expected); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM approval_steps WHERE request_id = ?`, r.ID); err != nil {
			return err
		}
		return insertSteps(ctx, tx, toStepRows(r))
	})
	if err != nil {
		return workflow.ApprovalRequest{}, err
	}
	return r, nil
}

// checkSaved turns a zero-row versioned update into ErrVersionConflict or a
// not found error.
func (p *SQLProvider) checkSaved(ctx context.Context, tx *sqlx.Tx, res sql.Result, table, id string, expected int) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var stored int
	err = tx.GetContext(ctx, &stored, `SELECT version FROM `+table+` WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", workflow.ErrNotFound, table, id)
	} else if err != nil {
		return err
	}
	p.logger.Debug("Version conflict", "table", table, "id", id, "expected", expected, "stored", stored)
	return fmt.Errorf("%w (expected %d, stored %d)", ErrVersionConflict, expected, stored)
}

// ---------------------------------------------------------------------------
// Meetings
// ---------------------------------------------------------------------------

const (
	meetingColumns = `id, title, owner_id, status, has_time_slots, scheduled_date, confirmed_slot_id, confirmed_at,
		invitations_sent_at, cancelled_at, cancel_reason, completed_at, version, created_at, updated_at`
	slotColumns     = `id, meeting_id, slot_number, proposed_start, proposed_end, vote_count, is_confirmed`
	attendeeColumns = `id, meeting_id, user_id, email, attendance_status, responded_at`
	voteColumns     = `meeting_id, attendee_id, time_slot_id, voted_at`
)

func (p *SQLProvider) CreateMeeting(ctx context.Context, m workflow.Meeting) (workflow.Meeting, error) {
	m = m.Clone()
	m.Version = 1
	err := p.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, `INSERT INTO meetings (`+meetingColumns+`)
			VALUES (:id, :title, :owner_id, :status, :has_time_slots, :scheduled_date, :confirmed_slot_id, :confirmed_at,
				:invitations_sent_at, :cancelled_at, :cancel_reason, :completed_at, :version, :created_at, :updated_at)`,
			toMeetingRow(m)); err != nil {
			return err
		}
		return insertMeetingRows(ctx, tx, toMeetingRows(m))
	})
	if err != nil {
		return workflow.Meeting{}, fmt.Errorf("failed to create meeting: %w", err)
	}
	return m, nil
}

func insertMeetingRows(ctx context.Context, tx *sqlx.Tx, rows meetingRows) error {
	if len(rows.slots) > 0 {
		if _, err := tx.NamedExecContext(ctx, `INSERT INTO meeting_time_slots (`+slotColumns+`)
			VALUES (:id, :meeting_id, :slot_number, :proposed_start, :proposed_end, :vote_count, :is_confirmed)`, rows.slots); err != nil {
			return err
		}
	}
	if len(rows.attendees) > 0 {
		if _, err := tx.NamedExecContext(ctx, `INSERT INTO meeting_attendees (`+attendeeColumns+`)
			VALUES (:id, :meeting_id, :user_id, :email, :attendance_status, :responded_at)`, rows.attendees); err != nil {
			return err
		}
	}
	if len(rows.votes) > 0 {
		if _, err := tx.NamedExecContext(ctx, `INSERT INTO meeting_time_votes (`+voteColumns+`)
			VALUES (:meeting_id, :attendee_id, :time_slot_id, :voted_at)`, rows.votes); err != nil {
			return err
		}
	}
	return nil
}

type queryer interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

func loadMeetingRows(ctx context.Context, q queryer, id string) (meetingRows, error) {
	var rows meetingRows
	if err := q.SelectContext(ctx, &rows.slots, `SELECT `+slotColumns+` FROM meeting_time_slots WHERE meeting_id = ? ORDER BY slot_number`, id); err != nil {
		return rows, err
	}
	if err := q.SelectContext(ctx, &rows.attendees, `SELECT `+attendeeColumns+` FROM meeting_attendees WHERE meeting_id = ? ORDER BY rowid`, id); err != nil {
		return rows, err
	}
	if err := q.SelectContext(ctx, &rows.votes, `SELECT `+voteColumns+` FROM meeting_time_votes WHERE meeting_id = ? ORDER BY rowid`, id); err != nil {
		return rows, err
	}
	return rows, nil
}

func (p *SQLProvider) GetMeeting(ctx context.Context, id string) (workflow.Meeting, error) {
	var row meetingRow
	err := p.db.GetContext(ctx, &row, `SELECT `+meetingColumns+` FROM meetings WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.Meeting{}, fmt.Errorf("%w: meeting %s", workflow.ErrNotFound, id)
	} else if err != nil {
		return workflow.Meeting{}, err
	}

	rows, err := loadMeetingRows(ctx, p.db, id)
	if err != nil {
		return workflow.Meeting{}, err
	}
	return row.meeting(rows), nil
}

func (p *SQLProvider) ListMeetings(ctx context.Context, filter MeetingFilter) ([]workflow.Meeting, error) {
	query := `SELECT ` + meetingColumns + ` FROM meetings WHERE 1 = 1`
	var args []any
	if filter.OwnerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, filter.OwnerID)
	}
	if filter.ParticipantID != "" {
		query += ` AND (owner_id = ? OR id IN (SELECT meeting_id FROM meeting_attendees WHERE user_id = ?))`
		args = append(args, filter.ParticipantID, filter.ParticipantID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY created_at, id`

	var rows []meetingRow
	if err := p.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	out := make([]workflow.Meeting, 0, len(rows))
	for _, row := range rows {
		children, err := loadMeetingRows(ctx, p.db, row.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, row.meeting(children))
	}
	return out, nil
}

func (p *SQLProvider) SaveMeeting(ctx context.Context, m workflow.Meeting) (workflow.Meeting, error) {
	m = m.Clone()
	expected := m.Version
	m.Version = expected + 1

	err := p.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.NamedExecContext(ctx, `UPDATE meetings SET
				title = :title, status = :status, scheduled_date = :scheduled_date,
				confirmed_slot_id = :confirmed_slot_id, confirmed_at = :confirmed_at,
				invitations_sent_at = :invitations_sent_at, cancelled_at = :cancelled_at,
				cancel_reason = :cancel_reason, completed_at = :completed_at,
				version = :version, updated_at = :updated_at
			WHERE id = :id AND version = :expected`,
			meetingUpdate{meetingRow: toMeetingRow(m), Expected: expected})
		if err != nil {
			return err
		}
		if err := p.checkSaved(ctx, tx, res, "meetings", m.ID, expected); err != nil {
			return err
		}
		for _, table := range []string{"meeting_time_votes", "meeting_attendees", "meeting_time_slots"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE meeting_id = ?`, m.ID); err != nil {
				return err
			}
		}
		return insertMeetingRows(ctx, tx, toMeetingRows(m))
	})
	if err != nil {
		return workflow.Meeting{}, err
	}
	return m, nil
}

// ---------------------------------------------------------------------------
// Idempotency keys
// ---------------------------------------------------------------------------

func (p *SQLProvider) CreateIdempotencyKey(ctx context.Context, key string, expiresAt time.Time) (bool, error) {
	var created bool
	err := p.withTx(ctx, func(tx *sqlx.Tx) error {
		// An expired key may be reused.
		if _, err := tx.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE key = ? AND expires_at <= ?`, key, time.Now().UTC()); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO idempotency_keys (key, expires_at) VALUES (?, ?)`, key, expiresAt.UTC())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		created = n == 1
		return err
	})
	return created, err
}

func (p *SQLProvider) ExistsIdempotencyKey(ctx context.Context, key string, now time.Time) (bool, error) {
	var count int
	err := p.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM idempotency_keys WHERE key = ? AND expires_at > ?`, key, now.UTC())
	return count > 0, err
}

func (p *SQLProvider) ExpireIdempotencyKeys(ctx context.Context, now time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
