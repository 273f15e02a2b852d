package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/ruijietay/Dabao4Me/internal/engine"
	"github.com/ruijietay/Dabao4Me/internal/models"
)

// SQLite backs both the request and rating stores with a single database
// file. All guarded mutations are single UPDATE/DELETE statements whose
// WHERE clause carries the guard, checked through RowsAffected.
type SQLite struct {
	conn *sql.DB
}

var (
	_ engine.RequestStore = (*SQLite)(nil)
	_ engine.RatingStore  = (*SQLite)(nil)
)

// OpenSQLite opens (and migrates) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLite{conn: conn}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		requester_id INTEGER NOT NULL,
		requester_name TEXT NOT NULL,
		requester_chat_id INTEGER NOT NULL,
		canteen TEXT NOT NULL,
		food TEXT NOT NULL,
		tip TEXT NOT NULL,
		fulfiller_id INTEGER NOT NULL DEFAULT 0,
		fulfiller_name TEXT NOT NULL DEFAULT '',
		fulfiller_chat_id INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		requester_confirmed INTEGER NOT NULL DEFAULT 0,
		fulfiller_confirmed INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ratings (
		user_id INTEGER PRIMARY KEY,
		good_given INTEGER NOT NULL DEFAULT 0,
		bad_given INTEGER NOT NULL DEFAULT 0,
		good_received INTEGER NOT NULL DEFAULT 0,
		bad_received INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_requests_canteen_status ON requests(canteen, status);
	CREATE INDEX IF NOT EXISTS idx_requests_requester_status ON requests(requester_id, status);
	`

	_, err := s.conn.Exec(schema)
	return err
}

const requestColumns = `id, requester_id, requester_name, requester_chat_id, canteen, food, tip,
	fulfiller_id, fulfiller_name, fulfiller_chat_id, status, requester_confirmed, fulfiller_confirmed, created_at`

func (s *SQLite) Put(ctx context.Context, req models.Request) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO requests (`+requestColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.RequesterID, req.RequesterName, req.RequesterChatID,
		string(req.Canteen), req.Food, req.Tip.String(),
		req.FulfillerID, req.FulfillerName, req.FulfillerChatID,
		string(req.Status), req.RequesterConfirmed, req.FulfillerConfirmed, req.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting request: %w", err)
	}
	return nil
}

func scanRequest(row interface{ Scan(...any) error }) (models.Request, error) {
	var req models.Request
	var canteen, status, tip string
	err := row.Scan(
		&req.ID, &req.RequesterID, &req.RequesterName, &req.RequesterChatID,
		&canteen, &req.Food, &tip,
		&req.FulfillerID, &req.FulfillerName, &req.FulfillerChatID,
		&status, &req.RequesterConfirmed, &req.FulfillerConfirmed, &req.CreatedAt,
	)
	if err != nil {
		return models.Request{}, err
	}
	req.Canteen = models.Canteen(canteen)
	req.Status = models.RequestStatus(status)
	req.Tip, err = decimal.NewFromString(tip)
	if err != nil {
		return models.Request{}, fmt.Errorf("stored tip %q: %w", tip, err)
	}
	return req, nil
}

func (s *SQLite) GetByID(ctx context.Context, id string) (models.Request, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE id = ?`, id)
	req, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return models.Request{}, engine.ErrNotFound
	}
	if err != nil {
		return models.Request{}, fmt.Errorf("loading request %s: %w", id, err)
	}
	return req, nil
}

func (s *SQLite) ConditionalUpdate(ctx context.Context, id string, expected models.RequestStatus, update engine.RequestUpdate) error {
	var sets []string
	var args []any
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if update.Canteen != nil {
		add("canteen", string(*update.Canteen))
	}
	if update.Food != nil {
		add("food", *update.Food)
	}
	if update.Tip != nil {
		add("tip", update.Tip.String())
	}
	if update.Status != nil {
		add("status", string(*update.Status))
	}
	if update.FulfillerID != nil {
		add("fulfiller_id", *update.FulfillerID)
	}
	if update.FulfillerName != nil {
		add("fulfiller_name", *update.FulfillerName)
	}
	if update.FulfillerChatID != nil {
		add("fulfiller_chat_id", *update.FulfillerChatID)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id, string(expected))

	result, err := s.conn.ExecContext(ctx,
		`UPDATE requests SET `+strings.Join(sets, ", ")+` WHERE id = ? AND status = ?`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("updating request %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating request %s: %w", id, err)
	}
	if rows == 0 {
		return s.guardFailure(ctx, id)
	}
	return nil
}

func (s *SQLite) ConditionalDelete(ctx context.Context, id string, expected models.RequestStatus) error {
	result, err := s.conn.ExecContext(ctx,
		`DELETE FROM requests WHERE id = ? AND status = ?`, id, string(expected))
	if err != nil {
		return fmt.Errorf("deleting request %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting request %s: %w", id, err)
	}
	if rows == 0 {
		return s.guardFailure(ctx, id)
	}
	return nil
}

// guardFailure classifies a zero-row guarded mutation: either the record
// is gone or it sits in a different status.
func (s *SQLite) guardFailure(ctx context.Context, id string) error {
	var one int
	err := s.conn.QueryRowContext(ctx, `SELECT 1 FROM requests WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return engine.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking request %s: %w", id, err)
	}
	return engine.ErrStateConflict
}

func (s *SQLite) ConfirmCompletion(ctx context.Context, id string, role models.Role) (models.Request, error) {
	ownFlag, otherFlag := "requester_confirmed", "fulfiller_confirmed"
	if role == models.RoleFulfiller {
		ownFlag, otherFlag = otherFlag, ownFlag
	}

	// One statement sets this side's flag and, when the other side had
	// already confirmed, flips the status in the same write. That makes
	// the InProgress -> Complete transition fire exactly once however the
	// two confirmations interleave.
	result, err := s.conn.ExecContext(ctx, fmt.Sprintf(
		`UPDATE requests
		 SET %s = 1,
		     status = CASE WHEN %s = 1 THEN ? ELSE status END
		 WHERE id = ? AND status = ? AND %s = 0`,
		ownFlag, otherFlag, ownFlag),
		string(models.StatusComplete), id, string(models.StatusInProgress),
	)
	if err != nil {
		return models.Request{}, fmt.Errorf("confirming completion of %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return models.Request{}, fmt.Errorf("confirming completion of %s: %w", id, err)
	}
	if rows == 0 {
		req, err := s.GetByID(ctx, id)
		if err != nil {
			return models.Request{}, err
		}
		if req.Status != models.StatusInProgress {
			return models.Request{}, engine.ErrNotInProgress
		}
		return models.Request{}, engine.ErrAlreadyConfirmed
	}

	return s.GetByID(ctx, id)
}

func (s *SQLite) QueryByCanteen(ctx context.Context, canteen models.Canteen, status models.RequestStatus) ([]models.Request, error) {
	return s.queryRequests(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE canteen = ? AND status = ?`,
		string(canteen), string(status))
}

func (s *SQLite) QueryByRequester(ctx context.Context, requesterID int64, status models.RequestStatus) ([]models.Request, error) {
	return s.queryRequests(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE requester_id = ? AND status = ?`,
		requesterID, string(status))
}

func (s *SQLite) queryRequests(ctx context.Context, query string, args ...any) ([]models.Request, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying requests: %w", err)
	}
	defer rows.Close()

	var reqs []models.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning request: %w", err)
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

var ratingFields = map[engine.RatingField]bool{
	engine.FieldGoodGiven:    true,
	engine.FieldBadGiven:     true,
	engine.FieldGoodReceived: true,
	engine.FieldBadReceived:  true,
}

func (s *SQLite) GetOrDefault(ctx context.Context, userID int64) (models.RatingRecord, error) {
	rec := models.RatingRecord{UserID: userID}
	err := s.conn.QueryRowContext(ctx,
		`SELECT good_given, bad_given, good_received, bad_received FROM ratings WHERE user_id = ?`,
		userID,
	).Scan(&rec.GoodGiven, &rec.BadGiven, &rec.GoodReceived, &rec.BadReceived)
	if err == sql.ErrNoRows {
		return rec, nil
	}
	if err != nil {
		return models.RatingRecord{}, fmt.Errorf("loading ratings for %d: %w", userID, err)
	}
	return rec, nil
}

func (s *SQLite) Increment(ctx context.Context, userID int64, field engine.RatingField, delta int64) error {
	if !ratingFields[field] {
		return fmt.Errorf("unknown rating field %q", field)
	}
	_, err := s.conn.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO ratings (user_id, %s) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET %s = %s + excluded.%s`,
		field, field, field, field),
		userID, delta,
	)
	if err != nil {
		return fmt.Errorf("incrementing %s for %d: %w", field, userID, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

// PurgeTerminal deletes closed and completed requests older than the
// given age, for the background cleanup job.
func (s *SQLite) PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result, err := s.conn.ExecContext(ctx,
		`DELETE FROM requests WHERE status IN (?, ?) AND created_at < ?`,
		string(models.StatusClosed), string(models.StatusComplete), cutoff,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
