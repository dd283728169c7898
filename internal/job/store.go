package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Store persists tasks in the tasks table created by the db package
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// storedParams is the JSON kept in the params column. Credentials are
// never written.
type storedParams struct {
	Entries        int    `json:"entries"`
	Backend        string `json:"backend"`
	Model          string `json:"model,omitempty"`
	SourceLanguage string `json:"source_language,omitempty"`
	TargetLanguage string `json:"target_language"`
}

const taskColumns = `id, owner_id, name, state, params, progress, completed_batches, total_batches,
	failed_batches, error, created_at, started_at, completed_at`

// Insert records a new task
func (s *Store) Insert(ctx context.Context, t *Task) error {
	params, err := json.Marshal(storedParams{
		Entries:        t.Entries,
		Backend:        t.Backend,
		Model:          t.Model,
		SourceLanguage: t.SourceLanguage,
		TargetLanguage: t.TargetLanguage,
	})
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, owner_id, name, state, params, progress, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OwnerID, t.Name, t.State, string(params), t.Progress, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Update writes the mutable status fields of t
func (s *Store) Update(ctx context.Context, t *Task) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET state = ?, progress = ?, completed_batches = ?, total_batches = ?,
			failed_batches = ?, error = ?, started_at = ?, completed_at = ?
		WHERE id = ?`,
		t.State, t.Progress, t.CompletedBatches, t.TotalBatches, t.FailedBatches,
		nullString(t.Error), nullTime(t.StartedAt), nullTime(t.CompletedAt), t.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

// SaveResult stores the final result of a task
func (s *Store) SaveResult(ctx context.Context, id string, res *Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = s.db.ExecContext(ctx, "UPDATE tasks SET result = ? WHERE id = ?", string(data), id)
	return err
}

// Get returns a task by ID
func (s *Store) Get(ctx context.Context, id string) (*Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// List returns tasks newest first. ownerID 0 lists every owner.
func (s *Store) List(ctx context.Context, ownerID int64) ([]*Task, error) {
	query := "SELECT " + taskColumns + " FROM tasks"
	var args []any
	if ownerID != 0 {
		query += " WHERE owner_id = ?"
		args = append(args, ownerID)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []*Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Result loads the stored result of a task
func (s *Store) Result(ctx context.Context, id string) (*Result, error) {
	var data sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT result FROM tasks WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !data.Valid || data.String == "" {
		return nil, ErrNotFinished
	}
	var res Result
	if err := json.Unmarshal([]byte(data.String), &res); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &res, nil
}

// MarkInterrupted fails every task left unfinished by a previous process
func (s *Store) MarkInterrupted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET state = ?, error = ?, completed_at = ?
		WHERE state NOT IN (?, ?, ?)`,
		StateFailed, "interrupted by restart", time.Now().UTC(),
		StateCompleted, StateFailed, StateCancelled,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteFinishedBefore removes terminal tasks that completed before cutoff
func (s *Store) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM tasks WHERE state IN (?, ?, ?) AND completed_at IS NOT NULL AND completed_at < ?`,
		StateCompleted, StateFailed, StateCancelled, cutoff,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanTask(row interface{ Scan(...any) error }) (*Task, error) {
	t := &Task{}
	var params string
	var errMsg sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&t.ID, &t.OwnerID, &t.Name, &t.State, &params, &t.Progress,
		&t.CompletedBatches, &t.TotalBatches, &t.FailedBatches, &errMsg,
		&t.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	var sp storedParams
	if err := json.Unmarshal([]byte(params), &sp); err == nil {
		t.Entries = sp.Entries
		t.Backend = sp.Backend
		t.Model = sp.Model
		t.SourceLanguage = sp.SourceLanguage
		t.TargetLanguage = sp.TargetLanguage
	}
	if errMsg.Valid {
		t.Error = errMsg.String
	}
	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
