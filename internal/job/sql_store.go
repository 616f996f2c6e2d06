package job

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/applybot/jobtracker/internal/db"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	progress INTEGER NOT NULL,
	payload TEXT,
	result TEXT,
	error TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

const selectJobs = `SELECT id, status, progress, payload, result, error, created_at, updated_at FROM jobs`

// SQLStore keeps jobs in a SQLite table. Every call goes to the database.
type SQLStore struct {
	db *sqlx.DB
}

// OpenSQLStore opens the database file at path and prepares the jobs table.
func OpenSQLStore(path string) (*SQLStore, error) {
	conn, err := db.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	s, err := NewSQLStore(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func NewSQLStore(conn *sqlx.DB) (*SQLStore, error) {
	if _, err := conn.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLStore{db: conn}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type jobRow struct {
	ID        string         `db:"id"`
	Status    string         `db:"status"`
	Progress  int            `db:"progress"`
	Payload   sql.NullString `db:"payload"`
	Result    sql.NullString `db:"result"`
	Error     sql.NullString `db:"error"`
	CreatedAt string         `db:"created_at"`
	UpdatedAt string         `db:"updated_at"`
}

func (r *jobRow) toJob() (*Job, error) {
	j := &Job{
		ID:       r.ID,
		Status:   Status(r.Status),
		Progress: r.Progress,
	}

	payload, err := decodeDocument(r.Payload.String)
	if err != nil {
		return nil, fmt.Errorf("job %s payload: %w", r.ID, err)
	}
	if payload == nil {
		payload = Document{}
	}
	j.Payload = payload

	if r.Result.Valid {
		if j.Result, err = decodeDocument(r.Result.String); err != nil {
			return nil, fmt.Errorf("job %s result: %w", r.ID, err)
		}
	}
	if r.Error.Valid {
		msg := r.Error.String
		j.Error = &msg
	}

	if j.CreatedAt, err = time.Parse(time.RFC3339Nano, r.CreatedAt); err != nil {
		return nil, fmt.Errorf("job %s created_at: %w", r.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339Nano, r.UpdatedAt); err != nil {
		return nil, fmt.Errorf("job %s updated_at: %w", r.ID, err)
	}
	return j, nil
}

func (s *SQLStore) Create(ctx context.Context, payload Document) (string, error) {
	j := New(payload)
	encoded, err := encodeDocument(j.Payload)
	if err != nil {
		return "", err
	}

	stamp := formatTime(j.CreatedAt)
	err = db.WithRetryTx(ctx, s.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (id, status, progress, payload, result, error, created_at, updated_at)
			 VALUES (?, ?, ?, ?, NULL, NULL, ?, ?)`,
			j.ID, string(j.Status), j.Progress, encoded, stamp, stamp,
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("insert job: %w", err)
	}
	return j.ID, nil
}

func (s *SQLStore) List(ctx context.Context) ([]*Job, error) {
	var rows []jobRow
	if err := sqlx.SelectContext(ctx, s.db, &rows, selectJobs+` ORDER BY created_at, rowid`); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	jobs := make([]*Job, 0, len(rows))
	for i := range rows {
		j, err := rows[i].toJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Job, bool, error) {
	return getJob(ctx, s.db, id)
}

func getJob(ctx context.Context, q sqlx.QueryerContext, id string) (*Job, bool, error) {
	var row jobRow
	err := sqlx.GetContext(ctx, q, &row, selectJobs+` WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get job: %w", err)
	}
	j, err := row.toJob()
	if err != nil {
		return nil, false, err
	}
	return j, true, nil
}

func (s *SQLStore) UpdateStatus(ctx context.Context, id string, u StatusUpdate) error {
	err := db.WithRetryTx(ctx, s.db, func(tx *sqlx.Tx) error {
		j, ok, err := getJob(ctx, tx, id)
		if err != nil || !ok {
			return err
		}

		u.Apply(j, time.Now().UTC())

		var result sql.NullString
		if j.Result != nil {
			encoded, err := encodeDocument(j.Result)
			if err != nil {
				return err
			}
			result = sql.NullString{String: encoded, Valid: true}
		}
		var errMsg sql.NullString
		if j.Error != nil {
			errMsg = sql.NullString{String: *j.Error, Valid: true}
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, progress = ?, result = ?, error = ?, updated_at = ? WHERE id = ?`,
			string(j.Status), j.Progress, result, errMsg, formatTime(j.UpdatedAt), id,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

func (s *SQLStore) UpdatePayload(ctx context.Context, id string, updates Document) (*Job, bool, error) {
	var updated *Job
	err := db.WithRetryTx(ctx, s.db, func(tx *sqlx.Tx) error {
		j, ok, err := getJob(ctx, tx, id)
		if err != nil || !ok {
			return err
		}

		j.Payload = j.Payload.Merge(updates)
		j.UpdatedAt = time.Now().UTC()
		encoded, err := encodeDocument(j.Payload)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET payload = ?, updated_at = ? WHERE id = ?`,
			encoded, formatTime(j.UpdatedAt), id,
		); err != nil {
			return err
		}
		updated = j
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("update job payload: %w", err)
	}
	return updated, updated != nil, nil
}

func (s *SQLStore) Restart(ctx context.Context, id string, updates Document) (*Job, bool, error) {
	var restarted *Job
	err := db.WithRetryTx(ctx, s.db, func(tx *sqlx.Tx) error {
		j, ok, err := getJob(ctx, tx, id)
		if err != nil || !ok {
			return err
		}
		if j.Status == StatusRunning {
			return ErrRunning
		}

		j.Payload = j.Payload.Merge(updates)
		StatusUpdate{Status: StatusQueued, Progress: Int(0)}.Apply(j, time.Now().UTC())
		encoded, err := encodeDocument(j.Payload)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, progress = ?, payload = ?, result = NULL, error = NULL, updated_at = ? WHERE id = ?`,
			string(j.Status), j.Progress, encoded, formatTime(j.UpdatedAt), id,
		); err != nil {
			return err
		}
		restarted = j
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("restart job: %w", err)
	}
	return restarted, restarted != nil, nil
}

// formatTime uses a fixed-width layout so stored timestamps sort as text.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}
