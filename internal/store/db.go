package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"mailprobe/internal/models"
)

// DB persists bulk verification jobs and their per-address results.
type DB struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres and runs migrations.
func Open(connString string) (*DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	db := &DB{pool: pool}
	if err := db.migrate(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

func (db *DB) migrate(ctx context.Context) error {
	// Table: jobs (tracks bulk upload batches)
	queryJobs := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		total_count INT DEFAULT 0,
		processed_count INT DEFAULT 0,
		created_at TIMESTAMP DEFAULT NOW(),
		completed_at TIMESTAMP
	);`

	// Table: results (one row per verified address)
	// The full result goes into JSONB so evidence can be re-analyzed later.
	queryResults := `
	CREATE TABLE IF NOT EXISTS results (
		id SERIAL PRIMARY KEY,
		job_id TEXT NOT NULL REFERENCES jobs(id),
		email TEXT NOT NULL,
		verdict TEXT NOT NULL,
		data JSONB NOT NULL
	);`

	if _, err := db.pool.Exec(ctx, queryJobs); err != nil {
		return fmt.Errorf("migration failed (jobs): %w", err)
	}
	if _, err := db.pool.Exec(ctx, queryResults); err != nil {
		return fmt.Errorf("migration failed (results): %w", err)
	}
	return nil
}

// CreateJob registers a pending job with its expected address count.
func (db *DB) CreateJob(ctx context.Context, jobID string, total int) error {
	query := `INSERT INTO jobs (id, status, total_count, created_at) VALUES ($1, 'pending', $2, $3)`
	if _, err := db.pool.Exec(ctx, query, jobID, total, time.Now()); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// SaveResult writes one result and advances its job's progress in a
// single transaction. The job flips to completed when the last address
// lands.
func (db *DB) SaveResult(ctx context.Context, jobID string, res models.VerificationResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO results (job_id, email, verdict, data)
		VALUES ($1, $2, $3, $4)
	`, jobID, res.Address, string(res.Verdict), data)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE jobs
		SET processed_count = processed_count + 1,
		    status = CASE
                WHEN processed_count + 1 >= total_count THEN 'completed'
                ELSE status
            END,
			completed_at = CASE
                WHEN processed_count + 1 >= total_count THEN NOW()
                ELSE completed_at
            END
		WHERE id = $1
	`, jobID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}

	return tx.Commit(ctx)
}

// JobStatus is the progress snapshot of one bulk job.
type JobStatus struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	TotalCount     int        `json:"total_count"`
	ProcessedCount int        `json:"processed_count"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// GetJob fetches one job's progress.
func (db *DB) GetJob(ctx context.Context, jobID string) (JobStatus, error) {
	var job JobStatus
	query := `
		SELECT id, status, total_count, processed_count, created_at, completed_at
		FROM jobs
		WHERE id = $1
	`
	err := db.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID,
		&job.Status,
		&job.TotalCount,
		&job.ProcessedCount,
		&job.CreatedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return JobStatus{}, fmt.Errorf("job %s: %w", jobID, err)
	}
	return job, nil
}

// ResultRow is one stored verification, the full result kept raw.
type ResultRow struct {
	Email   string          `json:"email"`
	Verdict string          `json:"verdict"`
	Data    json.RawMessage `json:"data"`
}

// JobResults returns a job's stored results in insertion order.
func (db *DB) JobResults(ctx context.Context, jobID string) ([]ResultRow, error) {
	query := `SELECT email, verdict, data FROM results WHERE job_id = $1 ORDER BY id ASC`

	rows, err := db.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	results := []ResultRow{}
	for rows.Next() {
		var row ResultRow
		if err := rows.Scan(&row.Email, &row.Verdict, &row.Data); err != nil {
			continue // Skip malformed rows
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// Close releases the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}
