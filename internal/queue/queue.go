// Package queue implements the priority job queue: submit, atomic claim,
// complete/fail with a retry ladder to dead-letter, replay, and the
// visibility-timeout sweep (§4.G).
package queue

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/moltgrid/agentforge/internal/apierr"
	"github.com/moltgrid/agentforge/internal/events"
	"github.com/moltgrid/agentforge/internal/id"
	"github.com/moltgrid/agentforge/internal/metrics"
	"github.com/moltgrid/agentforge/internal/store"
)

// DefaultQueueName is used when the caller omits queue_name.
const DefaultQueueName = "default"

// DefaultPriority is used when the caller omits priority.
const DefaultPriority = 5

// DefaultMaxAttempts is used when the caller omits max_attempts.
const DefaultMaxAttempts = 3

// Status values a Job may hold, per §3's state machine.
const (
	StatusPending   = "pending"
	StatusClaimed   = "claimed"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusDead      = "dead"
)

// visibilityTimeoutReason is recorded as Job.Error when the sweep
// reclaims a job whose claim expired without completion.
const visibilityTimeoutReason = "visibility timeout"

// Job is a single job row.
type Job struct {
	JobID              string
	AgentID            string
	QueueName          string
	Payload            string
	Priority           int
	Status             string
	Attempts           int
	MaxAttempts        int
	ClaimedBy          string
	ClaimedAt          *time.Time
	CompletedAt        *time.Time
	Result             string
	Error              string
	CreatedAt          time.Time
	VisibilityDeadline *time.Time
}

// Queue provides the job-queue operations against the Store.
type Queue struct {
	store              *store.Store
	sink               events.Sink
	visibilityTimeout  time.Duration
}

// New builds a Queue. visibilityTimeout is the duration (V in §4.G)
// granted to a claimer before the job becomes reclaimable again.
func New(s *store.Store, sink events.Sink, visibilityTimeout time.Duration) *Queue {
	return &Queue{store: s, sink: sink, visibilityTimeout: visibilityTimeout}
}

// Submit inserts a new pending job for agentID. A nil priority or
// maxAttempts falls back to its package default; an explicit 0 from the
// caller (via a non-nil pointer) is honored rather than silently
// replaced.
func (q *Queue) Submit(ctx context.Context, agentID, queueName, payload string, priority, maxAttempts *int) (string, error) {
	if queueName == "" {
		queueName = DefaultQueueName
	}
	p := DefaultPriority
	if priority != nil {
		p = *priority
	}
	ma := DefaultMaxAttempts
	if maxAttempts != nil {
		ma = *maxAttempts
	}

	jobID := id.New(id.PrefixJob)
	now := store.Now()

	_, err := q.store.DB.ExecContext(ctx,
		`INSERT INTO jobs (job_id, agent_id, queue_name, payload, priority, status, attempts, max_attempts, created_at)
		 VALUES (?, ?, ?, ?, ?, 'pending', 0, ?, ?)`,
		jobID, agentID, queueName, payload, p, ma, now,
	)
	if err != nil {
		return "", apierr.Wrap(err, "submit job")
	}

	metrics.JobsSubmittedTotal.WithLabelValues(queueName).Inc()
	return jobID, nil
}

// Claim atomically pops the highest-priority pending job, breaking ties
// by earliest created_at, optionally restricted to queueName. It
// returns nil, nil when the queue is empty ({"status":"empty"} at the
// API layer).
func (q *Queue) Claim(ctx context.Context, claimerID, queueName string) (*Job, error) {
	var job *Job

	err := q.store.WithTx(ctx, func(tx *sql.Tx) error {
		query := `SELECT job_id FROM jobs WHERE status = 'pending'`
		args := []any{}
		if queueName != "" {
			query += ` AND queue_name = ?`
			args = append(args, queueName)
		}
		query += ` ORDER BY priority DESC, created_at ASC LIMIT 1`

		var jobID string
		err := tx.QueryRowContext(ctx, query, args...).Scan(&jobID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		nowStr := store.FormatTime(now)
		deadline := store.FormatTime(now.Add(q.visibilityTimeout))

		res, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = 'claimed', claimed_by = ?, claimed_at = ?,
			 visibility_deadline = ?, attempts = attempts + 1
			 WHERE job_id = ? AND status = 'pending'`,
			claimerID, nowStr, deadline, jobID,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			// Lost the race to another claimer between select and update.
			return nil
		}

		row := tx.QueryRowContext(ctx,
			`SELECT job_id, agent_id, queue_name, payload, priority, status, attempts, max_attempts,
			        claimed_by, claimed_at, completed_at, result, error, created_at, visibility_deadline
			 FROM jobs WHERE job_id = ?`, jobID,
		)
		j, err := scanJob(row)
		if err != nil {
			return err
		}
		job = j
		return nil
	})
	if err != nil {
		return nil, apierr.Wrap(err, "claim job")
	}

	if job != nil {
		metrics.JobsInFlight.WithLabelValues(job.QueueName).Inc()
	}
	return job, nil
}

// Complete marks jobID completed, requiring the caller to be the
// current claimer. It fires job.completed for the submitter.
func (q *Queue) Complete(ctx context.Context, callerID, jobID, result string) error {
	job, err := q.Get(ctx, "", jobID)
	if err != nil {
		return err
	}
	if job.Status != StatusClaimed || job.ClaimedBy != callerID {
		return apierr.NewBadRequest("job %q is not claimed by caller", jobID)
	}

	now := store.Now()
	if _, err := q.store.DB.ExecContext(ctx,
		`UPDATE jobs SET status = 'completed', result = ?, completed_at = ?,
		 claimed_by = NULL, visibility_deadline = NULL WHERE job_id = ?`,
		result, now, jobID,
	); err != nil {
		return apierr.Wrap(err, "complete job")
	}

	metrics.JobsInFlight.WithLabelValues(job.QueueName).Dec()
	metrics.JobsCompletedTotal.WithLabelValues(job.QueueName, "completed").Inc()

	q.sink.Fire(ctx, job.AgentID, events.JobCompleted, map[string]any{
		"job_id": jobID, "queue_name": job.QueueName, "result": result,
	})
	return nil
}

// Fail transitions jobID per the retry ladder: back to pending if
// attempts remain, or to dead once max_attempts is exhausted. It fires
// job.failed for the submitter either way, with "terminal" set
// accordingly.
func (q *Queue) Fail(ctx context.Context, callerID, jobID, reason string) error {
	job, err := q.Get(ctx, "", jobID)
	if err != nil {
		return err
	}
	if job.Status != StatusClaimed || job.ClaimedBy != callerID {
		return apierr.NewBadRequest("job %q is not claimed by caller", jobID)
	}

	return q.transitionFailedJob(ctx, job, reason)
}

// transitionFailedJob applies the shared retry-or-dead-letter rule used
// by both Fail and the visibility-timeout sweep.
func (q *Queue) transitionFailedJob(ctx context.Context, job *Job, reason string) error {
	terminal := job.Attempts >= job.MaxAttempts

	var err error
	if terminal {
		_, err = q.store.DB.ExecContext(ctx,
			`UPDATE jobs SET status = 'dead', error = ?, claimed_by = NULL, visibility_deadline = NULL WHERE job_id = ?`,
			reason, job.JobID,
		)
	} else {
		_, err = q.store.DB.ExecContext(ctx,
			`UPDATE jobs SET status = 'pending', error = ?, claimed_by = NULL,
			 claimed_at = NULL, visibility_deadline = NULL WHERE job_id = ?`,
			reason, job.JobID,
		)
	}
	if err != nil {
		return apierr.Wrap(err, "fail job")
	}

	metrics.JobsInFlight.WithLabelValues(job.QueueName).Dec()
	outcome := "retry"
	if terminal {
		outcome = "dead_letter"
	}
	metrics.JobsCompletedTotal.WithLabelValues(job.QueueName, outcome).Inc()

	q.sink.Fire(ctx, job.AgentID, events.JobFailed, map[string]any{
		"job_id": job.JobID, "queue_name": job.QueueName, "reason": reason, "terminal": terminal,
	})
	return nil
}

// Replay resets a dead job back to pending with a clean attempts
// counter, scoped to the submitting agentID so one tenant can never
// resurrect another's job. It fires no event.
func (q *Queue) Replay(ctx context.Context, agentID, jobID string) error {
	res, err := q.store.DB.ExecContext(ctx,
		`UPDATE jobs SET status = 'pending', attempts = 0, claimed_by = NULL,
		 claimed_at = NULL, completed_at = NULL, error = NULL, visibility_deadline = NULL
		 WHERE job_id = ? AND agent_id = ? AND status = 'dead'`,
		jobID, agentID,
	)
	if err != nil {
		return apierr.Wrap(err, "replay job")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apierr.Wrap(err, "replay job")
	}
	if n == 0 {
		return apierr.NewNotFound("dead job %q not found", jobID)
	}
	return nil
}

// Get returns jobID, optionally scoped to agentID (the submitter); an
// empty agentID skips the ownership check (used by Complete/Fail, which
// check claimer identity instead).
func (q *Queue) Get(ctx context.Context, agentID, jobID string) (*Job, error) {
	query := `SELECT job_id, agent_id, queue_name, payload, priority, status, attempts, max_attempts,
	          claimed_by, claimed_at, completed_at, result, error, created_at, visibility_deadline
	          FROM jobs WHERE job_id = ?`
	args := []any{jobID}
	if agentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, agentID)
	}

	row := q.store.DB.QueryRowContext(ctx, query, args...)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NewNotFound("job %q not found", jobID)
	}
	if err != nil {
		return nil, apierr.Wrap(err, "get job")
	}
	return job, nil
}

// List returns jobs submitted by agentID, optionally filtered by
// queueName and/or status.
func (q *Queue) List(ctx context.Context, agentID, queueName, status string) ([]*Job, error) {
	return q.query(ctx, agentID, queueName, status)
}

// DeadLetter returns agentID's jobs in the dead state, optionally
// scoped to queueName.
func (q *Queue) DeadLetter(ctx context.Context, agentID, queueName string) ([]*Job, error) {
	return q.query(ctx, agentID, queueName, StatusDead)
}

func (q *Queue) query(ctx context.Context, agentID, queueName, status string) ([]*Job, error) {
	query := `SELECT job_id, agent_id, queue_name, payload, priority, status, attempts, max_attempts,
	          claimed_by, claimed_at, completed_at, result, error, created_at, visibility_deadline
	          FROM jobs WHERE agent_id = ?`
	args := []any{agentID}
	if queueName != "" {
		query += ` AND queue_name = ?`
		args = append(args, queueName)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := q.store.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierr.Wrap(err, "list jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, apierr.Wrap(err, "scan job")
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// SweepExpiredClaims reclaims every claimed job whose visibility
// deadline has passed, applying the same retry-or-dead-letter rule as
// Fail with error="visibility timeout" (§4.G, §5). It is invoked once
// per scheduler tick.
func (q *Queue) SweepExpiredClaims(ctx context.Context) (int, error) {
	now := store.Now()
	rows, err := q.store.DB.QueryContext(ctx,
		`SELECT job_id, agent_id, queue_name, payload, priority, status, attempts, max_attempts,
		        claimed_by, claimed_at, completed_at, result, error, created_at, visibility_deadline
		 FROM jobs WHERE status = 'claimed' AND visibility_deadline <= ?`, now,
	)
	if err != nil {
		return 0, apierr.Wrap(err, "scan expired claims")
	}

	var expired []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return 0, apierr.Wrap(err, "scan expired claim")
		}
		expired = append(expired, j)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, apierr.Wrap(err, "scan expired claims")
	}

	for _, j := range expired {
		if err := q.transitionFailedJob(ctx, j, visibilityTimeoutReason); err != nil {
			return 0, err
		}
		metrics.JobsRequeuedTotal.WithLabelValues(j.QueueName).Inc()
	}
	return len(expired), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var claimedBy, result, errText sql.NullString
	var claimedAt, completedAt, visibilityDeadline sql.NullString
	var createdAt string

	if err := row.Scan(
		&j.JobID, &j.AgentID, &j.QueueName, &j.Payload, &j.Priority, &j.Status, &j.Attempts, &j.MaxAttempts,
		&claimedBy, &claimedAt, &completedAt, &result, &errText, &createdAt, &visibilityDeadline,
	); err != nil {
		return nil, err
	}

	j.ClaimedBy = claimedBy.String
	j.Result = result.String
	j.Error = errText.String
	j.CreatedAt, _ = store.ParseTime(createdAt)
	if claimedAt.Valid {
		t, _ := store.ParseTime(claimedAt.String)
		j.ClaimedAt = &t
	}
	if completedAt.Valid {
		t, _ := store.ParseTime(completedAt.String)
		j.CompletedAt = &t
	}
	if visibilityDeadline.Valid {
		t, _ := store.ParseTime(visibilityDeadline.String)
		j.VisibilityDeadline = &t
	}
	return &j, nil
}
