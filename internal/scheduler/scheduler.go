// Package scheduler implements cron-expression task ownership and the
// tick loop that enqueues due tasks into the job queue and runs the
// queue's visibility-timeout sweep (§4.H).
package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/moltgrid/agentforge/internal/apierr"
	"github.com/moltgrid/agentforge/internal/id"
	"github.com/moltgrid/agentforge/internal/metrics"
	"github.com/moltgrid/agentforge/internal/queue"
	"github.com/moltgrid/agentforge/internal/store"
)

// parser accepts the standard 5-field cron format (minute, hour,
// day-of-month, month, day-of-week) per §4.H; it deliberately omits the
// seconds field some cron dialects add.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Task is a single scheduled-task row.
type Task struct {
	TaskID      string
	AgentID     string
	CronExpr    string
	Payload     string
	QueueName   string
	Priority    int
	MaxAttempts int
	Enabled     bool
	NextRunAt   time.Time
	LastRunAt   *time.Time
	CreatedAt   time.Time
}

// Scheduler owns scheduled tasks and drives the tick loop.
type Scheduler struct {
	store *store.Store
	queue *queue.Queue
}

// New builds a Scheduler that enqueues due tasks into q.
func New(s *store.Store, q *queue.Queue) *Scheduler {
	return &Scheduler{store: s, queue: q}
}

// ValidateCron parses expr and returns BadRequest if it is not a valid
// standard 5-field cron expression.
func ValidateCron(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return apierr.NewBadRequest("invalid cron expression %q: %v", expr, err)
	}
	return nil
}

// Create registers a new scheduled task, computing its first
// next_run_at strictly forward of now. A nil priority or maxAttempts
// falls back to the queue package's default; an explicit 0 is honored.
func (s *Scheduler) Create(ctx context.Context, agentID, cronExpr, payload, queueName string, priority, maxAttempts *int) (*Task, error) {
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return nil, apierr.NewBadRequest("invalid cron expression %q: %v", cronExpr, err)
	}
	if queueName == "" {
		queueName = queue.DefaultQueueName
	}
	p := queue.DefaultPriority
	if priority != nil {
		p = *priority
	}
	ma := queue.DefaultMaxAttempts
	if maxAttempts != nil {
		ma = *maxAttempts
	}

	taskID := id.New(id.PrefixSchedule)
	now := time.Now().UTC()
	nextRun := schedule.Next(now)
	createdAt := store.FormatTime(now)
	nextRunStr := store.FormatTime(nextRun)

	_, err = s.store.DB.ExecContext(ctx,
		`INSERT INTO scheduled_tasks (task_id, agent_id, cron_expr, payload, queue_name, priority, max_attempts, enabled, next_run_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		taskID, agentID, cronExpr, payload, queueName, p, ma, nextRunStr, createdAt,
	)
	if err != nil {
		return nil, apierr.Wrap(err, "create scheduled task")
	}

	return &Task{
		TaskID: taskID, AgentID: agentID, CronExpr: cronExpr, Payload: payload,
		QueueName: queueName, Priority: p, MaxAttempts: ma,
		Enabled: true, NextRunAt: nextRun, CreatedAt: now,
	}, nil
}

// Get returns taskID, scoped to agentID.
func (s *Scheduler) Get(ctx context.Context, agentID, taskID string) (*Task, error) {
	row := s.store.DB.QueryRowContext(ctx,
		`SELECT task_id, agent_id, cron_expr, payload, queue_name, priority, max_attempts, enabled, next_run_at, last_run_at, created_at
		 FROM scheduled_tasks WHERE task_id = ? AND agent_id = ?`, taskID, agentID,
	)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NewNotFound("scheduled task %q not found", taskID)
	}
	if err != nil {
		return nil, apierr.Wrap(err, "get scheduled task")
	}
	return t, nil
}

// List returns all scheduled tasks owned by agentID.
func (s *Scheduler) List(ctx context.Context, agentID string) ([]*Task, error) {
	rows, err := s.store.DB.QueryContext(ctx,
		`SELECT task_id, agent_id, cron_expr, payload, queue_name, priority, max_attempts, enabled, next_run_at, last_run_at, created_at
		 FROM scheduled_tasks WHERE agent_id = ? ORDER BY created_at ASC`, agentID,
	)
	if err != nil {
		return nil, apierr.Wrap(err, "list scheduled tasks")
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, apierr.Wrap(err, "scan scheduled task")
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Toggle enables or disables taskID.
func (s *Scheduler) Toggle(ctx context.Context, agentID, taskID string, enabled bool) error {
	res, err := s.store.DB.ExecContext(ctx,
		`UPDATE scheduled_tasks SET enabled = ? WHERE task_id = ? AND agent_id = ?`,
		boolToInt(enabled), taskID, agentID,
	)
	if err != nil {
		return apierr.Wrap(err, "toggle scheduled task")
	}
	return requireAffected(res, "scheduled task", taskID)
}

// Delete removes taskID.
func (s *Scheduler) Delete(ctx context.Context, agentID, taskID string) error {
	res, err := s.store.DB.ExecContext(ctx,
		`DELETE FROM scheduled_tasks WHERE task_id = ? AND agent_id = ?`, taskID, agentID,
	)
	if err != nil {
		return apierr.Wrap(err, "delete scheduled task")
	}
	return requireAffected(res, "scheduled task", taskID)
}

// ActiveCount returns the number of enabled scheduled tasks across every
// agent, for /v1/health.
func (s *Scheduler) ActiveCount(ctx context.Context) (int, error) {
	var count int
	err := s.store.DB.QueryRowContext(ctx, `SELECT count(*) FROM scheduled_tasks WHERE enabled = 1`).Scan(&count)
	if err != nil {
		return 0, apierr.Wrap(err, "count active scheduled tasks")
	}
	return count, nil
}

// ActiveCountForAgent returns agentID's own enabled scheduled-task count,
// for /v1/stats.
func (s *Scheduler) ActiveCountForAgent(ctx context.Context, agentID string) (int, error) {
	var count int
	err := s.store.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM scheduled_tasks WHERE enabled = 1 AND agent_id = ?`, agentID,
	).Scan(&count)
	if err != nil {
		return 0, apierr.Wrap(err, "count agent active scheduled tasks")
	}
	return count, nil
}

// Tick runs one iteration of the scheduler: enqueue every due task, then
// sweep the job queue's expired claims. It is idempotent within the
// same second — a task whose next_run_at has already advanced past now
// is simply not selected on a repeated call.
func (s *Scheduler) Tick(ctx context.Context) error {
	metrics.SchedulerTicksTotal.Inc()

	now := time.Now().UTC()
	rows, err := s.store.DB.QueryContext(ctx,
		`SELECT task_id, agent_id, cron_expr, payload, queue_name, priority, max_attempts, enabled, next_run_at, last_run_at, created_at
		 FROM scheduled_tasks WHERE enabled = 1 AND next_run_at <= ?`, store.FormatTime(now),
	)
	if err != nil {
		return apierr.Wrap(err, "select due tasks")
	}

	var due []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return apierr.Wrap(err, "scan due task")
		}
		due = append(due, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return apierr.Wrap(err, "select due tasks")
	}

	for _, t := range due {
		if err := s.fire(ctx, t, now); err != nil {
			slog.Error("scheduler: failed to fire task", "task_id", t.TaskID, "error", err)
			continue
		}
		metrics.SchedulerTasksFiredTotal.Inc()
	}

	if _, err := s.queue.SweepExpiredClaims(ctx); err != nil {
		slog.Error("scheduler: visibility sweep failed", "error", err)
	}
	return nil
}

func (s *Scheduler) fire(ctx context.Context, t *Task, now time.Time) error {
	schedule, err := parser.Parse(t.CronExpr)
	if err != nil {
		return err
	}

	if _, err := s.queue.Submit(ctx, t.AgentID, t.QueueName, t.Payload, &t.Priority, &t.MaxAttempts); err != nil {
		return err
	}

	nextRun := schedule.Next(now)
	_, err = s.store.DB.ExecContext(ctx,
		`UPDATE scheduled_tasks SET last_run_at = ?, next_run_at = ? WHERE task_id = ?`,
		store.FormatTime(now), store.FormatTime(nextRun), t.TaskID,
	)
	return err
}

// Run drives Tick on tickInterval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, tickInterval time.Duration) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				slog.Error("scheduler tick failed", "error", err)
			}
		}
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apierr.Wrap(err, "check rows affected")
	}
	if n == 0 {
		return apierr.NewNotFound("%s %q not found", kind, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var nextRunAt, createdAt string
	var lastRunAt sql.NullString
	var enabled int

	if err := row.Scan(
		&t.TaskID, &t.AgentID, &t.CronExpr, &t.Payload, &t.QueueName, &t.Priority, &t.MaxAttempts,
		&enabled, &nextRunAt, &lastRunAt, &createdAt,
	); err != nil {
		return nil, err
	}

	t.Enabled = enabled != 0
	t.NextRunAt, _ = store.ParseTime(nextRunAt)
	t.CreatedAt, _ = store.ParseTime(createdAt)
	if lastRunAt.Valid {
		lt, _ := store.ParseTime(lastRunAt.String)
		t.LastRunAt = &lt
	}
	return &t, nil
}
