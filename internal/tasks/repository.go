package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository stores tasks in Postgres.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Postgres backed repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const taskColumns = `id, client_id, kind, status, title, description, priority, payload, result, flags, assignee_id, due_at, created_at, updated_at`

// Insert stores a new task.
func (r *PGRepository) Insert(ctx context.Context, task Task) error {
	flags, err := json.Marshal(task.Flags)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO tasks (`+taskColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		task.ID, task.ClientID, string(task.Kind), string(task.Status), task.Title, task.Description,
		string(task.Priority), nullJSON(task.Payload), nullJSON(task.Result), flags,
		nullString(task.AssigneeID), task.DueAt, task.CreatedAt, task.UpdatedAt)
	return err
}

// Get loads a task by id.
func (r *PGRepository) Get(ctx context.Context, id uuid.UUID) (Task, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	if err != nil {
		return Task{}, err
	}
	task, err := pgx.CollectExactlyOneRow(rows, scanTask)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrTaskNotFound
		}
		return Task{}, err
	}
	return task, nil
}

// Update overwrites the mutable task fields.
func (r *PGRepository) Update(ctx context.Context, task Task) error {
	flags, err := json.Marshal(task.Flags)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `UPDATE tasks SET status = $2, title = $3, description = $4, priority = $5,
result = $6, flags = $7, assignee_id = $8, due_at = $9, updated_at = $10 WHERE id = $1`,
		task.ID, string(task.Status), task.Title, task.Description, string(task.Priority),
		nullJSON(task.Result), flags, nullString(task.AssigneeID), task.DueAt, task.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// List returns tasks newest first.
func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]Task, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.ClientID != "" {
		add("client_id = $%d", filter.ClientID)
	}
	if filter.Kind != "" {
		add("kind = $%d", string(filter.Kind))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanTask)
}

func scanTask(row pgx.CollectableRow) (Task, error) {
	var (
		task                   Task
		kind, status, priority string
		description, assignee  *string
		payload, result, flags []byte
	)
	if err := row.Scan(&task.ID, &task.ClientID, &kind, &status, &task.Title, &description, &priority,
		&payload, &result, &flags, &assignee, &task.DueAt, &task.CreatedAt, &task.UpdatedAt); err != nil {
		return Task{}, err
	}
	task.Kind = Kind(kind)
	task.Status = Status(status)
	task.Priority = Priority(priority)
	if description != nil {
		task.Description = *description
	}
	if assignee != nil {
		task.AssigneeID = *assignee
	}
	task.Payload = payload
	task.Result = result
	task.Flags = []Flag{}
	if len(flags) > 0 {
		if err := json.Unmarshal(flags, &task.Flags); err != nil {
			return Task{}, fmt.Errorf("decode flags: %w", err)
		}
	}
	return task, nil
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
