package repository

import (
	"database/sql"
	"log/slog"

	"github.com/approvalhq/approvalflow/pkg/approvalflow/core"
	"github.com/approvalhq/approvalflow/pkg/approvalflow/domain"
)

// WorkflowActionRepository provides methods to persist and query the
// append-only audit log. Actions are never updated or deleted.
type WorkflowActionRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewWorkflowActionRepository(db *sql.DB, clock core.Clock) *WorkflowActionRepository {
	return &WorkflowActionRepository{db: db, clock: clock}
}

// execer is satisfied by both *sql.DB and *sql.Tx so action inserts can ride
// inside a guarded transition transaction.
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

func insertAction(e execer, clock core.Clock, a *domain.WorkflowAction) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = clock.Now()
	}
	base := `
		INSERT INTO workflow_actions (
			instance_id, step, actor, action, comments, created_at
		) VALUES (
			` + placeholder(1) + `, ` + placeholder(2) + `, ` + placeholder(3) + `, ` + placeholder(4) + `, ` + placeholder(5) + `, ` + placeholder(6) + `
		)`
	if supportsReturning() {
		return e.QueryRow(base+" RETURNING id",
			a.InstanceID, a.Step, a.Actor, a.Action, a.Comments, formatDateInDatabase(a.CreatedAt),
		).Scan(&a.ID)
	}
	res, err := e.Exec(base,
		a.InstanceID, a.Step, a.Actor, a.Action, a.Comments, formatDateInDatabase(a.CreatedAt))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = id
	return nil
}

// Save appends a new action and returns its ID.
func (r *WorkflowActionRepository) Save(a *domain.WorkflowAction) (int64, error) {
	if err := insertAction(r.db, r.clock, a); err != nil {
		slog.Error("Failed to save workflow action", "error", err)
		return 0, err
	}
	return a.ID, nil
}

// FindAllByInstanceID returns the full log for an instance in append order.
// Ascending id order is what the replay check consumes.
func (r *WorkflowActionRepository) FindAllByInstanceID(instanceID int64) (*[]domain.WorkflowAction, error) {
	query := `
		SELECT id, instance_id, step, actor, action, comments, created_at
		FROM workflow_actions
		WHERE instance_id = ` + placeholder(1) + `
		ORDER BY id ASC
	`
	rows, err := r.db.Query(query, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []domain.WorkflowAction
	for rows.Next() {
		var a domain.WorkflowAction
		if err := rows.Scan(
			&a.ID,
			&a.InstanceID,
			&a.Step,
			&a.Actor,
			&a.Action,
			&a.Comments,
			&a.CreatedAt,
		); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &actions, nil
}
