package repository

import (
	"database/sql"
	"strings"

	"github.com/approvalhq/approvalflow/pkg/approvalflow/core"
	domain "github.com/approvalhq/approvalflow/pkg/approvalflow/domain"
)

type WorkflowDefinitionRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewWorkflowDefinitionRepository(db *sql.DB, clock core.Clock) *WorkflowDefinitionRepository {
	return &WorkflowDefinitionRepository{db: db, clock: clock}
}

const definitionColumns = ` id, code, name, description, entity_type, conditions,
		       sla_hours, auto_approve_on_sla, is_active, created, updated `

const stepColumns = ` id, definition_id, step_order, name, approver_type, approver_role,
		       approver_user, is_optional, can_delegate, sla_hours, escalate_to_step `

// Save inserts a new definition together with its steps in a single
// transaction. Definitions are immutable per version; there is no update path,
// only Retire.
func (r *WorkflowDefinitionRepository) Save(def *domain.WorkflowDefinition) (int64, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	vals := []interface{}{def.Code, def.Name, def.Description, def.EntityType, def.Conditions,
		def.SLAHours, def.AutoApproveOnSLA, def.IsActive,
		formatDateInDatabase(def.Created), formatDateInDatabase(def.Updated)}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	base := `INSERT INTO workflow_definitions (
		code, name, description, entity_type, conditions,
		sla_hours, auto_approve_on_sla, is_active, created, updated
	) VALUES (` + strings.Join(pps, ", ") + `)`

	if supportsReturning() {
		if err := tx.QueryRow(base+" RETURNING id", vals...).Scan(&def.ID); err != nil {
			return 0, err
		}
	} else {
		res, err := tx.Exec(base, vals...)
		if err != nil {
			return 0, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, err
		}
		def.ID = id
	}

	for i := range def.Steps {
		step := &def.Steps[i]
		step.DefinitionID = def.ID
		svals := []interface{}{step.DefinitionID, step.Order, step.Name, step.ApproverType,
			step.ApproverRole, step.ApproverUser, step.IsOptional, step.CanDelegate,
			step.SLAHours, step.EscalateToStep}
		spps := make([]string, 0, len(svals))
		for j := range svals {
			spps = append(spps, placeholder(j+1))
		}
		sbase := `INSERT INTO workflow_steps (
			definition_id, step_order, name, approver_type, approver_role,
			approver_user, is_optional, can_delegate, sla_hours, escalate_to_step
		) VALUES (` + strings.Join(spps, ", ") + `)`
		if supportsReturning() {
			if err := tx.QueryRow(sbase+" RETURNING id", svals...).Scan(&step.ID); err != nil {
				return 0, err
			}
		} else {
			res, err := tx.Exec(sbase, svals...)
			if err != nil {
				return 0, err
			}
			id, err := res.LastInsertId()
			if err != nil {
				return 0, err
			}
			step.ID = id
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return def.ID, nil
}

// FindByCode fetches a definition with its steps ordered by step_order.
func (r *WorkflowDefinitionRepository) FindByCode(code string) (*domain.WorkflowDefinition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM workflow_definitions WHERE code = ` + placeholder(1) + `
	`
	var def domain.WorkflowDefinition
	err := r.db.QueryRow(query, code).Scan(
		&def.ID,
		&def.Code,
		&def.Name,
		&def.Description,
		&def.EntityType,
		&def.Conditions,
		&def.SLAHours,
		&def.AutoApproveOnSLA,
		&def.IsActive,
		&def.Created,
		&def.Updated,
	)
	if err != nil {
		return nil, err
	}
	if err := r.loadSteps(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

// FindByID fetches a definition with its steps by primary key.
func (r *WorkflowDefinitionRepository) FindByID(id int64) (*domain.WorkflowDefinition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM workflow_definitions WHERE id = ` + placeholder(1) + `
	`
	var def domain.WorkflowDefinition
	err := r.db.QueryRow(query, id).Scan(
		&def.ID,
		&def.Code,
		&def.Name,
		&def.Description,
		&def.EntityType,
		&def.Conditions,
		&def.SLAHours,
		&def.AutoApproveOnSLA,
		&def.IsActive,
		&def.Created,
		&def.Updated,
	)
	if err != nil {
		return nil, err
	}
	if err := r.loadSteps(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

func (r *WorkflowDefinitionRepository) loadSteps(def *domain.WorkflowDefinition) error {
	query := `
		SELECT ` + stepColumns + `
		FROM workflow_steps
		WHERE definition_id = ` + placeholder(1) + `
		ORDER BY step_order ASC
	`
	rows, err := r.db.Query(query, def.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	steps := make([]domain.WorkflowStep, 0)
	for rows.Next() {
		var s domain.WorkflowStep
		if err := rows.Scan(
			&s.ID,
			&s.DefinitionID,
			&s.Order,
			&s.Name,
			&s.ApproverType,
			&s.ApproverRole,
			&s.ApproverUser,
			&s.IsOptional,
			&s.CanDelegate,
			&s.SLAHours,
			&s.EscalateToStep,
		); err != nil {
			return err
		}
		steps = append(steps, s)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	def.Steps = steps
	return nil
}

// FindAll returns all definitions without steps, ordered by code.
func (r *WorkflowDefinitionRepository) FindAll() (*[]domain.WorkflowDefinition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM workflow_definitions
		ORDER BY code
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	defs := make([]domain.WorkflowDefinition, 0)
	for rows.Next() {
		var d domain.WorkflowDefinition
		if err := rows.Scan(&d.ID, &d.Code, &d.Name, &d.Description, &d.EntityType, &d.Conditions,
			&d.SLAHours, &d.AutoApproveOnSLA, &d.IsActive, &d.Created, &d.Updated); err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &defs, nil
}

// Retire soft-retires a definition. Physical deletion is never offered while
// instances may reference the definition.
func (r *WorkflowDefinitionRepository) Retire(code string) error {
	query := `
		UPDATE workflow_definitions
		SET is_active = ` + placeholder(1) + `, updated = ` + nowFunc(r.clock) + `
		WHERE code = ` + placeholder(2) + `
	`
	res, err := r.db.Exec(query, false, code)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
