package repository

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/approvalhq/approvalflow/pkg/approvalflow/core"
	domain "github.com/approvalhq/approvalflow/pkg/approvalflow/domain"
	"github.com/approvalhq/approvalflow/pkg/approvalflow/models"
)

type WorkflowInstanceRepository struct {
	db    *sql.DB
	clock core.Clock
}

// InstanceOverviewRow holds grouped counts by entity_type and status.
type InstanceOverviewRow struct {
	EntityType      string
	InProgressCount int
	ApprovedCount   int
	RejectedCount   int
	CancelledCount  int
	EscalatedCount  int
}

// InstanceSLARow joins an in-progress instance with the SLA columns of its
// current step and owning definition.
type InstanceSLARow struct {
	Instance         domain.WorkflowInstance
	StepSLAHours     sql.NullInt64
	DefSLAHours      sql.NullInt64
	AutoApproveOnSLA bool
}

// TransitionUpdate describes one state transition guarded by the optimistic
// version token. TouchStepStart resets the SLA window and is set whenever
// CurrentStep changes.
type TransitionUpdate struct {
	ID              int64
	ExpectedVersion int64
	Status          string
	CurrentStep     int
	CurrentApprover sql.NullString
	CompletedAt     sql.NullTime
	TouchStepStart  bool
}

const instanceColumns = ` id, external_id, definition_id, entity_type, entity_id, submitted_by,
		       current_step, status, current_approver, started_at, step_started_at,
		       completed_at, modified, version `

func NewWorkflowInstanceRepository(db *sql.DB, clock core.Clock) *WorkflowInstanceRepository {
	return &WorkflowInstanceRepository{db: db, clock: clock}
}

type instanceScanner interface {
	Scan(dest ...interface{}) error
}

func scanInstance(row instanceScanner) (*domain.WorkflowInstance, error) {
	var inst domain.WorkflowInstance
	err := row.Scan(
		&inst.ID,
		&inst.ExternalID,
		&inst.DefinitionID,
		&inst.EntityType,
		&inst.EntityID,
		&inst.SubmittedBy,
		&inst.CurrentStep,
		&inst.Status,
		&inst.CurrentApprover,
		&inst.StartedAt,
		&inst.StepStartedAt,
		&inst.CompletedAt,
		&inst.Modified,
		&inst.Version,
	)
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (r *WorkflowInstanceRepository) Save(inst *domain.WorkflowInstance) (int64, error) {
	vals := []interface{}{inst.ExternalID, inst.DefinitionID, inst.EntityType, inst.EntityID,
		inst.SubmittedBy, inst.CurrentStep, inst.Status, inst.CurrentApprover,
		formatDateInDatabase(inst.StartedAt), formatDateInDatabase(inst.StepStartedAt),
		formatDateInDatabaseNull(inst.CompletedAt), formatDateInDatabase(inst.Modified), inst.Version}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	base := `INSERT INTO workflow_instances (
		external_id, definition_id, entity_type, entity_id, submitted_by,
		current_step, status, current_approver, started_at, step_started_at,
		completed_at, modified, version
	) VALUES (` + strings.Join(pps, ", ") + `)`
	var err error
	if supportsReturning() {
		query := base + " RETURNING id"
		err = r.db.QueryRow(query, vals...).Scan(&inst.ID)
	} else {
		res, e := r.db.Exec(base, vals...)
		if e != nil {
			err = e
		} else {
			id, e2 := res.LastInsertId()
			if e2 != nil {
				err = e2
			} else {
				inst.ID = id
			}
		}
	}
	return inst.ID, err
}

func (r *WorkflowInstanceRepository) FindByID(id int64) (*domain.WorkflowInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM workflow_instances WHERE id = ` + placeholder(1) + `
	`
	return scanInstance(r.db.QueryRow(query, id))
}

func (r *WorkflowInstanceRepository) FindByExternalID(externalID string) (*domain.WorkflowInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM workflow_instances WHERE external_id = ` + placeholder(1) + `
	`
	return scanInstance(r.db.QueryRow(query, externalID))
}

// FindPendingForApprover returns in-progress instances awaiting the given
// user, oldest step first. Used by approver dashboards.
func (r *WorkflowInstanceRepository) FindPendingForApprover(userID string) (*[]domain.WorkflowInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM workflow_instances
		WHERE current_approver = ` + placeholder(1) + `
		  AND status = ` + placeholder(2) + `
		ORDER BY step_started_at ASC
	`
	rows, err := r.db.Query(query, userID, models.StatusInProgress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []domain.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, *inst)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &instances, nil
}

// FindInProgressWithSLA returns in-progress instances whose current step or
// definition carries an SLA. Deadline math happens in the monitor; instances
// without any SLA are excluded here.
func (r *WorkflowInstanceRepository) FindInProgressWithSLA(limit int) ([]InstanceSLARow, error) {
	query := `
		SELECT i.id, i.external_id, i.definition_id, i.entity_type, i.entity_id, i.submitted_by,
		       i.current_step, i.status, i.current_approver, i.started_at, i.step_started_at,
		       i.completed_at, i.modified, i.version,
		       s.sla_hours, d.sla_hours, d.auto_approve_on_sla
		FROM workflow_instances i
		JOIN workflow_definitions d ON d.id = i.definition_id
		LEFT JOIN workflow_steps s ON s.definition_id = d.id AND s.step_order = i.current_step
		WHERE i.status = ` + placeholder(1) + `
		  AND (s.sla_hours IS NOT NULL OR d.sla_hours IS NOT NULL)
		ORDER BY i.step_started_at ASC
		LIMIT ` + placeholder(2) + `
	`
	rows, err := r.db.Query(query, models.StatusInProgress, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []InstanceSLARow
	for rows.Next() {
		var row InstanceSLARow
		if err := rows.Scan(
			&row.Instance.ID,
			&row.Instance.ExternalID,
			&row.Instance.DefinitionID,
			&row.Instance.EntityType,
			&row.Instance.EntityID,
			&row.Instance.SubmittedBy,
			&row.Instance.CurrentStep,
			&row.Instance.Status,
			&row.Instance.CurrentApprover,
			&row.Instance.StartedAt,
			&row.Instance.StepStartedAt,
			&row.Instance.CompletedAt,
			&row.Instance.Modified,
			&row.Instance.Version,
			&row.StepSLAHours,
			&row.DefSLAHours,
			&row.AutoApproveOnSLA,
		); err != nil {
			return nil, err
		}
		res = append(res, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// ApplyTransition performs one version-guarded state transition and appends
// the matching action in the same database transaction. Returns false when
// the guard missed, meaning another transition won.
func (r *WorkflowInstanceRepository) ApplyTransition(update TransitionUpdate, action *domain.WorkflowAction) (bool, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	stepStart := ""
	if update.TouchStepStart {
		stepStart = `, step_started_at = ` + nowFunc(r.clock)
	}
	query := `
		UPDATE workflow_instances
		SET status = ` + placeholder(1) + `, current_step = ` + placeholder(2) + `,
		    current_approver = ` + placeholder(3) + `, completed_at = ` + placeholder(4) + `,
		    modified = ` + nowFunc(r.clock) + `, version = version + 1` + stepStart + `
		WHERE id = ` + placeholder(5) + ` AND version = ` + placeholder(6) + `
	`
	res, err := tx.Exec(query,
		update.Status,
		update.CurrentStep,
		update.CurrentApprover,
		formatDateInDatabaseNull(update.CompletedAt),
		update.ID,
		update.ExpectedVersion,
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected != 1 {
		return false, nil
	}

	if action != nil {
		if err := insertAction(tx, r.clock, action); err != nil {
			slog.Error("Failed to append workflow action", "instance_id", action.InstanceID, "error", err)
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// SearchInstances filters on identity (OR-ed) and state columns (AND-ed).
func (r *WorkflowInstanceRepository) SearchInstances(req models.SearchInstanceRequest) (*[]domain.WorkflowInstance, error) {
	whereClause, args := buildWhereClause(req)

	query := `
		SELECT ` + instanceColumns + `
		FROM workflow_instances
		` + whereClause +
		` ORDER BY id DESC
	` + buildLimitsAndOffset(req)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []domain.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, *inst)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &instances, nil
}

// GetInstanceOverview returns aggregated counts grouped by entity_type.
func (r *WorkflowInstanceRepository) GetInstanceOverview() ([]InstanceOverviewRow, error) {
	query := `
SELECT
    entity_type,
    SUM(CASE WHEN status = 'in_progress' THEN 1 ELSE 0 END) AS in_progress_count,
    SUM(CASE WHEN status = 'approved' THEN 1 ELSE 0 END) AS approved_count,
    SUM(CASE WHEN status = 'rejected' THEN 1 ELSE 0 END) AS rejected_count,
    SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END) AS cancelled_count,
    SUM(CASE WHEN status = 'escalated' THEN 1 ELSE 0 END) AS escalated_count
FROM workflow_instances
GROUP BY entity_type
ORDER BY entity_type
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []InstanceOverviewRow
	for rows.Next() {
		var row InstanceOverviewRow
		if err := rows.Scan(&row.EntityType, &row.InProgressCount, &row.ApprovedCount,
			&row.RejectedCount, &row.CancelledCount, &row.EscalatedCount); err != nil {
			return nil, err
		}
		res = append(res, row)
	}
	return res, nil
}

func buildLimitsAndOffset(req models.SearchInstanceRequest) string {
	if req.Limit > 0 {
		return fmt.Sprintf(" LIMIT %d OFFSET %d", req.Limit, req.Offset)
	}
	return ""
}

func buildWhereClause(req models.SearchInstanceRequest) (string, []interface{}) {
	var andClauses []string
	var args []interface{}

	// First, collect the OR-able identity filters: id OR external_id OR entity_id
	var orClauses []string
	if req.ID != 0 {
		args = append(args, req.ID)
		orClauses = append(orClauses, fmt.Sprintf("id = %s", placeholder(len(args))))
	}
	if req.ExternalID != "" {
		args = append(args, req.ExternalID)
		orClauses = append(orClauses, fmt.Sprintf("external_id = %s", placeholder(len(args))))
	}
	if req.EntityID != "" {
		args = append(args, req.EntityID)
		orClauses = append(orClauses, fmt.Sprintf("entity_id = %s", placeholder(len(args))))
	}

	// Now, add the remaining AND filters
	if req.EntityType != "" {
		args = append(args, req.EntityType)
		andClauses = append(andClauses, fmt.Sprintf("entity_type = %s", placeholder(len(args))))
	}
	if req.Status != "" {
		args = append(args, req.Status)
		andClauses = append(andClauses, fmt.Sprintf("status = %s", placeholder(len(args))))
	}
	if req.Approver != "" {
		args = append(args, req.Approver)
		andClauses = append(andClauses, fmt.Sprintf("current_approver = %s", placeholder(len(args))))
	}
	if req.DefinitionID != 0 {
		args = append(args, req.DefinitionID)
		andClauses = append(andClauses, fmt.Sprintf("definition_id = %s", placeholder(len(args))))
	}

	// If there are any OR-able clauses, group them in parentheses and AND with others
	if len(orClauses) > 0 {
		andClauses = append(andClauses, "("+strings.Join(orClauses, " OR ")+")")
	}

	if len(andClauses) == 0 {
		return "", args
	}

	return " WHERE " + strings.Join(andClauses, " AND "), args
}
