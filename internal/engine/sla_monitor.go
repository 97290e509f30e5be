package engine

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/approvalhq/approvalflow/internal/repository"
	"github.com/approvalhq/approvalflow/pkg/approvalflow/core"
)

// SLAMonitor periodically scans in-progress instances for breached step
// deadlines. A breach either auto-approves the step or escalates it,
// depending on the definition. Scans never overlap.
type SLAMonitor struct {
	engine    *ApprovalEngine
	clock     core.Clock
	batchSize int
	running   atomic.Bool
}

func NewSLAMonitor(engine *ApprovalEngine, clock core.Clock, batchSize int) *SLAMonitor {
	return &SLAMonitor{engine: engine, clock: clock, batchSize: batchSize}
}

// Start blocks, scanning on each interval tick until the context is done.
func (m *SLAMonitor) Start(ctx context.Context, interval time.Duration) {
	slog.Info("SLA monitor started", "interval", interval, "batch_size", m.batchSize)
	for {
		select {
		case <-ctx.Done():
			slog.Info("SLA monitor stopped")
			return
		case <-m.clock.After(interval):
			m.ScanOnce(ctx)
		}
	}
}

// ScanOnce runs a single scan pass. Exposed for tests and manual triggering.
func (m *SLAMonitor) ScanOnce(ctx context.Context) {
	if !m.running.CompareAndSwap(false, true) {
		slog.Warn("SLA scan still running, skipping tick")
		return
	}
	defer m.running.Store(false)

	rows, err := m.engine.InstanceRepo.FindInProgressWithSLA(m.batchSize)
	if err != nil {
		slog.Error("SLA scan query failed", "error", err)
		return
	}

	now := m.clock.Now()
	for _, row := range rows {
		sla := row.StepSLAHours
		if !sla.Valid {
			sla = row.DefSLAHours
		}
		if !sla.Valid {
			continue
		}
		deadline := row.Instance.StepStartedAt.Add(time.Duration(sla.Int64) * time.Hour)
		if !now.After(deadline) {
			continue
		}
		m.handleBreach(ctx, row)
	}
}

func (m *SLAMonitor) handleBreach(ctx context.Context, row repository.InstanceSLARow) {
	inst := row.Instance
	slog.Info("SLA breached", "instance_id", inst.ID, "step", inst.CurrentStep,
		"step_started_at", inst.StepStartedAt, "auto_approve", row.AutoApproveOnSLA)

	def, err := m.engine.DefinitionRepo.FindByID(inst.DefinitionID)
	if err != nil {
		slog.Error("SLA breach: loading definition failed", "instance_id", inst.ID, "error", err)
		return
	}

	// a stalled step (no resolved approver) is never auto-approved; it needs
	// an administrator, so it takes the escalation path instead
	if row.AutoApproveOnSLA && inst.CurrentApprover.Valid {
		_, err = m.engine.approveCurrent(ctx, &inst, def, sql.NullString{}, CommentSLAAutoApproval)
	} else {
		_, err = m.engine.escalate(ctx, &inst, def, sql.NullString{}, "", "SLA breached", false)
	}
	if errors.Is(err, core.ErrConcurrentModification) {
		// someone acted on the instance between the scan and the update
		return
	}
	if err != nil {
		slog.Error("SLA breach handling failed", "instance_id", inst.ID, "error", err)
	}
}
