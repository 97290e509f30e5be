package engine

import (
	"github.com/approvalhq/approvalflow/internal/repository"
	"github.com/approvalhq/approvalflow/pkg/approvalflow/domain"
	"github.com/approvalhq/approvalflow/pkg/approvalflow/models"
)

// InstanceRepo defines the interface for instance persistence, matching
// repository.WorkflowInstanceRepository.
type InstanceRepo interface {
	Save(inst *domain.WorkflowInstance) (int64, error)
	FindByID(id int64) (*domain.WorkflowInstance, error)
	FindByExternalID(externalID string) (*domain.WorkflowInstance, error)
	FindPendingForApprover(userID string) (*[]domain.WorkflowInstance, error)
	FindInProgressWithSLA(limit int) ([]repository.InstanceSLARow, error)
	ApplyTransition(update repository.TransitionUpdate, action *domain.WorkflowAction) (bool, error)
	SearchInstances(req models.SearchInstanceRequest) (*[]domain.WorkflowInstance, error)
	GetInstanceOverview() ([]repository.InstanceOverviewRow, error)
}

// ActionRepo defines the interface for the append-only action log.
type ActionRepo interface {
	Save(a *domain.WorkflowAction) (int64, error)
	FindAllByInstanceID(instanceID int64) (*[]domain.WorkflowAction, error)
}

// DefinitionRepo defines the interface for definition persistence.
type DefinitionRepo interface {
	Save(def *domain.WorkflowDefinition) (int64, error)
	FindByCode(code string) (*domain.WorkflowDefinition, error)
	FindByID(id int64) (*domain.WorkflowDefinition, error)
	FindAll() (*[]domain.WorkflowDefinition, error)
	Retire(code string) error
}
