package engine

import (
	"sync"
	"time"

	"github.com/approvalhq/approvalflow/internal/repository"
	"github.com/approvalhq/approvalflow/pkg/approvalflow/domain"
	"github.com/approvalhq/approvalflow/pkg/approvalflow/models"
)

type MockInstanceRepo struct {
	SaveFunc                   func(inst *domain.WorkflowInstance) (int64, error)
	FindByIDFunc               func(id int64) (*domain.WorkflowInstance, error)
	FindByExternalIDFunc       func(externalID string) (*domain.WorkflowInstance, error)
	FindPendingForApproverFunc func(userID string) (*[]domain.WorkflowInstance, error)
	FindInProgressWithSLAFunc  func(limit int) ([]repository.InstanceSLARow, error)
	ApplyTransitionFunc        func(update repository.TransitionUpdate, action *domain.WorkflowAction) (bool, error)
	SearchInstancesFunc        func(req models.SearchInstanceRequest) (*[]domain.WorkflowInstance, error)
	GetInstanceOverviewFunc    func() ([]repository.InstanceOverviewRow, error)
}

func (m *MockInstanceRepo) Save(inst *domain.WorkflowInstance) (int64, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(inst)
	}
	inst.ID = 1
	return 1, nil
}
func (m *MockInstanceRepo) FindByID(id int64) (*domain.WorkflowInstance, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(id)
	}
	return nil, nil
}
func (m *MockInstanceRepo) FindByExternalID(externalID string) (*domain.WorkflowInstance, error) {
	if m.FindByExternalIDFunc != nil {
		return m.FindByExternalIDFunc(externalID)
	}
	return nil, nil
}
func (m *MockInstanceRepo) FindPendingForApprover(userID string) (*[]domain.WorkflowInstance, error) {
	if m.FindPendingForApproverFunc != nil {
		return m.FindPendingForApproverFunc(userID)
	}
	return &[]domain.WorkflowInstance{}, nil
}
func (m *MockInstanceRepo) FindInProgressWithSLA(limit int) ([]repository.InstanceSLARow, error) {
	if m.FindInProgressWithSLAFunc != nil {
		return m.FindInProgressWithSLAFunc(limit)
	}
	return nil, nil
}
func (m *MockInstanceRepo) ApplyTransition(update repository.TransitionUpdate, action *domain.WorkflowAction) (bool, error) {
	if m.ApplyTransitionFunc != nil {
		return m.ApplyTransitionFunc(update, action)
	}
	return true, nil
}
func (m *MockInstanceRepo) SearchInstances(req models.SearchInstanceRequest) (*[]domain.WorkflowInstance, error) {
	if m.SearchInstancesFunc != nil {
		return m.SearchInstancesFunc(req)
	}
	return &[]domain.WorkflowInstance{}, nil
}
func (m *MockInstanceRepo) GetInstanceOverview() ([]repository.InstanceOverviewRow, error) {
	if m.GetInstanceOverviewFunc != nil {
		return m.GetInstanceOverviewFunc()
	}
	return nil, nil
}

type MockActionRepo struct {
	SaveFunc                func(a *domain.WorkflowAction) (int64, error)
	FindAllByInstanceIDFunc func(instanceID int64) (*[]domain.WorkflowAction, error)

	mu    sync.Mutex
	Saved []domain.WorkflowAction
}

func (m *MockActionRepo) Save(a *domain.WorkflowAction) (int64, error) {
	m.mu.Lock()
	m.Saved = append(m.Saved, *a)
	m.mu.Unlock()
	if m.SaveFunc != nil {
		return m.SaveFunc(a)
	}
	return int64(len(m.Saved)), nil
}
func (m *MockActionRepo) FindAllByInstanceID(instanceID int64) (*[]domain.WorkflowAction, error) {
	if m.FindAllByInstanceIDFunc != nil {
		return m.FindAllByInstanceIDFunc(instanceID)
	}
	return &[]domain.WorkflowAction{}, nil
}
func (m *MockActionRepo) SavedActions() []domain.WorkflowAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.WorkflowAction(nil), m.Saved...)
}

type MockDefinitionRepo struct {
	SaveFunc       func(def *domain.WorkflowDefinition) (int64, error)
	FindByCodeFunc func(code string) (*domain.WorkflowDefinition, error)
	FindByIDFunc   func(id int64) (*domain.WorkflowDefinition, error)
	FindAllFunc    func() (*[]domain.WorkflowDefinition, error)
	RetireFunc     func(code string) error
}

func (m *MockDefinitionRepo) Save(def *domain.WorkflowDefinition) (int64, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(def)
	}
	return 1, nil
}
func (m *MockDefinitionRepo) FindByCode(code string) (*domain.WorkflowDefinition, error) {
	if m.FindByCodeFunc != nil {
		return m.FindByCodeFunc(code)
	}
	return nil, nil
}
func (m *MockDefinitionRepo) FindByID(id int64) (*domain.WorkflowDefinition, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(id)
	}
	return nil, nil
}
func (m *MockDefinitionRepo) FindAll() (*[]domain.WorkflowDefinition, error) {
	if m.FindAllFunc != nil {
		return m.FindAllFunc()
	}
	return &[]domain.WorkflowDefinition{}, nil
}
func (m *MockDefinitionRepo) Retire(code string) error {
	if m.RetireFunc != nil {
		return m.RetireFunc(code)
	}
	return nil
}

type fakeTimer struct {
	deadline time.Time
	ch       chan time.Time
}

type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{
		deadline: c.now.Add(d),
		ch:       make(chan time.Time, 1),
	}
	c.timers = append(c.timers, t)
	return t.ch
}

func (c *FakeClock) Sleep(d time.Duration) {
	<-c.After(d)
}

// Add advances fake time and fires timers whose deadlines have passed
func (c *FakeClock) Add(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	var remaining []*fakeTimer
	for _, t := range c.timers {
		if !t.deadline.After(now) {
			t.ch <- now
		} else {
			remaining = append(remaining, t)
		}
	}
	c.timers = remaining
	c.mu.Unlock()
}
