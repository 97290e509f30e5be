// Package directory provides in-memory collaborator implementations, useful
// for embedding the engine, for demos and for tests. Production deployments
// implement core.Directory and core.RoleMembership against their own HR
// system.
package directory

import (
	"context"
	"log/slog"
	"sync"
)

// StaticEntry holds the directory relationships for one entity or user.
type StaticEntry struct {
	ReportingManager string
	HRManager        string
	DepartmentHead   string
}

// StaticDirectory answers lookups from a fixed in-memory table.
type StaticDirectory struct {
	mu      sync.RWMutex
	entries map[string]StaticEntry
}

func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{entries: make(map[string]StaticEntry)}
}

// Set registers or replaces the relationships for an entity id.
func (d *StaticDirectory) Set(entityID string, entry StaticEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[entityID] = entry
}

func (d *StaticDirectory) ResolveReportingManager(ctx context.Context, entityID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.entries[entityID].ReportingManager, nil
}

func (d *StaticDirectory) ResolveHRManager(ctx context.Context, entityID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.entries[entityID].HRManager, nil
}

func (d *StaticDirectory) ResolveDepartmentHead(ctx context.Context, entityID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.entries[entityID].DepartmentHead, nil
}

// StaticRoles answers role membership from a fixed in-memory table.
type StaticRoles struct {
	mu      sync.RWMutex
	members map[string][]string
}

func NewStaticRoles() *StaticRoles {
	return &StaticRoles{members: make(map[string][]string)}
}

// Set registers or replaces the members of a role.
func (r *StaticRoles) Set(roleID string, userIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[roleID] = append([]string(nil), userIDs...)
}

func (r *StaticRoles) UsersWithRole(ctx context.Context, roleID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.members[roleID]...), nil
}

// LogNotifier writes transition events to the default logger.
type LogNotifier struct{}

func (LogNotifier) Notify(instanceID int64, event string) {
	slog.Info("Workflow event", "instance_id", instanceID, "event", event)
}
