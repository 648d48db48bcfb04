// Package store provides durable persistence for store records: creation,
// lookup, listing, and atomic status transitions.
package store

import (
	"context"
	"errors"
	"time"
)

// Status is a store's lifecycle state.
type Status string

const (
	StatusProvisioning Status = "PROVISIONING"
	StatusReady        Status = "READY"
	StatusFailed       Status = "FAILED"
	StatusDeleting     Status = "DELETING"
	StatusDeleted      Status = "DELETED"
)

var (
	// ErrNotFound is returned when a store record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicateName is returned when Insert collides on a unique name.
	ErrDuplicateName = errors.New("store: duplicate name")
	// ErrInvalidTransition is returned when UpdateStatus requests a status
	// change not permitted by the transition graph.
	ErrInvalidTransition = errors.New("store: invalid status transition")
)

// transitions enumerates the permitted status graph from spec.md §3.
var transitions = map[Status]map[Status]bool{
	StatusProvisioning: {StatusReady: true, StatusFailed: true, StatusDeleting: true},
	StatusReady:        {StatusDeleting: true},
	StatusFailed:       {StatusDeleting: true},
	StatusDeleting:     {StatusDeleted: true, StatusFailed: true},
}

// CanTransition reports whether moving from `from` to `to` is permitted.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	return transitions[from][to]
}

// Store is the single core entity: one provisioned tenant instance.
type Store struct {
	ID             string
	Name           string
	Engine         string
	Namespace      string
	Release        string
	Status         Status
	FailureReason  *string
	StoreURL       *string
	DBRootPassword string
	DBName         string
	DBUser         string
	DBPassword     string
	AdminUsername  string
	AdminPassword  string
	AdminEmail     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// StatusUpdate carries the optional fields UpdateStatus may set alongside a
// new status. A nil field leaves the corresponding column untouched unless
// the target status requires clearing it.
type StatusUpdate struct {
	Status        Status
	FailureReason *string
	StoreURL      *string
}

// Repository abstracts durable persistence of Store records. Implementations
// must make Insert/UpdateStatus atomic and must never return a live handle
// into the backing transaction — every returned Store is a detached snapshot.
type Repository interface {
	Insert(ctx context.Context, s *Store) error
	GetByID(ctx context.Context, id string) (*Store, error)
	GetByName(ctx context.Context, name string) (*Store, error)
	List(ctx context.Context) ([]*Store, error)
	UpdateStatus(ctx context.Context, id string, upd StatusUpdate) error
	ListByStatus(ctx context.Context, status Status) ([]*Store, error)
}
