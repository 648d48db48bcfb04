package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestStore(id, name string) *Store {
	now := time.Now().UTC()
	return &Store{
		ID:             id,
		Name:           name,
		Engine:         "woocommerce",
		Namespace:      "store-" + id,
		Release:        id,
		Status:         StatusProvisioning,
		DBRootPassword: "root-pw",
		DBName:         "db_" + name,
		DBUser:         "user_" + name,
		DBPassword:     "pw",
		AdminUsername:  "admin",
		AdminPassword:  "adminpw",
		AdminEmail:     "admin@example.com",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusProvisioning, StatusReady, true},
		{StatusProvisioning, StatusFailed, true},
		{StatusProvisioning, StatusDeleting, true},
		{StatusReady, StatusDeleting, true},
		{StatusFailed, StatusDeleting, true},
		{StatusDeleting, StatusDeleted, true},
		{StatusDeleting, StatusFailed, true},
		{StatusReady, StatusProvisioning, false},
		{StatusDeleted, StatusProvisioning, false},
		{StatusReady, StatusFailed, false},
		{StatusProvisioning, StatusProvisioning, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestMemoryRepository_InsertDuplicateName(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	if err := repo.Insert(ctx, newTestStore("shop1-aaaa1111", "shop1")); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	err := repo.Insert(ctx, newTestStore("shop1-bbbb2222", "shop1"))
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
}

func TestMemoryRepository_GetByIDNotFound(t *testing.T) {
	repo := NewMemoryRepository()
	_, err := repo.GetByID(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryRepository_UpdateStatusInvalidTransition(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	s := newTestStore("shop1-aaaa1111", "shop1")
	if err := repo.Insert(ctx, s); err != nil {
		t.Fatalf("insert: %v", err)
	}

	url := "http://shop1.localhost"
	if err := repo.UpdateStatus(ctx, s.ID, StatusUpdate{Status: StatusReady, StoreURL: &url}); err != nil {
		t.Fatalf("ready transition: %v", err)
	}

	err := repo.UpdateStatus(ctx, s.ID, StatusUpdate{Status: StatusProvisioning})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestMemoryRepository_UpdateStatusNotFound(t *testing.T) {
	repo := NewMemoryRepository()
	err := repo.UpdateStatus(context.Background(), "missing", StatusUpdate{Status: StatusFailed})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryRepository_ListByStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	a := newTestStore("a-11111111", "a")
	b := newTestStore("b-22222222", "b")
	if err := repo.Insert(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := repo.Insert(ctx, b); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpdateStatus(ctx, b.ID, StatusUpdate{Status: StatusFailed, FailureReason: ptr("boom")}); err != nil {
		t.Fatal(err)
	}

	provisioning, err := repo.ListByStatus(ctx, StatusProvisioning)
	if err != nil {
		t.Fatal(err)
	}
	if len(provisioning) != 1 || provisioning[0].ID != a.ID {
		t.Fatalf("expected only store a in PROVISIONING, got %+v", provisioning)
	}
}

func TestMemoryRepository_CloneIsDetached(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	s := newTestStore("shop1-aaaa1111", "shop1")
	if err := repo.Insert(ctx, s); err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetByID(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	got.Name = "mutated"

	again, err := repo.GetByID(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.Name != "shop1" {
		t.Fatalf("mutating a returned snapshot affected the stored record: %s", again.Name)
	}
}

func ptr(s string) *string { return &s }
