package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/cloudshelf/store-provisioner/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeReconciler records Submit/ResumeInFlight calls without any real work.
type fakeReconciler struct {
	submitted []string
	resumed   int
}

func (f *fakeReconciler) Submit(storeID string) { f.submitted = append(f.submitted, storeID) }
func (f *fakeReconciler) ResumeInFlight(ctx context.Context) error {
	f.resumed++
	return nil
}

// fakePackager scripts Uninstall's outcome for DeleteStore tests.
type fakePackager struct {
	ok     bool
	output string
}

func (f *fakePackager) Uninstall(_ context.Context, _, _ string) (bool, string) {
	return f.ok, f.output
}

func newAPI(repo store.Repository, pkg Packager, rec Reconciler) *API {
	return New(repo, pkg, rec, testLogger(), "localhost")
}

func validParams(name string) CreateParams {
	return CreateParams{
		Name:          name,
		Engine:        "woocommerce",
		AdminUsername: "admin",
		AdminPassword: "supersecret",
		AdminEmail:    "admin@example.com",
	}
}

func TestCreateStore_Success(t *testing.T) {
	repo := store.NewMemoryRepository()
	rec := &fakeReconciler{}
	a := newAPI(repo, &fakePackager{}, rec)

	s, err := a.CreateStore(context.Background(), validParams("shop1"))
	if err != nil {
		t.Fatalf("CreateStore: %v", err)
	}

	if s.Status != store.StatusProvisioning {
		t.Fatalf("expected PROVISIONING, got %s", s.Status)
	}
	if len(s.DBRootPassword) < 20 || len(s.DBPassword) < 20 {
		t.Fatalf("expected generated passwords >= 20 chars, got %d/%d", len(s.DBRootPassword), len(s.DBPassword))
	}
	if s.DBName != "store_shop1_db" || s.DBUser != "user_shop1" {
		t.Fatalf("unexpected derived db identifiers: %q %q", s.DBName, s.DBUser)
	}
	if !strings.HasPrefix(s.ID, "shop1-") || len(s.ID) != len("shop1-")+8 {
		t.Fatalf("unexpected id shape: %q", s.ID)
	}
	if len(rec.submitted) != 1 || rec.submitted[0] != s.ID {
		t.Fatalf("expected store submitted to reconciler, got %+v", rec.submitted)
	}
}

func TestCreateStore_HyphenatedNameDerivesUnderscoredIdentifiers(t *testing.T) {
	repo := store.NewMemoryRepository()
	a := newAPI(repo, &fakePackager{}, &fakeReconciler{})

	s, err := a.CreateStore(context.Background(), validParams("my-shop"))
	if err != nil {
		t.Fatalf("CreateStore: %v", err)
	}
	if s.DBName != "store_my_shop_db" || s.DBUser != "user_my_shop" {
		t.Fatalf("expected hyphens replaced with underscores, got %q %q", s.DBName, s.DBUser)
	}
}

func TestCreateStore_RejectsEmptyName(t *testing.T) {
	repo := store.NewMemoryRepository()
	a := newAPI(repo, &fakePackager{}, &fakeReconciler{})

	p := validParams("   ")
	_, err := a.CreateStore(context.Background(), p)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestCreateStore_RejectsUnknownEngine(t *testing.T) {
	repo := store.NewMemoryRepository()
	a := newAPI(repo, &fakePackager{}, &fakeReconciler{})

	p := validParams("shop1")
	p.Engine = "not-a-real-engine"
	_, err := a.CreateStore(context.Background(), p)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

// Scenario 6: duplicate name. First create succeeds, second fails Conflict,
// and only one row exists in the store afterward.
func TestCreateStore_DuplicateNameConflict(t *testing.T) {
	repo := store.NewMemoryRepository()
	rec := &fakeReconciler{}
	a := newAPI(repo, &fakePackager{}, rec)

	if _, err := a.CreateStore(context.Background(), validParams("shop1")); err != nil {
		t.Fatalf("first CreateStore: %v", err)
	}

	_, err := a.CreateStore(context.Background(), validParams("shop1"))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on duplicate name, got %v", err)
	}

	stores, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(stores) != 1 {
		t.Fatalf("expected exactly one store row, got %d", len(stores))
	}
	if len(rec.submitted) != 1 {
		t.Fatalf("expected only the first create to submit to the reconciler, got %+v", rec.submitted)
	}
}

func TestDeleteStore_Success(t *testing.T) {
	repo := store.NewMemoryRepository()
	a := newAPI(repo, &fakePackager{ok: true}, &fakeReconciler{})

	s, err := a.CreateStore(context.Background(), validParams("shop1"))
	if err != nil {
		t.Fatalf("CreateStore: %v", err)
	}
	if err := repo.UpdateStatus(context.Background(), s.ID, store.StatusUpdate{Status: store.StatusReady}); err != nil {
		t.Fatalf("UpdateStatus to ready: %v", err)
	}

	got, err := a.DeleteStore(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("DeleteStore: %v", err)
	}
	if got.Status != store.StatusDeleted {
		t.Fatalf("expected DELETED, got %s", got.Status)
	}
}

func TestDeleteStore_UninstallFailurePreservesOutput(t *testing.T) {
	repo := store.NewMemoryRepository()
	a := newAPI(repo, &fakePackager{ok: false, output: "release not found"}, &fakeReconciler{})

	s, err := a.CreateStore(context.Background(), validParams("shop1"))
	if err != nil {
		t.Fatalf("CreateStore: %v", err)
	}
	if err := repo.UpdateStatus(context.Background(), s.ID, store.StatusUpdate{Status: store.StatusReady}); err != nil {
		t.Fatalf("UpdateStatus to ready: %v", err)
	}

	_, err = a.DeleteStore(context.Background(), s.ID)
	if err == nil || !strings.Contains(err.Error(), "release not found") {
		t.Fatalf("expected error to preserve uninstall output, got %v", err)
	}

	got, getErr := repo.GetByID(context.Background(), s.ID)
	if getErr != nil {
		t.Fatalf("GetByID: %v", getErr)
	}
	if got.Status != store.StatusFailed {
		t.Fatalf("expected FAILED after uninstall failure, got %s", got.Status)
	}
	if got.FailureReason == nil || !strings.Contains(*got.FailureReason, "release not found") {
		t.Fatalf("expected failure_reason to contain uninstall output, got %+v", got.FailureReason)
	}
}

func TestDeleteStore_AlreadyDeletedIsInvalidState(t *testing.T) {
	repo := store.NewMemoryRepository()
	a := newAPI(repo, &fakePackager{ok: true}, &fakeReconciler{})

	s, err := a.CreateStore(context.Background(), validParams("shop1"))
	if err != nil {
		t.Fatalf("CreateStore: %v", err)
	}
	if err := repo.UpdateStatus(context.Background(), s.ID, store.StatusUpdate{Status: store.StatusReady}); err != nil {
		t.Fatal(err)
	}
	if _, err := a.DeleteStore(context.Background(), s.ID); err != nil {
		t.Fatalf("first DeleteStore: %v", err)
	}

	_, err = a.DeleteStore(context.Background(), s.ID)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState deleting an already-deleted store, got %v", err)
	}
}

func TestDeleteStore_NotFound(t *testing.T) {
	repo := store.NewMemoryRepository()
	a := newAPI(repo, &fakePackager{ok: true}, &fakeReconciler{})

	_, err := a.DeleteStore(context.Background(), "does-not-exist")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetStore_NotFound(t *testing.T) {
	repo := store.NewMemoryRepository()
	a := newAPI(repo, &fakePackager{}, &fakeReconciler{})

	_, err := a.GetStore(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListStores_ReturnsAll(t *testing.T) {
	repo := store.NewMemoryRepository()
	a := newAPI(repo, &fakePackager{}, &fakeReconciler{})

	if _, err := a.CreateStore(context.Background(), validParams("shop1")); err != nil {
		t.Fatal(err)
	}
	if _, err := a.CreateStore(context.Background(), validParams("shop2")); err != nil {
		t.Fatal(err)
	}

	stores, err := a.ListStores(context.Background())
	if err != nil {
		t.Fatalf("ListStores: %v", err)
	}
	if len(stores) != 2 {
		t.Fatalf("expected 2 stores, got %d", len(stores))
	}
}

func TestResumeInFlight_DelegatesToReconciler(t *testing.T) {
	repo := store.NewMemoryRepository()
	rec := &fakeReconciler{}
	a := newAPI(repo, &fakePackager{}, rec)

	if err := a.ResumeInFlight(context.Background()); err != nil {
		t.Fatalf("ResumeInFlight: %v", err)
	}
	if rec.resumed != 1 {
		t.Fatalf("expected reconciler.ResumeInFlight called once, got %d", rec.resumed)
	}
}
