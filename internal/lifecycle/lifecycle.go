// Package lifecycle implements the core entry points the HTTP layer calls:
// CreateStore, DeleteStore, GetStore, ListStores, ResumeInFlight.
package lifecycle

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cloudshelf/store-provisioner/internal/store"
	"github.com/cloudshelf/store-provisioner/internal/telemetry"
)

var (
	// ErrValidation reports malformed or forbidden input.
	ErrValidation = errors.New("lifecycle: validation error")
	// ErrConflict reports a uniqueness violation (duplicate store name).
	ErrConflict = errors.New("lifecycle: conflict")
	// ErrInvalidState reports an operation refused due to the store's
	// current status (e.g. deleting an already-DELETED store).
	ErrInvalidState = errors.New("lifecycle: invalid state")
)

// allowedEngines is the closed set of supported store engines.
var allowedEngines = map[string]bool{
	"woocommerce": true,
	"medusa":      true,
}

// Reconciler is the subset of the provisioning reconciler the lifecycle API
// depends on.
type Reconciler interface {
	Submit(storeID string)
	ResumeInFlight(ctx context.Context) error
}

// Packager is the subset of the packager adapter DeleteStore needs.
type Packager interface {
	Uninstall(ctx context.Context, release, namespace string) (bool, string)
}

// CreateParams carries CreateStore's caller-supplied input.
type CreateParams struct {
	Name          string
	Engine        string
	AdminUsername string
	AdminPassword string
	AdminEmail    string
}

// API wires together the repository, packager, and reconciler behind the
// operations the HTTP layer calls. All dependencies are passed in
// explicitly; there are no package-level singletons.
type API struct {
	repo       store.Repository
	packager   Packager
	reconciler Reconciler
	logger     *slog.Logger
	baseDomain string
}

// New creates a lifecycle API.
func New(repo store.Repository, pkg Packager, rec Reconciler, logger *slog.Logger, baseDomain string) *API {
	return &API{
		repo:       repo,
		packager:   pkg,
		reconciler: rec,
		logger:     logger,
		baseDomain: baseDomain,
	}
}

// CreateStore validates input, generates identity and credentials, persists
// a PROVISIONING record, and submits it to the reconciler.
func (a *API) CreateStore(ctx context.Context, p CreateParams) (*store.Store, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name must not be empty", ErrValidation)
	}
	if !allowedEngines[p.Engine] {
		return nil, fmt.Errorf("%w: unknown engine %q", ErrValidation, p.Engine)
	}
	if strings.TrimSpace(p.AdminUsername) == "" {
		return nil, fmt.Errorf("%w: admin_username must not be empty", ErrValidation)
	}
	if strings.TrimSpace(p.AdminPassword) == "" {
		return nil, fmt.Errorf("%w: admin_password must not be empty", ErrValidation)
	}
	if strings.TrimSpace(p.AdminEmail) == "" {
		return nil, fmt.Errorf("%w: admin_email must not be empty", ErrValidation)
	}

	if _, err := a.repo.GetByName(ctx, name); err == nil {
		return nil, fmt.Errorf("%w: store name %q already exists", ErrConflict, name)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("checking existing store name: %w", err)
	}

	id := generateID(name)
	now := time.Now().UTC()

	s := &store.Store{
		ID:             id,
		Name:           name,
		Engine:         p.Engine,
		Namespace:      "store-" + id,
		Release:        id,
		Status:         store.StatusProvisioning,
		DBRootPassword: generatePassword(24),
		DBName:         storeDBName(name),
		DBUser:         storeDBUser(name),
		DBPassword:     generatePassword(24),
		AdminUsername:  p.AdminUsername,
		AdminPassword:  p.AdminPassword,
		AdminEmail:     p.AdminEmail,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := a.repo.Insert(ctx, s); err != nil {
		if errors.Is(err, store.ErrDuplicateName) {
			return nil, fmt.Errorf("%w: store name %q already exists", ErrConflict, name)
		}
		return nil, fmt.Errorf("inserting store: %w", err)
	}

	a.reconciler.Submit(s.ID)

	return s, nil
}

// DeleteStore transitions a store to DELETING, synchronously uninstalls its
// release, and commits DELETED on success or FAILED on failure. The
// uninstall output is preserved by construction: it is read in the same
// scope it is produced, never referenced outside that scope.
func (a *API) DeleteStore(ctx context.Context, id string) (*store.Store, error) {
	start := time.Now()

	s, err := a.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("loading store: %w", err)
	}

	if s.Status == store.StatusDeleted {
		return nil, fmt.Errorf("%w: store %q is already deleted", ErrInvalidState, id)
	}

	if err := a.repo.UpdateStatus(ctx, id, store.StatusUpdate{Status: store.StatusDeleting}); err != nil {
		return nil, fmt.Errorf("transitioning to deleting: %w", err)
	}

	ok, output := a.packager.Uninstall(ctx, s.Release, s.Namespace)
	if !ok {
		reason := fmt.Sprintf("delete failed: %s", output)
		if updErr := a.repo.UpdateStatus(ctx, id, store.StatusUpdate{Status: store.StatusFailed, FailureReason: &reason}); updErr != nil {
			a.logger.Error("lifecycle: failed to commit FAILED status after uninstall failure", "store_id", id, "error", updErr)
		}
		telemetry.DeleteStoreDuration.WithLabelValues("failure").Observe(time.Since(start).Seconds())
		return nil, errors.New(reason)
	}

	if err := a.repo.UpdateStatus(ctx, id, store.StatusUpdate{Status: store.StatusDeleted}); err != nil {
		return nil, fmt.Errorf("transitioning to deleted: %w", err)
	}

	telemetry.DeleteStoreDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())

	return a.repo.GetByID(ctx, id)
}

// GetStore returns the store with the given ID.
func (a *API) GetStore(ctx context.Context, id string) (*store.Store, error) {
	return a.repo.GetByID(ctx, id)
}

// ListStores returns every store record, newest first.
func (a *API) ListStores(ctx context.Context) ([]*store.Store, error) {
	return a.repo.List(ctx)
}

// ResumeInFlight re-submits every PROVISIONING record to the reconciler.
// Called once at startup.
func (a *API) ResumeInFlight(ctx context.Context) error {
	return a.reconciler.ResumeInFlight(ctx)
}

// generateID produces the deterministic-shape ID "{name}-{8 hex chars}".
func generateID(name string) string {
	return fmt.Sprintf("%s-%s", name, strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
}

// storeDBName derives db_name = "store_{name}_db", hyphens folded to
// underscores, matching the original provisioning service's naming scheme.
func storeDBName(name string) string {
	return "store_" + strings.ReplaceAll(name, "-", "_") + "_db"
}

// storeDBUser derives db_user = "user_{name}", hyphens folded to underscores.
func storeDBUser(name string) string {
	return "user_" + strings.ReplaceAll(name, "-", "_")
}

const passwordAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789!@#%^&*"

// generatePassword returns a cryptographically random password of length n
// drawn from a mixed alphabet, satisfying spec.md §3's "≥20 chars, mixed
// alphabet" requirement for db_* passwords.
func generatePassword(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}

	out := make([]byte, n)
	for i, v := range b {
		out[i] = passwordAlphabet[int(v)%len(passwordAlphabet)]
	}
	return string(out)
}
