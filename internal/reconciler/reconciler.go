// Package reconciler drives stores from PROVISIONING to a terminal state
// (READY or FAILED) using a fixed-size worker pool with per-store
// de-duplication and idempotent resume semantics.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cloudshelf/store-provisioner/internal/classifier"
	"github.com/cloudshelf/store-provisioner/internal/cluster"
	"github.com/cloudshelf/store-provisioner/internal/packager"
	"github.com/cloudshelf/store-provisioner/internal/store"
	"github.com/cloudshelf/store-provisioner/internal/telemetry"
)

// ingressName is the conventional name of a store's ingress resource.
const ingressName = "store-ingress"

// schedulingDelay is how long a worker sleeps after a fresh install before
// its first readiness check, giving the orchestrator time to schedule pods.
const schedulingDelay = 15 * time.Second

// Config holds the reconciler's tunables, sourced from spec.md §6's
// PROVISIONING_* environment variables.
type Config struct {
	Workers      int
	Timeout      time.Duration
	PollInterval time.Duration
	BaseDomain   string
}

// Packager is the subset of packager.Adapter the reconciler depends on.
// Declared here so tests can substitute a fake subprocess-free
// implementation instead of shelling out to a real packaging tool.
type Packager interface {
	Install(ctx context.Context, release, namespace string, values map[string]string) (bool, string)
	Status(ctx context.Context, release, namespace string) (string, bool)
}

// ClusterReader is the subset of cluster.Reader the reconciler depends on.
type ClusterReader interface {
	ListPods(ctx context.Context, ns string) ([]cluster.PodSnapshot, error)
	GetIngressHost(ctx context.Context, ns, ingressName string) (*cluster.IngressInfo, error)
}

// Reconciler owns the worker pool and the in-flight de-duplication map.
type Reconciler struct {
	repo     store.Repository
	packager Packager
	cluster  ClusterReader
	logger   *slog.Logger
	cfg      Config

	tasks chan string

	mu       sync.Mutex
	inFlight map[string]bool
	closed   bool

	group *errgroup.Group
}

// New creates a Reconciler and starts its worker pool. Call Shutdown to
// stop it gracefully.
func New(repo store.Repository, pkg Packager, cr ClusterReader, logger *slog.Logger, cfg Config) *Reconciler {
	if cfg.Workers <= 0 {
		cfg.Workers = 5
	}

	r := &Reconciler{
		repo:     repo,
		packager: pkg,
		cluster:  cr,
		logger:   logger,
		cfg:      cfg,
		tasks:    make(chan string, cfg.Workers*4),
		inFlight: make(map[string]bool),
	}

	g := new(errgroup.Group)
	for i := 0; i < cfg.Workers; i++ {
		g.Go(r.workerLoop)
	}
	r.group = g

	return r
}

func (r *Reconciler) workerLoop() error {
	for id := range r.tasks {
		r.runTask(id)
		r.release(id)
	}
	return nil
}

func (r *Reconciler) release(id string) {
	r.mu.Lock()
	delete(r.inFlight, id)
	telemetry.ReconcilerInFlight.Set(float64(len(r.inFlight)))
	r.mu.Unlock()
}

// Submit enqueues a store ID for provisioning. Duplicate submissions of an
// already in-flight ID are dropped with a warning. Non-blocking from the
// caller's perspective: the enqueue happens on a separate goroutine if the
// task channel is momentarily full.
func (r *Reconciler) Submit(id string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Warn("reconciler: submit after shutdown ignored", "store_id", id)
		return
	}
	if r.inFlight[id] {
		r.mu.Unlock()
		r.logger.Warn("reconciler: duplicate submission dropped", "store_id", id)
		return
	}
	r.inFlight[id] = true
	telemetry.ReconcilerInFlight.Set(float64(len(r.inFlight)))
	r.mu.Unlock()

	telemetry.ReconcilerQueueDepth.Inc()
	go func() {
		defer telemetry.ReconcilerQueueDepth.Dec()
		r.tasks <- id
	}()
}

// ResumeInFlight enumerates all PROVISIONING records and re-submits them.
// Called once at startup so a crashed control plane converges without
// manual intervention.
func (r *Reconciler) ResumeInFlight(ctx context.Context) error {
	stores, err := r.repo.ListByStatus(ctx, store.StatusProvisioning)
	if err != nil {
		return fmt.Errorf("listing provisioning stores: %w", err)
	}

	for _, s := range stores {
		if status, exists := r.packager.Status(ctx, s.Release, s.Namespace); exists {
			r.logger.Info("reconciler: resuming store with existing release", "store_id", s.ID, "release_status", status)
		} else {
			r.logger.Info("reconciler: resuming store with no existing release", "store_id", s.ID)
		}
		r.Submit(s.ID)
	}

	return nil
}

// Shutdown stops accepting new submissions and waits for active tasks to
// finish (or their next poll boundary). No forced cancellation: a
// half-finished task's store remains PROVISIONING, to be picked up by
// ResumeInFlight after restart.
func (r *Reconciler) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.tasks)

	done := make(chan error, 1)
	go func() { done <- r.group.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runTask executes the provisioning algorithm for one store ID, end to end.
// Every error path commits a terminal state; nothing escapes this function.
func (r *Reconciler) runTask(id string) {
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("reconciler: task panicked", "store_id", id, "panic", rec)
			r.fail(id, "", fmt.Sprintf("unexpected error: %v", rec), start)
		}
	}()

	ctx := context.Background()

	s, err := r.repo.GetByID(ctx, id)
	if err != nil {
		r.logger.Info("reconciler: store not found, dropping task", "store_id", id, "error", err)
		return
	}
	if s.Status != store.StatusProvisioning {
		r.logger.Info("reconciler: store no longer provisioning, skipping", "store_id", id, "status", s.Status)
		return
	}

	if !r.installIfNeeded(ctx, s, start) {
		return
	}

	r.pollUntilTerminal(ctx, s, start)
}

// installIfNeeded invokes the packager if no release exists yet. Returns
// false if installation failed (a terminal state was already committed).
func (r *Reconciler) installIfNeeded(ctx context.Context, s *store.Store, taskStart time.Time) bool {
	if _, exists := r.packager.Status(ctx, s.Release, s.Namespace); exists {
		r.logger.Info("reconciler: release already exists, skipping install", "store_id", s.ID)
		return true
	}

	values := packager.Values(packager.ValuesInput{
		ID:             s.ID,
		Name:           s.Name,
		Namespace:      s.Namespace,
		Engine:         s.Engine,
		Domain:         fmt.Sprintf("%s.%s", s.Name, r.cfg.BaseDomain),
		DBRootPassword: s.DBRootPassword,
		DBName:         s.DBName,
		DBUser:         s.DBUser,
		DBPassword:     s.DBPassword,
		AdminUsername:  s.AdminUsername,
		AdminPassword:  s.AdminPassword,
		AdminEmail:     s.AdminEmail,
	})

	ok, output := r.packager.Install(ctx, s.Release, s.Namespace, values)
	telemetry.PackagerInvocationsTotal.WithLabelValues("install", outcomeLabel(ok)).Inc()
	if !ok {
		r.fail(s.ID, s.Engine, fmt.Sprintf("install failed: %s", output), taskStart)
		return false
	}

	time.Sleep(schedulingDelay)
	return true
}

// pollUntilTerminal runs the readiness loop until Ready, Failed, or timeout.
func (r *Reconciler) pollUntilTerminal(ctx context.Context, s *store.Store, taskStart time.Time) {
	timeout := r.cfg.Timeout
	if timeout <= 0 {
		timeout = 600 * time.Second
	}
	pollInterval := r.cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}

	for {
		pods, err := r.cluster.ListPods(ctx, s.Namespace)
		if err != nil {
			r.logger.Warn("reconciler: transient cluster read error, treating as in-progress", "store_id", s.ID, "error", err)
			if r.checkTimeout(s, taskStart, timeout) {
				return
			}
			time.Sleep(pollInterval)
			continue
		}

		lookup := func(name string) *cluster.IngressInfo {
			info, ingErr := r.cluster.GetIngressHost(ctx, s.Namespace, name)
			if ingErr != nil {
				r.logger.Warn("reconciler: transient ingress read error", "store_id", s.ID, "error", ingErr)
				return nil
			}
			return info
		}

		verdict := classifier.Classify(s.Engine, pods, ingressName, lookup)

		switch verdict.Kind {
		case classifier.VerdictReady:
			r.succeed(s.ID, s.Engine, verdict.URL, taskStart)
			return
		case classifier.VerdictFailed:
			r.fail(s.ID, s.Engine, verdict.Reason, taskStart)
			return
		default:
			if r.checkTimeout(s, taskStart, timeout) {
				return
			}
			time.Sleep(pollInterval)
		}
	}
}

func (r *Reconciler) checkTimeout(s *store.Store, taskStart time.Time, timeout time.Duration) bool {
	if time.Since(taskStart) > timeout {
		r.fail(s.ID, s.Engine, fmt.Sprintf("timed out after %ds", int(timeout.Seconds())), taskStart)
		return true
	}
	return false
}

func (r *Reconciler) succeed(id, engine, url string, taskStart time.Time) {
	err := r.repo.UpdateStatus(context.Background(), id, store.StatusUpdate{
		Status:   store.StatusReady,
		StoreURL: &url,
	})
	if err != nil {
		r.logger.Error("reconciler: failed to commit READY status", "store_id", id, "error", err)
	}
	r.recordOutcome(engine, "ready", taskStart)
}

func (r *Reconciler) fail(id, engine, reason string, taskStart time.Time) {
	err := r.repo.UpdateStatus(context.Background(), id, store.StatusUpdate{
		Status:        store.StatusFailed,
		FailureReason: &reason,
	})
	if err != nil {
		r.logger.Error("reconciler: failed to commit FAILED status", "store_id", id, "error", err, "reason", reason)
	}
	r.recordOutcome(engine, "failed", taskStart)
}

func (r *Reconciler) recordOutcome(engine, outcome string, taskStart time.Time) {
	telemetry.ProvisioningDuration.WithLabelValues(engine, outcome).Observe(time.Since(taskStart).Seconds())
	telemetry.ProvisioningOutcomesTotal.WithLabelValues(engine, outcome).Inc()
}

func outcomeLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
