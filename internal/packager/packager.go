// Package packager wraps a Helm-compatible packaging CLI, invoked as a
// subprocess, for installing, uninstalling, and querying tenant releases.
package packager

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	installTimeout   = 300 * time.Second
	uninstallTimeout = 120 * time.Second
)

// Adapter invokes the packaging tool as a subprocess.
type Adapter struct {
	bin           string
	chartPath     string
	valuesFile    string
	envValuesFile string
}

// New creates a packager Adapter. bin is the CLI binary name or path
// (e.g. "helm"); chartPath is the directory holding the chart; valuesFile
// and envValuesFile are layered -f value files resolved relative to
// chartPath.
func New(bin, chartPath, valuesFile, envValuesFile string) *Adapter {
	return &Adapter{
		bin:           bin,
		chartPath:     chartPath,
		valuesFile:    valuesFile,
		envValuesFile: envValuesFile,
	}
}

// Validate verifies the packaging tool is reachable and the chart directory
// contains a manifest file. Both failures are fatal at startup per spec.
func (a *Adapter) Validate(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, a.bin, "version", "--short")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("packaging tool %q unreachable: %w", a.bin, err)
	}

	manifest := filepath.Join(a.chartPath, "Chart.yaml")
	if _, err := os.Stat(manifest); err != nil {
		return fmt.Errorf("chart manifest not found at %s: %w", manifest, err)
	}

	return nil
}

// Install invokes the packaging tool to install release into namespace with
// the given values overrides. Returns ok=false with a human-readable output
// on failure or timeout; never returns a non-nil error for a failed install
// (failure is reported in the return values, not an error, matching
// spec.md §4.2's (ok, output) contract).
func (a *Adapter) Install(ctx context.Context, release, namespace string, values map[string]string) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, installTimeout)
	defer cancel()

	args := []string{
		"install", release, a.chartPath,
		"--namespace", namespace,
		"--create-namespace",
		"-f", filepath.Join(a.chartPath, a.valuesFile),
		"-f", filepath.Join(a.chartPath, a.envValuesFile),
	}
	args = append(args, setArgs(values)...)

	output, err := a.run(ctx, args...)
	if ctx.Err() != nil {
		return false, "install timed out"
	}
	if err != nil {
		return false, output
	}
	return true, output
}

// Uninstall invokes the packaging tool to remove release from namespace.
func (a *Adapter) Uninstall(ctx context.Context, release, namespace string) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, uninstallTimeout)
	defer cancel()

	output, err := a.run(ctx, "uninstall", release, "--namespace", namespace)
	if ctx.Err() != nil {
		return false, "uninstall timed out"
	}
	if err != nil {
		return false, output
	}
	return true, output
}

type statusInfo struct {
	Info struct {
		Status string `json:"status"`
	} `json:"info"`
}

// Status returns the release's parsed status token (e.g. "deployed",
// "failed", "pending-install"), or ("", false) if the release does not exist.
func (a *Adapter) Status(ctx context.Context, release, namespace string) (string, bool) {
	output, err := a.run(ctx, "status", release, "--namespace", namespace, "--output", "json")
	if err != nil {
		return "", false
	}

	var parsed statusInfo
	if jsonErr := json.Unmarshal([]byte(output), &parsed); jsonErr != nil {
		return "", false
	}
	if parsed.Info.Status == "" {
		return "", false
	}
	return parsed.Info.Status, true
}

func (a *Adapter) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, a.bin, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	combined := strings.TrimSpace(stdout.String())
	if combined == "" {
		combined = strings.TrimSpace(stderr.String())
	}
	return combined, err
}

// setArgs converts a dotted-path values map into sorted "--set key=value"
// argument pairs, for deterministic subprocess invocation.
func setArgs(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, "--set", fmt.Sprintf("%s=%s", k, values[k]))
	}
	return args
}

// ValuesInput carries the identity and credential fields Values needs from a
// store record, without coupling this package to internal/store's type.
type ValuesInput struct {
	ID             string
	Name           string
	Namespace      string
	Engine         string
	Domain         string
	DBRootPassword string
	DBName         string
	DBUser         string
	DBPassword     string
	AdminUsername  string
	AdminPassword  string
	AdminEmail     string
}

// Values builds the dotted-path values map the chart expects from a store's
// generated identity and credentials.
func Values(in ValuesInput) map[string]string {
	return map[string]string{
		"store.id":                      in.ID,
		"store.name":                    in.Name,
		"store.namespace":               in.Namespace,
		"store.engine":                  in.Engine,
		"store.domain":                  in.Domain,
		"secrets.database.rootPassword": in.DBRootPassword,
		"secrets.database.name":         in.DBName,
		"secrets.database.username":     in.DBUser,
		"secrets.database.password":     in.DBPassword,
		"secrets.admin.username":        in.AdminUsername,
		"secrets.admin.password":        in.AdminPassword,
		"secrets.admin.email":           in.AdminEmail,
	}
}
