// Package classifier turns a cluster snapshot (pods + ingress) into a
// readiness verdict. It is a pure function package: no I/O, no third-party
// imports, deliberately trivial to unit test exhaustively.
package classifier

import (
	"fmt"
	"strings"

	"github.com/cloudshelf/store-provisioner/internal/cluster"
)

// VerdictKind discriminates the three possible outcomes of Classify.
type VerdictKind int

const (
	VerdictInProgress VerdictKind = iota
	VerdictReady
	VerdictFailed
)

// Verdict is the classifier's output: exactly one of Ready(url),
// InProgress(status message), or Failed(reason).
type Verdict struct {
	Kind   VerdictKind
	URL    string
	Status string
	Reason string
}

func ready(url string) Verdict         { return Verdict{Kind: VerdictReady, URL: url} }
func inProgress(status string) Verdict { return Verdict{Kind: VerdictInProgress, Status: status} }
func failed(reason string) Verdict     { return Verdict{Kind: VerdictFailed, Reason: reason} }

// Role identifies a pod's functional role within a store deployment.
type Role string

const (
	RoleDatabase  Role = "Database"
	RoleApp       Role = "App"
	RoleSetupJob  Role = "SetupJob"
)

// RoleRule matches pods to a Role by name substring, for one engine.
// The "Polymorphism over engines" design: a table of engine -> rules, rather
// than hard-coded substrings, so a new engine's pod-naming convention can be
// added without touching Classify's logic.
type RoleRule struct {
	Role      Role
	Substring string
	Label     string // human-readable label used in failure/status strings
}

// DefaultRules is the woocommerce role table: database (mysql), app
// (wordpress), setup-job (woocommerce-setup).
var DefaultRules = []RoleRule{
	{Role: RoleDatabase, Substring: "mysql", Label: "Database"},
	{Role: RoleApp, Substring: "wordpress", Label: "WordPress"},
	{Role: RoleSetupJob, Substring: "woocommerce-setup", Label: "SetupJob"},
}

// RulesByEngine maps an engine name to its role-recognition table. Engines
// without an explicit entry fall back to DefaultRules.
var RulesByEngine = map[string][]RoleRule{
	"woocommerce": DefaultRules,
}

// RulesFor returns the role-recognition table for the given engine.
func RulesFor(engine string) []RoleRule {
	if rules, ok := RulesByEngine[engine]; ok {
		return rules
	}
	return DefaultRules
}

var failImageReasons = map[string]bool{
	"ImagePullBackOff": true,
	"ErrImagePull":     true,
	"CrashLoopBackOff": true,
}

// roleMatch finds the first pod matching rule's substring, or nil.
func roleMatch(pods []cluster.PodSnapshot, rule RoleRule) *cluster.PodSnapshot {
	for i := range pods {
		if strings.Contains(pods[i].Name, rule.Substring) {
			return &pods[i]
		}
	}
	return nil
}

// workloadOutcome is the tri-state result of evaluating one database/app pod.
type workloadOutcome int

const (
	outcomeInProgress workloadOutcome = iota
	outcomeReady
	outcomeFailed
)

// classifyWorkload evaluates a database or app pod per spec.md §4.4: ready
// iff Running and every container ready; failed on known bad-image/crash
// waiting reasons or non-zero terminated exit; otherwise in-progress.
func classifyWorkload(pod *cluster.PodSnapshot) (workloadOutcome, string) {
	for _, c := range pod.Containers {
		if c.State.WaitingReason != "" && failImageReasons[c.State.WaitingReason] {
			return outcomeFailed, c.State.WaitingReason
		}
		if c.State.Terminated && c.State.TerminatedExit != 0 {
			return outcomeFailed, fmt.Sprintf("container terminated with exit code %d", c.State.TerminatedExit)
		}
	}

	if pod.Phase != cluster.PodRunning {
		return outcomeInProgress, string(pod.Phase)
	}

	for _, c := range pod.Containers {
		if !c.Ready {
			return outcomeInProgress, "waiting for containers to become ready"
		}
	}

	return outcomeReady, ""
}

// classifySetupJob evaluates a setup-job pod per spec.md §4.4: success iff
// exactly one container terminated with exit_code=0; non-zero exit fails;
// running or waiting is in-progress.
func classifySetupJob(pod *cluster.PodSnapshot) (workloadOutcome, string) {
	terminatedCount := 0
	for _, c := range pod.Containers {
		if c.State.Terminated {
			terminatedCount++
			if c.State.TerminatedExit != 0 {
				return outcomeFailed, fmt.Sprintf("exit code %d", c.State.TerminatedExit)
			}
		}
	}

	if terminatedCount == 1 && len(pod.Containers) >= 1 {
		allTerminated := true
		for _, c := range pod.Containers {
			if !c.State.Terminated {
				allTerminated = false
				break
			}
		}
		if allTerminated {
			return outcomeReady, ""
		}
	}

	return outcomeInProgress, string(pod.Phase)
}

// IngressLookup resolves the ingress for a namespace, returning nil if
// absent.
type IngressLookup func(ingressName string) *cluster.IngressInfo

// Classify is the pure function from a cluster snapshot to a readiness
// verdict. pods is every pod observed in the store's namespace;
// ingressLookup resolves the ingress host by name.
func Classify(engine string, pods []cluster.PodSnapshot, ingressName string, ingressLookup IngressLookup) Verdict {
	rules := RulesFor(engine)

	outcomes := make(map[Role]workloadOutcome)
	details := make(map[Role]string)
	statusParts := make([]string, 0, len(rules))

	// Tie-break rule 1: iterate in rule order (database -> app -> setup-job);
	// the first Failed role wins.
	for _, rule := range rules {
		pod := roleMatch(pods, rule)
		if pod == nil {
			statusParts = append(statusParts, fmt.Sprintf("%s: not found", rule.Label))
			outcomes[rule.Role] = outcomeInProgress
			continue
		}

		var outcome workloadOutcome
		var detail string
		if rule.Role == RoleSetupJob {
			outcome, detail = classifySetupJob(pod)
		} else {
			outcome, detail = classifyWorkload(pod)
		}

		outcomes[rule.Role] = outcome
		details[rule.Role] = detail
		statusParts = append(statusParts, fmt.Sprintf("%s: %s", rule.Label, describeOutcome(outcome, detail)))

		if outcome == outcomeFailed {
			return failed(fmt.Sprintf("%s: %s", rule.Label, detail))
		}
	}

	// Tie-break rule 2: all roles ready -> Ready, if ingress resolves.
	allReady := true
	for _, rule := range rules {
		if outcomes[rule.Role] != outcomeReady {
			allReady = false
			break
		}
	}

	if allReady {
		info := ingressLookup(ingressName)
		if info != nil && info.Host != "" {
			scheme := "http"
			if info.TLS {
				scheme = "https"
			}
			return ready(fmt.Sprintf("%s://%s", scheme, info.Host))
		}
		// Ingress not yet materialized: downgrade to InProgress, not Failed.
		return inProgress("all workloads ready, waiting for ingress")
	}

	// Tie-break rule 3: aggregate a human-readable in-progress status.
	return inProgress(strings.Join(statusParts, "; "))
}

func describeOutcome(outcome workloadOutcome, detail string) string {
	switch outcome {
	case outcomeReady:
		return "ready"
	case outcomeFailed:
		return "failed (" + detail + ")"
	default:
		if detail == "" {
			return "in progress"
		}
		return detail
	}
}
