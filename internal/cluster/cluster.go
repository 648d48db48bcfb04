// Package cluster provides a thin, read-only adapter over the Kubernetes
// API: namespace existence, pod/container status, and ingress host lookup.
package cluster

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// ContainerState is a container's runtime state.
type ContainerState struct {
	Running        bool
	WaitingReason  string
	Terminated     bool
	TerminatedExit int32
}

// ContainerSnapshot describes a single container's observed status.
type ContainerSnapshot struct {
	Name         string
	Ready        bool
	RestartCount int32
	State        ContainerState
}

// PodPhase mirrors the phases a PodSnapshot may report.
type PodPhase string

const (
	PodPending   PodPhase = "Pending"
	PodRunning   PodPhase = "Running"
	PodSucceeded PodPhase = "Succeeded"
	PodFailed    PodPhase = "Failed"
	PodUnknown   PodPhase = "Unknown"
)

// PodSnapshot is a read-only view of a pod's status relevant to readiness
// classification.
type PodSnapshot struct {
	Name       string
	Phase      PodPhase
	Containers []ContainerSnapshot
}

// IngressInfo describes a resolved ingress host.
type IngressInfo struct {
	Host string
	TLS  bool
}

// Reader is a read-only adapter over the Kubernetes API.
type Reader struct {
	clientset kubernetes.Interface
}

// New creates a Reader backed by the given typed clientset.
func New(clientset kubernetes.Interface) *Reader {
	return &Reader{clientset: clientset}
}

// NamespaceExists reports whether namespace ns currently exists.
func (r *Reader) NamespaceExists(ctx context.Context, ns string) (bool, error) {
	_, err := r.clientset.CoreV1().Namespaces().Get(ctx, ns, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking namespace %q: %w", ns, err)
	}
	return true, nil
}

// ListPods returns a snapshot of every pod in namespace ns.
func (r *Reader) ListPods(ctx context.Context, ns string) ([]PodSnapshot, error) {
	list, err := r.clientset.CoreV1().Pods(ns).List(ctx, metav1.ListOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing pods in %q: %w", ns, err)
	}

	snapshots := make([]PodSnapshot, 0, len(list.Items))
	for _, pod := range list.Items {
		snapshots = append(snapshots, snapshotPod(&pod))
	}
	return snapshots, nil
}

// GetIngressHost returns the resolved host/TLS status of ingressName in
// namespace ns, or (nil, nil) if the ingress does not exist.
func (r *Reader) GetIngressHost(ctx context.Context, ns, ingressName string) (*IngressInfo, error) {
	ing, err := r.clientset.NetworkingV1().Ingresses(ns).Get(ctx, ingressName, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting ingress %q in %q: %w", ingressName, ns, err)
	}

	if len(ing.Spec.Rules) == 0 {
		return nil, nil
	}

	host := ing.Spec.Rules[0].Host
	tls := len(ing.Spec.TLS) > 0

	return &IngressInfo{Host: host, TLS: tls}, nil
}

func snapshotPod(pod *corev1.Pod) PodSnapshot {
	containers := make([]ContainerSnapshot, 0, len(pod.Status.ContainerStatuses))
	for _, cs := range pod.Status.ContainerStatuses {
		containers = append(containers, snapshotContainer(&cs))
	}

	return PodSnapshot{
		Name:       pod.Name,
		Phase:      mapPhase(pod.Status.Phase),
		Containers: containers,
	}
}

func snapshotContainer(cs *corev1.ContainerStatus) ContainerSnapshot {
	state := ContainerState{}

	switch {
	case cs.State.Running != nil:
		state.Running = true
	case cs.State.Waiting != nil:
		state.WaitingReason = cs.State.Waiting.Reason
	case cs.State.Terminated != nil:
		state.Terminated = true
		state.TerminatedExit = cs.State.Terminated.ExitCode
	}

	return ContainerSnapshot{
		Name:         cs.Name,
		Ready:        cs.Ready,
		RestartCount: cs.RestartCount,
		State:        state,
	}
}

func mapPhase(p corev1.PodPhase) PodPhase {
	switch p {
	case corev1.PodPending:
		return PodPending
	case corev1.PodRunning:
		return PodRunning
	case corev1.PodSucceeded:
		return PodSucceeded
	case corev1.PodFailed:
		return PodFailed
	default:
		return PodUnknown
	}
}
