package cluster

import (
	"context"
	"testing"

	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func TestListPods_SnapshotsRunningAndWaitingContainers(t *testing.T) {
	clientset := fake.NewSimpleClientset(
		&corev1.Pod{
			ObjectMeta: metav1.ObjectMeta{Name: "mysql-0", Namespace: "store-shop1"},
			Status: corev1.PodStatus{
				Phase: corev1.PodRunning,
				ContainerStatuses: []corev1.ContainerStatus{
					{
						Name:  "mysql",
						Ready: true,
						State: corev1.ContainerState{Running: &corev1.ContainerStateRunning{}},
					},
				},
			},
		},
		&corev1.Pod{
			ObjectMeta: metav1.ObjectMeta{Name: "wordpress-abc", Namespace: "store-shop1"},
			Status: corev1.PodStatus{
				Phase: corev1.PodPending,
				ContainerStatuses: []corev1.ContainerStatus{
					{
						Name:  "wordpress",
						Ready: false,
						State: corev1.ContainerState{Waiting: &corev1.ContainerStateWaiting{Reason: "ImagePullBackOff"}},
					},
				},
			},
		},
	)

	r := New(clientset)
	pods, err := r.ListPods(context.Background(), "store-shop1")
	if err != nil {
		t.Fatalf("ListPods: %v", err)
	}
	if len(pods) != 2 {
		t.Fatalf("expected 2 pods, got %d", len(pods))
	}

	byName := map[string]PodSnapshot{}
	for _, p := range pods {
		byName[p.Name] = p
	}

	mysql := byName["mysql-0"]
	if mysql.Phase != PodRunning || !mysql.Containers[0].Ready || !mysql.Containers[0].State.Running {
		t.Fatalf("unexpected mysql snapshot: %+v", mysql)
	}

	wp := byName["wordpress-abc"]
	if wp.Containers[0].State.WaitingReason != "ImagePullBackOff" {
		t.Fatalf("unexpected wordpress snapshot: %+v", wp)
	}
}

func TestListPods_EmptyNamespaceReturnsEmptySlice(t *testing.T) {
	clientset := fake.NewSimpleClientset()

	r := New(clientset)
	pods, err := r.ListPods(context.Background(), "store-missing")
	if err != nil {
		t.Fatalf("ListPods: %v", err)
	}
	if len(pods) != 0 {
		t.Fatalf("expected no pods, got %d", len(pods))
	}
}

func TestGetIngressHost_ResolvesHostAndTLS(t *testing.T) {
	clientset := fake.NewSimpleClientset(&networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{Name: "store-ingress", Namespace: "store-shop1"},
		Spec: networkingv1.IngressSpec{
			Rules: []networkingv1.IngressRule{{Host: "shop1.localhost"}},
			TLS:   []networkingv1.IngressTLS{{Hosts: []string{"shop1.localhost"}}},
		},
	})

	r := New(clientset)
	info, err := r.GetIngressHost(context.Background(), "store-shop1", "store-ingress")
	if err != nil {
		t.Fatalf("GetIngressHost: %v", err)
	}
	if info == nil || info.Host != "shop1.localhost" || !info.TLS {
		t.Fatalf("unexpected ingress info: %+v", info)
	}
}

func TestGetIngressHost_AbsentReturnsNilNotError(t *testing.T) {
	clientset := fake.NewSimpleClientset()

	r := New(clientset)
	info, err := r.GetIngressHost(context.Background(), "store-shop1", "store-ingress")
	if err != nil {
		t.Fatalf("expected no error for absent ingress, got %v", err)
	}
	if info != nil {
		t.Fatalf("expected nil ingress info, got %+v", info)
	}
}

func TestNamespaceExists(t *testing.T) {
	clientset := fake.NewSimpleClientset(&corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: "store-shop1"},
	})

	r := New(clientset)

	exists, err := r.NamespaceExists(context.Background(), "store-shop1")
	if err != nil || !exists {
		t.Fatalf("expected existing namespace to be found, got exists=%v err=%v", exists, err)
	}

	exists, err = r.NamespaceExists(context.Background(), "store-missing")
	if err != nil || exists {
		t.Fatalf("expected missing namespace to be absent, got exists=%v err=%v", exists, err)
	}
}
