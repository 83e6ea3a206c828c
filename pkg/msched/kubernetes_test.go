package msched

import (
	"context"
	"testing"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
	"k8s.io/utils/ptr"
)

func TestKubernetesSubmit(t *testing.T) {
	client := fake.NewSimpleClientset()
	s := &Kubernetes{client: client, namespace: "molt", image: "molt-transform:latest"}

	id, err := s.Submit(context.Background(), SubmitSpec{
		Name:    "repo1-java-upgrade",
		Queue:   "transform-queue",
		Command: []string{"--output", "transformations/repo1-java-upgrade/", "--command", "molt run"},
		Env:     map[string]string{"S3_BUCKET": "molt-outputs"},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if id == "" {
		t.Fatal("Expected a job id")
	}

	list, err := client.BatchV1().Jobs("molt").List(context.Background(), metav1.ListOptions{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list.Items) != 1 {
		t.Fatalf("Expected 1 job, got %d", len(list.Items))
	}

	job := &list.Items[0]
	if job.Labels[jobIDLabel] != id {
		t.Errorf("Job should carry its id label, got %v", job.Labels)
	}
	if job.Labels[kueueQueueLabel] != "transform-queue" {
		t.Errorf("Job should carry the Kueue queue label, got %v", job.Labels)
	}
	if job.Spec.Suspend == nil || !*job.Spec.Suspend {
		t.Error("Queued job should start suspended")
	}

	container := job.Spec.Template.Spec.Containers[0]
	if container.Image != "molt-transform:latest" {
		t.Errorf("Unexpected image: %s", container.Image)
	}
	if len(container.Args) != 4 || container.Args[0] != "--output" {
		t.Errorf("Unexpected args: %v", container.Args)
	}
	if len(container.Env) != 1 || container.Env[0].Name != "S3_BUCKET" {
		t.Errorf("Unexpected env: %v", container.Env)
	}
}

func TestKubernetesSubmitWithoutQueue(t *testing.T) {
	client := fake.NewSimpleClientset()
	s := &Kubernetes{client: client, namespace: "molt", image: "molt-transform:latest"}

	if _, err := s.Submit(context.Background(), SubmitSpec{
		Name:    "plain",
		Command: []string{"--command", "molt run"},
	}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	list, _ := client.BatchV1().Jobs("molt").List(context.Background(), metav1.ListOptions{})
	job := &list.Items[0]
	if job.Spec.Suspend != nil && *job.Spec.Suspend {
		t.Error("Job without a queue should not be suspended")
	}
	if _, ok := job.Labels[kueueQueueLabel]; ok {
		t.Error("Job without a queue should not carry the Kueue label")
	}
}

func TestKubernetesDescribe(t *testing.T) {
	stopped := time.Date(2026, 8, 25, 10, 5, 0, 0, time.UTC)
	started := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:              "molt-abcd1234",
			Namespace:         "molt",
			Labels:            map[string]string{jobIDLabel: "id-1", jobNameLabel: "repo1-java-upgrade"},
			CreationTimestamp: metav1.Time{Time: started.Add(-time.Minute)},
		},
		Spec: batchv1.JobSpec{
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name: "transform",
						Args: []string{"--output", "transformations/repo1-java-upgrade/", "--command", "molt run"},
						Env:  []corev1.EnvVar{{Name: "S3_BUCKET", Value: "molt-outputs"}},
					}},
				},
			},
		},
		Status: batchv1.JobStatus{
			Conditions: []batchv1.JobCondition{{
				Type:               batchv1.JobComplete,
				Status:             corev1.ConditionTrue,
				LastTransitionTime: metav1.Time{Time: stopped},
			}},
		},
	}
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "molt-abcd1234-x7k2p",
			Namespace: "molt",
			Labels:    map[string]string{"job-name": "molt-abcd1234"},
		},
		Status: corev1.PodStatus{
			StartTime: &metav1.Time{Time: started},
			ContainerStatuses: []corev1.ContainerStatus{{
				State: corev1.ContainerState{
					Terminated: &corev1.ContainerStateTerminated{ExitCode: 0},
				},
			}},
		},
	}

	client := fake.NewSimpleClientset(job, pod)
	s := &Kubernetes{client: client, namespace: "molt", image: "molt-transform:latest"}

	details, err := s.Describe(context.Background(), []string{"id-1", "id-gone"})
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if len(details) != 1 {
		t.Fatalf("Expected 1 detail, got %d", len(details))
	}

	d := details[0]
	if d.ID != "id-1" {
		t.Errorf("Expected id-1, got %s", d.ID)
	}
	if d.Name != "repo1-java-upgrade" {
		t.Errorf("Unexpected name: %s", d.Name)
	}
	if d.Status != StateSucceeded {
		t.Errorf("Expected SUCCEEDED, got %s", d.Status)
	}
	if d.StoppedAt == nil || !d.StoppedAt.Equal(stopped) {
		t.Errorf("Unexpected StoppedAt: %v", d.StoppedAt)
	}
	if d.StartedAt == nil || !d.StartedAt.Equal(started) {
		t.Errorf("Unexpected StartedAt: %v", d.StartedAt)
	}
	if d.ExitCode == nil || *d.ExitCode != 0 {
		t.Errorf("Unexpected exit code: %v", d.ExitCode)
	}
	if d.LogStream != "molt-abcd1234-x7k2p" {
		t.Errorf("Unexpected log stream: %s", d.LogStream)
	}
	if d.Env["S3_BUCKET"] != "molt-outputs" {
		t.Errorf("Unexpected env: %v", d.Env)
	}
}

func TestKubernetesTerminate(t *testing.T) {
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "molt-abcd1234",
			Namespace: "molt",
			Labels:    map[string]string{jobIDLabel: "id-1"},
		},
	}
	client := fake.NewSimpleClientset(job)
	s := &Kubernetes{client: client, namespace: "molt", image: "molt-transform:latest"}

	if err := s.Terminate(context.Background(), "id-1", "testing"); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}

	list, _ := client.BatchV1().Jobs("molt").List(context.Background(), metav1.ListOptions{})
	if len(list.Items) != 0 {
		t.Errorf("Expected job to be deleted, found %d", len(list.Items))
	}

	if err := s.Terminate(context.Background(), "id-gone", "testing"); err == nil {
		t.Error("Expected error terminating an unknown job")
	}
}

func TestJobState(t *testing.T) {
	condition := func(ct batchv1.JobConditionType) batchv1.JobStatus {
		return batchv1.JobStatus{
			Conditions: []batchv1.JobCondition{{Type: ct, Status: corev1.ConditionTrue}},
		}
	}

	tests := []struct {
		name string
		job  *batchv1.Job
		want State
	}{
		{"suspended", &batchv1.Job{Spec: batchv1.JobSpec{Suspend: ptr.To(true)}}, StateRunnable},
		{"complete", &batchv1.Job{Status: condition(batchv1.JobComplete)}, StateSucceeded},
		{"failed", &batchv1.Job{Status: condition(batchv1.JobFailed)}, StateFailed},
		{"active ready", &batchv1.Job{Status: batchv1.JobStatus{Active: 1, Ready: ptr.To(int32(1))}}, StateRunning},
		{"active not ready", &batchv1.Job{Status: batchv1.JobStatus{Active: 1}}, StateStarting},
		{"no activity", &batchv1.Job{}, StatePending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := jobState(tt.job); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}
