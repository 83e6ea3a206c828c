package msched

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/utils/ptr"
)

const (
	// kueueQueueLabel assigns the Job to a Kueue local queue.
	kueueQueueLabel = "kueue.x-k8s.io/queue-name"

	// jobIDLabel carries the scheduler job id on Jobs and containers.
	jobIDLabel = "molt.job-id"

	// jobNameLabel carries the caller-visible job name.
	jobNameLabel = "molt.job-name"
)

// Kubernetes runs jobs as batch/v1 Jobs in a single namespace, with
// Kueue integration when a queue is set on the submission.
type Kubernetes struct {
	client    kubernetes.Interface
	namespace string
	image     string
}

// NewKubernetes creates a Kubernetes scheduler running the given
// transform image.
func NewKubernetes(namespace, image string) (*Kubernetes, error) {
	config, err := kubeConfig()
	if err != nil {
		return nil, fmt.Errorf("loading kubeconfig: %w", err)
	}

	client, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("creating k8s client: %w", err)
	}

	return &Kubernetes{
		client:    client,
		namespace: namespace,
		image:     image,
	}, nil
}

// kubeConfig prefers in-cluster config, then KUBECONFIG, then the
// default kubeconfig path.
func kubeConfig() (*rest.Config, error) {
	if config, err := rest.InClusterConfig(); err == nil {
		return config, nil
	}

	kubeconfig := os.Getenv("KUBECONFIG")
	if kubeconfig == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		kubeconfig = filepath.Join(home, ".kube", "config")
	}

	return clientcmd.BuildConfigFromFlags("", kubeconfig)
}

// Submit creates a suspended-or-running Job for the submission.
func (s *Kubernetes) Submit(ctx context.Context, spec SubmitSpec) (string, error) {
	jobID := uuid.New().String()
	jobName := fmt.Sprintf("molt-%s", jobID[:8])

	labels := map[string]string{
		jobIDLabel:   jobID,
		jobNameLabel: spec.Name,
	}
	if spec.Queue != "" {
		labels[kueueQueueLabel] = spec.Queue
	}

	annotations := map[string]string{}
	for k, v := range spec.Tags {
		annotations["molt.tag/"+k] = v
	}

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:        jobName,
			Labels:      labels,
			Annotations: annotations,
		},
		Spec: batchv1.JobSpec{
			Parallelism:  ptr.To(int32(1)),
			Completions:  ptr.To(int32(1)),
			BackoffLimit: ptr.To(int32(0)),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{jobIDLabel: jobID},
				},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{
						{
							Name:  "transform",
							Image: s.image,
							Args:  spec.Command,
							Env:   envVars(spec.Env),
							Resources: corev1.ResourceRequirements{
								Requests: corev1.ResourceList{
									corev1.ResourceCPU:    mustParseQuantity("500m"),
									corev1.ResourceMemory: mustParseQuantity("1Gi"),
								},
							},
						},
					},
				},
			},
		},
	}
	if spec.Queue != "" {
		// Start suspended, Kueue will unsuspend on admission
		job.Spec.Suspend = ptr.To(true)
	}

	if _, err := s.client.BatchV1().Jobs(s.namespace).Create(ctx, job, metav1.CreateOptions{}); err != nil {
		return "", fmt.Errorf("creating job: %w", err)
	}

	return jobID, nil
}

// Describe lists Jobs carrying the given job ids.
func (s *Kubernetes) Describe(ctx context.Context, ids []string) ([]JobDetail, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	selector := fmt.Sprintf("%s in (%s)", jobIDLabel, strings.Join(ids, ","))
	list, err := s.client.BatchV1().Jobs(s.namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}

	details := make([]JobDetail, 0, len(list.Items))
	for i := range list.Items {
		details = append(details, s.toJobDetail(ctx, &list.Items[i]))
	}
	return details, nil
}

// Terminate deletes the Job and its pods.
func (s *Kubernetes) Terminate(ctx context.Context, id, reason string) error {
	job, err := s.findJob(ctx, id)
	if err != nil {
		return err
	}

	policy := metav1.DeletePropagationForeground
	return s.client.BatchV1().Jobs(s.namespace).Delete(ctx, job.Name, metav1.DeleteOptions{
		PropagationPolicy: &policy,
	})
}

// RecentLogs reads the tail of the job's pod log.
func (s *Kubernetes) RecentLogs(ctx context.Context, job *JobDetail, limit int) ([]string, error) {
	if job.LogStream == "" {
		return nil, nil
	}

	tail := int64(limit)
	req := s.client.CoreV1().Pods(s.namespace).GetLogs(job.LogStream, &corev1.PodLogOptions{TailLines: &tail})
	stream, err := req.Stream(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting pod logs: %w", err)
	}
	defer stream.Close()

	data, err := io.ReadAll(stream)
	if err != nil {
		return nil, fmt.Errorf("reading pod logs: %w", err)
	}

	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return nil, nil
	}
	return newestFirst(strings.Split(text, "\n")), nil
}

func (s *Kubernetes) findJob(ctx context.Context, id string) (*batchv1.Job, error) {
	selector := fmt.Sprintf("%s=%s", jobIDLabel, id)
	list, err := s.client.BatchV1().Jobs(s.namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	if len(list.Items) == 0 {
		return nil, fmt.Errorf("job %s not found", id)
	}
	return &list.Items[0], nil
}

func (s *Kubernetes) toJobDetail(ctx context.Context, job *batchv1.Job) JobDetail {
	detail := JobDetail{
		ID:     job.Labels[jobIDLabel],
		Name:   job.Labels[jobNameLabel],
		Status: jobState(job),
	}
	if detail.Name == "" {
		detail.Name = job.Name
	}
	if !job.CreationTimestamp.IsZero() {
		created := job.CreationTimestamp.Time
		detail.CreatedAt = &created
	}

	if c := jobContainer(job); c != nil {
		detail.Command = c.Args
		if len(c.Env) > 0 {
			detail.Env = make(map[string]string, len(c.Env))
			for _, env := range c.Env {
				detail.Env[env.Name] = env.Value
			}
		}
	}

	for _, condition := range job.Status.Conditions {
		if condition.Status != corev1.ConditionTrue {
			continue
		}
		switch condition.Type {
		case batchv1.JobComplete:
			stopped := condition.LastTransitionTime.Time
			detail.StoppedAt = &stopped
		case batchv1.JobFailed:
			stopped := condition.LastTransitionTime.Time
			detail.StoppedAt = &stopped
			detail.StatusReason = condition.Message
		}
	}

	// Pod-level detail: start time, exit code, log source
	pods, err := s.client.CoreV1().Pods(s.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("job-name=%s", job.Name),
	})
	if err == nil && len(pods.Items) > 0 {
		pod := &pods.Items[0]
		if pod.Status.StartTime != nil {
			started := pod.Status.StartTime.Time
			detail.StartedAt = &started
		}
		for _, status := range pod.Status.ContainerStatuses {
			if status.State.Terminated != nil {
				exitCode := int(status.State.Terminated.ExitCode)
				detail.ExitCode = &exitCode
			}
		}
		detail.LogStream = pod.Name
		detail.LogGroup = s.namespace
	}

	return detail
}

// jobState maps a Job's conditions onto the scheduler state set.
func jobState(job *batchv1.Job) State {
	// Suspended means queued, waiting for Kueue admission
	if job.Spec.Suspend != nil && *job.Spec.Suspend {
		return StateRunnable
	}

	for _, condition := range job.Status.Conditions {
		if condition.Status != corev1.ConditionTrue {
			continue
		}
		switch condition.Type {
		case batchv1.JobComplete:
			return StateSucceeded
		case batchv1.JobFailed:
			return StateFailed
		}
	}

	if job.Status.Active > 0 {
		if job.Status.Ready != nil && *job.Status.Ready > 0 {
			return StateRunning
		}
		return StateStarting
	}

	return StatePending
}

func jobContainer(job *batchv1.Job) *corev1.Container {
	containers := job.Spec.Template.Spec.Containers
	if len(containers) == 0 {
		return nil
	}
	return &containers[0]
}

func envVars(env map[string]string) []corev1.EnvVar {
	if len(env) == 0 {
		return nil
	}

	vars := make([]corev1.EnvVar, 0, len(env))
	for k, v := range env {
		vars = append(vars, corev1.EnvVar{
			Name:  k,
			Value: v,
		})
	}
	return vars
}

func mustParseQuantity(s string) resource.Quantity {
	q, err := resource.ParseQuantity(s)
	if err != nil {
		panic(fmt.Sprintf("invalid quantity %q: %v", s, err))
	}
	return q
}

// Ensure Kubernetes implements Scheduler.
var _ Scheduler = (*Kubernetes)(nil)
