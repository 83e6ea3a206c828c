package msched

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
)

// stopTimeout is how long a terminated container gets to exit cleanly.
const stopTimeout = 10 * time.Second

// Docker runs jobs as local containers. Meant for development: it gives
// the submission and status paths a real backend without a cluster.
type Docker struct {
	cli   *client.Client
	image string
}

// NewDocker creates a Docker scheduler running the given transform image.
func NewDocker(image string) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}

	return &Docker{cli: cli, image: image}, nil
}

// Submit creates and starts one container for the submission.
func (s *Docker) Submit(ctx context.Context, spec SubmitSpec) (string, error) {
	jobID := uuid.New().String()

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	labels := map[string]string{
		jobIDLabel:   jobID,
		jobNameLabel: spec.Name,
	}
	for k, v := range spec.Tags {
		labels["molt.tag/"+k] = v
	}

	created, err := s.cli.ContainerCreate(ctx,
		&container.Config{
			Image:  s.image,
			Cmd:    strslice.StrSlice(spec.Command),
			Env:    env,
			Labels: labels,
		},
		&container.HostConfig{},
		nil, nil,
		fmt.Sprintf("molt-%s", jobID[:8]),
	)
	if err != nil {
		return "", fmt.Errorf("creating container: %w", err)
	}

	if err := s.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("starting container: %w", err)
	}

	return jobID, nil
}

// Describe inspects the containers carrying the given job ids.
func (s *Docker) Describe(ctx context.Context, ids []string) ([]JobDetail, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	list, err := s.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", jobIDLabel)),
	})
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}

	details := make([]JobDetail, 0, len(ids))
	for _, c := range list {
		jobID := c.Labels[jobIDLabel]
		if !want[jobID] {
			continue
		}
		inspect, err := s.cli.ContainerInspect(ctx, c.ID)
		if err != nil {
			continue
		}
		details = append(details, toDockerDetail(jobID, &inspect))
	}
	return details, nil
}

// Terminate stops the job's container.
func (s *Docker) Terminate(ctx context.Context, id, reason string) error {
	c, err := s.findContainer(ctx, id)
	if err != nil {
		return err
	}

	timeout := int(stopTimeout.Seconds())
	return s.cli.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &timeout})
}

// RecentLogs reads the tail of the container's output.
func (s *Docker) RecentLogs(ctx context.Context, job *JobDetail, limit int) ([]string, error) {
	if job.LogStream == "" {
		return nil, nil
	}

	rc, err := s.cli.ContainerLogs(ctx, job.LogStream, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("reading container logs: %w", err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return nil, fmt.Errorf("demuxing container logs: %w", err)
	}

	text := strings.TrimRight(buf.String(), "\n")
	if text == "" {
		return nil, nil
	}
	return newestFirst(strings.Split(text, "\n")), nil
}

func (s *Docker) findContainer(ctx context.Context, id string) (*container.Summary, error) {
	list, err := s.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", jobIDLabel+"="+id)),
	})
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("job %s not found", id)
	}
	return &list[0], nil
}

func toDockerDetail(jobID string, c *container.InspectResponse) JobDetail {
	detail := JobDetail{
		ID:        jobID,
		Status:    dockerState(c.State),
		LogStream: c.ID,
	}

	if t, err := time.Parse(time.RFC3339Nano, c.Created); err == nil && !t.IsZero() {
		created := t
		detail.CreatedAt = &created
	}

	if c.State != nil {
		if t, err := time.Parse(time.RFC3339Nano, c.State.StartedAt); err == nil && !t.IsZero() {
			started := t
			detail.StartedAt = &started
		}
		if t, err := time.Parse(time.RFC3339Nano, c.State.FinishedAt); err == nil && !t.IsZero() {
			stopped := t
			detail.StoppedAt = &stopped
		}
		if !c.State.Running && c.State.Status == "exited" {
			exitCode := c.State.ExitCode
			detail.ExitCode = &exitCode
		}
		detail.StatusReason = c.State.Error
	}

	if c.Config != nil {
		detail.Name = c.Config.Labels[jobNameLabel]
		detail.Command = []string(c.Config.Cmd)
		if len(c.Config.Env) > 0 {
			detail.Env = make(map[string]string, len(c.Config.Env))
			for _, kv := range c.Config.Env {
				if name, value, ok := strings.Cut(kv, "="); ok {
					detail.Env[name] = value
				}
			}
		}
	}

	return detail
}

// dockerState maps a container lifecycle status onto the scheduler
// state set.
func dockerState(state *container.State) State {
	if state == nil {
		return StateSubmitted
	}

	switch state.Status {
	case "created":
		return StateStarting
	case "running", "paused", "restarting", "removing":
		return StateRunning
	case "exited", "dead":
		if state.ExitCode == 0 {
			return StateSucceeded
		}
		return StateFailed
	default:
		return StateSubmitted
	}
}

// Ensure Docker implements Scheduler.
var _ Scheduler = (*Docker)(nil)
