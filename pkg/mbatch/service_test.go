package mbatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/moltlabs/molt/pkg/mlog"
	"github.com/moltlabs/molt/pkg/mqueue"
	"github.com/moltlabs/molt/pkg/msched"
	"github.com/moltlabs/molt/pkg/mstore"
)

// fakeStore is an in-memory mstore.Store.
type fakeStore struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
	keys    []string
	puts    int
	failPut bool
	listErr error
}

func newFakeStore(bucket string) *fakeStore {
	return &fakeStore{bucket: bucket, objects: make(map[string][]byte)}
}

func (f *fakeStore) Upload(_ context.Context, key string, reader io.Reader, _ int64, contentType string) (*mstore.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPut {
		return nil, errors.New("store unavailable")
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if _, exists := f.objects[key]; !exists {
		f.keys = append(f.keys, key)
	}
	f.objects[key] = body
	f.puts++
	return &mstore.Object{Key: key, Bucket: f.bucket, Size: int64(len(body)), ContentType: contentType}, nil
}

func (f *fakeStore) Download(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.objects[key]
	if !ok {
		return nil, mstore.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (f *fakeStore) List(_ context.Context, prefix string, max int) ([]mstore.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []mstore.Object
	for _, key := range f.keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, mstore.Object{Key: key, Bucket: f.bucket})
		if max > 0 && len(out) == max {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) PresignedPut(_ context.Context, key, _ string, _ time.Duration) (string, error) {
	return "https://" + f.bucket + ".example.test/" + key + "?signed", nil
}

func (f *fakeStore) Bucket() string { return f.bucket }

func (f *fakeStore) EnsureBucket(context.Context) error { return nil }

var _ mstore.Store = (*fakeStore)(nil)

// fakeScheduler is an in-memory msched.Scheduler. Jobs listed in
// failNames are rejected at Submit; details seeds Describe; logs seeds
// RecentLogs by stream name, already newest first.
type fakeScheduler struct {
	mu           sync.Mutex
	nextID       int
	submitted    []msched.SubmitSpec
	failNames    map[string]bool
	details      map[string]msched.JobDetail
	describes    [][]string
	describeErr  error
	terminated   []string
	terminateErr error
	logs         map[string][]string
	logsErr      error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		failNames: make(map[string]bool),
		details:   make(map[string]msched.JobDetail),
		logs:      make(map[string][]string),
	}
}

func (f *fakeScheduler) Submit(_ context.Context, spec msched.SubmitSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNames[spec.Name] {
		return "", errors.New("job queue rejected the submission")
	}
	f.nextID++
	id := fmt.Sprintf("job-%04d", f.nextID)
	f.submitted = append(f.submitted, spec)
	return id, nil
}

func (f *fakeScheduler) Describe(_ context.Context, ids []string) ([]msched.JobDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	f.describes = append(f.describes, append([]string(nil), ids...))
	var out []msched.JobDetail
	for _, id := range ids {
		if d, ok := f.details[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeScheduler) Terminate(_ context.Context, id, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.terminateErr != nil {
		return f.terminateErr
	}
	f.terminated = append(f.terminated, id)
	if d, ok := f.details[id]; ok {
		d.Status = msched.StateFailed
		d.StatusReason = reason
		f.details[id] = d
	}
	return nil
}

func (f *fakeScheduler) RecentLogs(_ context.Context, job *msched.JobDetail, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.logsErr != nil {
		return nil, f.logsErr
	}
	lines := f.logs[job.LogStream]
	if limit > 0 && len(lines) > limit {
		lines = lines[:limit]
	}
	return lines, nil
}

var _ msched.Scheduler = (*fakeScheduler)(nil)

type testEnv struct {
	svc    *Service
	source *fakeStore
	output *fakeStore
	sched  *fakeScheduler
	queue  *mqueue.LocalQueue
}

var testNow = time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

func newTestService(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		source: newFakeStore("molt-source"),
		output: newFakeStore("molt-outputs"),
		sched:  newFakeScheduler(),
		queue:  mqueue.NewLocalQueue(),
	}
	env.svc = NewService(Config{
		Source:        env.source,
		Output:        env.output,
		Scheduler:     env.sched,
		Queue:         env.queue,
		Log:           mlog.NewQuiet(),
		JobQueue:      "molt-job-queue",
		JobDefinition: "molt-transform-job",
	})
	env.queue.Bind(env.svc.HandleTask)
	env.svc.now = func() time.Time { return testNow }
	return env
}

func TestSubmitJob(t *testing.T) {
	env := newTestService(t)

	result, err := env.svc.SubmitJob(context.Background(), &SubmitJobRequest{
		Source:      "https://github.com/org/repo1.git",
		Command:     "molt transform custom -n AWS/java-upgrade",
		Environment: map[string]string{"JAVA_VERSION": "17"},
		Tags:        map[string]string{"team": "platform"},
	})
	if err != nil {
		t.Fatalf("SubmitJob failed: %v", err)
	}

	if result.BatchJobID != "job-0001" {
		t.Errorf("Expected job-0001, got %s", result.BatchJobID)
	}
	if result.JobName != "repo1-java-upgrade" {
		t.Errorf("Expected derived name repo1-java-upgrade, got %s", result.JobName)
	}
	if result.Status != "SUBMITTED" {
		t.Errorf("Expected SUBMITTED, got %s", result.Status)
	}
	if result.SubmittedAt != "2026-01-02T15:04:05Z" {
		t.Errorf("Unexpected submittedAt %s", result.SubmittedAt)
	}

	if len(env.sched.submitted) != 1 {
		t.Fatalf("Expected 1 submission, got %d", len(env.sched.submitted))
	}
	spec := env.sched.submitted[0]
	if spec.Queue != "molt-job-queue" || spec.Definition != "molt-transform-job" {
		t.Errorf("Unexpected queue/definition: %s/%s", spec.Queue, spec.Definition)
	}
	wantCmd := []string{
		"--source", "https://github.com/org/repo1.git",
		"--output", "transformations/repo1-java-upgrade/",
		"--command", "molt transform custom -n AWS/java-upgrade",
	}
	if len(spec.Command) != len(wantCmd) {
		t.Fatalf("Expected %d command args, got %d", len(wantCmd), len(spec.Command))
	}
	for i := range wantCmd {
		if spec.Command[i] != wantCmd[i] {
			t.Errorf("Command arg %d: expected %q, got %q", i, wantCmd[i], spec.Command[i])
		}
	}
	if spec.Env["S3_BUCKET"] != "molt-outputs" {
		t.Errorf("Expected S3_BUCKET injection, got %q", spec.Env["S3_BUCKET"])
	}
	if spec.Env["JAVA_VERSION"] != "17" {
		t.Errorf("Expected caller env passthrough, got %q", spec.Env["JAVA_VERSION"])
	}
	if spec.Tags["team"] != "platform" {
		t.Errorf("Expected tag passthrough, got %q", spec.Tags["team"])
	}
}

func TestSubmitJobMissingCommand(t *testing.T) {
	env := newTestService(t)

	_, err := env.svc.SubmitJob(context.Background(), &SubmitJobRequest{Command: "   "})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if ve.Message != "Missing required field: command" {
		t.Errorf("Unexpected message: %s", ve.Message)
	}
}

func TestSubmitJobRejectsShellOperators(t *testing.T) {
	env := newTestService(t)

	_, err := env.svc.SubmitJob(context.Background(), &SubmitJobRequest{
		Command: "molt transform && rm -rf /",
	})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if !strings.Contains(ve.Message, "dangerous pattern") {
		t.Errorf("Unexpected message: %s", ve.Message)
	}
	if len(env.sched.submitted) != 0 {
		t.Error("Rejected command must not reach the scheduler")
	}
}

func TestSubmitJobRejectsBadSource(t *testing.T) {
	env := newTestService(t)

	_, err := env.svc.SubmitJob(context.Background(), &SubmitJobRequest{
		Source:  "ftp://example.com/code",
		Command: "molt transform",
	})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if !strings.HasPrefix(ve.Message, "Invalid source format") {
		t.Errorf("Unexpected message: %s", ve.Message)
	}
}

func TestSubmitJobCustomOutput(t *testing.T) {
	env := newTestService(t)

	_, err := env.svc.SubmitJob(context.Background(), &SubmitJobRequest{
		Command: "molt custom def list",
		Output:  "experiments/run-42/",
	})
	if err != nil {
		t.Fatalf("SubmitJob failed: %v", err)
	}
	cmd := env.sched.submitted[0].Command
	if cmd[0] != "--output" || cmd[1] != "experiments/run-42/" {
		t.Errorf("Expected custom output prefix, got %v", cmd)
	}
}

func seedJob(env *testEnv, id string, detail msched.JobDetail) {
	detail.ID = id
	env.sched.details[id] = detail
}

func timePtr(t time.Time) *time.Time { return &t }

func intPtr(i int) *int { return &i }

func TestJobStatus(t *testing.T) {
	env := newTestService(t)
	created := time.Date(2026, 1, 2, 14, 0, 0, 0, time.UTC)
	started := created.Add(2 * time.Minute)
	stopped := started.Add(10 * time.Minute)
	seedJob(env, "job-77", msched.JobDetail{
		Name:      "demo-job",
		Status:    msched.StateSucceeded,
		CreatedAt: timePtr(created),
		StartedAt: timePtr(started),
		StoppedAt: timePtr(stopped),
		ExitCode:  intPtr(0),
		LogGroup:  "/aws/batch/molt-transform",
		LogStream: "molt-transform/default/abc123",
		Command:   []string{"--output", "transformations/demo-job/", "--command", "molt transform"},
		Env:       map[string]string{"S3_BUCKET": "molt-outputs"},
	})
	env.sched.logs["molt-transform/default/abc123"] = []string{
		"Upload complete",
		"Conversation ID: conv_abc123",
		"Starting transformation",
	}

	view, err := env.svc.JobStatus(context.Background(), "job-77")
	if err != nil {
		t.Fatalf("JobStatus failed: %v", err)
	}

	if view.Status != msched.StateSucceeded {
		t.Errorf("Expected SUCCEEDED, got %s", view.Status)
	}
	if view.Duration == nil || *view.Duration != 600 {
		t.Errorf("Expected duration 600s, got %v", view.Duration)
	}
	if view.ConversationID != "conv_abc123" {
		t.Errorf("Expected conv_abc123, got %q", view.ConversationID)
	}
	want := "s3://molt-outputs/transformations/demo-job/conv_abc123/"
	if view.S3OutputPath != want {
		t.Errorf("Expected %s, got %s", want, view.S3OutputPath)
	}
	if view.ExitCode == nil || *view.ExitCode != 0 {
		t.Errorf("Expected exit code 0, got %v", view.ExitCode)
	}
	if view.LogStream != "molt-transform/default/abc123" {
		t.Errorf("Unexpected log stream %q", view.LogStream)
	}
}

func TestJobStatusNotFound(t *testing.T) {
	env := newTestService(t)

	_, err := env.svc.JobStatus(context.Background(), "job-missing")
	if !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("Expected ErrJobNotFound, got %v", err)
	}
}

func TestJobStatusFiltersGenericExitReason(t *testing.T) {
	env := newTestService(t)
	seedJob(env, "job-1", msched.JobDetail{
		Status:       msched.StateFailed,
		StatusReason: "Essential container in task exited",
	})
	seedJob(env, "job-2", msched.JobDetail{
		Status:       msched.StateFailed,
		StatusReason: "OutOfMemoryError: Container killed",
	})

	view, err := env.svc.JobStatus(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("JobStatus failed: %v", err)
	}
	if view.StatusReason != "" {
		t.Errorf("Generic exit reason should be dropped, got %q", view.StatusReason)
	}

	view, err = env.svc.JobStatus(context.Background(), "job-2")
	if err != nil {
		t.Fatalf("JobStatus failed: %v", err)
	}
	if view.StatusReason != "OutOfMemoryError: Container killed" {
		t.Errorf("Meaningful reason should be kept, got %q", view.StatusReason)
	}
}

func TestJobStatusRunningJobHasNoConversation(t *testing.T) {
	env := newTestService(t)
	seedJob(env, "job-3", msched.JobDetail{
		Status:    msched.StateRunning,
		StartedAt: timePtr(testNow),
		LogStream: "molt-transform/default/run",
		Env:       map[string]string{"S3_BUCKET": "molt-outputs"},
	})
	env.sched.logs["molt-transform/default/run"] = []string{"Conversation ID: conv_early"}

	view, err := env.svc.JobStatus(context.Background(), "job-3")
	if err != nil {
		t.Fatalf("JobStatus failed: %v", err)
	}
	if view.ConversationID != "" {
		t.Errorf("Conversation id must not be resolved before the job finishes, got %q", view.ConversationID)
	}
	if view.Duration != nil {
		t.Errorf("Expected nil duration while running, got %v", view.Duration)
	}
}

func TestTerminateJob(t *testing.T) {
	env := newTestService(t)
	seedJob(env, "job-9", msched.JobDetail{Status: msched.StateRunning})

	result, err := env.svc.TerminateJob(context.Background(), "job-9", "")
	if err != nil {
		t.Fatalf("TerminateJob failed: %v", err)
	}

	if result.Reason != "Terminated by user" {
		t.Errorf("Expected default reason, got %q", result.Reason)
	}
	if result.PreviousStatus != "RUNNING" {
		t.Errorf("Expected previous RUNNING, got %s", result.PreviousStatus)
	}
	if result.CurrentStatus != "FAILED" {
		t.Errorf("Expected current FAILED, got %s", result.CurrentStatus)
	}
	if len(env.sched.terminated) != 1 || env.sched.terminated[0] != "job-9" {
		t.Errorf("Expected terminate call for job-9, got %v", env.sched.terminated)
	}
}

func TestTerminateJobAlreadyFinished(t *testing.T) {
	env := newTestService(t)
	seedJob(env, "job-done", msched.JobDetail{Status: msched.StateSucceeded})

	_, err := env.svc.TerminateJob(context.Background(), "job-done", "cleanup")
	var tse *TerminalStateError
	if !errors.As(err, &tse) {
		t.Fatalf("Expected TerminalStateError, got %v", err)
	}
	if tse.Status != "SUCCEEDED" {
		t.Errorf("Expected SUCCEEDED in error, got %s", tse.Status)
	}
	if len(env.sched.terminated) != 0 {
		t.Error("Finished job must not be terminated")
	}
}

func TestTerminateJobNotFound(t *testing.T) {
	env := newTestService(t)

	_, err := env.svc.TerminateJob(context.Background(), "job-missing", "")
	if !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("Expected ErrJobNotFound, got %v", err)
	}
}

func TestPresignUpload(t *testing.T) {
	env := newTestService(t)

	grant, err := env.svc.PresignUpload(context.Background(), "my-project.zip", 3600)
	if err != nil {
		t.Fatalf("PresignUpload failed: %v", err)
	}

	if grant.UploadURL == "" {
		t.Error("Expected a presigned URL")
	}
	wantPath := fmt.Sprintf("s3://molt-source/uploads/%s/my-project.zip", grant.UploadID)
	if grant.S3Path != wantPath {
		t.Errorf("Expected %s, got %s", wantPath, grant.S3Path)
	}
	if grant.ExpiresIn != 3600 {
		t.Errorf("Expected expiresIn 3600, got %d", grant.ExpiresIn)
	}
	if grant.ExpiresAt != "2026-01-02T16:04:05Z" {
		t.Errorf("Unexpected expiresAt %s", grant.ExpiresAt)
	}
}

func TestPresignUploadRejectsNonZip(t *testing.T) {
	env := newTestService(t)

	_, err := env.svc.PresignUpload(context.Background(), "code.tar.gz", 3600)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if ve.Message != "Only ZIP files are supported. Filename must end with .zip" {
		t.Errorf("Unexpected message: %s", ve.Message)
	}

	if _, err := env.svc.PresignUpload(context.Background(), "CODE.ZIP", 3600); err != nil {
		t.Errorf("Uppercase extension should be accepted, got %v", err)
	}
}

func TestPresignUploadMissingFilename(t *testing.T) {
	env := newTestService(t)

	_, err := env.svc.PresignUpload(context.Background(), "", 3600)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if ve.Message != "Missing required field: filename" {
		t.Errorf("Unexpected message: %s", ve.Message)
	}
}

func TestPresignUploadExpiryBounds(t *testing.T) {
	env := newTestService(t)

	for _, expiry := range []int{0, 30, 90000} {
		_, err := env.svc.PresignUpload(context.Background(), "code.zip", expiry)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("Expected ValidationError for expiry %d, got %v", expiry, err)
		}
		if !strings.Contains(ve.Message, "between 60 and 86400") {
			t.Errorf("Unexpected message: %s", ve.Message)
		}
	}
}

func TestSaveMCPConfig(t *testing.T) {
	env := newTestService(t)

	result, err := env.svc.SaveMCPConfig(context.Background(), map[string]any{
		"mcpServers": map[string]any{
			"search": map[string]any{"command": "npx", "args": []any{"-y", "search-server"}},
		},
	})
	if err != nil {
		t.Fatalf("SaveMCPConfig failed: %v", err)
	}

	if result.S3Path != "s3://molt-source/mcp-config/mcp.json" {
		t.Errorf("Unexpected path %s", result.S3Path)
	}
	stored, ok := env.source.objects["mcp-config/mcp.json"]
	if !ok {
		t.Fatal("Expected config object in source bucket")
	}
	if result.Size != len(stored) {
		t.Errorf("Expected size %d, got %d", len(stored), result.Size)
	}
	if !bytes.Contains(stored, []byte("\n  ")) {
		t.Error("Expected pretty-printed JSON")
	}
}

func TestSaveMCPConfigRequiresObject(t *testing.T) {
	env := newTestService(t)

	for _, cfg := range []map[string]any{nil, {}} {
		_, err := env.svc.SaveMCPConfig(context.Background(), cfg)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("Expected ValidationError, got %v", err)
		}
		if ve.Message != "Request body must contain mcpConfig object" {
			t.Errorf("Unexpected message: %s", ve.Message)
		}
	}
	if env.source.puts != 0 {
		t.Error("Invalid config must not be stored")
	}
}
