package mbatch

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// JobSpec is one transformation job in a batch request.
type JobSpec struct {
	Source  string `json:"source,omitempty"`
	JobName string `json:"jobName,omitempty"`
	Command string `json:"command"`
}

// BatchRequest is the caller's bulk submission.
type BatchRequest struct {
	BatchName string    `json:"batchName,omitempty"`
	Jobs      []JobSpec `json:"jobs"`
}

// maxJobNameLen is the scheduler's job name limit.
const maxJobNameLen = 128

// dangerousPatterns are shell operators that must never reach a
// container command line.
var dangerousPatterns = []string{
	"&&", "||", ";", "|", "`", "$(", "${",
	"\n", "\r", ">", "<", ">>", "<<",
}

// commandCharset is the allowlist for transform commands:
// alphanumerics, whitespace, and common CLI punctuation.
var commandCharset = regexp.MustCompile(`^[a-zA-Z0-9\s\-_./=:,"'@\[\]]+$`)

// sourcePrefixes are the recognized source forms besides a bare .git URL.
var sourcePrefixes = []string{
	"s3://",
	"https://github.com/",
	"https://gitlab.com/",
	"https://bitbucket.org/",
}

// ValidateBatch checks a batch request and fills in derived job names.
// Jobs may omit source (the command then runs without source code) but
// never command.
func ValidateBatch(req *BatchRequest) error {
	if len(req.Jobs) == 0 {
		return &ValidationError{JobIndex: -1, Message: "Missing or empty jobs array"}
	}
	for i := range req.Jobs {
		job := &req.Jobs[i]
		if strings.TrimSpace(job.Command) == "" {
			return &ValidationError{JobIndex: i, Message: fmt.Sprintf("Job %d missing required field: command", i)}
		}
		if err := ValidateCommand(job.Command); err != nil {
			return &ValidationError{JobIndex: i, Message: fmt.Sprintf("Job %d: %s", i, err)}
		}
		if job.Source != "" {
			if err := ValidateSource(job.Source); err != nil {
				return &ValidationError{JobIndex: i, Message: fmt.Sprintf("Job %d: %s", i, err)}
			}
		}
		if job.JobName == "" {
			job.JobName = DeriveJobName(job.Source, job.Command)
		} else {
			job.JobName = SanitizeJobName(job.JobName)
		}
	}
	return nil
}

// ValidateCommand guards against command injection: commands must start
// with the molt CLI and contain no shell operators.
func ValidateCommand(command string) error {
	command = strings.TrimSpace(command)
	if !strings.HasPrefix(command, "molt") {
		return errors.New("Command must start with 'molt'")
	}
	for _, pattern := range dangerousPatterns {
		if strings.Contains(command, pattern) {
			return fmt.Errorf("Command contains dangerous pattern: %s", pattern)
		}
	}
	if !commandCharset.MatchString(command) {
		return errors.New("Command contains invalid characters")
	}
	return nil
}

// ValidateSource accepts Git hosting URLs, S3 paths, and anything
// ending in .git.
func ValidateSource(source string) error {
	for _, prefix := range sourcePrefixes {
		if strings.HasPrefix(source, prefix) {
			return nil
		}
	}
	if strings.HasSuffix(source, ".git") {
		return nil
	}
	return errors.New("Invalid source format. Supported: Git URLs (https://github.com/user/repo.git) or S3 paths (s3://bucket/path/)")
}

// DeriveJobName builds a job name from the source and command when the
// caller didn't provide one: a repo-like token joined with the
// transformation name, e.g. "repo1-java-upgrade".
func DeriveJobName(source, command string) string {
	return SanitizeJobName(repoToken(source, command) + "-" + transformToken(command))
}

// repoToken extracts a repo-like token from the source path, or from
// the command's leading words when the job has no source.
func repoToken(source, command string) string {
	if source != "" {
		switch {
		case strings.HasSuffix(source, ".git"):
			return strings.TrimSuffix(lastSegment(source), ".git")
		case strings.Contains(source, "s3://"):
			return strings.TrimSuffix(lastSegment(source), ".zip")
		default:
			return lastSegment(source)
		}
	}
	// No source: name after the subcommand words, e.g.
	// "molt mcp tools" -> "mcp-tools".
	parts := strings.Fields(command)
	switch {
	case len(parts) >= 3:
		return strings.Join(parts[1:min(4, len(parts))], "-")
	case len(parts) == 2:
		return parts[1]
	default:
		return "job"
	}
}

// transformToken extracts the transformation name from a "-n <value>"
// flag, keeping the last /-separated segment of the value.
func transformToken(command string) string {
	_, after, found := strings.Cut(command, "-n ")
	if !found {
		return "transform"
	}
	fields := strings.Fields(after)
	if len(fields) == 0 {
		return "transform"
	}
	return lastSegment(fields[0])
}

func lastSegment(s string) string {
	if i := strings.LastIndex(s, "/"); i >= 0 {
		return s[i+1:]
	}
	return s
}

// SanitizeJobName maps runes the scheduler rejects in job names to
// hyphens and caps the length.
func SanitizeJobName(name string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '-'
		}
	}, name)
	if len(mapped) > maxJobNameLen {
		mapped = mapped[:maxJobNameLen]
	}
	return mapped
}

// NewBatchID derives a batch id from the accept time; it keys the
// batch's intent and outcome records.
func NewBatchID(t time.Time) string {
	return "batch-" + t.UTC().Format("20060102-150405")
}

// IntentKey is the source-bucket location of a batch's intent record.
func IntentKey(batchID string) string {
	return "batch-jobs/" + batchID + "-input.json"
}

// OutcomeKey is the output-bucket location of a batch's outcome record.
func OutcomeKey(batchID string) string {
	return "batch-jobs/" + batchID + "-output.json"
}

// OutputPrefix is where a job's transformation results land in the
// output bucket.
func OutputPrefix(jobName string) string {
	return "transformations/" + jobName + "/"
}

// containerCommand assembles the transform container's argument list.
func containerCommand(source, outputPrefix, command string) []string {
	args := make([]string, 0, 6)
	if source != "" {
		args = append(args, "--source", source)
	}
	return append(args, "--output", outputPrefix, "--command", command)
}
