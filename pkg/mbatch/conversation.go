package mbatch

import (
	"context"
	"regexp"
	"strings"

	"github.com/moltlabs/molt/pkg/msched"
)

// Conversation ids are minted by the transform CLI inside the
// container; the service only observes them, in log output or in the
// object keys the job writes.
var (
	conversationIDPattern = regexp.MustCompile(`Conversation ID:\s*([a-zA-Z0-9_]+)`)
	outputPathPattern     = regexp.MustCompile(`s3://[^/]+/transformations/([a-zA-Z0-9_]+)/`)
	keyPathPattern        = regexp.MustCompile(`/transformations/([a-zA-Z0-9_]+)/`)
)

const (
	conversationLogLimit  = 100
	conversationListLimit = 10
)

// ConversationID extracts the transform conversation id for a finished
// job: first from its recent log lines, then by listing the job's
// output prefix. Absence is normal (logs not ingested yet, or the job
// died early); backend errors are swallowed for the same reason.
func (s *Service) ConversationID(ctx context.Context, job *msched.JobDetail) string {
	if id := s.conversationFromLogs(ctx, job); id != "" {
		return id
	}
	return s.conversationFromOutput(ctx, job)
}

func (s *Service) conversationFromLogs(ctx context.Context, job *msched.JobDetail) string {
	if job.LogStream == "" {
		return ""
	}
	lines, err := s.sched.RecentLogs(ctx, job, conversationLogLimit)
	if err != nil {
		s.log.Debug("Conversation id log scan failed", "jobId", job.ID, "error", err)
		return ""
	}
	for _, line := range lines {
		if m := conversationIDPattern.FindStringSubmatch(line); m != nil {
			return m[1]
		}
		if m := outputPathPattern.FindStringSubmatch(line); m != nil {
			return m[1]
		}
	}
	return ""
}

func (s *Service) conversationFromOutput(ctx context.Context, job *msched.JobDetail) string {
	bucket := job.Env["S3_BUCKET"]
	if bucket == "" || bucket != s.output.Bucket() {
		return ""
	}
	prefix := jobOutputPrefix(job.Command)
	objects, err := s.output.List(ctx, prefix, conversationListLimit)
	if err != nil {
		s.log.Debug("Conversation id listing failed", "jobId", job.ID, "error", err)
		return ""
	}
	for _, obj := range objects {
		if id := conversationFromKey(obj.Key, prefix); id != "" {
			return id
		}
	}
	return ""
}

// conversationFromKey pulls the conversation directory out of an output
// key, either via the canonical /transformations/<id>/ form or as the
// first key segment after the job's output prefix.
func conversationFromKey(key, prefix string) string {
	if m := keyPathPattern.FindStringSubmatch(key); m != nil {
		return m[1]
	}
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return ""
	}
	if seg, _, found := strings.Cut(rest, "/"); found && seg != "" {
		return seg
	}
	return ""
}

// jobOutputPrefix recovers the job's --output argument from its
// container command, defaulting to the shared transformations root.
func jobOutputPrefix(command []string) string {
	for i, arg := range command {
		if arg == "--output" && i+1 < len(command) {
			return command[i+1]
		}
	}
	return "transformations/"
}
