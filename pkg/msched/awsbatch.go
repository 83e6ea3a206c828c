package msched

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	batchtypes "github.com/aws/aws-sdk-go-v2/service/batch/types"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
)

// AWSBatch runs jobs on AWS Batch and reads their logs from CloudWatch.
type AWSBatch struct {
	batch    *batch.Client
	logs     *cloudwatchlogs.Client
	logGroup string
}

// NewAWSBatch creates an AWS Batch scheduler. logGroup is the CloudWatch
// log group the job definition writes container logs to.
func NewAWSBatch(cfg aws.Config, logGroup string) *AWSBatch {
	return &AWSBatch{
		batch:    batch.NewFromConfig(cfg),
		logs:     cloudwatchlogs.NewFromConfig(cfg),
		logGroup: logGroup,
	}
}

// Submit sends one job to the configured job queue.
func (s *AWSBatch) Submit(ctx context.Context, spec SubmitSpec) (string, error) {
	overrides := &batchtypes.ContainerOverrides{
		Command: spec.Command,
	}
	for name, value := range spec.Env {
		overrides.Environment = append(overrides.Environment, batchtypes.KeyValuePair{
			Name:  aws.String(name),
			Value: aws.String(value),
		})
	}

	out, err := s.batch.SubmitJob(ctx, &batch.SubmitJobInput{
		JobName:            aws.String(spec.Name),
		JobQueue:           aws.String(spec.Queue),
		JobDefinition:      aws.String(spec.Definition),
		ContainerOverrides: overrides,
		Tags:               spec.Tags,
	})
	if err != nil {
		return "", err
	}

	return aws.ToString(out.JobId), nil
}

// Describe returns live details for the given job ids. AWS Batch accepts
// at most 100 ids per call; ids it has already aged out are omitted.
func (s *AWSBatch) Describe(ctx context.Context, ids []string) ([]JobDetail, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	out, err := s.batch.DescribeJobs(ctx, &batch.DescribeJobsInput{Jobs: ids})
	if err != nil {
		return nil, err
	}

	details := make([]JobDetail, 0, len(out.Jobs))
	for _, job := range out.Jobs {
		details = append(details, s.toJobDetail(job))
	}
	return details, nil
}

// Terminate stops a job, moving it to FAILED.
func (s *AWSBatch) Terminate(ctx context.Context, id, reason string) error {
	_, err := s.batch.TerminateJob(ctx, &batch.TerminateJobInput{
		JobId:  aws.String(id),
		Reason: aws.String(reason),
	})
	return err
}

// RecentLogs reads the tail of the job's CloudWatch log stream.
func (s *AWSBatch) RecentLogs(ctx context.Context, job *JobDetail, limit int) ([]string, error) {
	if job.LogStream == "" {
		return nil, nil
	}

	out, err := s.logs.GetLogEvents(ctx, &cloudwatchlogs.GetLogEventsInput{
		LogGroupName:  aws.String(s.logGroup),
		LogStreamName: aws.String(job.LogStream),
		Limit:         aws.Int32(int32(limit)),
		StartFromHead: aws.Bool(false),
	})
	if err != nil {
		return nil, err
	}

	lines := make([]string, 0, len(out.Events))
	for _, event := range out.Events {
		lines = append(lines, aws.ToString(event.Message))
	}
	return newestFirst(lines), nil
}

func (s *AWSBatch) toJobDetail(job batchtypes.JobDetail) JobDetail {
	detail := JobDetail{
		ID:           aws.ToString(job.JobId),
		Name:         aws.ToString(job.JobName),
		Status:       State(job.Status),
		StatusReason: aws.ToString(job.StatusReason),
		CreatedAt:    msTime(job.CreatedAt),
		StartedAt:    msTime(job.StartedAt),
		StoppedAt:    msTime(job.StoppedAt),
	}

	if c := job.Container; c != nil {
		if c.ExitCode != nil {
			code := int(*c.ExitCode)
			detail.ExitCode = &code
		}
		detail.LogStream = aws.ToString(c.LogStreamName)
		if detail.LogStream != "" {
			detail.LogGroup = s.logGroup
		}
		detail.Command = c.Command
		if len(c.Environment) > 0 {
			detail.Env = make(map[string]string, len(c.Environment))
			for _, kv := range c.Environment {
				detail.Env[aws.ToString(kv.Name)] = aws.ToString(kv.Value)
			}
		}
	}

	return detail
}

// msTime converts a millisecond epoch timestamp.
func msTime(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}

// Ensure AWSBatch implements Scheduler.
var _ Scheduler = (*AWSBatch)(nil)
