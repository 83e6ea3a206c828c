package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var followJobLogs bool

var logsCmd = &cobra.Command{
	Use:   "logs [job-id]",
	Short: "Print the container logs of a transformation job",
	Long: `Print the CloudWatch logs of a transformation job by its job id.
Waits for the job to start when it hasn't yet. Use -f/--follow to keep
streaming new log events.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobID := args[0]
		ctx := cmd.Context()

		awsCfg, err := loadAWS(ctx)
		if err != nil {
			return fmt.Errorf("failed to load AWS config: %w", err)
		}

		batchClient := batch.NewFromConfig(awsCfg)
		logsClient := cloudwatchlogs.NewFromConfig(awsCfg)

		stream, jobName, err := waitForLogStream(ctx, batchClient, jobID)
		if err != nil {
			return err
		}

		fmt.Printf("📋 Logs for %s (%s)\n", jobName, jobID)
		fmt.Println(strings.Repeat("=", 80))

		return tailLogs(ctx, logsClient, viper.GetString("log-group"), stream, followJobLogs)
	},
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().BoolVarP(&followJobLogs, "follow", "f", false, "Follow log output in real-time")
	logsCmd.Flags().String("log-group", "/aws/batch/molt-transform", "CloudWatch log group of the job containers")
}

// waitForLogStream polls the job until its container has a log stream.
// Jobs sit in the queue for a while, so this can take minutes.
func waitForLogStream(ctx context.Context, client *batch.Client, jobID string) (stream, name string, err error) {
	for attempt := 0; attempt < 30; attempt++ {
		out, err := client.DescribeJobs(ctx, &batch.DescribeJobsInput{Jobs: []string{jobID}})
		if err != nil {
			return "", "", fmt.Errorf("failed to describe job %s: %w", jobID, err)
		}
		if len(out.Jobs) == 0 {
			return "", "", fmt.Errorf("job %s not found", jobID)
		}

		job := out.Jobs[0]
		if c := job.Container; c != nil && aws.ToString(c.LogStreamName) != "" {
			return aws.ToString(c.LogStreamName), aws.ToString(job.JobName), nil
		}
		if status := string(job.Status); status == "FAILED" || status == "SUCCEEDED" {
			return "", "", fmt.Errorf("job %s finished (%s) without producing logs", jobID, status)
		}

		fmt.Println("⏳ Waiting for job to start...")
		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
	return "", "", fmt.Errorf("timed out waiting for job %s to start", jobID)
}

// tailLogs pages through the stream from the beginning. In follow mode
// it keeps polling for new events until interrupted.
func tailLogs(ctx context.Context, client *cloudwatchlogs.Client, group, stream string, follow bool) error {
	var token *string
	for {
		out, err := client.GetLogEvents(ctx, &cloudwatchlogs.GetLogEventsInput{
			LogGroupName:  aws.String(group),
			LogStreamName: aws.String(stream),
			StartFromHead: aws.Bool(true),
			NextToken:     token,
		})
		if err != nil {
			return fmt.Errorf("failed to read log events: %w", err)
		}

		for _, event := range out.Events {
			fmt.Println(aws.ToString(event.Message))
		}

		// The token repeating means the stream end was reached.
		if token != nil && aws.ToString(out.NextForwardToken) == *token {
			if !follow {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(2 * time.Second):
			}
		}
		token = out.NextForwardToken
	}
}
