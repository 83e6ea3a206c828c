package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/moltlabs/molt/pkg/config"
	"github.com/moltlabs/molt/pkg/kv"
	"github.com/moltlabs/molt/pkg/mbatch"
	"github.com/moltlabs/molt/pkg/mlog"
	"github.com/moltlabs/molt/pkg/mqueue"
	"github.com/moltlabs/molt/pkg/msched"
	"github.com/moltlabs/molt/pkg/mstore"
)

// The dispatcher consumes submission tasks from SQS and runs the
// submission phase. It shares configuration with moltd so both can run
// off one environment.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.ValidateEnv()
	if err != nil {
		log.Fatalf("❌ %v\n", err)
	}
	if cfg.TaskQueueURL == "" {
		log.Fatalf("❌ TASK_QUEUE_URL is required\n")
	}

	cfg.Print(log.Printf)

	logger := mlog.NewDefault()

	source, err := mstore.NewS3Store(mstore.S3Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.SourceBucket,
		Region:    cfg.S3Region,
		UseSSL:    cfg.S3UseSSL,
	})
	if err != nil {
		log.Fatalf("failed to initialize source storage: %v", err)
	}

	output, err := mstore.NewS3Store(mstore.S3Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.OutputBucket,
		Region:    cfg.S3Region,
		UseSSL:    cfg.S3UseSSL,
	})
	if err != nil {
		log.Fatalf("failed to initialize output storage: %v", err)
	}

	sched, err := newScheduler(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize %s scheduler: %v", cfg.SchedulerBackend, err)
	}

	var locks kv.Store
	if cfg.ValkeyAddr != "" {
		locks, err = kv.NewValkeyStore(kv.ValkeyConfig{
			Addr:     cfg.ValkeyAddr,
			Password: cfg.ValkeyPassword,
		})
		if err != nil {
			log.Fatalf("failed to connect to valkey: %v", err)
		}
		defer locks.Close()
	} else {
		locks = kv.NewMemoryStore()
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to load AWS config: %v", err)
	}
	queue := mqueue.NewSQSQueue(awsCfg, cfg.TaskQueueURL, logger)

	svc := mbatch.NewService(mbatch.Config{
		Source:        source,
		Output:        output,
		Scheduler:     sched,
		Queue:         queue,
		Locks:         locks,
		Log:           logger,
		JobQueue:      cfg.JobQueue,
		JobDefinition: cfg.JobDefinition,
		SubmitWorkers: cfg.SubmitWorkers,
		SubmitRate:    cfg.SubmitRate,
	})

	log.Printf("🚀 Dispatcher consuming %s\n", cfg.TaskQueueURL)

	if err := queue.Consume(ctx, svc.HandleTask); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("❌ %v\n", err)
	}

	log.Println("👋 Dispatcher stopped")
}

func newScheduler(ctx context.Context, cfg *config.EnvConfig) (msched.Scheduler, error) {
	switch cfg.SchedulerBackend {
	case config.BackendAWSBatch:
		awsCfg, err := loadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return msched.NewAWSBatch(awsCfg, cfg.LogGroup), nil
	case config.BackendKubernetes:
		return msched.NewKubernetes(cfg.K8sNamespace, cfg.JobImage)
	case config.BackendDocker:
		return msched.NewDocker(cfg.JobImage)
	}
	return nil, fmt.Errorf("unknown scheduler backend %q", cfg.SchedulerBackend)
}

func loadAWSConfig(ctx context.Context, cfg *config.EnvConfig) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.AWSRegion != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.AWSRegion))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}
