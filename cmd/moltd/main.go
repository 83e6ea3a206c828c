package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/moltlabs/molt/pkg/config"
	"github.com/moltlabs/molt/pkg/kv"
	"github.com/moltlabs/molt/pkg/mapi"
	"github.com/moltlabs/molt/pkg/mapi/routes"
	"github.com/moltlabs/molt/pkg/mbatch"
	"github.com/moltlabs/molt/pkg/mlog"
	"github.com/moltlabs/molt/pkg/mqueue"
	"github.com/moltlabs/molt/pkg/msched"
	"github.com/moltlabs/molt/pkg/mstore"
)

func main() {
	ctx := context.Background()
	cfg, err := config.ValidateEnv()
	if err != nil {
		log.Fatalf("❌ %v\n", err)
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

	// Buckets are provisioned out of band in production.
	if config.IsDev() {
		if err := source.EnsureBucket(ctx); err != nil {
			log.Fatalf("failed to ensure source bucket: %v", err)
		}
		if err := output.EnsureBucket(ctx); err != nil {
			log.Fatalf("failed to ensure output bucket: %v", err)
		}
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

	var queue mqueue.Queue
	var local *mqueue.LocalQueue
	if cfg.TaskQueueURL != "" {
		awsCfg, err := loadAWSConfig(ctx, cfg)
		if err != nil {
			log.Fatalf("failed to load AWS config: %v", err)
		}
		queue = mqueue.NewSQSQueue(awsCfg, cfg.TaskQueueURL, logger)
	} else {
		local = mqueue.NewLocalQueue()
		queue = local
	}

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
	if local != nil {
		local.Bind(svc.HandleTask)
	}

	api := mapi.NewApi()
	routes.Register(api.Api, svc)

	addr := fmt.Sprintf(":%s", cfg.Port)

	log.Printf("🚀 molt API starting on %s\n", addr)
	log.Printf("📄 OpenAPI spec: http://localhost%s/openapi.json\n", addr)

	if err := http.ListenAndServe(addr, api.Router); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
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
