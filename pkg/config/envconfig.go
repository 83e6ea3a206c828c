package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Scheduler backends.
const (
	BackendAWSBatch   = "awsbatch"
	BackendKubernetes = "kubernetes"
	BackendDocker     = "docker"
)

type EnvConfig struct {
	Port        string `envconfig:"PORT" default:"3000"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	SourceBucket string `envconfig:"SOURCE_BUCKET" required:"true"`
	OutputBucket string `envconfig:"OUTPUT_BUCKET" required:"true"`
	S3Endpoint   string `envconfig:"S3_ENDPOINT" default:"s3.amazonaws.com"`
	S3AccessKey  string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey  string `envconfig:"S3_SECRET_KEY"`
	S3Region     string `envconfig:"S3_REGION" default:"us-east-1"`
	S3UseSSL     bool   `envconfig:"S3_USE_SSL" default:"true"`

	SchedulerBackend string `envconfig:"SCHEDULER_BACKEND" default:"awsbatch"`
	AWSRegion        string `envconfig:"AWS_REGION"`
	JobQueue         string `envconfig:"JOB_QUEUE" default:"molt-job-queue"`
	JobDefinition    string `envconfig:"JOB_DEFINITION" default:"molt-transform-job"`
	LogGroup         string `envconfig:"LOG_GROUP" default:"/aws/batch/molt-transform"`
	K8sNamespace     string `envconfig:"K8S_NAMESPACE" default:"default"`
	JobImage         string `envconfig:"JOB_IMAGE" default:"molt-transform:latest"`

	TaskQueueURL string `envconfig:"TASK_QUEUE_URL"`

	ValkeyAddr     string `envconfig:"VALKEY_ADDR"`
	ValkeyPassword string `envconfig:"VALKEY_PASSWORD"`

	SubmitWorkers int `envconfig:"SUBMIT_WORKERS" default:"10"`
	SubmitRate    int `envconfig:"SUBMIT_RATE" default:"50"` // submissions per second
}

// IsDev reports whether we run outside production.
func IsDev() bool {
	return os.Getenv("ENVIRONMENT") != "production"
}

func ValidateEnv() (*EnvConfig, error) {
	if IsDev() {
		if err := godotenv.Load(); err != nil {
			log.Println("ℹ No .env file found")
		} else {
			log.Println("✓ Loaded .env file")
		}
	}

	var cfg EnvConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var errors []string

	if cfg.SourceBucket == "" {
		errors = append(errors, "  ❌ SOURCE_BUCKET is required")
	}

	if cfg.OutputBucket == "" {
		errors = append(errors, "  ❌ OUTPUT_BUCKET is required")
	}

	switch cfg.SchedulerBackend {
	case BackendAWSBatch, BackendKubernetes, BackendDocker:
	default:
		errors = append(errors, fmt.Sprintf("  ❌ SCHEDULER_BACKEND must be one of: %s, %s, %s", BackendAWSBatch, BackendKubernetes, BackendDocker))
	}

	if (cfg.S3AccessKey != "" && cfg.S3SecretKey == "") || (cfg.S3AccessKey == "" && cfg.S3SecretKey != "") {
		errors = append(errors, "  ❌ Both S3_ACCESS_KEY and S3_SECRET_KEY must be set together")
	}

	if cfg.SubmitWorkers < 1 {
		errors = append(errors, "  ❌ SUBMIT_WORKERS must be at least 1")
	}

	if cfg.SubmitRate < 1 {
		errors = append(errors, "  ❌ SUBMIT_RATE must be at least 1")
	}

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return &cfg, nil
}

func MaskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

func (c *EnvConfig) Print(fmtr func(string, ...interface{})) {
	fmtr("📋 Configuration:\n")
	fmtr("  Environment: %s\n", c.Environment)
	fmtr("  Port: %s\n", c.Port)
	fmtr("  Source bucket: %s\n", c.SourceBucket)
	fmtr("  Output bucket: %s\n", c.OutputBucket)
	fmtr("  S3 endpoint: %s (ssl=%t)\n", c.S3Endpoint, c.S3UseSSL)
	fmtr("  S3 access key: %s\n", MaskSecret(c.S3AccessKey))
	fmtr("  Scheduler: %s\n", c.SchedulerBackend)

	switch c.SchedulerBackend {
	case BackendAWSBatch:
		fmtr("    Job queue: %s\n", c.JobQueue)
		fmtr("    Job definition: %s\n", c.JobDefinition)
		fmtr("    Log group: %s\n", c.LogGroup)
	case BackendKubernetes:
		fmtr("    Namespace: %s\n", c.K8sNamespace)
		fmtr("    Image: %s\n", c.JobImage)
	case BackendDocker:
		fmtr("    Image: %s\n", c.JobImage)
	}

	if c.TaskQueueURL != "" {
		fmtr("  Task queue: ✓ SQS (%s)\n", c.TaskQueueURL)
	} else {
		fmtr("  Task queue: ✗ in-process\n")
	}

	if c.ValkeyAddr != "" {
		fmtr("  Dispatch locks: ✓ Valkey (%s)\n", c.ValkeyAddr)
	} else {
		fmtr("  Dispatch locks: ✗ in-memory\n")
	}

	fmtr("  Submit workers: %d (%d/s)\n", c.SubmitWorkers, c.SubmitRate)
}
