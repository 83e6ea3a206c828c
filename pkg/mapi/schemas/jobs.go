package schemas

// SubmitJobRequest represents a single job submission
type SubmitJobRequest struct {
	Source      string            `json:"source,omitempty" doc:"Git URL or S3 path with the code to transform"`
	Output      string            `json:"output,omitempty" doc:"Output prefix, defaults to transformations/<jobName>/"`
	Command     string            `json:"command,omitempty" doc:"molt command to run in the container"`
	JobName     string            `json:"jobName,omitempty" doc:"Job name, derived from source and command when omitted"`
	Environment map[string]string `json:"environment,omitempty" doc:"Extra container environment variables"`
	Tags        map[string]string `json:"tags,omitempty" doc:"Tags applied to the scheduler job"`
}

// SubmitJobResponse acknowledges a submitted job
type SubmitJobResponse struct {
	Message     string `json:"message" doc:"How to follow up on the job"`
	BatchJobID  string `json:"batchJobId" doc:"Scheduler job ID"`
	JobName     string `json:"jobName" doc:"Job name"`
	Status      string `json:"status" example:"SUBMITTED" doc:"Initial job status"`
	SubmittedAt string `json:"submittedAt" doc:"Submission timestamp"`
}

// JobStatusResponse represents the state of one job
type JobStatusResponse struct {
	BatchJobID         string  `json:"batchJobId" doc:"Scheduler job ID"`
	JobName            string  `json:"jobName" doc:"Job name"`
	Status             string  `json:"status" doc:"Scheduler job status"`
	StatusReason       string  `json:"statusReason,omitempty" doc:"Failure reason for failed jobs"`
	SubmittedAt        *string `json:"submittedAt" doc:"Submission timestamp"`
	StartedAt          *string `json:"startedAt" doc:"Execution start timestamp"`
	CompletedAt        *string `json:"completedAt" doc:"Execution end timestamp"`
	Duration           *int    `json:"duration" doc:"Run time in seconds"`
	MoltConversationID *string `json:"moltConversationId" doc:"Conversation ID once the job has finished"`
	S3OutputPath       *string `json:"s3OutputPath" doc:"Where the transformation results landed"`
	ExitCode           *int    `json:"exitCode,omitempty" doc:"Container exit code"`
	LogGroup           string  `json:"logGroup,omitempty" doc:"Log group of the job container"`
	LogStream          string  `json:"logStream,omitempty" doc:"Log stream of the job container"`
}

// TerminateJobRequest is the optional body of a terminate call
type TerminateJobRequest struct {
	Reason string `json:"reason,omitempty" doc:"Reason recorded on the terminated job"`
}

// TerminateJobResponse acknowledges a termination request
type TerminateJobResponse struct {
	Message        string `json:"message" doc:"Outcome of the termination request"`
	JobID          string `json:"jobId" doc:"Scheduler job ID"`
	Reason         string `json:"reason" doc:"Reason recorded on the job"`
	PreviousStatus string `json:"previousStatus" doc:"Status before termination"`
	CurrentStatus  string `json:"currentStatus" doc:"Status right after the termination call"`
	TerminatedAt   string `json:"terminatedAt" doc:"When the termination was requested"`
}
