package schemas

// BatchJobSpec describes one job in a bulk submission. Fields beyond the
// known ones are accepted and preserved in the stored submission record.
type BatchJobSpec struct {
	Source  string `json:"source,omitempty" doc:"Git URL or S3 path with the code to transform"`
	JobName string `json:"jobName,omitempty" doc:"Job name, derived from source and command when omitted"`
	Command string `json:"command,omitempty" doc:"molt command to run in the container"`

	_ struct{} `json:"-" additionalProperties:"true"`
}

// SubmitBatchRequest represents a bulk job submission
type SubmitBatchRequest struct {
	BatchName string         `json:"batchName,omitempty" doc:"Display name for the batch"`
	Jobs      []BatchJobSpec `json:"jobs,omitempty" doc:"Jobs to submit"`

	_ struct{} `json:"-" additionalProperties:"true"`
}

// SubmitBatchResponse acknowledges an accepted batch
type SubmitBatchResponse struct {
	BatchID   string `json:"batchId" doc:"Batch ID for status polling"`
	Status    string `json:"status" example:"PROCESSING" doc:"Initial batch status"`
	TotalJobs int    `json:"totalJobs" doc:"Number of jobs in the batch"`
	Message   string `json:"message" doc:"Where to poll for status"`
	S3Input   string `json:"s3Input" doc:"Stored copy of the submission request"`
}

// BatchStatusCounts tallies jobs by their scheduler state
type BatchStatusCounts struct {
	Submitted int `json:"SUBMITTED" doc:"Jobs accepted by the scheduler"`
	Pending   int `json:"PENDING" doc:"Jobs waiting on dependencies"`
	Runnable  int `json:"RUNNABLE" doc:"Jobs waiting for capacity"`
	Starting  int `json:"STARTING" doc:"Jobs provisioning a container"`
	Running   int `json:"RUNNING" doc:"Jobs currently executing"`
	Succeeded int `json:"SUCCEEDED" doc:"Jobs that finished successfully"`
	Failed    int `json:"FAILED" doc:"Jobs that failed, including submission failures"`
}

// BatchFailedJob is one failed entry in a batch status report
type BatchFailedJob struct {
	JobName    string  `json:"jobName" doc:"Job name"`
	BatchJobID *string `json:"batchJobId" doc:"Scheduler job ID, null when submission itself failed"`
	Error      string  `json:"error" doc:"Failure description"`
}

// BatchStatusResponse is an aggregated view over all jobs of a batch
type BatchStatusResponse struct {
	BatchID      string            `json:"batchId" doc:"Batch ID"`
	BatchName    string            `json:"batchName,omitempty" doc:"Display name for the batch"`
	Status       string            `json:"status" doc:"Rolled-up batch status"`
	TotalJobs    int               `json:"totalJobs" doc:"Number of jobs in the batch"`
	Progress     float64           `json:"progress" doc:"Completed share in percent, one decimal"`
	StatusCounts BatchStatusCounts `json:"statusCounts" doc:"Per-state job counts"`
	SubmittedAt  string            `json:"submittedAt,omitempty" doc:"When the batch was accepted"`
	S3Input      string            `json:"s3Input" doc:"Stored submission request"`
	S3Output     string            `json:"s3Output" doc:"Stored submission results"`
	FailedJobs   []BatchFailedJob  `json:"failedJobs" doc:"Failed jobs, capped at 10 entries"`
	TotalFailed  int               `json:"totalFailed" doc:"True number of failed jobs"`
}
