package schemas

// UploadRequest asks for a presigned upload slot for a source archive
type UploadRequest struct {
	Filename  string `json:"filename,omitempty" doc:"Name of the ZIP file to upload"`
	ExpiresIn *int   `json:"expiresIn,omitempty" doc:"URL lifetime in seconds (60-86400, default 3600)"`
}

// UploadInstructions walks the caller through using the presigned URL
type UploadInstructions struct {
	Step1 string `json:"step1"`
	Step2 string `json:"step2"`
	Step3 string `json:"step3"`
}

// UploadResponse is a presigned upload slot
type UploadResponse struct {
	UploadURL    string             `json:"uploadUrl" doc:"Presigned PUT URL"`
	S3Path       string             `json:"s3Path" doc:"Where the archive will land"`
	UploadID     string             `json:"uploadId" doc:"Unique ID of this upload slot"`
	Filename     string             `json:"filename" doc:"Archive filename"`
	ExpiresIn    int                `json:"expiresIn" doc:"URL lifetime in seconds"`
	ExpiresAt    string             `json:"expiresAt" doc:"When the URL stops working"`
	Instructions UploadInstructions `json:"instructions" doc:"How to use the upload slot"`
}
