package domain

import "time"

// JobKind discriminates which pipeline a queued job runs.
type JobKind string

const (
	JobKindTranscription JobKind = "transcription"
	JobKindMockup        JobKind = "mockup"
)

// JobStatus tracks the lifecycle of a single queued job.
type JobStatus string

const (
	JobStatusIdle       JobStatus = "idle"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusError      JobStatus = "error"
)

// JobInput is the payload a job exclusively owns for its lifetime. Media
// bytes never cross the binding boundary; the UI renders from the display
// metadata only.
type JobInput struct {
	FileName    string `json:"fileName"`
	MimeType    string `json:"mimeType"`
	Size        int64  `json:"size"`
	Media       []byte `json:"-"`
	Instruction string `json:"instruction,omitempty"`
}

// Progress reports chunked transcription advancement.
type Progress struct {
	CurrentChunk int `json:"currentChunk"`
	TotalChunks  int `json:"totalChunks"`
}

// TranscriptionResult holds the assembled transcript and its summary.
type TranscriptionResult struct {
	Transcription string `json:"transcription"`
	Summary       string `json:"summary"`
}

// MockupResult references one generated product mockup image.
type MockupResult struct {
	Image    []byte `json:"image"`
	MimeType string `json:"mimeType"`
}

// Job is one queued unit of work. Kind selects which optional fields may
// ever be populated: Progress and Transcription belong to transcription
// jobs, Mockup to mockup jobs. Exactly one of result/Error is set, and only
// in the matching terminal status.
type Job struct {
	ID            string               `json:"id"`
	Kind          JobKind              `json:"kind"`
	Input         JobInput             `json:"input"`
	Status        JobStatus            `json:"status"`
	Progress      *Progress            `json:"progress,omitempty"`
	Transcription *TranscriptionResult `json:"transcription,omitempty"`
	Mockup        *MockupResult        `json:"mockup,omitempty"`
	Error         string               `json:"error,omitempty"`
	CreatedAt     time.Time            `json:"createdAt"`
}

// Terminal reports whether the job can no longer change status.
func (j Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusError
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	APIKey            string `json:"apiKey"`
	Model             string `json:"model"`
	ImageModel        string `json:"imageModel"`
	MaxConcurrentJobs int    `json:"maxConcurrentJobs"`
}
