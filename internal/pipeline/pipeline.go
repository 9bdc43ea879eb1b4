package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"blend-studio/internal/chunker"
	"blend-studio/internal/domain"
)

// Service is the remote generation capability the pipelines call. It is
// fallible per call and performs no retries of its own.
type Service interface {
	TranscribeSegment(ctx context.Context, media []byte, mimeType string, index, total int) (string, error)
	Summarize(ctx context.Context, transcript string) (string, error)
	GenerateMockup(ctx context.Context, image []byte, mimeType, instruction string) (domain.MockupResult, error)
}

// Request contains one job's input payload and progress callback.
type Request struct {
	Kind        domain.JobKind
	Media       []byte
	MimeType    string
	Instruction string
	OnProgress  func(current, total int)
}

// Result carries the kind-specific outcome of a completed pipeline.
type Result struct {
	Transcription *domain.TranscriptionResult
	Mockup        *domain.MockupResult
}

// PipelineError is a stage-aware error surfaced on the failing job.
type PipelineError struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error formats pipeline failures for logs and UI.
func (e *PipelineError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *PipelineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Runner executes one job end to end against the remote service.
type Runner struct {
	service   Service
	chunkSize int
	logger    zerolog.Logger
}

// NewRunner constructs the production runner with the default chunk bound.
func NewRunner(service Service, logger zerolog.Logger) *Runner {
	return &Runner{
		service:   service,
		chunkSize: chunker.DefaultChunkSize,
		logger:    logger,
	}
}

// Run executes the pipeline for the request's kind. Segments of one
// transcription job run strictly in order; a segment failure aborts the whole
// job and discards the partial transcript.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	switch req.Kind {
	case domain.JobKindTranscription:
		return r.runTranscription(ctx, req)
	case domain.JobKindMockup:
		return r.runMockup(ctx, req)
	default:
		return Result{}, &PipelineError{
			Stage:   "dispatch",
			Message: fmt.Sprintf("unknown job kind %q", req.Kind),
		}
	}
}

// runTranscription chunks the media, transcribes each segment in index order,
// then summarizes the assembled transcript.
func (r *Runner) runTranscription(ctx context.Context, req Request) (Result, error) {
	chunks := chunker.Split(req.Media, r.chunkSize)
	total := len(chunks)

	// Progress is reported before any remote call so the UI shows total work
	// before the first byte is sent.
	emitProgress(req.OnProgress, 0, total)

	var transcript strings.Builder
	for index, chunk := range chunks {
		emitProgress(req.OnProgress, index+1, total)

		text, err := r.service.TranscribeSegment(ctx, chunk, req.MimeType, index, total)
		if err != nil {
			return Result{}, &PipelineError{
				Stage:   "transcribing",
				Message: err.Error(),
				Err:     err,
			}
		}
		transcript.WriteString(text)
		transcript.WriteString(" ")
	}

	full := strings.TrimSpace(transcript.String())

	// Pin progress at completion before summarization, which has no separate
	// progress signal.
	emitProgress(req.OnProgress, total, total)

	summary, err := r.service.Summarize(ctx, full)
	if err != nil {
		return Result{}, &PipelineError{
			Stage:   "summarizing",
			Message: err.Error(),
			Err:     err,
		}
	}

	r.logger.Debug().
		Int("segments", total).
		Int("transcript_chars", len(full)).
		Msg("pipeline: transcription job finished")

	return Result{
		Transcription: &domain.TranscriptionResult{
			Transcription: full,
			Summary:       summary,
		},
	}, nil
}

// runMockup performs the single image-generation call.
func (r *Runner) runMockup(ctx context.Context, req Request) (Result, error) {
	mockup, err := r.service.GenerateMockup(ctx, req.Media, req.MimeType, req.Instruction)
	if err != nil {
		return Result{}, &PipelineError{
			Stage:   "generating",
			Message: err.Error(),
			Err:     err,
		}
	}

	r.logger.Debug().
		Int("image_bytes", len(mockup.Image)).
		Msg("pipeline: mockup job finished")

	return Result{Mockup: &mockup}, nil
}

// emitProgress forwards progress updates when a callback is configured.
func emitProgress(cb func(current, total int), current, total int) {
	if cb != nil {
		cb(current, total)
	}
}

// NewRunnerForTests constructs a runner with an injectable chunk bound.
func NewRunnerForTests(service Service, chunkSize int, logger zerolog.Logger) *Runner {
	return &Runner{
		service:   service,
		chunkSize: chunkSize,
		logger:    logger,
	}
}
