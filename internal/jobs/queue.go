package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"blend-studio/internal/domain"
	"blend-studio/internal/pipeline"
)

// DefaultMaxConcurrent bounds how many jobs may be in flight at once. The
// remote service is rate limited, so fan-out is capped instead of launching
// every queued job simultaneously.
const DefaultMaxConcurrent = 4

// Runner executes one claimed job's pipeline.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

// Options configure queue construction.
type Options struct {
	Runner        Runner
	MaxConcurrent int
	Events        *EventBus
	Notify        func(Event)
	Logger        zerolog.Logger
}

// Queue owns the job collection and drives each idle job through its
// pipeline exactly once. All collection mutations are serialized by the
// queue mutex; updates arriving for an id no longer present are silent
// no-ops, so a removed job's in-flight work cannot resurrect it.
type Queue struct {
	mu      sync.Mutex
	items   []*domain.Job
	cancels map[string]context.CancelFunc

	runner Runner
	sem    chan struct{}
	events *EventBus
	notify func(Event)
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// NewQueue creates an empty queue with a bounded pipeline worker pool.
func NewQueue(opts Options) *Queue {
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}

	events := opts.Events
	if events == nil {
		events = NewEventBus(1000)
	}

	return &Queue{
		cancels: make(map[string]context.CancelFunc),
		runner:  opts.Runner,
		sem:     make(chan struct{}, maxConcurrent),
		events:  events,
		notify:  opts.Notify,
		logger:  opts.Logger,
	}
}

// Enqueue creates a new idle job and triggers a processing pass. Inputs
// without a payload, or mockup inputs without an instruction, make the call
// a no-op rather than an error. Transcription jobs keep insertion order;
// mockup jobs are newest-first.
func (q *Queue) Enqueue(kind domain.JobKind, input domain.JobInput) (string, bool) {
	if len(input.Media) == 0 {
		return "", false
	}
	switch kind {
	case domain.JobKindTranscription:
	case domain.JobKindMockup:
		if strings.TrimSpace(input.Instruction) == "" {
			return "", false
		}
	default:
		return "", false
	}

	if input.Size == 0 {
		input.Size = int64(len(input.Media))
	}

	job := &domain.Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Input:     input,
		Status:    domain.JobStatusIdle,
		CreatedAt: time.Now().UTC(),
	}

	q.mu.Lock()
	q.insertLocked(job)
	q.mu.Unlock()

	q.logger.Info().
		Str("job_id", job.ID).
		Str("kind", string(kind)).
		Str("file", input.FileName).
		Int64("bytes", input.Size).
		Msg("queue: job enqueued")

	q.publish(Event{JobID: job.ID, Kind: kind, Type: EventTypeStatus, Status: domain.JobStatusIdle})
	q.processPass()
	return job.ID, true
}

// Remove deletes the job record regardless of status and cancels any
// pipeline still in flight for it.
func (q *Queue) Remove(id string) {
	q.mu.Lock()
	removed := q.detachLocked(id)
	q.mu.Unlock()

	if !removed {
		return
	}

	q.logger.Info().Str("job_id", id).Msg("queue: job removed")
	q.publish(Event{JobID: id, Type: EventTypeRemoved})
}

// Retry creates a brand-new idle job from an existing job's input. The
// original record is untouched and must be removed separately if desired.
func (q *Queue) Retry(id string) (string, bool) {
	q.mu.Lock()
	source := q.findLocked(id)
	if source == nil {
		q.mu.Unlock()
		return "", false
	}

	job := &domain.Job{
		ID:        uuid.NewString(),
		Kind:      source.Kind,
		Input:     source.Input,
		Status:    domain.JobStatusIdle,
		CreatedAt: time.Now().UTC(),
	}
	q.insertLocked(job)
	q.mu.Unlock()

	q.logger.Info().
		Str("job_id", job.ID).
		Str("retried_from", id).
		Msg("queue: job retried as new job")

	q.publish(Event{JobID: job.ID, Kind: job.Kind, Type: EventTypeStatus, Status: domain.JobStatusIdle})
	q.processPass()
	return job.ID, true
}

// Clear removes all job records and cancels every in-flight pipeline.
func (q *Queue) Clear() {
	q.mu.Lock()
	for id, cancel := range q.cancels {
		cancel()
		delete(q.cancels, id)
	}
	count := len(q.items)
	q.items = nil
	q.mu.Unlock()

	if count > 0 {
		q.logger.Info().Int("jobs", count).Msg("queue: cleared")
	}
	q.publish(Event{Type: EventTypeCleared})
}

// Snapshot returns a read-only copy of all jobs in presentation order.
func (q *Queue) Snapshot() []domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]domain.Job, len(q.items))
	for i, job := range q.items {
		out[i] = *job
	}
	return out
}

// Get returns a copy of one job by id.
func (q *Queue) Get(id string) (domain.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job := q.findLocked(id); job != nil {
		return *job, true
	}
	return domain.Job{}, false
}

// Events returns queue events with sequence greater than sinceSeq.
func (q *Queue) Events(sinceSeq int64) []Event {
	return q.events.Since(sinceSeq)
}

// Wait blocks until every launched pipeline has finished. Used by shutdown
// and tests; new jobs enqueued while waiting are not covered.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// processPass claims every currently idle job as an atomic batch and
// launches their pipelines. It is idempotent: jobs already claimed or
// terminal are skipped, so no job is ever claimed twice.
func (q *Queue) processPass() {
	type claim struct {
		job domain.Job
		ctx context.Context
	}

	q.mu.Lock()
	var claimed []claim
	for _, job := range q.items {
		if job.Status != domain.JobStatusIdle {
			continue
		}
		job.Status = domain.JobStatusProcessing
		ctx, cancel := context.WithCancel(context.Background())
		q.cancels[job.ID] = cancel
		claimed = append(claimed, claim{job: *job, ctx: ctx})
	}
	q.mu.Unlock()

	for _, c := range claimed {
		q.publish(Event{JobID: c.job.ID, Kind: c.job.Kind, Type: EventTypeStatus, Status: domain.JobStatusProcessing})
		q.wg.Add(1)
		go q.runJob(c.ctx, c.job)
	}
}

// runJob executes one claimed job's pipeline, gated by the concurrency
// semaphore, and applies the terminal outcome.
func (q *Queue) runJob(ctx context.Context, job domain.Job) {
	defer q.wg.Done()

	select {
	case q.sem <- struct{}{}:
		defer func() { <-q.sem }()
	case <-ctx.Done():
		// Removed or cleared before a worker slot opened; the record is
		// already gone.
		q.forgetCancel(job.ID)
		return
	}

	result, err := q.runner.Run(ctx, pipeline.Request{
		Kind:        job.Kind,
		Media:       job.Input.Media,
		MimeType:    job.Input.MimeType,
		Instruction: job.Input.Instruction,
		OnProgress: func(current, total int) {
			q.updateProgress(job.ID, job.Kind, current, total)
		},
	})
	if err != nil {
		q.fail(job.ID, job.Kind, err)
		return
	}
	q.complete(job.ID, job.Kind, result)
}

// updateProgress records chunk advancement for a job still processing.
// Stale ids are ignored.
func (q *Queue) updateProgress(id string, kind domain.JobKind, current, total int) {
	q.mu.Lock()
	job := q.findLocked(id)
	if job == nil || job.Status != domain.JobStatusProcessing {
		q.mu.Unlock()
		return
	}
	job.Progress = &domain.Progress{CurrentChunk: current, TotalChunks: total}
	q.mu.Unlock()

	q.publish(Event{
		JobID:        id,
		Kind:         kind,
		Type:         EventTypeProgress,
		Status:       domain.JobStatusProcessing,
		CurrentChunk: current,
		TotalChunks:  total,
	})
}

// complete transitions a processing job to completed with its result. If the
// job was removed while in flight the outcome is discarded silently.
func (q *Queue) complete(id string, kind domain.JobKind, result pipeline.Result) {
	q.mu.Lock()
	delete(q.cancels, id)
	job := q.findLocked(id)
	if job == nil || job.Status != domain.JobStatusProcessing {
		q.mu.Unlock()
		return
	}
	job.Status = domain.JobStatusCompleted
	job.Transcription = result.Transcription
	job.Mockup = result.Mockup
	q.mu.Unlock()

	q.logger.Info().Str("job_id", id).Str("kind", string(kind)).Msg("queue: job completed")
	q.publish(Event{JobID: id, Kind: kind, Type: EventTypeStatus, Status: domain.JobStatusCompleted})
	q.publish(Event{JobID: id, Kind: kind, Type: EventTypeResult, Status: domain.JobStatusCompleted})
}

// fail transitions a processing job to error. Cancellation means the record
// was already detached, so nothing is recorded or published for it.
func (q *Queue) fail(id string, kind domain.JobKind, err error) {
	if errors.Is(err, context.Canceled) {
		q.forgetCancel(id)
		return
	}

	q.mu.Lock()
	delete(q.cancels, id)
	job := q.findLocked(id)
	if job == nil || job.Status != domain.JobStatusProcessing {
		q.mu.Unlock()
		return
	}
	job.Status = domain.JobStatusError
	job.Error = err.Error()
	q.mu.Unlock()

	q.logger.Warn().Str("job_id", id).Str("kind", string(kind)).Err(err).Msg("queue: job failed")
	q.publish(Event{
		JobID:   id,
		Kind:    kind,
		Type:    EventTypeError,
		Status:  domain.JobStatusError,
		Message: err.Error(),
	})
}

// insertLocked places a job according to its kind's presentation order.
func (q *Queue) insertLocked(job *domain.Job) {
	if job.Kind == domain.JobKindMockup {
		q.items = append([]*domain.Job{job}, q.items...)
		return
	}
	q.items = append(q.items, job)
}

// detachLocked removes a job record and cancels its pipeline if running.
func (q *Queue) detachLocked(id string) bool {
	for i, job := range q.items {
		if job.ID != id {
			continue
		}
		if cancel, ok := q.cancels[id]; ok {
			cancel()
			delete(q.cancels, id)
		}
		q.items = append(q.items[:i], q.items[i+1:]...)
		return true
	}
	return false
}

// findLocked returns the live record for id, or nil.
func (q *Queue) findLocked(id string) *domain.Job {
	for _, job := range q.items {
		if job.ID == id {
			return job
		}
	}
	return nil
}

// forgetCancel drops a cancellation handle without touching job state.
func (q *Queue) forgetCancel(id string) {
	q.mu.Lock()
	delete(q.cancels, id)
	q.mu.Unlock()
}

// publish stores the event and forwards it to the push hook when set.
func (q *Queue) publish(event Event) {
	published := q.events.Publish(event)
	if q.notify != nil {
		q.notify(published)
	}
}
