package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"blend-studio/internal/domain"
	"blend-studio/internal/genai"
	"blend-studio/internal/pipeline"
)

// fakeRunner scripts pipeline outcomes and optionally blocks in flight so
// tests can interleave queue operations with a running job.
type fakeRunner struct {
	mu        sync.Mutex
	result    pipeline.Result
	err       error
	gate      chan struct{} // when set, Run blocks until closed
	ignoreCtx bool          // block on the gate even when the context ends
	started   chan string   // when set, receives the media key on entry
	runs      map[string]int

	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeRunner) Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error) {
	current := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxSeen.Load()
		if current <= max || f.maxSeen.CompareAndSwap(max, current) {
			break
		}
	}

	key := string(req.Media)
	f.mu.Lock()
	if f.runs == nil {
		f.runs = make(map[string]int)
	}
	f.runs[key]++
	gate := f.gate
	started := f.started
	ignoreCtx := f.ignoreCtx
	f.mu.Unlock()

	if started != nil {
		started <- key
	}
	if gate != nil {
		if ignoreCtx {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return pipeline.Result{}, ctx.Err()
			}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.err
}

func (f *fakeRunner) setOutcome(result pipeline.Result, err error) {
	f.mu.Lock()
	f.result = result
	f.err = err
	f.mu.Unlock()
}

func newTestQueue(runner Runner, maxConcurrent int) *Queue {
	return NewQueue(Options{
		Runner:        runner,
		MaxConcurrent: maxConcurrent,
		Logger:        zerolog.Nop(),
	})
}

func transcriptionInput(name string) domain.JobInput {
	return domain.JobInput{FileName: name, MimeType: "audio/mpeg", Media: []byte(name)}
}

func mockupInput(name, instruction string) domain.JobInput {
	return domain.JobInput{
		FileName:    name,
		MimeType:    "image/png",
		Media:       []byte(name),
		Instruction: instruction,
	}
}

func completedTranscription() pipeline.Result {
	return pipeline.Result{
		Transcription: &domain.TranscriptionResult{Transcription: "text", Summary: "summary"},
	}
}

// waitUntil polls cond with a deadline so blocked-runner tests stay bounded.
func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// eventsFor filters a queue's event log down to one job id.
func eventsFor(q *Queue, id string) []Event {
	var out []Event
	for _, event := range q.Events(0) {
		if event.JobID == id {
			out = append(out, event)
		}
	}
	return out
}

// TestQueueEnqueueValidation verifies invalid inputs are silent no-ops.
func TestQueueEnqueueValidation(t *testing.T) {
	q := newTestQueue(&fakeRunner{}, 1)

	if _, ok := q.Enqueue(domain.JobKindTranscription, domain.JobInput{FileName: "empty.mp3"}); ok {
		t.Fatal("expected no-op for empty media")
	}
	if _, ok := q.Enqueue(domain.JobKindMockup, mockupInput("art.png", "   ")); ok {
		t.Fatal("expected no-op for blank mockup instruction")
	}
	if _, ok := q.Enqueue(domain.JobKind("video"), transcriptionInput("clip.mp4")); ok {
		t.Fatal("expected no-op for unknown kind")
	}

	if got := q.Snapshot(); len(got) != 0 {
		t.Fatalf("snapshot = %d jobs, want 0", len(got))
	}
	if got := q.Events(0); len(got) != 0 {
		t.Fatalf("events = %d, want 0", len(got))
	}
}

// TestQueueCompletesJob checks the idle -> processing -> completed path and
// its event trail.
func TestQueueCompletesJob(t *testing.T) {
	runner := &fakeRunner{result: completedTranscription()}
	q := newTestQueue(runner, 1)

	id, ok := q.Enqueue(domain.JobKindTranscription, transcriptionInput("talk.mp3"))
	if !ok {
		t.Fatal("enqueue rejected valid input")
	}
	q.Wait()

	job, ok := q.Get(id)
	if !ok {
		t.Fatal("job disappeared")
	}
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if job.Transcription == nil || job.Transcription.Summary != "summary" {
		t.Fatalf("transcription = %+v, want scripted result", job.Transcription)
	}
	if job.Error != "" {
		t.Fatalf("error = %q, want empty", job.Error)
	}

	var types []EventType
	for _, event := range eventsFor(q, id) {
		types = append(types, event.Type)
	}
	want := []EventType{EventTypeStatus, EventTypeStatus, EventTypeStatus, EventTypeResult}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event types = %v, want %v", types, want)
		}
	}
}

// TestQueueRecordsFailure checks a failed pipeline lands in error status with
// result and error mutually exclusive.
func TestQueueRecordsFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("boom")}
	q := newTestQueue(runner, 1)

	id, _ := q.Enqueue(domain.JobKindTranscription, transcriptionInput("talk.mp3"))
	q.Wait()

	job, _ := q.Get(id)
	if job.Status != domain.JobStatusError {
		t.Fatalf("status = %s, want error", job.Status)
	}
	if job.Error != "boom" {
		t.Fatalf("error = %q, want boom", job.Error)
	}
	if job.Transcription != nil || job.Mockup != nil {
		t.Fatal("failed job must carry no result")
	}

	events := eventsFor(q, id)
	last := events[len(events)-1]
	if last.Type != EventTypeError || last.Message != "boom" {
		t.Fatalf("last event = %+v, want error event with message boom", last)
	}
}

// TestQueueRunsEachJobOnce verifies the claim pass never double-launches.
func TestQueueRunsEachJobOnce(t *testing.T) {
	runner := &fakeRunner{result: completedTranscription()}
	q := newTestQueue(runner, 2)

	names := []string{"a.mp3", "b.mp3", "c.mp3"}
	for _, name := range names {
		if _, ok := q.Enqueue(domain.JobKindTranscription, transcriptionInput(name)); !ok {
			t.Fatalf("enqueue %s rejected", name)
		}
	}
	q.Wait()

	runner.mu.Lock()
	defer runner.mu.Unlock()
	for _, name := range names {
		if runner.runs[name] != 1 {
			t.Fatalf("runs[%s] = %d, want 1", name, runner.runs[name])
		}
	}
}

// TestQueueBoundsConcurrency checks the in-flight job count never exceeds the
// configured maximum.
func TestQueueBoundsConcurrency(t *testing.T) {
	runner := &fakeRunner{
		result: completedTranscription(),
		gate:   make(chan struct{}),
	}
	q := newTestQueue(runner, 2)

	for i := 0; i < 5; i++ {
		q.Enqueue(domain.JobKindTranscription, transcriptionInput(fmt.Sprintf("f%d.mp3", i)))
	}

	waitUntil(t, "two jobs in flight", func() bool { return runner.inFlight.Load() == 2 })
	close(runner.gate)
	q.Wait()

	if max := runner.maxSeen.Load(); max > 2 {
		t.Fatalf("max in-flight = %d, want <= 2", max)
	}
	for _, job := range q.Snapshot() {
		if job.Status != domain.JobStatusCompleted {
			t.Fatalf("job %s status = %s, want completed", job.Input.FileName, job.Status)
		}
	}
}

// TestQueueRemoveDiscardsInFlightOutcome checks a result arriving for a
// removed job cannot resurrect its record.
func TestQueueRemoveDiscardsInFlightOutcome(t *testing.T) {
	runner := &fakeRunner{
		result:    completedTranscription(),
		gate:      make(chan struct{}),
		ignoreCtx: true,
		started:   make(chan string, 1),
	}
	q := newTestQueue(runner, 1)

	id, _ := q.Enqueue(domain.JobKindTranscription, transcriptionInput("talk.mp3"))
	<-runner.started

	q.Remove(id)
	close(runner.gate)
	q.Wait()

	if _, ok := q.Get(id); ok {
		t.Fatal("removed job came back")
	}
	if got := q.Snapshot(); len(got) != 0 {
		t.Fatalf("snapshot = %d jobs, want 0", len(got))
	}
	for _, event := range eventsFor(q, id) {
		if event.Type == EventTypeResult {
			t.Fatal("result event published for a removed job")
		}
	}
}

// TestQueueRemoveCancelsInFlightRun checks removal cancels the job's context
// and the cancellation is not recorded as a failure.
func TestQueueRemoveCancelsInFlightRun(t *testing.T) {
	runner := &fakeRunner{
		gate:    make(chan struct{}),
		started: make(chan string, 1),
	}
	q := newTestQueue(runner, 1)

	id, _ := q.Enqueue(domain.JobKindTranscription, transcriptionInput("talk.mp3"))
	<-runner.started

	q.Remove(id)
	q.Wait()

	for _, event := range eventsFor(q, id) {
		if event.Type == EventTypeError {
			t.Fatal("cancellation surfaced as an error event")
		}
	}
	events := eventsFor(q, id)
	if last := events[len(events)-1]; last.Type != EventTypeRemoved {
		t.Fatalf("last event = %s, want removed", last.Type)
	}
}

// TestQueueRetryCreatesFreshJob verifies retry spawns a new idle job and
// leaves the original record untouched.
func TestQueueRetryCreatesFreshJob(t *testing.T) {
	runner := &fakeRunner{err: errors.New("boom")}
	q := newTestQueue(runner, 1)

	id, _ := q.Enqueue(domain.JobKindTranscription, transcriptionInput("talk.mp3"))
	q.Wait()

	runner.setOutcome(completedTranscription(), nil)
	newID, ok := q.Retry(id)
	if !ok {
		t.Fatal("retry rejected existing job")
	}
	if newID == id {
		t.Fatal("retry reused the original job id")
	}
	q.Wait()

	original, _ := q.Get(id)
	if original.Status != domain.JobStatusError || original.Error != "boom" {
		t.Fatalf("original = %s/%q, want error/boom", original.Status, original.Error)
	}

	retried, _ := q.Get(newID)
	if retried.Status != domain.JobStatusCompleted {
		t.Fatalf("retried status = %s, want completed", retried.Status)
	}
	if retried.Input.FileName != "talk.mp3" {
		t.Fatalf("retried input = %q, want original input", retried.Input.FileName)
	}

	if _, ok := q.Retry("no-such-id"); ok {
		t.Fatal("retry accepted unknown id")
	}
}

// TestQueueSnapshotOrdering checks transcriptions append and mockups prepend.
func TestQueueSnapshotOrdering(t *testing.T) {
	runner := &fakeRunner{result: completedTranscription()}
	q := newTestQueue(runner, 1)

	q.Enqueue(domain.JobKindTranscription, transcriptionInput("t1.mp3"))
	q.Enqueue(domain.JobKindMockup, mockupInput("m1.png", "on a mug"))
	q.Enqueue(domain.JobKindTranscription, transcriptionInput("t2.mp3"))
	q.Enqueue(domain.JobKindMockup, mockupInput("m2.png", "on a shirt"))
	q.Wait()

	want := []string{"m2.png", "m1.png", "t1.mp3", "t2.mp3"}
	got := q.Snapshot()
	if len(got) != len(want) {
		t.Fatalf("snapshot = %d jobs, want %d", len(got), len(want))
	}
	for i, job := range got {
		if job.Input.FileName != want[i] {
			t.Fatalf("snapshot[%d] = %s, want %s", i, job.Input.FileName, want[i])
		}
	}
}

// TestQueueClearCancelsEverything checks clear empties the queue and cancels
// in-flight work.
func TestQueueClearCancelsEverything(t *testing.T) {
	runner := &fakeRunner{
		gate:    make(chan struct{}),
		started: make(chan string, 2),
	}
	q := newTestQueue(runner, 2)

	q.Enqueue(domain.JobKindTranscription, transcriptionInput("a.mp3"))
	q.Enqueue(domain.JobKindTranscription, transcriptionInput("b.mp3"))
	<-runner.started
	<-runner.started

	q.Clear()
	q.Wait()

	if got := q.Snapshot(); len(got) != 0 {
		t.Fatalf("snapshot = %d jobs, want 0", len(got))
	}

	events := q.Events(0)
	if last := events[len(events)-1]; last.Type != EventTypeCleared {
		t.Fatalf("last event = %s, want cleared", last.Type)
	}
}

// progressRunner reports fixed progress before returning its result.
type progressRunner struct {
	result pipeline.Result
}

func (p *progressRunner) Run(_ context.Context, req pipeline.Request) (pipeline.Result, error) {
	if req.OnProgress != nil {
		req.OnProgress(0, 3)
		req.OnProgress(1, 3)
	}
	return p.result, nil
}

// TestQueuePublishesProgress checks progress callbacks land on the record and
// in the event log.
func TestQueuePublishesProgress(t *testing.T) {
	q := newTestQueue(&progressRunner{result: completedTranscription()}, 1)

	id, _ := q.Enqueue(domain.JobKindTranscription, transcriptionInput("talk.mp3"))
	q.Wait()

	job, _ := q.Get(id)
	if job.Progress == nil || job.Progress.CurrentChunk != 1 || job.Progress.TotalChunks != 3 {
		t.Fatalf("progress = %+v, want 1/3", job.Progress)
	}

	var progressEvents int
	for _, event := range eventsFor(q, id) {
		if event.Type == EventTypeProgress {
			progressEvents++
			if event.TotalChunks != 3 {
				t.Fatalf("progress event total = %d, want 3", event.TotalChunks)
			}
		}
	}
	if progressEvents != 2 {
		t.Fatalf("progress events = %d, want 2", progressEvents)
	}
}

// emptySettings simulates a user who never configured a credential.
type emptySettings struct{}

func (emptySettings) CurrentSettings() (domain.Settings, error) {
	return domain.Settings{}, nil
}

// TestQueueMissingCredentialEndToEnd runs the real pipeline and client against
// an unconfigured credential: the job must fail with the user-facing message
// before any network traffic.
func TestQueueMissingCredentialEndToEnd(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	client := genai.NewClient(genai.Options{
		Settings: emptySettings{},
		BaseURL:  server.URL,
		Logger:   zerolog.Nop(),
	})
	q := newTestQueue(pipeline.NewRunner(client, zerolog.Nop()), 1)

	id, _ := q.Enqueue(domain.JobKindTranscription, transcriptionInput("talk.mp3"))
	q.Wait()

	job, _ := q.Get(id)
	if job.Status != domain.JobStatusError {
		t.Fatalf("status = %s, want error", job.Status)
	}
	if !strings.Contains(job.Error, "not configured") {
		t.Fatalf("error = %q, want missing-credential message", job.Error)
	}
	if calls.Load() != 0 {
		t.Fatalf("requests = %d, want 0", calls.Load())
	}
}

// scriptedService echoes segment indices for end-to-end chunked runs.
type scriptedService struct{}

func (scriptedService) TranscribeSegment(_ context.Context, _ []byte, _ string, index, _ int) (string, error) {
	return fmt.Sprintf("part%d", index), nil
}

func (scriptedService) Summarize(_ context.Context, _ string) (string, error) {
	return "a short summary", nil
}

func (scriptedService) GenerateMockup(_ context.Context, _ []byte, _, _ string) (domain.MockupResult, error) {
	return domain.MockupResult{}, errors.New("not used")
}

// TestQueueChunkedTranscriptionEndToEnd drives a multi-segment job through
// the real pipeline runner.
func TestQueueChunkedTranscriptionEndToEnd(t *testing.T) {
	q := newTestQueue(pipeline.NewRunnerForTests(scriptedService{}, 6, zerolog.Nop()), 1)

	input := domain.JobInput{FileName: "long.mp3", MimeType: "audio/mpeg", Media: make([]byte, 14)}
	id, _ := q.Enqueue(domain.JobKindTranscription, input)
	q.Wait()

	job, _ := q.Get(id)
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want completed (error %q)", job.Status, job.Error)
	}
	if job.Transcription.Transcription != "part0 part1 part2" {
		t.Fatalf("transcript = %q, want joined segments", job.Transcription.Transcription)
	}
	if job.Progress == nil || job.Progress.CurrentChunk != 3 || job.Progress.TotalChunks != 3 {
		t.Fatalf("final progress = %+v, want 3/3", job.Progress)
	}
}
