package bootstrap

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"blend-studio/internal/config"
	"blend-studio/internal/diagnostics"
	"blend-studio/internal/domain"
	"blend-studio/internal/genai"
	"blend-studio/internal/jobs"
	"blend-studio/internal/logging"
	"blend-studio/internal/pipeline"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

var mediaDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Audio and video files",
		Pattern:     "*.mp4;*.mov;*.mkv;*.avi;*.mp3;*.wav;*.m4a;*.flac;*.aac;*.ogg;*.webm",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

var imageDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Images",
		Pattern:     "*.png;*.jpg;*.jpeg;*.webp;*.gif",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

// App wires configuration, the job queue, the Gemini client, and UI runtime
// callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Queue       *jobs.Queue
	Diagnostics domain.DiagnosticReport
	assets      fs.FS
	checker     *diagnostics.Checker
	logger      zerolog.Logger

	mu         sync.Mutex
	runtimeCtx context.Context
}

// storeSettings adapts the config store to the Gemini client's per-call
// settings lookup, so credential changes apply on the next remote call.
type storeSettings struct {
	store config.Store
}

// CurrentSettings loads and normalizes the persisted settings.
func (s storeSettings) CurrentSettings() (domain.Settings, error) {
	settings, err := s.store.Load()
	if err != nil {
		return domain.Settings{}, err
	}
	return config.Normalize(settings), nil
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded
// frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}

	store := config.NewJSONStore(filepath.Join(homeDir, ".blend-studio", "settings.json"))
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	settings = config.Normalize(settings)

	checker := diagnostics.NewChecker()
	logger := logging.NewLogger(os.Getenv("APP_ENV"))

	app := &App{
		Settings:    settings,
		Store:       store,
		Diagnostics: checker.Run(settings),
		assets:      assets,
		checker:     checker,
		logger:      logger,
	}

	client := genai.NewClient(genai.Options{
		Settings: storeSettings{store: store},
		Logger:   logger,
	})
	app.Queue = jobs.NewQueue(jobs.Options{
		Runner:        pipeline.NewRunner(client, logger),
		MaxConcurrent: settings.MaxConcurrentJobs,
		Notify:        app.pushEvent,
		Logger:        logger,
	})

	return app, nil
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Blend Studio",
		Width:       1180,
		Height:      780,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown: func(ctx context.Context) {
			a.mu.Lock()
			defer a.mu.Unlock()
			a.runtimeCtx = nil
		},
		Bind: []interface{}{a},
	})
}

// Startup stores the Wails runtime context for push events and dialogs.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	settings = config.Normalize(settings)

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, then refreshes diagnostics.
// The new credential and model selection apply to the next remote call; jobs
// already in flight finish with the old values.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := config.Normalize(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = normalized
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(normalized)
	}
	a.mu.Unlock()

	return normalized, nil
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// RefreshDiagnostics reloads settings and reruns configuration checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	settings = config.Normalize(settings)

	a.mu.Lock()
	a.Settings = settings
	a.Diagnostics = a.checker.Run(settings)
	report := a.Diagnostics
	a.mu.Unlock()

	return report, nil
}

// PickMediaFile opens a native file dialog for audio/video selection.
func (a *App) PickMediaFile() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select audio or video file",
		Filters: mediaDialogFilter,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// PickImageFile opens a native file dialog for artwork selection.
func (a *App) PickImageFile() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select artwork image",
		Filters: imageDialogFilter,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// EnqueueTranscription reads a media file and queues a transcription job.
func (a *App) EnqueueTranscription(path string) (domain.Job, error) {
	target := strings.TrimSpace(path)
	if target == "" {
		return domain.Job{}, fmt.Errorf("media file path is required")
	}

	data, err := os.ReadFile(target)
	if err != nil {
		return domain.Job{}, fmt.Errorf("read media file: %w", err)
	}

	id, ok := a.Queue.Enqueue(domain.JobKindTranscription, domain.JobInput{
		FileName: filepath.Base(target),
		MimeType: detectMimeType(target),
		Size:     int64(len(data)),
		Media:    data,
	})
	if !ok {
		return domain.Job{}, fmt.Errorf("media file is empty: %s", target)
	}

	job, _ := a.Queue.Get(id)
	return job, nil
}

// EnqueueMockup reads an artwork image and queues a mockup generation job.
func (a *App) EnqueueMockup(imagePath, instruction string) (domain.Job, error) {
	target := strings.TrimSpace(imagePath)
	if target == "" {
		return domain.Job{}, fmt.Errorf("artwork image path is required")
	}

	data, err := os.ReadFile(target)
	if err != nil {
		return domain.Job{}, fmt.Errorf("read artwork image: %w", err)
	}

	id, ok := a.Queue.Enqueue(domain.JobKindMockup, domain.JobInput{
		FileName:    filepath.Base(target),
		MimeType:    detectMimeType(target),
		Size:        int64(len(data)),
		Media:       data,
		Instruction: instruction,
	})
	if !ok {
		return domain.Job{}, fmt.Errorf("an image and a non-empty instruction are required")
	}

	job, _ := a.Queue.Get(id)
	return job, nil
}

// Jobs returns the current queue snapshot in presentation order.
func (a *App) Jobs() []domain.Job {
	return a.Queue.Snapshot()
}

// JobEvents returns all queue events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.Queue.Events(sinceSeq)
}

// RemoveJob deletes one job record; in-flight work for it is cancelled.
func (a *App) RemoveJob(id string) {
	a.Queue.Remove(id)
}

// RetryJob queues a fresh job with the same input as an existing one.
func (a *App) RetryJob(id string) (domain.Job, error) {
	newID, ok := a.Queue.Retry(id)
	if !ok {
		return domain.Job{}, fmt.Errorf("no job with id %q", id)
	}

	job, _ := a.Queue.Get(newID)
	return job, nil
}

// ClearJobs removes every job record and cancels all in-flight work.
func (a *App) ClearJobs() {
	a.Queue.Clear()
}

// pushEvent forwards queue events to the frontend when the runtime is up.
func (a *App) pushEvent(event jobs.Event) {
	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, "job:event", event)
	}
}

// runtimeContext returns the current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// detectMimeType resolves a MIME type from the file extension, falling back
// to a generic binary type the remote service will still accept.
func detectMimeType(path string) string {
	if mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); mimeType != "" {
		if idx := strings.Index(mimeType, ";"); idx >= 0 {
			mimeType = strings.TrimSpace(mimeType[:idx])
		}
		return mimeType
	}
	return "application/octet-stream"
}
