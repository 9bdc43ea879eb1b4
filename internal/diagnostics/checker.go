package diagnostics

import (
	"fmt"
	"strings"
	"time"

	"blend-studio/internal/domain"
)

// Checker validates the configuration the pipelines depend on. Unlike a
// local-tool setup there is nothing to probe on disk; every check is a pure
// function of settings so the report is cheap to refresh after each save.
type Checker struct{}

// NewChecker builds a checker.
func NewChecker() *Checker {
	return &Checker{}
}

// Run executes all preflight checks and returns a combined report.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkAPIKey(settings.APIKey),
		c.checkModel("text_model", "Text model", settings.Model),
		c.checkModel("image_model", "Image model", settings.ImageModel),
		c.checkConcurrency(settings.MaxConcurrentJobs),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkAPIKey verifies a credential is configured without revealing it.
func (c *Checker) checkAPIKey(apiKey string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "api_key",
		Name: "Gemini API key",
	}

	if strings.TrimSpace(apiKey) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "No API key is configured."
		item.Hint = "Paste your Gemini API key in Settings, or set GEMINI_API_KEY in the environment."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("API key configured (%d characters).", len(strings.TrimSpace(apiKey)))
	return item
}

// checkModel verifies a model id is selected for the given role.
func (c *Checker) checkModel(id, name, model string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   id,
		Name: name,
	}

	if strings.TrimSpace(model) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "No model is selected."
		item.Hint = "Pick a model in Settings."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Using %s.", strings.TrimSpace(model))
	return item
}

// checkConcurrency validates the in-flight job bound.
func (c *Checker) checkConcurrency(maxJobs int) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "max_concurrent_jobs",
		Name: "Concurrent jobs",
	}

	if maxJobs < 1 {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Invalid concurrency bound: %d.", maxJobs)
		item.Hint = "Set the maximum number of concurrent jobs to 1 or more."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Up to %d jobs run at once.", maxJobs)
	return item
}
