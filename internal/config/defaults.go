package config

import (
	"os"
	"strings"

	"blend-studio/internal/domain"
	"blend-studio/internal/genai"
	"blend-studio/internal/jobs"
)

// DefaultSettings returns baseline configuration for first launch. The API
// key is seeded from the environment so a .env file works out of the box.
func DefaultSettings() domain.Settings {
	return domain.Settings{
		APIKey:            strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		Model:             genai.DefaultModel,
		ImageModel:        genai.DefaultImageModel,
		MaxConcurrentJobs: jobs.DefaultMaxConcurrent,
	}
}

// Normalize trims user inputs and fills gaps with defaults.
func Normalize(settings domain.Settings) domain.Settings {
	settings.APIKey = strings.TrimSpace(settings.APIKey)
	settings.Model = strings.TrimSpace(settings.Model)
	settings.ImageModel = strings.TrimSpace(settings.ImageModel)
	if settings.Model == "" {
		settings.Model = genai.DefaultModel
	}
	if settings.ImageModel == "" {
		settings.ImageModel = genai.DefaultImageModel
	}
	if settings.MaxConcurrentJobs <= 0 {
		settings.MaxConcurrentJobs = jobs.DefaultMaxConcurrent
	}
	return settings
}
