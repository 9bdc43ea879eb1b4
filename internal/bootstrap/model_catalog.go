package bootstrap

import "blend-studio/internal/domain"

var geminiModelCatalog = []domain.GeminiModelOption{
	{
		ID:          "gemini-2.5-flash",
		Name:        "Gemini 2.5 Flash",
		Kind:        "text",
		Description: "Fast default for transcription and summaries.",
	},
	{
		ID:          "gemini-2.5-pro",
		Name:        "Gemini 2.5 Pro",
		Kind:        "text",
		Description: "Higher quality summaries, slower and pricier.",
	},
	{
		ID:          "gemini-2.0-flash",
		Name:        "Gemini 2.0 Flash",
		Kind:        "text",
		Description: "Previous-generation fallback.",
	},
	{
		ID:          "gemini-2.5-flash-image",
		Name:        "Gemini 2.5 Flash Image",
		Kind:        "image",
		Description: "Image generation and editing for product mockups.",
	},
}

// ListModels returns built-in Gemini model presets for the settings view.
func (a *App) ListModels() []domain.GeminiModelOption {
	models := make([]domain.GeminiModelOption, len(geminiModelCatalog))
	copy(models, geminiModelCatalog)
	return models
}
