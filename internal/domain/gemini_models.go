package domain

// GeminiModelOption describes one selectable Gemini model preset.
type GeminiModelOption struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
}
