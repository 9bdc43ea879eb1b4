package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"blend-studio/internal/domain"
)

const (
	// DefaultBaseURL is the Gemini REST endpoint root.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	// DefaultModel handles transcription and summarization requests.
	DefaultModel = "gemini-2.5-flash"
	// DefaultImageModel handles mockup generation requests.
	DefaultImageModel = "gemini-2.5-flash-image"

	defaultTimeout = 120 * time.Second

	// minSummaryInput is the shortest transcript worth a summarization call.
	minSummaryInput = 50
)

// InsufficientAudioSummary replaces the summary when the transcript is too
// short to summarize. The job still completes.
const InsufficientAudioSummary = "Not enough audio to produce a detailed summary."

// noSummaryFallback is returned when the model response lacks a summary field.
const noSummaryFallback = "Could not generate a summary for this transcript."

// ErrMissingAPIKey is raised before any network attempt when no credential is
// configured. Its text is shown to the user verbatim.
var ErrMissingAPIKey = errors.New("Gemini API key is not configured. Add your key in Settings before processing.")

// SettingsSource yields current user settings. The client consults it fresh
// on every call, so a mid-session credential or model change takes effect on
// the next request, never the one already in flight.
type SettingsSource interface {
	CurrentSettings() (domain.Settings, error)
}

// Options controls how the Gemini client is configured.
type Options struct {
	Settings   SettingsSource
	BaseURL    string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client is a thin facade over the Gemini generateContent REST API covering
// the three operations the job pipelines need: segment transcription,
// transcript summarization, and mockup image generation. It performs no
// retries; failures propagate to the owning job.
type Client struct {
	settings   SettingsSource
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient constructs a Gemini client with sane defaults. A nil HTTP client
// is replaced with one carrying a generous timeout for large media uploads.
func NewClient(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		settings:   opts.Settings,
		baseURL:    baseURL,
		httpClient: client,
		logger:     opts.Logger,
	}
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature        float64       `json:"temperature,omitempty"`
	CandidateCount     int           `json:"candidateCount,omitempty"`
	ResponseMimeType   string        `json:"responseMimeType,omitempty"`
	ResponseSchema     *geminiSchema `json:"responseSchema,omitempty"`
	ResponseModalities []string      `json:"responseModalities,omitempty"`
}

type geminiSchema struct {
	Type       string                   `json:"type"`
	Properties map[string]*geminiSchema `json:"properties,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// textSchema constrains a response to a JSON object with one string field.
func textSchema(field string) *geminiSchema {
	return &geminiSchema{
		Type: "OBJECT",
		Properties: map[string]*geminiSchema{
			field: {Type: "STRING"},
		},
	}
}

// TranscribeSegment transcribes exactly one segment of a larger media file.
// The prompt names the segment position so the model does not emit
// continuation artifacts at chunk boundaries. A response without a usable
// text field degrades to an empty string; transport and credential failures
// are returned as errors.
func (c *Client) TranscribeSegment(ctx context.Context, media []byte, mimeType string, index, total int) (string, error) {
	if index < 0 || total <= 0 || index >= total {
		return "", fmt.Errorf("segment index %d out of range for %d segments", index, total)
	}

	settings, err := c.currentSettings()
	if err != nil {
		return "", err
	}

	payload := geminiRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{InlineData: &geminiInlineData{
					MimeType: mimeType,
					Data:     base64.StdEncoding.EncodeToString(media),
				}},
				{Text: transcribePrompt(index, total)},
			},
		}},
		GenerationConfig: &geminiGenerationConfig{
			CandidateCount:   1,
			ResponseMimeType: "application/json",
			ResponseSchema:   textSchema("text"),
		},
	}

	var response geminiResponse
	if err := c.invoke(ctx, settings, textModel(settings), payload, &response); err != nil {
		return "", err
	}

	raw := extractText(response)
	parsed, err := parsePayload[struct {
		Text string `json:"text"`
	}](raw)
	if err != nil {
		c.logger.Debug().
			Int("segment", index).
			Int("segments", total).
			Msg("genai: transcription response had no parseable text; treating segment as silent")
		return "", nil
	}

	c.logger.Debug().
		Int("segment", index).
		Int("segments", total).
		Int("chars", len(parsed.Text)).
		Msg("genai: transcribed segment")

	return parsed.Text, nil
}

// Summarize produces a structured executive summary of a full transcript.
// Transcripts below the minimum usable length short-circuit locally to a
// fixed message without any remote call.
func (c *Client) Summarize(ctx context.Context, transcript string) (string, error) {
	trimmed := strings.TrimSpace(transcript)
	if len(trimmed) < minSummaryInput {
		return InsufficientAudioSummary, nil
	}

	settings, err := c.currentSettings()
	if err != nil {
		return "", err
	}

	payload := geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: summarizePrompt(trimmed)}},
		}},
		GenerationConfig: &geminiGenerationConfig{
			Temperature:      0.5,
			CandidateCount:   1,
			ResponseMimeType: "application/json",
			ResponseSchema:   textSchema("summary"),
		},
	}

	var response geminiResponse
	if err := c.invoke(ctx, settings, textModel(settings), payload, &response); err != nil {
		return "", err
	}

	parsed, err := parsePayload[struct {
		Summary string `json:"summary"`
	}](extractText(response))
	if err != nil || strings.TrimSpace(parsed.Summary) == "" {
		return noSummaryFallback, nil
	}

	c.logger.Debug().
		Int("transcript_chars", len(trimmed)).
		Int("summary_chars", len(parsed.Summary)).
		Msg("genai: generated summary")

	return parsed.Summary, nil
}

// GenerateMockup derives one image from a source image and a scenario
// instruction. The first inline image part of the response wins; a response
// without image content is an error.
func (c *Client) GenerateMockup(ctx context.Context, image []byte, mimeType, instruction string) (domain.MockupResult, error) {
	if strings.TrimSpace(instruction) == "" {
		return domain.MockupResult{}, fmt.Errorf("mockup instruction is required")
	}

	settings, err := c.currentSettings()
	if err != nil {
		return domain.MockupResult{}, err
	}

	payload := geminiRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{InlineData: &geminiInlineData{
					MimeType: mimeType,
					Data:     base64.StdEncoding.EncodeToString(image),
				}},
				{Text: mockupPrompt(instruction)},
			},
		}},
		GenerationConfig: &geminiGenerationConfig{
			CandidateCount:     1,
			ResponseModalities: []string{"IMAGE", "TEXT"},
		},
	}

	var response geminiResponse
	if err := c.invoke(ctx, settings, imageModel(settings), payload, &response); err != nil {
		return domain.MockupResult{}, err
	}

	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return domain.MockupResult{}, fmt.Errorf("decode inline image: %w", err)
			}
			format := part.InlineData.MimeType
			if format == "" {
				format = "image/png"
			}

			c.logger.Debug().
				Int("bytes", len(data)).
				Str("format", format).
				Msg("genai: generated mockup image")

			return domain.MockupResult{Image: data, MimeType: format}, nil
		}
	}

	return domain.MockupResult{}, fmt.Errorf("no image content returned")
}

// currentSettings reads settings fresh and enforces the credential
// precondition before any network attempt.
func (c *Client) currentSettings() (domain.Settings, error) {
	if c.settings == nil {
		return domain.Settings{}, ErrMissingAPIKey
	}
	settings, err := c.settings.CurrentSettings()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	if strings.TrimSpace(settings.APIKey) == "" {
		return domain.Settings{}, ErrMissingAPIKey
	}
	return settings, nil
}

// invoke posts one generateContent request and decodes the response or the
// API error envelope.
func (c *Client) invoke(ctx context.Context, settings domain.Settings, model string, payload geminiRequest, out *geminiResponse) error {
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(model))
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", strings.TrimSpace(settings.APIKey))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("invoke gemini: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr geminiErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("gemini status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		data, _ := io.ReadAll(resp.Body)
		if len(data) > 0 {
			return fmt.Errorf("gemini status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}
		return fmt.Errorf("gemini status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gemini response: %w", err)
	}
	return nil
}

// textModel resolves the transcription/summarization model id.
func textModel(settings domain.Settings) string {
	if model := strings.TrimSpace(settings.Model); model != "" {
		return model
	}
	return DefaultModel
}

// imageModel resolves the mockup generation model id.
func imageModel(settings domain.Settings) string {
	if model := strings.TrimSpace(settings.ImageModel); model != "" {
		return model
	}
	return DefaultImageModel
}

// transcribePrompt scopes the model to exactly one segment of the media.
func transcribePrompt(index, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "This is part %d of %d of an audio file.\n", index+1, total)
	b.WriteString("Your only task is to transcribe the spoken content faithfully, word for word.\n")
	b.WriteString("Do not add headers, do not describe background sounds, do not write \"continued in the next part\".\n")
	b.WriteString("Only the spoken text. If the audio is empty or only noise, return an empty string.")
	return b.String()
}

// summarizePrompt asks for a structured executive summary of the transcript.
func summarizePrompt(transcript string) string {
	var b strings.Builder
	b.WriteString("Here is the full transcription of an audio/video file:\n\n")
	fmt.Fprintf(&b, "%q\n\n", transcript)
	b.WriteString("Based only on this text, provide a detailed, structured executive summary of the main idea discussed, ")
	b.WriteString("highlighting key points, arguments, and conclusions. The summary should be rich and useful.")
	return b.String()
}

// mockupPrompt frames the scenario instruction for image generation.
func mockupPrompt(instruction string) string {
	var b strings.Builder
	b.WriteString("Place the provided artwork into the following realistic product scene, keeping the artwork recognizable:\n")
	b.WriteString(strings.TrimSpace(instruction))
	return b.String()
}

// extractText returns the first non-empty text part of a response.
func extractText(resp geminiResponse) string {
	for _, candidate := range resp.Candidates {
		for _, part := range candidate.Content.Parts {
			if strings.TrimSpace(part.Text) != "" {
				return part.Text
			}
		}
	}
	return ""
}

// parsePayload decodes a schema-constrained JSON payload, tolerating code
// fences and surrounding prose the model occasionally emits.
func parsePayload[T any](raw string) (T, error) {
	var zero T
	cleaned := extractJSONFragment(raw)
	if cleaned == "" {
		return zero, errors.New("empty payload")
	}
	var decoded T
	if err := json.Unmarshal([]byte(cleaned), &decoded); err != nil {
		return zero, err
	}
	return decoded, nil
}

// extractJSONFragment isolates the outermost JSON value in raw model output.
func extractJSONFragment(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	text = trimCodeFence(text)
	start := strings.IndexAny(text, "{[")
	end := strings.LastIndexAny(text, "]}")
	if start >= 0 && end >= start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

// trimCodeFence strips markdown code fences around a JSON payload.
func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```JSON")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
