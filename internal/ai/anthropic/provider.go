package anthropic

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hartfield/camber/internal/ai"
	"github.com/hartfield/camber/internal/domain"
	"github.com/hartfield/camber/internal/metrics"
	"github.com/hartfield/camber/internal/repository"
)

const (
	// APIBaseURL is the base URL for the Anthropic API
	APIBaseURL = "https://api.anthropic.com/v1/messages"

	// APIVersion is the Anthropic API version
	APIVersion = "2023-06-01"

	// DefaultModel is the default Claude model to use
	DefaultModel = "claude-3-5-sonnet-20241022"

	// MaxImageSize is the maximum single-image size in bytes (20MB)
	MaxImageSize = 20 * 1024 * 1024

	// Pricing in cents per 1M tokens for claude-3-5-sonnet
	PricingInputCents  = 300  // $3 per 1M input tokens
	PricingOutputCents = 1500 // $15 per 1M output tokens
)

// Config contains configuration for the Anthropic provider.
type Config struct {
	APIKey         string
	Model          string
	ProviderConfig ai.ProviderConfig
}

// Provider implements the AIProvider interface using Anthropic's Claude API.
// It never retries on its own; callers decide the retry policy and classify
// errors with ai.IsRetryable.
type Provider struct {
	config  Config
	client  *http.Client
	queries *repository.Queries
	logger  *slog.Logger
}

// New creates a new Anthropic AI provider.
func New(config Config, queries *repository.Queries, logger *slog.Logger) (*Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.ProviderConfig.RequestTimeout == 0 {
		config.ProviderConfig.RequestTimeout = 60 * time.Second
	}

	return &Provider{
		config: config,
		client: &http.Client{
			Timeout: config.ProviderConfig.RequestTimeout,
		},
		queries: queries,
		logger:  logger,
	}, nil
}

// CategorizePhoto assigns a category to a single vehicle photo.
func (p *Provider) CategorizePhoto(ctx context.Context, params ai.CategorizePhotoParams) (*ai.CategorizationResult, error) {
	startTime := time.Now()

	if err := validateImage(params.ImageData, params.ContentType); err != nil {
		return nil, ai.WrapError("categorize photo", err)
	}

	reqBody := apiRequest{
		Model:     p.config.Model,
		MaxTokens: 256,
		Messages: []apiMessage{
			{
				Role: "user",
				Content: []apiContent{
					imageContent(params.ImageData, params.ContentType),
					{Type: "text", Text: buildCategorizationPrompt()},
				},
			},
		},
	}

	resp, err := p.execute(ctx, reqBody)
	if err != nil {
		metrics.AIAPICalls.WithLabelValues("error").Inc()
		return nil, ai.WrapError("categorize photo", err)
	}
	metrics.AIAPICalls.WithLabelValues("success").Inc()

	var output categorizationOutput
	if err := parseTextJSON(resp, &output); err != nil {
		return nil, ai.WrapError("parse categorization", err)
	}

	result := &ai.CategorizationResult{
		Category:   output.Category,
		Confidence: ai.Confidence(output.Confidence),
		Usage:      p.usageInfo(resp, time.Since(startTime)),
	}
	if !result.Confidence.Valid() {
		result.Confidence = ai.ConfidenceMedium
	}
	if !result.Category.IsValid() {
		return nil, ai.WrapError("categorize photo", fmt.Errorf("model returned unknown category %q", output.Category))
	}

	p.trackUsage(ctx, params.InspectionID, result.Usage, "categorize_photo")
	return result, nil
}

// AnalyzeChunk analyzes one category-bounded group of vehicle photos.
func (p *Provider) AnalyzeChunk(ctx context.Context, params ai.AnalyzeChunkParams) (*ai.ChunkAnalysisResult, error) {
	startTime := time.Now()

	if len(params.Images) == 0 {
		return nil, ai.WrapError("analyze chunk", fmt.Errorf("%w: chunk has no images", ai.EAIInvalidImage))
	}

	content := make([]apiContent, 0, len(params.Images)+1)
	for _, image := range params.Images {
		if err := validateImage(image.ImageData, image.ContentType); err != nil {
			return nil, ai.WrapError("analyze chunk", fmt.Errorf("photo %s: %w", image.PhotoID, err))
		}
		content = append(content, imageContent(image.ImageData, image.ContentType))
	}
	content = append(content, apiContent{Type: "text", Text: buildChunkAnalysisPrompt(params)})

	reqBody := apiRequest{
		Model:     p.config.Model,
		MaxTokens: 4096,
		Messages: []apiMessage{
			{Role: "user", Content: content},
		},
	}

	resp, err := p.execute(ctx, reqBody)
	if err != nil {
		metrics.AIAPICalls.WithLabelValues("error").Inc()
		return nil, ai.WrapError("analyze chunk", err)
	}
	metrics.AIAPICalls.WithLabelValues("success").Inc()

	var output chunkOutput
	if err := parseTextJSON(resp, &output); err != nil {
		return nil, ai.WrapError("parse analysis", err)
	}

	result := &ai.ChunkAnalysisResult{
		Findings:          make([]ai.Finding, 0, len(output.Findings)),
		Summary:           output.Summary,
		ImageQualityNotes: output.ImageQualityNotes,
		Usage:             p.usageInfo(resp, time.Since(startTime)),
	}
	for _, f := range output.Findings {
		finding := ai.Finding{
			Description: f.Description,
			Component:   f.Component,
			Confidence:  ai.Confidence(f.Confidence),
			Severity:    ai.Severity(f.Severity),
			RepairHint:  f.RepairHint,
		}
		if !finding.Confidence.Valid() {
			finding.Confidence = ai.ConfidenceMedium
		}
		if !finding.Severity.Valid() {
			finding.Severity = ai.SeverityMinor
		}
		result.Findings = append(result.Findings, finding)
	}

	p.trackUsage(ctx, params.InspectionID, result.Usage, "analyze_chunk")
	return result, nil
}

// execute marshals the request, performs a single API call, and maps failures
// to the package's sentinel errors.
func (p *Provider) execute(ctx context.Context, reqBody apiRequest) (*apiResponse, error) {
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, APIBaseURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", APIVersion)

	resp, err := p.client.Do(req)
	if err != nil {
		// Network errors are typically retryable
		return nil, ai.EAIUnavailable
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, mapHTTPError(resp.StatusCode, respBytes)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &apiResp, nil
}

// mapHTTPError maps HTTP status codes to domain errors.
func mapHTTPError(statusCode int, body []byte) error {
	var errResp apiErrorResponse
	_ = json.Unmarshal(body, &errResp)

	switch statusCode {
	case http.StatusUnauthorized:
		return ai.EAIUnauthorized
	case http.StatusTooManyRequests:
		return ai.EAIRateLimit
	case http.StatusRequestTimeout:
		return ai.EAITimeout
	case http.StatusBadRequest:
		if errResp.Error.Type == "invalid_request_error" {
			return ai.EAIInvalidImage
		}
		return fmt.Errorf("bad request: %s", errResp.Error.Message)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return ai.EAIUnavailable
	default:
		return fmt.Errorf("API error (status %d): %s", statusCode, errResp.Error.Message)
	}
}

func validateImage(data []byte, contentType string) error {
	if len(data) == 0 {
		return ai.EAIInvalidImage
	}
	if len(data) > MaxImageSize {
		return fmt.Errorf("%w: image size %d exceeds maximum %d", ai.EAIInvalidImage, len(data), MaxImageSize)
	}
	validTypes := map[string]bool{
		"image/jpeg": true,
		"image/png":  true,
		"image/gif":  true,
		"image/webp": true,
	}
	if !validTypes[contentType] {
		return fmt.Errorf("%w: unsupported content type %s", ai.EAIInvalidImage, contentType)
	}
	return nil
}

func imageContent(data []byte, contentType string) apiContent {
	return apiContent{
		Type: "image",
		Source: &apiImageSource{
			Type:      "base64",
			MediaType: contentType,
			Data:      base64.StdEncoding.EncodeToString(data),
		},
	}
}

// parseTextJSON extracts the first text block and unmarshals the JSON the
// prompt demanded.
func parseTextJSON(resp *apiResponse, out interface{}) error {
	var textContent string
	for _, content := range resp.Content {
		if content.Type == "text" {
			textContent = content.Text
			break
		}
	}
	if textContent == "" {
		return fmt.Errorf("no text content in response")
	}
	if err := json.Unmarshal([]byte(textContent), out); err != nil {
		return fmt.Errorf("parse model output: %w", err)
	}
	return nil
}

func (p *Provider) usageInfo(resp *apiResponse, duration time.Duration) ai.UsageInfo {
	return ai.UsageInfo{
		Model:        p.config.Model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		CostCents:    calculateCost(resp.Usage.InputTokens, resp.Usage.OutputTokens),
		Duration:     duration,
	}
}

// calculateCost calculates the cost in cents for the given token usage.
func calculateCost(inputTokens, outputTokens int) int {
	inputCost := (inputTokens * PricingInputCents) / 1_000_000
	outputCost := (outputTokens * PricingOutputCents) / 1_000_000
	return inputCost + outputCost
}

// trackUsage records AI usage in the database. Failures are logged, never
// propagated; accounting must not break the pipeline.
func (p *Provider) trackUsage(ctx context.Context, inspectionID uuid.UUID, usage ai.UsageInfo, requestType string) {
	metrics.AITokensTotal.WithLabelValues("input").Add(float64(usage.InputTokens))
	metrics.AITokensTotal.WithLabelValues("output").Add(float64(usage.OutputTokens))
	metrics.AICostCentsTotal.Add(float64(usage.CostCents))

	_, err := p.queries.CreateAIUsage(ctx, repository.CreateAIUsageParams{
		InspectionID: uuid.NullUUID{
			UUID:  inspectionID,
			Valid: inspectionID != uuid.Nil,
		},
		Model:        usage.Model,
		InputTokens:  int32(usage.InputTokens),
		OutputTokens: int32(usage.OutputTokens),
		CostCents:    int32(usage.CostCents),
		RequestType:  requestType,
	})
	if err != nil {
		p.logger.Error("Failed to track AI usage", "error", err)
	}
}

// API request/response types

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string       `json:"role"`
	Content []apiContent `json:"content"`
}

type apiContent struct {
	Type   string          `json:"type"`
	Text   string          `json:"text,omitempty"`
	Source *apiImageSource `json:"source,omitempty"`
}

type apiImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type apiResponse struct {
	ID      string             `json:"id"`
	Type    string             `json:"type"`
	Role    string             `json:"role"`
	Content []apiContentOutput `json:"content"`
	Model   string             `json:"model"`
	Usage   apiUsage           `json:"usage"`
}

type apiContentOutput struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type apiErrorResponse struct {
	Type  string   `json:"type"`
	Error apiError `json:"error"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// categorizationOutput represents the JSON structure returned by Claude for
// a categorization request.
type categorizationOutput struct {
	Category   domain.PhotoCategory `json:"category"`
	Confidence string               `json:"confidence"`
}

// chunkOutput represents the JSON structure returned by Claude for a chunk
// analysis request.
type chunkOutput struct {
	Findings          []outputFinding `json:"findings"`
	Summary           string          `json:"summary"`
	ImageQualityNotes string          `json:"image_quality_notes"`
}

type outputFinding struct {
	Description string `json:"description"`
	Component   string `json:"component"`
	Confidence  string `json:"confidence"`
	Severity    string `json:"severity"`
	RepairHint  string `json:"repair_hint"`
}
