package mock

import (
	"context"
	"log/slog"
	"time"

	"github.com/hartfield/camber/internal/ai"
	"github.com/hartfield/camber/internal/domain"
)

// Provider is a mock AI provider for testing and development
type Provider struct {
	logger *slog.Logger

	// Configurable responses for testing
	CategorizePhotoResponse *ai.CategorizationResult
	CategorizePhotoError    error
	AnalyzeChunkResponse    *ai.ChunkAnalysisResult
	AnalyzeChunkError       error

	// Call tracking for testing
	CategorizePhotoCalls int
	AnalyzeChunkCalls    int
}

// New creates a new mock AI provider
func New(logger *slog.Logger) *Provider {
	return &Provider{
		logger: logger,
	}
}

// CategorizePhoto returns a canned categorization
func (p *Provider) CategorizePhoto(ctx context.Context, params ai.CategorizePhotoParams) (*ai.CategorizationResult, error) {
	p.CategorizePhotoCalls++

	if p.CategorizePhotoError != nil {
		return nil, p.CategorizePhotoError
	}
	if p.CategorizePhotoResponse != nil {
		return p.CategorizePhotoResponse, nil
	}

	return &ai.CategorizationResult{
		Category:   domain.CategoryExterior,
		Confidence: ai.ConfidenceHigh,
		Usage: ai.UsageInfo{
			Model:        "mock-ai-v1",
			InputTokens:  800,
			OutputTokens: 20,
			CostCents:    1,
			Duration:     50 * time.Millisecond,
		},
	}, nil
}

// AnalyzeChunk returns a canned response with sample findings
func (p *Provider) AnalyzeChunk(ctx context.Context, params ai.AnalyzeChunkParams) (*ai.ChunkAnalysisResult, error) {
	p.AnalyzeChunkCalls++

	if p.AnalyzeChunkError != nil {
		return nil, p.AnalyzeChunkError
	}
	if p.AnalyzeChunkResponse != nil {
		return p.AnalyzeChunkResponse, nil
	}

	// Default canned response
	return &ai.ChunkAnalysisResult{
		Findings: []ai.Finding{
			{
				Description: "Surface rust forming along the bottom edge of the driver-side rocker panel",
				Component:   "Driver-side rocker panel",
				Confidence:  ai.ConfidenceHigh,
				Severity:    ai.SeverityMajor,
				RepairHint:  "Sand, treat, and repaint before perforation; inspect from underneath",
			},
			{
				Description: "Clear coat peeling on the rear bumper cover with color mismatch against the quarter panel",
				Component:   "Rear bumper cover",
				Confidence:  ai.ConfidenceMedium,
				Severity:    ai.SeverityCosmetic,
				RepairHint:  "Respray bumper cover; likely evidence of a previous repair",
			},
			{
				Description: "Uneven tire wear on the front axle suggesting alignment issues",
				Component:   "Front tires",
				Confidence:  ai.ConfidenceMedium,
				Severity:    ai.SeverityMinor,
				RepairHint:  "Four-wheel alignment plus tire rotation",
			},
		},
		Summary:           "Overall solid example with age-appropriate wear. The rocker panel rust is the main negotiation point and should be inspected in person before purchase.",
		ImageQualityNotes: "Image quality is good with clear visibility. Adequate lighting and resolution for condition analysis.",
		Usage: ai.UsageInfo{
			Model:        "mock-ai-v1",
			InputTokens:  1250,
			OutputTokens: 850,
			CostCents:    5,
			Duration:     250 * time.Millisecond,
		},
	}, nil
}

// Reset clears call counters and custom responses for testing
func (p *Provider) Reset() {
	p.CategorizePhotoCalls = 0
	p.AnalyzeChunkCalls = 0
	p.CategorizePhotoResponse = nil
	p.CategorizePhotoError = nil
	p.AnalyzeChunkResponse = nil
	p.AnalyzeChunkError = nil
}
