package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hartfield/camber/internal/domain"
)

// AIProvider defines the interface for AI-powered vehicle photo analysis.
type AIProvider interface {
	// CategorizePhoto assigns a vehicle photo category to a single image.
	CategorizePhoto(ctx context.Context, params CategorizePhotoParams) (*CategorizationResult, error)

	// AnalyzeChunk analyzes one category-bounded group of photos for
	// condition findings.
	AnalyzeChunk(ctx context.Context, params AnalyzeChunkParams) (*ChunkAnalysisResult, error)
}

// CategorizePhotoParams contains parameters for photo categorization.
type CategorizePhotoParams struct {
	ImageData    []byte    // Raw image bytes
	ContentType  string    // MIME type (e.g., "image/jpeg")
	PhotoID      uuid.UUID // Photo ID for tracking
	InspectionID uuid.UUID // Inspection ID for usage tracking
}

// ChunkImage is one image within a chunk analysis request.
type ChunkImage struct {
	PhotoID     uuid.UUID
	ImageData   []byte
	ContentType string
}

// AnalyzeChunkParams contains parameters for chunk analysis.
type AnalyzeChunkParams struct {
	Category     domain.PhotoCategory // Category the chunk was planned under
	Images       []ChunkImage         // The chunk's members, planner order
	VIN          string               // Vehicle identification number
	Mileage      int32                // Odometer reading
	OBD2Codes    []string             // Diagnostic trouble codes, if submitted
	InspectionID uuid.UUID            // Inspection ID for usage tracking
}

// CategorizationResult is the outcome of a single-photo categorization call.
type CategorizationResult struct {
	Category   domain.PhotoCategory // Assigned category
	Confidence Confidence           // How confident the AI is
	Usage      UsageInfo            // Token usage and cost information
}

// ChunkAnalysisResult contains the condition assessment for one chunk.
type ChunkAnalysisResult struct {
	Findings          []Finding // Identified condition issues
	Summary           string    // Overall assessment for this photo group
	ImageQualityNotes string    // Notes about image quality/usability
	Usage             UsageInfo // Token usage and cost information
}

// Finding represents a single identified condition issue.
type Finding struct {
	Description string     // What the issue is
	Component   string     // Affected part of the vehicle (human-readable)
	PhotoIDs    []string   // Photos the issue is visible in
	Confidence  Confidence // How confident the AI is
	Severity    Severity   // Estimated severity level
	RepairHint  string     // Rough repair guidance, if any
}

// UsageInfo tracks API usage for billing and monitoring.
type UsageInfo struct {
	Model        string        // AI model used
	InputTokens  int           // Tokens in the request
	OutputTokens int           // Tokens in the response
	CostCents    int           // Estimated cost in cents
	Duration     time.Duration // Request duration
}

// Confidence levels for findings.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"   // 90%+ confident
	ConfidenceMedium Confidence = "medium" // 60-90% confident
	ConfidenceLow    Confidence = "low"    // 30-60% confident
)

// Valid checks if the confidence level is valid.
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	default:
		return false
	}
}

// Severity levels for condition findings.
type Severity string

const (
	SeverityCritical Severity = "critical" // Safety issue or imminent failure
	SeverityMajor    Severity = "major"    // Expensive repair or strong negotiation point
	SeverityMinor    Severity = "minor"    // Routine wear, cheap to address
	SeverityCosmetic Severity = "cosmetic" // Appearance only
)

// Valid checks if the severity level is valid.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityMajor, SeverityMinor, SeverityCosmetic:
		return true
	default:
		return false
	}
}

// ProviderConfig contains common configuration for AI providers.
type ProviderConfig struct {
	RequestTimeout time.Duration // Timeout for individual requests
}

// Error codes for AI provider operations
var (
	// EAIRateLimit indicates the API rate limit has been exceeded
	EAIRateLimit = errors.New("ai provider rate limit exceeded")

	// EAIInvalidImage indicates the image format or content is invalid
	EAIInvalidImage = errors.New("invalid image format or content")

	// EAIContentPolicy indicates the image violates content policy
	EAIContentPolicy = errors.New("image violates content policy")

	// EAITimeout indicates the request timed out
	EAITimeout = errors.New("ai request timed out")

	// EAIUnavailable indicates the AI service is temporarily unavailable
	EAIUnavailable = errors.New("ai service temporarily unavailable")

	// EAIUnauthorized indicates invalid API credentials
	EAIUnauthorized = errors.New("ai provider authentication failed")
)

// IsRetryable returns true if the error is a transient error that can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, EAIRateLimit) ||
		errors.Is(err, EAITimeout) ||
		errors.Is(err, EAIUnavailable)
}

// WrapError wraps an error with context about the AI operation.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("ai %s: %w", operation, err)
}
