// Package restyler regenerates page segments with the Gemini image model.
//
// Each call sends the optional style reference first, followed by a short
// "match this style" instruction, then the segment itself and the rendered
// per-segment instruction, as a single generation request.
package restyler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/page-restyle/internal/assets"
	"github.com/fpang/page-restyle/internal/auth"
	"github.com/fpang/page-restyle/internal/compositor"
	"github.com/fpang/page-restyle/internal/metrics"
	"github.com/fpang/page-restyle/internal/restyle"
)

// Generator is the subset of the genai Models service used here.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiRestyler implements restyle.Restyler on the Gemini API.
type GeminiRestyler struct {
	models Generator
	model  string
}

// New creates a GeminiRestyler. An empty model selects GetModelName().
func New(models Generator, model string) *GeminiRestyler {
	if model == "" {
		model = GetModelName()
	}
	return &GeminiRestyler{models: models, model: model}
}

// NewClient creates a Gemini API client for apiKey.
func NewClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return client, nil
}

// NewForKey creates a Gemini client for apiKey and wraps it in a restyler.
func NewForKey(ctx context.Context, apiKey, model string) (*GeminiRestyler, error) {
	client, err := NewClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return New(client.Models, model), nil
}

// Model returns the model ID used for generation.
func (r *GeminiRestyler) Model() string { return r.model }

// BuildContents assembles the request parts for call.
func BuildContents(call restyle.Call) []*genai.Content {
	var parts []*genai.Part
	if call.Reference != nil {
		parts = append(parts,
			genai.NewPartFromBytes(call.Reference.Data, call.Reference.MIMEType),
			genai.NewPartFromText(assets.StyleReferencePrompt),
		)
	}
	parts = append(parts,
		genai.NewPartFromBytes(call.Segment.Data, call.Segment.MIMEType),
		genai.NewPartFromText(BuildInstruction(call)),
	)
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

// BuildConfig returns the generation config for call.
func BuildConfig(call restyle.Call) *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		SystemInstruction:  genai.NewContentFromText(assets.RestyleSystemPrompt, genai.RoleUser),
		Temperature:        genai.Ptr(Temperature(call.Options, call.Reference != nil)),
		ResponseModalities: []string{string(genai.ModalityText), string(genai.ModalityImage)},
	}
}

// Restyle sends one segment to the model. It returns nil without an error
// when the model declines or returns no image; transport and API failures
// come back classified as *auth.ServiceError.
func (r *GeminiRestyler) Restyle(ctx context.Context, call restyle.Call) (*compositor.Image, error) {
	config := BuildConfig(call)
	logger := log.With().
		Str("model", r.model).
		Str("viewport", string(call.Viewport)).
		Int("index", call.Index).
		Int("total", call.Total).
		Logger()

	logger.Debug().
		Int("imageBytes", len(call.Segment.Data)).
		Bool("reference", call.Reference != nil).
		Float32("temperature", *config.Temperature).
		Msg("Starting Gemini API call for segment restyle")

	callStart := time.Now()
	resp, err := r.models.GenerateContent(ctx, r.model, BuildContents(call), config)
	duration := time.Since(callStart)

	m := metrics.New(metrics.Namespace).
		Dimension("Operation", "restyle").
		Since("GeminiApiLatencyMs", callStart).
		Count("GeminiApiCalls")
	if err != nil {
		svcErr := auth.ClassifyError(err)
		m.Count("GeminiApiErrors").Property("errorType", svcErr.Reason()).Flush()
		logger.Warn().Err(err).Dur("duration", duration).Str("reason", svcErr.Reason()).Msg("Gemini restyle call failed")
		return nil, svcErr
	}
	if resp != nil && resp.UsageMetadata != nil {
		m.Metric("GeminiInputTokens", float64(resp.UsageMetadata.PromptTokenCount), metrics.UnitCount).
			Metric("GeminiOutputTokens", float64(resp.UsageMetadata.CandidatesTokenCount), metrics.UnitCount)
	}
	m.Flush()

	img, finish, text := ExtractImage(resp)
	if img == nil {
		logger.Warn().
			Str("finishReason", string(finish)).
			Str("text", truncateString(text, 200)).
			Dur("duration", duration).
			Msg("Gemini returned no image")
		return nil, nil
	}

	logger.Info().
		Int("outputBytes", len(img.Data)).
		Str("outputMime", img.MIMEType).
		Dur("duration", duration).
		Msg("Gemini segment restyle complete")
	return img, nil
}

// ExtractImage pulls the first inline image out of a response. It returns
// nil when the response is empty, was stopped for safety, or carries only
// text. The finish reason and any text are returned for logging.
func ExtractImage(resp *genai.GenerateContentResponse) (*compositor.Image, genai.FinishReason, string) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, "", ""
	}
	var text string
	for _, cand := range resp.Candidates {
		if cand == nil {
			continue
		}
		switch cand.FinishReason {
		case genai.FinishReasonSafety, genai.FinishReasonImageSafety, genai.FinishReasonProhibitedContent:
			return nil, cand.FinishReason, text
		}
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil {
				continue
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				mime := part.InlineData.MIMEType
				if mime == "" {
					mime, _ = compositor.SniffMIME(part.InlineData.Data)
				}
				return &compositor.Image{Data: part.InlineData.Data, MIMEType: mime}, cand.FinishReason, text
			}
			text += part.Text
		}
	}
	var finish genai.FinishReason
	if resp.Candidates[0] != nil {
		finish = resp.Candidates[0].FinishReason
	}
	return nil, finish, text
}

// truncateString truncates a string to maxLen, appending "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
