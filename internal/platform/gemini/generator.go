package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/phrazzld/contentq/internal/backoff"
	"github.com/phrazzld/contentq/internal/config"
	"github.com/phrazzld/contentq/internal/generation"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = 2 * time.Second
	maxRetryDelay     = 30 * time.Second
)

const systemInstruction = "You are a professional content writer. Follow the brief exactly and never add commentary about the task."

// modelClient is the subset of *genai.Models the generator calls.
type modelClient interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Generator implements generation.Generator with the Gemini API.
type Generator struct {
	logger     *slog.Logger
	models     modelClient
	model      string
	prompts    *prompts
	maxRetries int
	baseDelay  time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

var _ generation.Generator = (*Generator)(nil)

// NewGenerator creates a Gemini-backed generator from configuration.
func NewGenerator(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*Generator, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrInvalidConfig, err)
	}
	return newGenerator(logger, client.Models, cfg)
}

func newGenerator(logger *slog.Logger, models modelClient, cfg config.LLMConfig) (*Generator, error) {
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}
	p, err := loadPrompts(cfg.PromptTemplatePath)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}
	baseDelay := time.Duration(cfg.BaseDelaySeconds * float64(time.Second))
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}

	return &Generator{
		logger:     logger.With("component", "gemini_generator", "model", cfg.ModelName),
		models:     models,
		model:      cfg.ModelName,
		prompts:    p,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		sleep:      sleepContext,
	}, nil
}

// Generate implements generation.Generator.
func (g *Generator) Generate(ctx context.Context, req generation.Request) (string, error) {
	prompt, err := g.prompts.render(req)
	if err != nil {
		return "", err
	}
	g.logger.DebugContext(ctx, "prompt rendered",
		"task_id", req.TaskID,
		"attempt", req.Attempt,
		"prompt_length", len(prompt))

	return g.callWithRetry(ctx, req.TaskID, prompt)
}

// callWithRetry calls the API up to maxRetries+1 times. Permanent errors
// are returned without retrying.
func (g *Generator) callWithRetry(ctx context.Context, taskID, prompt string) (string, error) {
	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: prompt}},
	}}
	genConfig := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemInstruction}}},
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoff.ExponentialJitter(g.baseDelay, maxRetryDelay, attempt)
			g.logger.InfoContext(ctx, "retrying Gemini call after delay",
				"task_id", taskID,
				"attempt", attempt+1,
				"delay", delay)
			if err := g.sleep(ctx, delay); err != nil {
				return "", fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
			}
		}

		resp, err := g.models.GenerateContent(ctx, g.model, contents, genConfig)
		if err != nil {
			if ctx.Err() != nil {
				return "", fmt.Errorf("%w: %v", generation.ErrTransientFailure, ctx.Err())
			}
			g.logger.WarnContext(ctx, "Gemini API call error",
				"task_id", taskID,
				"attempt", attempt+1,
				"error", err)
			lastErr = fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
			continue
		}

		text, err := extractText(resp)
		if err != nil {
			g.logger.WarnContext(ctx, "unusable Gemini response",
				"task_id", taskID,
				"attempt", attempt+1,
				"error", err)
			if errors.Is(err, generation.ErrContentBlocked) {
				return "", err
			}
			lastErr = err
			continue
		}

		g.logger.InfoContext(ctx, "Gemini API call successful",
			"task_id", taskID,
			"attempt", attempt+1,
			"length", len(text))
		return text, nil
	}

	return "", fmt.Errorf("exceeded maximum retry attempts (%d): %w", g.maxRetries, lastErr)
}

// extractText concatenates the text parts of the first candidate.
func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no content generated", generation.ErrInvalidResponse)
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w: content blocked by safety filters", generation.ErrContentBlocked)
	}
	if candidate.Content == nil {
		return "", fmt.Errorf("%w: empty content in response", generation.ErrInvalidResponse)
	}

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("%w: response has no text", generation.ErrInvalidResponse)
	}
	return text, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
