// Package evaluate runs a prompt battery against a model and scores relevance.
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/evanshlom/AwsAiProd/internal/domain"
	"github.com/evanshlom/AwsAiProd/internal/platform"
	"github.com/evanshlom/AwsAiProd/pkg/config"
)

const (
	maxTokens        = 200
	temperature      = 0.7
	maxResponseRunes = 200
	minKeywordHits   = 2
	defaultPassRatio = 0.8
)

// ErrInvalidRequest indicates the evaluation request names no model.
var ErrInvalidRequest = errors.New("evaluate: model id is required")

// DefaultPrompts is the battery used when a request carries none.
var DefaultPrompts = []string{
	"What events happen at Allegiant Stadium?",
	"Tell me about Vegas pool parties",
	"Plan a budget weekend trip",
}

// Request names the model and optional prompts.
type Request struct {
	ModelID string   `json:"modelId"`
	Prompts []string `json:"testPrompts,omitempty"`
}

// Service evaluates models.
type Service struct {
	models    platform.ModelInvoker
	logger    *slog.Logger
	keywords  []string
	passRatio float64
}

// New returns an evaluator using cfg.EvalKeywords and cfg.EvalPassRatio.
func New(models platform.ModelInvoker, logger *slog.Logger, cfg config.APIConfig) Service {
	keywords := make([]string, 0, len(cfg.EvalKeywords))
	for _, k := range cfg.EvalKeywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keywords = append(keywords, k)
		}
	}
	if len(keywords) == 0 {
		keywords = config.DefaultEvalKeywords
	}
	ratio := cfg.EvalPassRatio
	if ratio <= 0 || ratio > 1 {
		ratio = defaultPassRatio
	}
	return Service{models: models, logger: logger, keywords: keywords, passRatio: ratio}
}

// Evaluate invokes the model once per prompt. A failing prompt is recorded and the
// battery continues. The model passes when the relevant successful answers reach the
// pass ratio of all prompts.
func (s Service) Evaluate(ctx context.Context, req Request) (domain.EvaluationResult, error) {
	modelID := strings.TrimSpace(req.ModelID)
	if modelID == "" {
		return domain.EvaluationResult{}, ErrInvalidRequest
	}
	prompts := req.Prompts
	if len(prompts) == 0 {
		prompts = DefaultPrompts
	}

	results := make([]domain.PromptResult, 0, len(prompts))
	relevant := 0
	for _, prompt := range prompts {
		if err := ctx.Err(); err != nil {
			return domain.EvaluationResult{}, err
		}
		completion, err := s.models.Invoke(ctx, modelID, platform.InvokeRequest{
			Prompt:      prompt,
			MaxTokens:   maxTokens,
			Temperature: temperature,
		})
		if err != nil {
			s.logger.Warn("evaluation prompt failed", "model", modelID, "error", err)
			results = append(results, domain.PromptResult{
				Prompt: prompt,
				Status: domain.PromptError,
				Error:  err.Error(),
			})
			continue
		}
		isRelevant := s.keywordHits(completion) >= minKeywordHits
		if isRelevant {
			relevant++
		}
		response := truncate(completion, maxResponseRunes)
		results = append(results, domain.PromptResult{
			Prompt:   prompt,
			Response: &response,
			Relevant: isRelevant,
			Status:   domain.PromptSuccess,
		})
	}

	threshold := float64(len(prompts)) * s.passRatio
	result := domain.EvaluationResult{
		ModelID: modelID,
		Passed:  float64(relevant) >= threshold-1e-9,
		Score:   fmt.Sprintf("%d/%d", relevant, len(prompts)),
		Results: results,
	}
	s.logger.Info("model evaluated", "model", modelID, "score", result.Score, "required", s.PassThreshold(len(prompts)), "passed", result.Passed)
	return result, nil
}

// keywordHits counts distinct keywords present in text, case-insensitively.
func (s Service) keywordHits(text string) int {
	lower := strings.ToLower(text)
	hits := 0
	for _, k := range s.keywords {
		if strings.Contains(lower, k) {
			hits++
		}
	}
	return hits
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// PassThreshold reports the number of relevant answers needed out of n prompts.
func (s Service) PassThreshold(n int) int {
	return int(math.Ceil(float64(n)*s.passRatio - 1e-9))
}
