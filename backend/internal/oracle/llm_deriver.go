package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"
	"matchmaker/backend/internal/domain"
	"matchmaker/backend/pkg/logger"
)

// Completer is the slice of the LLM adapter the deriver needs
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userMsg string) (string, error)
}

// LLMDeriver asks the LLM for trait scores and insights. Unusable model output
// falls back to the lexicon deriver so a refresh never fails on formatting alone.
type LLMDeriver struct {
	llm      Completer
	fallback Deriver
	logger   *zap.Logger
}

// NewLLMDeriver creates an LLM-backed deriver
func NewLLMDeriver(llm Completer) *LLMDeriver {
	return &LLMDeriver{
		llm:      llm,
		fallback: NewLexiconDeriver(),
		logger:   logger.Get(),
	}
}

type personaPayload struct {
	Traits   map[string]float64 `json:"traits"`
	Insights []string           `json:"insights"`
}

const personaSystemPrompt = `You build compatibility personas for a social matching app.
Read the user's reflections and respond with ONLY a JSON object:
{
  "traits": {"trait_name": score, ...},
  "insights": ["short observation", ...]
}

Guidelines:
- Score each of these traits between 0 and 1: %s
- You may add up to 4 extra traits when the reflections clearly show them (snake_case names)
- Give 2-5 insights, each under 15 words, written in the third person
- Do not invent facts that are not supported by the reflections`

// DerivePersona implements Deriver
func (d *LLMDeriver) DerivePersona(ctx context.Context, userID string, responses []domain.ResponseRecord) (*domain.Persona, error) {
	var b strings.Builder
	for i, r := range responses {
		if r.Prompt != "" {
			fmt.Fprintf(&b, "%d. Q: %s\n   A: %s\n", i+1, r.Prompt, r.Content)
			continue
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, r.Content)
	}

	systemPrompt := fmt.Sprintf(personaSystemPrompt, strings.Join(Vocabulary, ", "))
	content, err := d.llm.CompleteJSON(ctx, systemPrompt, b.String())
	if err != nil {
		return nil, fmt.Errorf("persona derivation request failed: %w", err)
	}

	payload, err := parsePersonaPayload(content)
	if err != nil {
		d.logger.Warn("Unusable persona payload, using lexicon fallback",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return d.fallback.DerivePersona(ctx, userID, responses)
	}

	return &domain.Persona{
		UserID:   userID,
		Traits:   payload.Traits,
		Insights: payload.Insights,
	}, nil
}

// parsePersonaPayload extracts the JSON object from model output, normalises
// trait names and drops non-finite scores
func parsePersonaPayload(content string) (*personaPayload, error) {
	jsonStr := strings.TrimSpace(content)
	// Find JSON object boundaries (handles markdown code fences)
	if start := strings.Index(jsonStr, "{"); start != -1 {
		if end := strings.LastIndex(jsonStr, "}"); end != -1 && end > start {
			jsonStr = jsonStr[start : end+1]
		}
	}

	var raw personaPayload
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse persona payload: %w", err)
	}

	// Some models answer on a 0-100 scale
	scale := 1.0
	for _, v := range raw.Traits {
		if v > 1 {
			scale = 100
			break
		}
	}

	payload := &personaPayload{Traits: make(map[string]float64, len(raw.Traits))}
	for name, v := range raw.Traits {
		name = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
		if name == "" || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		payload.Traits[name] = clamp01(v / scale)
	}
	if len(payload.Traits) == 0 {
		return nil, fmt.Errorf("persona payload has no usable traits")
	}

	for _, insight := range raw.Insights {
		if insight = strings.TrimSpace(insight); insight != "" {
			payload.Insights = append(payload.Insights, insight)
		}
	}
	return payload, nil
}
