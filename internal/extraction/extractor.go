// Package extraction turns free-text customer messages into structured
// qualification facts.
//
// The Extractor collaborator is an LLM behind an interface; the
// Coordinator wraps it with attempt limiting, per-conversation text
// deduplication and the merge policy.
package extraction

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/outletmedia/leadpipe/internal/genai"
	"github.com/outletmedia/leadpipe/internal/models"
)

// Extractor returns a partial fact delta for one message, containing
// only fields it is confident changed. Empty fields mean "no change".
type Extractor interface {
	Extract(ctx context.Context, message string, current models.Facts) (models.Facts, error)
}

const extractorSystemPrompt = "You extract information from customer messages. " +
	"Return only valid JSON with ONLY new or changed fields. Never invent values."

const extractorPromptTemplate = `Analyze this customer message and extract any information provided:
Message: %q

Current info we already have: %s

Extract any NEW information (if mentioned):
- name
- businessType (restaurant, store, clinic, salon, etc)
- problem (pain point)
- goal
- budget (IMPORTANT: look for numbers with "mes", "mensual", "al mes", "por mes", "$". Examples: "500 al mes" = 500, "$1000 mensual" = 1000)
- email

Return ONLY a JSON object with any new/updated fields. Return {} when nothing new was mentioned.`

// GenAIExtractor implements Extractor on top of the OpenAI chat client.
type GenAIExtractor struct {
	client genai.ClientInterface
}

var _ Extractor = (*GenAIExtractor)(nil)

// NewGenAIExtractor creates an extractor backed by the GenAI client.
func NewGenAIExtractor(client genai.ClientInterface) *GenAIExtractor {
	return &GenAIExtractor{client: client}
}

// Extract prompts the model for a JSON fact delta and parses it.
// Malformed model output is reported as models.ErrExtractionFailed.
func (e *GenAIExtractor) Extract(ctx context.Context, message string, current models.Facts) (models.Facts, error) {
	currentJSON, err := json.Marshal(current)
	if err != nil {
		return models.Facts{}, fmt.Errorf("marshal current facts: %w", err)
	}

	userPrompt := fmt.Sprintf(extractorPromptTemplate, message, currentJSON)
	raw, err := e.client.GeneratePrompt(ctx, extractorSystemPrompt, userPrompt)
	if err != nil {
		return models.Facts{}, fmt.Errorf("extractor call failed: %w", err)
	}

	delta, err := ParseDelta(raw)
	if err != nil {
		slog.Warn("GenAIExtractor.Extract: unparseable model output", "error", err, "outputPreview", preview(raw))
		return models.Facts{}, fmt.Errorf("%w: %v", models.ErrExtractionFailed, err)
	}
	return delta, nil
}

// rawDelta tolerates the model returning budget as a number or a string
// like "$500" or "500 al mes".
type rawDelta struct {
	Name         string      `json:"name"`
	BusinessType string      `json:"businessType"`
	Problem      string      `json:"problem"`
	Goal         string      `json:"goal"`
	Budget       interface{} `json:"budget"`
	Email        string      `json:"email"`
}

var codeFence = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
var numberRun = regexp.MustCompile(`[0-9]+(?:\.[0-9]+)?`)

// ParseDelta parses the model's JSON output into a fact delta,
// stripping Markdown code fences and coercing budget values.
func ParseDelta(raw string) (models.Facts, error) {
	trimmed := strings.TrimSpace(raw)
	if m := codeFence.FindStringSubmatch(trimmed); m != nil {
		trimmed = strings.TrimSpace(m[1])
	}

	var parsed rawDelta
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return models.Facts{}, fmt.Errorf("invalid JSON delta: %w", err)
	}

	delta := models.Facts{
		Name:         strings.TrimSpace(parsed.Name),
		BusinessType: strings.TrimSpace(parsed.BusinessType),
		Problem:      strings.TrimSpace(parsed.Problem),
		Goal:         strings.TrimSpace(parsed.Goal),
		Email:        strings.TrimSpace(parsed.Email),
	}

	switch v := parsed.Budget.(type) {
	case nil:
	case float64:
		delta.Budget = v
	case string:
		if m := numberRun.FindString(v); m != "" {
			if parsed, err := strconv.ParseFloat(m, 64); err == nil {
				delta.Budget = parsed
			}
		}
	}
	return delta, nil
}

// NormalizeMessage canonicalizes message text for dedup hashing.
func NormalizeMessage(message string) string {
	return strings.ToLower(strings.TrimSpace(message))
}

// HashMessage returns the hex SHA-256 of the normalized message.
func HashMessage(message string) string {
	sum := sha256.Sum256([]byte(NormalizeMessage(message)))
	return hex.EncodeToString(sum[:])
}

func preview(s string) string {
	if len(s) > 80 {
		return s[:80]
	}
	return s
}
