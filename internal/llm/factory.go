package llm

import (
	"math"
	"strings"

	"github.com/WilliamAGH/java-chat-sub001/internal/chunk"
	"github.com/WilliamAGH/java-chat-sub001/internal/config"
)

// Input-token budgets. GPT-5 and reasoning models take a much smaller
// context than the long-context chat models, so prompts are trimmed harder.
const (
	reasoningInputBudget = 7_000
	defaultInputBudget   = 100_000
)

const truncationNotice = "[Earlier context was truncated to fit the model's input limit.]\n"

// Request is one provider-ready completion request.
type Request struct {
	Model           string
	Prompt          string
	Temperature     float64
	OmitTemperature bool
	MaxOutputTokens int
	ReasoningEffort string
}

// Factory derives per-provider requests: normalized model id, input budget
// enforcement, and the GPT-5 parameter shape.
type Factory struct {
	enc chunk.Encoding
	cfg config.LLMConfig
}

func NewFactory(enc chunk.Encoding, cfg config.LLMConfig) *Factory {
	return &Factory{enc: enc, cfg: cfg}
}

// ModelFor returns the normalized model id configured for p.
func (f *Factory) ModelFor(p Provider) string {
	switch p {
	case ProviderGitHubModels:
		return normalizeModel(f.cfg.GitHubModel)
	case ProviderOpenAI:
		return normalizeModel(f.cfg.OpenAIModel)
	case ProviderLocal:
		return normalizeModel(f.cfg.LocalModel)
	default:
		return ""
	}
}

// Build shapes the request for one provider. Over-budget prompts keep their
// final tokens and gain a notice line, so the newest context always survives.
func (f *Factory) Build(p Provider, prompt string, temperature float64) Request {
	model := f.ModelFor(p)

	budget := defaultInputBudget
	if isGPT5Family(model) || isReasoningFamily(model) {
		budget = reasoningInputBudget
	}
	if chunk.CountTokens(f.enc, prompt) > budget {
		prompt = truncationNotice + chunk.KeepLastTokens(f.enc, prompt, budget)
	}

	req := Request{Model: model, Prompt: prompt}
	if isGPT5Family(model) {
		req.OmitTemperature = true
		req.MaxOutputTokens = f.cfg.MaxOutputTokens
		req.ReasoningEffort = f.cfg.ReasoningEffort
		return req
	}

	if math.IsNaN(temperature) || math.IsInf(temperature, 0) {
		req.OmitTemperature = true
	} else {
		req.Temperature = temperature
	}
	return req
}

func normalizeModel(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// baseModel strips a vendor prefix like "openai/" so family checks see the
// bare model id GitHub Models wraps.
func baseModel(id string) string {
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}

func isGPT5Family(id string) bool {
	return strings.HasPrefix(baseModel(id), "gpt-5")
}

// isReasoningFamily matches the o-series ids: o1, o3, o4-mini, and friends.
func isReasoningFamily(id string) bool {
	id = baseModel(id)
	return len(id) >= 2 && id[0] == 'o' && id[1] >= '1' && id[1] <= '9'
}
