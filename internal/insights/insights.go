// Package insights turns monthly statistics into short advice lines using a
// generative model, with a fixed fallback when the model is unavailable.
package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"costrologer/internal/core"

	"google.golang.org/genai"
)

// DefaultModelName is the Gemini model used when none is configured.
const DefaultModelName = "gemini-2.0-flash"

// Summarizer produces insight lines for one month of statistics.
type Summarizer interface {
	Summarize(ctx context.Context, stats core.MonthlyStats, period string) ([]string, error)
}

// FallbackInsights are returned when generation fails.
var FallbackInsights = []string{
	"Your highest expense category this month might need attention.",
	"Consider setting up a budget for better financial management.",
	"Track your recurring expenses to identify potential savings.",
}

// Static always returns FallbackInsights. It is used when no model is configured.
type Static struct{}

func (Static) Summarize(context.Context, core.MonthlyStats, string) ([]string, error) {
	return append([]string(nil), FallbackInsights...), nil
}

// GeminiSummarizer asks a Gemini model for three insights.
type GeminiSummarizer struct {
	models *genai.Models
	model  string
}

// NewGeminiSummarizer creates a client for the Gemini API. apiKey may be empty
// when GOOGLE_API_KEY or GEMINI_API_KEY is set in the environment.
func NewGeminiSummarizer(ctx context.Context, apiKey, model string) (*GeminiSummarizer, error) {
	if model == "" {
		model = DefaultModelName
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiSummarizer{models: client.Models, model: model}, nil
}

func (g *GeminiSummarizer) Summarize(ctx context.Context, stats core.MonthlyStats, period string) ([]string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(Prompt(stats, period), genai.RoleUser),
	}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return nil, errors.New("empty response from model")
	}
	return ParseInsights(rawText)
}

// Prompt builds the instruction sent to the model.
func Prompt(stats core.MonthlyStats, period string) string {
	categories := make([]string, 0, len(stats.ByCategory))
	for _, c := range stats.Categories() {
		categories = append(categories, fmt.Sprintf("%s: %s", c.Name, c.Amount))
	}

	var b strings.Builder
	b.WriteString("Analyze this financial data and provide 3 concise, actionable insights.\n")
	b.WriteString("Focus on spending patterns and practical advice.\n")
	b.WriteString("Keep it friendly and conversational.\n\n")
	fmt.Fprintf(&b, "Financial Data for %s:\n", period)
	fmt.Fprintf(&b, "- Total Income: %s\n", stats.TotalIncome)
	fmt.Fprintf(&b, "- Total Expenses: %s\n", stats.TotalExpenses)
	fmt.Fprintf(&b, "- Net Income: %s\n", stats.NetIncome())
	fmt.Fprintf(&b, "- Expense Categories: %s\n\n", strings.Join(categories, ", "))
	b.WriteString("Format the response as a JSON array of strings, like this:\n")
	b.WriteString(`["insight 1", "insight 2", "insight 3"]`)
	return b.String()
}

// ParseInsights decodes a JSON array of strings from model output, tolerating
// Markdown fences and surrounding prose.
func ParseInsights(raw string) ([]string, error) {
	var out []string
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &out); err != nil {
		return nil, fmt.Errorf("unmarshal insights: %w", err)
	}
	if len(out) == 0 {
		return nil, errors.New("model returned no insights")
	}
	return out, nil
}

func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// ```json ... ``` or ``` ... ```
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "["); start != -1 {
		if end := strings.LastIndex(s, "]"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}

// Fallback wraps s in WithFallback unless it already is one.
func Fallback(s Summarizer) Summarizer {
	if w, ok := s.(WithFallback); ok {
		return w
	}
	return WithFallback{Next: s}
}

// WithFallback wraps a Summarizer so that any failure yields FallbackInsights.
type WithFallback struct {
	Next Summarizer
}

func (w WithFallback) Summarize(ctx context.Context, stats core.MonthlyStats, period string) ([]string, error) {
	if w.Next == nil {
		return Static{}.Summarize(ctx, stats, period)
	}
	out, err := w.Next.Summarize(ctx, stats, period)
	if err != nil {
		slog.WarnContext(ctx, "Insight generation failed, using fallback",
			"period", period,
			"error", err)
		return Static{}.Summarize(ctx, stats, period)
	}
	return out, nil
}
