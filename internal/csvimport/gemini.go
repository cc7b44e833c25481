package csvimport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultModelName is used when no Gemini model is configured.
const DefaultModelName = "gemini-2.5-flash"

// Generator produces a text completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GenaiGenerator calls Gemini through the genai SDK.
type GenaiGenerator struct {
	client *genai.Client
	model  string
}

// NewGenaiGenerator creates a Gemini client authenticated with apiKey.
func NewGenaiGenerator(ctx context.Context, apiKey, model string) (*GenaiGenerator, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
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
	return &GenaiGenerator{client: client, model: model}, nil
}

func (g *GenaiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		{Role: "user", Parts: []*genai.Part{{Text: prompt}}},
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return resp.Text(), nil
}

// GeminiMapper asks a language model to identify the columns of an
// unfamiliar CSV layout.
type GeminiMapper struct {
	gen Generator
}

func NewGeminiMapper(gen Generator) *GeminiMapper {
	return &GeminiMapper{gen: gen}
}

const mappingPrompt = "You map columns of a bank transaction CSV export.\n\n" +
	"Given the header row and sample rows below, return the zero-based index of each column:\n" +
	"- \"date\": the transaction date\n" +
	"- \"description\": the merchant or narrative text\n" +
	"- \"amount\": a single signed amount column, or -1\n" +
	"- \"debit\": a money-out column, or -1\n" +
	"- \"credit\": a money-in column, or -1\n\n" +
	"Use -1 for any column that is not present.\n" +
	"Return ONLY a raw JSON object such as {\"date\":0,\"description\":1,\"amount\":2,\"debit\":-1,\"credit\":-1}.\n" +
	"Do NOT wrap the response in code fences.\n\n"

func buildMappingPrompt(headers []string, sample [][]string) string {
	var b strings.Builder
	b.WriteString(mappingPrompt)
	b.WriteString("Headers:\n")
	for i, h := range headers {
		fmt.Fprintf(&b, "%d: %s\n", i, h)
	}
	b.WriteString("\nSample rows:\n")
	for _, row := range sample {
		b.WriteString(strings.Join(row, " | "))
		b.WriteByte('\n')
	}
	return b.String()
}

func (g *GeminiMapper) Map(ctx context.Context, headers []string, sample [][]string) (ColumnMapping, error) {
	raw, err := g.gen.Generate(ctx, buildMappingPrompt(headers, sample))
	if err != nil {
		return NoMapping(), fmt.Errorf("gemini mapping: %w", err)
	}
	if strings.TrimSpace(raw) == "" {
		return NoMapping(), errors.New("gemini mapping: empty response from model")
	}

	m := NoMapping()
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &m); err != nil {
		return NoMapping(), fmt.Errorf("gemini mapping: unmarshal JSON: %w", err)
	}
	if !m.Valid() || !m.within(len(headers)) {
		return NoMapping(), fmt.Errorf("gemini mapping: model returned unusable mapping %+v", m)
	}
	return m, nil
}

// cleanModelJSON strips Markdown fences and any text around the JSON object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return strings.TrimSpace(s)
}
