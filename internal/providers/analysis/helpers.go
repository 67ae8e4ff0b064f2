package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/wujiajunhahah/dreamvision/internal/domain"
)

const systemPrompt = "You are a dream analyst who only responds with valid JSON."

type modelAnalysisPayload struct {
	Keywords          []string `json:"keywords"`
	Emotions          []string `json:"emotions"`
	Symbols           []string `json:"symbols"`
	VisualDescription string   `json:"visualDescription"`
	VisualDesc        string   `json:"visual_description"`
	Interpretation    string   `json:"interpretation"`
}

func (p modelAnalysisPayload) toDomain() *domain.Analysis {
	return &domain.Analysis{
		Keywords:          normalizeKeywords(p.Keywords),
		Emotions:          normalizeKeywords(p.Emotions),
		Symbols:           normalizeKeywords(p.Symbols),
		VisualDescription: coalesce(p.VisualDescription, p.VisualDesc),
		Interpretation:    strings.TrimSpace(p.Interpretation),
	}
}

func buildAnalysisPrompt(text string) string {
	sb := &strings.Builder{}
	sb.WriteString("Analyze the following dream. Respond strictly with JSON matching this schema: ")
	sb.WriteString(`{"keywords":string[],"emotions":string[],"symbols":string[],"visualDescription":string,"interpretation":string}`)
	fmt.Fprintf(sb, ". visualDescription must describe a single scene suitable for a 3D model. Dream: %q", text)
	return sb.String()
}

// normalizeKeywords trims, drops empties and removes case-insensitive
// duplicates while keeping the first spelling.
func normalizeKeywords(keywords []string) []string {
	seen := make(map[string]struct{})
	result := []string{}
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		lower := strings.ToLower(kw)
		if _, ok := seen[lower]; ok {
			continue
		}
		seen[lower] = struct{}{}
		result = append(result, kw)
	}
	return result
}

func coalesce(values ...string) string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}

func parseModelPayload[T any](raw string) (T, error) {
	var zero T
	cleaned := extractJSONFragment(raw)
	if cleaned == "" {
		return zero, errors.New("empty payload")
	}
	var decoded T
	if err := json.Unmarshal([]byte(cleaned), &decoded); err != nil {
		return zero, err
	}
	return decoded, nil
}

func extractJSONFragment(raw string) string {
	text := trimCodeFence(strings.TrimSpace(raw))
	if text == "" {
		return ""
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return ""
	}
	return strings.TrimSpace(text[start : end+1])
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```JSON")
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
