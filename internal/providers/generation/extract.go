package generation

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/wujiajunhahah/dreamvision/internal/domain"
)

// artifactPaths is ordered by preference; the first non-empty http(s) URL wins.
var artifactPaths = []string{
	"downloadUrl",
	"download_url",
	"model_url",
	"model_urls.usdz",
	"model_urls.glb",
	"result.model_url",
	"result.url",
	"output.model_url",
	"output.url",
	"data.downloadUrl",
	"data.model_url",
	"url",
}

var (
	taskIDPaths  = []string{"taskId", "task_id", "id", "jobId", "job_id", "data.taskId", "data.task_id", "data.id"}
	statusPaths  = []string{"status", "state", "task_status", "data.status", "data.state"}
	formatPaths  = []string{"format", "data.format", "result.format", "output.format"}
	messagePaths = []string{"message", "error.message", "error", "error_message", "data.message", "data.error"}
)

func extractArtifact(doc map[string]any) (string, string) {
	for _, path := range artifactPaths {
		value := lookupString(doc, path)
		if value == "" {
			continue
		}
		parsed, err := url.Parse(value)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			continue
		}
		return value, path
	}
	return "", ""
}

// formatFromPath infers the format from keyed candidates like model_urls.usdz.
func formatFromPath(path string) string {
	if strings.HasPrefix(path, "model_urls.") {
		return strings.TrimPrefix(path, "model_urls.")
	}
	return ""
}

func lookupFirst(doc map[string]any, paths []string) string {
	for _, path := range paths {
		if value := lookupString(doc, path); value != "" {
			return value
		}
	}
	return ""
}

// lookupString walks a dotted path through nested objects. Numbers are
// rendered without exponent so numeric job ids survive.
func lookupString(doc map[string]any, path string) string {
	var current any = doc
	for _, key := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current, ok = obj[key]
		if !ok {
			return ""
		}
	}
	switch v := current.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// PromptFromAnalysis builds the text prompt sent alongside the structured
// analysis. Backends that ignore it still receive the analysis fields.
func PromptFromAnalysis(description string, analysis domain.Analysis) string {
	sb := &strings.Builder{}
	scene := firstNonEmpty(analysis.VisualDescription, description)
	sb.WriteString(scene)
	if len(analysis.Symbols) > 0 {
		fmt.Fprintf(sb, ". Key elements: %s", strings.Join(analysis.Symbols, ", "))
	}
	if len(analysis.Emotions) > 0 {
		fmt.Fprintf(sb, ". Mood: %s", strings.Join(analysis.Emotions, ", "))
	}
	if len(analysis.Keywords) > 0 {
		fmt.Fprintf(sb, ". Keywords: %s", strings.Join(analysis.Keywords, ", "))
	}
	sb.WriteString(". Dreamlike, single coherent object, suitable for AR viewing.")
	return sb.String()
}
