package transform

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/playperu/snapbooth/internal/booth"
)

// ParsePrompt compiles an outcome prompt. Prompts are Go templates over
// PromptData; unknown answer keys render empty.
func ParsePrompt(src string) (*template.Template, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("prompt is empty")
	}
	t, err := template.New("prompt").Option("missingkey=zero").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse prompt: %w", err)
	}
	return t, nil
}

// PromptData is what a prompt template sees.
type PromptData struct {
	Experience string
	// Answers maps step ids, and step names where set, to a display string.
	Answers map[string]string
	// Source is the URL of the captured photo the outcome is based on.
	Source string
}

// answerText flattens a response into something a prompt can embed.
func answerText(r booth.StepResponse) string {
	if s := r.Text(); s != "" {
		return s
	}
	if sel := r.Selections(); len(sel) > 0 {
		labels := make([]string, 0, len(sel))
		for _, s := range sel {
			labels = append(labels, s.Label)
		}
		return strings.Join(labels, ", ")
	}
	if media := r.Media(); len(media) > 0 {
		return media[0].URL
	}
	return ""
}

// BuildPromptData collects the answers of session for exp's outcome.
func BuildPromptData(exp *booth.Experience, session booth.Session) PromptData {
	d := PromptData{Experience: exp.Name, Answers: make(map[string]string)}
	names := make(map[string]string, len(exp.Steps))
	for _, s := range exp.Steps {
		if s.Name != "" {
			names[s.ID] = s.Name
		}
	}
	for _, r := range session.Responses {
		text := answerText(r)
		d.Answers[r.StepID] = text
		if name, ok := names[r.StepID]; ok {
			d.Answers[name] = text
		}
	}

	sourceID := ""
	if exp.Outcome != nil {
		sourceID = exp.Outcome.SourceStepID
	}
	for _, r := range session.Responses {
		if sourceID != "" && r.StepID != sourceID {
			continue
		}
		if media := r.Media(); len(media) > 0 {
			d.Source = media[0].URL
			break
		}
	}
	return d
}

func RenderPrompt(t *template.Template, data PromptData) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return strings.TrimSpace(b.String()), nil
}
