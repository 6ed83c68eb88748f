package ai

import (
	"bytes"
	_ "embed"
	"fmt"
	"text/template"
	"time"

	"github.com/cchalm/gtd-copilot/internal/suggestion"
)

//go:embed system_prompt.tmpl
var systemPromptTemplate string

type promptData struct {
	Language string
	Today    string
	Tools    []suggestion.ToolSpec
}

var languages = map[string]string{
	"de": "German",
	"en": "English",
}

// SystemPrompt renders the assistant's instructions for a locale
func SystemPrompt(locale string, now time.Time) (string, error) {
	tmpl, err := template.New("system").Parse(systemPromptTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse system prompt template: %w", err)
	}

	language, ok := languages[locale]
	if !ok {
		language = languages["de"]
	}
	data := promptData{
		Language: language,
		Today:    now.Format("Monday, 2006-01-02"),
		Tools:    suggestion.Tools(),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute system prompt template: %w", err)
	}
	return buf.String(), nil
}
