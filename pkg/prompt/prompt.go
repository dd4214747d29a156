// Package prompt assembles the instruction text sent to the generation API.
// Output depends only on the inputs, so identical inputs always give identical prompts.
package prompt

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/prompts"

	"github.com/Sriram-PR/alt-text-gen/pkg/config"
	"github.com/Sriram-PR/alt-text-gen/pkg/models"
	"github.com/Sriram-PR/alt-text-gen/pkg/utils"
)

// SystemPrompt is the system message of every generation request
const SystemPrompt = "You write short, descriptive, accessible image ALT text."

// ReviewSystemPrompt is the system message of every review request
const ReviewSystemPrompt = "You audit image ALT text for accessibility quality and reply with JSON only."

var baseTemplate = prompts.PromptTemplate{
	Template: "Write concise, descriptive ALT text in {{.language}} for an image. " +
		"Limit to {{.max_words}} words. Tone: {{.tone}}. " +
		"Describe only what is visible; do not guess at intent or add information that is not shown. " +
		"Avoid phrases like 'image of' or 'photo of' and never use placeholder words such as 'image', 'photo', 'picture', 'untitled' or 'sample'. " +
		"Prefer proper nouns if present. Return only the ALT text.",
	InputVariables: []string{"language", "tone", "max_words"},
	TemplateFormat: prompts.TemplateFormatGoTemplate,
}

var reviewTemplate = prompts.PromptTemplate{
	Template: "Evaluate the following ALT text for the attached image (or, without an image, for the context given). " +
		"Judge accuracy, specificity, length (target at most {{.max_words}} words) and whether it avoids filler such as 'image of'. " +
		"Respond with a JSON object only, no prose, using exactly these keys: " +
		`{"score": integer 0-100, "verdict": one of "excellent", "good", "needs review", "poor", ` +
		`"summary": one sentence, "issues": array of short strings}.` +
		"\nALT text: {{.alt}}",
	InputVariables: []string{"max_words", "alt"},
	TemplateFormat: prompts.TemplateFormatGoTemplate,
}

// Input carries everything the builder may use
type Input struct {
	Asset       *models.ImageAsset
	Config      config.GenerationConfig
	ExistingAlt string
	IsRetry     bool
	Feedback    []string
}

// Build assembles the user prompt: custom prefix, base instruction, context facts and,
// on retry only, reviewer feedback with each line reduced to plain text.
func Build(in Input) (string, error) {
	maxWords := in.Config.MaxWords
	if maxWords < config.MinMaxWords {
		maxWords = config.MinMaxWords
	}
	language := orDefault(in.Config.Language, config.DefaultLanguage)
	tone := orDefault(in.Config.Tone, config.DefaultTone)

	base, err := baseTemplate.Format(map[string]any{
		"language":  language,
		"tone":      tone,
		"max_words": maxWords,
	})
	if err != nil {
		return "", fmt.Errorf("rendering base instruction: %w", err)
	}

	var b strings.Builder
	if prefix := strings.TrimSpace(in.Config.CustomPrompt); prefix != "" {
		b.WriteString(prefix)
		b.WriteString("\n\n")
	}
	b.WriteString(base)
	b.WriteString("\n")

	if in.Asset != nil {
		writeFact(&b, "Filename", in.Asset.DisplayFilename())
		writeFact(&b, "Title", in.Asset.Title)
		writeFact(&b, "Caption", in.Asset.Caption)
		writeFact(&b, "Parent", in.Asset.ParentTitle)
	}
	writeFact(&b, "Existing alt text", in.ExistingAlt)

	if in.IsRetry {
		var lines []string
		for _, f := range in.Feedback {
			if line := utils.SanitizePlainText(f); line != "" {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			b.WriteString("\nReviewer feedback on the previous attempt (address every point):\n")
			for _, line := range lines {
				b.WriteString("- ")
				b.WriteString(line)
				b.WriteString("\n")
			}
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// BuildReview renders the review instruction for a candidate alt text
func BuildReview(asset *models.ImageAsset, cfg config.GenerationConfig, altText string) (string, error) {
	maxWords := cfg.MaxWords
	if maxWords < config.MinMaxWords {
		maxWords = config.DefaultMaxWords
	}
	text, err := reviewTemplate.Format(map[string]any{
		"max_words": maxWords,
		"alt":       utils.SanitizePlainText(altText),
	})
	if err != nil {
		return "", fmt.Errorf("rendering review instruction: %w", err)
	}

	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n")
	if asset != nil {
		writeFact(&b, "Filename", asset.DisplayFilename())
		writeFact(&b, "Title", asset.Title)
		writeFact(&b, "Caption", asset.Caption)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func writeFact(b *strings.Builder, label, value string) {
	value = utils.SanitizePlainText(value)
	if value == "" {
		return
	}
	b.WriteString(label)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\n")
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}
