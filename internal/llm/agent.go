package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"unicode"

	"github.com/MeKo-Tech/shelfscan/internal/common"
)

// Metadata is the structured reading of a spine. Unknown fields are nil.
type Metadata struct {
	Title      *string `json:"title"`
	Author     *string `json:"author"`
	Collection *string `json:"collection"`
}

// Verdict is the model's opinion on whether an OCR reading and a catalogue
// entry describe the same book.
type Verdict string

const (
	Yes     Verdict = "yes"
	No      Verdict = "no"
	Unknown Verdict = "unknown"
)

// TextOutcome is the result of Correct.
type TextOutcome struct {
	Text    string
	Outcome common.Outcome
}

// MetadataOutcome is the result of Extract.
type MetadataOutcome struct {
	Metadata Metadata
	Outcome  common.Outcome
}

// VerdictOutcome is the result of Validate.
type VerdictOutcome struct {
	Verdict Verdict
	Outcome common.Outcome
}

// Agent runs the three language-model tasks of the pipeline. None of its
// methods return an error: failures become a safe default and a non-success
// outcome.
type Agent struct {
	llm    Completer
	logger *slog.Logger
}

// NewAgent creates an agent. A nil logger uses slog.Default.
func NewAgent(c Completer, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{llm: c, logger: logger}
}

// Correct fixes OCR character and accent errors in text.
func (a *Agent) Correct(ctx context.Context, text string) TextOutcome {
	if strings.TrimSpace(text) == "" {
		return TextOutcome{Text: "", Outcome: common.Skipped}
	}
	out, err := a.llm.Complete(ctx, Prompt{
		Text:        correctionPrompt(text),
		MaxTokens:   correctMaxTokens,
		Temperature: agentTemperature,
	})
	out = strings.TrimSpace(out)
	if err != nil || out == "" {
		a.logger.Warn("correction failed, keeping OCR text", "stage", "correct", "error", errString(err, out))
		return TextOutcome{Text: text, Outcome: common.Degraded}
	}
	return TextOutcome{Text: out, Outcome: common.Success}
}

// Extract asks for title, author and collection as strict JSON. On any
// failure the whole input becomes the title.
func (a *Agent) Extract(ctx context.Context, text string) MetadataOutcome {
	if strings.TrimSpace(text) == "" {
		return MetadataOutcome{Outcome: common.Skipped}
	}
	fallback := MetadataOutcome{Metadata: Metadata{Title: nonEmpty(text)}, Outcome: common.Degraded}

	out, err := a.llm.Complete(ctx, Prompt{
		Text:        extractionPrompt(text),
		MaxTokens:   extractMaxTokens,
		Temperature: agentTemperature,
	})
	if err != nil {
		a.logger.Warn("metadata extraction failed", "stage", "extract", "error", err)
		return fallback
	}
	md, err := ParseMetadata(out)
	if err != nil {
		a.logger.Warn("metadata reply is not valid JSON", "stage", "extract", "error", err)
		return fallback
	}
	return MetadataOutcome{Metadata: md, Outcome: common.Success}
}

// Validate asks whether the OCR text matches the catalogue title and authors.
func (a *Agent) Validate(ctx context.Context, ocrText, title string, authors []string) VerdictOutcome {
	out, err := a.llm.Complete(ctx, Prompt{
		Text:        validationPrompt(ocrText, title, authors),
		MaxTokens:   validateMaxTokens,
		Temperature: agentTemperature,
	})
	if err != nil {
		a.logger.Warn("validation failed", "stage", "validate", "error", err)
		return VerdictOutcome{Verdict: Unknown, Outcome: common.Failed}
	}
	v := ParseVerdict(out)
	if v == Unknown {
		a.logger.Warn("validation reply not understood", "stage", "validate", "reply", out)
		return VerdictOutcome{Verdict: Unknown, Outcome: common.Degraded}
	}
	return VerdictOutcome{Verdict: v, Outcome: common.Success}
}

// ParseMetadata decodes a JSON object, optionally wrapped in a Markdown code
// fence. Missing keys and empty strings become nil. The French keys "titre"
// and "auteur" are accepted as aliases.
func ParseMetadata(reply string) (Metadata, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(stripCodeFence(reply)), &raw); err != nil {
		return Metadata{}, err
	}
	field := func(keys ...string) *string {
		for _, k := range keys {
			if s, ok := raw[k].(string); ok {
				if p := nonEmpty(s); p != nil {
					return p
				}
			}
		}
		return nil
	}
	return Metadata{
		Title:      field("title", "titre"),
		Author:     field("author", "auteur"),
		Collection: field("collection"),
	}, nil
}

// ParseVerdict maps a free-text reply onto a verdict by its first whole
// word, hyphenated compounds included. Anything other than oui/yes or
// non/no is Unknown.
func ParseVerdict(reply string) Verdict {
	words := strings.FieldsFunc(strings.ToLower(reply), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '-'
	})
	first := ""
	for _, w := range words {
		if w = strings.Trim(w, "-"); w != "" {
			first = w
			break
		}
	}
	switch first {
	case "oui", "yes":
		return Yes
	case "non", "no":
		return No
	default:
		return Unknown
	}
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

func nonEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func errString(err error, out string) string {
	if err != nil {
		return err.Error()
	}
	if out == "" {
		return ErrNoCompletion.Error()
	}
	return ""
}
