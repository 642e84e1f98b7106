package assist

import (
	"fmt"
	"strings"
)

// Feature names one tool of the study assistant.
type Feature string

const (
	Summarize        Feature = "Summarize"
	Translate        Feature = "Translate"
	Questions        Feature = "Questions"
	Rewrite          Feature = "Rewrite"
	StudyGuide       Feature = "Study Guide"
	Proofread        Feature = "Proofread"
	Multimodal       Feature = "Multimodal"
	Writer           Feature = "Writer"
	CustomPrompt     Feature = "Custom Prompt"
	ComplexReasoning Feature = "Complex Reasoning"
	GenerateImage    Feature = "Generate Image"
	Transcribe       Feature = "Transcribe"
	LiveConversation Feature = "Live Conversation"
	ChatBot          Feature = "Chat Bot"
)

// Definition describes how a feature takes its input.
type Definition struct {
	ID          Feature
	Description string

	// NeedsAttachment is set when the feature cannot run without a file.
	NeedsAttachment bool

	// SupportsAttachment is set when a file may accompany the text.
	SupportsAttachment bool

	// Text is set for the features served by [Service.Process].
	Text bool
}

var definitions = []Definition{
	{ID: Summarize, Description: "Condense notes or an article into its key points.", SupportsAttachment: true, Text: true},
	{ID: Translate, Description: "Translate text into the selected language.", SupportsAttachment: true, Text: true},
	{ID: Questions, Description: "Create practice questions with answers.", SupportsAttachment: true, Text: true},
	{ID: Rewrite, Description: "Rewrite text to be clearer and easier to read.", SupportsAttachment: true, Text: true},
	{ID: StudyGuide, Description: "Turn material into a structured study guide.", SupportsAttachment: true, Text: true},
	{ID: Proofread, Description: "Fix spelling, grammar and punctuation.", SupportsAttachment: true, Text: true},
	{ID: Multimodal, Description: "Ask about a photo, diagram or document.", NeedsAttachment: true, SupportsAttachment: true, Text: true},
	{ID: Writer, Description: "Draft an essay or paragraph from a brief.", Text: true},
	{ID: CustomPrompt, Description: "Send your own instruction to the model.", SupportsAttachment: true, Text: true},
	{ID: ComplexReasoning, Description: "Work through a hard problem step by step.", SupportsAttachment: true, Text: true},
	{ID: GenerateImage, Description: "Create an illustration from a description."},
	{ID: Transcribe, Description: "Turn a lecture recording into text.", NeedsAttachment: true, SupportsAttachment: true},
	{ID: LiveConversation, Description: "Talk with a tutor in real time."},
	{ID: ChatBot, Description: "Have a multi-turn conversation with a tutor."},
}

// Features returns the definitions of all features in menu order.
func Features() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}

// Lookup returns the definition of f.
func Lookup(f Feature) (Definition, bool) {
	for _, d := range definitions {
		if d.ID == f {
			return d, true
		}
	}
	return Definition{}, false
}

// ParseFeature resolves a feature from its display name. Matching ignores
// case, spaces, dashes and underscores, so "study-guide" and "StudyGuide"
// both resolve to [StudyGuide].
func ParseFeature(name string) (Feature, error) {
	key := normalize(name)
	for _, d := range definitions {
		if normalize(string(d.ID)) == key {
			return d.ID, nil
		}
	}
	return "", fmt.Errorf("assist: unknown feature %q", name)
}

// Language is an output language of the text features.
type Language string

const (
	English  Language = "English"
	Spanish  Language = "Spanish"
	French   Language = "French"
	German   Language = "German"
	Mandarin Language = "Mandarin Chinese"
	Japanese Language = "Japanese"
)

var languageCodes = map[Language]string{
	English:  "en",
	Spanish:  "es",
	French:   "fr",
	German:   "de",
	Mandarin: "zh",
	Japanese: "ja",
}

// Languages returns the supported languages in menu order.
func Languages() []Language {
	return []Language{English, Spanish, French, German, Mandarin, Japanese}
}

// Code returns the ISO-639-1 code of l, or "" for an unknown language.
func (l Language) Code() string {
	return languageCodes[l]
}

// ParseLanguage resolves a language from its name or ISO-639-1 code.
func ParseLanguage(name string) (Language, error) {
	key := normalize(name)
	for _, l := range Languages() {
		if normalize(string(l)) == key || l.Code() == key {
			return l, nil
		}
	}
	if key == "chinese" || key == "mandarin" {
		return Mandarin, nil
	}
	return "", fmt.Errorf("assist: unsupported language %q", name)
}

func normalize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '_':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(s)))
}
