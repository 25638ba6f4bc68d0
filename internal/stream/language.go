package stream

import (
	"strings"

	"golang.org/x/text/language"
)

// DefaultLanguage is used when no candidate names a usable language.
const DefaultLanguage = "en"

// Language sources, in priority order.
const (
	SourceAssistant = "assistant"
	SourceIntent    = "intent"
	SourceDetected  = "detected"
	SourceResult    = "result"
	SourceUI        = "ui"
	SourceDefault   = "default"
)

// Candidate is one possible response language and where it came from.
type Candidate struct {
	Source string
	Value  string
}

// ResolveLanguage returns the first candidate that parses as a language, reduced to its
// base subtag, together with its source. It falls back to fallback, then DefaultLanguage.
func ResolveLanguage(fallback string, candidates ...Candidate) (lang, source string) {
	if l, src, ok := firstLanguage(candidates); ok {
		return l, src
	}
	if l, ok := NormalizeLanguage(fallback); ok {
		return l, SourceDefault
	}
	return DefaultLanguage, SourceDefault
}

func firstLanguage(candidates []Candidate) (lang, source string, ok bool) {
	for _, c := range candidates {
		if l, ok := NormalizeLanguage(c.Value); ok {
			return l, c.Source, true
		}
	}
	return "", "", false
}

// NormalizeLanguage parses a BCP 47 tag ("he-IL", "EN_us", "iw") and returns its base
// language. Empty, "und" and unparsable values are rejected.
func NormalizeLanguage(value string) (string, bool) {
	value = strings.TrimSpace(strings.ReplaceAll(value, "_", "-"))
	if value == "" {
		return "", false
	}
	tag, err := language.Parse(value)
	if err != nil || tag == language.Und {
		return "", false
	}
	base, conf := tag.Base()
	if conf == language.No {
		return "", false
	}
	return base.String(), true
}

// textLanguages are the languages fixed texts are written in.
var textLanguages = []language.Tag{language.English, language.Spanish, language.French, language.Hebrew}

var textMatcher = language.NewMatcher(textLanguages)

// textLanguage picks the fixed-text language closest to lang.
func textLanguage(lang string) string {
	tag, err := language.Parse(lang)
	if err != nil {
		return DefaultLanguage
	}
	_, index, conf := textMatcher.Match(tag)
	if conf == language.No {
		return DefaultLanguage
	}
	base, _ := textLanguages[index].Base()
	return base.String()
}
