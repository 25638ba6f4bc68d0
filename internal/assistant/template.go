package assistant

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"golang.org/x/text/language"

	"github.com/blueberrycongee/dinescout/pkg/types"
)

// TemplateGenerator produces fixed, localized replies without calling a model. It is
// used when no LLM is configured.
type TemplateGenerator struct{}

// NewTemplateGenerator creates a template generator.
func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{}
}

type replyTemplates struct {
	found   string // count, query
	top     string // name
	rated   string // name, rating
	none    string // query
	clarify string
	stopped string
	stopWhy string // reason
}

var templates = map[string]replyTemplates{
	"en": {
		found:   "I found %d places for \"%s\".",
		top:     "My top pick is %s.",
		rated:   "My top pick is %s, rated %.1f.",
		none:    "I couldn't find places for \"%s\". Try a broader search.",
		clarify: "Could you tell me a bit more about what you're looking for?",
		stopped: "I can only help with finding places to eat.",
		stopWhy: "I couldn't run this search: %s.",
	},
	"es": {
		found:   "Encontré %d lugares para \"%s\".",
		top:     "Mi recomendación es %s.",
		rated:   "Mi recomendación es %s, con %.1f.",
		none:    "No encontré lugares para \"%s\". Prueba una búsqueda más amplia.",
		clarify: "¿Puedes contarme un poco más sobre lo que buscas?",
		stopped: "Solo puedo ayudarte a encontrar lugares para comer.",
		stopWhy: "No pude hacer esta búsqueda: %s.",
	},
	"fr": {
		found:   "J'ai trouvé %d adresses pour « %s ».",
		top:     "Mon choix : %s.",
		rated:   "Mon choix : %s, noté %.1f.",
		none:    "Je n'ai rien trouvé pour « %s ». Essayez une recherche plus large.",
		clarify: "Pouvez-vous m'en dire un peu plus sur ce que vous cherchez ?",
		stopped: "Je peux seulement vous aider à trouver où manger.",
		stopWhy: "Je n'ai pas pu lancer cette recherche : %s.",
	},
	"he": {
		found:   "מצאתי %d מקומות עבור \"%s\".",
		top:     "ההמלצה שלי היא %s.",
		rated:   "ההמלצה שלי היא %s, עם דירוג %.1f.",
		none:    "לא מצאתי מקומות עבור \"%s\". נסה חיפוש רחב יותר.",
		clarify: "תוכל לספר לי קצת יותר על מה שאתה מחפש?",
		stopped: "אני יכול לעזור רק במציאת מקומות לאכול.",
		stopWhy: "לא יכולתי לבצע את החיפוש: %s.",
	},
}

var templateLanguages = []language.Tag{language.English, language.Spanish, language.French, language.Hebrew}

var templateMatcher = language.NewMatcher(templateLanguages)

func templatesFor(lang string) replyTemplates {
	tag, err := language.Parse(lang)
	if err != nil {
		return templates["en"]
	}
	_, index, conf := templateMatcher.Match(tag)
	if conf == language.No {
		return templates["en"]
	}
	base, _ := templateLanguages[index].Base()
	return templates[base.String()]
}

// Render returns the complete reply for req.
func (g *TemplateGenerator) Render(req Request) string {
	t := templatesFor(req.Language)

	switch req.Type {
	case types.MessageClarify:
		if c := req.Clarification(); c != nil && c.Question != "" {
			return c.Question
		}
		return t.clarify
	case types.MessageStopped:
		if reason := req.StopReason(); reason != "" {
			return fmt.Sprintf(t.stopWhy, reason)
		}
		return t.stopped
	}

	top := req.TopRestaurants()
	if len(top) == 0 {
		return fmt.Sprintf(t.none, req.Query)
	}
	total := len(req.Result.Restaurants)
	best := top[0]
	for _, r := range top[1:] {
		if r.Rating > best.Rating {
			best = r
		}
	}

	reply := fmt.Sprintf(t.found, total, req.Query)
	if best.Rating > 0 {
		return reply + " " + fmt.Sprintf(t.rated, best.Name, best.Rating)
	}
	return reply + " " + fmt.Sprintf(t.top, best.Name)
}

// Generate implements Generator, yielding the reply word by word.
func (g *TemplateGenerator) Generate(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		words := strings.SplitAfter(g.Render(req), " ")
		for _, w := range words {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if w == "" {
				continue
			}
			if !yield(w, nil) {
				return
			}
		}
	}
}
