package stream

import (
	"fmt"
	"strings"
)

// Fixed texts sent without a generation call.
type texts struct {
	searching      string
	searchingQuery string
	timeout        string
	failed         string
}

var fixedTexts = map[string]texts{
	"en": {
		searching:      "Looking for places for you…",
		searchingQuery: "Looking for %s…",
		timeout:        "This is taking longer than usual. Results will appear as soon as they are ready.",
		failed:         "Something went wrong with this search. Please try again.",
	},
	"es": {
		searching:      "Buscando lugares para ti…",
		searchingQuery: "Buscando %s…",
		timeout:        "Esto está tardando más de lo habitual. Los resultados aparecerán en cuanto estén listos.",
		failed:         "Algo salió mal con esta búsqueda. Inténtalo de nuevo.",
	},
	"fr": {
		searching:      "Je cherche des adresses pour vous…",
		searchingQuery: "Je cherche %s…",
		timeout:        "Cela prend plus de temps que prévu. Les résultats s'afficheront dès qu'ils seront prêts.",
		failed:         "Un problème est survenu avec cette recherche. Veuillez réessayer.",
	},
	"he": {
		searching:      "מחפש עבורך מקומות…",
		searchingQuery: "מחפש %s…",
		timeout:        "זה לוקח יותר זמן מהרגיל. התוצאות יופיעו ברגע שיהיו מוכנות.",
		failed:         "משהו השתבש בחיפוש הזה. נסה שוב.",
	},
}

func textsFor(lang string) texts {
	return fixedTexts[textLanguage(lang)]
}

// maxNarratedQuery keeps the echoed query short.
const maxNarratedQuery = 80

// NarrationText returns the immediate narration for an in-progress search.
func NarrationText(lang, query string) string {
	t := textsFor(lang)
	query = strings.Join(strings.Fields(query), " ")
	if query == "" {
		return t.searching
	}
	if r := []rune(query); len(r) > maxNarratedQuery {
		query = string(r[:maxNarratedQuery]) + "…"
	}
	return fmt.Sprintf(t.searchingQuery, query)
}

// TimeoutText returns the message sent when results were not ready before the deadline.
func TimeoutText(lang string) string {
	return textsFor(lang).timeout
}

// FailedText returns the message sent when the search job failed.
func FailedText(lang string) string {
	return textsFor(lang).failed
}
