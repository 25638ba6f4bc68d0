package assistant

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/blueberrycongee/dinescout/pkg/types"
)

// chatMessage is one message of a chat completion request.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const systemPrompt = `You are the assistant of a restaurant search app. Answer in %s.
Be brief: at most three sentences, no lists, no markdown. Never invent restaurants.`

// BuildPrompt renders req as a system and a user message.
func BuildPrompt(req Request) (system, user string) {
	system = fmt.Sprintf(systemPrompt, languageName(req.Language))

	var sb strings.Builder
	fmt.Fprintf(&sb, "User query: %q\n", req.Query)

	switch req.Type {
	case types.MessageClarify:
		sb.WriteString("The query is too ambiguous to search. Ask the user one short question to clarify it.\n")
		if c := req.Clarification(); c != nil && c.Question != "" {
			fmt.Fprintf(&sb, "Suggested question: %s\n", c.Question)
		}
	case types.MessageStopped:
		sb.WriteString("The search was not run. Politely explain why and suggest what the user can search for instead.\n")
		if reason := req.StopReason(); reason != "" {
			fmt.Fprintf(&sb, "Reason: %s\n", reason)
		}
	default:
		top := req.TopRestaurants()
		if len(top) == 0 {
			sb.WriteString("No restaurants matched. Say so and suggest broadening the search.\n")
			break
		}
		fmt.Fprintf(&sb, "Summarize these %d results and highlight the best match:\n", len(top))
		for i, r := range top {
			fmt.Fprintf(&sb, "%d. %s", i+1, r.Name)
			if r.Rating > 0 {
				fmt.Fprintf(&sb, " (rating %.1f", r.Rating)
				if r.ReviewCount > 0 {
					fmt.Fprintf(&sb, ", %d reviews", r.ReviewCount)
				}
				sb.WriteString(")")
			}
			if len(r.Cuisines) > 0 {
				fmt.Fprintf(&sb, " - %s", strings.Join(r.Cuisines, ", "))
			}
			if r.OpenNow != nil && *r.OpenNow {
				sb.WriteString(" - open now")
			}
			sb.WriteString("\n")
		}
	}
	return system, sb.String()
}

func buildMessages(req Request) []chatMessage {
	system, user := BuildPrompt(req)
	return []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}

// languageName returns the English name of a language code, for the model's benefit.
func languageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return "English"
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return "English"
}
