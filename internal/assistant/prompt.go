package assistant

import (
	"context"
	"fmt"
	"strings"

	"github.com/chantio/chantio/internal/convo"
	"github.com/chantio/chantio/internal/vector"
)

const systemInstructions = `You are the assistant of a construction company's site-management app.
Answer the question using only the company records below. If the records do
not contain the answer, say so instead of guessing. Keep answers short and
concrete.`

// buildPrompt assembles instructions, retrieved records, recent conversation
// turns and the question. A history load failure degrades to a prompt without
// history and returns the error for logging.
func (a *Assistant) buildPrompt(ctx context.Context, userID, question string, results []vector.Result) (string, error) {
	var b strings.Builder
	b.WriteString(systemInstructions)
	b.WriteString("\n\n")

	if len(results) > 0 {
		b.WriteString("Company records:\n")
		for i, r := range results {
			fmt.Fprintf(&b, "[%d] (%s %s) %s\n", i+1, r.SourceType, r.SourceID, r.Text)
		}
		b.WriteString("\n")
	} else {
		b.WriteString("No matching company records were found.\n\n")
	}

	history, err := a.history.Load(ctx, userID)
	if len(history) > 0 {
		if len(history) > historyTurns {
			history = history[len(history)-historyTurns:]
		}
		b.WriteString("Recent conversation:\n")
		for _, msg := range history {
			role := "User"
			if msg.Role == convo.RoleBot {
				role = "Assistant"
			}
			fmt.Fprintf(&b, "%s: %s\n", role, msg.Content)
		}
		b.WriteString("\n")
	}

	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\nAnswer:")
	return b.String(), err
}
