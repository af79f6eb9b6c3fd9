package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"

	"github.com/chantio/chantio/internal/app"
	"github.com/chantio/chantio/internal/config"
	"github.com/chantio/chantio/internal/log"
)

const askUserID = "cli"

// runAsk answers one question from the command line and renders the answer
// as terminal markdown.
func runAsk(cfg *config.Config, logger log.Logger, args []string) error {
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return fmt.Errorf("usage: chantio ask <question>")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, *cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	answerCtx, answerCancel := context.WithTimeout(ctx, cfg.AnswerTimeout)
	defer answerCancel()

	res, err := a.Assistant.Answer(answerCtx, askUserID, question)
	if err != nil {
		return fmt.Errorf("answering: %w", err)
	}

	fmt.Println(renderMarkdown(res.Text))
	if res.Error {
		return fmt.Errorf("the model server is unreachable")
	}
	if len(res.Sources) > 0 {
		fmt.Printf("Sources: %s (confidence %.0f%%)\n",
			strings.Join(res.Sources, ", "), res.Confidence*100)
	}
	return nil
}

// renderMarkdown renders text for the terminal, falling back to the raw text
// when the renderer cannot be built (dumb terminals, pipes).
func renderMarkdown(text string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}
