package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/memtensor/deepresearch/pkg/pipeline"
	"github.com/memtensor/deepresearch/pkg/types"
)

func runCLIMode(ctx context.Context, app *App, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("no command specified, use -help for usage information")
	}

	command := args[0]
	commandArgs := args[1:]

	switch command {
	case "ask":
		return executeAskCommand(ctx, app, commandArgs, os.Stdout)
	case "answer":
		return executeAnswerCommand(ctx, app, commandArgs, os.Stdout)
	case "history":
		return executeHistoryCommand(ctx, app, os.Stdout)
	case "memories":
		return executeMemoriesCommand(ctx, app, os.Stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func promptFrom(args []string) (string, error) {
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" {
		return "", fmt.Errorf("prompt required")
	}
	return prompt, nil
}

func executeAskCommand(ctx context.Context, app *App, args []string, out io.Writer) error {
	prompt, err := promptFrom(args)
	if err != nil {
		return err
	}
	req := &types.ResearchRequest{UserID: *userID, Prompt: prompt}
	return app.Service.Search(ctx, req, printer(out))
}

// printer renders streamed events for a terminal
func printer(out io.Writer) pipeline.Emitter {
	return func(ctx context.Context, event *types.Event) error {
		var err error
		switch event.Type {
		case types.EventRationaleToken, types.EventAnswerToken:
			_, err = fmt.Fprint(out, event.Token)
		case types.EventRationaleComplete:
			_, err = fmt.Fprint(out, "\n\n")
		case types.EventAnswerComplete:
			_, err = fmt.Fprintln(out)
		case types.EventCitations:
			for i, c := range event.Citations {
				if _, err = fmt.Fprintf(out, "[%d] %s (%s)\n", i+1, c.Title, c.Timestamp); err != nil {
					return err
				}
			}
		case types.EventError:
			_, err = fmt.Fprintf(out, "\nerror: %s\n", event.Message)
		}
		return err
	}
}

func executeAnswerCommand(ctx context.Context, app *App, args []string, out io.Writer) error {
	prompt, err := promptFrom(args)
	if err != nil {
		return err
	}
	state, err := app.Service.Answer(ctx, &types.ResearchRequest{UserID: *userID, Prompt: prompt})
	if err != nil {
		return fmt.Errorf("answer failed: %w", err)
	}
	return writeJSON(out, state)
}

func executeHistoryCommand(ctx context.Context, app *App, out io.Writer) error {
	turns, err := app.Conversations.FetchHistory(ctx, *userID, app.Config.Retrieval.HistoryLimit)
	if err != nil {
		return fmt.Errorf("failed to fetch history: %w", err)
	}
	if len(turns) == 0 {
		_, err := fmt.Fprintf(out, "No conversation history for %s\n", *userID)
		return err
	}
	for _, turn := range turns {
		if _, err := fmt.Fprintf(out, "%s [%s]: %s\n", turn.Role, turn.Timestamp, turn.Content); err != nil {
			return err
		}
	}
	return nil
}

func executeMemoriesCommand(ctx context.Context, app *App, out io.Writer) error {
	memories, err := app.Memory.GetAll(ctx, *userID)
	if err != nil {
		return fmt.Errorf("failed to fetch memories: %w", err)
	}
	if len(memories) == 0 {
		_, err := fmt.Fprintf(out, "No memories for %s\n", *userID)
		return err
	}
	for _, m := range memories {
		if _, err := fmt.Fprintf(out, "%s  %s  %s\n", m.ID, m.Timestamp(), m.Memory); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
