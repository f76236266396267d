package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mandrake/pkg/model"
	"github.com/m-mizutani/mandrake/pkg/usecase/chat"
	"github.com/urfave/cli/v3"
)

func chatCommand() *cli.Command {
	var (
		cfg       config
		sessionID string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "session-id",
			Usage:       "Session ID to continue an existing conversation",
			Sources:     cli.EnvVars("MANDRAKE_SESSION_ID"),
			Destination: &sessionID,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:      "chat",
		Usage:     "Ask follow-up questions about a finished run",
		ArgsUsage: "<run-id>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			runID := c.Args().First()
			if runID == "" {
				return goerr.New("run-id is required")
			}
			setupLogger(cfg.logLevel)

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			gemini, err := cfg.newGemini(ctx)
			if err != nil {
				return err
			}

			session, err := chat.New(ctx, chat.NewInput{
				Gemini:     gemini,
				Repo:       repo,
				PipelineID: model.PipelineID(runID),
				SessionID:  model.SessionID(sessionID),
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "Session: %s (Ctrl-D to exit)\n", session.ID())

			rl, err := readline.New("> ")
			if err != nil {
				return goerr.Wrap(err, "failed to initialize readline")
			}
			defer rl.Close()

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}
				message := strings.TrimSpace(line)
				if message == "" {
					continue
				}

				sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				sp.Start()
				reply, _, err := session.SendFollowUp(ctx, message)
				sp.Stop()
				if err != nil {
					fmt.Fprintf(c.Root().ErrWriter, "error: %s\n", err)
					continue
				}
				fmt.Fprintf(c.Root().Writer, "\n%s\n\n", reply)
			}
		},
	}
}
