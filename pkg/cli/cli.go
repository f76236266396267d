package cli

import (
	"context"
	"os"

	"github.com/m-mizutani/mandrake/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:  "mandrake",
		Usage: "Evidence orchestration and ranking for biological questions",
		Commands: []*cli.Command{
			researchCommand(),
			chatCommand(),
			runsCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}

func setupLogger(level string) {
	logging.SetDefault(logging.New(level, os.Stderr))
}
