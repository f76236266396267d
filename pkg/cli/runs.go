package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

func runsCommand() *cli.Command {
	var (
		cfg    config
		offset int64
		limit  int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "offset",
			Usage:       "Number of runs to skip",
			Destination: &offset,
		},
		&cli.IntFlag{
			Name:        "limit",
			Usage:       "Maximum number of runs to list",
			Value:       20,
			Destination: &limit,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "runs",
		Usage: "List archived pipeline runs, newest first",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			setupLogger(cfg.logLevel)

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}

			runs, err := repo.ListRuns(ctx, int(offset), int(limit))
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(c.Root().Writer, "No archived runs")
				return nil
			}

			w := c.Root().Writer
			for _, r := range runs {
				marker := ""
				if r.Incomplete {
					marker = " (partial)"
				}
				fmt.Fprintf(w, "%s  %-7s %s  %s%s\n",
					r.TakenAt.Format("2006-01-02 15:04"), r.State, r.PipelineID, truncate(r.Query, 60), marker)
			}
			return nil
		},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
