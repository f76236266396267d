package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mandrake/pkg/model"
	"github.com/m-mizutani/mandrake/pkg/usecase/pipeline"
	"github.com/m-mizutani/mandrake/pkg/workflow"
	"github.com/urfave/cli/v3"
)

const timeRound = 100 * time.Millisecond

func researchCommand() *cli.Command {
	var cfg config

	tools := cfg.defaultTools()
	flags := globalFlags(&cfg)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, pipelineFlags(&cfg)...)
	for _, t := range tools {
		flags = append(flags, t.Flags()...)
	}

	return &cli.Command{
		Name:      "research",
		Usage:     "Run the evidence pipeline for a biological question",
		ArgsUsage: "<question>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			query := c.Args().First()
			if query == "" {
				return goerr.New("question is required")
			}
			setupLogger(cfg.logLevel)

			gemini, err := cfg.newGemini(ctx)
			if err != nil {
				return err
			}
			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			storage, err := cfg.newStorage(ctx)
			if err != nil {
				return err
			}
			registry, err := cfg.newRegistry(ctx, tools)
			if err != nil {
				return err
			}
			gate, err := workflow.New(ctx, cfg.policyDir)
			if err != nil {
				return err
			}
			budgets, err := cfg.loadBudgets()
			if err != nil {
				return err
			}

			opts := []pipeline.Option{
				pipeline.WithBudgets(budgets),
				pipeline.WithRepository(repo),
				pipeline.WithGate(gate),
			}
			if storage != nil {
				opts = append(opts, pipeline.WithStorage(storage))
			}
			orchestrator := pipeline.New(gemini, registry, opts...)

			id, err := orchestrator.StartPipeline(ctx, query)
			if err != nil {
				return goerr.Wrap(err, "failed to start pipeline")
			}
			fmt.Fprintf(c.Root().Writer, "Pipeline started: %s\n\n", id)

			events, err := orchestrator.Subscribe(ctx, id)
			if err != nil {
				return goerr.Wrap(err, "failed to subscribe to pipeline")
			}
			for ev := range events {
				printEvent(c, ev)
			}

			snapshot, err := orchestrator.GetSnapshot(ctx, id)
			if err != nil {
				return goerr.Wrap(err, "failed to read final snapshot")
			}
			printSnapshot(c, snapshot)

			if snapshot.State == model.StateFailed {
				return goerr.New("pipeline failed", goerr.Value("pipeline", id))
			}
			return nil
		},
	}
}

func printEvent(c *cli.Command, ev *model.PipelineEvent) {
	w := c.Root().Writer
	switch ev.Type {
	case model.EventStageStarted:
		fmt.Fprintf(w, "==> %s\n", ev.Stage)
	case model.EventStageCompleted:
		fmt.Fprintf(w, "<== %s done\n", ev.Stage)
	case model.EventEvidenceAdded:
		fmt.Fprintf(w, "    evidence: %s [%s] from %s\n",
			ev.EntityID, ev.Evidence.Category, ev.Evidence.Source)
	case model.EventRankingUpdated:
		if len(ev.Ranking) > 0 {
			top := ev.Ranking[0]
			fmt.Fprintf(w, "    ranking: %d entities, top %s (score %.1f)\n",
				len(ev.Ranking), top.EntityID, top.Score)
		}
	case model.EventPipelineFailed:
		fmt.Fprintf(w, "\npipeline failed: %s\n", ev.Reason)
	}
}

func printSnapshot(c *cli.Command, snapshot *model.Snapshot) {
	w := c.Root().Writer

	fmt.Fprintf(w, "\n## Ranking\n\n")
	for _, r := range snapshot.Ranking {
		label := r.Symbol
		if label == "" {
			label = string(r.EntityID)
		}
		fmt.Fprintf(w, "%3d. %-12s score %6.1f  confidence %-6s  %s\n",
			r.Rank, label, r.Score, r.Confidence, r.Summary)
	}

	if snapshot.Report != nil {
		fmt.Fprintf(w, "\n## Summary\n\n%s\n", snapshot.Report.Summary)
		if len(snapshot.Report.OpenQuestions) > 0 {
			fmt.Fprintf(w, "\n## Open questions\n\n")
			for _, q := range snapshot.Report.OpenQuestions {
				fmt.Fprintf(w, "- %s\n", q)
			}
		}
		fmt.Fprintf(w, "\n%d tool calls (%d failed, %d cached) in %s\n",
			snapshot.Report.Cost.TotalCalls,
			snapshot.Report.Cost.FailedCalls,
			snapshot.Report.Cost.CacheHits,
			snapshot.Report.ExecutionTime.Round(timeRound))
	}
	if snapshot.Incomplete {
		fmt.Fprintf(w, "\nNote: results are partial; the run ended before completing all stages.\n")
	}
}
