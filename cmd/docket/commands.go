package main

import (
	"context"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/ternarybob/docket/internal/handlers"
	"github.com/ternarybob/docket/internal/models"
	"github.com/urfave/cli/v3"
)

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Create pending index jobs for a page range",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "from", Usage: "First page", Value: 1},
			&cli.IntFlag{Name: "to", Usage: "Last page", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			application, logger, err := openOffline(cmd)
			if err != nil {
				return err
			}
			defer application.Close()

			created, err := application.Controller.Seed(ctx, cmd.Int("from"), cmd.Int("to"))
			if err != nil {
				return err
			}
			logger.Info().Int("created", created).Msg("Index pages seeded")
			fmt.Printf("Seeded %s index pages (%d-%d)\n", models.FormatCount(int64(created)), cmd.Int("from"), cmd.Int("to"))
			return nil
		},
	}
}

func retryCommand() *cli.Command {
	return &cli.Command{
		Name:  "retry",
		Usage: "Requeue failed jobs of one phase",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mode", Usage: "Phase: index or details", Value: "index"},
			&cli.StringFlag{Name: "error-type", Usage: "Only this failure kind: captcha, timeout, other or all", Value: "all"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			phase, err := models.ParsePhase(cmd.String("mode"))
			if err != nil {
				return err
			}
			kind, err := handlers.ParseErrorType(cmd.String("error-type"))
			if err != nil {
				return err
			}

			application, _, err := openOffline(cmd)
			if err != nil {
				return err
			}
			defer application.Close()

			summary, err := application.Controller.RetryFailed(ctx, phase, kind)
			if err != nil {
				return err
			}
			fmt.Printf("Requeued %s failed %s jobs\n", models.FormatCount(int64(summary.Requeued)), phase)
			return nil
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Print scrape progress, failure breakdown and per-court counts",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			application, _, err := openOffline(cmd)
			if err != nil {
				return err
			}
			defer application.Close()

			stats, err := application.Controller.Stats(ctx)
			if err != nil {
				return err
			}
			displayProgress(stats)

			for _, phase := range models.Phases {
				page, err := application.Controller.Jobs(ctx, models.JobListOptions{Phase: phase, Page: 1, PageSize: 1})
				if err != nil {
					return err
				}
				displayFailures(phase, page.ErrorSummary)
			}

			displayCourts(stats.Courts)
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			fmt.Printf("Docket version %s\n", cmd.Root().Version)
			return nil
		},
	}
}

func displayProgress(stats *models.Stats) {
	fmt.Printf("\n=== Scraper: %s ===\n", stats.ScraperStatus)

	total := "unknown"
	if stats.Index.TotalEstimated != nil {
		total = models.FormatCount(*stats.Index.TotalEstimated)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Phase", "Done", "Pending", "Running", "Failed", "Complete")
	table.Append("index",
		fmt.Sprintf("%s of %s listed", models.FormatCount(stats.Index.Listed), total),
		models.FormatCount(int64(stats.Index.Pending)),
		models.FormatCount(int64(stats.Index.Running)),
		models.FormatCount(int64(stats.Index.Failed)),
		fmt.Sprintf("%.1f%%", stats.Index.PctComplete),
	)
	table.Append("details",
		fmt.Sprintf("%s fetched", models.FormatCount(stats.Details.Fetched)),
		models.FormatCount(int64(stats.Details.Pending)),
		models.FormatCount(int64(stats.Details.Running)),
		models.FormatCount(int64(stats.Details.Failed)),
		fmt.Sprintf("%.1f%%", stats.Details.PctComplete),
	)
	table.Render()
}

func displayFailures(phase models.Phase, summary []models.ErrorSummary) {
	fmt.Printf("\n=== %s failures ===\n", phase)
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Error", "Count", "Share")
	for _, row := range summary {
		table.Append(row.Label, models.FormatCount(int64(row.Count)), fmt.Sprintf("%.1f%%", row.Pct))
	}
	table.Render()
}

func displayCourts(courts []models.CourtStat) {
	if len(courts) == 0 {
		return
	}
	fmt.Println("\n=== Courts ===")
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Court", "Listed", "Details")
	for _, court := range courts {
		table.Append(court.Name, models.FormatCount(court.Listed), models.FormatCount(court.DetailsFetched))
	}
	table.Render()
}
