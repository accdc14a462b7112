// Package main runs the built-in plant scenarios on a manual clock and exits
// non-zero when any of them fails.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"

	"github.com/MRamiBalles/BiogasPilot/server/internal/infra/storage"
	"github.com/MRamiBalles/BiogasPilot/server/internal/platform/logger"
	"github.com/MRamiBalles/BiogasPilot/server/internal/platform/metrics"
	"github.com/MRamiBalles/BiogasPilot/server/internal/scenario"
)

func main() {
	run := flag.String("run", "", "Only run scenarios whose name matches this regexp")
	record := flag.String("record", "", "Record every scenario as a session in this SQLite file")
	export := flag.String("export", "", "Write each scenario's history as CSV into this directory")
	logFormat := flag.String("log-format", "text", "Log format: json or text")
	logLevel := flag.String("log-level", "warn", "Log level")
	list := flag.Bool("list", false, "List scenarios and exit")
	flag.Parse()

	if *list {
		for _, sc := range scenario.All() {
			fmt.Printf("%-22s %s\n", sc.Name, sc.Description)
		}
		return
	}

	appLogger := logger.New(logger.Options{Format: *logFormat, Level: *logLevel})

	var opts []scenario.Option
	if *run != "" {
		re, err := regexp.Compile(*run)
		if err != nil {
			appLogger.Error("invalid -run pattern", "error", err)
			os.Exit(2)
		}
		opts = append(opts, scenario.WithFilter(re))
	}
	if *export != "" {
		opts = append(opts, scenario.WithExportDir(*export))
	}
	if *record != "" {
		db, err := storage.InitSQLite(*record)
		if err != nil {
			appLogger.Error("failed to initialize SQLite", "path", *record, "error", err)
			os.Exit(1)
		}
		defer db.Close()
		opts = append(opts, scenario.WithRecorder(db, metrics.Get()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("BIOGAS PILOT - SCENARIO SUITE")
	fmt.Println(strings.Repeat("=", 60))

	results, err := scenario.NewRunner(appLogger, opts...).Run(ctx, scenario.All())
	for _, r := range results {
		mark := "PASS"
		if !r.Passed {
			mark = "FAIL"
		}
		fmt.Printf("%s  %-22s %4d checks  %5d ticks  %v simulated\n", mark, r.Name, r.Checks, r.Ticks, r.Simulated)
		for _, f := range r.Failures {
			fmt.Printf("      - %s\n", f)
		}
		if r.Recap != nil {
			fmt.Printf("      session %s: %d feeds, milestones %v, %d tokens\n",
				r.SessionID, r.Recap.FeedsCompleted, r.Recap.Milestones, r.Recap.TokenBalance)
		}
		if r.DroppedRecs > 0 {
			fmt.Printf("      recorder dropped %d events\n", r.DroppedRecs)
		}
		if r.ExportPath != "" {
			fmt.Printf("      history: %s\n", r.ExportPath)
		}
	}

	passed, failed := scenario.Summary(results)
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Passed: %d  Failed: %d\n", passed, failed)

	if err != nil {
		appLogger.Error("scenario run aborted", "error", err)
		os.Exit(1)
	}
	if failed > 0 {
		os.Exit(1)
	}
}
