package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"diligence/internal/evidence/sources"
	"diligence/internal/platform/logger"
	"diligence/internal/report"
	"diligence/internal/resolver"
)

var (
	reportDays     int
	reportSections []string
	reportTimeout  time.Duration
	reportCompact  bool
)

var reportCmd = &cobra.Command{
	Use:   "report <protocol name>",
	Short: "Build a due-diligence report and print it as JSON",
	Long: `Resolves the name against the catalog (typos and aliases are accepted),
collects every requested section concurrently and prints the report to
stdout. Sections a provider could not serve are listed under
data_limitations; the command still succeeds.

Exits non-zero only when the name cannot be resolved, printing the closest
catalog entries.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runReport,
}

func init() {
	f := reportCmd.Flags()
	f.IntVar(&reportDays, "days", 0, fmt.Sprintf("history window in days (1-%d, default from config)", report.MaxHistoryWindowDays))
	f.StringSliceVar(&reportSections, "sections", nil, "comma-separated sections to include (default all)")
	f.DurationVar(&reportTimeout, "timeout", 0, "overall report deadline (default from config)")
	f.BoolVar(&reportCompact, "compact", false, "print single-line JSON")
}

func runReport(cmd *cobra.Command, args []string) error {
	if reportDays < 0 || reportDays > report.MaxHistoryWindowDays {
		return fmt.Errorf("--days must be between 1 and %d", report.MaxHistoryWindowDays)
	}
	var include []sources.Section
	for _, raw := range reportSections {
		sec, err := sources.ParseSection(raw)
		if err != nil {
			return err
		}
		include = append(include, sec)
	}

	cfg := loadConfig()
	log := logger.NewWithWriter(os.Stderr, cfg.LogLevel)

	a, err := newApp(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	name := strings.Join(args, " ")
	rep, err := a.reports.BuildReport(cmd.Context(), name, report.Options{
		HistoryWindowDays: reportDays,
		IncludeSections:   include,
		Timeout:           reportTimeout,
	})
	if errors.Is(err, resolver.ErrNotFound) {
		if hints := resolver.Suggestions(err); len(hints) > 0 {
			return fmt.Errorf("no protocol matches %q; did you mean: %s", name, strings.Join(hints, ", "))
		}
		return fmt.Errorf("no protocol matches %q; run `diligence catalog` to list known protocols", name)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	if !reportCompact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(rep)
}
