package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iwsa-dev/iwsa/internal/config"
	"github.com/iwsa-dev/iwsa/internal/types"
	"github.com/iwsa-dev/iwsa/pkg/iwsa"
)

const (
	exitOK        = 0
	exitError     = 1
	exitCancelled = 130
)

var (
	cfgFile  string
	verbose  bool
	formats  string
	fields   string
	profile  string
	maxPages int
	storeURI string
	outDir   string
	noRobots bool
	limit    int64
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:   "iwsa",
		Short: "IWSA — Intelligent Web-Scraping Agent",
		Long: `IWSA scrapes websites guided by natural-language intent.

An LLM backend turns a page sample and your prompt into an extraction
strategy; a stealth browser runtime executes it with adaptive pacing and
recovery; the data pipeline cleans, validates, enriches, and exports the
rows to CSV, JSON, Excel, Google Sheets, and MongoDB.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(scrapeCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, types.ErrCancelled) || errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "cancelled")
			return exitCancelled
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return exitError
	}
	return exitOK
}

func scrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape [url] [intent]",
		Short: "Scrape a URL guided by a natural-language intent",
		Long: `Scrape the given URL. The intent describes what to extract, e.g.:

  iwsa scrape https://example.com/products "product names and prices" \
      --fields name,price --format json,csv`,
		Args: cobra.ExactArgs(2),
		RunE: runScrape,
	}

	cmd.Flags().StringVarP(&formats, "format", "f", "json", "comma-separated export formats: csv, json, excel, sheets")
	cmd.Flags().StringVar(&fields, "fields", "", "comma-separated field names to extract")
	cmd.Flags().StringVarP(&profile, "profile", "p", "", "anti-detection profile: conservative, balanced, aggressive, stealth")
	cmd.Flags().IntVarP(&maxPages, "max-pages", "m", 0, "maximum pages to scrape (0 = configured default)")
	cmd.Flags().StringVar(&storeURI, "store", "", "MongoDB URI for persistent storage")
	cmd.Flags().StringVarP(&outDir, "output", "o", "", "directory for file exports")
	cmd.Flags().BoolVar(&noRobots, "ignore-robots", false, "skip robots.txt checks")

	return cmd
}

func runScrape(cmd *cobra.Command, args []string) error {
	targetURL, intent := args[0], args[1]
	if err := config.ValidateURL(targetURL); err != nil {
		return fmt.Errorf("invalid URL %q: %w", targetURL, err)
	}

	agent, err := newAgent()
	if err != nil {
		return err
	}
	defer agent.Close()

	result, err := agent.Scrape(cmd.Context(), targetURL, intent, iwsa.ScrapeOptions{
		Fields:   splitList(fields),
		Profile:  profile,
		MaxPages: maxPages,
	})
	if err != nil {
		return err
	}

	fmt.Printf("\nRun %s complete in %s\n", result.RunID, result.Elapsed.Round(0))
	if result.Extraction != nil {
		fmt.Printf("  Pages:   %d\n", result.Extraction.PagesProcessed)
		fmt.Printf("  Rows:    %d extracted, %d duplicates dropped\n",
			result.Extraction.TotalRows(), result.Deduped)
	}
	if result.Pipeline != nil {
		fmt.Printf("  Stored:  %d\n", result.Pipeline.Stored)
		for _, exp := range result.Pipeline.Exports {
			status := "ok"
			if !exp.Success {
				status = "failed: " + exp.Error
			}
			fmt.Printf("  Export:  %-13s %s  %s\n", exp.Exporter, status, exp.Destination)
		}
	}
	if !result.Success {
		return fmt.Errorf("run finished without success: %s", strings.Join(result.Errors, "; "))
	}
	return nil
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe LLM backends, storage, and the browser pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := newAgent()
			if err != nil {
				return err
			}
			defer agent.Close()

			h := agent.Health(cmd.Context())
			encoded, err := json.MarshalIndent(h, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(encoded))
			if h.Overall == "critical" {
				return fmt.Errorf("no healthy LLM backend")
			}
			return nil
		},
	}
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [source-url]",
		Short: "Re-export rows already persisted in the document store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sourceURL := ""
			if len(args) > 0 {
				sourceURL = args[0]
			}

			agent, err := newAgent()
			if err != nil {
				return err
			}
			defer agent.Close()

			results, err := agent.ExportStored(cmd.Context(), sourceURL, limit)
			if err != nil {
				return err
			}
			succeeded := 0
			for _, res := range results {
				if res.Success {
					succeeded++
					fmt.Printf("%-13s %d records  %s\n", res.Exporter, res.Records, res.Destination)
				} else {
					fmt.Printf("%-13s failed: %s\n", res.Exporter, res.Error)
				}
			}
			if succeeded == 0 {
				return fmt.Errorf("every exporter failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&formats, "format", "f", "json", "comma-separated export formats")
	cmd.Flags().StringVar(&storeURI, "store", "", "MongoDB URI for persistent storage")
	cmd.Flags().StringVarP(&outDir, "output", "o", "", "directory for file exports")
	cmd.Flags().Int64VarP(&limit, "limit", "n", 0, "maximum rows to export (0 = all)")

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("iwsa %s\n", config.Version)
		},
	}
}

// newAgent builds an Agent from the config file plus CLI overrides.
func newAgent() (*iwsa.Agent, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if storeURI != "" {
		cfg.Storage.DocumentStoreURI = storeURI
	}
	if outDir != "" {
		cfg.Storage.OutputDir = outDir
	}
	if noRobots {
		cfg.Scraping.RespectRobotsTxt = false
	}

	return iwsa.New(
		iwsa.WithConfig(cfg),
		iwsa.WithFormats(splitList(formats)...),
	)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
