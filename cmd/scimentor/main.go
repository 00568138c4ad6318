package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/basamba1990/scimentor-ai/internal/batch"
	"github.com/basamba1990/scimentor-ai/internal/config"
	"github.com/basamba1990/scimentor-ai/internal/feedback"
	"github.com/basamba1990/scimentor-ai/internal/identity"
	"github.com/basamba1990/scimentor-ai/internal/pipeline"
	"github.com/basamba1990/scimentor-ai/internal/server"
	"github.com/basamba1990/scimentor-ai/internal/tui"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	owner      string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "scimentor",
	Short:   "LLM feedback for scientific Jupyter notebooks",
	Long:    "SciMentor grades Jupyter notebooks against a scientific rubric and keeps a per-user history of the feedback.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log.SetFlags(log.LstdFlags)

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		config.LoadEnv()
		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if verbose || strings.EqualFold(cfg.Logging.Level, "DEBUG") {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	for _, c := range []*cobra.Command{analyzeCmd, historyCmd, showCmd, deleteCmd, browseCmd} {
		c.Flags().StringVarP(&owner, "owner", "o", os.Getenv("SCIMENTOR_OWNER"), "Owner id (default $SCIMENTOR_OWNER)")
	}

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(browseCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("scimentor", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/scimentor/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to choose the LLM provider and storage backends.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Database: %s (%s)\n", db.Path(), db.Dialect())
		if blobs, err := openBlobs(); err != nil {
			fmt.Printf("Documents: unavailable (%v)\n", err)
		} else {
			fmt.Printf("Documents: %s\n", blobLocation(blobs))
		}
		fmt.Printf("LLM: %s %s\n\n", cfg.LLM.Provider, cfg.LLM.Model)
		fmt.Printf("Analyses: %d\n", stats.TotalAnalyses)
		if len(stats.Owners) > 0 {
			fmt.Println("\nBy owner:")
			for _, o := range stats.Owners {
				fmt.Printf("  %s: %d (last %s)\n", o.OwnerID, o.Analyses, o.LastAnalysis.Local().Format("2006-01-02 15:04"))
			}
		}
		if len(stats.Grades) > 0 {
			fmt.Println("\nBy grade:")
			for _, g := range feedback.Grades {
				if n := stats.Grades[string(g)]; n > 0 {
					fmt.Printf("  %-3s %d\n", g, n)
				}
			}
		}
		return nil
	},
}

// --- analyze command ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze [file.ipynb | dir]...",
	Short: "Analyze notebooks and save the feedback",
	Long:  "Analyze one notebook with step-by-step output, or several files and directories as a batch.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ownerID, err := resolveOwner()
		if err != nil {
			return err
		}
		files, err := batch.Collect(args)
		if err != nil {
			return err
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if len(files) == 1 && len(args) == 1 && files[0] == args[0] {
			return analyzeOne(cmd.Context(), a, files[0], ownerID)
		}

		fmt.Printf("Analyzing %d notebook(s)...\n", len(files))
		result := batch.NewRunner(a.orch, ownerID).Run(cmd.Context(), files)

		fmt.Println("\nBatch complete:")
		fmt.Printf("  Analyzed: %d\n", result.Processed)
		fmt.Printf("  Failed: %d\n", result.Failed)
		if len(result.Grades) > 0 {
			fmt.Println("\nGrades:")
			for _, g := range feedback.Grades {
				if n := result.Grades[string(g)]; n > 0 {
					fmt.Printf("  %-3s %d\n", g, n)
				}
			}
		}
		if len(result.Failures) > 0 {
			fmt.Println("\nFailures:")
			kinds := make([]string, 0, len(result.Failures))
			for k := range result.Failures {
				kinds = append(kinds, k)
			}
			sort.Strings(kinds)
			for _, k := range kinds {
				fmt.Printf("  %s: %d\n", k, result.Failures[k])
			}
		}
		if result.Failed > 0 {
			return fmt.Errorf("%d of %d notebooks failed", result.Failed, len(files))
		}
		return nil
	},
}

func analyzeOne(ctx context.Context, a *app, path, ownerID string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading notebook: %w", err)
	}

	step := 0
	a.orch.OnStep = func(_ string, s pipeline.StepResult) {
		step++
		if s.Err != nil {
			fmt.Printf("Step %d: %s\n  Error: %v\n", step, s.Stage, s.Err)
			return
		}
		fmt.Printf("Step %d: %s\n  %s\n", step, s.Stage, s.Summary)
	}

	rec, err := a.orch.Analyze(ctx, raw, filepath.Base(path), ownerID)
	if err != nil {
		return err
	}
	fmt.Println()
	printRecord(rec)
	return nil
}

// --- history command ---

var (
	historyLimit  int
	historyOffset int
	historySearch string
	asJSON        bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past analyses, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ownerID, err := resolveOwner()
		if err != nil {
			return err
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		limit := historyLimit
		if limit <= 0 {
			limit = cfg.History.PageSize
		}
		page, err := a.orch.GetHistory(cmd.Context(), ownerID, pipeline.Query{
			PageSize: limit,
			Offset:   historyOffset,
			Search:   historySearch,
		})
		if err != nil {
			return err
		}

		if asJSON {
			return printJSON(page)
		}
		if page.TotalCount == 0 {
			fmt.Println("No analyses yet. Run: scimentor analyze <file.ipynb>")
			return nil
		}
		for _, r := range page.Items {
			fmt.Printf("  %s  %-3s  %s  %s\n", r.ID, r.Feedback.FinalScore,
				r.CreatedAt.Local().Format("2006-01-02 15:04"), r.DocumentPath)
		}
		fmt.Printf("\nShowing %d-%d of %d\n", historyOffset+1, historyOffset+len(page.Items), page.TotalCount)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "Page size (default history.page_size)")
	historyCmd.Flags().IntVar(&historyOffset, "offset", 0, "Number of records to skip")
	historyCmd.Flags().StringVarP(&historySearch, "search", "s", "", "Filter by file name or grade")
	historyCmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	showCmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	showCmd.Flags().StringVar(&downloadPath, "download", "", "Write the stored notebook to this path")
}

var downloadPath string

// --- show / delete commands ---

var showCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show one analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ownerID, err := resolveOwner()
		if err != nil {
			return err
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.orch.GetAnalysis(cmd.Context(), args[0], ownerID)
		if err != nil {
			return err
		}
		if downloadPath != "" {
			data, err := a.orch.GetDocument(cmd.Context(), rec.ID, ownerID)
			if err != nil {
				return err
			}
			if err := os.WriteFile(downloadPath, data, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", downloadPath, err)
			}
			fmt.Fprintf(os.Stderr, "Wrote %s (%d bytes)\n", downloadPath, len(data))
		}
		if asJSON {
			return printJSON(rec)
		}
		printRecord(rec)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete one analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ownerID, err := resolveOwner()
		if err != nil {
			return err
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.orch.RemoveAnalysis(cmd.Context(), args[0], ownerID); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

// --- serve / browse commands ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		srv, err := server.New(a.orch, identity.NewHeaderProvider(cfg.Server.OwnerHeader), cfg.History.PageSize)
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, srv, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default server.port)")
}

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Browse past analyses in the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		ownerID, err := resolveOwner()
		if err != nil {
			return err
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		// Keep pipeline logging out of the alternate screen.
		log.SetOutput(a.logFile())
		return tui.Run(cmd.Context(), a.orch, ownerID, cfg.History.PageSize)
	},
}

func resolveOwner() (string, error) {
	return identity.Static(owner).OwnerID(nil)
}

func printRecord(rec *pipeline.Record) {
	fmt.Printf("Analysis %s\n", rec.ID)
	fmt.Printf("  Notebook: %s\n", rec.DocumentPath)
	fmt.Printf("  Grade:    %s\n", rec.Feedback.FinalScore)
	fmt.Printf("  Date:     %s\n", rec.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("  Took:     %d ms\n\n", rec.ProcessingTimeMs)
	fmt.Println(rec.Feedback.GlobalEvaluation)

	points := append([]feedback.Point(nil), rec.Feedback.Points...)
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Severity.Rank() < points[j].Severity.Rank()
	})
	for _, p := range points {
		fmt.Printf("\n[%s] %s (cell %d)\n", strings.ToUpper(string(p.Severity)), p.Criterion, p.CellIndex)
		fmt.Printf("  %s\n  Suggestion: %s\n", p.Comment, p.Suggestion)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
