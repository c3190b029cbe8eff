package main

import (
	stderrors "errors"
	"fmt"
	"os"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/edudata/quantize/internal/session"
	"github.com/edudata/quantize/pkg/config"
	"github.com/edudata/quantize/pkg/errors"
	"github.com/edudata/quantize/pkg/export"
	"github.com/edudata/quantize/pkg/generator"
	"github.com/edudata/quantize/pkg/logger"
	"github.com/edudata/quantize/pkg/models"
	"github.com/edudata/quantize/pkg/report"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "quantize",
		Short: "Quantize - Crash-resistant student record cleaning",
		Long: `Quantize ingests student record files of unpredictable size and quality,
maps messy column headers onto a canonical vocabulary, and partitions the
records into clean and duplicate sets without ever loading more than one
chunk into memory.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Quantize v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(newCleanCmd())
	root.AddCommand(newGenerateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCleanCmd() *cobra.Command {
	var (
		configFile string
		cleanPath  string
		dupPath    string
		reportPath string
		nameCol    string
		dobCol     string
		yearCol    string
		fuzzy      bool
		threshold  int
		scorer     string
		chunkSize  int
		noClassify bool
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "clean <input-file>",
		Short: "Detect and split out duplicate student records",
		Long: `Clean a student record file. The input format is detected from the
extension (.csv, .tsv, .xlsx, .xls); output format likewise, except that
legacy .xls cannot be written.

Example:
  quantize clean students.xlsx --clean clean.csv --duplicates dups.csv --fuzzy --threshold 85`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configFile != "" {
				loaded, err := config.Load(configFile)
				if err != nil {
					return err
				}
				cfg = loaded
			}

			// command line flags override the file
			if cmd.Flags().Changed("name-col") {
				cfg.Identity.NameColumn = nameCol
			}
			if cmd.Flags().Changed("dob-col") {
				cfg.Identity.DOBColumn = dobCol
			}
			if cmd.Flags().Changed("year-col") {
				cfg.Identity.YearColumn = yearCol
			}
			if cmd.Flags().Changed("fuzzy") {
				cfg.Matching.Fuzzy = fuzzy
			}
			if cmd.Flags().Changed("threshold") {
				cfg.Matching.Threshold = threshold
			}
			if cmd.Flags().Changed("scorer") {
				cfg.Matching.Scorer = scorer
			}
			if cmd.Flags().Changed("chunk-size") {
				cfg.Ingest.ChunkSize = chunkSize
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Logging.Level = logLevel
			}

			if err := logger.Init(logger.Config{
				Level:    cfg.Logging.Level,
				Encoding: "console",
			}); err != nil {
				return err
			}
			defer logger.Sync()

			return runClean(cfg, args[0], cleanPath, dupPath, reportPath, !noClassify)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to a YAML configuration file (optional)")
	cmd.Flags().StringVar(&cleanPath, "clean", "clean.csv", "Destination for the clean partition")
	cmd.Flags().StringVar(&dupPath, "duplicates", "duplicates.csv", "Destination for the duplicate partition")
	cmd.Flags().StringVar(&reportPath, "report", "", "Write a JSON run report to this path (optional)")
	cmd.Flags().StringVar(&nameCol, "name-col", "StudentName", "Column holding the student name")
	cmd.Flags().StringVar(&dobCol, "dob-col", "DateOfBirth", "Column holding the date of birth")
	cmd.Flags().StringVar(&yearCol, "year-col", "AcademicYear", "Column holding the academic year")
	cmd.Flags().BoolVar(&fuzzy, "fuzzy", false, "Match names by similarity within (dob, year) groups")
	cmd.Flags().IntVar(&threshold, "threshold", 90, "Similarity threshold for fuzzy matching (50-100)")
	cmd.Flags().StringVar(&scorer, "scorer", "levenshtein", "Similarity strategy (levenshtein, basic)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 10000, "Records per processing chunk")
	cmd.Flags().BoolVar(&noClassify, "no-classify", false, "Skip header classification; use column names as-is")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	return cmd
}

func runClean(cfg *config.CleaningConfig, input, cleanPath, dupPath, reportPath string, classify bool) error {
	s, err := session.New(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	go func() {
		for ev := range s.Guard().Events() {
			fmt.Fprintf(os.Stderr, "memory warning: %s (dump: %s)\n", ev.Reason, ev.Path)
		}
	}()

	done := make(chan *models.Outcome, 1)
	fail := make(chan error, 1)
	lastMsg := ""
	s.Run(input, cleanPath, dupPath, classify, session.Callbacks{
		Progress: func(pct int, msg string) {
			if msg == lastMsg {
				return
			}
			lastMsg = msg
			if pct < 0 {
				fmt.Printf("  %s\n", msg)
			} else {
				fmt.Printf("  [%3d%%] %s\n", pct, msg)
			}
		},
		Done:  func(out *models.Outcome) { done <- out },
		Error: func(err error) { fail <- err },
	})

	var out *models.Outcome
	select {
	case out = <-done:
	case err := <-fail:
		var qerr *errors.Error
		if stderrors.As(err, &qerr) {
			fmt.Fprintln(os.Stderr, qerr.Summary())
			logger.Debug("failure trace", zap.String("trace", qerr.Trace()))
			return fmt.Errorf("cleaning failed: %s", qerr.Summary())
		}
		return err
	}
	s.Wait()

	r := report.New()
	r.SetStats(out.Stats)
	r.AddSection("source", map[string]string{"file": input})
	if res := s.LastExport(); res != nil {
		r.SetExport(res)
	}
	fmt.Println()
	fmt.Print(r.Text())

	if reportPath != "" {
		if err := r.WriteJSON(reportPath); err != nil {
			return err
		}
		fmt.Printf("\nReport written to %s\n", reportPath)
	}
	return nil
}

func newGenerateCmd() *cobra.Command {
	var (
		records  int
		dupRate  float64
		seed     int64
		output   string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a synthetic student dataset with controlled duplicates",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Init(logger.Config{Level: logLevel, Encoding: "console"}); err != nil {
				return err
			}
			defer logger.Sync()

			g := generator.New(seed)
			recs := g.Dataset(records, dupRate)

			if err := export.NewExporter().Write(output, generator.Columns, recs); err != nil {
				return err
			}
			fmt.Printf("Wrote %d records to %s\n", len(recs), output)
			return nil
		},
	}

	cmd.Flags().IntVar(&records, "records", 1000, "Number of unique records to generate")
	cmd.Flags().Float64Var(&dupRate, "duplicate-rate", 0.15, "Fraction of records to duplicate (0.0-1.0)")
	cmd.Flags().Int64Var(&seed, "seed", 1, "Random seed; the same seed reproduces the same dataset")
	cmd.Flags().StringVar(&output, "output", "students.csv", "Destination file (.csv or .xlsx)")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	return cmd
}
