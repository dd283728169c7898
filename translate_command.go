package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harrywu96/AniverseGateway-sub001/internal/db"
	"github.com/harrywu96/AniverseGateway-sub001/internal/profile"
	"github.com/harrywu96/AniverseGateway-sub001/internal/storage"
	"github.com/harrywu96/AniverseGateway-sub001/internal/subtitle"
	"github.com/harrywu96/AniverseGateway-sub001/internal/subtitle/pipeline"
	"github.com/harrywu96/AniverseGateway-sub001/internal/subtitle/translate"
)

type translateOptions struct {
	sel        profile.Selection
	presetName string
	format     string
}

func newTranslateCommand(ctx *commandContext) *cobra.Command {
	var opts translateOptions

	cmd := &cobra.Command{
		Use:   "translate <input> <output>",
		Short: "Translate one subtitle file",
		Long: "Translate one SRT or WebVTT file and write the result. Entries that could not\n" +
			"be translated keep their source text and are listed when the run ends.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranslate(cmd, ctx, opts, args[0], args[1])
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.sel.TargetLanguage, "to", "t", "", "Target language (defaults to the configured one)")
	flags.StringVarP(&opts.sel.SourceLanguage, "from", "f", "", "Source language (guessed from the file name when omitted)")
	flags.StringVar(&opts.sel.Style, "style", "", "Translation style: anime, movie, documentary or custom")
	flags.StringVar(&opts.sel.CustomPrompt, "prompt", "", "Extra instructions for the model")
	flags.StringVar(&opts.sel.Model, "model", "", "Override the backend model")
	flags.StringVarP(&opts.sel.ProfileName, "profile", "p", "", "Stored backend profile to use")
	flags.StringVar(&opts.presetName, "preset", "", "Stored translation preset (name or ID)")
	flags.IntVar(&opts.sel.MaxEntries, "batch", 0, "Maximum entries per backend call")
	flags.IntVar(&opts.sel.ContextSize, "context", 0, "Preceding entries sent as context")
	flags.IntVar(&opts.sel.Parallelism, "parallel", 0, "Batches in flight at once")
	flags.StringVar(&opts.format, "format", "", "Output format: srt or vtt (defaults to the output extension)")
	return cmd
}

func runTranslate(cmd *cobra.Command, ctx *commandContext, opts translateOptions, inPath, outPath string) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := ctx.logger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	data, err := os.ReadFile(inPath)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	doc, err := subtitle.Parse(inPath, data)
	if err != nil {
		return fmt.Errorf("%s: %w", inPath, err)
	}
	format, err := outputFormat(opts.format, outPath, doc.Format)
	if err != nil {
		return err
	}

	var store profile.Store
	if opts.sel.ProfileName != "" || opts.presetName != "" {
		database, err := db.NewSQLite(cfg.Server.DBPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer database.Close()
		store = database
		if opts.presetName != "" {
			id, err := findPreset(database, opts.presetName)
			if err != nil {
				return err
			}
			opts.sel.PresetID = id
		}
	}
	backend, params, err := profile.NewProvider(store, providerDefaults(cfg)).Resolve(opts.sel)
	if err != nil {
		return err
	}
	if params.SourceLanguage == "" {
		params.SourceLanguage = translate.DetectSourceLang(inPath)
	}

	adapter, err := translate.New(backend, translate.WithLogger(logger))
	if err != nil {
		return err
	}
	orch := pipeline.New(adapter, pipeline.WithLimiter(newLimiter(cfg)), pipeline.WithLogger(logger))

	runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	progress := newProgressReporter(cmd.ErrOrStderr(), logger)
	res, err := orch.TranslateDocument(runCtx, doc, params, pipeline.Hooks{Progress: progress.update})
	progress.finish()
	if err != nil {
		return err
	}

	outcome := res.Outcome
	if errors.Is(outcome.Err(), pipeline.ErrAllBatchesFailed) {
		printUntranslated(cmd.OutOrStdout(), outcome)
		return outcome.Err()
	}
	rendered := subtitle.Render(subtitle.Convert(res.Document, format))
	if err := storage.WriteFile(cmd.Context(), outPath, []byte(rendered)); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Wrote %s (%d entries, %s -> %s, %s)\n",
		outPath, len(res.Document.Entries), params.SourceLanguage, params.TargetLanguage, adapter.Name())
	if outcome.Cancelled {
		fmt.Fprintln(out, "Run was interrupted; untranslated entries keep their source text")
	}
	printUntranslated(out, outcome)
	return nil
}

func outputFormat(flag, outPath string, fallback subtitle.Format) (subtitle.Format, error) {
	choice := strings.ToLower(strings.TrimSpace(flag))
	if choice == "" {
		choice = strings.TrimPrefix(strings.ToLower(filepath.Ext(outPath)), ".")
	}
	switch choice {
	case string(subtitle.FormatSRT):
		return subtitle.FormatSRT, nil
	case string(subtitle.FormatVTT):
		return subtitle.FormatVTT, nil
	case "":
		return fallback, nil
	}
	if flag != "" {
		return "", fmt.Errorf("unsupported output format %q (want srt or vtt)", flag)
	}
	return fallback, nil
}

func findPreset(database *db.Database, nameOrID string) (int64, error) {
	if id, err := strconv.ParseInt(nameOrID, 10, 64); err == nil {
		return id, nil
	}
	presets, err := database.ListTranslationPresets()
	if err != nil {
		return 0, err
	}
	for _, p := range presets {
		if strings.EqualFold(p.Name, nameOrID) {
			return p.ID, nil
		}
	}
	return 0, fmt.Errorf("preset %q: %w", nameOrID, db.ErrNotFound)
}

func printUntranslated(w io.Writer, outcome *pipeline.Outcome) {
	missing := outcome.Untranslated()
	if len(missing) == 0 {
		return
	}
	rows := make([][]string, 0, len(missing))
	for _, r := range missing {
		rows = append(rows, []string{strconv.Itoa(r.Index), r.Reason, truncate(r.Source, 48)})
	}
	fmt.Fprintf(w, "%d of %d entries were not translated:\n", len(missing), len(outcome.Results))
	fmt.Fprintln(w, renderTable([]string{"#", "Reason", "Text"}, rows, []columnAlignment{alignRight}))
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " / ")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

// progressReporter draws a bar on terminals and logs batch counts otherwise
type progressReporter struct {
	w      io.Writer
	tty    bool
	logger *zap.Logger
	bar    *progressbar.ProgressBar
}

func newProgressReporter(w io.Writer, logger *zap.Logger) *progressReporter {
	tty := false
	if f, ok := w.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &progressReporter{w: w, tty: tty, logger: logger}
}

func (p *progressReporter) update(completed, total int) {
	if !p.tty {
		p.logger.Info("batch finished", zap.Int("completed", completed), zap.Int("total", total))
		return
	}
	if p.bar == nil {
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(p.w),
			progressbar.OptionSetDescription("translating"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}
	p.bar.Set(completed)
}

func (p *progressReporter) finish() {
	if p.bar != nil {
		p.bar.Finish()
	}
}
