package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/yejinpRE/plan-checker/internal/config"
	"github.com/yejinpRE/plan-checker/internal/monitoring"
	"github.com/yejinpRE/plan-checker/internal/pipeline"
)

// options are the persistent flags shared by every subcommand.
type options struct {
	rulebookPath string
	modelPath    string
	logLevel     string
	maxBytes     int64
	adminSecret  string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "plancheck",
		Short: "Score planning documents and predict approval",
		Long: `plancheck scores planning statements, committee reports and appeal
decisions against a weighted lexicon, aggregates the scores into document
variables, and predicts the probability that an application is approved.

Artifact paths default to RULEBOOK_PATH and MODEL_PATH from the environment
or a .env file; when those are unset the embedded artifacts are used.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("lexicon") {
				opts.rulebookPath = cfg.RulebookPath
			}
			if !cmd.Flags().Changed("model") {
				opts.modelPath = cfg.ModelPath
			}
			if !cmd.Flags().Changed("log-level") {
				opts.logLevel = cfg.LogLevel
			}
			if !cmd.Flags().Changed("max-bytes") {
				opts.maxBytes = cfg.MaxUploadBytes
			}
			opts.adminSecret = cfg.AdminSecret
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.rulebookPath, "lexicon", "", "lexicon YAML file (default: embedded)")
	cmd.PersistentFlags().StringVar(&opts.modelPath, "model", "", "coefficient table YAML file (default: embedded)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level for stderr logs")
	cmd.PersistentFlags().Int64Var(&opts.maxBytes, "max-bytes", 0, "per-document size limit in bytes")

	cmd.AddCommand(
		newScoreCmd(opts),
		newAnalyzeCmd(opts),
		newBatchCmd(opts),
		newModelCmd(opts),
		newTokenCmd(opts),
	)

	return cmd
}

// logger writes JSON logs to the command's stderr.
func (o *options) logger(cmd *cobra.Command) *monitoring.Logger {
	logger := monitoring.NewLoggerTo(cmd.ErrOrStderr(), monitoring.ParseLevel(o.logLevel))
	slog.SetDefault(logger.Logger)
	return logger
}

func (o *options) analyzer(cmd *cobra.Command) (*pipeline.Analyzer, error) {
	return pipeline.Load(o.rulebookPath, o.modelPath, o.maxBytes, o.logger(cmd))
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func openFile(path string) (io.ReadCloser, error) {
	return os.Open(path)
}
