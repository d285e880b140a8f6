package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/yejinpRE/plan-checker/internal/contextvars"
	"github.com/yejinpRE/plan-checker/internal/pipeline"
	"github.com/yejinpRE/plan-checker/internal/repository"
	"github.com/yejinpRE/plan-checker/internal/rulebook"
	"github.com/yejinpRE/plan-checker/internal/security"
	"github.com/yejinpRE/plan-checker/internal/types"
)

// scoredFile is one line of `plancheck score` output.
type scoredFile struct {
	CaseID    string            `json:"case_id"`
	Extracted bool              `json:"extracted"`
	Scores    rulebook.ScoreMap `json:"scores"`
	Evidence  []rulebook.Match  `json:"evidence,omitempty"`
}

func newScoreCmd(opts *options) *cobra.Command {
	var evidence bool

	cmd := &cobra.Command{
		Use:   "score FILE...",
		Short: "Score documents against the lexicon",
		Long: `Extracts the text of each file (plain text, HTML or PDF) and prints its
score on every rulebook dimension. Files that cannot be extracted score zero.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.analyzer(cmd)
			if err != nil {
				return err
			}

			out := make([]scoredFile, 0, len(args))
			for _, path := range args {
				text, ok, err := extractFile(a, pipeline.RolePlanningStatement, path)
				if err != nil {
					return err
				}
				sf := scoredFile{
					CaseID:    pipeline.CaseID(path),
					Extracted: ok,
					Scores:    a.Rulebook().Score(text),
				}
				if evidence {
					sf.Evidence = a.Rulebook().Evidence(text)
				}
				out = append(out, sf)
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().BoolVar(&evidence, "evidence", false, "include the matched lexicon phrases")
	return cmd
}

func newAnalyzeCmd(opts *options) *cobra.Command {
	var (
		psPath, crPath, apPath string
		contextPath            string
		in                     = contextvars.Defaults()
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Predict the approval probability of one case",
		Long: `Scores the planning statement, committee report and appeal decision of
one case, builds the context variables and prints the prediction.

At least one of --ps or --cr is required. Context inputs start from the
defaults, then the --context YAML file, then individual flags.

Examples:
  plancheck analyze --ps statement.pdf --cr report.pdf --housing-pressure 2.5
  plancheck analyze --cr report.txt --context site.yaml --gb-flag 1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := contextInputs(cmd, contextPath, in)
			if err != nil {
				return err
			}

			a, err := opts.analyzer(cmd)
			if err != nil {
				return err
			}

			var docs pipeline.Documents
			for _, slot := range []struct {
				path string
				role pipeline.Role
				dst  *string
			}{
				{psPath, pipeline.RolePlanningStatement, &docs.PlanningStatement},
				{crPath, pipeline.RoleCommitteeReport, &docs.CommitteeReport},
				{apPath, pipeline.RoleAppealDecision, &docs.AppealDecision},
			} {
				if slot.path == "" {
					continue
				}
				text, ok, err := extractFile(a, slot.role, slot.path)
				if err != nil {
					return err
				}
				if !ok {
					slog.Warn("Document could not be extracted and is treated as absent", "role", slot.role, "path", slot.path)
				}
				*slot.dst = text
			}

			result, err := a.Analyze(cmd.Context(), docs, inputs)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), types.AnalyzeResponse{
				Case:             result,
				ProcessingTimeMs: result.Duration.Milliseconds(),
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&psPath, "ps", "", "planning statement file")
	f.StringVar(&crPath, "cr", "", "committee report file")
	f.StringVar(&apPath, "ap", "", "appeal decision file")
	f.StringVar(&contextPath, "context", "", "YAML file of context inputs")
	f.Float64Var(&in.HousingPressure, "housing-pressure", in.HousingPressure, "housing pressure, 0 to 3")
	f.IntVar(&in.TBStatus, "tb-status", in.TBStatus, "tilted balance status: 0, 1 or 2")
	f.IntVar(&in.PlanAge, "plan-age", in.PlanAge, "local plan age: 0, 1 or 2")
	f.Float64Var(&in.CommitteeAttitude, "committee-attitude", in.CommitteeAttitude, "committee attitude, 0 to 3")
	f.IntVar(&in.GBFlag, "gb-flag", in.GBFlag, "green belt site: 0 or 1")
	f.IntVar(&in.FloodzoneLevel, "floodzone-level", in.FloodzoneLevel, "flood zone: 0 to 3")

	return cmd
}

// contextInputs layers the YAML file under any explicitly set flags.
func contextInputs(cmd *cobra.Command, path string, flags contextvars.Inputs) (contextvars.Inputs, error) {
	if path == "" {
		return flags, nil
	}
	in, err := contextvars.LoadInputs(path)
	if err != nil {
		return contextvars.Inputs{}, err
	}

	f := cmd.Flags()
	if f.Changed("housing-pressure") {
		in.HousingPressure = flags.HousingPressure
	}
	if f.Changed("tb-status") {
		in.TBStatus = flags.TBStatus
	}
	if f.Changed("plan-age") {
		in.PlanAge = flags.PlanAge
	}
	if f.Changed("committee-attitude") {
		in.CommitteeAttitude = flags.CommitteeAttitude
	}
	if f.Changed("gb-flag") {
		in.GBFlag = flags.GBFlag
	}
	if f.Changed("floodzone-level") {
		in.FloodzoneLevel = flags.FloodzoneLevel
	}
	return in, nil
}

func newBatchCmd(opts *options) *cobra.Command {
	var (
		dsn     string
		workers int
	)

	cmd := &cobra.Command{
		Use:   "batch PATH...",
		Short: "Score many documents into the repository",
		Long: `Scores every file named, or every regular file in each directory named,
and upserts one repository row per case id. The case id is the file name.
With --db the rows persist in that SQLite database.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := expandPaths(args)
			if err != nil {
				return err
			}

			a, err := opts.analyzer(cmd)
			if err != nil {
				return err
			}

			db, err := repository.Open(dsn)
			if err != nil {
				return fmt.Errorf("failed to open repository: %w", err)
			}
			defer db.Close()

			files := make([]pipeline.BatchFile, 0, len(paths))
			for _, p := range paths {
				files = append(files, pipeline.BatchFile{Name: p, Open: func() (io.ReadCloser, error) { return openFile(p) }})
			}

			runner := pipeline.NewRunner(a, repository.NewRepository(db), workers, opts.logger(cmd))
			result, err := runner.Run(cmd.Context(), files)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), types.BatchResponse{
				BatchResult:      result,
				ProcessingTimeMs: result.Duration.Milliseconds(),
			})
		},
	}

	cmd.Flags().StringVar(&dsn, "db", "", "SQLite database file (default: in-memory)")
	cmd.Flags().IntVar(&workers, "workers", pipeline.DefaultWorkers, "concurrent documents")
	return cmd
}

// expandPaths replaces each directory with its regular files, sorted by name.
func expandPaths(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		var names []string
		for _, e := range entries {
			if e.Type().IsRegular() {
				names = append(names, filepath.Join(arg, e.Name()))
			}
		}
		sort.Strings(names)
		paths = append(paths, names...)
	}
	return paths, nil
}

func newModelCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "model",
		Short: "Print the loaded coefficient table and lexicon summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.analyzer(cmd)
			if err != nil {
				return err
			}
			rb := a.Rulebook()
			table := a.Model().Table()
			return writeJSON(cmd.OutOrStdout(), types.ModelResponse{
				Model:           &table,
				LexiconVersion:  rb.Version(),
				LexiconRules:    rb.RuleCount(),
				MaxScore:        rb.MaxScore(),
				Dimensions:      rulebook.Dimensions(),
				ContextDefaults: contextvars.Defaults(),
			})
		},
	}
}

func newTokenCmd(opts *options) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin token for the server's operator routes",
		Long: `Signs a bearer token with ADMIN_SECRET. The server requires it on
DELETE /repository and DELETE /ratelimit/{ip} when ADMIN_SECRET is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := security.NewAdminAuth(opts.adminSecret).IssueToken(subject, ttl)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]string{
				"token":      token,
				"subject":    subject,
				"expires_at": time.Now().Add(ttl).UTC().Format(time.RFC3339),
			})
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

// extractFile reads one document. An unreadable file is an error; an
// unextractable one is an absent document.
func extractFile(a *pipeline.Analyzer, role pipeline.Role, path string) (string, bool, error) {
	f, err := openFile(path)
	if err != nil {
		return "", false, err
	}
	defer f.Close()

	text, ok := a.Extract(role, f)
	return text, ok, nil
}
