package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yejinpRE/plan-checker/internal/monitoring"
	"github.com/yejinpRE/plan-checker/internal/repository"
)

// DefaultWorkers bounds concurrent batch extraction when none is configured.
const DefaultWorkers = 4

// BatchFile is one document of a batch upload.
type BatchFile struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// BatchResult summarises a batch run.
type BatchResult struct {
	BatchID   string              `json:"batch_id"`
	Entries   []*repository.Entry `json:"entries"`
	Extracted int                 `json:"extracted"`
	Failed    []string            `json:"failed"`
	Duration  time.Duration       `json:"-"`
}

// Runner scores many documents concurrently into the repository.
type Runner struct {
	analyzer *Analyzer
	repo     *repository.Repository
	workers  int
	logger   *monitoring.Logger
}

// NewRunner creates a batch runner. Non-positive workers selects DefaultWorkers.
func NewRunner(a *Analyzer, repo *repository.Repository, workers int, logger *monitoring.Logger) *Runner {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Runner{analyzer: a, repo: repo, workers: workers, logger: logger}
}

// CaseID derives the repository key from an uploaded file name.
func CaseID(name string) string {
	return filepath.Base(filepath.Clean("/" + filepath.ToSlash(name)))
}

// DuplicateCaseError is returned when two files of one batch map to the
// same case id.
type DuplicateCaseError struct {
	CaseID string
	Files  []string
}

func (e *DuplicateCaseError) Error() string {
	return fmt.Sprintf("case id %s is shared by %s", e.CaseID, strings.Join(e.Files, ", "))
}

// caseIDs derives one case id per file and rejects unusable or repeated ids.
func caseIDs(files []BatchFile) ([]string, error) {
	ids := make([]string, len(files))
	first := make(map[string]int, len(files))
	for i, f := range files {
		id := CaseID(f.Name)
		if id == "" || id == "/" || id == "." {
			return nil, fmt.Errorf("file %d has no usable name", i)
		}
		if j, dup := first[id]; dup {
			return nil, &DuplicateCaseError{CaseID: id, Files: []string{files[j].Name, f.Name}}
		}
		first[id] = i
		ids[i] = id
	}
	return ids, nil
}

// Run extracts and scores every file, then writes one repository row per
// case id in a single transaction. Extraction failures are recorded as zero
// rows. Any other failure aborts the run and leaves the repository untouched.
func (r *Runner) Run(ctx context.Context, files []BatchFile) (*BatchResult, error) {
	start := time.Now()

	ids, err := caseIDs(files)
	if err != nil {
		return nil, err
	}

	batchID := repository.NewBatchID()
	entries := make([]*repository.Entry, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			entry, err := r.scoreFile(ids[i], batchID, f)
			if err != nil {
				return err
			}
			entries[i] = entry
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := r.repo.UpsertAll(ctx, entries); err != nil {
		return nil, err
	}

	result := &BatchResult{
		BatchID:  batchID,
		Entries:  entries,
		Failed:   []string{},
		Duration: time.Since(start),
	}
	for _, e := range entries {
		if e.Extracted {
			result.Extracted++
		} else {
			result.Failed = append(result.Failed, e.CaseID)
		}
	}

	if r.logger != nil {
		r.logger.BatchLogger(batchID, len(entries), result.Extracted, len(result.Failed), result.Duration)
	}
	return result, nil
}

func (r *Runner) scoreFile(caseID, batchID string, f BatchFile) (*repository.Entry, error) {
	if f.Open == nil {
		return nil, errors.New("batch file has no content")
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", caseID, err)
	}
	defer rc.Close()

	text, res, ok := r.analyzer.extractor.ExtractDetailed(rc)
	if r.logger != nil {
		r.logger.ExtractionLogger(caseID, res.MIME, ok, len(text), res.Reason)
	}

	entry := repository.NewEntry(caseID, batchID, r.analyzer.rulebook.Score(text))
	entry.Extracted = ok
	entry.MIMEType = res.MIME
	return entry, nil
}
