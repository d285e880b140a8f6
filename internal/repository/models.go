package repository

import (
	"time"

	"github.com/google/uuid"

	"github.com/yejinpRE/plan-checker/internal/rulebook"
)

// Entry is one scored document in the batch repository, keyed by case id.
type Entry struct {
	ID        string            `json:"id"`
	CaseID    string            `json:"case_id"`
	BatchID   string            `json:"batch_id"`
	Extracted bool              `json:"extracted"`
	MIMEType  string            `json:"mime_type,omitempty"`
	Scores    rulebook.ScoreMap `json:"scores"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// NewEntry creates an entry with a generated id. A nil score map is stored as zeros.
func NewEntry(caseID, batchID string, scores rulebook.ScoreMap) *Entry {
	now := time.Now().UTC()
	if !scores.Present() {
		scores = rulebook.Zero()
	}
	return &Entry{
		ID:        uuid.New().String(),
		CaseID:    caseID,
		BatchID:   batchID,
		Extracted: true,
		Scores:    scores.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewBatchID returns a fresh identifier for one batch run.
func NewBatchID() string {
	return uuid.New().String()
}
