package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yejinpRE/plan-checker/internal/model"
	"github.com/yejinpRE/plan-checker/internal/rulebook"
)

func TestLoad_EmbeddedArtifacts(t *testing.T) {
	a, err := Load("", "", 0, nil)
	require.NoError(t, err)

	rb, err := rulebook.Default()
	require.NoError(t, err)
	m, err := model.Default()
	require.NoError(t, err)

	assert.Equal(t, rb.Version(), a.Rulebook().Version())
	assert.Equal(t, m.Version(), a.Model().Version())
	assert.Greater(t, a.Extractor().MaxBytes(), int64(0))
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("version: [\n"), 0o644))

	tests := []struct {
		name         string
		rulebookPath string
		modelPath    string
	}{
		{"missing lexicon", filepath.Join(dir, "absent.yaml"), ""},
		{"missing model", "", filepath.Join(dir, "absent.yaml")},
		{"malformed lexicon", broken, ""},
		{"malformed model", "", broken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Load(tt.rulebookPath, tt.modelPath, 0, nil)
			assert.Error(t, err)
			assert.Nil(t, a)
		})
	}
}
