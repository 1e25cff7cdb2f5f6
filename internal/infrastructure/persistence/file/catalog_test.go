package file

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/mastery-engine/internal/domain/catalog"
	"github.com/alem-hub/mastery-engine/internal/domain/shared"
)

func TestLoadCatalog(t *testing.T) {
	problems, err := LoadCatalog(filepath.Join("testdata", "catalog.yaml"))
	require.NoError(t, err)
	require.Len(t, problems, 3)
	assert.Equal(t, catalog.ProblemSummary{
		ID: "lru-cache", Category: "design", Difficulty: catalog.DifficultyIntermediate, XPReward: 100,
	}, problems[1])
}

func TestLoadCatalog_MissingFile(t *testing.T) {
	_, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParseCatalog(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantLen    int
		wantErr    bool
		validation bool
	}{
		{name: "empty document", input: "", wantLen: 0},
		{name: "empty list", input: "problems: []\n", wantLen: 0},
		{
			name:    "unknown key",
			input:   "problems:\n  - id: a\n    difficulty: beginner\n    reward: 5\n",
			wantErr: true,
		},
		{
			name:       "bad difficulty",
			input:      "problems:\n  - id: a\n    difficulty: legendary\n",
			wantErr:    true,
			validation: true,
		},
		{
			name:    "duplicate id",
			input:   "problems:\n  - id: a\n    difficulty: beginner\n  - id: a\n    difficulty: advanced\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCatalog([]byte(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.validation, shared.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.wantLen)
		})
	}
}
