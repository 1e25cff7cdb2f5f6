// Package file loads the problem catalog from a YAML document on disk.
package file

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/alem-hub/mastery-engine/internal/domain/catalog"
)

// catalogDocument is the on-disk layout:
//
//	problems:
//	  - id: two-sum
//	    category: arrays
//	    difficulty: beginner
//	    xpReward: 50
type catalogDocument struct {
	Problems []catalog.ProblemSummary `yaml:"problems"`
}

// LoadCatalog reads and validates the catalog at path.
func LoadCatalog(path string) ([]catalog.ProblemSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	problems, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return problems, nil
}

// ParseCatalog decodes a catalog document. Unknown keys are rejected so
// typos in the file fail loudly instead of producing zero-valued fields.
func ParseCatalog(data []byte) ([]catalog.ProblemSummary, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc catalogDocument
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return []catalog.ProblemSummary{}, nil
		}
		return nil, fmt.Errorf("decode: %w", err)
	}

	seen := make(map[string]struct{}, len(doc.Problems))
	for _, p := range doc.Problems {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("duplicate problem id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	if doc.Problems == nil {
		doc.Problems = []catalog.ProblemSummary{}
	}
	return doc.Problems, nil
}
