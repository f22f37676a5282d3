package search

import (
	"embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed config/tuning.yaml
var configFiles embed.FS

// Tuning holds the search engine settings shared by the adapter and the
// synchronization service
type Tuning struct {
	Tokenizer string `yaml:"tokenizer"`

	Suggestions struct {
		DefaultLimit int `yaml:"default_limit"`
		MaxLimit     int `yaml:"max_limit"`
	} `yaml:"suggestions"`

	Snippet struct {
		MaxTokens int    `yaml:"max_tokens"`
		StartMark string `yaml:"start_mark"`
		EndMark   string `yaml:"end_mark"`
		Ellipsis  string `yaml:"ellipsis"`
	} `yaml:"snippet"`

	Reindex struct {
		PageSize int `yaml:"page_size"`
	} `yaml:"reindex"`
}

// LoadTuning parses the embedded tuning YAML
func LoadTuning() (*Tuning, error) {
	data, err := configFiles.ReadFile("config/tuning.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read tuning config: %w", err)
	}

	var tuning Tuning
	if err := yaml.Unmarshal(data, &tuning); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tuning config: %w", err)
	}

	tuning.applyDefaults()
	return &tuning, nil
}

// applyDefaults fills in safe values for unset fields
func (t *Tuning) applyDefaults() {
	if t.Tokenizer == "" {
		t.Tokenizer = "porter unicode61"
	}
	if t.Suggestions.DefaultLimit <= 0 {
		t.Suggestions.DefaultLimit = 10
	}
	if t.Suggestions.MaxLimit <= 0 {
		t.Suggestions.MaxLimit = 50
	}
	if t.Snippet.MaxTokens <= 0 {
		t.Snippet.MaxTokens = 32
	}
	if t.Snippet.Ellipsis == "" {
		t.Snippet.Ellipsis = "..."
	}
	if t.Reindex.PageSize <= 0 {
		t.Reindex.PageSize = 200
	}
}
