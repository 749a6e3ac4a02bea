package detector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// Model describes a wake word model found on disk
type Model struct {
	ID                string   `json:"id"`
	Kind              Kind     `json:"type"`
	WakeWord          string   `json:"wake_word"`
	TrainedLanguages  []string `json:"trained_languages"`
	ConfigPath        string   `json:"config_path"`
	ModelPath         string   `json:"model_path"`
	ProbabilityCutoff float32  `json:"probability_cutoff,omitempty"`
	SlidingWindowSize int      `json:"sliding_window_size,omitempty"`
}

// modelFile is the on-disk model descriptor
type modelFile struct {
	Type             string   `json:"type"`
	WakeWord         string   `json:"wake_word"`
	TrainedLanguages []string `json:"trained_languages"`
	Model            string   `json:"model"`
	Micro            *struct {
		ProbabilityCutoff float32 `json:"probability_cutoff"`
		SlidingWindowSize int     `json:"sliding_window_size"`
	} `json:"micro"`
}

// Default micro model parameters when the descriptor omits them
const (
	defaultMicroCutoff     = 0.97
	defaultMicroWindowSize = 5
)

// LoadModel reads a single model descriptor. The model id is the file name without extension.
func LoadModel(configPath string) (Model, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return Model{}, fmt.Errorf("failed to read model config %s: %w", configPath, err)
	}

	var file modelFile
	if err := json.Unmarshal(data, &file); err != nil {
		return Model{}, fmt.Errorf("failed to parse model config %s: %w", configPath, err)
	}

	kind := Kind(file.Type)
	if kind != KindMicro && kind != KindOpenWakeWord {
		return Model{}, fmt.Errorf("model config %s has unsupported type '%s'", configPath, file.Type)
	}

	if file.Model == "" {
		return Model{}, fmt.Errorf("model config %s has no model file", configPath)
	}

	id := strings.TrimSuffix(filepath.Base(configPath), filepath.Ext(configPath))
	model := Model{
		ID:               id,
		Kind:             kind,
		WakeWord:         file.WakeWord,
		TrainedLanguages: file.TrainedLanguages,
		ConfigPath:       configPath,
		ModelPath:        filepath.Join(filepath.Dir(configPath), file.Model),
	}
	if model.WakeWord == "" {
		model.WakeWord = id
	}

	if kind == KindMicro {
		model.ProbabilityCutoff = defaultMicroCutoff
		model.SlidingWindowSize = defaultMicroWindowSize
		if file.Micro != nil {
			if file.Micro.ProbabilityCutoff > 0 {
				model.ProbabilityCutoff = file.Micro.ProbabilityCutoff
			}
			if file.Micro.SlidingWindowSize > 0 {
				model.SlidingWindowSize = file.Micro.SlidingWindowSize
			}
		}
	}

	return model, nil
}

// Catalog is the set of models found on disk, split into wake words and the stop model
type Catalog struct {
	WakeWords map[string]Model
	Stop      *Model
}

// LoadCatalog scans dirs for *.json descriptors. Later directories override earlier ones.
// The model named stopID is returned separately and never listed as a wake word.
// Descriptors that fail to parse are returned in skipped rather than failing the scan.
func LoadCatalog(dirs []string, stopID string) (*Catalog, map[string]error, error) {
	catalog := &Catalog{WakeWords: make(map[string]Model)}
	skipped := make(map[string]error)

	for _, dir := range dirs {
		paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan %s: %w", dir, err)
		}

		for _, path := range paths {
			model, err := LoadModel(path)
			if err != nil {
				skipped[path] = err
				continue
			}

			if model.ID == stopID {
				stop := model
				catalog.Stop = &stop
				continue
			}
			catalog.WakeWords[model.ID] = model
		}
	}

	return catalog, skipped, nil
}

// IDs returns the wake word ids in sorted order
func (c *Catalog) IDs() []string {
	ids := lo.Keys(c.WakeWords)
	sort.Strings(ids)
	return ids
}
