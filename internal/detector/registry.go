package detector

import (
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Registry tracks available models and the detectors loaded from them
type Registry struct {
	mu        sync.RWMutex
	models    map[string]Model
	loaded    map[string]Detector
	stopModel *Model
	stop      Detector
	loader    Loader
}

// NewRegistry creates a registry over a catalog
func NewRegistry(catalog *Catalog, loader Loader) *Registry {
	r := &Registry{
		models: make(map[string]Model),
		loaded: make(map[string]Detector),
		loader: loader,
	}

	if catalog != nil {
		for id, m := range catalog.WakeWords {
			r.models[id] = m
		}
		r.stopModel = catalog.Stop
	}

	return r
}

// Models returns every available wake word model sorted by id
func (r *Registry) Models() []Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	models := lo.Values(r.models)
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models
}

// Model looks up an available model
func (r *Registry) Model(id string) (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	return m, ok
}

// AddModel makes a model available, replacing any previous model with the same id
func (r *Registry) AddModel(m Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[m.ID] = m
}

// IsLoaded reports whether a detector for id has been loaded
func (r *Registry) IsLoaded(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.loaded[id]
	return ok
}

// LoadedIDs returns the ids of loaded wake word detectors in sorted order
func (r *Registry) LoadedIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := lo.Keys(r.loaded)
	sort.Strings(ids)
	return ids
}

// Load returns the detector for id, loading it on first use
func (r *Registry) Load(id string) (Detector, error) {
	r.mu.RLock()
	d, ok := r.loaded[id]
	model, known := r.models[id]
	r.mu.RUnlock()

	if ok {
		return d, nil
	}
	if !known {
		return nil, fmt.Errorf("unknown wake word '%s'", id)
	}

	d, err := r.loader(model)
	if err != nil {
		return nil, fmt.Errorf("failed to load wake word '%s': %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another caller may have won the race
	if existing, ok := r.loaded[id]; ok {
		d.Close()
		return existing, nil
	}
	r.loaded[id] = d
	return d, nil
}

// Detectors returns the loaded detectors for ids, skipping ids that are not loaded
func (r *Registry) Detectors(ids []string) []Detector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.FilterMap(ids, func(id string, _ int) (Detector, bool) {
		d, ok := r.loaded[id]
		return d, ok
	})
}

// LoadStop loads the stop detector. It returns nil without error when no stop model exists.
func (r *Registry) LoadStop() (Detector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stop != nil {
		return r.stop, nil
	}
	if r.stopModel == nil {
		return nil, nil
	}

	d, err := r.loader(*r.stopModel)
	if err != nil {
		return nil, fmt.Errorf("failed to load stop model '%s': %w", r.stopModel.ID, err)
	}
	r.stop = d
	return d, nil
}

// Stats returns statistics for every loaded detector, stop detector included
func (r *Registry) Stats() []Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make([]Stats, 0, len(r.loaded)+1)
	for _, id := range lo.Keys(r.loaded) {
		stats = append(stats, r.loaded[id].Stats())
	}
	if r.stop != nil {
		stats = append(stats, r.stop.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].ID < stats[j].ID })
	return stats
}

// Close releases every loaded detector
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for id, d := range r.loaded {
		if err := d.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close detector %s: %w", id, err)
		}
	}
	r.loaded = make(map[string]Detector)

	if r.stop != nil {
		if err := r.stop.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close stop detector: %w", err)
		}
		r.stop = nil
	}

	return firstErr
}
