package detector

import (
	"fmt"
	"sync"
	"time"
)

// Kind identifies the model family of a detector
type Kind string

const (
	KindMicro        Kind = "micro"
	KindOpenWakeWord Kind = "openWakeWord"
)

// ProbabilityThreshold is the activation threshold for probability-emitting detectors
const ProbabilityThreshold = 0.5

// Detector consumes 16 kHz mono PCM frames and reports activations
type Detector interface {
	ID() string
	WakeWord() string
	Kind() Kind
	ProcessFrame(frame []int16) (bool, error)
	Stats() Stats
	Close() error
}

// Classifier is an opaque streaming model.
// Classify returns zero or more probabilities produced by consuming frame.
type Classifier interface {
	Classify(frame []int16) ([]float32, error)
	Close() error
}

// Stats represents detector statistics
type Stats struct {
	ID              string    `json:"id"`
	WakeWord        string    `json:"wake_word"`
	Kind            Kind      `json:"kind"`
	FramesProcessed uint64    `json:"frames_processed"`
	Activations     uint64    `json:"activations"`
	Errors          uint64    `json:"errors"`
	LastProbability float32   `json:"last_probability"`
	LastActivation  time.Time `json:"last_activation,omitempty"`
}

// New creates the detector variant matching the model kind
func New(model Model, classifier Classifier) (Detector, error) {
	switch model.Kind {
	case KindMicro:
		size := model.SlidingWindowSize
		if size < 1 {
			size = 1
		}
		d := &microDetector{
			cutoff: model.ProbabilityCutoff,
			window: make([]float32, 0, size),
			size:   size,
		}
		d.model, d.classifier = model, classifier
		return d, nil
	case KindOpenWakeWord:
		d := &probabilityDetector{}
		d.model, d.classifier = model, classifier
		return d, nil
	default:
		return nil, fmt.Errorf("unsupported detector type '%s' for %s", model.Kind, model.ID)
	}
}

// base holds what every variant shares
type base struct {
	model      Model
	classifier Classifier

	mu              sync.Mutex
	framesProcessed uint64
	activations     uint64
	errors          uint64
	lastProbability float32
	lastActivation  time.Time
}

func (b *base) ID() string       { return b.model.ID }
func (b *base) WakeWord() string { return b.model.WakeWord }
func (b *base) Kind() Kind       { return b.model.Kind }

// Stats returns current detector statistics
func (b *base) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		ID:              b.model.ID,
		WakeWord:        b.model.WakeWord,
		Kind:            b.model.Kind,
		FramesProcessed: b.framesProcessed,
		Activations:     b.activations,
		Errors:          b.errors,
		LastProbability: b.lastProbability,
		LastActivation:  b.lastActivation,
	}
}

// Close releases the classifier
func (b *base) Close() error {
	return b.classifier.Close()
}

// classify runs the classifier and records frame statistics
func (b *base) classify(frame []int16) ([]float32, error) {
	probs, err := b.classifier.Classify(frame)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.framesProcessed++
	if err != nil {
		b.errors++
		return nil, fmt.Errorf("classifier %s: %w", b.model.ID, err)
	}
	if len(probs) > 0 {
		b.lastProbability = probs[len(probs)-1]
	}
	return probs, nil
}

func (b *base) recordActivation() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activations++
	b.lastActivation = time.Now()
}

// microDetector activates when the mean of the last N probabilities exceeds the model cutoff
type microDetector struct {
	base
	cutoff float32
	window []float32
	size   int
}

// ProcessFrame feeds one frame and reports whether the wake word was heard
func (d *microDetector) ProcessFrame(frame []int16) (bool, error) {
	probs, err := d.classify(frame)
	if err != nil {
		return false, err
	}

	activated := false
	for _, p := range probs {
		if len(d.window) == d.size {
			copy(d.window, d.window[1:])
			d.window = d.window[:d.size-1]
		}
		d.window = append(d.window, p)

		if len(d.window) < d.size {
			continue
		}

		var sum float32
		for _, v := range d.window {
			sum += v
		}
		if sum/float32(d.size) > d.cutoff {
			activated = true
			d.window = d.window[:0]
		}
	}

	if activated {
		d.recordActivation()
	}
	return activated, nil
}

// probabilityDetector activates when any probability exceeds ProbabilityThreshold
type probabilityDetector struct {
	base
}

// ProcessFrame feeds one frame and reports whether the wake word was heard
func (d *probabilityDetector) ProcessFrame(frame []int16) (bool, error) {
	probs, err := d.classify(frame)
	if err != nil {
		return false, err
	}

	for _, p := range probs {
		if p > ProbabilityThreshold {
			d.recordActivation()
			return true, nil
		}
	}
	return false, nil
}
