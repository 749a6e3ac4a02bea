package detector

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// ProcessClassifier runs a model in a child process.
// Each frame is written to stdin as s16le; the process answers with one line of
// space-separated probabilities (possibly empty) per frame.
type ProcessClassifier struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	buf    []byte

	mu     sync.Mutex
	closed bool
}

// NewProcessClassifier starts command with the model type and path appended as arguments
func NewProcessClassifier(command []string, model Model) (*ProcessClassifier, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("classifier command cannot be empty")
	}

	args := append(append([]string{}, command[1:]...), "--type", string(model.Kind), "--model", model.ModelPath)
	if model.Kind == KindMicro {
		args = append(args,
			"--probability-cutoff", strconv.FormatFloat(float64(model.ProbabilityCutoff), 'f', -1, 32),
			"--sliding-window-size", strconv.Itoa(model.SlidingWindowSize),
		)
	}

	cmd := exec.Command(command[0], args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open classifier stdin: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open classifier stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start classifier %s: %w", command[0], err)
	}

	return &ProcessClassifier{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
	}, nil
}

// Classify sends one frame and reads the probabilities it produced
func (c *ProcessClassifier) Classify(frame []int16) ([]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("classifier closed")
	}

	if cap(c.buf) < len(frame)*2 {
		c.buf = make([]byte, len(frame)*2)
	}
	c.buf = c.buf[:len(frame)*2]
	for i, s := range frame {
		binary.LittleEndian.PutUint16(c.buf[i*2:], uint16(s))
	}

	if _, err := c.stdin.Write(c.buf); err != nil {
		return nil, fmt.Errorf("failed to write frame: %w", err)
	}

	line, err := c.stdout.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read probabilities: %w", err)
	}

	return parseProbabilities(line)
}

// Close stops the child process
func (c *ProcessClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.stdin.Close()
	if c.cmd.Process != nil {
		c.cmd.Process.Kill()
	}
	c.cmd.Wait()
	return nil
}

// parseProbabilities parses one output line
func parseProbabilities(line string) ([]float32, error) {
	fields := strings.Fields(line)
	probs := make([]float32, 0, len(fields))

	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid probability %q: %w", f, err)
		}
		probs = append(probs, float32(v))
	}

	return probs, nil
}

// Loader creates a detector for a model
type Loader func(model Model) (Detector, error)

// NewProcessLoader returns a Loader that backs each detector with a ProcessClassifier
func NewProcessLoader(command []string) Loader {
	return func(model Model) (Detector, error) {
		classifier, err := NewProcessClassifier(command, model)
		if err != nil {
			return nil, err
		}

		d, err := New(model, classifier)
		if err != nil {
			classifier.Close()
			return nil, err
		}
		return d, nil
	}
}
