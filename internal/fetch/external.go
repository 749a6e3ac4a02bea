package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/skypro1111/voice-satellite/internal/detector"
	"github.com/skypro1111/voice-satellite/internal/protocol"
)

// ExternalDir is the subdirectory of the download dir holding fetched models
const ExternalDir = "external_wake_words"

// ErrUnsupportedModelType is returned for external wake words that are not micro models
var ErrUnsupportedModelType = errors.New("unsupported external wake word model type")

// ModelURL derives the model file URL: the config URL's directory plus <id>.tflite
func ModelURL(configURL, id string) (string, error) {
	u, err := url.Parse(configURL)
	if err != nil {
		return "", fmt.Errorf("invalid wake word URL %q: %w", configURL, err)
	}
	u.Path = path.Join(path.Dir(u.Path), id+".tflite")
	u.RawPath = ""
	return u.String(), nil
}

// FetchExternal makes an external wake word available under downloadDir.
// The model file is reused only when both its size and hash match; the config is fetched
// when missing or whenever the model has to be fetched again.
func (c *Client) FetchExternal(ctx context.Context, ext *protocol.VoiceAssistantExternalWakeWord, downloadDir string) (detector.Model, error) {
	if detector.Kind(ext.ModelType) != detector.KindMicro {
		return detector.Model{}, fmt.Errorf("%w: '%s'", ErrUnsupportedModelType, ext.ModelType)
	}

	dir := filepath.Join(downloadDir, ExternalDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return detector.Model{}, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	configPath := filepath.Join(dir, ext.ID+".json")
	modelPath := filepath.Join(dir, ext.ID+".tflite")

	_, statErr := os.Stat(configPath)
	needConfig := statErr != nil

	needModel := true
	if err := VerifyFile(modelPath, int64(ext.ModelSize), ext.ModelHash); err == nil {
		needModel = false
		c.logger.Debug("External wake word model up to date", slog.String("id", ext.ID))
	}

	if needConfig || needModel {
		if err := c.Download(ctx, ext.URL, configPath, 0, ""); err != nil {
			return detector.Model{}, err
		}
	}

	if needModel {
		modelURL, err := ModelURL(ext.URL, ext.ID)
		if err != nil {
			return detector.Model{}, err
		}
		if err := c.Download(ctx, modelURL, modelPath, int64(ext.ModelSize), ext.ModelHash); err != nil {
			return detector.Model{}, err
		}
	}

	model, err := detector.LoadModel(configPath)
	if err != nil {
		return detector.Model{}, err
	}

	model.ID = ext.ID
	model.Kind = detector.KindMicro
	model.ModelPath = modelPath
	if ext.WakeWord != "" {
		model.WakeWord = ext.WakeWord
	}
	if len(ext.TrainedLanguages) > 0 {
		model.TrainedLanguages = ext.TrainedLanguages
	}

	c.logger.Info("External wake word ready",
		slog.String("id", model.ID),
		slog.String("wake_word", model.WakeWord),
		slog.Bool("downloaded", needModel))

	return model, nil
}
