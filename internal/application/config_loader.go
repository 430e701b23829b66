package application

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-assay/internal/ports"
)

var _ ports.ConfigLoader = (*FileConfigLoader)(nil)

// DefaultWatchDebounce is how long Watch waits for writes to settle before
// reloading.
const DefaultWatchDebounce = 250 * time.Millisecond

// defaulter is implemented by configs that carry defaults, such as Config.
type defaulter interface{ SetDefaults() }

// validatable is implemented by configs that can check themselves.
type validatable interface{ Validate() error }

// FileConfigLoader loads YAML configuration from one file.
type FileConfigLoader struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
}

// LoaderOption configures a FileConfigLoader.
type LoaderOption func(*FileConfigLoader)

// WithLoaderLogger sets the loader's logger.
func WithLoaderLogger(l *slog.Logger) LoaderOption {
	return func(fl *FileConfigLoader) { fl.logger = l }
}

// WithDebounce sets the Watch debounce delay.
func WithDebounce(d time.Duration) LoaderOption {
	return func(fl *FileConfigLoader) {
		if d > 0 {
			fl.debounce = d
		}
	}
}

// NewFileConfigLoader creates a loader for path.
func NewFileConfigLoader(path string, opts ...LoaderOption) *FileConfigLoader {
	fl := &FileConfigLoader{
		path:     filepath.Clean(path),
		debounce: DefaultWatchDebounce,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(fl)
	}
	return fl
}

// Path returns the watched file.
func (fl *FileConfigLoader) Path() string { return fl.path }

// Load reads the file into config. Defaults are applied first when config
// implements SetDefaults, unknown YAML fields are rejected, and the result
// is validated when config implements Validate.
func (fl *FileConfigLoader) Load(_ context.Context, config any) error {
	data, err := os.ReadFile(fl.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ports.NewConfigError(fl.path, fmt.Errorf("%w: %w", ports.ErrConfigNotFound, err))
		}
		return ports.NewConfigError(fl.path, err)
	}
	if err := decodeConfig(data, config); err != nil {
		return ports.NewConfigError(fl.path, err)
	}
	return nil
}

// LoadConfig reads and validates a Config from path.
func LoadConfig(ctx context.Context, path string) (*Config, error) {
	cfg := &Config{}
	if err := NewFileConfigLoader(path).Load(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseConfig decodes and validates a Config from r.
func ParseConfig(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg := &Config{}
	if err := decodeConfig(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeConfig(data []byte, config any) error {
	rv := reflect.ValueOf(config)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("config must be a non-nil pointer to a struct, got %T", config)
	}
	if d, ok := config.(defaulter); ok {
		d.SetDefaults()
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("YAML decode failed: %w", err)
	}

	if v, ok := config.(validatable); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
	}
	return nil
}

// Watch reloads the file after each change and passes a fresh value of
// config's type to callback. Changes are debounced, and a write that leaves
// the content unchanged is ignored. A reload that fails to parse or
// validate is logged and skipped; the callback only ever sees valid
// configuration. The directory is watched rather than the file so editors
// that save by rename are followed.
func (fl *FileConfigLoader) Watch(ctx context.Context, config any, callback func(any)) (func(), error) {
	typ := reflect.TypeOf(config)
	if typ == nil || typ.Kind() != reflect.Pointer || typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("config must be a pointer to a struct, got %T", config)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(fl.path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(fl.path), err)
	}

	var lastHash [sha256.Size]byte
	if data, err := os.ReadFile(fl.path); err == nil {
		lastHash = sha256.Sum256(data)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer w.Close()

		timer := time.NewTimer(fl.debounce)
		timer.Stop()
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != fl.path {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
					timer.Reset(fl.debounce)
				}

			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				fl.logger.Error("config watcher error", "path", fl.path, "error", err)

			case <-timer.C:
				data, err := os.ReadFile(fl.path)
				if err != nil {
					fl.logger.Warn("config reload skipped", "path", fl.path, "error", err)
					continue
				}
				hash := sha256.Sum256(data)
				if hash == lastHash {
					continue
				}

				fresh := reflect.New(typ.Elem()).Interface()
				if err := decodeConfig(data, fresh); err != nil {
					fl.logger.Error("config reload rejected", "path", fl.path, "error", err)
					continue
				}
				lastHash = hash
				fl.logger.Info("config reloaded", "path", fl.path)
				callback(fresh)
			}
		}
	}()

	stop := func() {
		cancel()
		<-done
	}
	return stop, nil
}
