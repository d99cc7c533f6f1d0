package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const (
	gatewayFile   = "gateway.yaml"
	providersFile = "providers.yaml"
	modelsFile    = "models.yaml"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:default} patterns in a string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		submatch := envVarPattern.FindStringSubmatch(match)
		if len(submatch) < 2 {
			return match
		}
		if val, ok := os.LookupEnv(submatch[1]); ok {
			return val
		}
		if len(submatch) >= 3 {
			return submatch[2]
		}
		return ""
	})
}

// LoadFile reads a YAML file, expands env vars, and unmarshals into dest.
func LoadFile(path string, dest any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), dest); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Loader owns the configuration for the process lifetime. Gateway and
// provider settings are fixed once Load returns; only the model catalog is
// swapped when models.yaml changes on disk.
type Loader struct {
	configDir string
	logger    *slog.Logger

	mu        sync.RWMutex
	cfg       *Config
	providers *ProvidersConfig
	models    *ModelsConfig
	watchers  []func()
}

func NewLoader(configDir string, logger *slog.Logger) *Loader {
	return &Loader{
		configDir: configDir,
		logger:    logger,
	}
}

func (l *Loader) Load() error {
	cfg := DefaultConfig()
	if err := LoadFile(filepath.Join(l.configDir, gatewayFile), cfg); err != nil {
		return fmt.Errorf("load gateway config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid gateway config: %w", err)
	}

	providers := &ProvidersConfig{}
	if err := LoadFile(filepath.Join(l.configDir, providersFile), providers); err != nil {
		return fmt.Errorf("load providers config: %w", err)
	}
	providers.applyDefaults()

	models, err := l.loadModels()
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.cfg = cfg
	l.providers = providers
	l.models = models
	l.mu.Unlock()

	l.logger.Info("configuration loaded", "dir", l.configDir, "providers", len(providers.Providers), "models", len(models.Models))
	return nil
}

func (l *Loader) loadModels() (*ModelsConfig, error) {
	models := &ModelsConfig{}
	path := filepath.Join(l.configDir, modelsFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return models, nil
	}
	if err := LoadFile(path, models); err != nil {
		return nil, fmt.Errorf("load models config: %w", err)
	}
	return models, nil
}

func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

func (l *Loader) Providers() *ProvidersConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.providers
}

func (l *Loader) Models() *ModelsConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.models
}

// OnReload registers a callback that fires after the model catalog is reloaded.
func (l *Loader) OnReload(fn func()) {
	l.mu.Lock()
	l.watchers = append(l.watchers, fn)
	l.mu.Unlock()
}

func (l *Loader) reloadModels() {
	models, err := l.loadModels()
	if err != nil {
		l.logger.Error("failed to reload model catalog", "error", err)
		return
	}
	l.mu.Lock()
	l.models = models
	watchers := append([]func(){}, l.watchers...)
	l.mu.Unlock()

	l.logger.Info("model catalog reloaded", "models", len(models.Models))
	for _, fn := range watchers {
		fn()
	}
}

// Watch starts watching the config directory and reloads the model catalog on
// modification. Changes to gateway.yaml or providers.yaml need a restart.
func (l *Loader) Watch() (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(l.configDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config dir %s: %w", l.configDir, err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				switch filepath.Base(event.Name) {
				case modelsFile:
					l.reloadModels()
				case gatewayFile, providersFile:
					l.logger.Warn("config file changed; restart to apply", "file", event.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Error("fsnotify error", "error", err)
			}
		}
	}()

	return watcher.Close, nil
}
