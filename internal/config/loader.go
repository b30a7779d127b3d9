package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Loader reads a YAML config file and watches it for changes.
type Loader struct {
	path     string
	mu       sync.RWMutex
	current  *Config
	onChange []func(*Config)
	watcher  *fsnotify.Watcher
}

// NewLoader creates a Loader and performs the initial load.
func NewLoader(path string) (*Loader, error) {
	l := &Loader{path: path}
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = cfg
	return l, nil
}

// Config returns the current (latest) configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked whenever the config reloads.
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch starts a background goroutine that hot-reloads the config on file
// changes. A reload that fails to parse or validate keeps the old config.
// Call the returned stop function to clean up.
func (l *Loader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := w.Add(l.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", l.path, err)
	}
	l.watcher = w

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					cfg, err := l.load()
					if err != nil {
						// Keep serving the old config.
						continue
					}
					if err := Validate(cfg); err != nil {
						continue
					}
					l.mu.Lock()
					l.current = cfg
					callbacks := make([]func(*Config), len(l.onChange))
					copy(callbacks, l.onChange)
					l.mu.Unlock()
					for _, fn := range callbacks {
						fn(cfg)
					}
				}
			case <-w.Errors:
				// Ignore watcher errors.
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }, nil
}

// Reload forces an immediate re-read of the config file.
func (l *Loader) Reload() (*Config, error) {
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = cfg
	callbacks := make([]func(*Config), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()
	for _, fn := range callbacks {
		fn(cfg)
	}
	return cfg, nil
}

func (l *Loader) load() (*Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", l.path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", l.path, err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// applyDefaults fills zero values with operational defaults and merges the
// built-in metric and funnel catalog for anything the file does not define.
func applyDefaults(cfg *Config) {
	if cfg.Scheduler.Workers == 0 {
		cfg.Scheduler.Workers = 4
	}
	if cfg.Scheduler.MaxAttempts == 0 {
		cfg.Scheduler.MaxAttempts = 3
	}
	if cfg.Scheduler.TaskTimeoutMs == 0 {
		cfg.Scheduler.TaskTimeoutMs = 60000
	}
	if cfg.Scheduler.InitialBackoffMs == 0 {
		cfg.Scheduler.InitialBackoffMs = 500
	}

	if cfg.Analysis.WindowDays == 0 {
		cfg.Analysis.WindowDays = 7
	}
	if cfg.Analysis.GranularityDays == 0 {
		cfg.Analysis.GranularityDays = 1
	}
	if cfg.Analysis.MinBuckets == 0 {
		cfg.Analysis.MinBuckets = 3
	}
	if cfg.Analysis.TrendThreshold == 0 {
		cfg.Analysis.TrendThreshold = 2.0
	}
	if cfg.Analysis.TrendMinPoints == 0 {
		cfg.Analysis.TrendMinPoints = 3
	}
	if cfg.Analysis.AnomalyWindow == 0 {
		cfg.Analysis.AnomalyWindow = 7
	}
	if cfg.Analysis.AnomalyStdThreshold == 0 {
		cfg.Analysis.AnomalyStdThreshold = 3.0
	}
	if cfg.Analysis.FunnelChangeDelta == 0 {
		cfg.Analysis.FunnelChangeDelta = 0.1
	}
	if cfg.Analysis.CohortDivergence == 0 {
		cfg.Analysis.CohortDivergence = 0.25
	}

	if cfg.Insights.MinEvidence == 0 {
		cfg.Insights.MinEvidence = 1
	}
	if cfg.Insights.ConfidenceFloor == 0 {
		cfg.Insights.ConfidenceFloor = 0.3
	}
	if cfg.Insights.TopK == 0 {
		cfg.Insights.TopK = 10
	}
	if cfg.Insights.EnrichLookback == 0 {
		cfg.Insights.EnrichLookback = 30
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "meridian.db"
	}

	if len(cfg.Metrics) == 0 {
		cfg.Metrics = DefaultMetrics()
	}
	if len(cfg.Funnels) == 0 {
		cfg.Funnels = DefaultFunnels()
	}
}
