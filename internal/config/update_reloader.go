package config

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultConfigReloader implements ConfigReloader.
type DefaultConfigReloader struct {
	components []Reloadable
	mu         sync.RWMutex
	logger     *slog.Logger
}

func NewConfigReloader(logger *slog.Logger) *DefaultConfigReloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultConfigReloader{logger: logger}
}

func (r *DefaultConfigReloader) Register(component Reloadable) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.components {
		if existing.Name() == component.Name() {
			r.logger.Warn("component already registered, skipping", "component", component.Name())
			return
		}
	}
	r.components = append(r.components, component)
	r.logger.Info("component registered for hot reload",
		"component", component.Name(), "critical", component.IsCritical(), "total_components", len(r.components))
}

func (r *DefaultConfigReloader) Unregister(componentName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, component := range r.components {
		if component.Name() == componentName {
			r.components = append(r.components[:i], r.components[i+1:]...)
			r.logger.Info("component unregistered", "component", componentName)
			return
		}
	}
}

func (r *DefaultConfigReloader) ReloadAll(ctx context.Context, cfg *Config, affectedComponents []string) []ReloadError {
	r.mu.RLock()
	defer r.mu.RUnlock()

	toReload := r.filterComponents(affectedComponents)
	if len(toReload) == 0 {
		return nil
	}

	reloadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	type reloadResult struct {
		component string
		critical  bool
		err       error
		duration  time.Duration
	}
	results := make(chan reloadResult, len(toReload))

	var wg sync.WaitGroup
	for _, component := range toReload {
		wg.Add(1)
		go func(comp Reloadable) {
			defer wg.Done()
			start := time.Now()
			err := comp.Reload(reloadCtx, cfg)
			results <- reloadResult{component: comp.Name(), critical: comp.IsCritical(), err: err, duration: time.Since(start)}
		}(component)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var reloadErrors []ReloadError
	for result := range results {
		if result.err != nil {
			r.logger.Error("component reload failed", "component", result.component, "critical", result.critical, "error", result.err)
			reloadErrors = append(reloadErrors, ReloadError{
				Component: result.component, Error: result.err.Error(), Critical: result.critical, Duration: result.duration,
			})
			continue
		}
		r.logger.Info("component reloaded", "component", result.component, "duration_ms", result.duration.Milliseconds())
	}

	return reloadErrors
}

func (r *DefaultConfigReloader) GetRegisteredComponents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.components))
	for i, component := range r.components {
		names[i] = component.Name()
	}
	return names
}

func (r *DefaultConfigReloader) filterComponents(affected []string) []Reloadable {
	if len(affected) == 0 {
		return r.components
	}
	wanted := make(map[string]bool, len(affected))
	for _, name := range affected {
		wanted[name] = true
	}
	var filtered []Reloadable
	for _, component := range r.components {
		if wanted[component.Name()] {
			filtered = append(filtered, component)
		}
	}
	return filtered
}

var _ ConfigReloader = (*DefaultConfigReloader)(nil)
