package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultConfigValidator validates a configuration by running its own
// Validate(); the sections argument is ignored.
type DefaultConfigValidator struct{}

func NewConfigValidator() *DefaultConfigValidator { return &DefaultConfigValidator{} }

func (v *DefaultConfigValidator) Validate(cfg *Config, sections []string) []ValidationErrorDetail {
	if err := cfg.Validate(); err != nil {
		return []ValidationErrorDetail{{Field: "config", Message: err.Error(), Code: "invalid"}}
	}
	return nil
}

func (v *DefaultConfigValidator) ValidatePartial(cfg *Config, sections []string) []ValidationErrorDetail {
	return v.Validate(cfg, sections)
}

func (v *DefaultConfigValidator) ValidateDiff(oldCfg, newCfg *Config, diff *ConfigDiff) []ValidationErrorDetail {
	return nil
}

// DefaultConfigComparator diffs two configs at the top-level section
// granularity: it is not a field-by-field diff, just enough to drive
// affected-component detection and an audit-log summary.
type DefaultConfigComparator struct{}

func NewConfigComparator() *DefaultConfigComparator { return &DefaultConfigComparator{} }

func (c *DefaultConfigComparator) Compare(oldCfg, newCfg *Config, sections []string) (*ConfigDiff, error) {
	diff := NewConfigDiff()

	oldMap, err := toMap(oldCfg)
	if err != nil {
		return nil, err
	}
	newMap, err := toMap(newCfg)
	if err != nil {
		return nil, err
	}

	for key, newVal := range newMap {
		if len(sections) > 0 && !contains(sections, key) {
			continue
		}
		oldVal, existed := oldMap[key]
		if !existed {
			diff.Added[key] = newVal
			diff.Affected = append(diff.Affected, key)
			continue
		}
		if !reflect.DeepEqual(oldVal, newVal) {
			diff.Modified[key] = DiffEntry{OldValue: oldVal, NewValue: newVal}
			diff.Affected = append(diff.Affected, key)
		}
	}
	for key := range oldMap {
		if _, stillExists := newMap[key]; !stillExists {
			diff.Deleted = append(diff.Deleted, key)
			diff.Affected = append(diff.Affected, key)
		}
	}

	diff.IsCritical = c.IsCriticalChange(diff)
	diff.Summary = diff.GenerateSummary()
	return diff, nil
}

func (c *DefaultConfigComparator) IdentifyAffectedComponents(diff *ConfigDiff) []string {
	return diff.Affected
}

// IsCriticalChange flags database/redis changes as critical: losing
// either mid-flight would strand in-progress sync operations.
func (c *DefaultConfigComparator) IsCriticalChange(diff *ConfigDiff) bool {
	for _, name := range diff.Affected {
		if name == "database" || name == "redis" {
			return true
		}
	}
	return false
}

func toMap(cfg *Config) (map[string]interface{}, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// InMemoryConfigStorage keeps version history in process memory. It is
// intentionally not durable across restarts: configuration hot-reload
// history is an operational convenience, not part of the durable sync
// state that survives in Postgres.
type InMemoryConfigStorage struct {
	mu       sync.RWMutex
	versions []*ConfigVersion
	configs  map[int64]*Config
}

func NewInMemoryConfigStorage() *InMemoryConfigStorage {
	return &InMemoryConfigStorage{configs: make(map[int64]*Config)}
}

func (s *InMemoryConfigStorage) Save(ctx context.Context, cfg *Config) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	version := int64(len(s.versions) + 1)
	raw, err := json.Marshal(cfg)
	if err != nil {
		return 0, fmt.Errorf("config: marshaling for version save: %w", err)
	}
	var asMap map[string]interface{}
	_ = json.Unmarshal(raw, &asMap)

	hash := sha256.Sum256(raw)
	s.versions = append(s.versions, &ConfigVersion{
		Version:   version,
		Config:    asMap,
		Hash:      hex.EncodeToString(hash[:]),
		CreatedAt: time.Now(),
	})
	s.configs[version] = cfg
	return version, nil
}

func (s *InMemoryConfigStorage) Load(ctx context.Context, version int64) (*Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[version]
	if !ok {
		return nil, fmt.Errorf("config: version %d not found", version)
	}
	return cfg, nil
}

func (s *InMemoryConfigStorage) GetLatestVersion(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.versions)), nil
}

func (s *InMemoryConfigStorage) GetHistory(ctx context.Context, limit int) ([]*ConfigVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*ConfigVersion, len(s.versions))
	for i, v := range s.versions {
		out[len(s.versions)-1-i] = v
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

var _ ConfigStorage = (*InMemoryConfigStorage)(nil)

// DefaultConfigUpdateService implements ConfigUpdateService: validate,
// diff, apply, hot-reload, with rollback to the prior version on a
// critical component's reload failure.
type DefaultConfigUpdateService struct {
	currentConfig atomic.Value // *Config

	storage    ConfigStorage
	validator  *DefaultConfigValidator
	comparator *DefaultConfigComparator
	reloader   *DefaultConfigReloader
	logger     *slog.Logger
}

func NewConfigUpdateService(
	currentConfig *Config,
	storage ConfigStorage,
	validator *DefaultConfigValidator,
	comparator *DefaultConfigComparator,
	reloader *DefaultConfigReloader,
	logger *slog.Logger,
) *DefaultConfigUpdateService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &DefaultConfigUpdateService{
		storage:    storage,
		validator:  validator,
		comparator: comparator,
		reloader:   reloader,
		logger:     logger,
	}
	s.currentConfig.Store(currentConfig)
	if _, err := storage.Save(context.Background(), currentConfig); err != nil {
		logger.Warn("config: failed to save initial version", "error", err)
	}
	return s
}

func (s *DefaultConfigUpdateService) GetCurrentConfig() *Config {
	return s.currentConfig.Load().(*Config)
}

func (s *DefaultConfigUpdateService) GetCurrentVersion() int64 {
	v, err := s.storage.GetLatestVersion(context.Background())
	if err != nil {
		return 0
	}
	return v
}

func (s *DefaultConfigUpdateService) UpdateConfig(ctx context.Context, configMap map[string]interface{}, opts UpdateOptions) (*UpdateResult, error) {
	start := time.Now()
	result := NewUpdateResult()

	newConfig, err := decodeConfigMap(configMap)
	if err != nil {
		return nil, &ValidationError{Message: "malformed configuration", Phase: "syntax",
			Errors: []ValidationErrorDetail{{Field: "root", Message: err.Error(), Code: "decode_error"}}}
	}

	validationErrs := s.validator.ValidatePartial(newConfig, opts.Sections)
	if len(validationErrs) > 0 {
		return nil, &ValidationError{
			Message: fmt.Sprintf("validation failed: %d error(s)", len(validationErrs)),
			Errors:  validationErrs,
			Phase:   "business",
		}
	}

	diff, err := s.comparator.Compare(s.GetCurrentConfig(), newConfig, opts.Sections)
	if err != nil {
		return nil, fmt.Errorf("config: diff calculation failed: %w", err)
	}
	result.Diff = diff

	if opts.DryRun {
		result.Duration = time.Since(start)
		return result, nil
	}

	version, err := s.storage.Save(ctx, newConfig)
	if err != nil {
		return nil, fmt.Errorf("config: saving new version: %w", err)
	}
	previousConfig := s.GetCurrentConfig()
	s.currentConfig.Store(newConfig)
	result.Version = version
	result.Applied = true

	reloadErrors := s.reloader.ReloadAll(ctx, newConfig, diff.Affected)
	if len(reloadErrors) > 0 {
		result.ReloadErrors = reloadErrors
		if HasCriticalErrors(reloadErrors) {
			s.currentConfig.Store(previousConfig)
			result.Applied = false
			result.RolledBack = true
			result.Duration = time.Since(start)
			return result, fmt.Errorf("config: critical component reload failed, rolled back: %s", FormatReloadErrors(reloadErrors))
		}
		s.logger.Warn("config: non-critical components failed to reload", "errors", len(reloadErrors))
	}

	result.Duration = time.Since(start)
	s.logger.Info("config update applied", "version", version, "source", opts.Source, "duration_ms", result.Duration.Milliseconds())
	return result, nil
}

func (s *DefaultConfigUpdateService) RollbackConfig(ctx context.Context, targetVersion int64) (*UpdateResult, error) {
	oldConfig, err := s.storage.Load(ctx, targetVersion)
	if err != nil {
		return nil, fmt.Errorf("config: loading version %d: %w", targetVersion, err)
	}
	if errs := s.validator.Validate(oldConfig, nil); len(errs) > 0 {
		return nil, &ValidationError{Message: fmt.Sprintf("version %d is no longer valid", targetVersion), Errors: errs, Phase: "rollback_validation"}
	}

	configMap, err := toMap(oldConfig)
	if err != nil {
		return nil, err
	}
	return s.UpdateConfig(ctx, configMap, UpdateOptions{Source: "rollback"})
}

func (s *DefaultConfigUpdateService) GetHistory(ctx context.Context, limit int) ([]*ConfigVersion, error) {
	return s.storage.GetHistory(ctx, limit)
}

func decodeConfigMap(configMap map[string]interface{}) (*Config, error) {
	raw, err := json.Marshal(configMap)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var _ ConfigUpdateService = (*DefaultConfigUpdateService)(nil)
