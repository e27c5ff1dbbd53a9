package config

import (
	"context"
	"time"
)

// ConfigUpdateService handles configuration update operations: validation,
// diff calculation, atomic application, and hot reload of dependent
// components, with rollback on critical reload failure.
type ConfigUpdateService interface {
	UpdateConfig(ctx context.Context, configMap map[string]interface{}, opts UpdateOptions) (*UpdateResult, error)
	RollbackConfig(ctx context.Context, version int64) (*UpdateResult, error)
	GetHistory(ctx context.Context, limit int) ([]*ConfigVersion, error)
	GetCurrentVersion() int64
	GetCurrentConfig() *Config
}

// ConfigStorage persists configuration versions.
type ConfigStorage interface {
	Save(ctx context.Context, cfg *Config) (version int64, err error)
	Load(ctx context.Context, version int64) (*Config, error)
	GetLatestVersion(ctx context.Context) (int64, error)
	GetHistory(ctx context.Context, limit int) ([]*ConfigVersion, error)
}

// Reloadable is implemented by components that support hot configuration
// reload without a process restart. No component in this repository
// implements it, so ConfigReloader has nothing registered by default.
type Reloadable interface {
	Reload(ctx context.Context, cfg *Config) error
	Name() string
	// IsCritical reports whether this component's reload failure should
	// trigger an automatic rollback of the whole update.
	IsCritical() bool
}

// ConfigReloader orchestrates hot reload across registered Reloadable
// components.
type ConfigReloader interface {
	Register(component Reloadable)
	Unregister(componentName string)
	ReloadAll(ctx context.Context, cfg *Config, affectedComponents []string) []ReloadError
	GetRegisteredComponents() []string
}

// ConfigComparator computes a structured diff between two configurations.
type ConfigComparator interface {
	Compare(oldCfg *Config, newCfg *Config, sections []string) (*ConfigDiff, error)
	IdentifyAffectedComponents(diff *ConfigDiff) []string
	IsCriticalChange(diff *ConfigDiff) bool
}

// LockManager provides distributed locking for serializing concurrent
// configuration updates across replicas.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

type Lock interface {
	Release(ctx context.Context) error
	Renew(ctx context.Context, ttl time.Duration) error
	IsHeld() bool
}
