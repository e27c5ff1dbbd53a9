package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"github.com/memento-sh/sync-core/internal/config"
)

// ConfigUpdateServiceInterface is the subset of config.ConfigUpdateService
// the signal handler drives.
type ConfigUpdateServiceInterface interface {
	UpdateConfig(ctx context.Context, configMap map[string]interface{}, opts config.UpdateOptions) (*config.UpdateResult, error)
	RollbackConfig(ctx context.Context, version int64) (*config.UpdateResult, error)
	GetHistory(ctx context.Context, limit int) ([]*config.ConfigVersion, error)
	GetCurrentVersion() int64
	GetCurrentConfig() *config.Config
}

// SignalMetricsInterface is implemented by the signal handler's metrics
// collaborator (real or mock).
type SignalMetricsInterface interface {
	RecordReloadAttempt(source, status string)
	RecordValidationFailure(source string)
	RecordReloadDuration(source string, duration float64)
	RecordSuccessTimestamp(source string, timestamp float64)
	RecordFailureTimestamp(source string, timestamp float64)
}

// SignalHandler reloads configuration from disk on SIGHUP, validating
// and applying it through a ConfigUpdateService and reporting outcomes
// via Prometheus metrics.
type SignalHandler struct {
	configService ConfigUpdateServiceInterface
	logger        *slog.Logger
	metrics       SignalMetricsInterface

	lastReloadTime atomic.Value // time.Time
	debounceWindow time.Duration

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	sigChan    chan os.Signal
	reloadChan chan struct{}
}

func NewSignalHandler(configService ConfigUpdateServiceInterface, logger *slog.Logger) *SignalHandler {
	return NewSignalHandlerWithMetrics(configService, logger, NewSignalPrometheusMetrics())
}

func NewSignalHandlerWithMetrics(configService ConfigUpdateServiceInterface, logger *slog.Logger, metrics SignalMetricsInterface) *SignalHandler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &SignalHandler{
		configService:  configService,
		logger:         logger,
		metrics:        metrics,
		debounceWindow: 1 * time.Second,
		ctx:            ctx,
		cancel:         cancel,
		sigChan:        make(chan os.Signal, 1),
		reloadChan:     make(chan struct{}, 10),
	}
}

// Start begins listening for SIGHUP.
func (h *SignalHandler) Start() error {
	h.logger.Info("starting signal handler for hot reload")

	signal.Notify(h.sigChan, syscall.SIGHUP)

	h.wg.Add(1)
	go h.signalListener()

	h.wg.Add(1)
	go h.reloadWorker()

	h.logger.Info("signal handler started", "signals", []string{"SIGHUP"}, "debounce_window", h.debounceWindow)
	return nil
}

func (h *SignalHandler) Stop() {
	h.logger.Info("stopping signal handler")

	signal.Stop(h.sigChan)
	close(h.sigChan)
	h.cancel()
	h.wg.Wait()

	h.logger.Info("signal handler stopped")
}

func (h *SignalHandler) signalListener() {
	defer h.wg.Done()

	for {
		select {
		case sig, ok := <-h.sigChan:
			if !ok {
				return
			}
			h.logger.Info("received signal", "signal", sig.String())
			if sig == syscall.SIGHUP {
				select {
				case h.reloadChan <- struct{}{}:
					h.logger.Debug("reload request queued")
				default:
					h.logger.Warn("reload queue full, skipping request")
				}
			}
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *SignalHandler) reloadWorker() {
	defer h.wg.Done()

	for {
		select {
		case <-h.reloadChan:
			if h.shouldDebounce() {
				h.logger.Debug("reload debounced")
				continue
			}
			h.updateLastReloadTime()
			h.executeReload()
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *SignalHandler) shouldDebounce() bool {
	last := h.getLastReloadTime()
	if last.IsZero() {
		return false
	}
	return time.Since(last) < h.debounceWindow
}

func (h *SignalHandler) updateLastReloadTime() { h.lastReloadTime.Store(time.Now()) }

func (h *SignalHandler) getLastReloadTime() time.Time {
	val := h.lastReloadTime.Load()
	if val == nil {
		return time.Time{}
	}
	return val.(time.Time)
}

func (h *SignalHandler) executeReload() {
	startTime := time.Now()
	source := "sighup"

	h.logger.Info("executing config reload via SIGHUP")

	reloadCtx, cancel := context.WithTimeout(h.ctx, 30*time.Second)
	defer cancel()

	configMap, err := h.reloadConfigFromDisk()
	if err != nil {
		h.handleReloadError("failed to load config from disk", err, startTime, source)
		return
	}

	updateOpts := config.UpdateOptions{Source: "sighup", UserID: "system", Description: "Hot reload via SIGHUP signal"}
	updateResult, err := h.configService.UpdateConfig(reloadCtx, configMap, updateOpts)
	if err != nil {
		h.handleReloadError("hot reload failed", err, startTime, source)
		return
	}

	if len(updateResult.ValidationErrors) > 0 {
		h.metrics.RecordValidationFailure(source)
		h.handleUpdateValidationError(updateResult, startTime, source)
		return
	}

	duration := time.Since(startTime)
	h.metrics.RecordReloadAttempt(source, "success")
	h.metrics.RecordReloadDuration(source, duration.Seconds())
	h.metrics.RecordSuccessTimestamp(source, float64(time.Now().Unix()))

	h.logger.Info("config reload completed via SIGHUP",
		"version", updateResult.Version, "duration_ms", duration.Milliseconds(),
		"applied", updateResult.Applied, "rolled_back", updateResult.RolledBack)
}

func (h *SignalHandler) reloadConfigFromDisk() (map[string]interface{}, error) {
	configPath := viper.ConfigFileUsed()
	if configPath == "" {
		return nil, fmt.Errorf("config file path not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", configPath)
	}
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	configMap := viper.AllSettings()
	if configMap == nil {
		return nil, fmt.Errorf("failed to load config as map")
	}
	return configMap, nil
}

func (h *SignalHandler) handleReloadError(message string, err error, startTime time.Time, source string) {
	duration := time.Since(startTime)
	h.metrics.RecordReloadAttempt(source, "failure")
	h.metrics.RecordReloadDuration(source, duration.Seconds())
	h.metrics.RecordFailureTimestamp(source, float64(time.Now().Unix()))

	h.logger.Error(message, "error", err, "duration_ms", duration.Milliseconds(), "source", source)
}

func (h *SignalHandler) handleUpdateValidationError(result *config.UpdateResult, startTime time.Time, source string) {
	duration := time.Since(startTime)
	h.metrics.RecordReloadAttempt(source, "failure")
	h.metrics.RecordReloadDuration(source, duration.Seconds())
	h.metrics.RecordFailureTimestamp(source, float64(time.Now().Unix()))

	h.logger.Error("config validation failed", "error_count", len(result.ValidationErrors), "duration_ms", duration.Milliseconds())

	for i, err := range result.ValidationErrors {
		if i >= 5 {
			h.logger.Error("... and more errors", "total", len(result.ValidationErrors))
			break
		}
		h.logger.Error("validation error", "field", err.Field, "message", err.Message, "code", err.Code)
	}
}

// GetMetrics returns the signal handler's metrics collaborator.
func (h *SignalHandler) GetMetrics() SignalMetricsInterface {
	return h.metrics
}
