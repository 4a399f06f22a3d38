package profiling

import (
	"fmt"
	"maps"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/ibeacon/config"
)

// Profiler wraps a running Pyroscope profiler
type Profiler struct {
	profiler *pyroscope.Profiler
	logger   *zap.Logger
}

// Start begins pushing profiles to Pyroscope. It returns nil when profiling
// is disabled; Stop is safe on a nil Profiler.
func Start(cfg *config.ProfilingConfig, logger *zap.Logger) (*Profiler, error) {
	if !cfg.Enabled {
		logger.Info("profiling is disabled")
		return nil, nil
	}

	types := profileTypes(cfg)
	pyroConfig := pyroscope.Config{
		ApplicationName: cfg.ApplicationName,
		ServerAddress:   cfg.ServerAddress,
		Tags:            maps.Clone(cfg.Tags),
		ProfileTypes:    types,
		DisableGCRuns:   cfg.DisableGCRuns,
		TenantID:        cfg.TenantID,
	}
	if cfg.BasicAuthUser != "" && cfg.BasicAuthPassword != "" {
		pyroConfig.BasicAuthUser = cfg.BasicAuthUser
		pyroConfig.BasicAuthPassword = cfg.BasicAuthPassword
	}

	profiler, err := pyroscope.Start(pyroConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to start Pyroscope profiler: %w", err)
	}

	logger.Info("Pyroscope profiler started",
		zap.String("server_address", cfg.ServerAddress),
		zap.String("application_name", cfg.ApplicationName),
		zap.Int("profile_types_count", len(types)),
	)
	return &Profiler{profiler: profiler, logger: logger}, nil
}

func profileTypes(cfg *config.ProfilingConfig) []pyroscope.ProfileType {
	var types []pyroscope.ProfileType
	if cfg.CPUProfile {
		types = append(types, pyroscope.ProfileCPU)
	}
	if cfg.AllocObjectsProfile {
		types = append(types, pyroscope.ProfileAllocObjects)
	}
	if cfg.AllocSpaceProfile {
		types = append(types, pyroscope.ProfileAllocSpace)
	}
	if cfg.InuseObjectsProfile {
		types = append(types, pyroscope.ProfileInuseObjects)
	}
	if cfg.InuseSpaceProfile {
		types = append(types, pyroscope.ProfileInuseSpace)
	}
	if cfg.GoroutineProfile {
		types = append(types, pyroscope.ProfileGoroutines)
	}
	return types
}

// Stop flushes and stops the profiler
func (p *Profiler) Stop() error {
	if p == nil || p.profiler == nil {
		return nil
	}

	if err := p.profiler.Stop(); err != nil {
		p.logger.Error("failed to stop profiler", zap.Error(err))
		return fmt.Errorf("profiler stop: %w", err)
	}
	p.logger.Info("Pyroscope profiler stopped")
	return nil
}
