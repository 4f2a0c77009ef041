package tool

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/moyoez/csvjobs-dashboard/types"
)

var (
	ConfigPath    = "config.yaml" // be aware that it can be changed, default to ./config.yaml
	CurrentConfig types.AppConfig
)

func defaultConfig() types.AppConfig {
	return types.AppConfig{
		APIBaseURL:       "",                 // empty means DefaultAPIBaseURL
		SyncMode:         types.SyncModePush, // live streams, poll is the fallback mode.
		PollIntervalMs:   2000,
		ReconnectDelayMs: 2000,
		Dashboard:        true,
		DashboardPort:    53318,
		NotifySocketPath: "",
		ReportDir:        ".",
	}
}

// LoadConfig reads the yaml config once at startup. A missing file is created with defaults.
func LoadConfig(path string) (types.AppConfig, error) {
	if path == "" {
		path = ConfigPath
	}
	ConfigPath = path

	cfg := defaultConfig()

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			if writeErr := writeDefaultConfig(path, cfg); writeErr != nil {
				return cfg, fmt.Errorf("config file not found, and failed to generate default config: %v", writeErr)
			}
			DefaultLogger.Infof("Created new config file at %s", path)
			CurrentConfig = cfg
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %v", err)
	}
	if info.IsDir() {
		return cfg, fmt.Errorf("config file path is a directory: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %v", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %v", err)
	}

	cfg.SyncMode = strings.ToLower(strings.TrimSpace(cfg.SyncMode))
	switch cfg.SyncMode {
	case types.SyncModePush, types.SyncModePoll:
	case "":
		cfg.SyncMode = types.SyncModePush
	default:
		return cfg, fmt.Errorf("unknown syncMode %q (want push or poll)", cfg.SyncMode)
	}
	if cfg.PollIntervalMs <= 0 {
		cfg.PollIntervalMs = 2000
	}
	if cfg.ReconnectDelayMs <= 0 {
		cfg.ReconnectDelayMs = 2000
	}
	if cfg.ReportDir == "" {
		cfg.ReportDir = "."
	}

	CurrentConfig = cfg
	return cfg, nil
}

// ApplyFlagOverrides merges CLI flags over the loaded config.
func ApplyFlagOverrides(cfg *types.AppConfig, flags types.Config) {
	if flags.UseAPIBaseURL != "" {
		cfg.APIBaseURL = flags.UseAPIBaseURL
	}
	if flags.UsePoll {
		cfg.SyncMode = types.SyncModePoll
	}
	if flags.UseDashboardPort > 0 {
		cfg.DashboardPort = flags.UseDashboardPort
	}
	if flags.SkipDashboard {
		cfg.Dashboard = false
	}
	CurrentConfig = *cfg
}

func writeDefaultConfig(path string, cfg types.AppConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func GetCurrentConfig() *types.AppConfig {
	return &CurrentConfig
}
