package config

import (
	"encoding/json"
	"fmt"
	"os"

	"grid-trading-bot-go/internal/models"
)

const (
	defaultUpdateIntervalSec = 30
	defaultDriftIntervalSec  = 4 * 3600
	defaultAlertIntervalSec  = 15
	defaultCallTimeoutSec    = 8

	defaultDeadBandRate      = 0.01
	defaultReplacementMargin = 0.005
	defaultProfitMarginRate  = 0.001
	defaultDriftThreshold    = 0.05
	defaultRangeWindowHours  = 4
)

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	cfg := &models.Config{}
	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *models.Config) {
	if cfg.DBPath == "" {
		cfg.DBPath = "data/grids"
	}
	if cfg.AlertsPath == "" {
		cfg.AlertsPath = "data/alerts.json"
	}
	if cfg.WSBaseURL == "" {
		cfg.WSBaseURL = "wss://stream.binance.com:9443"
	}
	if cfg.UpdateIntervalSec <= 0 {
		cfg.UpdateIntervalSec = defaultUpdateIntervalSec
	}
	if cfg.DriftIntervalSec <= 0 {
		cfg.DriftIntervalSec = defaultDriftIntervalSec
	}
	if cfg.AlertIntervalSec <= 0 {
		cfg.AlertIntervalSec = defaultAlertIntervalSec
	}
	if cfg.CallTimeoutSec <= 0 {
		cfg.CallTimeoutSec = defaultCallTimeoutSec
	}
	if cfg.DeadBandRate <= 0 {
		cfg.DeadBandRate = defaultDeadBandRate
	}
	if cfg.ReplacementMargin <= 0 {
		cfg.ReplacementMargin = defaultReplacementMargin
	}
	if cfg.ProfitMarginRate <= 0 {
		cfg.ProfitMarginRate = defaultProfitMarginRate
	}
	if cfg.DriftThreshold <= 0 {
		cfg.DriftThreshold = defaultDriftThreshold
	}
	if cfg.RangeWindowHours <= 0 {
		cfg.RangeWindowHours = defaultRangeWindowHours
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.LogConfig.Output == "" {
		cfg.LogConfig.Output = "console"
	}
}

// Validate rejects configurations that would make the engine misbehave in
// ways defaults cannot fix.
func Validate(cfg *models.Config) error {
	if cfg.DeadBandRate >= 0.5 {
		return fmt.Errorf("dead_band_rate %.4f is not a sane ratio", cfg.DeadBandRate)
	}
	if cfg.ReplacementMargin >= 0.5 {
		return fmt.Errorf("replacement_margin %.4f is not a sane ratio", cfg.ReplacementMargin)
	}
	if cfg.DriftThreshold >= 1 {
		return fmt.Errorf("drift_threshold %.4f is not a sane ratio", cfg.DriftThreshold)
	}
	return nil
}
