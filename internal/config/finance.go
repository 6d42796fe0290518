package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// FinanceConfig carries the defaults used to seed finance rules and the
// thresholds for data-quality warnings.
type FinanceConfig struct {
	DefaultAmortizationMethod   string            `mapstructure:"default_amortization_method"`
	DefaultAmortizationMonths   int               `mapstructure:"default_amortization_months"`
	DefaultAttributionModel     string            `mapstructure:"default_attribution_model"`
	DefaultTimeDecayFactor      float64           `mapstructure:"default_time_decay_factor"`
	DefaultChannelAllocationPct float64           `mapstructure:"default_channel_allocation_pct"`
	ReportingCurrency           string            `mapstructure:"reporting_currency"`
	SupportedCurrencies         []string          `mapstructure:"supported_currencies"`
	Quality                     QualityThresholds `mapstructure:"quality"`
	Impact                      ImpactConfig      `mapstructure:"impact"`
}

type QualityThresholds struct {
	MinROIPct float64 `mapstructure:"min_roi_pct"`
	MaxROIPct float64 `mapstructure:"max_roi_pct"`
	MinCPM    float64 `mapstructure:"min_cpm"`
	MinCPC    float64 `mapstructure:"min_cpc"`
	MinCPA    float64 `mapstructure:"min_cpa"`
}

type ImpactConfig struct {
	WindowDays    int `mapstructure:"window_days"`
	MaxPartitions int `mapstructure:"max_partitions"`
}

func DefaultFinanceConfig() FinanceConfig {
	return FinanceConfig{
		DefaultAmortizationMethod:   "straight_line",
		DefaultAmortizationMonths:   12,
		DefaultAttributionModel:     "last_touch",
		DefaultTimeDecayFactor:      0.5,
		DefaultChannelAllocationPct: 100,
		ReportingCurrency:           "USD",
		SupportedCurrencies:         []string{"USD", "EUR", "GBP", "CAD", "AUD"},
		Quality: QualityThresholds{
			MinROIPct: -10,
			MaxROIPct: 50,
			MinCPM:    0.01,
			MinCPC:    0.01,
			MinCPA:    0.01,
		},
		Impact: ImpactConfig{
			WindowDays:    30,
			MaxPartitions: 50,
		},
	}
}

// Supports reports whether the currency is configured as supported.
func (c FinanceConfig) Supports(currency string) bool {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	for _, supported := range c.SupportedCurrencies {
		if strings.EqualFold(supported, currency) {
			return true
		}
	}
	return false
}

type FinanceConfigHolder struct {
	current atomic.Value // holds FinanceConfig
}

// StaticFinanceConfig wraps a fixed config without file watching.
func StaticFinanceConfig(cfg FinanceConfig) *FinanceConfigHolder {
	holder := &FinanceConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewFinanceConfigHolder(cfg Config, log *zap.Logger) (*FinanceConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("finance.config")

	v := viper.New()
	if path := strings.TrimSpace(cfg.FinanceConfigPath); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("finance")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/contentfin")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CONTENTFIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setFinanceDefaults(v, DefaultFinanceConfig())

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read finance config: %w", err)
		}
		fileLoaded = false
	}

	current, err := decodeFinanceConfig(v)
	if err != nil {
		return nil, err
	}

	holder := &FinanceConfigHolder{}
	holder.current.Store(current)

	if fileLoaded {
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodeFinanceConfig(v)
			if err != nil {
				log.Warn("finance config reload ignored", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("finance config reloaded", zap.String("file", e.Name))
		})
		v.WatchConfig()
	}

	return holder, nil
}

func (h *FinanceConfigHolder) Get() FinanceConfig {
	return h.current.Load().(FinanceConfig)
}

func setFinanceDefaults(v *viper.Viper, d FinanceConfig) {
	v.SetDefault("finance.default_amortization_method", d.DefaultAmortizationMethod)
	v.SetDefault("finance.default_amortization_months", d.DefaultAmortizationMonths)
	v.SetDefault("finance.default_attribution_model", d.DefaultAttributionModel)
	v.SetDefault("finance.default_time_decay_factor", d.DefaultTimeDecayFactor)
	v.SetDefault("finance.default_channel_allocation_pct", d.DefaultChannelAllocationPct)
	v.SetDefault("finance.reporting_currency", d.ReportingCurrency)
	v.SetDefault("finance.supported_currencies", d.SupportedCurrencies)
	v.SetDefault("finance.quality.min_roi_pct", d.Quality.MinROIPct)
	v.SetDefault("finance.quality.max_roi_pct", d.Quality.MaxROIPct)
	v.SetDefault("finance.quality.min_cpm", d.Quality.MinCPM)
	v.SetDefault("finance.quality.min_cpc", d.Quality.MinCPC)
	v.SetDefault("finance.quality.min_cpa", d.Quality.MinCPA)
	v.SetDefault("finance.impact.window_days", d.Impact.WindowDays)
	v.SetDefault("finance.impact.max_partitions", d.Impact.MaxPartitions)
}

func decodeFinanceConfig(v *viper.Viper) (FinanceConfig, error) {
	var cfg FinanceConfig
	if err := v.UnmarshalKey("finance", &cfg); err != nil {
		return FinanceConfig{}, fmt.Errorf("decode finance config: %w", err)
	}
	cfg.ReportingCurrency = strings.ToUpper(strings.TrimSpace(cfg.ReportingCurrency))
	for i, c := range cfg.SupportedCurrencies {
		cfg.SupportedCurrencies[i] = strings.ToUpper(strings.TrimSpace(c))
	}
	if err := validateFinanceConfig(cfg); err != nil {
		return FinanceConfig{}, err
	}
	return cfg, nil
}

// maxAmortizationMonths matches the period cap on rule fragments.
const maxAmortizationMonths = 600

func validateFinanceConfig(cfg FinanceConfig) error {
	if cfg.DefaultAmortizationMonths <= 0 || cfg.DefaultAmortizationMonths > maxAmortizationMonths {
		return fmt.Errorf("finance.default_amortization_months must be between 1 and %d", maxAmortizationMonths)
	}
	if math.IsNaN(cfg.DefaultTimeDecayFactor) || math.IsInf(cfg.DefaultTimeDecayFactor, 0) || cfg.DefaultTimeDecayFactor <= 0 {
		return errors.New("finance.default_time_decay_factor must be a positive number")
	}
	if cfg.ReportingCurrency == "" {
		return errors.New("finance.reporting_currency cannot be empty")
	}
	if !cfg.Supports(cfg.ReportingCurrency) {
		return fmt.Errorf("finance.reporting_currency %s is not in supported_currencies", cfg.ReportingCurrency)
	}
	if cfg.Quality.MinROIPct > cfg.Quality.MaxROIPct {
		return errors.New("finance.quality.min_roi_pct exceeds max_roi_pct")
	}
	if cfg.Impact.WindowDays <= 0 || cfg.Impact.MaxPartitions <= 0 {
		return errors.New("finance.impact window_days and max_partitions must be positive")
	}
	return nil
}
