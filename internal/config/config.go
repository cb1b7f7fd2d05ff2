// Package config defines all configuration for the trading core. Config is
// loaded from a YAML file (default: configs/config.yaml) with sensitive
// fields overridable via CORE_* environment variables — a
// viper-plus-env-override shape generalized from wallet/API credentials to
// venue connection parameters, fabric ring capacities, backoff ceilings,
// and paper-simulator tuning. Credential *acquisition* stays an excluded
// external concern; this package only consumes already-resolved API
// key/secret strings.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	DryRun   bool `mapstructure:"dry_run"`
	Fabric   FabricConfig `mapstructure:"fabric"`
	Venues   []VenueConfig `mapstructure:"venues"`
	Gateways []GatewayConfig `mapstructure:"gateways"`
	Logging  LoggingConfig `mapstructure:"logging"`
	Metrics  MetricsConfig `mapstructure:"metrics"`
}

// FabricConfig sizes the event fabric's rings, pools, and hot-path logger,
// shared across every venue and gateway wired at startup.
type FabricConfig struct {
	EventRingCapacity    uint64 `mapstructure:"event_ring_capacity"`
	RequestRingCapacity  uint64 `mapstructure:"request_ring_capacity"`
	ResponseRingCapacity uint64 `mapstructure:"response_ring_capacity"`
	LogRingCapacity      uint64 `mapstructure:"log_ring_capacity"`
	LogFile              string `mapstructure:"log_file"`
}

// VenueConfig configures one market-data ingestor connection.
// Mode selects diff-mode (incremental feeds) vs. replace-mode
// (bounded-depth snapshot-every-tick feeds).
type VenueConfig struct {
	Name                string `mapstructure:"name"`
	Mode                string `mapstructure:"mode"` // "diff" or "replace"
	WSURL               string `mapstructure:"ws_url"`
	RESTBaseURL         string `mapstructure:"rest_base_url"`
	Instruments         []InstrumentEntry `mapstructure:"instruments"`
	MaxBufferedDiffs    int `mapstructure:"max_buffered_diffs"`
	MinReconnectWait    time.Duration `mapstructure:"min_reconnect_wait"`
	MaxReconnectWait    time.Duration `mapstructure:"max_reconnect_wait"`
	HeartbeatWindow     time.Duration `mapstructure:"heartbeat_window"`
	SnapshotMinInterval time.Duration `mapstructure:"snapshot_min_interval"`
	SnapshotRetryMax    int `mapstructure:"snapshot_retry_max"`
}

// InstrumentEntry names one instrument to subscribe on a venue at startup,
// along with the adapter-boundary decimal scale needed to parse its
// venue-native price/quantity strings.
type InstrumentEntry struct {
	Symbol         string `mapstructure:"symbol"`
	PriceIncrement string `mapstructure:"price_increment"`
	LotSize        string `mapstructure:"lot_size"`
}

// GatewayConfig configures one order gateway: either a live
// REST adapter against a real venue, or the deterministic paper-trading
// simulator. Exactly one of the Live/Paper sub-configs is meaningful,
// selected by Mode.
type GatewayConfig struct {
	ClientID     uint32 `mapstructure:"client_id"`
	Mode         string `mapstructure:"mode"` // "live" or "paper"
	RingCapacity uint64 `mapstructure:"ring_capacity"`
	Live         LiveGatewayConfig `mapstructure:"live"`
	Paper        PaperGatewayConfig `mapstructure:"paper"`
	Filters      []FilterEntry `mapstructure:"filters"`
}

// LiveGatewayConfig carries the REST base URL, auth header name, and
// already-resolved API credentials a LiveExecutor signs requests with.
// Acquiring APIKey/APISecret (TOTP, signed bootstrap flows) is an excluded
// external collaborator; this core only reads the resolved strings,
// optionally overridden by env vars (see Load).
type LiveGatewayConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	AuthHeader   string `mapstructure:"auth_header"`
	APIKey       string `mapstructure:"api_key"`
	APISecret    string `mapstructure:"api_secret"`
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// OrderRate/OrderBurst cap outbound order REST calls to what the venue
	// advertises for the account; zero values take the gateway defaults.
	OrderRate  float64 `mapstructure:"order_rate"`
	OrderBurst int `mapstructure:"order_burst"`
}

// PaperGatewayConfig tunes the deterministic paper-trading simulator:
// latency bounds, fill probability, slippage model, and the RNG seed that
// makes identical config + identical request streams yield bit-identical
// output.
type PaperGatewayConfig struct {
	MinLatency      time.Duration `mapstructure:"min_latency"`
	MaxLatency      time.Duration `mapstructure:"max_latency"`
	FillProbability float64 `mapstructure:"fill_probability"`
	SlippageModel   string `mapstructure:"slippage_model"` // "fixed", "normal", "pareto"
	SlippageFactor  float64 `mapstructure:"slippage_factor"`
	Seed            int64 `mapstructure:"seed"`
}

// FilterEntry advertises a per-symbol venue filter (tick size, lot step,
// price band) the gateway applies as a pre-trade adjustment.
type FilterEntry struct {
	Symbol   string `mapstructure:"symbol"`
	TickSize int64 `mapstructure:"tick_size"`
	LotStep  int64 `mapstructure:"lot_step"`
	MinQty   int64 `mapstructure:"min_qty"`
	MinPrice int64 `mapstructure:"min_price"`
	MaxPrice int64 `mapstructure:"max_price"`
}

// LoggingConfig tunes the ambient log/slog operational logger, kept
// separate from FabricConfig's hot-path logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls whether the prometheus registry is exposed and
// where.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load reads config from a YAML file with env var overrides. Sensitive
// per-gateway fields use env vars: CORE_API_KEY, CORE_API_SECRET, applied
// to every live gateway that doesn't already have a value set in the file
// (a single-credential-pair deployment is the common case; multi-venue
// deployments set per-gateway values directly in YAML instead).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("CORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	envKey := os.Getenv("CORE_API_KEY")
	envSecret := os.Getenv("CORE_API_SECRET")
	for i := range cfg.Gateways {
		if cfg.Gateways[i].Mode != "live" {
			continue
		}
		if envKey != "" && cfg.Gateways[i].Live.APIKey == "" {
			cfg.Gateways[i].Live.APIKey = envKey
		}
		if envSecret != "" && cfg.Gateways[i].Live.APISecret == "" {
			cfg.Gateways[i].Live.APISecret = envSecret
		}
	}
	if os.Getenv("CORE_DRY_RUN") == "true" || os.Getenv("CORE_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if len(c.Venues) == 0 {
		return fmt.Errorf("at least one venue is required")
	}
	for _, v := range c.Venues {
		if v.Name == "" {
			return fmt.Errorf("venue.name is required")
		}
		if v.Mode != "diff" && v.Mode != "replace" {
			return fmt.Errorf("venue %q: mode must be \"diff\" or \"replace\"", v.Name)
		}
		if v.WSURL == "" {
			return fmt.Errorf("venue %q: ws_url is required", v.Name)
		}
		for _, inst := range v.Instruments {
			if inst.Symbol == "" {
				return fmt.Errorf("venue %q: instrument symbol is required", v.Name)
			}
		}
	}
	for _, g := range c.Gateways {
		switch g.Mode {
		case "live":
			if g.Live.BaseURL == "" {
				return fmt.Errorf("gateway client %d: live.base_url is required", g.ClientID)
			}
			if !c.DryRun && (g.Live.APIKey == "" || g.Live.APISecret == "") {
				return fmt.Errorf("gateway client %d: live.api_key/api_secret are required unless dry_run", g.ClientID)
			}
		case "paper":
			if g.Paper.FillProbability < 0 || g.Paper.FillProbability > 1 {
				return fmt.Errorf("gateway client %d: paper.fill_probability must be in [0,1]", g.ClientID)
			}
			if g.Paper.MaxLatency < g.Paper.MinLatency {
				return fmt.Errorf("gateway client %d: paper.max_latency must be >= min_latency", g.ClientID)
			}
		default:
			return fmt.Errorf("gateway client %d: mode must be \"live\" or \"paper\"", g.ClientID)
		}
	}
	return nil
}
