package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultReconnectDelay is the fixed transport reconnect delay applied when
// the config does not override it.
const DefaultReconnectDelay = 5000 * time.Millisecond

type Config struct {
	Server struct {
		Address string `yaml:"address"`
		Port    int    `yaml:"port"`
		TLS     struct {
			CertFile string `yaml:"cert_file"`
			KeyFile  string `yaml:"key_file"`
		} `yaml:"tls"`
	} `yaml:"server"`
	Storage struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"storage"`
	Transport struct {
		// ReconnectDelayMS is the fixed delay before a dropped live
		// connection is redialed. Reference value 5000.
		ReconnectDelayMS int `yaml:"reconnect_delay_ms"`
	} `yaml:"transport"`
	Security struct {
		CORS struct {
			AllowedOrigins []string `yaml:"allowed_origins"`
		} `yaml:"cors"`
		RateLimit struct {
			RPS   float64 `yaml:"rps"`
			Burst int     `yaml:"burst"`
		} `yaml:"rate_limit"`
		APIKeys struct {
			Backend  []string `yaml:"backend"`
			Frontend []string `yaml:"frontend"`
		} `yaml:"api_keys"`
	} `yaml:"security"`
	Retention struct {
		Enabled bool   `yaml:"enabled"`
		Cron    string `yaml:"cron"`
		// Period is a Go duration string; messages older than this are
		// pruned by the sweeper.
		Period string `yaml:"period"`
	} `yaml:"retention"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
	Validation struct {
		MaxBodyLen int `yaml:"max_body_len"`
	} `yaml:"validation"`
}

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// ReconnectDelay returns the configured transport reconnect delay.
func (c *Config) ReconnectDelay() time.Duration {
	if c.Transport.ReconnectDelayMS > 0 {
		return time.Duration(c.Transport.ReconnectDelayMS) * time.Millisecond
	}
	return DefaultReconnectDelay
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseCommandFlags defines and parses command-line flags and returns their
// values along with a map indicating which flags were explicitly set.
func ParseCommandFlags() (addr string, dbPath string, cfgPath string, setFlags map[string]bool) {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	dbPtr := flag.String("db", "./.database", "Pebble DB path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return *addrPtr, *dbPtr, *cfgPtr, setFlags
}

// ResolveConfigPath picks the config path: an explicit flag wins, then the
// PAWLINK_CONFIG env var, then the flag default.
func ResolveConfigPath(flagVal string, flagSet bool) string {
	if flagSet {
		return flagVal
	}
	if v := os.Getenv("PAWLINK_CONFIG"); v != "" {
		return v
	}
	return flagVal
}

// LoadEnvOverrides applies environment overrides onto cfg and reports
// whether any env vars were used.
func LoadEnvOverrides(cfg *Config) bool {
	envUsed := false
	parseList := func(v string) []string {
		if v == "" {
			return nil
		}
		var parts []string
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				parts = append(parts, s)
			}
		}
		return parts
	}

	if v := os.Getenv("PAWLINK_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	}
	if v := os.Getenv("PAWLINK_DB_PATH"); v != "" {
		envUsed = true
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("PAWLINK_LOG_LEVEL"); v != "" {
		envUsed = true
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PAWLINK_RECONNECT_DELAY_MS"); v != "" {
		envUsed = true
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Transport.ReconnectDelayMS = ms
		}
	}
	if v := parseList(os.Getenv("PAWLINK_BACKEND_KEYS")); v != nil {
		envUsed = true
		cfg.Security.APIKeys.Backend = v
	}
	if v := parseList(os.Getenv("PAWLINK_FRONTEND_KEYS")); v != nil {
		envUsed = true
		cfg.Security.APIKeys.Frontend = v
	}
	return envUsed
}

// EffectiveConfigResult is the merged view of flags, env and config file
// that the rest of the process runs with.
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DBPath string
	// Source names which layer won: "flags", "env" or "config".
	Source string
}

// LoadEffective loads the config file (when present), applies env
// overrides and returns the effective result. A missing config file is not
// an error; defaults plus env still apply.
func LoadEffective(cfgPath string) (EffectiveConfigResult, error) {
	cfg, err := Load(cfgPath)
	source := "config"
	if err != nil {
		if !strings.Contains(err.Error(), "not found") {
			return EffectiveConfigResult{}, err
		}
		cfg = &Config{}
		source = "flags"
	}
	if LoadEnvOverrides(cfg) {
		source = "env"
	}
	return EffectiveConfigResult{Config: cfg, Addr: cfg.Addr(), DBPath: cfg.Storage.DBPath, Source: source}, nil
}

// RuntimeConfig holds derived runtime values other packages may query at
// runtime (populated during startup after merging env+file).
type RuntimeConfig struct {
	BackendKeys map[string]struct{}
	SigningKeys map[string]struct{}
}

var (
	runtimeMu  sync.RWMutex
	runtimeCfg *RuntimeConfig
)

// SetRuntime sets the canonical runtime config used by the running server.
func SetRuntime(rc *RuntimeConfig) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	runtimeCfg = rc
}

// GetBackendKeys returns a copy of configured backend keys.
func GetBackendKeys() map[string]struct{} {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	out := map[string]struct{}{}
	if runtimeCfg == nil || runtimeCfg.BackendKeys == nil {
		return out
	}
	for k := range runtimeCfg.BackendKeys {
		out[k] = struct{}{}
	}
	return out
}

// GetSigningKeys returns a copy of configured signing keys.
func GetSigningKeys() map[string]struct{} {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	out := map[string]struct{}{}
	if runtimeCfg == nil || runtimeCfg.SigningKeys == nil {
		return out
	}
	for k := range runtimeCfg.SigningKeys {
		out[k] = struct{}{}
	}
	return out
}
