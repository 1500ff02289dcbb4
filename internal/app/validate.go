package app

import (
	"fmt"
	"os"

	"pawlink/pkg/config"
)

// validateConfig performs quick, fail-fast validation of the effective
// configuration before starting long-running services. Keep checks light
// and focused so callers can surface user-friendly errors.
func validateConfig(eff config.EffectiveConfigResult) error {
	if eff.DBPath == "" {
		return fmt.Errorf("database path is empty: set --db flag, PAWLINK_DB_PATH env, or storage.db_path in config")
	}

	// TLS cert/key presence check if one is set
	cert := eff.Config.Server.TLS.CertFile
	key := eff.Config.Server.TLS.KeyFile
	if (cert != "" && key == "") || (cert == "" && key != "") {
		return fmt.Errorf("incomplete TLS configuration: both server.tls.cert_file and server.tls.key_file must be set")
	}
	if cert != "" {
		if _, err := os.Stat(cert); err != nil {
			return fmt.Errorf("tls cert file not accessible: %w", err)
		}
		if _, err := os.Stat(key); err != nil {
			return fmt.Errorf("tls key file not accessible: %w", err)
		}
	}

	// Frontend callers authenticate users with signatures minted from
	// backend keys; frontend keys without backend keys would lock every
	// user out.
	if len(eff.Config.Security.APIKeys.Frontend) > 0 && len(eff.Config.Security.APIKeys.Backend) == 0 {
		return fmt.Errorf("frontend API keys configured without backend keys: signatures cannot be issued or verified")
	}

	if eff.Config.Retention.Enabled && eff.Config.Retention.Period == "" {
		return fmt.Errorf("retention enabled but retention.period is empty")
	}

	return nil
}
