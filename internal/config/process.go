// Package config provides the gateway's two configuration layers: a
// process-wide settings loader built on viper/cobra, and a per-database TOML
// configuration loader covering scan toggles and cron scheduling.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Process holds the process-wide settings every component reads at startup.
type Process struct {
	DataRoot            string        `mapstructure:"data_root"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	IdleTimeout         time.Duration `mapstructure:"idle_timeout"`
	NumScanWorkers      int           `mapstructure:"num_scan_workers"`
	MailboxSize         int           `mapstructure:"mailbox_size"`
	ReadOnly            bool          `mapstructure:"readonly"`
}

// DefaultProcess mirrors the defaults the original service applies when an
// operator supplies no configuration at all.
func DefaultProcess() Process {
	return Process{
		DataRoot:            "./data",
		HealthCheckInterval: 5 * time.Minute,
		IdleTimeout:         5 * time.Minute,
		NumScanWorkers:      4,
		MailboxSize:         64,
		ReadOnly:            false,
	}
}

// BindFlags registers the process settings as persistent flags on the given
// cobra command, the way cmd/bd wires cobra+viper in the teacher repo.
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	defaults := DefaultProcess()

	cmd.PersistentFlags().String("data-root", defaults.DataRoot, "root directory containing index/ and user_data/")
	cmd.PersistentFlags().Duration("health-check-interval", defaults.HealthCheckInterval, "writer supervisor health check interval")
	cmd.PersistentFlags().Duration("idle-timeout", defaults.IdleTimeout, "writer connection idle eviction timeout")
	cmd.PersistentFlags().Int("num-scan-workers", defaults.NumScanWorkers, "continuous scan worker pool size (read into settings but not passed to the actors, which each run 2 workers)")
	cmd.PersistentFlags().Int("mailbox-size", defaults.MailboxSize, "writer actor mailbox buffer size")
	cmd.PersistentFlags().Bool("readonly", defaults.ReadOnly, "force all connections read-only, overriding per-mode write locks")

	_ = v.BindPFlag("data_root", cmd.PersistentFlags().Lookup("data-root"))
	_ = v.BindPFlag("health_check_interval", cmd.PersistentFlags().Lookup("health-check-interval"))
	_ = v.BindPFlag("idle_timeout", cmd.PersistentFlags().Lookup("idle-timeout"))
	_ = v.BindPFlag("num_scan_workers", cmd.PersistentFlags().Lookup("num-scan-workers"))
	_ = v.BindPFlag("mailbox_size", cmd.PersistentFlags().Lookup("mailbox-size"))
	_ = v.BindPFlag("readonly", cmd.PersistentFlags().Lookup("readonly"))
}

// Load reads process settings from a config file if present, environment
// variables (prefixed GATEWAY_), and flags already bound via BindFlags, in
// that ascending priority order (viper's own precedence).
func Load(v *viper.Viper) (Process, error) {
	v.SetEnvPrefix("gateway")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if v.ConfigFileUsed() == "" {
		v.SetConfigName("gateway")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "gateway"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Process{}, fmt.Errorf("config: reading process config: %w", err)
		}
	}

	p := DefaultProcess()
	if err := v.Unmarshal(&p); err != nil {
		return Process{}, fmt.Errorf("config: unmarshalling process config: %w", err)
	}
	return p, nil
}

// BoolEnv parses a boolean feature-toggle environment variable the way the
// original service parses its EXPERIMENTAL_* switches: case-insensitive,
// accepting 1/true/yes/on as truthy and everything else (including unset)
// as false.
func BoolEnv(name string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
