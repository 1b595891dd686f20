// Package vhdconfig resolves the storage repository engine's runtime
// configuration: which SR to operate on, where its run-state lives, which
// VHD tool binary to shell out to, and the coalesce daemon's timing
// knobs. Grounded on untoldecay-BeadsLog/internal/config's viper-backed
// defaults/env/file layering, adapted from that package's global-singleton
// shape to a struct bound once at process startup and threaded through
// explicitly rather than read back through package-level getters.
package vhdconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ProviderKind selects which provider.StorageProvider backs an SR.
type ProviderKind string

const (
	ProviderLocalFS   ProviderKind = "localfs"
	ProviderClusterFS ProviderKind = "clusterfs"
)

// Config is the resolved configuration for one vhdsr-op or vhdsr-gcd
// process.
type Config struct {
	// SRRoot is the mount root of the storage repository.
	SRRoot string
	// Provider selects the storage-provider backend for SRRoot.
	Provider ProviderKind
	// VHDToolPath is the path to the external VHD utility binary.
	VHDToolPath string
	// TapControlPath is the path to the external per-host tap-control
	// binary (spec.md §6.3's external datapath agent).
	TapControlPath string
	// HostID identifies this host for vdi.active_on attribution.
	HostID string

	// GCPollInterval and GCSleepSlice are loaded and validated here, but
	// the coalesce daemon does not read them: internal/gc sleeps using its
	// own gc.MaxSleep (30s) and gc.SleepSlice (3s) constants.
	GCPollInterval time.Duration
	GCSleepSlice   time.Duration

	// MetabaseBusyTimeout bounds how long a write transaction waits on
	// SQLite's writer lock before giving up.
	MetabaseBusyTimeout time.Duration
}

// defaults mirror spec.md §4.F's 30s/3s sleep-slice timing and a
// conservative one-hour metabase busy timeout (spec.md §2: "the metabase
// is a single SQLite file ... writes are serialized").
var defaults = map[string]interface{}{
	"sr-root":               "",
	"provider":              string(ProviderClusterFS),
	"vhd-tool-path":         "/usr/sbin/vhd-util",
	"tap-control-path":      "/usr/sbin/tap-ctl",
	"host-id":               "",
	"gc-poll-interval":      "30s",
	"gc-sleep-slice":        "3s",
	"metabase-busy-timeout": "1h",
}

// BindFlags registers the persistent flags cmd/vhdsr-op and cmd/vhdsr-gcd
// share, and returns a Load function that resolves config.yaml, VHDSR_*
// environment variables, and flag overrides into a Config once flags have
// been parsed — mirroring BeadsLog's cobra PersistentPreRun binding point.
func BindFlags(flags *pflag.FlagSet) func() (*Config, error) {
	flags.String("sr-root", defaults["sr-root"].(string), "mount root of the storage repository")
	flags.String("provider", defaults["provider"].(string), "storage provider backend: clusterfs|localfs")
	flags.String("vhd-tool-path", defaults["vhd-tool-path"].(string), "path to the external VHD utility binary")
	flags.String("tap-control-path", defaults["tap-control-path"].(string), "path to the external per-host tap-control binary")
	flags.String("host-id", defaults["host-id"].(string), "identifier for this host, used for vdi.active_on")
	flags.Duration("gc-poll-interval", 30*time.Second, "coalesce daemon maximum sleep between idle iterations")
	flags.Duration("gc-sleep-slice", 3*time.Second, "coalesce daemon sleep increment while polling gc-running")
	flags.Duration("metabase-busy-timeout", time.Hour, "maximum wait for the metabase write lock")

	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.SetEnvPrefix("VHDSR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/vhdsr")

	return func() (*Config, error) {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("vhdconfig: bind flags: %w", err)
		}
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, fmt.Errorf("vhdconfig: read config file: %w", err)
			}
		}

		cfg := &Config{
			SRRoot:              v.GetString("sr-root"),
			Provider:            ProviderKind(v.GetString("provider")),
			VHDToolPath:         v.GetString("vhd-tool-path"),
			TapControlPath:      v.GetString("tap-control-path"),
			HostID:              v.GetString("host-id"),
			GCPollInterval:      v.GetDuration("gc-poll-interval"),
			GCSleepSlice:        v.GetDuration("gc-sleep-slice"),
			MetabaseBusyTimeout: v.GetDuration("metabase-busy-timeout"),
		}

		return cfg, cfg.Validate()
	}
}

// Validate checks the resolved configuration is usable, surfacing
// misconfiguration before any SR operation is attempted.
func (c *Config) Validate() error {
	if c.SRRoot == "" {
		return fmt.Errorf("vhdconfig: sr-root is required")
	}
	switch c.Provider {
	case ProviderLocalFS, ProviderClusterFS:
	default:
		return fmt.Errorf("vhdconfig: unknown provider %q", c.Provider)
	}
	if c.VHDToolPath == "" {
		return fmt.Errorf("vhdconfig: vhd-tool-path is required")
	}
	if c.TapControlPath == "" {
		return fmt.Errorf("vhdconfig: tap-control-path is required")
	}
	if c.HostID == "" {
		return fmt.Errorf("vhdconfig: host-id is required")
	}
	if c.GCSleepSlice <= 0 || c.GCPollInterval <= 0 {
		return fmt.Errorf("vhdconfig: gc-poll-interval and gc-sleep-slice must be positive")
	}
	if c.GCSleepSlice > c.GCPollInterval {
		return fmt.Errorf("vhdconfig: gc-sleep-slice must not exceed gc-poll-interval")
	}

	return nil
}
