package vhdconfig

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindFlagsDefaultsAndOverrides(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	load := BindFlags(flags)

	require.NoError(t, flags.Parse([]string{
		"--sr-root=/mnt/sr1",
		"--host-id=host1",
	}))

	cfg, err := load()
	require.NoError(t, err)

	assert.Equal(t, "/mnt/sr1", cfg.SRRoot)
	assert.Equal(t, "host1", cfg.HostID)
	assert.Equal(t, ProviderClusterFS, cfg.Provider)
	assert.Equal(t, 30*time.Second, cfg.GCPollInterval)
	assert.Equal(t, 3*time.Second, cfg.GCSleepSlice)
	assert.Equal(t, time.Hour, cfg.MetabaseBusyTimeout)
}

func TestValidateRejectsMissingRequiredFields(t *testing.T) {
	cfg := &Config{
		Provider:            ProviderLocalFS,
		VHDToolPath:         "/bin/vhd-util",
		TapControlPath:      "/bin/tap-ctl",
		HostID:              "host1",
		GCPollInterval:      30 * time.Second,
		GCSleepSlice:        3 * time.Second,
		MetabaseBusyTimeout: time.Hour,
	}
	assert.Error(t, cfg.Validate(), "sr-root is required")

	cfg.SRRoot = "/mnt/sr1"
	assert.NoError(t, cfg.Validate())

	cfg.GCSleepSlice = time.Minute
	assert.Error(t, cfg.Validate(), "sleep slice must not exceed poll interval")
}

func TestNewProviderSelectsBackend(t *testing.T) {
	cfg := &Config{Provider: ProviderLocalFS}
	sp, err := cfg.NewProvider()
	require.NoError(t, err)
	assert.NotNil(t, sp)

	cfg.Provider = "bogus"
	_, err = cfg.NewProvider()
	assert.Error(t, err)
}
