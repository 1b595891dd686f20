package vhdconfig

import (
	"fmt"

	"github.com/swathicitrix/vhdsr/internal/provider"
	"github.com/swathicitrix/vhdsr/internal/provider/clusterfs"
	"github.com/swathicitrix/vhdsr/internal/provider/localfs"
)

// NewProvider constructs the provider.StorageProvider the Config's
// Provider field selects.
func (c *Config) NewProvider() (provider.StorageProvider, error) {
	switch c.Provider {
	case ProviderLocalFS:
		return localfs.New(), nil
	case ProviderClusterFS:
		return clusterfs.New(), nil
	default:
		return nil, fmt.Errorf("vhdconfig: unknown provider %q", c.Provider)
	}
}
