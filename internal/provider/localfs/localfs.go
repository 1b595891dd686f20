// Package localfs implements provider.StorageProvider for a single-host
// local directory, selected by provider=localfs in cmd/vhdsr-op and
// cmd/vhdsr-gcd (spec.md §4.D: "Implementations exist for ... local FS").
package localfs

import "github.com/swathicitrix/vhdsr/internal/provider"

// New returns a StorageProvider backed by a plain local directory, with no
// cluster mount/fencing check.
func New() provider.StorageProvider {
	return provider.NewFSProvider("")
}
