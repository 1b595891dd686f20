// Package clusterfs implements provider.StorageProvider for a
// cluster-mounted block filesystem, the mainline case per spec.md §1 ("a
// shared, cluster-mounted block filesystem"). The cluster filesystem
// itself and its fencing watchdog are external collaborators out of this
// system's scope (spec.md §1); clusterfs only verifies that the expected
// mount marker is present before touching the SR.
package clusterfs

import "github.com/swathicitrix/vhdsr/internal/provider"

// MountMarker is the file whose presence signals that the cluster
// filesystem has successfully mounted this SR.
const MountMarker = ".clustered-sr"

// New returns a StorageProvider backed by a cluster-mounted directory.
func New() provider.StorageProvider {
	return provider.NewFSProvider(MountMarker)
}
