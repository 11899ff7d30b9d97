package main

import (
	"os"

	"github.com/google/uuid"
)

// instanceID identifies this process to the rest of the cluster: the
// sealed-registration row it upserts while sealed and the peer id the
// shard propagator excludes from its own push list. Hostname is stable
// across restarts of the same container/pod, which keeps a restarted
// instance's old registration row reusable instead of orphaned.
func deriveInstanceID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.NewString()
}
