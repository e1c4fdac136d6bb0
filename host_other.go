//go:build !windows

package memmap

import (
	"github.com/hupe1980/memmap/host"
	"github.com/hupe1980/memmap/host/sim"
)

// nativeHost falls back to the simulated host where the Windows virtual
// memory API does not exist.
func nativeHost() (host.Host, error) {
	return sim.New(), nil
}
