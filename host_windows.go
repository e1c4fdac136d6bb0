//go:build windows

package memmap

import (
	"github.com/hupe1980/memmap/host"
	"github.com/hupe1980/memmap/host/win"
)

func nativeHost() (host.Host, error) {
	return win.New()
}
