// Package portalloc allocates application and FTP ports from configured
// ranges, and computes the passive-FTP data-port window that must travel
// alongside an FTP control port.
package portalloc

import (
	"fmt"
	"net"

	"github.com/cuemby/clusterctl/pkg/config"
)

// ClusterPorts reports every port currently recorded against a cluster row,
// so the allocator can treat them as occupied even if nothing is currently
// bound on the loopback side.
type ClusterPorts interface {
	ReservedPorts() (map[uint16]struct{}, error)
}

// Allocator draws ports from configured ranges, avoiding both rows already
// recorded in the cluster store and ports presently bound on the loopback
// interface.
type Allocator struct {
	appRange config.PortRange
	ftpRange config.PortRange
	store    ClusterPorts
}

// New constructs an Allocator against the given ranges and store.
func New(appRange, ftpRange config.PortRange, store ClusterPorts) *Allocator {
	return &Allocator{appRange: appRange, ftpRange: ftpRange, store: store}
}

// IsFree reports whether port is free: not bound on loopback by another
// holder, and not recorded in the cluster store.
func (a *Allocator) IsFree(port uint16) (bool, error) {
	reserved, err := a.store.ReservedPorts()
	if err != nil {
		return false, err
	}
	if _, taken := reserved[port]; taken {
		return false, nil
	}
	return bindable(port), nil
}

// NextApplicationPort returns the first free port in the application range.
func (a *Allocator) NextApplicationPort() (uint16, error) {
	return a.nextFree(a.appRange)
}

// NextFTPPort returns the first free port in the FTP control-port range.
func (a *Allocator) NextFTPPort() (uint16, error) {
	return a.nextFree(a.ftpRange)
}

func (a *Allocator) nextFree(r config.PortRange) (uint16, error) {
	reserved, err := a.store.ReservedPorts()
	if err != nil {
		return 0, err
	}
	for p := r.Min; p <= r.Max; p++ {
		if _, taken := reserved[p]; taken {
			if p == r.Max {
				break
			}
			continue
		}
		if bindable(p) {
			return p, nil
		}
		if p == r.Max {
			break
		}
	}
	return 0, fmt.Errorf("portalloc: no free port in range %d-%d", r.Min, r.Max)
}

func bindable(port uint16) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

// PassiveFTPWindowStart computes the first port of the 10-port passive-FTP
// data-channel window for a given FTP control port, wrapping below 22000:
// 21100 + 10*(ftpPort - 21000).
func PassiveFTPWindowStart(ftpPort uint16) uint16 {
	offset := 10 * (int(ftpPort) - 21000)
	const span = 900 // 22000 - 21100, kept a multiple of the 10-port stride
	offset = ((offset % span) + span) % span
	return uint16(21100 + offset)
}

// FindFreePassiveWindow advances the 10-port window by 10 starting at
// ftpPort's default window until it finds one entirely free on loopback,
// wrapping below 22000.
func FindFreePassiveWindow(ftpPort uint16) (uint16, error) {
	start := PassiveFTPWindowStart(ftpPort)
	for attempts := 0; attempts < 90; attempts++ {
		if windowFree(start) {
			return start, nil
		}
		start += 10
		if start >= 22000 {
			start = 21100
		}
	}
	return 0, fmt.Errorf("portalloc: no free passive-ftp window found")
}

func windowFree(start uint16) bool {
	for p := start; p < start+10; p++ {
		if !bindable(p) {
			return false
		}
	}
	return true
}
