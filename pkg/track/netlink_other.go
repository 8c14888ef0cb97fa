//go:build !linux

package track

import (
	"context"
	"errors"
	"time"
)

// NetlinkSampler is unavailable outside Linux; sock_diag is a Linux-only
// netlink family.
type NetlinkSampler struct{}

// NewNetlinkSampler always fails on non-Linux platforms.
func NewNetlinkSampler(_ *Tracker, _ time.Duration) (*NetlinkSampler, error) {
	return nil, errors.New("track: netlink sampler is only available on linux")
}

// Run is a no-op; NewNetlinkSampler never returns a usable instance.
func (s *NetlinkSampler) Run(_ context.Context) error { return nil }

// Close is a no-op.
func (s *NetlinkSampler) Close() error { return nil }
