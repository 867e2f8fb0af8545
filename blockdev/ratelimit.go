package blockdev

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedDevice wraps a Device and throttles sector I/O to a fixed
// operations-per-second budget, letting demos and benchmarks simulate
// slower media. It is a CLI-level decorator only: the sfs/fat32/icache
// engines never depend on it directly.
type RateLimitedDevice struct {
	Device
	limiter *rate.Limiter
}

// NewRateLimitedDevice limits dev to maxIOPS sector operations per
// second, with a burst of one operation.
func NewRateLimitedDevice(dev Device, maxIOPS float64) *RateLimitedDevice {
	return &RateLimitedDevice{
		Device:  dev,
		limiter: rate.NewLimiter(rate.Limit(maxIOPS), 1),
	}
}

func (r *RateLimitedDevice) ReadSector(sector uint32, dst []byte) error {
	if err := r.limiter.Wait(context.Background()); err != nil {
		return fmt.Errorf("blockdev: rate limit wait: %w", err)
	}
	return r.Device.ReadSector(sector, dst)
}

func (r *RateLimitedDevice) WriteSector(sector uint32, src []byte) error {
	if err := r.limiter.Wait(context.Background()); err != nil {
		return fmt.Errorf("blockdev: rate limit wait: %w", err)
	}
	return r.Device.WriteSector(sector, src)
}
