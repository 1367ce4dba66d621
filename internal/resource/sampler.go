package resource

import (
	"context"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// HostSampler implements [Sampler] using gopsutil, reading live CPU, memory,
// and disk I/O utilization from the host.
type HostSampler struct {
	// DiskPath is the mount point whose I/O pressure is sampled. Default "/".
	DiskPath string
}

// NewHostSampler returns a [HostSampler] sampling the given disk path. An
// empty path defaults to "/".
func NewHostSampler(diskPath string) *HostSampler {
	if diskPath == "" {
		diskPath = "/"
	}
	return &HostSampler{DiskPath: diskPath}
}

// Sample reads instantaneous CPU, memory, and disk utilization fractions.
func (h *HostSampler) Sample(ctx context.Context) (Reading, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Reading{}, err
	}
	cpuUsage := 0.0
	if len(percents) > 0 {
		cpuUsage = percents[0] / 100
	}

	vmem, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Reading{}, err
	}

	usage, err := disk.UsageWithContext(ctx, h.DiskPath)
	if err != nil {
		return Reading{}, err
	}

	return Reading{
		CPUUsage: clamp01(cpuUsage),
		MemUsage: clamp01(vmem.UsedPercent / 100),
		IOPress:  clamp01(usage.UsedPercent / 100),
	}, nil
}
