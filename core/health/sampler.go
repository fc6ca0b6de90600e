package health

import (
	"context"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// GopsutilSampler samples the running process and host via gopsutil.
type GopsutilSampler struct {
	proc *process.Process
}

func NewGopsutilSampler() (*GopsutilSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("health: attach to own process: %w", err)
	}
	return &GopsutilSampler{proc: proc}, nil
}

func (s *GopsutilSampler) Sample(ctx context.Context) (Usage, error) {
	var u Usage

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return u, fmt.Errorf("health: cpu sample: %w", err)
	}
	if len(percents) > 0 {
		u.CPUPercent = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return u, fmt.Errorf("health: memory sample: %w", err)
	}
	u.SystemMemPct = vm.UsedPercent

	info, err := s.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return u, fmt.Errorf("health: process memory sample: %w", err)
	}
	u.ProcessRSSMB = int(info.RSS / (1024 * 1024))

	return u, nil
}
