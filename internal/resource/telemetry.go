// Package resource decides whether the host has headroom to start another
// agent call.
package resource

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// Telemetry reports host load. Implementations must be safe for concurrent use.
type Telemetry interface {
	CPUPercent(ctx context.Context) (float64, error)
	MemoryPercent(ctx context.Context) (float64, error)
	ProcessCount(ctx context.Context) (int, error)
	Platform() string
}

// Detect picks the telemetry implementation for the running platform.
// Call it once at startup.
func Detect() Telemetry {
	switch runtime.GOOS {
	case "linux", "darwin", "windows":
		return &HostTelemetry{platform: runtime.GOOS}
	default:
		return &GenericTelemetry{}
	}
}

// HostTelemetry reads host-wide figures through gopsutil.
type HostTelemetry struct {
	platform string
}

// CPUPercent returns utilisation since the previous call, across all cores.
func (h *HostTelemetry) CPUPercent(ctx context.Context) (float64, error) {
	pcts, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, fmt.Errorf("reading cpu: %w", err)
	}
	if len(pcts) == 0 {
		return 0, nil
	}
	return pcts[0], nil
}

func (h *HostTelemetry) MemoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading memory: %w", err)
	}
	return vm.UsedPercent, nil
}

func (h *HostTelemetry) ProcessCount(ctx context.Context) (int, error) {
	pids, err := process.PidsWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing processes: %w", err)
	}
	return len(pids), nil
}

func (h *HostTelemetry) Platform() string { return h.platform }

// GenericTelemetry is the fallback for platforms gopsutil does not cover.
// It reports Go heap usage against memory obtained from the OS and no CPU load.
type GenericTelemetry struct{}

func (GenericTelemetry) CPUPercent(context.Context) (float64, error) { return 0, nil }

func (GenericTelemetry) MemoryPercent(context.Context) (float64, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.Sys == 0 {
		return 0, nil
	}
	return float64(ms.HeapInuse) / float64(ms.Sys) * 100, nil
}

func (GenericTelemetry) ProcessCount(context.Context) (int, error) { return 0, nil }

func (GenericTelemetry) Platform() string { return "generic/" + runtime.GOOS }
