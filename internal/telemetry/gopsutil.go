package telemetry

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
)

// netCounters stores interface byte counters for rate calculation.
type netCounters struct {
	at   time.Time
	recv map[string]uint64
	sent map[string]uint64
}

// HostSource is a MetricSource backed by gopsutil.
type HostSource struct {
	clock clock.Clock

	mu      sync.Mutex
	prevNet *netCounters
}

// NewHostSource creates a source reading the local host. A nil clock uses
// the wall clock.
func NewHostSource(clk clock.Clock) *HostSource {
	if clk == nil {
		clk = clock.New()
	}
	return &HostSource{clock: clk}
}

// CurrentLoad reports utilisation since the previous call, like a top refresh.
func (s *HostSource) CurrentLoad(ctx context.Context) (float64, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, fmt.Errorf("no cpu load reported")
	}
	return percents[0], nil
}

func (s *HostSource) CPUInfo(ctx context.Context) (CPUInfo, error) {
	cores, err := cpu.CountsWithContext(ctx, false)
	if err != nil {
		return CPUInfo{}, err
	}
	infos, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return CPUInfo{}, err
	}

	info := CPUInfo{PhysicalCores: cores}
	if len(infos) > 0 {
		info.Model = strings.TrimSpace(infos[0].ModelName)
		info.SpeedGHz = math.Round(infos[0].Mhz/10) / 100
	}
	return info, nil
}

func (s *HostSource) Memory(ctx context.Context) (MemoryStat, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return MemoryStat{}, err
	}
	return MemoryStat{Total: vm.Total, Used: vm.Used, Free: vm.Free}, nil
}

// Filesystems lists physical partitions. A partition whose usage cannot be
// read (unmounted media, permissions) is left out.
func (s *HostSource) Filesystems(ctx context.Context) ([]Disk, error) {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, err
	}

	disks := make([]Disk, 0, len(parts))
	for _, p := range parts {
		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		disks = append(disks, Disk{
			FS:      p.Device,
			Size:    usage.Total,
			Used:    usage.Used,
			Percent: math.Round(usage.UsedPercent*100) / 100,
			Mount:   p.Mountpoint,
		})
	}
	return disks, nil
}

// NetworkStats derives per-second rates from the change in byte counters
// since the previous call. The first call reports zero rates.
func (s *HostSource) NetworkStats(ctx context.Context) ([]Network, error) {
	counters, err := net.IOCountersWithContext(ctx, true)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	cur := &netCounters{
		at:   now,
		recv: make(map[string]uint64, len(counters)),
		sent: make(map[string]uint64, len(counters)),
	}

	s.mu.Lock()
	prev := s.prevNet
	s.prevNet = cur
	s.mu.Unlock()

	var elapsed float64
	if prev != nil {
		elapsed = now.Sub(prev.at).Seconds()
	}

	nets := make([]Network, 0, len(counters))
	for _, c := range counters {
		cur.recv[c.Name] = c.BytesRecv
		cur.sent[c.Name] = c.BytesSent
		if isLoopback(c.Name) {
			continue
		}

		n := Network{Iface: c.Name}
		if prev != nil && elapsed > 0 {
			if r, ok := prev.recv[c.Name]; ok {
				n.RxSec = (float64(c.BytesRecv) - float64(r)) / elapsed
			}
			if t, ok := prev.sent[c.Name]; ok {
				n.TxSec = (float64(c.BytesSent) - float64(t)) / elapsed
			}
		}
		nets = append(nets, n)
	}
	return nets, nil
}

func isLoopback(name string) bool {
	return name == "lo" || name == "lo0" || strings.HasPrefix(name, "Loopback")
}

func (s *HostSource) OSInfo(ctx context.Context) (OSInfo, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return OSInfo{}, err
	}
	distro := strings.TrimSpace(info.Platform + " " + info.PlatformVersion)
	return OSInfo{Platform: info.OS, Distro: distro, Hostname: info.Hostname}, nil
}

func (s *HostSource) Uptime(ctx context.Context) (float64, error) {
	up, err := host.UptimeWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return float64(up), nil
}
