// Package telemetry samples host metrics on a single shared cadence and keeps
// a rolling CPU usage history.
package telemetry

import (
	"context"
	"errors"
)

// HistorySize is the number of CPU usage values retained.
const HistorySize = 60

// ErrSampleFailed is wrapped around the first failing sub-query of a sample.
var ErrSampleFailed = errors.New("telemetry sample failed")

// Snapshot is one complete telemetry reading. It is never partially filled.
type Snapshot struct {
	CPU       CPU       `json:"cpu"`
	Memory    Memory    `json:"memory"`
	Disk      []Disk    `json:"disk"`
	Network   []Network `json:"network"`
	OS        OS        `json:"os"`
	Timestamp int64     `json:"timestamp"` // unix milliseconds
}

type CPU struct {
	Usage int     `json:"usage"`
	Cores int     `json:"cores"`
	Model string  `json:"model"`
	Speed float64 `json:"speed"` // GHz
}

type Memory struct {
	Total   uint64 `json:"total"`
	Used    uint64 `json:"used"`
	Free    uint64 `json:"free"`
	Percent int    `json:"percent"`
}

type Disk struct {
	FS      string  `json:"fs"`
	Size    uint64  `json:"size"`
	Used    uint64  `json:"used"`
	Percent float64 `json:"percent"`
	Mount   string  `json:"mount"`
}

type Network struct {
	Iface string  `json:"iface"`
	RxSec float64 `json:"rx_sec"`
	TxSec float64 `json:"tx_sec"`
}

type OS struct {
	Platform string `json:"platform"`
	Distro   string `json:"distro"`
	Hostname string `json:"hostname"`
	Uptime   uint64 `json:"uptime"` // seconds
}

// CPUInfo is the static processor description reported by a MetricSource.
type CPUInfo struct {
	PhysicalCores int
	Model         string
	SpeedGHz      float64
}

// MemoryStat is a raw memory reading in bytes.
type MemoryStat struct {
	Total uint64
	Used  uint64
	Free  uint64
}

// OSInfo describes the running operating system.
type OSInfo struct {
	Platform string
	Distro   string
	Hostname string
}

// MetricSource answers the individual host queries a Snapshot is built from.
// Every method may fail independently; the sampler treats any failure as a
// failure of the whole sample. Implementations should honour ctx.
type MetricSource interface {
	// CurrentLoad returns overall CPU utilisation in percent, unrounded.
	CurrentLoad(ctx context.Context) (float64, error)
	CPUInfo(ctx context.Context) (CPUInfo, error)
	Memory(ctx context.Context) (MemoryStat, error)
	// Filesystems returns mounted filesystems in the source's native order.
	Filesystems(ctx context.Context) ([]Disk, error)
	// NetworkStats returns per-interface transfer rates. Rates may be
	// negative when counters reset; the sampler clamps them.
	NetworkStats(ctx context.Context) ([]Network, error)
	OSInfo(ctx context.Context) (OSInfo, error)
	// Uptime returns seconds since boot.
	Uptime(ctx context.Context) (float64, error)
}

// Sink receives every snapshot published by a polling tick.
type Sink interface {
	Record(ctx context.Context, snap Snapshot) error
}
