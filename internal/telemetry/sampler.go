package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/user/edexd/internal/eventbus"
)

const (
	DefaultInterval = 1500 * time.Millisecond
	DefaultTimeout  = 5 * time.Second

	maxDisks    = 4
	maxNetworks = 2

	// failureLogEvery controls how often a run of failed ticks is logged.
	failureLogEvery = 20
)

// Options configures a Sampler.
type Options struct {
	Interval time.Duration
	Timeout  time.Duration
	Clock    clock.Clock
	Logger   *slog.Logger
	// Sink, when set, receives every snapshot published by a tick.
	Sink Sink
}

// Stats describes sampler activity since creation.
type Stats struct {
	Polling             bool   `json:"polling"`
	Samples             uint64 `json:"samples"`
	Failures            uint64 `json:"failures"`
	ConsecutiveFailures uint64 `json:"consecutive_failures"`
	Discarded           uint64 `json:"discarded"`
	Skipped             uint64 `json:"skipped"`
	Subscribers         int    `json:"subscribers"`
}

// Sampler owns the CPU history ring and the one polling ticker shared by all
// subscribers.
type Sampler struct {
	source   MetricSource
	interval time.Duration
	timeout  time.Duration
	clock    clock.Clock
	log      *slog.Logger
	sink     Sink

	history *History
	bus     *eventbus.Bus[Snapshot]

	mu     sync.Mutex
	cancel context.CancelFunc // non-nil while polling
	wg     sync.WaitGroup

	samples     atomic.Uint64
	failures    atomic.Uint64
	consecutive atomic.Uint64
	discarded   atomic.Uint64
	skipped     atomic.Uint64
}

// NewSampler creates a sampler reading from source. Polling starts only
// when Start is called.
func NewSampler(source MetricSource, opts Options) *Sampler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Sampler{
		source:   source,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		clock:    opts.Clock,
		log:      opts.Logger,
		sink:     opts.Sink,
		history:  NewHistory(HistorySize),
		bus:      eventbus.New[Snapshot](),
	}
}

// Subscribe returns a subscription to snapshots published by polling ticks.
func (s *Sampler) Subscribe(buffer int) *eventbus.Subscription[Snapshot] {
	return s.bus.Subscribe(buffer)
}

// Sample takes one snapshot immediately. On success the CPU usage is pushed
// into the history ring; the snapshot is returned but not broadcast.
func (s *Sampler) Sample(ctx context.Context) (Snapshot, error) {
	snap, err := s.collect(ctx)
	if err != nil {
		s.failures.Add(1)
		return Snapshot{}, err
	}
	s.samples.Add(1)
	s.history.Push(snap.CPU.Usage)
	return snap, nil
}

// History returns the CPU usage ring, oldest first. It always holds
// HistorySize values.
func (s *Sampler) History() []int {
	return s.history.Values()
}

// Start arms the polling ticker unless it is already running.
func (s *Sampler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	ticker := s.clock.Ticker(s.interval)

	s.wg.Add(1)
	go s.loop(ctx, ticker)
	s.log.Debug("telemetry polling started", "interval", s.interval)
}

// Stop disarms the ticker. It does not wait for a sample in progress; that
// sample's result is discarded. Stop is idempotent.
func (s *Sampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	s.log.Debug("telemetry polling stopped")
}

// Polling reports whether the ticker is armed.
func (s *Sampler) Polling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Close stops polling, waits for the polling goroutine to exit and closes
// every subscription.
func (s *Sampler) Close() {
	s.Stop()
	s.wg.Wait()
	s.bus.Close()
}

// Stats returns activity counters.
func (s *Sampler) Stats() Stats {
	return Stats{
		Polling:             s.Polling(),
		Samples:             s.samples.Load(),
		Failures:            s.failures.Load(),
		ConsecutiveFailures: s.consecutive.Load(),
		Discarded:           s.discarded.Load(),
		Skipped:             s.skipped.Load(),
		Subscribers:         s.bus.SubscriberCount(),
	}
}

func (s *Sampler) loop(ctx context.Context, ticker *clock.Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
			// A tick that fired during the sample is skipped, not queued.
			select {
			case <-ticker.C:
				s.skipped.Add(1)
			default:
			}
		}
	}
}

// tick runs one sample on the polling goroutine, so samples never overlap
// and each tick's broadcast completes before the next begins.
func (s *Sampler) tick(ctx context.Context) {
	snap, err := s.collect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			s.discarded.Add(1)
			return
		}
		s.failures.Add(1)
		n := s.consecutive.Add(1)
		if n == 1 || n%failureLogEvery == 0 {
			s.log.Warn("telemetry sample failed", "consecutive", n, "error", err)
		}
		return
	}

	// Stop cancels under s.mu, so checking here decides atomically whether
	// this result still belongs to an armed ticker.
	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		s.discarded.Add(1)
		return
	}
	s.history.Push(snap.CPU.Usage)
	s.mu.Unlock()

	s.samples.Add(1)
	if n := s.consecutive.Swap(0); n > 0 {
		s.log.Info("telemetry sampling recovered", "failed_ticks", n)
	}

	s.bus.Publish(snap)

	if s.sink != nil {
		if err := s.sink.Record(ctx, snap); err != nil {
			s.log.Warn("telemetry sink failed", "error", err)
		}
	}
}

// collect queries every metric concurrently and assembles a snapshot.
// The first failing query cancels the rest. collect returns as soon as ctx
// ends even if the source ignores cancellation.
func (s *Sampler) collect(ctx context.Context) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		load   float64
		info   CPUInfo
		memory MemoryStat
		disks  []Disk
		nets   []Network
		osInfo OSInfo
		uptime float64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		load, err = s.source.CurrentLoad(gctx)
		return wrapQuery("current load", err)
	})
	g.Go(func() (err error) {
		info, err = s.source.CPUInfo(gctx)
		return wrapQuery("cpu info", err)
	})
	g.Go(func() (err error) {
		memory, err = s.source.Memory(gctx)
		return wrapQuery("memory", err)
	})
	g.Go(func() (err error) {
		disks, err = s.source.Filesystems(gctx)
		return wrapQuery("filesystems", err)
	})
	g.Go(func() (err error) {
		nets, err = s.source.NetworkStats(gctx)
		return wrapQuery("network stats", err)
	})
	g.Go(func() (err error) {
		osInfo, err = s.source.OSInfo(gctx)
		return wrapQuery("os info", err)
	})
	g.Go(func() (err error) {
		uptime, err = s.source.Uptime(gctx)
		return wrapQuery("uptime", err)
	})

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: %w", ErrSampleFailed, err)
		}
	case <-ctx.Done():
		return Snapshot{}, fmt.Errorf("%w: %w", ErrSampleFailed, ctx.Err())
	}

	return Snapshot{
		CPU: CPU{
			Usage: clampPercent(math.Round(load)),
			Cores: info.PhysicalCores,
			Model: info.Model,
			Speed: info.SpeedGHz,
		},
		Memory:    memorySnapshot(memory),
		Disk:      firstDisks(disks),
		Network:   firstNetworks(nets),
		OS:        OS{Platform: osInfo.Platform, Distro: osInfo.Distro, Hostname: osInfo.Hostname, Uptime: uint64(math.Max(0, math.Floor(uptime)))},
		Timestamp: s.clock.Now().UnixMilli(),
	}, nil
}

func wrapQuery(name string, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func clampPercent(v float64) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return int(v)
}

func memorySnapshot(m MemoryStat) Memory {
	out := Memory{Total: m.Total, Used: m.Used, Free: m.Free}
	if m.Total > 0 {
		out.Percent = int(math.Round(float64(m.Used) / float64(m.Total) * 100))
	}
	return out
}

func firstDisks(disks []Disk) []Disk {
	if len(disks) > maxDisks {
		disks = disks[:maxDisks]
	}
	return append([]Disk{}, disks...)
}

func firstNetworks(nets []Network) []Network {
	if len(nets) > maxNetworks {
		nets = nets[:maxNetworks]
	}
	out := make([]Network, len(nets))
	for i, n := range nets {
		out[i] = Network{Iface: n.Iface, RxSec: math.Max(0, n.RxSec), TxSec: math.Max(0, n.TxSec)}
	}
	return out
}
