package monitor

import (
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// DefaultHealthSamples is the ring buffer capacity for health samples.
const DefaultHealthSamples = 1000

// HealthSample is one reading of host and process vitals.
type HealthSample struct {
	Timestamp    time.Time `json:"timestamp"`
	MemoryPct    float64   `json:"memory_pct"`
	CPUPct       float64   `json:"cpu_pct"`
	DiskPct      float64   `json:"disk_pct"`
	NetBytesSent uint64    `json:"net_bytes_sent"`
	NetBytesRecv uint64    `json:"net_bytes_recv"`
	Processes    int       `json:"processes"`
	Goroutines   int       `json:"goroutines"`
	Load1        float64   `json:"load_1"`
}

// HealthSampler periodically reads system vitals into a bounded ring buffer.
// It runs on its own goroutine and never blocks request-serving paths.
type HealthSampler struct {
	interval time.Duration
	log      zerolog.Logger

	mu      sync.RWMutex
	samples []HealthSample
	next    int
	filled  bool

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewHealthSampler creates a sampler with the given interval and ring
// capacity. capacity <= 0 uses the default.
func NewHealthSampler(interval time.Duration, capacity int, log zerolog.Logger) *HealthSampler {
	if capacity <= 0 {
		capacity = DefaultHealthSamples
	}
	return &HealthSampler{
		interval: interval,
		log:      log.With().Str("component", "health_sampler").Logger(),
		samples:  make([]HealthSample, capacity),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins sampling on a background goroutine.
func (h *HealthSampler) Start() {
	go h.run()
}

// Stop signals the loop and waits for it to exit. Idempotent.
func (h *HealthSampler) Stop() {
	h.once.Do(func() {
		close(h.stop)
		<-h.done
	})
}

func (h *HealthSampler) run() {
	defer close(h.done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.append(h.sample())

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.append(h.sample())
		}
	}
}

// sample reads the vitals. Individual probe failures leave their fields zero;
// a partially populated sample is still worth keeping.
func (h *HealthSampler) sample() HealthSample {
	s := HealthSample{
		Timestamp:  time.Now(),
		Goroutines: runtime.NumGoroutine(),
	}

	if memStat, err := mem.VirtualMemory(); err == nil {
		s.MemoryPct = memStat.UsedPercent
	} else {
		h.log.Debug().Err(err).Msg("Memory probe failed")
	}

	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		s.CPUPct = cpuPercent[0]
	} else if err != nil {
		h.log.Debug().Err(err).Msg("CPU probe failed")
	}

	if diskStat, err := disk.Usage("/"); err == nil {
		s.DiskPct = diskStat.UsedPercent
	}

	if counters, err := net.IOCounters(false); err == nil && len(counters) > 0 {
		s.NetBytesSent = counters[0].BytesSent
		s.NetBytesRecv = counters[0].BytesRecv
	}

	if pids, err := process.Pids(); err == nil {
		s.Processes = len(pids)
	}

	if avg, err := load.Avg(); err == nil {
		s.Load1 = avg.Load1
	}

	return s
}

func (h *HealthSampler) append(s HealthSample) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.samples[h.next] = s
	h.next = (h.next + 1) % len(h.samples)
	if h.next == 0 {
		h.filled = true
	}
}

// Latest returns the most recent sample, if any.
func (h *HealthSampler) Latest() (HealthSample, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.next == 0 && !h.filled {
		return HealthSample{}, false
	}
	idx := (h.next - 1 + len(h.samples)) % len(h.samples)
	return h.samples[idx], true
}

// History returns samples oldest-first.
func (h *HealthSampler) History() []HealthSample {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.filled {
		out := make([]HealthSample, h.next)
		copy(out, h.samples[:h.next])
		return out
	}

	out := make([]HealthSample, 0, len(h.samples))
	out = append(out, h.samples[h.next:]...)
	out = append(out, h.samples[:h.next]...)
	return out
}
