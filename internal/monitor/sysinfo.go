package monitor

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	gopsprocess "github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/ppm/internal/service"
)

// Sysinfo refreshes RSS/VSZ/CPU/IO for every tracked pid on each Sysinfo
// scheduler event and publishes an aggregated daemon snapshot (spec §4.7
// "Stats snapshot").
type Sysinfo struct {
	mu   sync.Mutex
	prev map[int64]sample

	daemonCPU  prometheus.Gauge
	daemonRSS  prometheus.Gauge
	servicesUp prometheus.Gauge
}

type sample struct {
	at         time.Time
	readBytes  uint64
	writeBytes uint64
}

// NewSysinfo registers the daemon-wide gauges with r (spec's aggregated
// "daemon stats" snapshot, grounded on the teacher's process-metrics
// Prometheus wiring).
func NewSysinfo(r prometheus.Registerer) (*Sysinfo, error) {
	s := &Sysinfo{
		prev: make(map[int64]sample),
		daemonCPU: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ppm", Subsystem: "daemon", Name: "cpu_percent",
			Help: "Aggregated CPU usage percentage across all managed services.",
		}),
		daemonRSS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ppm", Subsystem: "daemon", Name: "rss_bytes",
			Help: "Aggregated resident set size across all managed services.",
		}),
		servicesUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ppm", Subsystem: "daemon", Name: "services_running",
			Help: "Number of services currently in the Running state.",
		}),
	}
	for _, c := range []prometheus.Collector{s.daemonCPU, s.daemonRSS, s.servicesUp} {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return nil, err
			}
		}
	}
	return s, nil
}

// Refresh samples every running service's pid and writes an updated Stats
// snapshot; it returns the aggregate (total CPU%, total RSS, running count)
// for the daemon-wide gauges.
func (s *Sysinfo) Refresh(services []*service.Service) (totalCPU float64, totalRSS uint64, running int) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, svc := range services {
		info := svc.Info()
		if info.PID == 0 {
			continue
		}
		running++
		proc, err := gopsprocess.NewProcess(int32(info.PID))
		if err != nil {
			continue
		}
		cpuPercent, _ := proc.CPUPercent()
		memInfo, err := proc.MemoryInfo()
		var rss, vsz uint64
		if err == nil && memInfo != nil {
			rss, vsz = memInfo.RSS, memInfo.VMS
		}
		var readBytes, writeBytes uint64
		var readRate, writeRate float64
		if io, err := proc.IOCounters(); err == nil && io != nil {
			readBytes, writeBytes = io.ReadBytes, io.WriteBytes
			if prev, ok := s.prev[svc.ID()]; ok {
				dt := now.Sub(prev.at).Seconds()
				if dt > 0 {
					readRate = float64(readBytes-prev.readBytes) / dt
					writeRate = float64(writeBytes-prev.writeBytes) / dt
				}
			}
			s.prev[svc.ID()] = sample{at: now, readBytes: readBytes, writeBytes: writeBytes}
		}

		var uptime time.Duration
		if info.StartTime.Set {
			uptime = now.Sub(time.Unix(0, info.StartTime.Value))
		}

		svc.SetStats(service.Stats{
			CPUPercent:   cpuPercent,
			RSS:          rss,
			VSZ:          vsz,
			IOReadBytes:  readBytes,
			IOWriteBytes: writeBytes,
			IOReadRate:   readRate,
			IOWriteRate:  writeRate,
			Uptime:       uptime,
			SampledAt:    now,
		})

		totalCPU += cpuPercent
		totalRSS += rss
	}

	s.daemonCPU.Set(totalCPU)
	s.daemonRSS.Set(float64(totalRSS))
	s.servicesUp.Set(float64(running))
	return totalCPU, totalRSS, running
}
