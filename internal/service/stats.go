package service

import "time"

// Stats is the live resource-usage snapshot the Sysinfo scheduler event
// refreshes (spec §4.7 "Stats snapshot").
type Stats struct {
	CPUPercent   float64
	CPUTime      time.Duration
	RSS          uint64
	VSZ          uint64
	IOReadBytes  uint64
	IOWriteBytes uint64
	IOReadRate   float64 // bytes/sec, delta against previous snapshot
	IOWriteRate  float64
	Uptime       time.Duration
	SampledAt    time.Time
}
