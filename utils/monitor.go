package utils

import (
	"runtime"
	"time"
)

var startTime = time.Now()

// MemoryStats is a trimmed view of runtime.MemStats.
type MemoryStats struct {
	HeapAlloc   uint64    `json:"heap_alloc"`
	HeapInUse   uint64    `json:"heap_in_use"`
	HeapObjects uint64    `json:"heap_objects"`
	NumGC       uint32    `json:"num_gc"`
	LastGCTime  time.Time `json:"last_gc_time"`
}

// RuntimeStats describes the running process.
type RuntimeStats struct {
	UptimeSeconds  int64       `json:"uptime_seconds"`
	GoroutineCount int         `json:"goroutine_count"`
	MemoryUsageMB  float64     `json:"memory_usage_mb"`
	Memory         MemoryStats `json:"memory"`
}

func GetMemoryStats() MemoryStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	stats := MemoryStats{
		HeapAlloc:   ms.HeapAlloc,
		HeapInUse:   ms.HeapInuse,
		HeapObjects: ms.HeapObjects,
		NumGC:       ms.NumGC,
	}
	if ms.LastGC > 0 {
		stats.LastGCTime = time.Unix(0, int64(ms.LastGC))
	}
	return stats
}

func GetRuntimeStats() RuntimeStats {
	mem := GetMemoryStats()
	return RuntimeStats{
		UptimeSeconds:  int64(time.Since(startTime).Seconds()),
		GoroutineCount: runtime.NumGoroutine(),
		MemoryUsageMB:  float64(mem.HeapAlloc) / 1024 / 1024,
		Memory:         mem,
	}
}
