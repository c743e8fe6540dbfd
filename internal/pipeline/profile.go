package pipeline

import (
	"sync/atomic"
)

// Profiler accumulates counters across scans.
type Profiler struct {
	DetectionTimeNs atomic.Int64
	RegionsTimeNs   atomic.Int64
	Scans           atomic.Int64
	Regions         atomic.Int64
	Persisted       atomic.Int64
}

func (p *Profiler) Record(res *ScanResult) {
	if res == nil {
		return
	}
	p.DetectionTimeNs.Add(res.Processing.DetectionNs)
	p.RegionsTimeNs.Add(res.Processing.RegionsNs)
	p.Scans.Add(1)
	p.Regions.Add(int64(len(res.Regions)))
	p.Persisted.Add(int64(res.Persisted()))
}

// Snapshot returns the totals, with times in milliseconds.
func (p *Profiler) Snapshot() map[string]any {
	scans := p.Scans.Load()
	det := p.DetectionTimeNs.Load()
	reg := p.RegionsTimeNs.Load()
	out := map[string]any{
		"scans":            scans,
		"regions":          p.Regions.Load(),
		"persisted":        p.Persisted.Load(),
		"det_ms_total":     det / 1_000_000,
		"regions_ms_total": reg / 1_000_000,
	}
	if scans > 0 {
		out["det_ms_per_scan"] = float64(det) / 1_000_000.0 / float64(scans)
		out["regions_ms_per_scan"] = float64(reg) / 1_000_000.0 / float64(scans)
	}
	return out
}
