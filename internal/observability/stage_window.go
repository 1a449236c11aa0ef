package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// StageStats summarizes the samples of one turn stage still in the window.
type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
	OverTarget  int     `json:"over_target,omitempty"`
}

// KindCount counts failed turns of one error kind since the last reset.
type KindCount struct {
	Kind  string `json:"kind"`
	Count int    `json:"count"`
}

// StageSnapshot is the payload of the latency endpoint.
type StageSnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
	Failures    []KindCount  `json:"failures,omitempty"`
}

// stageTargetsMS are the p95 budgets for each orchestrator stage.
var stageTargetsMS = map[string]float64{
	"resolve_conversation": 50,
	"persist_user":         50,
	"load_context":         50,
	"persist_reply":        50,
	"generate_reply":       2500,
	"turn_total":           2800,
}

// ring keeps the latest len(buf) samples of one stage.
type ring struct {
	buf  []float64
	n    int
	head int
	last float64
}

func (r *ring) push(v float64) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
	r.last = v
}

func (r *ring) sorted() []float64 {
	out := make([]float64, r.n)
	copy(out, r.buf[:r.n])
	sort.Float64s(out)
	return out
}

type stageWindow struct {
	mu       sync.Mutex
	size     int
	rings    map[string]*ring
	failures map[string]int
}

func newStageWindow(size int) *stageWindow {
	if size <= 0 {
		size = 256
	}
	return &stageWindow{
		size:     size,
		rings:    map[string]*ring{},
		failures: map[string]int{},
	}
}

func (w *stageWindow) observe(stage string, ms float64) {
	if stage == "" || ms < 0 || math.IsNaN(ms) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r := w.rings[stage]
	if r == nil {
		r = &ring{buf: make([]float64, w.size)}
		w.rings[stage] = r
	}
	r.push(ms)
}

func (w *stageWindow) fail(kind string) {
	if kind == "" {
		return
	}
	w.mu.Lock()
	w.failures[kind]++
	w.mu.Unlock()
}

func (w *stageWindow) reset() {
	w.mu.Lock()
	w.rings = map[string]*ring{}
	w.failures = map[string]int{}
	w.mu.Unlock()
}

func (w *stageWindow) snapshot() StageSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := StageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      make([]StageStats, 0, len(w.rings)),
	}
	for _, stage := range sortedKeys(w.rings) {
		r := w.rings[stage]
		if r.n == 0 {
			continue
		}
		samples := r.sorted()
		target := stageTargetsMS[stage]
		sum, over := 0.0, 0
		for _, v := range samples {
			sum += v
			if target > 0 && v > target {
				over++
			}
		}
		snap.Stages = append(snap.Stages, StageStats{
			Stage:       stage,
			Samples:     r.n,
			LastMS:      round2(r.last),
			AvgMS:       round2(sum / float64(r.n)),
			P50MS:       round2(interpolate(samples, 0.50)),
			P95MS:       round2(interpolate(samples, 0.95)),
			P99MS:       round2(interpolate(samples, 0.99)),
			TargetP95MS: target,
			OverTarget:  over,
		})
	}
	for _, kind := range sortedKeys(w.failures) {
		snap.Failures = append(snap.Failures, KindCount{Kind: kind, Count: w.failures[kind]})
	}
	return snap
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// interpolate returns the q-quantile of sorted using linear interpolation.
func interpolate(sorted []float64, q float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[lo+1]-sorted[lo])*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
