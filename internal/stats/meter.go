package stats

import (
	"fmt"
	"sort"
	"strings"
)

// AverageMeter tracks a weighted running mean.
type AverageMeter struct {
	Sum   float64
	Count int
}

// Update adds val with weight n.
func (m *AverageMeter) Update(val float64, n int) {
	m.Sum += val * float64(n)
	m.Count += n
}

// Avg returns the mean so far, or 0 before the first update.
func (m *AverageMeter) Avg() float64 {
	if m.Count == 0 {
		return 0
	}
	return m.Sum / float64(m.Count)
}

// Reset clears the meter.
func (m *AverageMeter) Reset() {
	*m = AverageMeter{}
}

// MeterGroup keeps one meter per metric name, in first-seen order.
type MeterGroup struct {
	names  []string
	meters map[string]*AverageMeter
}

// NewMeterGroup creates an empty group.
func NewMeterGroup() *MeterGroup {
	return &MeterGroup{meters: make(map[string]*AverageMeter)}
}

// Update feeds every value of vals with weight n. New names are appended in
// sorted order so the layout does not depend on map iteration.
func (g *MeterGroup) Update(vals map[string]float64, n int) {
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m, ok := g.meters[k]
		if !ok {
			m = &AverageMeter{}
			g.meters[k] = m
			g.names = append(g.names, k)
		}
		m.Update(vals[k], n)
	}
}

// Get returns the meter for name, or nil.
func (g *MeterGroup) Get(name string) *AverageMeter {
	return g.meters[name]
}

// Averages returns the mean of every meter.
func (g *MeterGroup) Averages() map[string]float64 {
	out := make(map[string]float64, len(g.names))
	for _, n := range g.names {
		out[n] = g.meters[n].Avg()
	}
	return out
}

// Summary renders "name avg" pairs in order.
func (g *MeterGroup) Summary() string {
	parts := make([]string, len(g.names))
	for i, n := range g.names {
		parts[i] = fmt.Sprintf("%s %.4f", n, g.meters[n].Avg())
	}
	return strings.Join(parts, "  ")
}
