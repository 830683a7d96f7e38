package monitoring

import (
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/pagewarden/pagewarden/internal/shared/types"
)

// latencyWindow bounds the per-layer rolling latency sample.
const latencyWindow = 256

// LayerStats summarizes one layer's runs.
type LayerStats struct {
	Count  int64   `json:"count"`
	Errors int64   `json:"errors"`
	MeanMS float64 `json:"mean_ms"`
	P95MS  float64 `json:"p95_ms"`
}

// ClassStats holds one-vs-rest accuracy for a verdict class.
type ClassStats struct {
	TruePositives  int64   `json:"true_positives"`
	FalsePositives int64   `json:"false_positives"`
	FalseNegatives int64   `json:"false_negatives"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
}

// Summary is a read-only snapshot of the collector.
type Summary struct {
	Assessments int64                           `json:"assessments"`
	Layers      map[types.LayerName]LayerStats  `json:"layers"`
	Verdicts    map[types.Verdict]int64         `json:"verdicts"`
	Labeled     int64                           `json:"labeled"`
	Classes     map[types.Verdict]ClassStats    `json:"classes,omitempty"`
}

type layerRecord struct {
	count   int64
	errors  int64
	totalMS float64
	window  []float64
}

// Collector keeps rolling counters for assessments. Process-lived; safe for
// concurrent use.
type Collector struct {
	mu          sync.Mutex
	assessments int64
	layers      map[types.LayerName]*layerRecord
	verdicts    map[types.Verdict]int64
	labeled     int64
	// confusion[predicted][actual]
	confusion map[types.Verdict]map[types.Verdict]int64
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		layers:    make(map[types.LayerName]*layerRecord),
		verdicts:  make(map[types.Verdict]int64),
		confusion: make(map[types.Verdict]map[types.Verdict]int64),
	}
}

// RecordAssessment folds one assessment into the counters. Skipped layers
// were never invoked and do not count.
func (c *Collector) RecordAssessment(a types.RiskAssessment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.assessments++
	c.verdicts[a.Verdict]++

	for _, r := range a.LayerReports {
		if r.Status == types.StatusSkipped {
			continue
		}
		rec := c.layers[r.LayerName]
		if rec == nil {
			rec = &layerRecord{}
			c.layers[r.LayerName] = rec
		}
		rec.count++
		if r.Status == types.StatusError {
			rec.errors++
		}
		ms := float64(r.ElapsedMS)
		rec.totalMS += ms
		if len(rec.window) >= latencyWindow {
			copy(rec.window, rec.window[1:])
			rec.window[len(rec.window)-1] = ms
		} else {
			rec.window = append(rec.window, ms)
		}
	}
}

// RecordLabeled records an assessment together with its ground-truth
// verdict for offline accuracy evaluation.
func (c *Collector) RecordLabeled(a types.RiskAssessment, label types.Verdict) {
	c.RecordAssessment(a)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.labeled++
	row := c.confusion[a.Verdict]
	if row == nil {
		row = make(map[types.Verdict]int64)
		c.confusion[a.Verdict] = row
	}
	row[label]++
}

// Summary returns a snapshot copy of the counters.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Summary{
		Assessments: c.assessments,
		Layers:      make(map[types.LayerName]LayerStats, len(c.layers)),
		Verdicts:    make(map[types.Verdict]int64, len(c.verdicts)),
		Labeled:     c.labeled,
	}
	for name, rec := range c.layers {
		stats := LayerStats{Count: rec.count, Errors: rec.errors}
		if rec.count > 0 {
			stats.MeanMS = rec.totalMS / float64(rec.count)
		}
		if len(rec.window) > 0 {
			sorted := make([]float64, len(rec.window))
			copy(sorted, rec.window)
			sort.Float64s(sorted)
			stats.P95MS = stat.Quantile(0.95, stat.Empirical, sorted, nil)
		}
		s.Layers[name] = stats
	}
	for v, n := range c.verdicts {
		s.Verdicts[v] = n
	}
	if c.labeled > 0 {
		s.Classes = c.classStats()
	}
	return s
}

// classStats derives one-vs-rest precision/recall/F1 per verdict class from
// the confusion counts. Callers hold the lock.
func (c *Collector) classStats() map[types.Verdict]ClassStats {
	out := make(map[types.Verdict]ClassStats)
	for _, class := range []types.Verdict{types.VerdictAllow, types.VerdictWarn, types.VerdictConfirm, types.VerdictBlock} {
		var cs ClassStats
		for predicted, row := range c.confusion {
			for actual, n := range row {
				switch {
				case predicted == class && actual == class:
					cs.TruePositives += n
				case predicted == class:
					cs.FalsePositives += n
				case actual == class:
					cs.FalseNegatives += n
				}
			}
		}
		if cs.TruePositives+cs.FalsePositives > 0 {
			cs.Precision = float64(cs.TruePositives) / float64(cs.TruePositives+cs.FalsePositives)
		}
		if cs.TruePositives+cs.FalseNegatives > 0 {
			cs.Recall = float64(cs.TruePositives) / float64(cs.TruePositives+cs.FalseNegatives)
		}
		if cs.Precision+cs.Recall > 0 {
			cs.F1 = 2 * cs.Precision * cs.Recall / (cs.Precision + cs.Recall)
		}
		out[class] = cs
	}
	return out
}
