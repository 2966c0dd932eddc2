// Package metrics records kernel run measurements as prometheus collectors
// and summarizes per-run timings.
package metrics

import (
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Recorder owns a private registry, so one process can hold several
type Recorder struct {
	registry    *prometheus.Registry
	RunDuration *prometheus.HistogramVec
	Runs        *prometheus.CounterVec
	DeviceBytes prometheus.Gauge
	BuildResult *prometheus.CounterVec
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kernel_run_duration_ms",
			Help:    "Duration of a single timed kernel run in milliseconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 20), // 10us to ~5s
		}, []string{"kernel", "backend"}),
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kernel_runs_total",
			Help: "The total number of kernel launches",
		}, []string{"kernel", "backend"}),
		DeviceBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kernel_device_bytes",
			Help: "Device memory allocated for the kernel's buffers",
		}),
		BuildResult: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kernel_builds_total",
			Help: "Kernel builds by outcome",
		}, []string{"kernel", "backend", "outcome"}),
	}
}

// ObserveRun counts one launch and, when it was timed, records its duration
func (r *Recorder) ObserveRun(kernel, backend string, elapsed time.Duration, timed bool) {
	r.Runs.WithLabelValues(kernel, backend).Inc()
	if timed {
		r.RunDuration.WithLabelValues(kernel, backend).Observe(float64(elapsed) / float64(time.Millisecond))
	}
}

func (r *Recorder) ObserveBuild(kernel, backend string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	r.BuildResult.WithLabelValues(kernel, backend, outcome).Inc()
}

// Gatherer exposes the registry
func (r *Recorder) Gatherer() prometheus.Gatherer { return r.registry }

// WriteTextfile writes every metric in the text exposition format
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}

// Summary describes a set of run times, in milliseconds
type Summary struct {
	Count  int
	Mean   float64
	StdDev float64
	Median float64
	Min    float64
	Max    float64
}

// Summarize returns the zero Summary for no samples. StdDev is 0 for a
// single sample.
func Summarize(times []time.Duration) Summary {
	if len(times) == 0 {
		return Summary{}
	}
	ms := make([]float64, len(times))
	for i, d := range times {
		ms[i] = float64(d) / float64(time.Millisecond)
	}
	sort.Float64s(ms)

	s := Summary{
		Count: len(ms),
		Mean:  stat.Mean(ms, nil),
		Min:   floats.Min(ms),
		Max:   floats.Max(ms),
	}
	if len(ms) > 1 {
		s.StdDev = stat.StdDev(ms, nil)
	}
	if mid := len(ms) / 2; len(ms)%2 == 1 {
		s.Median = ms[mid]
	} else {
		s.Median = (ms[mid-1] + ms[mid]) / 2
	}
	return s
}
