package prometheus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-transactions/core"
	promclient "github.com/prometheus/client_golang/prometheus"
)

const DefaultNamespace = "marketplace"

// DefaultDurationBuckets are milliseconds; core reports durations as *_ms.
var DefaultDurationBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

type Config struct {
	Namespace       string
	Registerer      promclient.Registerer
	DurationBuckets []float64
}

// Recorder maps core metric names onto Prometheus vectors. A vector is
// created on first use and its label set is fixed to the tag keys seen then;
// later tags are projected onto that set.
type Recorder struct {
	namespace  string
	registerer promclient.Registerer
	buckets    []float64

	mu         sync.Mutex
	counters   map[string]*counterEntry
	histograms map[string]*histogramEntry
	errs       []error
}

type counterEntry struct {
	vec    *promclient.CounterVec
	labels []string
}

type histogramEntry struct {
	vec    *promclient.HistogramVec
	labels []string
}

func NewRecorder(cfg Config) *Recorder {
	namespace := strings.TrimSpace(cfg.Namespace)
	if namespace == "" {
		namespace = DefaultNamespace
	}
	registerer := cfg.Registerer
	if registerer == nil {
		registerer = promclient.NewRegistry()
	}
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = DefaultDurationBuckets
	}
	return &Recorder{
		namespace:  namespace,
		registerer: registerer,
		buckets:    append([]float64(nil), buckets...),
		counters:   map[string]*counterEntry{},
		histograms: map[string]*histogramEntry{},
	}
}

func (r *Recorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value < 0 {
		return
	}
	entry := r.counter(name, tags)
	if entry == nil {
		return
	}
	entry.vec.WithLabelValues(labelValues(entry.labels, tags)...).Add(float64(value))
}

func (r *Recorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	entry := r.histogram(name, tags)
	if entry == nil {
		return
	}
	entry.vec.WithLabelValues(labelValues(entry.labels, tags)...).Observe(value)
}

// Err reports registration failures accumulated so far. Metrics that failed
// to register are dropped rather than failing the caller.
func (r *Recorder) Err() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Join(r.errs...)
}

func (r *Recorder) counter(name string, tags map[string]string) *counterEntry {
	metric := MetricName(name)
	if metric == "" {
		return nil
	}
	if !strings.HasSuffix(metric, "_total") {
		metric += "_total"
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.counters[metric]; ok {
		return entry
	}
	labels := labelNames(tags)
	vec := promclient.NewCounterVec(promclient.CounterOpts{
		Namespace: r.namespace,
		Name:      metric,
		Help:      fmt.Sprintf("Counter for %s.", strings.TrimSpace(name)),
	}, labels)
	if err := r.registerer.Register(vec); err != nil {
		var already promclient.AlreadyRegisteredError
		if !errors.As(err, &already) {
			r.errs = append(r.errs, err)
			return nil
		}
		existing, ok := already.ExistingCollector.(*promclient.CounterVec)
		if !ok {
			r.errs = append(r.errs, err)
			return nil
		}
		vec = existing
	}
	entry := &counterEntry{vec: vec, labels: labels}
	r.counters[metric] = entry
	return entry
}

func (r *Recorder) histogram(name string, tags map[string]string) *histogramEntry {
	metric := MetricName(name)
	if metric == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.histograms[metric]; ok {
		return entry
	}
	labels := labelNames(tags)
	vec := promclient.NewHistogramVec(promclient.HistogramOpts{
		Namespace: r.namespace,
		Name:      metric,
		Help:      fmt.Sprintf("Histogram for %s.", strings.TrimSpace(name)),
		Buckets:   r.buckets,
	}, labels)
	if err := r.registerer.Register(vec); err != nil {
		var already promclient.AlreadyRegisteredError
		if !errors.As(err, &already) {
			r.errs = append(r.errs, err)
			return nil
		}
		existing, ok := already.ExistingCollector.(*promclient.HistogramVec)
		if !ok {
			r.errs = append(r.errs, err)
			return nil
		}
		vec = existing
	}
	entry := &histogramEntry{vec: vec, labels: labels}
	r.histograms[metric] = entry
	return entry
}

// MetricName turns a dotted core metric name into a Prometheus name.
func MetricName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	b.Grow(len(name))
	for _, ch := range name {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9', ch == '_':
			b.WriteRune(ch)
		default:
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

func labelNames(tags map[string]string) []string {
	labels := make([]string, 0, len(tags))
	for key := range tags {
		if label := MetricName(key); label != "" {
			labels = append(labels, label)
		}
	}
	sort.Strings(labels)
	return compactSorted(labels)
}

func labelValues(labels []string, tags map[string]string) []string {
	normalized := make(map[string]string, len(tags))
	for key, value := range tags {
		normalized[MetricName(key)] = value
	}
	values := make([]string, len(labels))
	for i, label := range labels {
		values[i] = normalized[label]
	}
	return values
}

func compactSorted(in []string) []string {
	if len(in) < 2 {
		return in
	}
	out := in[:1]
	for _, value := range in[1:] {
		if value != out[len(out)-1] {
			out = append(out, value)
		}
	}
	return out
}

var _ core.MetricsRecorder = (*Recorder)(nil)
