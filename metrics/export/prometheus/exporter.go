package prometheus

import (
	"bufio"
	"io"
	"net/http"
	"strconv"
	"strings"

	andyweb "github.com/CallMeChewy/AndyWeb"
	"github.com/CallMeChewy/AndyWeb/metrics/export/internaldefs"
)

// DroppedName is the counter of activity events lost to a full queue.
const DroppedName = "andyweb_activity_dropped_total"

type metricsSource interface {
	MetricsSnapshot() andyweb.MetricsSnapshot
	AuditDropped() uint64
}

// Gauge is a point-in-time value sampled on every scrape, such as the number
// of identities tracked by an in-memory rate limiter.
type Gauge struct {
	Name  string
	Help  string
	Value func() float64
}

// Option configures a PrometheusExporter.
type Option func(*PrometheusExporter)

// WithGauge appends a sampled gauge to the exposition. Gauges are rendered
// after the engine metrics, in the order they were added.
func WithGauge(name, help string, value func() float64) Option {
	return func(p *PrometheusExporter) {
		if name == "" || value == nil {
			return
		}
		p.gauges = append(p.gauges, Gauge{Name: name, Help: help, Value: value})
	}
}

// PrometheusExporter renders engine metrics in the Prometheus text format.
type PrometheusExporter struct {
	source metricsSource
	gauges []Gauge
}

// NewPrometheusExporter reads from engine on every scrape.
func NewPrometheusExporter(engine *andyweb.Engine, opts ...Option) *PrometheusExporter {
	return NewPrometheusExporterFromSource(engine, opts...)
}

// NewPrometheusExporterFromSource reads from any snapshot source.
func NewPrometheusExporterFromSource(source metricsSource, opts ...Option) *PrometheusExporter {
	p := &PrometheusExporter{source: source}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_ = p.Encode(w)
	})
}

// Render returns the exposition as a string. It is empty when the engine
// has metrics disabled and nothing has been dropped.
func (p *PrometheusExporter) Render() string {
	var b strings.Builder
	_ = p.Encode(&b)
	return b.String()
}

// Encode streams the exposition to w.
func (p *PrometheusExporter) Encode(w io.Writer) error {
	if p == nil || p.source == nil {
		return nil
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 && len(p.gauges) == 0 {
		return nil
	}

	fw := &familyWriter{w: bufio.NewWriterSize(w, 8192)}

	if len(snapshot.Counters) > 0 || len(snapshot.Histograms) > 0 || dropped > 0 {
		for _, def := range internaldefs.CounterDefs {
			fw.header(def.Name, def.Help, "counter")
			fw.sample(def.Name, "", strconv.FormatUint(snapshot.Counters[def.ID], 10))
		}
		for _, def := range internaldefs.HistogramDefs {
			buckets := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[def.ID]))
			fw.histogram(def.Name, def.Help, buckets)
		}
		fw.header(DroppedName, "Activity events dropped by a full dispatcher queue.", "counter")
		fw.sample(DroppedName, "", strconv.FormatUint(dropped, 10))
	}

	for _, g := range p.gauges {
		fw.header(g.Name, g.Help, "gauge")
		fw.sample(g.Name, "", strconv.FormatFloat(g.Value(), 'g', -1, 64))
	}

	return fw.flush()
}

// familyWriter keeps the first write error and turns later writes into
// no-ops.
type familyWriter struct {
	w   *bufio.Writer
	err error
}

func (f *familyWriter) line(parts ...string) {
	if f.err != nil {
		return
	}
	for _, s := range parts {
		if _, f.err = f.w.WriteString(s); f.err != nil {
			return
		}
	}
	f.err = f.w.WriteByte('\n')
}

func (f *familyWriter) header(name, help, kind string) {
	f.line("# HELP ", name, " ", escapeHelp(help))
	f.line("# TYPE ", name, " ", kind)
}

func (f *familyWriter) sample(name, labels, value string) {
	f.line(name, labels, " ", value)
}

func (f *familyWriter) histogram(name, help string, cumulative [8]uint64) {
	f.header(name, help, "histogram")
	for i, le := range internaldefs.HistogramBounds {
		f.sample(name+"_bucket", `{le="`+le+`"}`, strconv.FormatUint(cumulative[i], 10))
	}
	f.sample(name+"_count", "", strconv.FormatUint(cumulative[len(cumulative)-1], 10))
	// Snapshots carry bucket counts only.
	f.sample(name+"_sum", "", "0")
}

func (f *familyWriter) flush() error {
	if f.err != nil {
		return f.err
	}
	return f.w.Flush()
}

var helpEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`)

func escapeHelp(help string) string {
	return helpEscaper.Replace(help)
}
