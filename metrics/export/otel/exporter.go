package otel

import (
	"context"
	"errors"
	"fmt"

	andyweb "github.com/CallMeChewy/AndyWeb"
	"github.com/CallMeChewy/AndyWeb/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/metric"
)

// DroppedName is the counter of activity events lost to a full queue.
const DroppedName = "andyweb_activity_dropped_total"

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() andyweb.MetricsSnapshot
	AuditDropped() uint64
}

type gauge struct {
	name  string
	help  string
	value func() int64
}

// Option configures an OTelExporter.
type Option func(*OTelExporter)

// WithGauge registers an observable gauge sampled on every collection.
func WithGauge(name, help string, value func() int64) Option {
	return func(e *OTelExporter) {
		if name == "" || value == nil {
			return
		}
		e.gauges = append(e.gauges, gauge{name: name, help: help, value: value})
	}
}

// observeFunc reports one instrument from a snapshot taken once per
// collection.
type observeFunc func(metric.Observer, *collection)

type collection struct {
	snapshot andyweb.MetricsSnapshot
	dropped  uint64
}

// OTelExporter publishes engine metrics through observable instruments.
type OTelExporter struct {
	source       metricsSource
	gauges       []gauge
	observers    []observeFunc
	instruments  []metric.Observable
	registration metric.Registration
}

func NewOTelExporter(meter metric.Meter, engine *andyweb.Engine, opts ...Option) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine, opts...)
}

func NewOTelExporterFromSource(meter metric.Meter, source metricsSource, opts ...Option) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{source: source}
	for _, opt := range opts {
		opt(e)
	}

	for _, def := range internaldefs.CounterDefs {
		if err := e.counter(meter, def.Name, def.Help, func(c *collection) uint64 {
			return c.snapshot.Counters[def.ID]
		}); err != nil {
			return nil, err
		}
	}
	for _, def := range internaldefs.HistogramDefs {
		if err := e.histogram(meter, def); err != nil {
			return nil, err
		}
	}
	if err := e.counter(meter, DroppedName, "Activity events dropped by a full dispatcher queue.", func(c *collection) uint64 {
		return c.dropped
	}); err != nil {
		return nil, err
	}
	for _, g := range e.gauges {
		ins, err := meter.Int64ObservableGauge(g.name, metric.WithDescription(g.help))
		if err != nil {
			return nil, fmt.Errorf("create gauge %s: %w", g.name, err)
		}
		value := g.value
		e.add(ins, func(o metric.Observer, _ *collection) { o.ObserveInt64(ins, value()) })
	}

	registration, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		c := &collection{
			snapshot: e.source.MetricsSnapshot(),
			dropped:  e.source.AuditDropped(),
		}
		for _, observe := range e.observers {
			observe(o, c)
		}
		return nil
	}, e.instruments...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = registration
	return e, nil
}

func (e *OTelExporter) add(ins metric.Observable, observe observeFunc) {
	e.instruments = append(e.instruments, ins)
	e.observers = append(e.observers, observe)
}

func (e *OTelExporter) counter(meter metric.Meter, name, help string, read func(*collection) uint64) error {
	ins, err := meter.Int64ObservableCounter(name, metric.WithDescription(help))
	if err != nil {
		return fmt.Errorf("create observable counter %s: %w", name, err)
	}
	e.add(ins, func(o metric.Observer, c *collection) { o.ObserveInt64(ins, int64(read(c))) })
	return nil
}

// histogram exposes cumulative buckets as one gauge per bound plus a count
// gauge; observable instruments cannot carry a native histogram.
func (e *OTelExporter) histogram(meter metric.Meter, def internaldefs.HistogramDef) error {
	cumulative := func(c *collection) [8]uint64 {
		return internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(c.snapshot.Histograms[def.ID]))
	}

	for i, suffix := range internaldefs.HistogramBoundSuffix {
		name := def.Name + "_bucket_le_" + suffix
		ins, err := meter.Int64ObservableGauge(name, metric.WithDescription("Cumulative histogram bucket count."))
		if err != nil {
			return fmt.Errorf("create histogram bucket gauge %s: %w", name, err)
		}
		e.add(ins, func(o metric.Observer, c *collection) { o.ObserveInt64(ins, int64(cumulative(c)[i])) })
	}

	name := def.Name + "_count"
	ins, err := meter.Int64ObservableGauge(name, metric.WithDescription("Histogram total sample count."))
	if err != nil {
		return fmt.Errorf("create histogram count gauge %s: %w", name, err)
	}
	e.add(ins, func(o metric.Observer, c *collection) {
		b := cumulative(c)
		o.ObserveInt64(ins, int64(b[len(b)-1]))
	})
	return nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
