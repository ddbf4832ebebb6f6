package replication

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/metric/instrument"
	"go.uber.org/atomic"

	"github.com/treedex/go-treedex/pkg/metrics"
)

// InstrumentedDiffer wraps a Differ with call counting, latency recording and
// a live in-flight gauge.
type InstrumentedDiffer struct {
	differ           *Differ
	callCount        instrument.Int64Counter
	latencyHistogram instrument.Int64Histogram
	inFlight         atomic.Int64
}

// NewInstrumentedDiffer creates an InstrumentedDiffer around differ.
func NewInstrumentedDiffer(differ *Differ) (*InstrumentedDiffer, error) {
	meter := global.MeterProvider().Meter("replication")

	callCount, err := meter.Int64Counter("replication.diff.call.count")
	if err != nil {
		return nil, fmt.Errorf("registering call counter: %s", err)
	}
	latencyHistogram, err := meter.Int64Histogram("replication.diff.call.latency")
	if err != nil {
		return nil, fmt.Errorf("registering latency histogram: %s", err)
	}
	inFlight, err := meter.Int64ObservableGauge("replication.diff.in_flight")
	if err != nil {
		return nil, fmt.Errorf("registering in-flight gauge: %s", err)
	}

	d := &InstrumentedDiffer{
		differ:           differ,
		callCount:        callCount,
		latencyHistogram: latencyHistogram,
	}
	if _, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(inFlight, d.inFlight.Load(), metrics.BaseAttrs...)
		return nil
	}, inFlight); err != nil {
		return nil, fmt.Errorf("registering callback: %s", err)
	}
	return d, nil
}

// ShardDiff forwards to the wrapped Differ.
func (d *InstrumentedDiffer) ShardDiff(
	ctx context.Context,
	collection, shard, path string,
	fn func(RecordDiff) bool,
) error {
	return d.record(ctx, "ShardDiff", func() error {
		return d.differ.ShardDiff(ctx, collection, shard, path, fn)
	})
}

// CollectionDiff forwards to the wrapped Differ.
func (d *InstrumentedDiffer) CollectionDiff(
	ctx context.Context,
	collection, path string,
	shardPath PathFunc,
	fn func(RecordDiff) bool,
) error {
	return d.record(ctx, "CollectionDiff", func() error {
		return d.differ.CollectionDiff(ctx, collection, path, shardPath, fn)
	})
}

// DatabaseDiff forwards to the wrapped Differ.
func (d *InstrumentedDiffer) DatabaseDiff(
	ctx context.Context,
	path string,
	collectionPath PathFunc,
	shardPath PathFunc,
	fn func(RecordDiff) bool,
) error {
	return d.record(ctx, "DatabaseDiff", func() error {
		return d.differ.DatabaseDiff(ctx, path, collectionPath, shardPath, fn)
	})
}

func (d *InstrumentedDiffer) record(ctx context.Context, method string, call func() error) error {
	d.inFlight.Inc()
	start := time.Now()
	err := call()
	latency := time.Since(start).Milliseconds()
	d.inFlight.Dec()

	attributes := append([]attribute.KeyValue{
		attribute.String("method", method),
		attribute.Bool("success", err == nil),
	}, metrics.BaseAttrs...)

	d.callCount.Add(ctx, 1, attributes...)
	d.latencyHistogram.Record(ctx, latency, attributes...)
	return err
}
