// Package queue implements the Flow Queue (spec §4.7): the long-lived flow
// table, its periodic export/compaction timers, and the hand-off to the
// sink, tying together the Classifier, Connection Tracker and Protocol
// Decoders for every packet the pipeline admits.
package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/flowtap/flowtap/pkg/classify"
	"github.com/flowtap/flowtap/pkg/customs"
	"github.com/flowtap/flowtap/pkg/flow"
	"github.com/flowtap/flowtap/pkg/protocol"
	"github.com/flowtap/flowtap/pkg/sink"
	"github.com/flowtap/flowtap/pkg/track"
)

const (
	exportInterval  = 2 * time.Second
	compactInterval = 30 * time.Second
	exportDelay     = 15 * time.Second
	idleTimeout     = 60 * time.Second
)

// Queue is the Flow Queue: a flow table plus the components every Add/export
// cycle threads a flow through. It is not safe for concurrent use -- like
// every other pipeline component it belongs to the single capture-processing
// thread (spec §5).
type Queue struct {
	flows      map[flow.Key]*flow.Counter
	scratch    *customs.Customs
	classifier *classify.Classifier
	decoders   *protocol.Decoders
	tracker    *track.Tracker
	sink       sink.Sink

	exportTimer  *Timer
	compactTimer *Timer
	timeout      *Timeout
	sampleRate   uint32

	exported   uint64
	sinkErrors uint64

	logger *slog.Logger
}

// New builds a Queue. dict backs the scratch Customs vector the decoders
// and tracker append to; classifier, decoders and tracker are the already
// constructed pipeline components it drives on every Add/export.
func New(dict *customs.Dictionary, classifier *classify.Classifier, decoders *protocol.Decoders, tracker *track.Tracker, snk sink.Sink, sampleRate uint32, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		flows:        make(map[flow.Key]*flow.Counter),
		scratch:      customs.NewCustoms(dict),
		classifier:   classifier,
		decoders:     decoders,
		tracker:      tracker,
		sink:         snk,
		exportTimer:  NewTimer(exportInterval),
		compactTimer: NewTimer(compactInterval),
		timeout:      NewTimeout(exportDelay),
		sampleRate:   sampleRate,
		logger:       logger,
	}
}

// Add folds one Flow into the table, updates the tracker, runs the
// classified application decoder, and -- if the decoder just completed a
// message on a flow marked for export -- sends that flow's counter
// immediately instead of waiting for the periodic export timer (spec §4.7).
func (q *Queue) Add(ctx context.Context, f *flow.Flow) {
	tag := q.classifier.Classify(f.Key.Proto, f.Key.Src.Port, f.Key.Dst.Port)

	counter, ok := q.flows[f.Key]
	if !ok {
		counter = &flow.Counter{ExportDeadline: q.timeout.First(f.Timestamp)}
		q.flows[f.Key] = counter
	}
	counter.Decoder = tag
	counter.Record(f)

	q.tracker.Add(f)

	decoded := q.decoders.Decode(tag, f, q.scratch)
	if decoded && f.Export {
		q.emit(ctx, f.Key, counter, f.Timestamp)
		counter.ExportDeadline = q.timeout.Next(f.Timestamp)
	}
	q.scratch.Clear()
}

// Export drains every due, non-empty counter to the sink and, on its own
// slower cadence, compacts stale flow-table entries and sweeps idle decoder
// and tracker state (spec §4.7).
func (q *Queue) Export(ctx context.Context, now time.Time) {
	if q.exportTimer.Ready(now) {
		for key, counter := range q.flows {
			if counter.ExportDeadline.After(now) || counter.IsEmpty() {
				continue
			}
			q.emit(ctx, key, counter, now)
			counter.ExportDeadline = q.timeout.Next(now)
		}
	}

	if q.compactTimer.Ready(now) {
		for key, counter := range q.flows {
			if !counter.ExportDeadline.After(now) {
				delete(q.flows, key)
			}
		}
		q.decoders.Clear(now, idleTimeout)
		q.tracker.Clear(now)
	}
}

// emit merges a Counter with its decoder- and tracker-appended custom
// fields and hands the record to the sink, then resets the Counter's
// volatile (per-export) fields. A nonzero Send error is logged and the
// sink's error-string queue drained, never treated as fatal (spec §4.7,
// §7).
func (q *Queue) emit(ctx context.Context, key flow.Key, counter *flow.Counter, now time.Time) {
	q.decoders.Append(counter.Decoder, key, q.scratch)
	q.tracker.Append(key, q.scratch)

	rec := sink.Record{
		Key:       key,
		Counter:   *counter,
		Customs:   append([]customs.Entry(nil), q.scratch.Entries()...),
		Timestamp: now,
	}
	if err := q.sink.Send(ctx, rec); err != nil {
		q.sinkErrors++
		q.logger.Warn("sink rejected flow record", "error", err)
		for _, msg := range q.sink.Errors() {
			q.logger.Warn("sink error", "detail", msg)
		}
	} else {
		q.exported++
	}
	q.scratch.Clear()
	counter.Reset()
}

// SampleRate reports the sample rate passed to New. The records handed to
// the sink do not carry it.
func (q *Queue) SampleRate() uint32 { return q.sampleRate }

// Len reports the number of live flow-table entries, for metrics.
func (q *Queue) Len() int { return len(q.flows) }

// ExportedCount reports the cumulative number of successfully sent flow
// records, for the status server's metrics (SPEC_FULL.md component #12).
func (q *Queue) ExportedCount() uint64 { return q.exported }

// SinkErrorCount reports the cumulative number of failed Send calls.
func (q *Queue) SinkErrorCount() uint64 { return q.sinkErrors }
