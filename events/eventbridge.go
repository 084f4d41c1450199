package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ttab/elephant-versionlog/internal"
	"github.com/ttab/elephantine"
)

// Publisher publishes change events and returns the number of events that
// were processed, including the ones that were skipped.
type Publisher interface {
	Publish(ctx context.Context, evts []ChangeEvent) (int, error)
}

type EventBridgeEventPutter interface {
	PutEvents(
		ctx context.Context, params *eventbridge.PutEventsInput,
		optFns ...func(*eventbridge.Options),
	) (*eventbridge.PutEventsOutput, error)
}

var _ EventBridgeEventPutter = &eventbridge.Client{}

const (
	EventBridgeSizeLimit  = 256 * 1024
	EventBridgeBatchLimit = 10
)

type EventBridgeOptions struct {
	Logger       *slog.Logger
	EventBusName string
	// Source is the source of the published events, defaults to
	// "versionlog".
	Source            string
	MetricsRegisterer prometheus.Registerer
	// Clock is used to timestamp entries, defaults to time.Now.
	Clock func() time.Time
}

// EventBridgeClient creates an EventBridge client using the default
// credential chain.
func EventBridgeClient(ctx context.Context) (*eventbridge.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS SDK config: %w", err)
	}

	return eventbridge.NewFromConfig(cfg), nil
}

func NewEventBridge(
	client EventBridgeEventPutter, opts EventBridgeOptions,
) (*EventBridge, error) {
	if client == nil {
		return nil, errors.New("missing EventBridge client")
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Source == "" {
		opts.Source = "versionlog"
	}

	if opts.MetricsRegisterer == nil {
		opts.MetricsRegisterer = prometheus.DefaultRegisterer
	}

	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	eb := EventBridge{
		logger:   opts.Logger,
		client:   client,
		eventBus: opts.EventBusName,
		source:   opts.Source,
		now:      opts.Clock,
	}

	prom := elephantine.NewMetricsHelper(opts.MetricsRegisterer)

	prom.CounterVec(&eb.published, prometheus.CounterOpts{
		Name: "versionlog_events_published_total",
		Help: "Number of change events accepted by EventBridge.",
	}, []string{"kind"})

	prom.CounterVec(&eb.skipped, prometheus.CounterOpts{
		Name: "versionlog_events_skipped_total",
		Help: "Number of change events that couldn't be published.",
	}, []string{"kind", "reason"})

	if err := prom.Err(); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	return &eb, nil
}

// EventBridge publishes change events to an event bus.
type EventBridge struct {
	logger   *slog.Logger
	client   EventBridgeEventPutter
	eventBus string
	source   string
	now      func() time.Time

	published *prometheus.CounterVec
	skipped   *prometheus.CounterVec
}

var _ Publisher = &EventBridge{}

// Publish implements Publisher. Events that are rejected by EventBridge
// or are too large to send are logged and skipped.
func (eb *EventBridge) Publish(
	ctx context.Context, evts []ChangeEvent,
) (int, error) {
	var processed int

	remaining := evts

	for len(remaining) > 0 {
		batch, nextIdx, err := eb.batch(ctx, remaining)
		if err != nil {
			return processed, fmt.Errorf("batching failed: %w", err)
		}

		if len(batch) > 0 {
			out, err := eb.client.PutEvents(ctx, &eventbridge.PutEventsInput{
				Entries: batch.AsEntries(),
			})
			if err != nil {
				return processed, fmt.Errorf("put request failed: %w", err)
			}

			eb.checkResults(ctx, batch, out.Entries)
		}

		processed += nextIdx
		remaining = remaining[nextIdx:]
	}

	return processed, nil
}

func (eb *EventBridge) checkResults(
	ctx context.Context, batch batchedEvents,
	results []types.PutEventsResultEntry,
) {
	for i, res := range results {
		if i >= len(batch) {
			break
		}

		if res.ErrorCode == nil {
			eb.published.WithLabelValues(string(batch[i].Kind)).Inc()

			continue
		}

		msg := "unknown error"

		if res.ErrorMessage != nil {
			msg = *res.ErrorMessage
		}

		eb.logger.ErrorContext(ctx, "event rejected",
			internal.LogKeyTable, batch[i].Table,
			elephantine.LogKeyEventType, batch[i].Kind,
			elephantine.LogKeyError, fmt.Sprintf(
				"%s: %s", *res.ErrorCode, msg))

		eb.skipped.WithLabelValues(string(batch[i].Kind), "rejected").Inc()
	}
}

type ebEntry struct {
	types.PutEventsRequestEntry

	Kind  Kind
	Table string
}

type batchedEvents []ebEntry

func (be batchedEvents) AsEntries() []types.PutEventsRequestEntry {
	entries := make([]types.PutEventsRequestEntry, len(be))

	for i := range be {
		entries[i] = be[i].PutEventsRequestEntry
	}

	return entries
}

// batch collects the events that fit in one request and returns the index
// of the first event that didn't.
func (eb *EventBridge) batch(
	ctx context.Context, evts []ChangeEvent,
) (batchedEvents, int, error) {
	var (
		entries   batchedEvents
		totalSize int
	)

	for i, evt := range evts {
		if len(entries) == EventBridgeBatchLimit {
			return entries, i, nil
		}

		detailData, err := json.Marshal(evt)
		if err != nil {
			return entries, i, fmt.Errorf(
				"failed to marshal event detail: %w", err)
		}

		e := types.PutEventsRequestEntry{
			Time:       aws.Time(eb.now()),
			Source:     aws.String(eb.source),
			DetailType: aws.String(string(evt.Kind)),
			Detail:     aws.String(string(detailData)),
		}

		if eb.eventBus != "" {
			e.EventBusName = aws.String(eb.eventBus)
		}

		size := 14 // Includes the timestamp

		size += len(*e.Source)
		size += len(*e.DetailType)
		size += len(detailData)

		if size > EventBridgeSizeLimit {
			eb.logger.ErrorContext(ctx, "skipping oversized event",
				internal.LogKeyTable, evt.Table,
				internal.LogKeyVersion, evt.Version,
				elephantine.LogKeyEventType, evt.Kind,
			)

			eb.skipped.WithLabelValues(string(evt.Kind), "message_size").Inc()

			continue
		}

		totalSize += size

		if totalSize > EventBridgeSizeLimit {
			return entries, i, nil
		}

		entries = append(entries, ebEntry{
			PutEventsRequestEntry: e,
			Kind:                  evt.Kind,
			Table:                 evt.Table,
		})
	}

	return entries, len(evts), nil
}

// Discard is a publisher that drops all events.
type Discard struct{}

func (Discard) Publish(_ context.Context, evts []ChangeEvent) (int, error) {
	return len(evts), nil
}
