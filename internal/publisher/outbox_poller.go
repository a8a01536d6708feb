package publisher

import (
	"context"
	"log/slog"
	"time"

	"github.com/fjod/go_cart/ordering-service/internal/ledger"
	"github.com/fjod/go_cart/ordering-service/internal/workflow"
	"github.com/fjod/go_cart/ordering-service/pkg/logger"
)

type OutboxStore interface {
	UnprocessedEvents(ctx context.Context, limit int) ([]*ledger.OutboxEvent, error)
	MarkEventProcessed(ctx context.Context, id int64) error
}

type Reconciler interface {
	Reconcile(ctx context.Context, grace time.Duration) (workflow.ReconcileReport, error)
}

// Sink delivers one outbox event to the outside world.
type Sink interface {
	Publish(ctx context.Context, event *ledger.OutboxEvent) error
	Close() error
}

type Options struct {
	EventTick      time.Duration
	RecoveryTick   time.Duration
	ReconcileGrace time.Duration
	BatchSize      int
}

func (o *Options) withDefaults() {
	if o.EventTick <= 0 {
		o.EventTick = time.Second
	}
	if o.RecoveryTick <= 0 {
		o.RecoveryTick = 30 * time.Second
	}
	if o.ReconcileGrace <= 0 {
		o.ReconcileGrace = time.Minute
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
}

// OutboxPoller publishes ledger events and periodically reconciles orders
// whose POS outcome is unknown.
type OutboxPoller struct {
	opts       Options
	store      OutboxStore
	sink       Sink
	reconciler Reconciler
	log        *slog.Logger
}

// NewOutboxPoller builds a poller. reconciler may be nil, then the recovery
// tick is skipped.
func NewOutboxPoller(store OutboxStore, sink Sink, reconciler Reconciler, opts Options, log *slog.Logger) *OutboxPoller {
	opts.withDefaults()
	if log == nil {
		log = logger.Nop()
	}
	return &OutboxPoller{
		opts:       opts,
		store:      store,
		sink:       sink,
		reconciler: reconciler,
		log:        log.With(slog.String("component", "outbox_poller")),
	}
}

func (p *OutboxPoller) Run(ctx context.Context) error {
	eventTicker := time.NewTicker(p.opts.EventTick)
	recoveryTicker := time.NewTicker(p.opts.RecoveryTick)
	defer eventTicker.Stop()
	defer recoveryTicker.Stop()
	for {
		select {
		case <-eventTicker.C:
			p.processUnpublishedEvents(ctx)
		case <-recoveryTicker.C:
			p.reconcile(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// processUnpublishedEvents returns how many events were published.
func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) int {
	events, err := p.store.UnprocessedEvents(ctx, p.opts.BatchSize)
	if err != nil {
		p.log.ErrorContext(ctx, "fetch outbox events", slog.Any("err", err))
		return 0
	}

	published := 0
	for _, event := range events {
		if err := p.sink.Publish(ctx, event); err != nil {
			// Events of one order must stay in order, so the batch stops here.
			p.log.ErrorContext(ctx, "publish outbox event",
				slog.Int64("event_id", event.ID),
				slog.String("event_type", event.EventType),
				slog.Any("err", err))
			return published
		}

		if err := p.store.MarkEventProcessed(ctx, event.ID); err != nil {
			p.log.ErrorContext(ctx, "mark outbox event processed", slog.Int64("event_id", event.ID), slog.Any("err", err))
			return published
		}
		published++
	}
	return published
}

func (p *OutboxPoller) reconcile(ctx context.Context) {
	if p.reconciler == nil {
		return
	}
	report, err := p.reconciler.Reconcile(ctx, p.opts.ReconcileGrace)
	if err != nil {
		p.log.ErrorContext(ctx, "reconcile orders", slog.Any("err", err))
		return
	}
	if report.Checked > 0 {
		p.log.InfoContext(ctx, "orders reconciled",
			slog.Int("checked", report.Checked),
			slog.Int("confirmed", report.Confirmed),
			slog.Int("failed", report.Failed),
			slog.Int("in_progress", report.InProgress),
			slog.Int("skipped", report.Skipped),
			slog.Int("busy", report.Busy))
	}
}
