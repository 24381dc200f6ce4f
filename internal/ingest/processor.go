package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ebrecho-wa/internal/metrics"
	"ebrecho-wa/internal/partner"
	"ebrecho-wa/internal/repo"
	"ebrecho-wa/internal/whatsapp"
)

// PartnerResolver maps a business phone number id to its partner.
type PartnerResolver interface {
	Resolve(ctx context.Context, phoneNumberID string) (*repo.Partner, error)
}

// Result tallies what a batch of events did to storage.
type Result struct {
	MessagesStored  int
	UnknownPartners int
	StatusesApplied int
	StatusesStale   int
	// StatusesDropped counts statuses for unknown messages or unsupported values.
	StatusesDropped int
	Failures        int

	errs []error
}

// Err joins the per-event failures, or nil when every event was handled.
func (r Result) Err() error {
	return errors.Join(r.errs...)
}

func (r *Result) fail(err error) {
	r.Failures++
	r.errs = append(r.errs, err)
}

// Processor resolves partners and persists every event of a webhook delivery.
type Processor struct {
	resolver  PartnerResolver
	persister *Persister
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewProcessor wires a processor.
func NewProcessor(resolver PartnerResolver, persister *Persister, logger *slog.Logger, metrics *metrics.Metrics) *Processor {
	return &Processor{
		resolver:  resolver,
		persister: persister,
		logger:    logger.With("component", "ingest"),
		metrics:   metrics,
	}
}

// Process satisfies whatsapp.EventProcessor.
func (p *Processor) Process(ctx context.Context, events []whatsapp.Event) error {
	res := p.Apply(ctx, events)
	p.logger.Debug("webhook events processed",
		"events", len(events),
		"messages_stored", res.MessagesStored,
		"unknown_partners", res.UnknownPartners,
		"statuses_applied", res.StatusesApplied,
		"statuses_stale", res.StatusesStale,
		"statuses_dropped", res.StatusesDropped,
		"failures", res.Failures,
	)
	return res.Err()
}

// Apply handles events in order and keeps going past individual failures.
func (p *Processor) Apply(ctx context.Context, events []whatsapp.Event) Result {
	var res Result
	for _, evt := range events {
		switch e := evt.(type) {
		case *whatsapp.MessageEvent:
			p.applyMessage(ctx, e, &res)
		case *whatsapp.StatusEvent:
			p.applyStatus(ctx, e, &res)
		default:
			p.logger.Warn("ignoring unsupported event", "kind", evt.Kind(), "message_id", evt.EventMessageID())
		}
	}
	return res
}

func (p *Processor) applyMessage(ctx context.Context, evt *whatsapp.MessageEvent, res *Result) {
	log := p.logger.With("message_id", evt.MessageID, "phone_number_id", evt.PhoneNumberID)

	owner, err := p.resolver.Resolve(ctx, evt.PhoneNumberID)
	switch {
	case errors.Is(err, partner.ErrUnknownPartner):
		log.Warn("message for unknown partner stored unassigned")
		res.UnknownPartners++
		owner = nil
	case err != nil:
		log.Error("failed resolving partner", "error", err)
		p.count(whatsapp.KindMessage, "failed")
		res.fail(err)
		return
	}

	if err := p.persister.PersistMessage(ctx, owner, evt); err != nil {
		log.Error("failed storing message", "error", err)
		p.count(whatsapp.KindMessage, "failed")
		res.fail(err)
		return
	}

	res.MessagesStored++
	if owner == nil {
		p.count(whatsapp.KindMessage, "unassigned")
	} else {
		p.count(whatsapp.KindMessage, "stored")
	}
	log.Info("message stored", "type", MessageType(evt.Type), "from", evt.From)
}

func (p *Processor) applyStatus(ctx context.Context, evt *whatsapp.StatusEvent, res *Result) {
	log := p.logger.With("message_id", evt.MessageID, "status", evt.Status)

	applied, err := p.persister.PersistStatus(ctx, evt)
	switch {
	case errors.Is(err, ErrUnsupportedStatus):
		log.Warn("dropping unsupported status")
		res.StatusesDropped++
		p.count(whatsapp.KindStatus, "unsupported")
	case errors.Is(err, repo.ErrMessageNotFound):
		log.Warn("dropping status for unknown message")
		res.StatusesDropped++
		p.count(whatsapp.KindStatus, "unknown_message")
	case err != nil:
		log.Error("failed updating status", "error", err)
		res.fail(fmt.Errorf("status %s: %w", evt.MessageID, err))
		p.count(whatsapp.KindStatus, "failed")
	case applied:
		res.StatusesApplied++
		p.count(whatsapp.KindStatus, "applied")
		if len(evt.Errors) > 0 {
			log.Warn("message delivery failed", "code", evt.Errors[0].Code, "title", evt.Errors[0].Title)
		}
	default:
		log.Debug("ignoring stale status")
		res.StatusesStale++
		p.count(whatsapp.KindStatus, "stale")
	}
}

func (p *Processor) count(kind whatsapp.EventKind, result string) {
	if p.metrics == nil {
		return
	}
	p.metrics.WAEvents.WithLabelValues(string(kind), result).Inc()
}
