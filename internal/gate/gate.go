// Package gate implements the conversation gate: the single entry point
// for inbound customer messages. It validates the webhook payload,
// deduplicates retries, checks the circuit breaker, and drives one full
// turn of extraction, funnel decision and action dispatch.
package gate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/outletmedia/leadpipe/internal/breaker"
	"github.com/outletmedia/leadpipe/internal/cache"
	"github.com/outletmedia/leadpipe/internal/crm"
	"github.com/outletmedia/leadpipe/internal/dispatch"
	"github.com/outletmedia/leadpipe/internal/extraction"
	"github.com/outletmedia/leadpipe/internal/funnel"
	"github.com/outletmedia/leadpipe/internal/models"
	"github.com/outletmedia/leadpipe/internal/store"
)

// DedupTTL bounds how long an inbound message is remembered for
// webhook retry deduplication.
const DedupTTL = 10 * time.Minute

// UnavailableReply is returned to the webhook caller while the circuit
// breaker is open. No CRM call is made in that state, so the caller's
// platform is responsible for relaying it.
const UnavailableReply = "Estamos teniendo un problema técnico en este momento 🙏 Por favor escríbeme de nuevo en unos minutos."

// Result is the outcome of processing one inbound message.
type Result struct {
	Reply     string
	Lead      models.Facts
	ThreadID  string
	Duplicate bool
	Terminal  bool
}

// Gate wires the per-turn pipeline together. One instance serves all
// conversations; per-conversation state lives in the lead store.
type Gate struct {
	store       store.LeadStore
	coordinator *extraction.Coordinator
	dispatcher  *dispatch.Dispatcher
	breaker     *breaker.Breaker
	dedup       *cache.Cache[struct{}]
}

// New creates a conversation gate. The dedup cache must be created with
// DedupTTL and shared with the sweep scheduler.
func New(leads store.LeadStore, coordinator *extraction.Coordinator, dispatcher *dispatch.Dispatcher, b *breaker.Breaker, dedup *cache.Cache[struct{}]) *Gate {
	return &Gate{
		store:       leads,
		coordinator: coordinator,
		dispatcher:  dispatcher,
		breaker:     b,
		dedup:       dedup,
	}
}

// IdempotencyKey derives the dedup key for an inbound message from the
// contact, the normalized message text and the phone number.
func IdempotencyKey(contactID, message, phone string) string {
	sum := sha256.Sum256([]byte(contactID + "\x00" + extraction.NormalizeMessage(message) + "\x00" + phone))
	return hex.EncodeToString(sum[:])
}

// Handle processes one inbound customer message end to end.
//
// Validation failures return before any side effect. Duplicates return
// early with the current fact sheet and no collaborator calls. While
// the breaker is open, breaker.ErrCircuitOpen is returned and the turn
// is not processed.
func (g *Gate) Handle(ctx context.Context, req *models.WebhookRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	traceID := uuid.NewString()
	log := slog.With("traceID", traceID, "contactID", req.ContactID)

	key := IdempotencyKey(req.ContactID, req.Message, req.Phone)
	if _, seen := g.dedup.Get(key); seen {
		log.Info("Gate.Handle: duplicate message, skipping")
		res := &Result{Duplicate: true, ThreadID: req.ThreadID()}
		if record, err := g.store.GetLead(req.ContactID); err == nil && record != nil {
			res.Lead = record.Facts
			res.ThreadID = record.ThreadID
			res.Terminal = record.AppointmentBooked || record.Declined
		}
		return res, nil
	}
	// A rejected turn must stay retryable: the unavailable reply tells
	// the customer to write again, so nothing is recorded while open.
	if g.breaker.IsOpen() {
		log.Warn("Gate.Handle: circuit open, rejecting turn", "failures", g.breaker.Failures())
		return nil, breaker.ErrCircuitOpen
	}

	// Marked before processing: a retry arriving mid-turn is dropped.
	// Two copies arriving in the same instant can still both pass.
	g.dedup.Put(key, struct{}{})

	record, err := g.store.GetLead(req.ContactID)
	if err != nil {
		log.Error("Gate.Handle: lead load failed", "error", err)
		return nil, fmt.Errorf("failed to load lead: %w", err)
	}
	if record == nil {
		record = models.NewLeadRecord(req.ContactID, req.ThreadID(), crm.FormatPhoneNumber(req.Phone))
		log.Info("Gate.Handle: new conversation started", "threadID", record.ThreadID)
	}

	g.coordinator.Extract(ctx, record, req.Message)

	action := funnel.Decide(record, req.Message)
	log.Info("Gate.Handle: action selected", "action", action.Type, "field", action.Field)

	dispatched := g.dispatcher.Execute(ctx, record, action, req.Message)
	if dispatched.DownstreamErr != nil {
		g.breaker.RecordFailure()
	} else {
		g.breaker.RecordSuccess()
	}

	record.UpdatedAt = time.Now()
	if err := g.store.SaveLead(record); err != nil {
		// The reply already went out; losing the save costs extraction
		// progress on the next turn but must not fail the request.
		log.Error("Gate.Handle: lead save failed", "error", err)
	}

	return &Result{
		Reply:    dispatched.Reply,
		Lead:     record.Facts,
		ThreadID: record.ThreadID,
		Terminal: dispatched.Terminal,
	}, nil
}
