// Package dispatch executes the action selected by the qualification
// state machine: it renders the reply, performs calendar and booking
// calls, mirrors qualification progress into the CRM, and delivers the
// reply to the customer.
//
// Every collaborator failure is absorbed here. The customer always
// receives some reply; the failure itself is surfaced to the caller
// through Result.DownstreamErr so the circuit breaker can observe it.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/outletmedia/leadpipe/internal/cache"
	"github.com/outletmedia/leadpipe/internal/crm"
	"github.com/outletmedia/leadpipe/internal/funnel"
	"github.com/outletmedia/leadpipe/internal/genai"
	"github.com/outletmedia/leadpipe/internal/messaging"
	"github.com/outletmedia/leadpipe/internal/models"
)

const (
	// CalendarTTL bounds how long fetched availability is reused.
	CalendarTTL = 30 * time.Minute
	// AvailabilityWindow is how far ahead availability is requested.
	AvailabilityWindow = 7 * 24 * time.Hour

	bookingTitle = "Llamada de estrategia - Outlet Media"
)

// Contact tags mirrored into the CRM as the lead moves through the funnel.
const (
	TagQualifiedLead     = "qualified-lead"
	TagBudget300Plus     = "budget-300-plus"
	TagUnderBudget       = "under-budget"
	TagNurtureLead       = "nurture-lead"
	TagAppointmentBooked = "appointment-booked"
)

// Result is the outcome of executing one action.
type Result struct {
	// Reply is the message delivered (or attempted) to the customer.
	Reply string
	// Terminal reports that the conversation reached a terminal state
	// on this turn (booked or declined).
	Terminal bool
	// DownstreamErr carries any collaborator failure absorbed during
	// execution, for circuit breaker accounting. The reply is still
	// produced when it is non-nil.
	DownstreamErr error
}

// Opts holds configuration options for the dispatcher.
type Opts struct {
	CalendarID string
	Phraser    genai.ClientInterface
	Location   *time.Location
	Now        func() time.Time
}

// Option defines a configuration option for the dispatcher.
type Option func(*Opts)

// WithCalendarID sets the CRM calendar used for availability and booking.
func WithCalendarID(id string) Option {
	return func(o *Opts) { o.CalendarID = id }
}

// WithPhraser sets an optional persona model that rephrases templated
// replies. When nil, or whenever it fails, templates are sent as-is.
func WithPhraser(p genai.ClientInterface) Option {
	return func(o *Opts) { o.Phraser = p }
}

// WithLocation sets the timezone used to render slot times.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Dispatcher executes funnel actions against the CRM, the calendar
// cache and the outbound messaging channel.
type Dispatcher struct {
	crm      crm.Service
	sender   messaging.Sender
	calendar *cache.Cache[[]models.Slot]

	calendarID string
	phraser    genai.ClientInterface
	loc        *time.Location
	now        func() time.Time
}

// NewDispatcher creates a dispatcher. The calendar cache is shared with
// the sweep scheduler and must be created with CalendarTTL.
func NewDispatcher(service crm.Service, sender messaging.Sender, calendar *cache.Cache[[]models.Slot], opts ...Option) *Dispatcher {
	cfg := Opts{Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Location == nil {
		loc, err := time.LoadLocation("America/Chicago")
		if err != nil {
			loc = time.UTC
		}
		cfg.Location = loc
	}
	return &Dispatcher{
		crm:        service,
		sender:     sender,
		calendar:   calendar,
		calendarID: cfg.CalendarID,
		phraser:    cfg.Phraser,
		loc:        cfg.Location,
		now:        cfg.Now,
	}
}

// Execute performs the selected action, mutating the record's
// qualification flags on success. It never returns without a reply.
func (d *Dispatcher) Execute(ctx context.Context, record *models.LeadRecord, action models.Action, latestMessage string) Result {
	var res Result
	switch action.Type {
	case models.ActionAskField:
		res = d.ask(ctx, record, action.Field)
	case models.ActionShowCalendar:
		res = d.showCalendar(ctx, record)
	case models.ActionAttemptBooking:
		res = d.attemptBooking(ctx, record, latestMessage)
	case models.ActionDecline:
		res = d.decline(ctx, record)
	case models.ActionFollowUp:
		res.Reply = genericReply
		if record.AppointmentBooked {
			res.Reply = bookedFollowUpReply
		} else if record.Declined {
			res.Reply = declinedFollowUpReply
		}
		res.Reply = d.phrase(ctx, res.Reply)
	default:
		res.Reply = d.phrase(ctx, genericReply)
	}

	if err := d.sender.SendMessage(ctx, record.ContactID, record.Phone, res.Reply); err != nil {
		slog.Error("Dispatcher.Execute: reply delivery failed",
			"contactID", record.ContactID, "action", action.Type, "error", err)
		record.LastError = err.Error()
		res.DownstreamErr = errors.Join(res.DownstreamErr, err)
	}
	return res
}

func (d *Dispatcher) ask(ctx context.Context, record *models.LeadRecord, field models.FactField) Result {
	res := Result{Reply: d.phrase(ctx, askReply(field, record.Facts))}

	// Mirror known identity facts into the CRM contact. Best effort:
	// a failure never changes the reply, only the breaker accounting.
	fields := map[string]string{}
	if record.Facts.Name != "" {
		fields["firstName"] = firstName(record.Facts.Name)
	}
	if record.Facts.Email != "" {
		fields["email"] = record.Facts.Email
	}
	if len(fields) > 0 {
		if err := d.crm.UpdateContactFields(ctx, record.ContactID, fields); err != nil {
			slog.Warn("Dispatcher.ask: contact field sync failed",
				"contactID", record.ContactID, "error", err)
			res.DownstreamErr = err
		}
	}
	return res
}

func (d *Dispatcher) showCalendar(ctx context.Context, record *models.LeadRecord) Result {
	slots, ok := d.calendar.Get(d.calendarID)
	if !ok {
		start := d.now()
		fetched, err := d.crm.FetchAvailability(ctx, d.calendarID, start, start.Add(AvailabilityWindow))
		if err != nil {
			slog.Error("Dispatcher.showCalendar: availability fetch failed",
				"contactID", record.ContactID, "calendarID", d.calendarID, "error", err)
			record.LastError = err.Error()
			return Result{Reply: noSlotsReply, DownstreamErr: err}
		}
		d.calendar.Put(d.calendarID, fetched)
		slots = fetched
	}

	if len(slots) == 0 {
		// Business outcome, not a collaborator failure: the calendar
		// stays unshown so a later turn retries.
		record.LastError = models.ErrNoSlotsAvailable.Error()
		return Result{Reply: noSlotsReply}
	}

	shown := make([]models.Slot, 0, models.MaxShownSlots)
	for _, slot := range slots {
		if len(shown) == models.MaxShownSlots {
			break
		}
		slot.Display = FormatSlotDisplay(slot.StartTime, d.loc)
		shown = append(shown, slot)
	}
	record.ShownSlots = shown
	record.CalendarShown = true

	res := Result{Reply: calendarReply(shown)}

	// The lead is fully qualified once the calendar goes out: tag and
	// summarize in the CRM, best effort.
	if err := d.crm.AddTags(ctx, record.ContactID, []string{TagQualifiedLead, TagBudget300Plus}); err != nil {
		slog.Warn("Dispatcher.showCalendar: tagging failed", "contactID", record.ContactID, "error", err)
		res.DownstreamErr = errors.Join(res.DownstreamErr, err)
	}
	if err := d.crm.AddNote(ctx, record.ContactID, qualificationSummary(record.Facts)); err != nil {
		slog.Warn("Dispatcher.showCalendar: summary note failed", "contactID", record.ContactID, "error", err)
		res.DownstreamErr = errors.Join(res.DownstreamErr, err)
	}

	slog.Info("Dispatcher.showCalendar: slots presented",
		"contactID", record.ContactID, "shown", len(shown), "available", len(slots))
	return res
}

func (d *Dispatcher) attemptBooking(ctx context.Context, record *models.LeadRecord, message string) Result {
	idx, ok := funnel.ParseSlotSelection(message, len(record.ShownSlots))
	if !ok {
		return Result{Reply: clarifySelectionReply}
	}
	slot := record.ShownSlots[idx-1]

	booking := crm.Booking{
		Title:     bookingTitle,
		StartTime: slot.StartTime,
		EndTime:   slot.EndTime,
	}
	conf, err := d.crm.BookAppointment(ctx, d.calendarID, record.ContactID, booking)
	if err != nil {
		slog.Error("Dispatcher.attemptBooking: booking failed",
			"contactID", record.ContactID, "slot", idx, "error", err)
		record.LastError = err.Error()
		// State unchanged: the customer can pick another slot.
		return Result{Reply: bookingFailedReply, DownstreamErr: err}
	}

	record.AppointmentBooked = true
	res := Result{
		Reply:    bookingConfirmedReply(record.Facts.Name, slot.Display),
		Terminal: true,
	}

	if err := d.crm.AddTags(ctx, record.ContactID, []string{TagAppointmentBooked}); err != nil {
		slog.Warn("Dispatcher.attemptBooking: tagging failed", "contactID", record.ContactID, "error", err)
		res.DownstreamErr = err
	}

	slog.Info("Dispatcher.attemptBooking: appointment booked",
		"contactID", record.ContactID, "appointmentID", conf.ID, "start", slot.StartTime)
	return res
}

func (d *Dispatcher) decline(ctx context.Context, record *models.LeadRecord) Result {
	record.Declined = true
	res := Result{Reply: d.phrase(ctx, declineReply), Terminal: true}

	if err := d.crm.AddTags(ctx, record.ContactID, []string{TagUnderBudget, TagNurtureLead}); err != nil {
		slog.Warn("Dispatcher.decline: tagging failed", "contactID", record.ContactID, "error", err)
		res.DownstreamErr = err
	}

	slog.Info("Dispatcher.decline: lead routed to nurture",
		"contactID", record.ContactID, "budget", record.Facts.Budget)
	return res
}

// phrase optionally rewrites a templated reply in the persona's voice.
// Any model failure falls back to the template.
func (d *Dispatcher) phrase(ctx context.Context, template string) string {
	if d.phraser == nil {
		return template
	}
	out, err := d.phraser.GeneratePrompt(ctx, phrasingSystemPrompt, template)
	if err != nil || strings.TrimSpace(out) == "" {
		slog.Debug("Dispatcher.phrase: persona phrasing unavailable, using template", "error", err)
		return template
	}
	return strings.TrimSpace(out)
}

func qualificationSummary(f models.Facts) string {
	var b strings.Builder
	b.WriteString("Lead calificado por María:\n")
	fmt.Fprintf(&b, "- Nombre: %s\n", f.Name)
	if f.BusinessType != "" {
		fmt.Fprintf(&b, "- Negocio: %s\n", f.BusinessType)
	}
	fmt.Fprintf(&b, "- Problema: %s\n", f.Problem)
	fmt.Fprintf(&b, "- Meta: %s\n", f.Goal)
	fmt.Fprintf(&b, "- Presupuesto mensual: $%.0f USD\n", f.Budget)
	fmt.Fprintf(&b, "- Correo: %s", f.Email)
	return b.String()
}
