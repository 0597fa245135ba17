package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/outletmedia/leadpipe/internal/breaker"
	"github.com/outletmedia/leadpipe/internal/cache"
	"github.com/outletmedia/leadpipe/internal/crm"
	"github.com/outletmedia/leadpipe/internal/dispatch"
	"github.com/outletmedia/leadpipe/internal/extraction"
	"github.com/outletmedia/leadpipe/internal/models"
	"github.com/outletmedia/leadpipe/internal/store"
)

// scriptedExtractor returns queued fact deltas in order, then empties.
type scriptedExtractor struct {
	deltas []models.Facts
	calls  int
}

func (s *scriptedExtractor) Extract(ctx context.Context, message string, current models.Facts) (models.Facts, error) {
	s.calls++
	if len(s.deltas) == 0 {
		return models.Facts{}, nil
	}
	delta := s.deltas[0]
	s.deltas = s.deltas[1:]
	return delta, nil
}

type fakeCRM struct {
	slots      []models.Slot
	fetchCalls int
	bookCalls  int
	sendCalls  int
	sendErr    error
}

func (f *fakeCRM) SendMessage(ctx context.Context, contactID, text string) error {
	f.sendCalls++
	return f.sendErr
}
func (f *fakeCRM) AddTags(ctx context.Context, contactID string, tags []string) error {
	return nil
}
func (f *fakeCRM) AddNote(ctx context.Context, contactID, text string) error { return nil }
func (f *fakeCRM) UpdateContactFields(ctx context.Context, contactID string, fields map[string]string) error {
	return nil
}
func (f *fakeCRM) FetchAvailability(ctx context.Context, calendarID string, startDate, endDate time.Time) ([]models.Slot, error) {
	f.fetchCalls++
	return f.slots, nil
}
func (f *fakeCRM) BookAppointment(ctx context.Context, calendarID, contactID string, booking crm.Booking) (*crm.Confirmation, error) {
	f.bookCalls++
	return &crm.Confirmation{ID: "appt-1", StartTime: booking.StartTime, Status: "booked"}, nil
}

var _ crm.Service = (*fakeCRM)(nil)

type crmBackedSender struct{ crm crm.Service }

func (s crmBackedSender) SendMessage(ctx context.Context, contactID, phone, body string) error {
	return s.crm.SendMessage(ctx, contactID, body)
}

func newTestGate(extractor extraction.Extractor, fake *fakeCRM, b *breaker.Breaker) (*Gate, *store.InMemoryStore) {
	leads := store.NewInMemoryStore()
	calendar := cache.New[[]models.Slot](dispatch.CalendarTTL)
	dispatcher := dispatch.NewDispatcher(fake, crmBackedSender{fake}, calendar,
		dispatch.WithCalendarID("cal-1"),
		dispatch.WithLocation(time.UTC),
	)
	dedup := cache.New[struct{}](DedupTTL)
	coordinator := extraction.NewCoordinator(extractor)
	return New(leads, coordinator, dispatcher, b, dedup), leads
}

func req(message string) *models.WebhookRequest {
	return &models.WebhookRequest{
		Phone:     "+1 (512) 555-0134",
		Message:   message,
		ContactID: "carlos-1",
	}
}

func availableSlots(n int) []models.Slot {
	base := time.Date(2026, time.September, 7, 15, 0, 0, 0, time.UTC)
	slots := make([]models.Slot, n)
	for i := range slots {
		start := base.Add(time.Duration(i) * time.Hour)
		slots[i] = models.Slot{ID: fmt.Sprintf("s%d", i), StartTime: start, EndTime: start.Add(30 * time.Minute)}
	}
	return slots
}

func TestHandleValidationHasNoSideEffects(t *testing.T) {
	ext := &scriptedExtractor{}
	g, _ := newTestGate(ext, &fakeCRM{}, breaker.New())

	_, err := g.Handle(context.Background(), &models.WebhookRequest{Message: "hola", ContactID: "c1"})
	if !errors.Is(err, models.ErrMissingPhone) {
		t.Fatalf("Handle = %v, want ErrMissingPhone", err)
	}
	if g.dedup.Len() != 0 {
		t.Error("validation failure must not insert a dedup entry")
	}
	if ext.calls != 0 {
		t.Error("validation failure must not reach the extractor")
	}
}

func TestHandleDeduplicatesRetries(t *testing.T) {
	ext := &scriptedExtractor{deltas: []models.Facts{{Name: "Carlos"}}}
	fake := &fakeCRM{}
	g, _ := newTestGate(ext, fake, breaker.New())

	first, err := g.Handle(context.Background(), req("Soy Carlos"))
	if err != nil {
		t.Fatalf("first Handle failed: %v", err)
	}
	if first.Duplicate || first.Reply == "" {
		t.Errorf("first result = %+v, want processed turn", first)
	}

	second, err := g.Handle(context.Background(), req("soy carlos  "))
	if err != nil {
		t.Fatalf("second Handle failed: %v", err)
	}
	if !second.Duplicate {
		t.Error("retry with equivalent text must be reported as duplicate")
	}
	if second.Lead.Name != "Carlos" {
		t.Errorf("duplicate result lead = %+v, want facts from first turn", second.Lead)
	}
	if ext.calls != 1 {
		t.Errorf("extractor calls = %d, want 1", ext.calls)
	}
	if fake.sendCalls != 1 {
		t.Errorf("send calls = %d, duplicate turn must make no collaborator calls", fake.sendCalls)
	}
}

func TestHandleCircuitOpenRejectsTurn(t *testing.T) {
	fake := &fakeCRM{sendErr: errors.New("crm down")}
	ext := &scriptedExtractor{}
	b := breaker.NewWithConfig(3, time.Hour)
	g, _ := newTestGate(ext, fake, b)

	for i := 0; i < 3; i++ {
		if _, err := g.Handle(context.Background(), req(fmt.Sprintf("mensaje %d", i))); err != nil {
			t.Fatalf("turn %d failed unexpectedly: %v", i, err)
		}
	}
	if b.Failures() != 3 {
		t.Fatalf("breaker failures = %d, want 3", b.Failures())
	}

	_, err := g.Handle(context.Background(), req("otro mensaje"))
	if !errors.Is(err, breaker.ErrCircuitOpen) {
		t.Fatalf("Handle with open circuit = %v, want ErrCircuitOpen", err)
	}
	if ext.calls != 3 {
		t.Errorf("extractor calls = %d, rejected turn must not extract", ext.calls)
	}
}

func TestHandleRejectedTurnStaysRetryable(t *testing.T) {
	fake := &fakeCRM{sendErr: errors.New("crm down")}
	ext := &scriptedExtractor{deltas: []models.Facts{{}, {}, {}, {Name: "Carlos"}}}
	b := breaker.NewWithConfig(3, time.Hour)
	g, _ := newTestGate(ext, fake, b)

	for i := 0; i < 3; i++ {
		g.Handle(context.Background(), req(fmt.Sprintf("mensaje %d", i)))
	}
	entries := g.dedup.Len()

	// The unavailable reply tells the customer to write again, so the
	// rejected text must not be remembered as already handled.
	if _, err := g.Handle(context.Background(), req("quiero informacion")); !errors.Is(err, breaker.ErrCircuitOpen) {
		t.Fatalf("Handle with open circuit = %v, want ErrCircuitOpen", err)
	}
	if g.dedup.Len() != entries {
		t.Fatal("rejected turn must not insert a dedup entry")
	}

	fake.sendErr = nil
	b.RecordSuccess()

	res, err := g.Handle(context.Background(), req("quiero informacion"))
	if err != nil {
		t.Fatalf("retry after recovery failed: %v", err)
	}
	if res.Duplicate {
		t.Error("retry of a rejected message must be processed, not deduplicated")
	}
	if res.Reply == "" {
		t.Error("retry after recovery must produce a reply")
	}
	if ext.calls != 4 {
		t.Errorf("extractor calls = %d, want 4 (three sent turns plus the retry)", ext.calls)
	}
}

func TestHandleRecoveryResetsBreaker(t *testing.T) {
	fake := &fakeCRM{sendErr: errors.New("crm down")}
	b := breaker.NewWithConfig(3, time.Hour)
	g, _ := newTestGate(&scriptedExtractor{}, fake, b)

	g.Handle(context.Background(), req("uno"))
	g.Handle(context.Background(), req("dos"))

	fake.sendErr = nil
	if _, err := g.Handle(context.Background(), req("tres")); err != nil {
		t.Fatalf("recovered turn failed: %v", err)
	}
	if b.Failures() != 0 {
		t.Errorf("breaker failures = %d, want 0 after success", b.Failures())
	}
}

func TestHandleBookedStateIsMonotonic(t *testing.T) {
	g, leads := newTestGate(&scriptedExtractor{}, &fakeCRM{}, breaker.New())

	record := models.NewLeadRecord("carlos-1", "carlos-1", "+15125550134")
	record.Facts = models.Facts{Name: "Carlos", Problem: "x", Goal: "y", Budget: 500, Email: "c@x.com"}
	record.CalendarShown = true
	record.AppointmentBooked = true
	if err := leads.SaveLead(record); err != nil {
		t.Fatal(err)
	}

	res, err := g.Handle(context.Background(), req("¿puedo cambiar mi cita?"))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	saved, _ := leads.GetLead("carlos-1")
	if !saved.AppointmentBooked {
		t.Error("AppointmentBooked must never reset")
	}
	if res.Reply == "" {
		t.Error("post-booking message must still get a reply")
	}
}

func TestHandleFullQualificationConversation(t *testing.T) {
	ext := &scriptedExtractor{deltas: []models.Facts{
		{},
		{Name: "Carlos", BusinessType: "restaurante"},
		{Problem: "no tengo suficientes clientes"},
		{Goal: "llenar el local entre semana"},
		{Budget: 500, Email: "carlos@x.com"},
		{},
	}}
	fake := &fakeCRM{slots: availableSlots(8)}
	g, leads := newTestGate(ext, fake, breaker.New())

	messages := []string{
		"Hola, vi su anuncio",
		"Soy Carlos, tengo un restaurante",
		"No tengo suficientes clientes",
		"Quiero llenar el local entre semana",
		"Puedo invertir unos 500 al mes, mi correo es carlos@x.com",
		"La 2 por favor",
	}

	var last *Result
	for i, msg := range messages {
		res, err := g.Handle(context.Background(), req(msg))
		if err != nil {
			t.Fatalf("turn %d (%q) failed: %v", i, msg, err)
		}
		last = res
	}

	record, err := leads.GetLead("carlos-1")
	if err != nil || record == nil {
		t.Fatalf("lead not persisted: %v", err)
	}
	if !record.CalendarShown {
		t.Error("calendar must have been shown")
	}
	if fake.fetchCalls != 1 {
		t.Errorf("fetchCalls = %d, want exactly 1 availability fetch", fake.fetchCalls)
	}
	if fake.bookCalls != 1 {
		t.Errorf("bookCalls = %d, want exactly 1 booking", fake.bookCalls)
	}
	if !record.AppointmentBooked || !last.Terminal {
		t.Error("conversation must end booked and terminal")
	}
	if record.Facts.Budget != 500 || record.Facts.Email != "carlos@x.com" {
		t.Errorf("final facts = %+v", record.Facts)
	}
	if len(record.ShownSlots) != models.MaxShownSlots {
		t.Errorf("shown slots = %d, want %d", len(record.ShownSlots), models.MaxShownSlots)
	}
	if !strings.Contains(last.Reply, "cita") {
		t.Errorf("final reply should confirm the appointment: %q", last.Reply)
	}
}
