package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/outletmedia/leadpipe/internal/cache"
	"github.com/outletmedia/leadpipe/internal/crm"
	"github.com/outletmedia/leadpipe/internal/models"
)

type mockCRM struct {
	slots          []models.Slot
	fetchErr       error
	fetchCalls     int
	bookErr        error
	bookCalls      int
	booked         crm.Booking
	tags           []string
	tagsErr        error
	updatedFields  map[string]string
	updateErr      error
	notes          []string
	sentMessages   []string
	sendMessageErr error
}

func (m *mockCRM) SendMessage(ctx context.Context, contactID, text string) error {
	m.sentMessages = append(m.sentMessages, text)
	return m.sendMessageErr
}

func (m *mockCRM) AddTags(ctx context.Context, contactID string, tags []string) error {
	m.tags = append(m.tags, tags...)
	return m.tagsErr
}

func (m *mockCRM) AddNote(ctx context.Context, contactID, text string) error {
	m.notes = append(m.notes, text)
	return nil
}

func (m *mockCRM) UpdateContactFields(ctx context.Context, contactID string, fields map[string]string) error {
	m.updatedFields = fields
	return m.updateErr
}

func (m *mockCRM) FetchAvailability(ctx context.Context, calendarID string, startDate, endDate time.Time) ([]models.Slot, error) {
	m.fetchCalls++
	return m.slots, m.fetchErr
}

func (m *mockCRM) BookAppointment(ctx context.Context, calendarID, contactID string, booking crm.Booking) (*crm.Confirmation, error) {
	m.bookCalls++
	m.booked = booking
	if m.bookErr != nil {
		return nil, m.bookErr
	}
	return &crm.Confirmation{ID: "appt-1", StartTime: booking.StartTime, Status: "booked"}, nil
}

var _ crm.Service = (*mockCRM)(nil)

type mockSender struct {
	sent []string
	err  error
}

func (m *mockSender) SendMessage(ctx context.Context, contactID, phone, body string) error {
	m.sent = append(m.sent, body)
	return m.err
}

func slotAt(id string, start time.Time) models.Slot {
	return models.Slot{ID: id, StartTime: start, EndTime: start.Add(30 * time.Minute)}
}

func qualifiedRecord() *models.LeadRecord {
	r := models.NewLeadRecord("c1", "c1", "+15125550134")
	r.Facts = models.Facts{Name: "Carlos Pérez", Problem: "pocos clientes", Goal: "llenar el local", Budget: 500, Email: "carlos@x.com"}
	return r
}

func newTestDispatcher(mock *mockCRM, sender *mockSender) (*Dispatcher, *cache.Cache[[]models.Slot]) {
	cal := cache.New[[]models.Slot](CalendarTTL)
	d := NewDispatcher(mock, sender, cal,
		WithCalendarID("cal-1"),
		WithLocation(time.UTC),
	)
	return d, cal
}

func TestShowCalendarPresentsAndCaches(t *testing.T) {
	base := time.Date(2026, time.September, 7, 15, 0, 0, 0, time.UTC) // a Monday
	mock := &mockCRM{}
	for i := 0; i < 8; i++ {
		mock.slots = append(mock.slots, slotAt("s", base.Add(time.Duration(i)*time.Hour)))
	}
	sender := &mockSender{}
	d, _ := newTestDispatcher(mock, sender)

	rec := qualifiedRecord()
	res := d.Execute(context.Background(), rec, models.Action{Type: models.ActionShowCalendar}, "carlos@x.com")
	if res.DownstreamErr != nil {
		t.Fatalf("unexpected downstream error: %v", res.DownstreamErr)
	}
	if !rec.CalendarShown {
		t.Error("CalendarShown must be set after presenting slots")
	}
	if len(rec.ShownSlots) != models.MaxShownSlots {
		t.Errorf("ShownSlots = %d, want %d", len(rec.ShownSlots), models.MaxShownSlots)
	}
	if !strings.Contains(res.Reply, "1. lunes 7 de septiembre, 3:00 PM") {
		t.Errorf("reply missing formatted slot:\n%s", res.Reply)
	}
	if len(mock.tags) != 2 || mock.tags[0] != TagQualifiedLead {
		t.Errorf("tags = %v, want qualified taxonomy", mock.tags)
	}
	if len(mock.notes) != 1 || !strings.Contains(mock.notes[0], "500") {
		t.Errorf("qualification note missing budget: %v", mock.notes)
	}

	// Second qualified lead within the TTL reuses the cache.
	rec2 := qualifiedRecord()
	rec2.ContactID = "c2"
	d.Execute(context.Background(), rec2, models.Action{Type: models.ActionShowCalendar}, "")
	if mock.fetchCalls != 1 {
		t.Errorf("fetchCalls = %d, want 1 (second show served from cache)", mock.fetchCalls)
	}
}

func TestShowCalendarFetchFailure(t *testing.T) {
	mock := &mockCRM{fetchErr: errors.New("calendar api down")}
	sender := &mockSender{}
	d, _ := newTestDispatcher(mock, sender)

	rec := qualifiedRecord()
	res := d.Execute(context.Background(), rec, models.Action{Type: models.ActionShowCalendar}, "")
	if res.DownstreamErr == nil {
		t.Error("fetch failure must surface as downstream error")
	}
	if rec.CalendarShown {
		t.Error("CalendarShown must stay false on fetch failure")
	}
	if len(sender.sent) != 1 {
		t.Fatalf("customer must still receive a reply, sent = %d", len(sender.sent))
	}
}

func TestShowCalendarNoSlots(t *testing.T) {
	mock := &mockCRM{slots: nil}
	sender := &mockSender{}
	d, _ := newTestDispatcher(mock, sender)

	rec := qualifiedRecord()
	res := d.Execute(context.Background(), rec, models.Action{Type: models.ActionShowCalendar}, "")
	if res.DownstreamErr != nil {
		t.Errorf("empty availability is not a collaborator failure: %v", res.DownstreamErr)
	}
	if rec.CalendarShown {
		t.Error("CalendarShown must stay false so a later turn refetches")
	}
}

func TestAttemptBookingSuccess(t *testing.T) {
	mock := &mockCRM{}
	sender := &mockSender{}
	d, _ := newTestDispatcher(mock, sender)

	rec := qualifiedRecord()
	rec.CalendarShown = true
	start := time.Date(2026, time.September, 8, 16, 0, 0, 0, time.UTC)
	rec.ShownSlots = []models.Slot{
		{ID: "a", StartTime: start, EndTime: start.Add(30 * time.Minute), Display: "martes 8 de septiembre, 4:00 PM"},
		{ID: "b", StartTime: start.Add(time.Hour), EndTime: start.Add(90 * time.Minute), Display: "martes 8 de septiembre, 5:00 PM"},
	}

	res := d.Execute(context.Background(), rec, models.Action{Type: models.ActionAttemptBooking}, "la 2 por favor")
	if !res.Terminal || !rec.AppointmentBooked {
		t.Errorf("booking must be terminal and set the flag; res=%+v booked=%v", res, rec.AppointmentBooked)
	}
	if !mock.booked.StartTime.Equal(start.Add(time.Hour)) {
		t.Errorf("booked slot start = %v, want second slot", mock.booked.StartTime)
	}
	if !strings.Contains(res.Reply, "Carlos") {
		t.Errorf("confirmation should address the lead by first name: %s", res.Reply)
	}
	if len(mock.tags) != 1 || mock.tags[0] != TagAppointmentBooked {
		t.Errorf("tags = %v, want [%s]", mock.tags, TagAppointmentBooked)
	}
}

func TestAttemptBookingOutOfRangeNeverBooks(t *testing.T) {
	mock := &mockCRM{}
	sender := &mockSender{}
	d, _ := newTestDispatcher(mock, sender)

	rec := qualifiedRecord()
	rec.CalendarShown = true
	rec.ShownSlots = []models.Slot{slotAt("a", time.Now()), slotAt("b", time.Now())}

	res := d.Execute(context.Background(), rec, models.Action{Type: models.ActionAttemptBooking}, "la 5")
	if mock.bookCalls != 0 {
		t.Errorf("out-of-range selection must not reach the booking API, calls = %d", mock.bookCalls)
	}
	if res.Terminal || rec.AppointmentBooked {
		t.Error("clarification turn must not be terminal")
	}
	if res.Reply != clarifySelectionReply {
		t.Errorf("reply = %q, want clarification", res.Reply)
	}
}

func TestAttemptBookingFailureKeepsState(t *testing.T) {
	mock := &mockCRM{bookErr: errors.New("slot taken")}
	sender := &mockSender{}
	d, _ := newTestDispatcher(mock, sender)

	rec := qualifiedRecord()
	rec.CalendarShown = true
	rec.ShownSlots = []models.Slot{slotAt("a", time.Now())}

	res := d.Execute(context.Background(), rec, models.Action{Type: models.ActionAttemptBooking}, "1")
	if res.DownstreamErr == nil {
		t.Error("booking failure must surface as downstream error")
	}
	if rec.AppointmentBooked || res.Terminal {
		t.Error("failed booking must leave the record non-terminal")
	}
	if res.Reply != bookingFailedReply {
		t.Errorf("reply = %q, want booking apology", res.Reply)
	}
}

func TestDeclineIsTerminalAndTagged(t *testing.T) {
	mock := &mockCRM{}
	sender := &mockSender{}
	d, _ := newTestDispatcher(mock, sender)

	rec := qualifiedRecord()
	rec.Facts.Budget = 150
	res := d.Execute(context.Background(), rec, models.Action{Type: models.ActionDecline}, "150 al mes")
	if !res.Terminal || !rec.Declined {
		t.Error("decline must be terminal and set the flag")
	}
	if len(mock.tags) != 2 || mock.tags[0] != TagUnderBudget || mock.tags[1] != TagNurtureLead {
		t.Errorf("tags = %v, want nurture taxonomy", mock.tags)
	}
}

func TestAskSyncsContactFieldsBestEffort(t *testing.T) {
	mock := &mockCRM{updateErr: errors.New("crm down")}
	sender := &mockSender{}
	d, _ := newTestDispatcher(mock, sender)

	rec := qualifiedRecord()
	res := d.Execute(context.Background(), rec, models.Action{Type: models.ActionAskField, Field: models.FieldEmail}, "")
	if mock.updatedFields["firstName"] != "Carlos" {
		t.Errorf("updatedFields = %v, want firstName Carlos", mock.updatedFields)
	}
	if res.DownstreamErr == nil {
		t.Error("field sync failure must be visible to breaker accounting")
	}
	if res.Reply == "" || len(sender.sent) != 1 {
		t.Error("ask reply must still be delivered despite the sync failure")
	}
}

func TestSendFailureSurfacesDownstream(t *testing.T) {
	mock := &mockCRM{}
	sender := &mockSender{err: errors.New("whatsapp unreachable")}
	d, _ := newTestDispatcher(mock, sender)

	rec := models.NewLeadRecord("c1", "c1", "+15125550134")
	res := d.Execute(context.Background(), rec, models.Action{Type: models.ActionAskField, Field: models.FieldName}, "hola")
	if res.DownstreamErr == nil {
		t.Error("delivery failure must surface as downstream error")
	}
	if rec.LastError == "" {
		t.Error("delivery failure must be recorded on the lead")
	}
}

func TestFollowUpRepliesMatchTerminalState(t *testing.T) {
	mock := &mockCRM{}
	sender := &mockSender{}
	d, _ := newTestDispatcher(mock, sender)

	booked := qualifiedRecord()
	booked.AppointmentBooked = true
	res := d.Execute(context.Background(), booked, models.Action{Type: models.ActionFollowUp}, "gracias")
	if res.Reply != bookedFollowUpReply {
		t.Errorf("booked follow-up reply = %q", res.Reply)
	}

	declined := qualifiedRecord()
	declined.Declined = true
	res = d.Execute(context.Background(), declined, models.Action{Type: models.ActionFollowUp}, "hola")
	if res.Reply != declinedFollowUpReply {
		t.Errorf("declined follow-up reply = %q", res.Reply)
	}
}

func TestFormatSlotDisplay(t *testing.T) {
	loc := time.UTC
	cases := []struct {
		t    time.Time
		want string
	}{
		{time.Date(2026, time.September, 7, 15, 0, 0, 0, time.UTC), "lunes 7 de septiembre, 3:00 PM"},
		{time.Date(2026, time.September, 9, 0, 30, 0, 0, time.UTC), "miércoles 9 de septiembre, 12:30 AM"},
		{time.Date(2026, time.December, 4, 12, 0, 0, 0, time.UTC), "viernes 4 de diciembre, 12:00 PM"},
	}
	for _, c := range cases {
		if got := FormatSlotDisplay(c.t, loc); got != c.want {
			t.Errorf("FormatSlotDisplay(%v) = %q, want %q", c.t, got, c.want)
		}
	}
}
