// Package crm talks to the LeadConnector-style CRM REST API that owns
// contacts, conversations and calendars.
//
// All calls carry a per-request deadline; a deadline hit is reported to
// callers like any other collaborator failure so the circuit breaker
// can observe it.
package crm

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/outletmedia/leadpipe/internal/models"
)

// DefaultTimeout bounds every CRM/calendar API call.
const DefaultTimeout = 5 * time.Second

// Booking describes the appointment to create for a contact.
type Booking struct {
	Title     string    `json:"title"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

// Confirmation is the CRM's acknowledgement of a booked appointment.
type Confirmation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	StartTime time.Time `json:"startTime"`
	Status    string    `json:"appointmentStatus"`
}

// Service defines the CRM/calendar collaborator surface used by the
// dispatcher and the messaging layer.
type Service interface {
	// SendMessage delivers a WhatsApp message to a contact.
	SendMessage(ctx context.Context, contactID, text string) error

	// AddTags attaches tags to a contact.
	AddTags(ctx context.Context, contactID string, tags []string) error

	// AddNote records a note on a contact.
	AddNote(ctx context.Context, contactID, text string) error

	// UpdateContactFields updates top-level contact fields (name, email).
	UpdateContactFields(ctx context.Context, contactID string, fields map[string]string) error

	// FetchAvailability returns bookable slots for a calendar.
	FetchAvailability(ctx context.Context, calendarID string, startDate, endDate time.Time) ([]models.Slot, error)

	// BookAppointment books one slot for a contact.
	BookAppointment(ctx context.Context, calendarID, contactID string, booking Booking) (*Confirmation, error)
}

var nonDigits = regexp.MustCompile(`\D`)

// FormatPhoneNumber canonicalizes a phone number to E.164, assuming US
// numbers when no country code is present.
func FormatPhoneNumber(phone string) string {
	cleaned := nonDigits.ReplaceAllString(phone, "")
	switch {
	case len(cleaned) == 10:
		return "+1" + cleaned
	case len(cleaned) == 11 && strings.HasPrefix(cleaned, "1"):
		return "+" + cleaned
	default:
		return "+" + cleaned
	}
}
