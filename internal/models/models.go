// Package models defines the core data structures for LeadPipe.
//
// It includes the lead record and qualification facts, funnel actions,
// webhook payloads, and the error taxonomy shared across modules.
package models

import (
	"errors"
	"time"
)

// Qualification constants shared across the engine.
const (
	// MaxExtractionAttempts bounds extractor invocations per conversation.
	MaxExtractionAttempts = 3
	// MinimumBudget is the monthly budget (USD) required to qualify.
	MinimumBudget = 300
	// MaxShownSlots limits how many calendar slots are presented.
	MaxShownSlots = 5
)

// Error variables for better error handling and testability
var (
	ErrMissingPhone     = errors.New("phone is required")
	ErrMissingMessage   = errors.New("message is required")
	ErrMissingContactID = errors.New("contactId is required")
	ErrExtractionFailed = errors.New("extractor returned unusable output")
	ErrNoSlotsAvailable = errors.New("no calendar slots available")
)

// IsValidationError reports whether err belongs to the request validation
// class, the only error class that crosses the conversation gate boundary.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrMissingPhone) ||
		errors.Is(err, ErrMissingMessage) ||
		errors.Is(err, ErrMissingContactID)
}

// FactField identifies one field of the qualification fact sheet.
type FactField string

const (
	FieldName         FactField = "name"
	FieldBusinessType FactField = "businessType"
	FieldProblem      FactField = "problem"
	FieldGoal         FactField = "goal"
	FieldBudget       FactField = "budget"
	FieldEmail        FactField = "email"
)

// Facts is the per-conversation qualification fact sheet. A zero value
// means the fact has not been provided yet; fields are only ever added
// or overwritten with a non-empty value, never deleted.
type Facts struct {
	Name         string  `json:"name,omitempty"`
	BusinessType string  `json:"businessType,omitempty"`
	Problem      string  `json:"problem,omitempty"`
	Goal         string  `json:"goal,omitempty"`
	Budget       float64 `json:"budget,omitempty"`
	Email        string  `json:"email,omitempty"`
}

// IsEmpty reports whether the delta carries no facts at all.
func (f Facts) IsEmpty() bool {
	return f == Facts{}
}

// Slot represents one bookable calendar slot as returned by the calendar
// collaborator, plus its human-readable rendering.
type Slot struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Display   string    `json:"display,omitempty"`
}

// LeadRecord is the mutable per-conversation fact sheet plus
// qualification counters and flags. One record exists per contact.
type LeadRecord struct {
	ContactID              string    `json:"contact_id"`
	ThreadID               string    `json:"thread_id"`
	Phone                  string    `json:"phone"`
	Facts                  Facts     `json:"facts"`
	ExtractionAttempts     int       `json:"extraction_attempts"`
	ProcessedMessageHashes []string  `json:"processed_message_hashes,omitempty"`
	CalendarShown          bool      `json:"calendar_shown"`
	AppointmentBooked      bool      `json:"appointment_booked"`
	Declined               bool      `json:"declined"`
	ShownSlots             []Slot    `json:"shown_slots,omitempty"`
	LastError              string    `json:"last_error,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// NewLeadRecord creates a fresh record for a contact's first message.
func NewLeadRecord(contactID, threadID, phone string) *LeadRecord {
	now := time.Now()
	return &LeadRecord{
		ContactID: contactID,
		ThreadID:  threadID,
		Phone:     phone,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasProcessedHash reports whether the normalized message hash has
// already been sent to the extractor for this conversation.
func (r *LeadRecord) HasProcessedHash(hash string) bool {
	for _, h := range r.ProcessedMessageHashes {
		if h == hash {
			return true
		}
	}
	return false
}

// ActionType enumerates the actions the qualification state machine can
// select. The state machine only selects; the dispatcher executes.
type ActionType string

const (
	// ActionAskField asks the customer for exactly one missing fact.
	ActionAskField ActionType = "ask_field"
	// ActionShowCalendar fetches availability and presents slots.
	ActionShowCalendar ActionType = "show_calendar"
	// ActionAttemptBooking parses a slot selection and books it.
	ActionAttemptBooking ActionType = "attempt_booking"
	// ActionDecline politely declines an under-budget lead.
	ActionDecline ActionType = "decline"
	// ActionFollowUp answers messages after a terminal state.
	ActionFollowUp ActionType = "follow_up"
	// ActionGeneric keeps the conversation going when nothing matches.
	ActionGeneric ActionType = "generic"
)

// Action is the qualification state machine's output for one turn.
type Action struct {
	Type  ActionType `json:"type"`
	Field FactField  `json:"field,omitempty"` // set for ActionAskField
}

// WebhookRequest is the inbound webhook payload for one customer message.
type WebhookRequest struct {
	Phone          string `json:"phone"`
	Message        string `json:"message"`
	ContactID      string `json:"contactId"`
	ConversationID string `json:"conversationId,omitempty"`
}

// Validate checks the required inbound fields. A failure here is fatal
// to the request and must produce no side effects.
func (r *WebhookRequest) Validate() error {
	if r.Phone == "" {
		return ErrMissingPhone
	}
	if r.Message == "" {
		return ErrMissingMessage
	}
	if r.ContactID == "" {
		return ErrMissingContactID
	}
	return nil
}

// ThreadID derives the stable conversation thread identifier: the
// conversation ID when the webhook carries one, otherwise the contact ID.
func (r *WebhookRequest) ThreadID() string {
	if r.ConversationID != "" {
		return r.ConversationID
	}
	return r.ContactID
}

// WebhookResponse is the success payload returned to the webhook caller.
type WebhookResponse struct {
	Success   bool   `json:"success"`
	LeadInfo  Facts  `json:"leadInfo"`
	ThreadID  string `json:"threadId"`
	Reply     string `json:"reply,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Terminal  bool   `json:"terminal,omitempty"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response envelope.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
