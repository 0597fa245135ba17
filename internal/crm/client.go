package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/outletmedia/leadpipe/internal/models"
)

const defaultBaseURL = "https://services.leadconnectorhq.com"

// Opts holds configuration options for the CRM client.
type Opts struct {
	APIKey     string
	LocationID string
	BaseURL    string
	Timeout    time.Duration
}

// Option defines a configuration option for the CRM client.
type Option func(*Opts)

// WithAPIKey sets the bearer token for CRM requests.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithLocationID sets the CRM location the client operates on.
func WithLocationID(id string) Option {
	return func(o *Opts) { o.LocationID = id }
}

// WithBaseURL overrides the API base URL (used by tests).
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithTimeout overrides the per-call deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Client is the HTTP implementation of Service.
type Client struct {
	apiKey     string
	locationID string
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

var _ Service = (*Client)(nil)

// NewClient creates a CRM client.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("CRM API key is required")
	}
	if cfg.LocationID == "" {
		return nil, fmt.Errorf("CRM location ID is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		apiKey:     cfg.APIKey,
		locationID: cfg.LocationID,
		baseURL:    cfg.BaseURL,
		timeout:    cfg.Timeout,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// do executes one JSON API call with the per-call deadline applied.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload interface{}, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Version", "2021-07-28")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Warn("crm.Client: request failed", "method", method, "path", path, "error", err, "duration", time.Since(start))
		return fmt.Errorf("crm request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("crm.Client: non-2xx response", "method", method, "path", path, "status", resp.StatusCode)
		return fmt.Errorf("crm request %s %s: status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response %s %s: %w", method, path, err)
		}
	}
	return nil
}

// SendMessage delivers a WhatsApp message through the CRM conversations API.
func (c *Client) SendMessage(ctx context.Context, contactID, text string) error {
	slog.Debug("crm.SendMessage: sending", "contactID", contactID, "length", len(text))
	payload := map[string]interface{}{
		"type":       "WhatsApp",
		"locationId": c.locationID,
		"contactId":  contactID,
		"message":    text,
	}
	return c.do(ctx, http.MethodPost, "/conversations/messages", nil, payload, nil)
}

// AddTags attaches tags to a contact.
func (c *Client) AddTags(ctx context.Context, contactID string, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	slog.Debug("crm.AddTags: tagging contact", "contactID", contactID, "tags", tags)
	payload := map[string]interface{}{"tags": tags}
	return c.do(ctx, http.MethodPost, "/contacts/"+contactID+"/tags", nil, payload, nil)
}

// AddNote records a note on a contact.
func (c *Client) AddNote(ctx context.Context, contactID, text string) error {
	payload := map[string]interface{}{
		"body":   text,
		"userId": c.locationID,
	}
	return c.do(ctx, http.MethodPost, "/contacts/"+contactID+"/notes", nil, payload, nil)
}

// UpdateContactFields updates top-level contact fields such as
// firstName and email.
func (c *Client) UpdateContactFields(ctx context.Context, contactID string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	payload := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		payload[k] = v
	}
	return c.do(ctx, http.MethodPut, "/contacts/"+contactID, nil, payload, nil)
}

// slotsEnvelope matches the calendar slots response shape.
type slotsEnvelope struct {
	Data []struct {
		ID        string    `json:"id"`
		StartTime time.Time `json:"startTime"`
		EndTime   time.Time `json:"endTime"`
	} `json:"data"`
}

// FetchAvailability returns bookable slots for a calendar in the window.
func (c *Client) FetchAvailability(ctx context.Context, calendarID string, startDate, endDate time.Time) ([]models.Slot, error) {
	query := url.Values{}
	query.Set("startDate", startDate.Format(time.RFC3339))
	query.Set("endDate", endDate.Format(time.RFC3339))

	var envelope slotsEnvelope
	if err := c.do(ctx, http.MethodGet, "/calendars/"+calendarID+"/appointments/slots", query, nil, &envelope); err != nil {
		return nil, err
	}

	slots := make([]models.Slot, 0, len(envelope.Data))
	for _, s := range envelope.Data {
		slots = append(slots, models.Slot{ID: s.ID, StartTime: s.StartTime, EndTime: s.EndTime})
	}
	slog.Debug("crm.FetchAvailability: slots fetched", "calendarID", calendarID, "count", len(slots))
	return slots, nil
}

// BookAppointment books one slot for a contact.
func (c *Client) BookAppointment(ctx context.Context, calendarID, contactID string, booking Booking) (*Confirmation, error) {
	payload := map[string]interface{}{
		"calendarId":        calendarID,
		"locationId":        c.locationID,
		"contactId":         contactID,
		"title":             booking.Title,
		"appointmentStatus": "confirmed",
		"startTime":         booking.StartTime.Format(time.RFC3339),
		"endTime":           booking.EndTime.Format(time.RFC3339),
		"toNotify":          true,
	}

	var confirmation Confirmation
	if err := c.do(ctx, http.MethodPost, "/calendars/events/appointments", nil, payload, &confirmation); err != nil {
		return nil, err
	}
	slog.Info("crm.BookAppointment: appointment booked", "contactID", contactID, "appointmentID", confirmation.ID, "start", booking.StartTime)
	return &confirmation, nil
}
