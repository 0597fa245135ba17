package messaging

import (
	"context"
	"log/slog"

	"github.com/outletmedia/leadpipe/internal/crm"
)

// CRMSender delivers replies through the CRM conversations API, which
// forwards them to the contact's WhatsApp thread.
type CRMSender struct {
	crm crm.Service
}

var _ Sender = (*CRMSender)(nil)

// NewCRMSender creates the default, CRM-backed sender.
func NewCRMSender(service crm.Service) *CRMSender {
	return &CRMSender{crm: service}
}

// SendMessage sends the reply addressed by contact ID.
func (s *CRMSender) SendMessage(ctx context.Context, contactID, phone, body string) error {
	slog.Debug("CRMSender.SendMessage: delivering via CRM", "contactID", contactID, "length", len(body))
	return s.crm.SendMessage(ctx, contactID, body)
}
