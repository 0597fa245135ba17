// Package messaging provides a pluggable delivery abstraction for
// outbound customer replies.
//
// The default sender routes through the CRM's conversations API so the
// message lands in the contact's WhatsApp thread; a Twilio sender is
// available for deployments that deliver directly, bypassing the CRM.
package messaging

import (
	"context"
	"fmt"
	"regexp"
)

// Sender delivers one reply to a customer. Implementations pick whether
// the contact ID (CRM routing) or the phone number (direct delivery)
// addresses the recipient.
type Sender interface {
	SendMessage(ctx context.Context, contactID, phone, body string) error
}

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// ValidateAndCanonicalizeRecipient validates and canonicalizes a phone
// number by stripping all non-numeric characters. At least 6 digits are
// required.
func ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	return canonical, nil
}
