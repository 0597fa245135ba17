// Package funnel implements the qualification state machine: a pure,
// deterministic function from the lead record (and the latest message)
// to the next action. It only selects actions; execution belongs to the
// dispatcher.
package funnel

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/outletmedia/leadpipe/internal/models"
)

// Decide evaluates the qualification funnel in strict order and returns
// the first matching action. Terminal states (booked, declined) route
// every later message to follow-up handling and never re-enter the
// funnel.
func Decide(record *models.LeadRecord, latestMessage string) models.Action {
	if record.AppointmentBooked || record.Declined {
		return models.Action{Type: models.ActionFollowUp}
	}

	facts := record.Facts
	switch {
	case facts.Name == "":
		return models.Action{Type: models.ActionAskField, Field: models.FieldName}
	case facts.Problem == "":
		return models.Action{Type: models.ActionAskField, Field: models.FieldProblem}
	case facts.Goal == "":
		return models.Action{Type: models.ActionAskField, Field: models.FieldGoal}
	case facts.Budget == 0:
		return models.Action{Type: models.ActionAskField, Field: models.FieldBudget}
	case facts.Budget < models.MinimumBudget:
		return models.Action{Type: models.ActionDecline}
	case facts.Email == "":
		return models.Action{Type: models.ActionAskField, Field: models.FieldEmail}
	case !record.CalendarShown:
		return models.Action{Type: models.ActionShowCalendar}
	case LooksLikeSlotSelection(latestMessage):
		return models.Action{Type: models.ActionAttemptBooking}
	default:
		return models.Action{Type: models.ActionGeneric}
	}
}

// standaloneDigit matches a single digit 1-9 as its own word, so "a las
// 10" or "500 al mes" never read as a slot choice.
var standaloneDigit = regexp.MustCompile(`(^|[^0-9])([1-9])([^0-9]|$)`)

var ordinalIndex = map[string]int{
	"primera": 1, "primero": 1, "primer": 1, "first": 1,
	"segunda": 2, "segundo": 2, "second": 2,
	"tercera": 3, "tercero": 3, "tercer": 3, "third": 3,
	"cuarta": 4, "cuarto": 4, "fourth": 4,
	"quinta": 5, "quinto": 5, "fifth": 5,
}

// LooksLikeSlotSelection reports whether a message plausibly selects a
// shown calendar slot: a standalone digit or an ordinal word. The
// dispatcher still performs the strict parse against the shown list.
func LooksLikeSlotSelection(message string) bool {
	_, ok := parseSelection(message)
	return ok
}

// ParseSlotSelection resolves a message to a 1-based index into the
// shown slot list. It returns false for anything unparseable or out of
// range; in that case no booking call may be made.
func ParseSlotSelection(message string, shownCount int) (int, bool) {
	idx, ok := parseSelection(message)
	if !ok || idx > shownCount {
		return 0, false
	}
	return idx, true
}

func parseSelection(message string) (int, bool) {
	lower := strings.ToLower(strings.TrimSpace(message))
	if lower == "" {
		return 0, false
	}

	// Scan the message's words in order so the first ordinal mentioned
	// wins regardless of map iteration order.
	words := strings.FieldsFunc(lower, func(r rune) bool { return !unicode.IsLetter(r) })
	for _, word := range words {
		if idx, ok := ordinalIndex[word]; ok {
			return idx, true
		}
	}

	if m := standaloneDigit.FindStringSubmatch(lower); m != nil {
		idx, err := strconv.Atoi(m[2])
		if err == nil && idx >= 1 && idx <= models.MaxShownSlots {
			return idx, true
		}
	}
	return 0, false
}
