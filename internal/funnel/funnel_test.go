package funnel

import (
	"testing"

	"github.com/outletmedia/leadpipe/internal/models"
)

func record(facts models.Facts) *models.LeadRecord {
	r := models.NewLeadRecord("c1", "c1", "+15125550134")
	r.Facts = facts
	return r
}

func TestDecideFunnelOrder(t *testing.T) {
	full := models.Facts{
		Name:    "Ana",
		Problem: "no clients",
		Goal:    "grow",
		Budget:  500,
		Email:   "ana@x.com",
	}

	cases := []struct {
		name      string
		record    *models.LeadRecord
		message   string
		wantType  models.ActionType
		wantField models.FactField
	}{
		{"empty record asks name", record(models.Facts{}), "Hola", models.ActionAskField, models.FieldName},
		{"name known asks problem", record(models.Facts{Name: "Ana"}), "Soy Ana", models.ActionAskField, models.FieldProblem},
		{"problem known asks goal", record(models.Facts{Name: "Ana", Problem: "x"}), "...", models.ActionAskField, models.FieldGoal},
		{"goal known asks budget", record(models.Facts{Name: "Ana", Problem: "x", Goal: "y"}), "...", models.ActionAskField, models.FieldBudget},
		{"low budget declines", record(models.Facts{Name: "Ana", Problem: "x", Goal: "y", Budget: 250, Email: "a@b.com"}), "...", models.ActionDecline, ""},
		{"qualified budget asks email", record(models.Facts{Name: "Ana", Problem: "x", Goal: "y", Budget: 400}), "...", models.ActionAskField, models.FieldEmail},
		{"all facts shows calendar", record(full), "carlos@x.com", models.ActionShowCalendar, ""},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Decide(c.record, c.message)
			if got.Type != c.wantType || got.Field != c.wantField {
				t.Errorf("Decide = %+v, want type %s field %s", got, c.wantType, c.wantField)
			}
		})
	}
}

func TestDecideLowBudgetNeverShowsCalendar(t *testing.T) {
	r := record(models.Facts{Name: "A", Problem: "B", Goal: "C", Budget: 250, Email: "a@b.com"})
	got := Decide(r, "quiero agendar")
	if got.Type != models.ActionDecline {
		t.Errorf("Decide = %+v, want decline for under-budget lead with full facts", got)
	}
}

func TestDecideTerminalStatesFollowUpOnly(t *testing.T) {
	booked := record(models.Facts{Name: "Ana"})
	booked.AppointmentBooked = true
	if got := Decide(booked, "gracias"); got.Type != models.ActionFollowUp {
		t.Errorf("booked record: Decide = %+v, want follow-up", got)
	}

	declined := record(models.Facts{Name: "Ana", Problem: "x", Goal: "y", Budget: 100})
	declined.Declined = true
	if got := Decide(declined, "hola de nuevo"); got.Type != models.ActionFollowUp {
		t.Errorf("declined record: Decide = %+v, want follow-up (budget never re-asked)", got)
	}
}

func TestDecideCalendarShownRoutesSelection(t *testing.T) {
	full := models.Facts{Name: "Ana", Problem: "x", Goal: "y", Budget: 500, Email: "a@b.com"}

	r := record(full)
	r.CalendarShown = true
	if got := Decide(r, "la 2 por favor"); got.Type != models.ActionAttemptBooking {
		t.Errorf("Decide = %+v, want attempt booking for slot selection", got)
	}
	if got := Decide(r, "dejame pensarlo"); got.Type != models.ActionGeneric {
		t.Errorf("Decide = %+v, want generic for non-selection", got)
	}
}

func TestParseSlotSelection(t *testing.T) {
	cases := []struct {
		message string
		shown   int
		want    int
		ok      bool
	}{
		{"3", 5, 3, true},
		{"la 2 por favor", 5, 2, true},
		{"primera", 5, 1, true},
		{"el tercero", 5, 3, true},
		{"quinta opcion", 5, 5, true},
		{"5", 3, 0, false},   // out of range for shown list
		{"7", 5, 0, false},   // beyond max shown slots
		{"500 al mes", 5, 0, false},
		{"no se", 5, 0, false},
		{"", 5, 0, false},
	}

	for _, c := range cases {
		got, ok := ParseSlotSelection(c.message, c.shown)
		if got != c.want || ok != c.ok {
			t.Errorf("ParseSlotSelection(%q, %d) = (%d, %v), want (%d, %v)", c.message, c.shown, got, ok, c.want, c.ok)
		}
	}
}

func TestParseSlotSelectionFirstOrdinalWins(t *testing.T) {
	// A message naming several ordinals must always resolve to the one
	// mentioned first.
	for i := 0; i < 50; i++ {
		got, ok := ParseSlotSelection("la primera o la segunda", 5)
		if !ok || got != 1 {
			t.Fatalf("ParseSlotSelection = (%d, %v), want (1, true)", got, ok)
		}
	}
	if got, ok := ParseSlotSelection("mejor la cuarta, no la segunda", 5); !ok || got != 4 {
		t.Errorf("ParseSlotSelection = (%d, %v), want (4, true)", got, ok)
	}
}

func TestLooksLikeSlotSelection(t *testing.T) {
	if !LooksLikeSlotSelection("la segunda") {
		t.Error("ordinal must look like a selection")
	}
	if LooksLikeSlotSelection("quiero llenar el restaurante") {
		t.Error("plain prose must not look like a selection")
	}
}
