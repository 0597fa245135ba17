package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/outletmedia/leadpipe/internal/models"
)

// phrasingSystemPrompt steers the persona model when rephrasing a
// templated reply. The rewrite must preserve meaning; on any model
// failure the template is sent as-is.
const phrasingSystemPrompt = `Eres María, asesora de Outlet Media, una agencia de marketing digital.
Reescribe el mensaje que recibas con un tono cálido, profesional y breve, en español.
No cambies el significado, no inventes datos, no agregues preguntas nuevas.
Si el mensaje contiene una lista numerada de horarios, consérvala exactamente igual.
Responde únicamente con el mensaje reescrito.`

var askTemplates = map[models.FactField]string{
	models.FieldName:         "¡Hola! Soy María, de Outlet Media 😊 ¿Cómo te llamas?",
	models.FieldBusinessType: "¿Qué tipo de negocio tienes?",
	models.FieldProblem:      "Cuéntame, ¿cuál es el mayor reto que tiene tu negocio en este momento?",
	models.FieldGoal:         "Entiendo. ¿Y qué te gustaría lograr en los próximos meses?",
	models.FieldBudget:       "Perfecto. Para recomendarte el plan correcto, ¿cuánto tienes pensado invertir al mes en marketing?",
	models.FieldEmail:        "¡Excelente! ¿Me compartes tu correo electrónico para enviarte la información de tu cita?",
}

const (
	declineReply = "Gracias por tu interés 🙏 Por el momento nuestros planes comienzan en $300 USD al mes, " +
		"así que no seríamos la mejor opción para ti todavía. Te dejaré contenido gratuito para que sigas " +
		"creciendo y con gusto te contacto cuando estés listo para dar el siguiente paso."

	bookingFailedReply = "Lo siento, no pude agendar esa opción 😕 ¿Puedes elegir otro horario de la lista?"

	clarifySelectionReply = "No logré identificar qué opción prefieres. Respóndeme con el número del horario, por ejemplo: 1"

	bookedFollowUpReply = "¡Tu cita ya está agendada! ✅ Si necesitas cambiarla o tienes otra pregunta, aquí estoy para ayudarte."

	declinedFollowUpReply = "¡Gracias por escribirme! Cuando tu presupuesto de marketing llegue a los $300 USD " +
		"al mes, escríbeme y con gusto armamos un plan para tu negocio."

	genericReply = "¡Gracias por tu mensaje! ¿Hay algo más que quieras contarme sobre tu negocio?"

	noSlotsReply = "Por ahora no veo horarios disponibles en la agenda 😕 Déjame revisarlo con el equipo y te escribo en cuanto se abra un espacio."
)

func askReply(field models.FactField, facts models.Facts) string {
	reply, ok := askTemplates[field]
	if !ok {
		return genericReply
	}
	if field == models.FieldProblem && facts.Name != "" {
		return fmt.Sprintf("¡Mucho gusto, %s! %s", firstName(facts.Name), reply)
	}
	return reply
}

func calendarReply(slots []models.Slot) string {
	var b strings.Builder
	b.WriteString("¡Perfecto! Estos son los horarios disponibles para tu llamada con nuestro equipo:\n\n")
	for i, slot := range slots {
		fmt.Fprintf(&b, "%d. %s\n", i+1, slot.Display)
	}
	b.WriteString("\nRespóndeme con el número de la opción que prefieras 📅")
	return b.String()
}

func bookingConfirmedReply(name, display string) string {
	if name != "" {
		return fmt.Sprintf("¡Listo, %s! 🎉 Tu cita quedó agendada para %s. Te llegará la confirmación por correo.", firstName(name), display)
	}
	return fmt.Sprintf("¡Listo! 🎉 Tu cita quedó agendada para %s. Te llegará la confirmación por correo.", display)
}

func firstName(full string) string {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return full
	}
	return parts[0]
}

var spanishDays = [...]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}

var spanishMonths = [...]string{"", "enero", "febrero", "marzo", "abril", "mayo", "junio",
	"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre"}

// FormatSlotDisplay renders a slot start time in conversational Spanish,
// e.g. "lunes 2 de septiembre, 10:00 AM".
func FormatSlotDisplay(t time.Time, loc *time.Location) string {
	local := t.In(loc)
	hour := local.Hour() % 12
	if hour == 0 {
		hour = 12
	}
	meridiem := "AM"
	if local.Hour() >= 12 {
		meridiem = "PM"
	}
	return fmt.Sprintf("%s %d de %s, %d:%02d %s",
		spanishDays[local.Weekday()], local.Day(), spanishMonths[local.Month()],
		hour, local.Minute(), meridiem)
}
