package conversation

import (
	"fmt"
	"strings"

	"github.com/velasquezhn3/chatbotwhatsapp/internal/domain/billing"
	"github.com/velasquezhn3/chatbotwhatsapp/pkg/timeutil"
)

// User-facing texts. The school serves Honduran families, so everything the
// bot says is Spanish; amounts are rendered in lempiras.

const (
	msgGreeting = "¡Hola! 👋 Soy el asistente de pagos del colegio.\n" +
		"Escriba *menu* en cualquier momento para volver al menú principal."

	msgInvalidOption = "Opción no válida. Por favor elija un número del menú."

	msgAskID = "Escriba el número de identidad del estudiante (13 dígitos, sin guiones)."

	msgInvalidID = "El número de identidad debe tener exactamente 13 dígitos. Intente de nuevo."

	msgStudentNotFound = "No encontramos un estudiante con ese número de identidad. " +
		"Verifique el número e intente de nuevo, o escriba *menu* para volver."

	msgInvalidPIN = "PIN incorrecto. Intente de nuevo o escriba *menu* para volver."

	msgNoStudents = "Usted no tiene estudiantes registrados. " +
		"Elija la opción 2 del menú para registrar uno."

	msgInvalidSelection = "Selección no válida. Responda con el número que aparece en la lista."

	msgServiceUnavailable = "En este momento no podemos consultar el sistema de pagos. " +
		"Por favor intente más tarde."

	msgBroadcastDenied = "No tiene permiso para enviar avisos."

	msgBroadcastPrompt = "Envíe el mensaje (texto o archivo) que desea difundir a todos los encargados."

	msgBroadcastUsage = "Escriba el aviso después del comando, por ejemplo: /aviso Mañana no hay clases."

	panelSchedule = "🕐 *Horario de atención*\n" +
		"Lunes a viernes: 7:00 a.m. – 3:00 p.m.\n" +
		"Sábados: 8:00 a.m. – 11:30 a.m.\n" +
		"Administración: oficina principal, planta baja."

	panelPayments = "💳 *Formas de pago*\n" +
		"• Transferencia o depósito a la cuenta del colegio (enviar comprobante en administración).\n" +
		"• Pago en efectivo o tarjeta en la oficina administrativa.\n" +
		"• La mensualidad vence el día 11 de cada mes; después aplica un recargo del 5%."
)

// mainMenu renders the numeric menu. The broadcast option only appears for
// administrators.
func mainMenu(admin bool) string {
	var b strings.Builder
	b.WriteString("📋 *Menú principal*\n")
	b.WriteString("1. Consultar estado de pago\n")
	b.WriteString("2. Registrar estudiante\n")
	b.WriteString("3. Eliminar estudiante registrado\n")
	b.WriteString("4. Horario de atención\n")
	b.WriteString("5. Formas de pago\n")
	if admin {
		b.WriteString("6. Enviar aviso a todos los encargados\n")
	}
	b.WriteString("\nResponda con el número de la opción.")
	return b.String()
}

func msgAskPIN(name string) string {
	return fmt.Sprintf("Estudiante encontrado: *%s*.\nEscriba el PIN de registro entregado por administración.", name)
}

func msgRegistered(name string) string {
	return fmt.Sprintf("✅ *%s* quedó registrado correctamente. Ya puede consultar su estado de pago.", name)
}

func msgRemoved(name string) string {
	return fmt.Sprintf("🗑️ Se eliminó el registro de *%s*.", name)
}

// candidateList renders a numbered pick list.
func candidateList(header string, labels []string) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n")
	for i, label := range labels {
		fmt.Fprintf(&b, "%d. %s\n", i+1, label)
	}
	b.WriteString("\nResponda con el número correspondiente.")
	return b.String()
}

// debtSummary renders the ledger status panel for one student.
func debtSummary(name string, s billing.Summary) string {
	if s.IsCurrent {
		return fmt.Sprintf("✅ *%s* está al día con sus pagos. ¡Gracias!", name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📄 *Estado de pago de %s*\n", name)
	fmt.Fprintf(&b, "Mensualidad: L. %s\n", s.MonthlyAmount.StringFixed(2))
	fmt.Fprintf(&b, "Meses pendientes: %s\n", strings.Join(s.PendingPeriods, ", "))
	fmt.Fprintf(&b, "Monto pendiente: L. %s\n", s.TotalPendingAmount.StringFixed(2))
	fmt.Fprintf(&b, "Recargo por mora: L. %s\n", s.TotalLateFee.StringFixed(2))
	fmt.Fprintf(&b, "*Total a pagar: L. %s*\n", s.TotalDue.StringFixed(2))
	fmt.Fprintf(&b, "Fecha límite del mes en curso: %s", timeutil.FormatDate(s.NextDueDate))
	return b.String()
}
