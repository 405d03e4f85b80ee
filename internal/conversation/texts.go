package conversation

import (
	"fmt"
	"strings"
	"time"
)

// Choice ids. They travel through the channels as button and row ids and
// must stay stable.
const (
	ChoiceConsentAccept  = "CONSENT_ACCEPT"
	ChoiceConsentDecline = "CONSENT_DECLINE"
	ChoiceReopen         = "REOPEN_FLOW"
	ChoiceClose          = "CLOSE_FLOW"
	ChoiceFullReport     = "RP_FULL"

	ChoiceAdminListPending = "ADMIN_LIST_PENDING"
	ChoiceAdminListAll     = "ADMIN_LIST_ALL"
	ChoiceAdminBroadcast   = "ADMIN_BROADCAST"
	ChoiceAdminStats       = "ADMIN_STATS"
	ChoiceAdminClose       = "ADM_CLOSE"
	ChoiceRolePrefix       = "ADM_ROLE_"

	ChoiceBroadcastYes = "BROADCAST_YES"
	ChoiceBroadcastNo  = "BROADCAST_NO"
)

// defaultName is used when a channel gives no display name.
const defaultName = "Usuario"

const (
	textServiceUnavailable = "⚠️ Servicio no disponible en este momento. Intenta nuevamente en unos minutos."
	textUnknownCommand     = "Comando no reconocido. Escribe *menu* para ver opciones."
	textPendingApproval    = "🔒 Tu usuario está *pendiente de aprobación* por un administrador.\nTe notificaremos apenas tengas acceso."

	textConsentUseButtons = "Por favor selecciona una opción con los botones: ✅ Acepto / ❌ No acepto."
	textConsentInvalid    = "Selecciona una opción válida: ✅ Acepto / ❌ No acepto."
	textConsentDeclined   = "Entendido. ❌ Sin aceptación de términos y privacidad no puedo continuar.\n\nSi cambias de opinión, escribe *Hola*."
	textBlockedRefusal    = "❌ No puedo continuar sin aceptación. Escribe *Hola* para volver a intentarlo."

	textMenuReminder = "Escribe *menu* para ver los reportes."
	textNoZones      = "🚫 No tienes zonas asignadas. Contacta al administrador."
	textNoPermission = "🚫 No tienes permisos para ejecutar reportes."
	textNoFullReport = "🚫 No tienes permisos para generar el *reporte completo*."
	textNoZoneAccess = "🚫 No tienes permisos para ver esa zona."
	textUnknownZone  = "Opción no reconocida. Escribe *menu* para ver los reportes."
	textReportDone   = "✅ Listo."
	textReportFailed = "⚠️ No pude enviar el reporte completo.\nIntenta nuevamente con *menu*."

	textReopenPrompt = "✅ Conversación cerrada por inactividad. ¿Deseas abrir nuevamente el flujo?"
	textGoodbye      = "✅ Perfecto. Quedo atento cuando lo necesites. 🙌"

	textAdminPanel       = "🛡️ *Panel de Administrador IT*\nSelecciona una acción:"
	textAdminPanelLabel  = "🛡️ Acciones"
	textAdminClosed      = "👋 Panel cerrado."
	textNoPending        = "✅ No hay usuarios pendientes de aprobación."
	textNoUsers          = "✅ No hay usuarios registrados."
	textUnknownRole      = "⚠️ Rol no reconocido."
	textSelfRoleChange   = "⚠️ No puedes cambiar tu propio rol."
	textSuperadminOnly   = "🚫 Solo un *SUPERADMIN* puede asignar o retirar ese rol."
	textUserNotFound     = "⚠️ Usuario no encontrado."
	textAdminUnavailable = "⚠️ No pude consultar los usuarios. Intenta nuevamente."
	textStatsFailed      = "⚠️ Error obteniendo estadísticas."

	textBroadcastAsk        = "📢 *Modo Difusión*\n\nEscribe el mensaje que deseas enviar a todos los usuarios:"
	textBroadcastWaiting    = "⚠️ Estoy esperando el texto del mensaje para la difusión.\nEscribe *cancelar* para salir."
	textBroadcastCancelled  = "📢 Difusión cancelada."
	textBroadcastMenuCancel = "📢 Difusión cancelada via menú."
	textBroadcastStarting   = "⏳ Iniciando difusión global..."
)

func textConsentPrompt(name string) string {
	return fmt.Sprintf("👋 Hola, *%s*.\n\n"+
		"Antes de continuar, necesito tu autorización para el tratamiento de datos según nuestros "+
		"*Términos y Condiciones* y *Política de Privacidad*.\n\n¿Aceptas?", name)
}

func textMenu(name string) string {
	return fmt.Sprintf("📍 *Reporte Puntos*\n\nHola *%s*, selecciona el reporte que necesitas:", name)
}

func textGreetingReminder(name string) string {
	return fmt.Sprintf("✅ Hola %s. Escribe *menu* para ver los reportes.", name)
}

func textGenerating(label string) string {
	return fmt.Sprintf("⏳ Generando reporte *%s*...", label)
}

func textPendingCard(name, address string, created time.Time) string {
	return fmt.Sprintf("👤 *Solicitud de Acceso*\n\n*Nombre:* %s\n*ID:* `%s`\n*Fecha:* %s",
		name, address, created.Local().Format("2006-01-02 15:04"))
}

func textUserCard(name, address, role string) string {
	return fmt.Sprintf("👤 *Usuario: %s*\nID: `%s`\nRol: *%s*", name, address, role)
}

func textUsersFound(n int) string {
	return fmt.Sprintf("👥 Encontrados %d usuarios.", n)
}

func textRoleUpdated(address, role string) string {
	return fmt.Sprintf("✅ Usuario %s actualizado a rol: *%s*.", address, role)
}

func textRoleNotice(role string) string {
	return fmt.Sprintf("👮‍♂️ Tu nivel de acceso ha sido actualizado a: *%s*.\nEscribe *menu* para ver tus opciones.", role)
}

func textBroadcastConfirm(draft string) string {
	return fmt.Sprintf("📢 *Confirmar Difusión*\n\nMensaje:\n_\"%s\"_\n\n¿Enviar a TODOS los usuarios activos?", draft)
}

func textAnnouncement(draft string) string {
	return "📢 *Anuncio Importante:*\n\n" + draft
}

func textBroadcastDone(ok, failed int) string {
	return fmt.Sprintf("✅ *Difusión Completada*\n\nExitosos: %d\nFallidos: %d", ok, failed)
}

// statsView is what the stats screen shows.
type statsView struct {
	Uptime     time.Duration
	Users      int
	Pending    int
	Queue      int
	Running    int
	Sessions   int
	IdleTimers int
	Version    string
}

func textStats(s statsView) string {
	var b strings.Builder
	b.WriteString("📊 *Estadísticas del Sistema*\n\n")
	fmt.Fprintf(&b, "⏱️ *Uptime:* %s\n", formatUptime(s.Uptime))
	fmt.Fprintf(&b, "👥 *Usuarios Totales:* %d\n", s.Users)
	fmt.Fprintf(&b, "⏳ *Usuarios Pendientes:* %d\n", s.Pending)
	fmt.Fprintf(&b, "📨 *Cola Reportes:* %d\n", s.Queue)
	fmt.Fprintf(&b, "⚙️ *Reportes en curso:* %d\n", s.Running)
	fmt.Fprintf(&b, "💬 *Sesiones activas:* %d\n", s.Sessions)
	fmt.Fprintf(&b, "⏲️ *Temporizadores:* %d\n", s.IdleTimers)
	fmt.Fprintf(&b, "🤖 *Versión:* %s", s.Version)
	return b.String()
}

// formatUptime renders d as HH:MM:SS; hours may exceed 99.
func formatUptime(d time.Duration) string {
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}
