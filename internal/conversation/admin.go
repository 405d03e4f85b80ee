package conversation

import (
	"context"
	"strings"

	"github.com/roelfdiedericks/reportbot/internal/access"
	. "github.com/roelfdiedericks/reportbot/internal/logging"
	"github.com/roelfdiedericks/reportbot/internal/messaging"
	"github.com/roelfdiedericks/reportbot/internal/session"
)

// grantable are the roles an admin can assign through role buttons.
var grantable = map[access.Role]bool{
	access.RoleViewer:     true,
	access.RoleAdmin:      true,
	access.RoleSuperadmin: true,
	access.RoleBlocked:    true,
}

var roleButtonTitles = map[access.Role]string{
	access.RoleSuperadmin: "⬆️ Super",
	access.RoleAdmin:      "👮‍♂️ Admin",
	access.RoleViewer:     "👁️ Viewer",
	access.RoleBlocked:    "🚫 Block",
}

func roleChoice(role access.Role, address string) string {
	return ChoiceRolePrefix + string(role) + "_" + address
}

// parseRoleChoice splits ADM_ROLE_<ROLE>_<address>. Addresses may contain
// underscores (tg_123), roles do not.
func parseRoleChoice(id string) (role string, address string, ok bool) {
	rest, ok := strings.CutPrefix(id, ChoiceRolePrefix)
	if !ok {
		return "", "", false
	}
	role, address, ok = strings.Cut(rest, "_")
	if !ok || role == "" || address == "" {
		return "", "", false
	}
	return role, address, true
}

func (e *Engine) isAdminRequest(in messaging.Inbound) bool {
	if in.Kind == messaging.InboundText {
		return e.admin.match(in.Text)
	}
	if !in.IsChoice() {
		return false
	}
	switch in.ChoiceID {
	case ChoiceAdminListPending, ChoiceAdminListAll, ChoiceAdminBroadcast, ChoiceAdminStats, ChoiceAdminClose:
		return true
	}
	return strings.HasPrefix(in.ChoiceID, ChoiceRolePrefix)
}

func (e *Engine) handleAdmin(ctx context.Context, t *turn) error {
	if t.in.Kind == messaging.InboundText {
		L_info("conversation: admin panel opened", "from", t.key, "role", t.role)
		e.showAdminPanel(ctx, t)
		return nil
	}

	switch id := t.in.ChoiceID; id {
	case ChoiceAdminListPending:
		e.listPending(ctx, t)
	case ChoiceAdminListAll:
		e.listAll(ctx, t)
	case ChoiceAdminBroadcast:
		return e.startBroadcast(ctx, t)
	case ChoiceAdminStats:
		e.showStats(ctx, t)
	case ChoiceAdminClose:
		e.text(ctx, t, textAdminClosed)
	default:
		e.changeRole(ctx, t, id)
	}
	return nil
}

func (e *Engine) showAdminPanel(ctx context.Context, t *turn) {
	e.deps.Sender.SendList(ctx, t.addr, textAdminPanel, textAdminPanelLabel, messaging.Section{
		Title: "Administración",
		Rows: []messaging.Row{
			{ID: ChoiceAdminListPending, Title: "📋 Ver Pendientes", Description: "Solicitudes de acceso"},
			{ID: ChoiceAdminListAll, Title: "👥 Ver Todos", Description: "Usuarios y roles"},
			{ID: ChoiceAdminBroadcast, Title: "📢 Difusión", Description: "Mensaje a todos los usuarios"},
			{ID: ChoiceAdminStats, Title: "📊 Estadísticas", Description: "Estado del sistema"},
			{ID: ChoiceAdminClose, Title: "❌ Salir", Description: "Cerrar el panel"},
		},
	})
}

func (e *Engine) listPending(ctx context.Context, t *turn) {
	pending, err := e.deps.Gateway.ListPending(ctx)
	if err != nil {
		L_error("conversation: list pending failed", "error", err)
		e.text(ctx, t, textAdminUnavailable)
		return
	}
	if len(pending) == 0 {
		e.text(ctx, t, textNoPending)
		return
	}
	for _, u := range pending {
		e.deps.Sender.SendButtons(ctx, t.addr, textPendingCard(u.DisplayName, u.Address, u.CreatedAt),
			messaging.Button{ID: roleChoice(access.RoleViewer, u.Address), Title: "✅ Aprobar (Viewer)"},
			messaging.Button{ID: roleChoice(access.RoleAdmin, u.Address), Title: "👮‍♂️ Hacer Admin"},
			messaging.Button{ID: roleChoice(access.RoleBlocked, u.Address), Title: "🚫 Bloquear"},
		)
	}
}

// roleButtons returns the role changes actor may apply to a user holding
// current, at most messaging.MaxButtons.
func roleButtons(actor access.Role, current access.Role, address string) []messaging.Button {
	if current == access.RoleSuperadmin && actor != access.RoleSuperadmin {
		return nil
	}
	order := []access.Role{access.RoleSuperadmin, access.RoleAdmin, access.RoleViewer, access.RoleBlocked}
	var buttons []messaging.Button
	for _, r := range order {
		if r == current || (r == access.RoleSuperadmin && actor != access.RoleSuperadmin) {
			continue
		}
		buttons = append(buttons, messaging.Button{ID: roleChoice(r, address), Title: roleButtonTitles[r]})
		if len(buttons) == messaging.MaxButtons {
			break
		}
	}
	return buttons
}

func (e *Engine) listAll(ctx context.Context, t *turn) {
	users, err := e.deps.Gateway.ListAll(ctx)
	if err != nil {
		L_error("conversation: list users failed", "error", err)
		e.text(ctx, t, textAdminUnavailable)
		return
	}
	if len(users) == 0 {
		e.text(ctx, t, textNoUsers)
		return
	}

	e.text(ctx, t, textUsersFound(len(users)))
	for _, u := range users {
		card := textUserCard(u.DisplayName, u.Address, string(u.Role))
		if u.Address == t.key {
			e.text(ctx, t, card+"\n(Eres tú 👑)")
			continue
		}
		buttons := roleButtons(t.role, u.Role, u.Address)
		if len(buttons) == 0 {
			e.text(ctx, t, card)
			continue
		}
		e.deps.Sender.SendButtons(ctx, t.addr, card, buttons...)
	}
}

func (e *Engine) changeRole(ctx context.Context, t *turn, choice string) {
	roleName, target, ok := parseRoleChoice(choice)
	role := access.Role(roleName)
	if !ok || !grantable[role] {
		L_warn("conversation: bad role change request", "from", t.key, "choice", choice)
		e.text(ctx, t, textUnknownRole)
		return
	}
	target = messaging.NormalizeKey(target)
	if target == t.key {
		e.text(ctx, t, textSelfRoleChange)
		return
	}

	current, found, err := e.currentRole(ctx, target)
	if err != nil {
		L_error("conversation: role lookup failed", "target", target, "error", err)
		e.text(ctx, t, textAdminUnavailable)
		return
	}
	if !found {
		e.text(ctx, t, textUserNotFound)
		return
	}
	if (role == access.RoleSuperadmin || current == access.RoleSuperadmin) && t.role != access.RoleSuperadmin {
		L_warn("conversation: superadmin change denied", "from", t.key, "target", target, "role", role)
		e.text(ctx, t, textSuperadminOnly)
		return
	}

	updated, err := e.deps.Gateway.SetRole(ctx, target, role)
	if err != nil {
		L_error("conversation: set role failed", "target", target, "role", role, "error", err)
		e.text(ctx, t, textAdminUnavailable)
		return
	}
	if !updated {
		e.text(ctx, t, textUserNotFound)
		return
	}
	L_info("conversation: role changed", "by", t.key, "target", target, "from", current, "to", role)
	e.text(ctx, t, textRoleUpdated(target, string(role)))

	// best effort, the target may be unreachable
	if res := e.deps.Sender.SendText(ctx, messaging.ParseAddress(target), textRoleNotice(string(role))); !res.OK {
		L_debug("conversation: role notice not delivered", "target", target, "error", res.Diagnostic)
	}
}

func (e *Engine) currentRole(ctx context.Context, address string) (access.Role, bool, error) {
	users, err := e.deps.Gateway.ListAll(ctx)
	if err != nil {
		return "", false, err
	}
	for _, u := range users {
		if u.Address == address {
			return u.Role, true, nil
		}
	}
	return "", false, nil
}

func (e *Engine) showStats(ctx context.Context, t *turn) {
	stats, err := e.deps.Gateway.Stats(ctx)
	if err != nil {
		L_error("conversation: stats failed", "error", err)
		e.text(ctx, t, textStatsFailed)
		return
	}
	view := statsView{
		Uptime:     e.Uptime(),
		Users:      stats.Users,
		Pending:    stats.PendingUsers,
		Queue:      stats.QueueDepth,
		Sessions:   e.deps.Sessions.Count(),
		IdleTimers: e.idle.Len(),
		Version:    e.cfg.Version,
	}
	if e.deps.Reports != nil {
		view.Running = e.deps.Reports.InFlight()
	}
	L_debug("conversation: stats requested", "by", t.key, "users", view.Users, "sessions", view.Sessions)
	e.text(ctx, t, textStats(view))
}

// broadcastExitStep is where an admin lands after the broadcast sub-flow.
func broadcastExitStep(s session.Session) session.Step {
	if s.Consent == session.ConsentAccepted {
		return session.StepReady
	}
	return session.StepNew
}
