package conversation

import (
	"context"

	"github.com/roelfdiedericks/reportbot/internal/access"
	. "github.com/roelfdiedericks/reportbot/internal/logging"
	"github.com/roelfdiedericks/reportbot/internal/messaging"
	"github.com/roelfdiedericks/reportbot/internal/report"
)

const (
	menuLabel        = "📍 Ver reportes"
	menuSectionTitle = "Reportes disponibles"
	fullReportLabel  = "COMPLETO (TODAS)"
)

func (e *Engine) entitlement(t *turn) access.Entitlement {
	if e.deps.Policy == nil {
		if t.role == access.RoleSuperadmin {
			return access.Entitlement{All: true}
		}
		return access.Entitlement{}
	}
	return e.deps.Policy.Resolve(t.key, t.role)
}

// menuRows lists the report options ent may request, full report first.
func (e *Engine) menuRows(ent access.Entitlement) []messaging.Row {
	var rows []messaging.Row
	if ent.All {
		rows = append(rows, messaging.Row{ID: ChoiceFullReport, Title: "📊 Reporte completo", Description: "Todos los puntos y zonas"})
	}
	for _, z := range e.cfg.Zones {
		if ent.Allows(z.Name) {
			rows = append(rows, messaging.Row{ID: z.ID, Title: z.Title, Description: z.Description})
		}
	}
	return rows
}

func (e *Engine) showMenu(ctx context.Context, t *turn) error {
	rows := e.menuRows(e.entitlement(t))
	if len(rows) == 0 {
		e.text(ctx, t, textNoZones)
		return nil
	}
	e.deps.Sender.SendList(ctx, t.addr, textMenu(t.name()), menuLabel,
		messaging.Section{Title: menuSectionTitle, Rows: rows})
	return nil
}

// handleReportChoice validates a menu selection, runs the report and closes
// the conversation.
func (e *Engine) handleReportChoice(ctx context.Context, t *turn, choice string) error {
	ent := e.entitlement(t)
	if ent.Empty() {
		e.text(ctx, t, textNoPermission)
		return nil
	}

	var zone, label string
	if choice == ChoiceFullReport {
		if !ent.All {
			L_warn("conversation: full report denied", "from", t.key, "role", t.role)
			e.text(ctx, t, textNoFullReport)
			return nil
		}
		label = fullReportLabel
	} else {
		z, ok := e.zones[choice]
		if !ok {
			e.text(ctx, t, textUnknownZone)
			return nil
		}
		if !ent.Allows(z.Name) {
			L_warn("conversation: zone denied", "from", t.key, "zone", z.Name, "entitled", ent.ZoneNames())
			e.text(ctx, t, textNoZoneAccess)
			return nil
		}
		zone, label = z.Name, z.Name
	}

	e.text(ctx, t, textGenerating(label))

	res, err := e.deps.Reports.Run(ctx, report.Request{Target: t.addr, Kind: e.cfg.ReportKind, Zone: zone}, e.cfg.ReportTimeout)
	switch {
	case err != nil:
		L_warn("conversation: report failed", "from", t.key, "zone", label, "error", err)
		e.text(ctx, t, textReportFailed)
	case res == nil || !res.OK:
		L_warn("conversation: report delivery incomplete", "from", t.key, "zone", label)
		e.text(ctx, t, textReportFailed)
	default:
		e.text(ctx, t, textReportDone)
	}
	return e.forceClose(ctx, t)
}
