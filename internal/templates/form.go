// Package templates parses order forms pasted into audit groups and keeps
// them so a later supervision of the same order code is prefilled.
package templates

import (
	"regexp"
	"strings"
	"time"
)

// BlankForm is sent by the template command for operators to fill in.
const BlankForm = "📌 Copia/pega esta plantilla y envíala COMPLETA en un solo mensaje.\n\n" +
	"Tipo de supervisión:\n" +
	"Tipificación:\n" +
	"Teléfono:\n" +
	"DNI:\n" +
	"Cliente:\n" +
	"Código pedido:\n" +
	"Dirección:\n" +
	"Distrito:\n" +
	"Plan:\n" +
	"CTO1:\n" +
	"Técnico:\n" +
	"Contrata:\n" +
	"Gestor:\n"

// TimeLayout formats the template timestamp column.
const TimeLayout = "2006-01-02 15:04:05"

var formLabel = regexp.MustCompile(`(?im)c[oó]digo\s+pedido\s*:`)

// Detect reports whether text looks like a filled form.
func Detect(text string) bool {
	return formLabel.MatchString(text)
}

// Form holds the fields of a pasted form used downstream.
type Form struct {
	OrderCode  string
	Technician string
	Contractor string
	District   string
	Manager    string
}

// Parse extracts the known fields by line label. Missing fields are empty.
func Parse(text string) Form {
	text = strings.TrimSpace(text)
	return Form{
		OrderCode:  pick(text, "Código pedido", "Codigo pedido"),
		Technician: pick(text, "Técnico", "Tecnico"),
		Contractor: pick(text, "Contrata"),
		District:   pick(text, "Distrito"),
		Manager:    pick(text, "Gestor"),
	}
}

// pick returns the value after the first label found at a line start.
func pick(text string, labels ...string) string {
	for _, label := range labels {
		re := regexp.MustCompile(`(?im)^` + regexp.QuoteMeta(label) + `\s*:[ \t]*(.+)$`)
		if m := re.FindStringSubmatch(text); m != nil {
			if v := strings.TrimSpace(m[1]); v != "" {
				return v
			}
		}
	}
	return ""
}

// Record is a captured form with its origin.
type Record struct {
	UUID      string
	Chat      string
	User      string
	Form      Form
	Raw       string
	CreatedAt time.Time
}

// Row returns the record as template table columns.
func (r Record) Row(loc *time.Location) map[string]string {
	if loc == nil {
		loc = time.UTC
	}
	return map[string]string{
		"FechaPlantilla": r.CreatedAt.In(loc).Format(TimeLayout),
		"ChatID":         r.Chat,
		"UsuarioID":      r.User,
		"CódigoPedido":   r.Form.OrderCode,
		"Técnico":        r.Form.Technician,
		"Contrata":       r.Form.Contractor,
		"Distrito":       r.Form.District,
		"Gestor":         r.Form.Manager,
		"PlantillaRaw":   r.Raw,
		"PlantillaUUID":  r.UUID,
	}
}
