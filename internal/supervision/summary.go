package supervision

import (
	"fmt"
	"strconv"
	"strings"
)

// MapLink returns the maps URL for coords, or the not-available label.
func MapLink(coords *Coordinates) string {
	if coords == nil {
		return "No disponible"
	}
	return fmt.Sprintf("https://maps.google.com/?q=%s,%s", formatCoord(coords.Lat), formatCoord(coords.Lon))
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Summary composes the header message of a finalized supervision.
func Summary(s *Session, catalog Catalog) string {
	var b strings.Builder
	b.WriteString("📋 SUPERVISIÓN FINALIZADA\n\n")
	fmt.Fprintf(&b, "👷 Supervisor: %s\n", s.Supervisor)
	fmt.Fprintf(&b, "🏢 Operador: %s\n", s.Operator)
	fmt.Fprintf(&b, "🧾 Código de pedido: %s\n", s.OrderCode)
	fmt.Fprintf(&b, "🔥 Tipo de supervisión: %s\n\n", catalog.TypeLabel(s.Type))
	fmt.Fprintf(&b, "📍 Ubicación:\n%s\n", MapLink(s.Coords))
	if !s.Template.Empty() {
		t := s.Template
		b.WriteString("\n🧩 Datos de Plantilla:\n")
		fmt.Fprintf(&b, "• Técnico: %s\n", t.Technician)
		fmt.Fprintf(&b, "• Contrata: %s\n", t.Contractor)
		fmt.Fprintf(&b, "• Distrito: %s\n", t.District)
		fmt.Fprintf(&b, "• Gestor: %s\n", t.Manager)
		fmt.Fprintf(&b, "• PlantillaUUID: %s\n", t.TemplateID)
	}
	b.WriteString("\n📝 Observaciones finales:\n")
	b.WriteString(s.FinalText)
	return b.String()
}

// sectionTitle is the header sent before a section's media.
func sectionTitle(section Section, code, observation string) string {
	var title string
	switch section {
	case SectionFacade:
		title = "🧱 FACHADA"
	case SectionWiring:
		title = "🏗️ CABLEADO - " + code
	case SectionCrew:
		title = "👷‍♂️ CUADRILLA - " + code
	case SectionOptional:
		title = "🚨 OPCIONALES"
	}
	if observation != "" {
		title += "\n📝 Obs: " + observation
	}
	return title
}

// Row flattens the session into a record row keyed by column name.
func Row(s *Session, catalog Catalog, date string) map[string]string {
	row := map[string]string{
		"Técnico":             s.Template.Technician,
		"Tipo de supervisión": catalog.TypeLabel(s.Type),
		"Código de pedido":    s.OrderCode,
		"Contrata":            s.Template.Contractor,
		"Fecha":               date,
		"Distrito":            s.Template.District,
		"Supervisor":          s.Supervisor,
		"Operador":            s.Operator,
		"Gestor":              s.Template.Manager,
		"Resultado":           "",
		"Correo":              "",
	}
	for _, code := range s.Wiring.Codes() {
		if col, ok := catalog.Column(SectionWiring, code); ok {
			b, _ := s.Wiring.Get(code)
			row[col] = b.Observation
		}
	}
	for _, code := range s.Crew.Codes() {
		if col, ok := catalog.Column(SectionCrew, code); ok {
			b, _ := s.Crew.Get(code)
			row[col] = b.Observation
		}
	}
	row["Observaciones ADICIONALES"] = s.Optional.Observation
	row["Observaciones FINALES"] = s.FinalText
	row["PlantillaUUID"] = s.Template.TemplateID
	return row
}
