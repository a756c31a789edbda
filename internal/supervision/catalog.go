package supervision

import "fmt"

// Item is one selectable evidence bucket.
type Item struct {
	Code   string
	Label  string
	Column string // record column for the bucket's observation
}

// SectionCatalog lists the buckets of the wiring or crew menu.
type SectionCatalog struct {
	Finish string // code that returns to the main menu
	Items  []Item
}

// Find returns the item with the given code.
func (sc SectionCatalog) Find(code string) (Item, bool) {
	for _, it := range sc.Items {
		if it.Code == code {
			return it, true
		}
	}
	return Item{}, false
}

// Catalog is the fixed option data the workflow offers.
type Catalog struct {
	Supervisors []string
	Operators   []string
	HotLabel    string
	ColdLabel   string
	Wiring      SectionCatalog
	Crew        SectionCatalog
}

// TypeLabel returns the display label for t.
func (c Catalog) TypeLabel(t SupervisionType) string {
	switch t {
	case TypeHot:
		return c.HotLabel
	case TypeCold:
		return c.ColdLabel
	}
	return string(t)
}

// Column returns the record column for a bucket's observation.
func (c Catalog) Column(section Section, code string) (string, bool) {
	var sc SectionCatalog
	switch section {
	case SectionWiring:
		sc = c.Wiring
	case SectionCrew:
		sc = c.Crew
	default:
		return "", false
	}
	it, ok := sc.Find(code)
	if !ok || it.Column == "" {
		return "", false
	}
	return it.Column, true
}

// Validate checks the catalog can drive every menu.
func (c Catalog) Validate() error {
	switch {
	case len(c.Supervisors) == 0:
		return fmt.Errorf("supervision: catalog: no supervisors")
	case len(c.Operators) == 0:
		return fmt.Errorf("supervision: catalog: no operators")
	case len(c.Wiring.Items) == 0 || c.Wiring.Finish == "":
		return fmt.Errorf("supervision: catalog: wiring section needs items and a finish code")
	case len(c.Crew.Items) == 0 || c.Crew.Finish == "":
		return fmt.Errorf("supervision: catalog: crew section needs items and a finish code")
	}
	return nil
}

// ObservationColumn is the default column name for an item label.
func ObservationColumn(label string) string {
	return "Observaciones " + label
}

func item(code, label string) Item {
	return Item{Code: code, Label: label, Column: ObservationColumn(label)}
}

// DefaultCatalog returns the built-in option data.
func DefaultCatalog() Catalog {
	return Catalog{
		Supervisors: []string{"NELSON CECCATO", "HARNOL CASTAÑEDA", "EDGAR GARCIA", "JASSER RAFAELE"},
		Operators:   []string{"WIN", "TU FIBRA"},
		HotLabel:    "CALIENTE",
		ColdLabel:   "FRIO",
		Wiring: SectionCatalog{
			Finish: "FIN_CABLEADO",
			Items: []Item{
				item("CTO", "CTO"),
				item("POSTE", "POSTE"),
				item("RUTA", "RUTA"),
				item("FALSO_TRAMO", "FALSO TRAMO"),
				item("ANCLAJE", "ANCLAJE"),
				item("RESERVA", "RESERVA DOMICILIO"),
				item("ROSETA", "ROSETA"),
				item("EQUIPOS", "EQUIPOS"),
			},
		},
		Crew: SectionCatalog{
			Finish: "FIN_CUADRILLA",
			Items: []Item{
				{Code: "FOTO_TECNICOS", Label: "FOTO TECNICOS", Column: "Observaciones TECNICOS"},
				item("SCTR", "SCTR"),
				item("ATS", "ATS"),
				item("LICENCIA", "LICENCIA"),
				item("UNIDAD", "UNIDAD"),
				item("SOAT", "SOAT"),
				item("HERRAMIENTAS", "HERRAMIENTAS"),
				item("KIT_FIBRA", "KIT DE FIBRA"),
				item("ESCALERA_TEL", "ESCALERA TELESCOPICA"),
				item("ESCALERA_INT", "ESCALERA INTERNOS"),
				item("BOTIQUIN", "BOTIQUIN"),
			},
		},
	}
}
