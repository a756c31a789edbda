package supervision

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Option codes of the fixed menus. Wiring and crew items use their raw
// bucket codes.
const (
	codeSupervisorPrefix = "sup:"
	codeOperatorPrefix   = "op:"

	CodeTypeHot  = "type:HOT"
	CodeTypeCold = "type:COLD"

	CodeMenuWiring   = "menu:wiring"
	CodeMenuCrew     = "menu:crew"
	CodeMenuOptional = "menu:optional"
	CodeMenuFinalize = "menu:finalize"

	CodeObsYes = "obs:yes"
	CodeObsNo  = "obs:no"
)

// SupervisorCode is the option code of the i-th supervisor.
func SupervisorCode(i int) string { return codeSupervisorPrefix + strconv.Itoa(i) }

// OperatorCode is the option code of the i-th operator.
func OperatorCode(i int) string { return codeOperatorPrefix + strconv.Itoa(i) }

const (
	promptMainMenu = "PASO 7 - ELEGIR SIGUIENTE PASO"
	promptWiring   = "QUE EVIDENCIAS DESEAS CARGAR (CABLEADO)"
	promptCrew     = "QUE EVIDENCIAS DESEAS CARGAR (CUADRILLA)"
	obsSaved       = "✅ Observación guardada.\n\n"
)

// Machine is the ordered workflow. It claims an event only when the
// session's current state accepts that kind of event.
type Machine struct {
	catalog   Catalog
	collector *Collector
	lookup    TemplateLookup
	log       *zap.Logger
}

// NewMachine creates a Machine. lookup may be nil.
func NewMachine(catalog Catalog, collector *Collector, lookup TemplateLookup, log *zap.Logger) *Machine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Machine{catalog: catalog, collector: collector, lookup: lookup, log: log}
}

// Name implements Recognizer.
func (m *Machine) Name() string { return "machine" }

// StartPrompt is the first step shown when a session starts.
func (m *Machine) StartPrompt() Reply {
	opts := make([]Option, len(m.catalog.Supervisors))
	for i, name := range m.catalog.Supervisors {
		opts[i] = Option{Label: name, Code: SupervisorCode(i)}
	}
	return Reply{Text: "PASO 1 - NOMBRE DEL SUPERVISOR", Menu: &Menu{Options: opts, Columns: 2}}
}

// Recognize implements Recognizer.
func (m *Machine) Recognize(ctx context.Context, in Input) Outcome {
	s := in.Session
	if s == nil {
		return Outcome{}
	}
	ev := in.Event

	switch s.State {
	case SelectSupervisor:
		if ev.Kind != EventSelection {
			return Outcome{}
		}
		return m.pickSupervisor(s, ev.Text)

	case SelectOperator:
		if ev.Kind != EventSelection {
			return Outcome{}
		}
		return m.pickOperator(s, ev.Text)

	case EnterOrderCode:
		if ev.Kind != EventText {
			return Outcome{}
		}
		return m.acceptOrderCode(ctx, s, ev.Text)

	case SelectType:
		if ev.Kind != EventSelection {
			return Outcome{}
		}
		return m.pickType(s, ev.Text)

	case AwaitLocation:
		return m.acceptLocation(s, ev)

	case CollectFacadeMedia, CollectBucketMedia:
		switch ev.Kind {
		case EventMedia:
			if ev.Media == nil {
				return claimed()
			}
			return claimed(m.collector.Accept(ctx, s, *ev.Media)...)
		case EventSelection:
			return m.mediaControl(s, ev.Text)
		}
		return Outcome{}

	case MainMenu:
		if ev.Kind != EventSelection {
			return Outcome{}
		}
		return m.pickMainMenu(s, ev.Text)

	case WiringMenu:
		if ev.Kind != EventSelection {
			return Outcome{}
		}
		return m.pickItem(s, SectionWiring, ev.Text)

	case CrewMenu:
		if ev.Kind != EventSelection {
			return Outcome{}
		}
		return m.pickItem(s, SectionCrew, ev.Text)

	case AskObservation:
		if ev.Kind != EventSelection {
			return Outcome{}
		}
		return m.pickObservation(s, ev.Text)

	case WriteObservation:
		if ev.Kind != EventText {
			return Outcome{}
		}
		return m.writeObservation(s, ev.Text)

	case EnterFinalText:
		if ev.Kind != EventText {
			return Outcome{}
		}
		out := claimed()
		out.Finalize = true
		out.FinalText = strings.TrimSpace(ev.Text)
		return out
	}
	return Outcome{}
}

func pickIndex(code, prefix string, n int) (int, bool) {
	rest, ok := strings.CutPrefix(code, prefix)
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(rest)
	if err != nil || i < 0 || i >= n {
		return 0, false
	}
	return i, true
}

func (m *Machine) pickSupervisor(s *Session, code string) Outcome {
	i, ok := pickIndex(code, codeSupervisorPrefix, len(m.catalog.Supervisors))
	if !ok {
		return claimed()
	}
	s.Supervisor = m.catalog.Supervisors[i]
	s.State = SelectOperator
	r := m.operatorPrompt()
	r.Edit = true
	return claimed(r)
}

func (m *Machine) operatorPrompt() Reply {
	opts := make([]Option, len(m.catalog.Operators))
	for j, name := range m.catalog.Operators {
		opts[j] = Option{Label: name, Code: OperatorCode(j)}
	}
	return Reply{Text: "PASO 2 - OPERADOR / CUADRILLA", Menu: &Menu{Options: opts, Columns: 2}}
}

func (m *Machine) pickOperator(s *Session, code string) Outcome {
	i, ok := pickIndex(code, codeOperatorPrefix, len(m.catalog.Operators))
	if !ok {
		return claimed()
	}
	s.Operator = m.catalog.Operators[i]
	if s.OrderCode != "" {
		// Already captured while a menu was pending.
		s.State = SelectType
		r := typePrompt()
		r.Edit = true
		return claimed(r)
	}
	s.State = EnterOrderCode
	return claimed(Reply{
		Text: "PASO 3 - INGRESA CÓDIGO DE PEDIDO\n\n✅ Puede ser números o letras.",
		Edit: true,
	})
}

// acceptOrderCode stores the order code, prefills template metadata when
// the lookup finds any, and moves to type selection.
func (m *Machine) acceptOrderCode(ctx context.Context, s *Session, text string) Outcome {
	code := strings.TrimSpace(text)
	if code == "" {
		return claimed(Reply{Text: "❌ Código vacío. Intenta nuevamente."})
	}
	m.recordOrderCode(ctx, s, code)
	s.State = SelectType
	return claimed(typePrompt())
}

// recordOrderCode sets the code and applies the template lookup without
// touching the state.
func (m *Machine) recordOrderCode(ctx context.Context, s *Session, code string) {
	s.OrderCode = code
	if m.lookup == nil {
		return
	}
	td, err := m.lookup.Lookup(ctx, code)
	switch {
	case err != nil:
		m.log.Warn("template lookup failed", zap.String("code", code), zap.Error(err))
	case td != nil:
		s.Template = *td
	}
}

func typePrompt() Reply {
	return Reply{
		Text: "PASO 4 - TIPO DE SUPERVISIÓN",
		Menu: &Menu{
			Options: []Option{
				{Label: "🔥SUPERVISION EN CALIENTE", Code: CodeTypeHot},
				{Label: "🧊SUPERVISION EN FRIO", Code: CodeTypeCold},
			},
			Columns: 1,
		},
	}
}

func (m *Machine) pickType(s *Session, code string) Outcome {
	switch code {
	case CodeTypeHot:
		s.Type = TypeHot
	case CodeTypeCold:
		s.Type = TypeCold
	default:
		return claimed()
	}
	s.State = AwaitLocation
	return claimed(
		Reply{
			Text: "PASO 5 - REPORTA TU UBICACIÓN\n\n" +
				"✅ Envía tu ubicación así:\n" +
				"1) Pulsa el clip 📎\n" +
				"2) Ubicación\n" +
				"3) Enviar ubicación actual",
			Edit: true,
		},
		Reply{Text: "👇", LocationKeyboard: true},
	)
}

func (m *Machine) acceptLocation(s *Session, ev Event) Outcome {
	if ev.Kind != EventLocation || ev.Coords == nil {
		return claimed(Reply{Text: "❌ No recibí ubicación. Envíala con 📎 -> Ubicación -> Enviar ubicación actual."})
	}
	c := *ev.Coords
	s.Coords = &c
	s.Pointer = Pointer{Section: SectionFacade}
	s.State = CollectFacadeMedia
	return claimed(Reply{
		Text: fmt.Sprintf("PASO 6 - EVIDENCIA DE FACHADA\n📸🎥 Carga entre 1 a %d archivos (fotos o videos).",
			m.collector.MaxMedia()),
		RemoveKeyboard: true,
	})
}

func (m *Machine) mediaControl(s *Session, code string) Outcome {
	switch code {
	case CodeMediaMore:
		return claimed(Reply{Text: "📸🎥 Envía el siguiente archivo (foto o video).", Edit: true})
	case CodeMediaDone:
		next, replies := m.collector.Complete(s)
		switch next {
		case FollowupMainMenu:
			s.State = MainMenu
			r := m.mainMenu("")
			r.Edit = true
			return claimed(r)
		case FollowupAskObservation:
			s.State = AskObservation
			return claimed(Reply{
				Text: "¿Deseas ingresar Observación?",
				Menu: &Menu{
					Options: []Option{{Label: "SI", Code: CodeObsYes}, {Label: "NO", Code: CodeObsNo}},
					Columns: 2,
				},
				Edit: true,
			})
		}
		return claimed(replies...)
	}
	return claimed()
}

func (m *Machine) mainMenu(prefix string) Reply {
	return Reply{
		Text: prefix + promptMainMenu,
		Menu: &Menu{
			Options: []Option{
				{Label: "🏗️EVIDENCIAS DE CABLEADO", Code: CodeMenuWiring},
				{Label: "👷‍♂️EVIDENCIAS DE CUADRILLA", Code: CodeMenuCrew},
				{Label: "🚨EVIDENCIAS OPCIONALES", Code: CodeMenuOptional},
				{Label: "✅FINALIZAR SUPERVISION", Code: CodeMenuFinalize},
			},
			Columns: 1,
		},
	}
}

func sectionMenu(sc SectionCatalog) *Menu {
	opts := make([]Option, 0, len(sc.Items)+1)
	for i, it := range sc.Items {
		opts = append(opts, Option{Label: fmt.Sprintf("%d. %s", i+1, it.Label), Code: it.Code})
	}
	opts = append(opts, Option{Label: fmt.Sprintf("%d. FINALIZAR EVIDENCIAS", len(sc.Items)+1), Code: sc.Finish})
	return &Menu{Options: opts, Columns: 2}
}

// returnToSection moves the session back to the menu of its current
// section: the item menu for wiring and crew, the main menu otherwise.
func (m *Machine) returnToSection(s *Session, prefix string) Reply {
	switch s.Pointer.Section {
	case SectionWiring:
		s.State = WiringMenu
		return Reply{Text: prefix + promptWiring, Menu: sectionMenu(m.catalog.Wiring)}
	case SectionCrew:
		s.State = CrewMenu
		return Reply{Text: prefix + promptCrew, Menu: sectionMenu(m.catalog.Crew)}
	}
	s.State = MainMenu
	return m.mainMenu(prefix)
}

func (m *Machine) pickMainMenu(s *Session, code string) Outcome {
	switch code {
	case CodeMenuWiring:
		s.Pointer = Pointer{Section: SectionWiring}
		s.State = WiringMenu
		return claimed(Reply{Text: promptWiring, Menu: sectionMenu(m.catalog.Wiring), Edit: true})
	case CodeMenuCrew:
		s.Pointer = Pointer{Section: SectionCrew}
		s.State = CrewMenu
		return claimed(Reply{Text: promptCrew, Menu: sectionMenu(m.catalog.Crew), Edit: true})
	case CodeMenuOptional:
		s.Pointer = Pointer{Section: SectionOptional}
		s.State = CollectBucketMedia
		return claimed(Reply{
			Text: fmt.Sprintf("🚨 EVIDENCIAS OPCIONALES\n📸🎥 Carga entre 1 a %d archivos.", m.collector.MaxMedia()),
			Edit: true,
		})
	case CodeMenuFinalize:
		s.State = EnterFinalText
		return claimed(Reply{Text: "INGRESAR OBSERVACIONES FINALES\n(Escribe el texto final)", Edit: true})
	}
	return claimed()
}

func (m *Machine) pickItem(s *Session, section Section, code string) Outcome {
	sc, title := m.catalog.Wiring, "🏗️ CABLEADO"
	if section == SectionCrew {
		sc, title = m.catalog.Crew, "👷‍♂️ CUADRILLA"
	}
	if code == sc.Finish {
		s.State = MainMenu
		r := m.mainMenu("")
		r.Edit = true
		return claimed(r)
	}
	if _, ok := sc.Find(code); !ok {
		return claimed()
	}

	s.Pointer = Pointer{Section: section, Code: code}
	if section == SectionCrew {
		s.Crew.Ensure(code)
	} else {
		s.Wiring.Ensure(code)
	}
	s.State = CollectBucketMedia
	return claimed(Reply{
		Text: fmt.Sprintf("%s - %s\n📸🎥 Carga entre 1 a %d archivos.", title, code, m.collector.MaxMedia()),
		Edit: true,
	})
}

func (m *Machine) pickObservation(s *Session, code string) Outcome {
	switch code {
	case CodeObsYes:
		s.State = WriteObservation
		return claimed(Reply{Text: "📝 Escribe tu observación:", Edit: true})
	case CodeObsNo:
		r := m.returnToSection(s, "")
		r.Edit = true
		return claimed(r)
	}
	return claimed()
}

func (m *Machine) writeObservation(s *Session, text string) Outcome {
	if b := s.Active(); b != nil {
		b.AppendObservation(text)
	}
	return claimed(m.returnToSection(s, obsSaved))
}
