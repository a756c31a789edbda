// Package supervision implements the guided field-supervision workflow: the
// per-scope session, the ordered state machine, the bucket media collector,
// the rescue recognizer, and the finalize pipeline that fans a completed
// session out to the evidence destination and the record store.
package supervision

import (
	"strings"
	"sync"
	"time"

	"github.com/zulandar/fieldaudit/internal/replica"
)

// State is a step of the guided workflow.
type State int

const (
	SelectSupervisor State = iota
	SelectOperator
	EnterOrderCode
	SelectType
	AwaitLocation
	CollectFacadeMedia
	MainMenu
	WiringMenu
	CrewMenu
	CollectBucketMedia
	AskObservation
	WriteObservation
	EnterFinalText
)

var stateNames = [...]string{
	"select_supervisor",
	"select_operator",
	"enter_order_code",
	"select_type",
	"await_location",
	"collect_facade_media",
	"main_menu",
	"wiring_menu",
	"crew_menu",
	"collect_bucket_media",
	"ask_observation",
	"write_observation",
	"enter_final_text",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// SupervisionType is HOT (live) or COLD (after the fact).
type SupervisionType string

const (
	TypeHot  SupervisionType = "HOT"
	TypeCold SupervisionType = "COLD"
)

// Section groups buckets.
type Section string

const (
	SectionNone     Section = ""
	SectionFacade   Section = "facade"
	SectionWiring   Section = "wiring"
	SectionCrew     Section = "crew"
	SectionOptional Section = "optional"
)

// Coordinates is a latitude/longitude pair.
type Coordinates struct {
	Lat float64
	Lon float64
}

// MediaKind is the kind of an inbound media item.
type MediaKind string

const (
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
	MediaOther MediaKind = "other"
)

// MediaItem is one collected photo or video. Ref is the platform content
// reference; Replica is the locally processed copy, photos only.
type MediaItem struct {
	Kind    MediaKind
	Ref     string
	Replica *replica.Handle
}

// Bucket is a capacity-bounded evidence collection point.
type Bucket struct {
	Items       []MediaItem
	Observation string
}

// Len returns the number of collected items.
func (b *Bucket) Len() int {
	return len(b.Items)
}

// AppendObservation adds trimmed text to the observation, joining with a
// newline when one is already present.
func (b *Bucket) AppendObservation(text string) {
	text = strings.TrimSpace(text)
	if b.Observation == "" {
		b.Observation = text
		return
	}
	b.Observation = strings.TrimSpace(strings.TrimRight(b.Observation, " \t\r\n") + "\n" + text)
}

// BucketSet is an insertion-ordered map of bucket code to Bucket.
type BucketSet struct {
	order  []string
	byCode map[string]*Bucket
}

// Ensure returns the bucket for code, creating it on first use.
func (bs *BucketSet) Ensure(code string) *Bucket {
	if b, ok := bs.byCode[code]; ok {
		return b
	}
	if bs.byCode == nil {
		bs.byCode = make(map[string]*Bucket)
	}
	b := &Bucket{}
	bs.byCode[code] = b
	bs.order = append(bs.order, code)
	return b
}

// Get returns the bucket for code.
func (bs *BucketSet) Get(code string) (*Bucket, bool) {
	b, ok := bs.byCode[code]
	return b, ok
}

// Codes returns bucket codes in first-selection order.
func (bs *BucketSet) Codes() []string {
	out := make([]string, len(bs.order))
	copy(out, bs.order)
	return out
}

// Len returns the number of buckets.
func (bs *BucketSet) Len() int {
	return len(bs.order)
}

// Pointer is the navigation pointer: which bucket media and observations
// currently target. Code is set only for the wiring and crew sections.
type Pointer struct {
	Section Section
	Code    string
}

// TemplateData is the prefilled metadata found by order code.
type TemplateData struct {
	Technician string
	Contractor string
	District   string
	Manager    string
	TemplateID string
}

// Empty reports whether every field is blank.
func (t TemplateData) Empty() bool {
	return t.Technician == "" && t.Contractor == "" && t.District == "" &&
		t.Manager == "" && t.TemplateID == ""
}

// Scope identifies one conversation: the origin chat plus the operator.
type Scope struct {
	Chat string
	User string
}

// Key returns the store key for the scope.
func (s Scope) Key() string {
	return s.Chat + ":" + s.User
}

// Session is the state of one guided supervision. Fields are guarded by the
// session mutex, held by the engine for the duration of each event.
type Session struct {
	mu sync.Mutex

	Scope      Scope
	Origin     string // origin chat id the result is routed by
	Supervisor string
	Operator   string
	OrderCode  string
	Type       SupervisionType
	Coords     *Coordinates
	FinalText  string

	Facade   Bucket
	Wiring   BucketSet
	Crew     BucketSet
	Optional Bucket

	Pointer  Pointer
	Template TemplateData
	State    State

	StartedAt time.Time
}

func newSession(scope Scope, now time.Time) *Session {
	return &Session{
		Scope:     scope,
		Origin:    scope.Chat,
		State:     SelectSupervisor,
		StartedAt: now,
	}
}

// Active returns the bucket the navigation pointer targets, or nil when no
// section is active.
func (s *Session) Active() *Bucket {
	switch s.Pointer.Section {
	case SectionFacade:
		return &s.Facade
	case SectionOptional:
		return &s.Optional
	case SectionWiring:
		if s.Pointer.Code == "" {
			return nil
		}
		return s.Wiring.Ensure(s.Pointer.Code)
	case SectionCrew:
		if s.Pointer.Code == "" {
			return nil
		}
		return s.Crew.Ensure(s.Pointer.Code)
	}
	return nil
}

// Buckets calls fn for every bucket in delivery order: facade, wiring,
// crew, optional.
func (s *Session) Buckets(fn func(section Section, code string, b *Bucket)) {
	fn(SectionFacade, "", &s.Facade)
	for _, code := range s.Wiring.order {
		fn(SectionWiring, code, s.Wiring.byCode[code])
	}
	for _, code := range s.Crew.order {
		fn(SectionCrew, code, s.Crew.byCode[code])
	}
	fn(SectionOptional, "", &s.Optional)
}

// Replicas returns every replica handle held by the session.
func (s *Session) Replicas() []*replica.Handle {
	var out []*replica.Handle
	s.Buckets(func(_ Section, _ string, b *Bucket) {
		for _, it := range b.Items {
			if it.Replica != nil {
				out = append(out, it.Replica)
			}
		}
	})
	return out
}

// releaseReplicas deletes every replica file, attempting all handles and
// returning the first error.
func (s *Session) releaseReplicas() error {
	var first error
	for _, h := range s.Replicas() {
		if err := h.Release(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// MediaCount returns the number of items across all buckets.
func (s *Session) MediaCount() int {
	n := 0
	s.Buckets(func(_ Section, _ string, b *Bucket) { n += b.Len() })
	return n
}
