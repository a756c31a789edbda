package supervision

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxMedia is the per-bucket item limit.
const DefaultMaxMedia = 8

// CaptureTimeLayout formats the capture time stamped on photos and rows.
const CaptureTimeLayout = "2006-01-02 15:04:05"

// Control codes of the media collection keyboard.
const (
	CodeMediaMore = "media:more"
	CodeMediaDone = "media:done"
)

// Followup is what the state machine does after a bucket is completed.
type Followup int

const (
	FollowupNone Followup = iota // completion refused
	FollowupMainMenu
	FollowupAskObservation
)

// Collector enforces bucket capacity and completion rules.
type Collector struct {
	maxMedia int
	proc     MediaProcessor
	now      func() time.Time
	loc      *time.Location
	log      *zap.Logger
}

// CollectorOpts configures a Collector.
type CollectorOpts struct {
	MaxMedia  int            // defaults to DefaultMaxMedia
	Processor MediaProcessor // nil keeps photos unprocessed
	Location  *time.Location // capture time zone, defaults to UTC
	Now       func() time.Time
	Logger    *zap.Logger
}

// NewCollector creates a Collector.
func NewCollector(opts CollectorOpts) *Collector {
	c := &Collector{
		maxMedia: opts.MaxMedia,
		proc:     opts.Processor,
		now:      opts.Now,
		loc:      opts.Location,
		log:      opts.Logger,
	}
	if c.maxMedia <= 0 {
		c.maxMedia = DefaultMaxMedia
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.loc == nil {
		c.loc = time.UTC
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

// MaxMedia returns the per-bucket limit.
func (c *Collector) MaxMedia() int {
	return c.maxMedia
}

// CaptureLabel is the formatted current time in the configured zone.
func (c *Collector) CaptureLabel() string {
	return c.now().In(c.loc).Format(CaptureTimeLayout)
}

func (c *Collector) controls() *Menu {
	return &Menu{
		Options: []Option{
			{Label: "➕ CARGAR MAS", Code: CodeMediaMore},
			{Label: "✅ EVIDENCIAS COMPLETAS", Code: CodeMediaDone},
		},
		Columns: 1,
	}
}

// Accept adds raw to the active bucket.
func (c *Collector) Accept(ctx context.Context, s *Session, raw RawMedia) []Reply {
	if raw.Kind != MediaPhoto && raw.Kind != MediaVideo {
		return []Reply{{Text: "❌ Solo se aceptan fotos o videos."}}
	}
	b := s.Active()
	if b == nil {
		return nil
	}
	if b.Len() >= c.maxMedia {
		return []Reply{{
			Text: fmt.Sprintf("⚠️ Límite alcanzado (%d). Presiona ✅ EVIDENCIAS COMPLETAS.", c.maxMedia),
			Menu: c.controls(),
		}}
	}

	it := MediaItem{Kind: raw.Kind, Ref: raw.Ref}
	if raw.Kind == MediaPhoto && c.proc != nil {
		it.Replica = c.proc.Process(ctx, raw.Ref, s.Coords, c.CaptureLabel())
	}
	b.Items = append(b.Items, it)
	c.log.Debug("media collected",
		zap.String("scope", s.Scope.Key()),
		zap.String("section", string(s.Pointer.Section)),
		zap.String("bucket", s.Pointer.Code),
		zap.Int("count", b.Len()),
		zap.Bool("replica", it.Replica != nil))

	return []Reply{{
		Text: fmt.Sprintf("✅ Guardado (%d/%d).", b.Len(), c.maxMedia),
		Menu: c.controls(),
	}}
}

// Complete closes the active bucket. An empty bucket is refused with a
// warning and FollowupNone.
func (c *Collector) Complete(s *Session) (Followup, []Reply) {
	b := s.Active()
	if b == nil || b.Len() < 1 {
		return FollowupNone, []Reply{{Text: "⚠️ Debes cargar al menos 1 archivo antes de completar.", Edit: true}}
	}
	if s.Pointer.Section == SectionFacade {
		return FollowupMainMenu, nil
	}
	return FollowupAskObservation, nil
}
