package supervision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/fieldaudit/internal/replica"
	"go.uber.org/zap"
)

// Sentinel errors returned by the pipeline.
var (
	ErrNoOrigin      = errors.New("supervision: session has no origin chat")
	ErrNoDestination = errors.New("supervision: origin chat is not linked to a destination")
)

const (
	msgNoOrigin = "❌ No se detectó el grupo de origen. Inicia con /inicio en el grupo AUDITORIAS."
	msgNoLink   = "⚠️ Este grupo AUDITORIAS no está enlazado a un grupo Evidencias.\n\n" +
		"Configura así:\n" +
		"1) En el grupo Evidencias ejecuta /set_evidencias_<nombre>\n" +
		"2) En ESTE grupo AUDITORIAS ejecuta /link_<nombre>\n" +
		"3) Verifica con /ver_links"
)

// Pipeline drains a finished session to the destination and the record
// store, then releases it.
type Pipeline struct {
	store    *Store
	catalog  Catalog
	resolver DestinationResolver
	delivery Delivery
	table    TabularStore // nil skips persistence
	tabName  string
	replicas *replica.Dir // removed when empty after cleanup
	now      func() time.Time
	loc      *time.Location
	log      *zap.Logger
}

// PipelineOpts configures a Pipeline.
type PipelineOpts struct {
	Store    *Store
	Catalog  Catalog
	Resolver DestinationResolver
	Delivery Delivery
	Table    TabularStore
	TabName  string // record table or tab name
	Replicas *replica.Dir
	Location *time.Location
	Now      func() time.Time
	Logger   *zap.Logger
}

// NewPipeline validates opts and creates a Pipeline.
func NewPipeline(opts PipelineOpts) (*Pipeline, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("supervision: pipeline: store is required")
	}
	if opts.Resolver == nil {
		return nil, fmt.Errorf("supervision: pipeline: resolver is required")
	}
	if opts.Delivery == nil {
		return nil, fmt.Errorf("supervision: pipeline: delivery is required")
	}
	p := &Pipeline{
		store:    opts.Store,
		catalog:  opts.Catalog,
		resolver: opts.Resolver,
		delivery: opts.Delivery,
		table:    opts.Table,
		tabName:  opts.TabName,
		replicas: opts.Replicas,
		now:      opts.Now,
		loc:      opts.Location,
		log:      opts.Logger,
	}
	if p.tabName == "" {
		p.tabName = "Supervisiones"
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.loc == nil {
		p.loc = time.UTC
	}
	if p.log == nil {
		p.log = zap.NewNop()
	}
	return p, nil
}

// Finalize attaches finalText and delivers the session: summary first, then
// each media section in order, then the record row. The session is always
// released and discarded before Finalize returns. The replies are notices
// for the operator's chat. A non-nil error means delivery stopped early;
// a record store failure is only reported in the replies.
func (p *Pipeline) Finalize(ctx context.Context, s *Session, finalText string) ([]Reply, error) {
	defer p.Cancel(s)

	s.FinalText = finalText
	log := p.log.With(zap.String("scope", s.Scope.Key()), zap.String("code", s.OrderCode))

	if s.Origin == "" {
		return []Reply{{Text: msgNoOrigin}}, ErrNoOrigin
	}
	dest, ok := p.resolver.Resolve(s.Origin)
	if !ok || dest == "" {
		log.Warn("finalize aborted: no destination", zap.String("origin", s.Origin))
		return []Reply{{Text: msgNoLink}}, ErrNoDestination
	}

	if err := p.delivery.SendText(ctx, dest, Summary(s, p.catalog)); err != nil {
		return p.deliveryFailed(log, err)
	}

	var sendErr error
	s.Buckets(func(section Section, code string, b *Bucket) {
		if sendErr != nil || b.Len() == 0 {
			return
		}
		sendErr = p.sendSection(ctx, dest, sectionTitle(section, code, b.Observation), b.Items)
	})
	if sendErr != nil {
		return p.deliveryFailed(log, sendErr)
	}
	log.Info("supervision delivered", zap.String("dest", dest), zap.Int("media", s.MediaCount()))

	var replies []Reply
	saved := false
	if p.table != nil {
		row := Row(s, p.catalog, p.now().In(p.loc).Format(CaptureTimeLayout))
		if err := p.table.AppendRow(ctx, p.tabName, row); err != nil {
			log.Error("persist supervision row", zap.String("table", p.tabName), zap.Error(err))
			replies = append(replies, Reply{
				Text: fmt.Sprintf("⚠️ Supervisión enviada a Evidencias, pero NO pude guardarla en el registro.\nDetalle: %v", err),
			})
		} else {
			saved = true
		}
	}

	done := fmt.Sprintf("✅ SE FINALIZÓ SUPERVISIÓN DE CÓDIGO %s\n📤 Enviado a Evidencias", s.OrderCode)
	if saved {
		done += " y registrado"
	}
	replies = append(replies, Reply{Text: done + "."})
	return replies, nil
}

func (p *Pipeline) deliveryFailed(log *zap.Logger, err error) ([]Reply, error) {
	log.Error("finalize delivery failed", zap.Error(err))
	return []Reply{{Text: fmt.Sprintf("❌ No pude enviar la supervisión a Evidencias.\nDetalle: %v", err)}},
		fmt.Errorf("supervision: finalize: %w", err)
}

// sendSection sends the header then the items. Items without a replica are
// grouped in batches of at most MaxBatch; a replica item flushes the pending
// batch and goes on its own so destination order matches collection order.
func (p *Pipeline) sendSection(ctx context.Context, dest, title string, items []MediaItem) error {
	if err := p.delivery.SendText(ctx, dest, title); err != nil {
		return err
	}

	var pending []MediaItem
	flush := func() error {
		for len(pending) > 0 {
			n := min(len(pending), MaxBatch)
			if err := p.delivery.SendMediaBatch(ctx, dest, pending[:n]); err != nil {
				return err
			}
			pending = pending[n:]
		}
		return nil
	}

	for _, it := range items {
		if it.Kind == MediaPhoto && it.Replica != nil && it.Replica.Exists() {
			if err := flush(); err != nil {
				return err
			}
			if err := p.delivery.SendLocalMedia(ctx, dest, it.Replica); err != nil {
				return err
			}
			continue
		}
		pending = append(pending, it)
	}
	return flush()
}

// Cancel releases every replica and discards the session. It is safe to
// call more than once.
func (p *Pipeline) Cancel(s *Session) {
	if err := s.releaseReplicas(); err != nil {
		p.log.Warn("release replicas", zap.String("scope", s.Scope.Key()), zap.Error(err))
	}
	p.store.discardSession(s)
	if p.replicas != nil {
		p.replicas.RemoveIfEmpty()
	}
}
