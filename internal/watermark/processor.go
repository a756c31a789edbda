package watermark

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/disintegration/imaging"
	"github.com/zulandar/fieldaudit/internal/replica"
	"github.com/zulandar/fieldaudit/internal/supervision"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Fetcher downloads the bytes behind a platform media reference.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Processor downloads photos, stamps them, and stores the result as a
// replica. It implements supervision.MediaProcessor.
type Processor struct {
	fetcher   Fetcher
	dir       *replica.Dir
	enabled   bool
	fontScale int
	quality   int
	sem       *semaphore.Weighted
	log       *zap.Logger
}

// ProcessorOpts configures a Processor.
type ProcessorOpts struct {
	Fetcher     Fetcher
	Dir         *replica.Dir
	Enabled     bool
	FontScale   int   // default 2
	Quality     int   // JPEG quality, default 90
	Concurrency int64 // photos decoded at once, default 3
	Logger      *zap.Logger
}

// NewProcessor validates opts and creates a Processor.
func NewProcessor(opts ProcessorOpts) (*Processor, error) {
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("watermark: fetcher is required")
	}
	if opts.Dir == nil {
		return nil, fmt.Errorf("watermark: replica dir is required")
	}
	p := &Processor{
		fetcher:   opts.Fetcher,
		dir:       opts.Dir,
		enabled:   opts.Enabled,
		fontScale: opts.FontScale,
		quality:   opts.Quality,
		log:       opts.Logger,
	}
	if p.fontScale <= 0 {
		p.fontScale = 2
	}
	if p.quality <= 0 || p.quality > 100 {
		p.quality = 90
	}
	n := opts.Concurrency
	if n <= 0 {
		n = 3
	}
	p.sem = semaphore.NewWeighted(n)
	if p.log == nil {
		p.log = zap.NewNop()
	}
	return p, nil
}

// Process returns a stamped replica of the photo at ref, or nil when
// watermarking is disabled or any step fails. Failures are logged only.
func (p *Processor) Process(ctx context.Context, ref string, coords *supervision.Coordinates, captured string) *replica.Handle {
	if !p.enabled {
		return nil
	}
	h, err := p.render(ctx, ref, Caption(captured, coords))
	if err != nil {
		p.log.Warn("watermark failed", zap.String("ref", ref), zap.Error(err))
		return nil
	}
	return h
}

func (p *Processor) render(ctx context.Context, ref, caption string) (*replica.Handle, error) {
	data, err := p.fetcher.Fetch(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	out := Stamp(img, caption, p.fontScale)

	h, err := p.dir.Create("wm", ".jpg")
	if err != nil {
		return nil, err
	}
	f, err := os.Create(h.Path())
	if err != nil {
		return nil, fmt.Errorf("create replica: %w", err)
	}
	encErr := imaging.Encode(f, out, imaging.JPEG, imaging.JPEGQuality(p.quality))
	closeErr := f.Close()
	if encErr != nil || closeErr != nil {
		h.Release()
		if encErr != nil {
			return nil, fmt.Errorf("encode: %w", encErr)
		}
		return nil, fmt.Errorf("close replica: %w", closeErr)
	}
	return h, nil
}
