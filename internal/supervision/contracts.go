package supervision

import (
	"context"

	"github.com/zulandar/fieldaudit/internal/replica"
)

// MediaProcessor produces a local replica of a photo. It never fails: a nil
// handle means the photo is kept with its original reference only.
type MediaProcessor interface {
	Process(ctx context.Context, ref string, coords *Coordinates, label string) *replica.Handle
}

// TemplateLookup finds prefilled metadata by order code. A nil result means
// not found.
type TemplateLookup interface {
	Lookup(ctx context.Context, code string) (*TemplateData, error)
}

// DestinationResolver maps an origin chat to its evidence destination.
type DestinationResolver interface {
	Resolve(origin string) (string, bool)
}

// Delivery sends the finalized supervision to a destination chat.
type Delivery interface {
	SendText(ctx context.Context, dest, text string) error
	// SendMediaBatch sends up to MaxBatch remote items as one group.
	SendMediaBatch(ctx context.Context, dest string, items []MediaItem) error
	SendLocalMedia(ctx context.Context, dest string, h *replica.Handle) error
}

// TabularStore appends a record row keyed by column name.
type TabularStore interface {
	AppendRow(ctx context.Context, table string, fields map[string]string) error
}

// MaxBatch is the largest media group a Delivery accepts.
const MaxBatch = 10
