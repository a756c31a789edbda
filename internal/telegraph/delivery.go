package telegraph

import (
	"context"

	"github.com/zulandar/fieldaudit/internal/replica"
	"github.com/zulandar/fieldaudit/internal/supervision"
)

// Delivery sends finalized supervisions through an Adapter.
type Delivery struct {
	adapter Adapter
}

// NewDelivery returns a Delivery over a.
func NewDelivery(a Adapter) *Delivery {
	return &Delivery{adapter: a}
}

func (d *Delivery) SendText(ctx context.Context, dest, text string) error {
	return d.adapter.Send(ctx, OutboundMessage{ChatID: dest, Text: text})
}

func (d *Delivery) SendMediaBatch(ctx context.Context, dest string, items []supervision.MediaItem) error {
	return d.adapter.SendMediaBatch(ctx, dest, items)
}

func (d *Delivery) SendLocalMedia(ctx context.Context, dest string, h *replica.Handle) error {
	return d.adapter.SendLocal(ctx, dest, h.Path())
}
