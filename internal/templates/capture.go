package templates

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/fieldaudit/internal/supervision"
	"go.uber.org/zap"
)

// Store keeps captured forms.
type Store interface {
	AppendTemplate(ctx context.Context, r Record) error
	// DeleteLastTemplate removes the newest record matching chat, user and
	// code, reporting whether one existed.
	DeleteLastTemplate(ctx context.Context, chat, user, code string) (bool, error)
}

const msgNoStore = "⚠️ El registro de plantillas no está configurado."

// Capture is the recognizer that stores pasted forms. It runs after the
// workflow recognizers, so text a session is waiting for never reaches it.
type Capture struct {
	store Store // nil when no backend is configured
	now   func() time.Time
	newID func() string
	log   *zap.Logger
}

// CaptureOpts configures a Capture.
type CaptureOpts struct {
	Store  Store
	Now    func() time.Time
	NewID  func() string
	Logger *zap.Logger
}

// NewCapture creates a Capture.
func NewCapture(opts CaptureOpts) *Capture {
	c := &Capture{store: opts.Store, now: opts.Now, newID: opts.NewID, log: opts.Logger}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

// Name implements supervision.Recognizer.
func (c *Capture) Name() string { return "template" }

// Recognize claims text that contains the form's order code label.
func (c *Capture) Recognize(ctx context.Context, in supervision.Input) supervision.Outcome {
	if in.Event.Kind != supervision.EventText || !Detect(in.Event.Text) {
		return supervision.Outcome{}
	}
	raw := strings.TrimSpace(in.Event.Text)
	form := Parse(raw)
	if form.OrderCode == "" {
		return reply("⚠️ Detecté una plantilla, pero falta 'Código pedido:'. Corrige y reenvía.")
	}
	if c.store == nil {
		return reply(msgNoStore)
	}

	rec := Record{
		UUID:      c.newID(),
		Chat:      in.Scope.Chat,
		User:      in.Scope.User,
		Form:      form,
		Raw:       raw,
		CreatedAt: c.now(),
	}
	if err := c.store.AppendTemplate(ctx, rec); err != nil {
		c.log.Error("save template", zap.String("code", form.OrderCode), zap.Error(err))
		return reply(fmt.Sprintf("❌ No pude guardar la plantilla.\nDetalle: %v", err))
	}
	c.log.Info("template saved", zap.String("code", form.OrderCode), zap.String("uuid", rec.UUID))
	return reply(fmt.Sprintf("✅ Plantilla guardada.\nCódigoPedido: %s\nUUID: %s", form.OrderCode, rec.UUID))
}

// Cancel deletes the caller's newest form for code and returns the text to
// send back.
func (c *Capture) Cancel(ctx context.Context, scope supervision.Scope, code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return "Uso: /cancelar_plantilla <CODIGO_PEDIDO>"
	}
	if c.store == nil {
		return msgNoStore
	}
	found, err := c.store.DeleteLastTemplate(ctx, scope.Chat, scope.User, code)
	if err != nil {
		c.log.Error("delete template", zap.String("code", code), zap.Error(err))
		return fmt.Sprintf("❌ No pude eliminar la plantilla.\nDetalle: %v", err)
	}
	if !found {
		return fmt.Sprintf("⚠️ No encontré una plantilla para CódigoPedido %s (de tu usuario).", code)
	}
	c.log.Info("template deleted", zap.String("code", code), zap.String("scope", scope.Key()))
	return fmt.Sprintf("✅ Plantilla eliminada para CódigoPedido %s.\nVuelve a enviarla corregida 👇\n\n%s", code, BlankForm)
}

func reply(text string) supervision.Outcome {
	return supervision.Outcome{Claimed: true, Replies: []supervision.Reply{{Text: text}}}
}
