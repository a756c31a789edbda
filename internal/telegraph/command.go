package telegraph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/fieldaudit/internal/links"
	"github.com/zulandar/fieldaudit/internal/supervision"
	"github.com/zulandar/fieldaudit/internal/templates"
	"go.uber.org/zap"
)

// CacheClearer is implemented by stores that cache sheet metadata.
type CacheClearer interface {
	ClearCache()
}

// CommandHandler executes slash commands.
type CommandHandler struct {
	engine   *supervision.Engine
	registry *links.Registry
	capture  *templates.Capture
	cache    CacheClearer
	log      *zap.Logger
}

// CommandHandlerOpts holds parameters for creating a CommandHandler.
type CommandHandlerOpts struct {
	Engine   *supervision.Engine
	Registry *links.Registry
	Capture  *templates.Capture
	Cache    CacheClearer // optional; enables reload_sheet
	Logger   *zap.Logger
}

// NewCommandHandler creates a CommandHandler.
func NewCommandHandler(opts CommandHandlerOpts) (*CommandHandler, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("telegraph: command handler: engine is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("telegraph: command handler: registry is required")
	}
	if opts.Capture == nil {
		return nil, fmt.Errorf("telegraph: command handler: capture is required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &CommandHandler{
		engine:   opts.Engine,
		registry: opts.Registry,
		capture:  opts.Capture,
		cache:    opts.Cache,
		log:      log,
	}, nil
}

// Execute runs the command carried by ev and returns the replies for its
// chat. Unknown commands return nil.
func (ch *CommandHandler) Execute(ctx context.Context, ev InboundEvent) []supervision.Reply {
	scope := supervision.Scope{Chat: ev.ChatID, User: ev.UserID}
	name := ev.Command

	switch {
	case name == "inicio":
		if !ev.Group {
			return text("Este bot se usa desde un grupo AUDITORIAS_... (no en privado).")
		}
		return ch.engine.Start(scope)
	case name == "cancelar":
		if !ev.Group {
			return text("Este bot se usa desde un grupo AUDITORIAS_... (no en privado).")
		}
		return ch.engine.Cancel(scope)
	case name == "ver_links":
		return text(FormatLinks(ch.registry.Snapshot()))
	case name == "plantilla":
		if !ev.Group {
			return text("Usa /plantilla dentro del grupo.")
		}
		return text(templates.BlankForm)
	case name == "cancelar_plantilla":
		if !ev.Group {
			return text("Usa /cancelar_plantilla dentro del grupo.")
		}
		return text(ch.capture.Cancel(ctx, scope, ev.Args))
	case name == "reload_sheet":
		if ch.cache == nil {
			return text("⚠️ Google Sheets no está configurado (SHEET_ID/credenciales).")
		}
		ch.cache.ClearCache()
		return text("✅ Cache de Google Sheets recargado (headers/worksheet).")
	case strings.HasPrefix(name, "set_evidencias_"):
		return ch.setEvidence(ctx, ev, strings.TrimPrefix(name, "set_evidencias_"))
	case strings.HasPrefix(name, "link_"):
		return ch.link(ctx, ev, strings.TrimPrefix(name, "link_"))
	}
	ch.log.Debug("unknown command", zap.String("command", name))
	return nil
}

func (ch *CommandHandler) setEvidence(ctx context.Context, ev InboundEvent, key string) []supervision.Reply {
	if !ch.registry.HasKey(key) {
		return nil
	}
	if !ev.Group {
		return text("Este comando debe ejecutarse dentro del grupo Evidencias correspondiente.")
	}
	if err := ch.registry.SetEvidence(ctx, key, ev.ChatID); err != nil {
		ch.log.Error("set evidence", zap.String("key", key), zap.Error(err))
		return text(fmt.Sprintf("❌ No pude guardar la configuración.\nDetalle: %v", err))
	}
	ch.log.Info("evidence chat set", zap.String("key", key), zap.String("chat", ev.ChatID))
	return text(fmt.Sprintf("✅ Evidencias '%s' configurado. chat_id=%s", key, ev.ChatID))
}

func (ch *CommandHandler) link(ctx context.Context, ev InboundEvent, key string) []supervision.Reply {
	if !ch.registry.HasKey(key) {
		return nil
	}
	if !ev.Group {
		return text("Este comando debe ejecutarse dentro del grupo AUDITORIAS correspondiente.")
	}
	dest, err := ch.registry.Link(ctx, ev.ChatID, key)
	switch {
	case errors.Is(err, links.ErrNoEvidence):
		return text(fmt.Sprintf("⚠️ Primero configura Evidencias '%s' con /set_evidencias_%s en ese grupo.", key, key))
	case err != nil:
		ch.log.Error("link", zap.String("key", key), zap.Error(err))
		return text(fmt.Sprintf("❌ No pude guardar la configuración.\nDetalle: %v", err))
	}
	ch.log.Info("link created", zap.String("origin", ev.ChatID), zap.String("dest", dest))
	return text(fmt.Sprintf("✅ Link creado.\nAUDITORIAS chat_id=%s\n➡️ EVIDENCIAS '%s' chat_id=%s", ev.ChatID, key, dest))
}

// FormatLinks renders the registry listing shown by ver_links.
func FormatLinks(snap links.Snapshot) string {
	var b strings.Builder
	b.WriteString("🧩 CONFIG LINKS\n\n")
	b.WriteString("📌 Evidencias configuradas:\n")
	for _, ks := range snap.Evidence {
		mark := "❌"
		if ks.Chat != "" {
			mark = "✅"
		}
		fmt.Fprintf(&b, "• %s: %s\n", ks.Key, mark)
	}
	b.WriteString("\n📌 Links Auditorías ➜ Evidencias:")
	if len(snap.Links) == 0 {
		b.WriteString("\n• (sin links)")
	}
	for _, l := range snap.Links {
		fmt.Fprintf(&b, "\n• AUD %s ➜ EVI %s", l.Origin, l.Dest)
	}
	return b.String()
}

func text(s string) []supervision.Reply {
	return []supervision.Reply{{Text: s}}
}
