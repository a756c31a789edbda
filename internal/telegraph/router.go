package telegraph

import (
	"context"
	"fmt"

	"github.com/zulandar/fieldaudit/internal/supervision"
	"go.uber.org/zap"
)

// Router classifies inbound events and routes them: commands to the
// command handler, everything else from a group to the supervision engine.
// Replies go back to the chat the event came from.
type Router struct {
	engine    *supervision.Engine
	commands  *CommandHandler
	adapter   Adapter
	botUserID string // the bot's own user ID (to filter self-messages)
	log       *zap.Logger
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	Engine    *supervision.Engine
	Commands  *CommandHandler
	Adapter   Adapter
	BotUserID string
	Logger    *zap.Logger
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("telegraph: router: engine is required")
	}
	if opts.Commands == nil {
		return nil, fmt.Errorf("telegraph: router: command handler is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("telegraph: router: adapter is required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		engine:    opts.Engine,
		commands:  opts.Commands,
		adapter:   opts.Adapter,
		botUserID: opts.BotUserID,
		log:       log,
	}, nil
}

// Handle routes a single inbound event and sends its replies.
func (r *Router) Handle(ctx context.Context, ev InboundEvent) {
	if r.botUserID != "" && ev.UserID == r.botUserID {
		return
	}
	r.log.Debug("recv",
		zap.String("platform", ev.Platform),
		zap.String("chat", ev.ChatID),
		zap.String("user", ev.UserName),
		zap.Stringer("kind", ev.Kind))

	var replies []supervision.Reply
	switch {
	case ev.Kind == KindCommand:
		replies = r.commands.Execute(ctx, ev)
	case !ev.Group:
		r.log.Debug("ignore private event", zap.String("chat", ev.ChatID))
		return
	default:
		scope := supervision.Scope{Chat: ev.ChatID, User: ev.UserID}
		replies = r.engine.Handle(ctx, scope, toEvent(ev))
	}
	r.reply(ctx, ev, replies)
}

// toEvent converts a non-command inbound event for the engine.
func toEvent(ev InboundEvent) supervision.Event {
	out := supervision.Event{Text: ev.Text, Coords: ev.Coords, Media: ev.Media}
	switch ev.Kind {
	case KindSelection:
		out.Kind = supervision.EventSelection
	case KindLocation:
		out.Kind = supervision.EventLocation
	case KindMedia:
		out.Kind = supervision.EventMedia
	default:
		out.Kind = supervision.EventText
	}
	return out
}

// reply sends replies in order. A failed edit is retried as a new message.
func (r *Router) reply(ctx context.Context, ev InboundEvent, replies []supervision.Reply) {
	for _, rep := range replies {
		msg := OutboundMessage{
			ChatID:           ev.ChatID,
			Text:             rep.Text,
			Menu:             rep.Menu,
			RemoveKeyboard:   rep.RemoveKeyboard,
			LocationKeyboard: rep.LocationKeyboard,
		}
		if rep.Edit && ev.Kind == KindSelection {
			msg.EditID = ev.MessageID
		}
		err := r.adapter.Send(ctx, msg)
		if err != nil && msg.EditID != "" {
			r.log.Debug("edit failed, sending new message", zap.Error(err))
			msg.EditID = ""
			err = r.adapter.Send(ctx, msg)
		}
		if err != nil {
			r.log.Error("send reply", zap.String("chat", ev.ChatID), zap.Error(err))
		}
	}
}
