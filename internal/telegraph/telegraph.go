package telegraph

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/zulandar/fieldaudit/internal/supervision"
	"go.uber.org/zap"
)

// Daemon is the main bot process. It connects to a chat platform via an
// Adapter and handles each inbound event on its own goroutine.
type Daemon struct {
	adapter  Adapter
	engine   *supervision.Engine
	commands *CommandHandler
	log      *zap.Logger

	wg sync.WaitGroup
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	Adapter  Adapter
	Engine   *supervision.Engine
	Commands *CommandHandler
	Logger   *zap.Logger
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("telegraph: adapter is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("telegraph: engine is required")
	}
	if opts.Commands == nil {
		return nil, fmt.Errorf("telegraph: command handler is required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Daemon{
		adapter:  opts.Adapter,
		engine:   opts.Engine,
		commands: opts.Commands,
		log:      log,
	}, nil
}

// Run connects the adapter and blocks until the context is cancelled or the
// adapter closes its inbound channel. In-flight events finish before the
// adapter is closed.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Info("connecting")
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("telegraph: connect: %w", err)
	}

	var botUserID string
	if bui, ok := d.adapter.(BotUserIDer); ok {
		botUserID = bui.BotUserID()
	}

	router, err := NewRouter(RouterOpts{
		Engine:    d.engine,
		Commands:  d.commands,
		Adapter:   d.adapter,
		BotUserID: botUserID,
		Logger:    d.log.Named("router"),
	})
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("telegraph: build router: %w", err)
	}

	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("telegraph: listen: %w", err)
	}
	d.log.Info("online", zap.String("bot_user", botUserID))

	for {
		select {
		case <-ctx.Done():
			d.log.Info("shutting down")
			d.wg.Wait()
			if err := d.adapter.Close(); err != nil {
				d.log.Warn("close adapter", zap.Error(err))
			}
			d.log.Info("stopped")
			return nil

		case ev, ok := <-inbound:
			if !ok {
				d.log.Info("inbound channel closed")
				d.wg.Wait()
				return nil
			}
			d.wg.Add(1)
			go d.dispatch(ctx, router, ev)
		}
	}
}

// dispatch handles one event. A panic is logged and contained to the event.
func (d *Daemon) dispatch(ctx context.Context, router *Router, ev InboundEvent) {
	defer d.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic handling event",
				zap.Any("panic", r),
				zap.String("chat", ev.ChatID),
				zap.String("user", ev.UserID),
				zap.Stringer("kind", ev.Kind),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	router.Handle(ctx, ev)
}
