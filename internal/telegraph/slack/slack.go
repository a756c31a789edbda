// Package slack implements the telegraph Adapter for Slack using Socket Mode.
package slack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/zulandar/fieldaudit/internal/supervision"
	"github.com/zulandar/fieldaudit/internal/telegraph"
	"go.uber.org/zap"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for reconnection.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for reconnection.
	maxBackoff = 2 * time.Minute
	// maxReconnectAttempts limits reconnection retries before giving up.
	maxReconnectAttempts = 10
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
	UpdateMessage(channelID, timestamp string, options ...slackapi.MsgOption) (string, string, string, error)
	GetUserInfo(userID string) (*slackapi.User, error)
	GetFileContext(ctx context.Context, downloadURL string, writer io.Writer) error
	UploadFileContext(ctx context.Context, params slackapi.UploadFileParameters) (*slackapi.FileSummary, error)
}

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	Run() error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// realSocketClient wraps *socketmode.Client to implement socketClient.
type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) Run() error                        { return r.client.Run() }
func (r *realSocketClient) EventsChan() chan socketmode.Event { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// Adapter implements telegraph.Adapter for Slack Socket Mode.
type Adapter struct {
	client       slackClient
	socket       socketClient
	log          *zap.Logger
	botUserID    string
	appToken     string
	botToken     string
	mu           sync.Mutex
	connected    bool
	closed       bool
	inbound      chan telegraph.InboundEvent
	cancelFunc   context.CancelFunc
	baseBackoff  time.Duration // reconnection base backoff (default: baseBackoff const)
	maxBackoff   time.Duration // reconnection max backoff (default: maxBackoff const)
	maxReconnect int           // max reconnection attempts (default: maxReconnectAttempts)
}

// AdapterOpts holds parameters for creating a Slack Adapter.
type AdapterOpts struct {
	AppToken string // xapp-... Slack app-level token for Socket Mode
	BotToken string // xoxb-... Slack bot token
	Logger   *zap.Logger
	// For testing: inject mock clients instead of real Slack API.
	Client slackClient
	Socket socketClient
}

// New creates a Slack Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}

	a := &Adapter{
		client:       opts.Client,
		socket:       opts.Socket,
		log:          opts.Logger,
		appToken:     opts.AppToken,
		botToken:     opts.BotToken,
		inbound:      make(chan telegraph.InboundEvent, 100),
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
		maxReconnect: maxReconnectAttempts,
	}
	if a.log == nil {
		a.log = zap.NewNop()
	}
	return a, nil
}

// Connect authenticates the bot and prepares the Socket Mode client.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("slack: adapter already closed")
	}
	if a.connected {
		return nil
	}

	// Create real clients if not injected (production path).
	if a.client == nil {
		api := slackapi.New(a.botToken, slackapi.OptionAppLevelToken(a.appToken))
		a.client = api
		a.socket = &realSocketClient{client: socketmode.New(api)}
	}

	// Get bot user ID for self-message filtering.
	auth, err := a.client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = auth.UserID

	a.connected = true
	return nil
}

// Listen returns the inbound event channel and starts the Socket Mode
// event pump in a background goroutine. Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan telegraph.InboundEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, telegraph.ErrNotConnected
	}

	listenCtx, cancel := context.WithCancel(ctx)
	a.cancelFunc = cancel

	// Start socket mode in background with reconnection logic.
	go a.runWithReconnect(listenCtx)

	// Pump events from socket mode to inbound channel.
	go a.pumpEvents(listenCtx)

	return a.inbound, nil
}

// Send posts a message, or updates msg.EditID in place. Menus become Block
// Kit buttons whose values carry the option codes.
func (a *Adapter) Send(ctx context.Context, msg telegraph.OutboundMessage) error {
	if err := a.ready(); err != nil {
		return err
	}
	if msg.ChatID == "" {
		return fmt.Errorf("slack: no channel specified")
	}

	options := buildMessageOptions(msg)

	if msg.EditID != "" {
		err := retryOnRateLimit(ctx, func() error {
			_, _, _, updErr := a.client.UpdateMessage(msg.ChatID, msg.EditID, options...)
			return updErr
		})
		if err != nil {
			return fmt.Errorf("slack: update message: %w", err)
		}
		return nil
	}

	err := retryOnRateLimit(ctx, func() error {
		_, _, postErr := a.client.PostMessage(msg.ChatID, options...)
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// SendMediaBatch copies each shared file into chat. Slack has no album
// forwarding, so every item is downloaded and uploaded again.
func (a *Adapter) SendMediaBatch(ctx context.Context, chat string, items []supervision.MediaItem) error {
	if err := a.ready(); err != nil {
		return err
	}
	for i, it := range items {
		data, err := a.Fetch(ctx, it.Ref)
		if err != nil {
			return err
		}
		name := path.Base(it.Ref)
		if name == "" || name == "." || name == "/" {
			name = "evidencia-" + strconv.Itoa(i+1)
		}
		if err := a.upload(ctx, chat, name, data); err != nil {
			return err
		}
	}
	return nil
}

// SendLocal uploads a local file into chat.
func (a *Adapter) SendLocal(ctx context.Context, chat, p string) error {
	if err := a.ready(); err != nil {
		return err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return fmt.Errorf("slack: read %s: %w", p, err)
	}
	return a.upload(ctx, chat, filepath.Base(p), data)
}

// Fetch downloads a private file URL with the bot token.
func (a *Adapter) Fetch(ctx context.Context, ref string) ([]byte, error) {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	if client == nil {
		return nil, telegraph.ErrNotConnected
	}
	var buf bytes.Buffer
	err := retryOnRateLimit(ctx, func() error {
		buf.Reset()
		return client.GetFileContext(ctx, ref, &buf)
	})
	if err != nil {
		return nil, fmt.Errorf("slack: download: %w", err)
	}
	return buf.Bytes(), nil
}

// Close shuts down the adapter and closes the inbound channel.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.cancelFunc != nil {
		a.cancelFunc()
	}
	close(a.inbound)
	return nil
}

// BotUserID returns the bot's Slack user ID (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

func (a *Adapter) ready() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return telegraph.ErrNotConnected
	}
	return nil
}

func (a *Adapter) upload(ctx context.Context, chat, name string, data []byte) error {
	params := slackapi.UploadFileParameters{
		Channel:  chat,
		Filename: name,
		Title:    name,
		FileSize: len(data),
		Reader:   bytes.NewReader(data),
	}
	if _, err := a.client.UploadFileContext(ctx, params); err != nil {
		return fmt.Errorf("slack: upload %s: %w", name, err)
	}
	return nil
}

// runWithReconnect runs the Socket Mode client and retries with exponential
// backoff when Run() returns an error (e.g., reconnection failure).
func (a *Adapter) runWithReconnect(ctx context.Context) {
	for attempt := 0; attempt < a.maxReconnect; attempt++ {
		err := a.socket.Run()
		if err == nil {
			return // clean shutdown
		}

		// Check if we're shutting down.
		select {
		case <-ctx.Done():
			return
		default:
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}

		a.log.Warn("socket mode disconnected, reconnecting",
			zap.Int("attempt", attempt+1), zap.Int("max", a.maxReconnect),
			zap.Duration("wait", wait), zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
	a.log.Error("socket mode exhausted reconnection attempts, giving up", zap.Int("attempts", a.maxReconnect))
}

// pumpEvents reads Socket Mode events and converts them to inbound events.
func (a *Adapter) pumpEvents(ctx context.Context) {
	events := a.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			a.handleSocketEvent(evt)
		}
	}
}

// handleSocketEvent processes a single Socket Mode event.
func (a *Adapter) handleSocketEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		a.handleEventsAPI(eventsAPIEvent)

	case socketmode.EventTypeInteractive:
		callback, ok := evt.Data.(slackapi.InteractionCallback)
		if !ok {
			return
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		a.handleInteraction(callback)

	case socketmode.EventTypeConnecting:
		a.log.Info("connecting to Socket Mode")

	case socketmode.EventTypeConnected:
		a.log.Info("connected to Socket Mode")

	case socketmode.EventTypeConnectionError:
		a.log.Warn("connection error", zap.Any("data", evt.Data))

	case socketmode.EventTypeDisconnect:
		a.log.Info("server requested disconnect, will reconnect")
	}
}

// handleEventsAPI processes Events API callbacks.
func (a *Adapter) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	if ev, ok := event.InnerEvent.Data.(*slackevents.MessageEvent); ok {
		a.handleMessage(ev)
	}
}

// handleMessage converts a Slack message event into inbound events, one
// per shared file.
func (a *Adapter) handleMessage(ev *slackevents.MessageEvent) {
	if ev.User == a.BotUserID() {
		return
	}
	// Filter bot messages and subtypes (edits, deletes, joins) except file shares.
	if ev.BotID != "" || (ev.SubType != "" && ev.SubType != "file_share") {
		return
	}

	base := telegraph.InboundEvent{
		Platform:  "slack",
		ChatID:    ev.Channel,
		Group:     ev.ChannelType != "im",
		UserID:    ev.User,
		UserName:  a.resolveUserName(ev.User),
		MessageID: ev.TimeStamp,
		Timestamp: parseSlackTimestamp(ev.TimeStamp),
	}

	if ev.Message != nil && len(ev.Message.Files) > 0 {
		for _, f := range ev.Message.Files {
			e := base
			e.Kind = telegraph.KindMedia
			e.Media = &supervision.RawMedia{Kind: mediaKind(f.Mimetype), Ref: f.URLPrivateDownload, MIME: f.Mimetype}
			a.emit(e)
		}
		return
	}

	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return
	}
	// The Slack client swallows unregistered slash commands, so "!cmd" is
	// accepted as well.
	if strings.HasPrefix(text, "!") {
		text = "/" + text[1:]
	}
	e := base
	if name, args, ok := telegraph.SplitCommand(text); ok {
		e.Kind, e.Command, e.Args, e.Text = telegraph.KindCommand, name, args, text
	} else if coords, ok := telegraph.ParseCoordinates(text); ok {
		e.Kind, e.Coords = telegraph.KindLocation, coords
	} else {
		e.Kind, e.Text = telegraph.KindText, text
	}
	a.emit(e)
}

// handleInteraction converts a button press into a selection event.
func (a *Adapter) handleInteraction(cb slackapi.InteractionCallback) {
	if cb.Type != slackapi.InteractionTypeBlockActions || len(cb.ActionCallback.BlockActions) == 0 {
		return
	}
	action := cb.ActionCallback.BlockActions[0]
	channel := cb.Container.ChannelID
	if channel == "" {
		channel = cb.Channel.ID
	}
	name := cb.User.Name
	if name == "" {
		name = a.resolveUserName(cb.User.ID)
	}
	a.emit(telegraph.InboundEvent{
		Platform:  "slack",
		Kind:      telegraph.KindSelection,
		ChatID:    channel,
		Group:     !strings.HasPrefix(channel, "D"),
		UserID:    cb.User.ID,
		UserName:  name,
		MessageID: cb.Container.MessageTs,
		Text:      action.Value,
		Timestamp: time.Now(),
	})
}

// emit queues an event unless the adapter is closed.
func (a *Adapter) emit(ev telegraph.InboundEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.inbound <- ev:
	default:
		a.log.Warn("inbound queue full, dropping event", zap.String("chat", ev.ChatID))
	}
}

// resolveUserName looks up a user's display name. Falls back to user ID.
func (a *Adapter) resolveUserName(userID string) string {
	if userID == "" {
		return ""
	}
	user, err := a.client.GetUserInfo(userID)
	if err != nil {
		return userID
	}
	if user.Profile.DisplayName != "" {
		return user.Profile.DisplayName
	}
	if user.RealName != "" {
		return user.RealName
	}
	return userID
}

func mediaKind(mime string) supervision.MediaKind {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return supervision.MediaPhoto
	case strings.HasPrefix(mime, "video/"):
		return supervision.MediaVideo
	}
	return supervision.MediaOther
}

// buildMessageOptions translates an OutboundMessage into Slack MsgOptions.
// The text always travels as a section block so an update replaces any
// previous buttons.
func buildMessageOptions(msg telegraph.OutboundMessage) []slackapi.MsgOption {
	var blocks []slackapi.Block
	if msg.Text != "" {
		blocks = append(blocks, slackapi.NewSectionBlock(slackapi.NewTextBlockObject(slackapi.PlainTextType, msg.Text, true, false), nil, nil))
	}
	if msg.Menu != nil {
		for i, row := range msg.Menu.Rows() {
			var elems []slackapi.BlockElement
			for _, o := range row {
				btn := slackapi.NewButtonBlockElement(o.Code, o.Code, slackapi.NewTextBlockObject(slackapi.PlainTextType, o.Label, true, false))
				elems = append(elems, btn)
			}
			blocks = append(blocks, slackapi.NewActionBlock("menu-"+strconv.Itoa(i), elems...))
		}
	}
	return []slackapi.MsgOption{
		slackapi.MsgOptionText(msg.Text, false),
		slackapi.MsgOptionBlocks(blocks...),
	}
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err // not a rate limit error, don't retry
		}

		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}

// parseSlackTimestamp converts a Slack timestamp (e.g., "1234567890.123456")
// to a time.Time.
func parseSlackTimestamp(ts string) time.Time {
	parts := strings.SplitN(ts, ".", 2)
	sec, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
