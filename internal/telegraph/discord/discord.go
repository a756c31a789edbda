// Package discord implements the telegraph Adapter for Discord using the Gateway WebSocket.
package discord

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/fieldaudit/internal/supervision"
	"github.com/zulandar/fieldaudit/internal/telegraph"
	"go.uber.org/zap"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for rate-limit retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute

	// Discord component limits.
	maxButtonsPerRow = 5
	maxRows          = 5

	maxDownload = 25 << 20
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	AddHandler(handler interface{}) func()
}

// Adapter implements telegraph.Adapter for Discord via the Gateway WebSocket.
type Adapter struct {
	sess        session
	botToken    string
	botUserID   string
	http        *http.Client
	log         *zap.Logger
	mu          sync.Mutex
	connected   bool
	closed      bool
	inbound     chan telegraph.InboundEvent
	removers    []func()
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken string // Discord bot token
	Logger   *zap.Logger
	// For testing: inject a mock session and HTTP client instead of the real Discord API.
	Session session
	HTTP    *http.Client
}

// New creates a Discord Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	a := &Adapter{
		sess:        opts.Session,
		botToken:    opts.BotToken,
		http:        opts.HTTP,
		log:         opts.Logger,
		inbound:     make(chan telegraph.InboundEvent, 100),
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}
	if a.http == nil {
		a.http = http.DefaultClient
	}
	if a.log == nil {
		a.log = zap.NewNop()
	}
	return a, nil
}

// Connect establishes the Discord Gateway WebSocket connection.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("discord: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.sess == nil {
		dg, err := discordgo.New("Bot " + a.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
		a.sess = dg
	}

	// Capture the bot user ID on connect/reconnect.
	a.removers = append(a.removers, a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		a.mu.Lock()
		a.botUserID = r.User.ID
		a.mu.Unlock()
		a.log.Info("connected", zap.String("user", r.User.Username), zap.String("id", r.User.ID))
	}))
	a.removers = append(a.removers, a.sess.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		a.log.Warn("gateway disconnected, discordgo will auto-reconnect")
	}))

	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	a.connected = true
	return nil
}

// Listen registers message and interaction handlers and returns the
// inbound event channel. Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan telegraph.InboundEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, telegraph.ErrNotConnected
	}
	a.removers = append(a.removers,
		a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			a.handleMessage(m)
		}),
		a.sess.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
			a.handleInteraction(i)
		}),
	)
	return a.inbound, nil
}

// Send delivers a message to Discord, editing msg.EditID when set.
func (a *Adapter) Send(ctx context.Context, msg telegraph.OutboundMessage) error {
	if err := a.ready(); err != nil {
		return err
	}
	if msg.ChatID == "" {
		return fmt.Errorf("discord: no channel specified")
	}
	components := buildComponents(msg.Menu)

	if msg.EditID != "" {
		text := msg.Text
		edit := &discordgo.MessageEdit{
			ID:         msg.EditID,
			Channel:    msg.ChatID,
			Content:    &text,
			Components: &components,
		}
		err := a.retryOnRateLimit(ctx, func() error {
			_, editErr := a.sess.ChannelMessageEditComplex(edit)
			return editErr
		})
		if err != nil {
			return fmt.Errorf("discord: edit message: %w", err)
		}
		return nil
	}

	data := &discordgo.MessageSend{Content: msg.Text, Components: components}
	if err := a.send(ctx, msg.ChatID, data); err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

// SendMediaBatch posts the attachment URLs of items in one message; Discord
// renders each as an embed.
func (a *Adapter) SendMediaBatch(ctx context.Context, chat string, items []supervision.MediaItem) error {
	if err := a.ready(); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	urls := make([]string, len(items))
	for i, it := range items {
		urls[i] = it.Ref
	}
	if err := a.send(ctx, chat, &discordgo.MessageSend{Content: strings.Join(urls, "\n")}); err != nil {
		return fmt.Errorf("discord: send media: %w", err)
	}
	return nil
}

// SendLocal uploads a local file as an attachment.
func (a *Adapter) SendLocal(ctx context.Context, chat, path string) error {
	if err := a.ready(); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("discord: open %s: %w", path, err)
	}
	defer f.Close()
	data := &discordgo.MessageSend{
		Files: []*discordgo.File{{Name: filepath.Base(path), ContentType: "image/jpeg", Reader: f}},
	}
	// The reader is consumed by the first attempt, so uploads are not retried.
	if _, err := a.sess.ChannelMessageSendComplex(chat, data); err != nil {
		return fmt.Errorf("discord: upload: %w", err)
	}
	return nil
}

// Fetch downloads an attachment by URL.
func (a *Adapter) Fetch(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("discord: download: %w", err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discord: download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discord: download: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownload))
	if err != nil {
		return nil, fmt.Errorf("discord: download: %w", err)
	}
	return data, nil
}

// Close gracefully shuts down the adapter connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	for _, remove := range a.removers {
		remove()
	}
	close(a.inbound)
	if a.sess != nil {
		return a.sess.Close()
	}
	return nil
}

// BotUserID returns the bot's Discord user ID (available after Ready).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// SetBotUserID sets the bot user ID (used for self-message filtering).
func (a *Adapter) SetBotUserID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.botUserID = id
}

func (a *Adapter) ready() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return telegraph.ErrNotConnected
	}
	return nil
}

func (a *Adapter) send(ctx context.Context, channelID string, data *discordgo.MessageSend) error {
	return a.retryOnRateLimit(ctx, func() error {
		_, err := a.sess.ChannelMessageSendComplex(channelID, data)
		return err
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

// handleMessage converts a Discord message into inbound events, one per
// attachment.
func (a *Adapter) handleMessage(m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	a.mu.Lock()
	botID := a.botUserID
	a.mu.Unlock()
	if m.Author.ID == botID {
		return
	}
	for _, ev := range convertMessage(m.Message) {
		a.emit(ev)
	}
}

// handleInteraction acknowledges a button press and emits it as a selection.
func (a *Adapter) handleInteraction(i *discordgo.InteractionCreate) {
	if i.Interaction == nil || i.Type != discordgo.InteractionMessageComponent {
		return
	}
	err := a.sess.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	})
	if err != nil {
		a.log.Debug("acknowledge interaction", zap.Error(err))
	}
	if ev, ok := convertInteraction(i.Interaction); ok {
		a.emit(ev)
	}
}

func convertMessage(m *discordgo.Message) []telegraph.InboundEvent {
	base := telegraph.InboundEvent{
		Platform:  "discord",
		ChatID:    m.ChannelID,
		Group:     m.GuildID != "",
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		MessageID: m.ID,
		Timestamp: m.Timestamp,
	}

	var out []telegraph.InboundEvent
	for _, att := range m.Attachments {
		ev := base
		ev.Kind = telegraph.KindMedia
		ev.Media = &supervision.RawMedia{Kind: mediaKind(att.ContentType), Ref: att.URL, MIME: att.ContentType}
		out = append(out, ev)
	}
	if len(out) > 0 {
		return out
	}

	ev := base
	text := strings.TrimSpace(m.Content)
	if name, args, ok := telegraph.SplitCommand(text); ok {
		ev.Kind = telegraph.KindCommand
		ev.Command, ev.Args, ev.Text = name, args, text
		return []telegraph.InboundEvent{ev}
	}
	if coords, ok := telegraph.ParseCoordinates(text); ok {
		ev.Kind = telegraph.KindLocation
		ev.Coords = coords
		return []telegraph.InboundEvent{ev}
	}
	if text == "" {
		return nil
	}
	ev.Kind = telegraph.KindText
	ev.Text = text
	return []telegraph.InboundEvent{ev}
}

func convertInteraction(i *discordgo.Interaction) (telegraph.InboundEvent, bool) {
	user := i.User
	if i.Member != nil && i.Member.User != nil {
		user = i.Member.User
	}
	if user == nil {
		return telegraph.InboundEvent{}, false
	}
	ev := telegraph.InboundEvent{
		Platform: "discord",
		Kind:     telegraph.KindSelection,
		ChatID:   i.ChannelID,
		Group:    i.GuildID != "",
		UserID:   user.ID,
		UserName: user.Username,
		Text:     i.MessageComponentData().CustomID,
	}
	if i.Message != nil {
		ev.MessageID = i.Message.ID
		ev.Timestamp = i.Message.Timestamp
	}
	return ev, true
}

func mediaKind(contentType string) supervision.MediaKind {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return supervision.MediaPhoto
	case strings.HasPrefix(contentType, "video/"):
		return supervision.MediaVideo
	}
	return supervision.MediaOther
}

// buildComponents lays a menu out as button rows within Discord's limits.
// An edit always carries the slice, so a nil menu clears the old buttons.
func buildComponents(menu *supervision.Menu) []discordgo.MessageComponent {
	components := []discordgo.MessageComponent{}
	if menu == nil {
		return components
	}
	rows := menu.Rows()
	if menu.Columns > maxButtonsPerRow || len(rows) > maxRows {
		rows = (&supervision.Menu{Options: menu.Options, Columns: maxButtonsPerRow}).Rows()
	}
	for i, row := range rows {
		if i == maxRows {
			break
		}
		var buttons []discordgo.MessageComponent
		for _, o := range row {
			buttons = append(buttons, discordgo.Button{Label: o.Label, Style: discordgo.PrimaryButton, CustomID: o.Code})
		}
		components = append(components, discordgo.ActionsRow{Components: buttons})
	}
	return components
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != http.StatusTooManyRequests {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}
		a.log.Warn("rate limited", zap.Int("attempt", attempt+1), zap.Duration("wait", wait))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
