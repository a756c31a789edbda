// Package telegram implements the telegraph Adapter for Telegram using long
// polling.
package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/zulandar/fieldaudit/internal/supervision"
	"github.com/zulandar/fieldaudit/internal/telegraph"
	"go.uber.org/zap"
)

// maxDownload caps Fetch at the Bot API file size limit.
const maxDownload = 20 << 20

// botAPI abstracts the tgbotapi.BotAPI methods we use, enabling test mocks.
type botAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	SendMediaGroup(config tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Adapter implements telegraph.Adapter for Telegram.
type Adapter struct {
	api       botAPI
	token     string
	timeout   int
	debug     bool
	http      *http.Client
	log       *zap.Logger
	mu        sync.Mutex
	connected bool
	closed    bool
	listening bool
	botUserID string
	inbound   chan telegraph.InboundEvent
	cancel    context.CancelFunc
}

// AdapterOpts holds parameters for creating a Telegram Adapter.
type AdapterOpts struct {
	Token   string
	Timeout int // long-poll timeout in seconds
	Debug   bool
	Logger  *zap.Logger

	// For testing: inject a mock bot and HTTP client.
	API       botAPI
	BotUserID string
	HTTP      *http.Client
}

// New creates a Telegram Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.API == nil && opts.Token == "" {
		return nil, fmt.Errorf("telegram: bot token is required")
	}
	a := &Adapter{
		api:       opts.API,
		token:     opts.Token,
		timeout:   opts.Timeout,
		debug:     opts.Debug,
		http:      opts.HTTP,
		log:       opts.Logger,
		botUserID: opts.BotUserID,
		inbound:   make(chan telegraph.InboundEvent, 100),
	}
	if a.timeout <= 0 {
		a.timeout = 60
	}
	if a.http == nil {
		a.http = http.DefaultClient
	}
	if a.log == nil {
		a.log = zap.NewNop()
	}
	return a, nil
}

// Connect authenticates the bot token.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("telegram: adapter already closed")
	}
	if a.connected {
		return nil
	}
	if a.api == nil {
		bot, err := tgbotapi.NewBotAPI(a.token)
		if err != nil {
			return fmt.Errorf("telegram: connect: %w", err)
		}
		bot.Debug = a.debug
		a.api = bot
		a.botUserID = strconv.FormatInt(bot.Self.ID, 10)
		a.log.Info("connected", zap.String("bot", bot.Self.UserName))
	}
	a.connected = true
	return nil
}

// BotUserID returns the bot's Telegram user ID.
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// Listen starts long polling and returns the inbound event channel.
func (a *Adapter) Listen(ctx context.Context) (<-chan telegraph.InboundEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, telegraph.ErrNotConnected
	}
	if a.listening {
		return a.inbound, nil
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = a.timeout
	updates := a.api.GetUpdatesChan(u)

	listenCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.listening = true
	go a.pump(listenCtx, updates)
	return a.inbound, nil
}

// pump converts updates until ctx ends or polling stops, then closes the
// inbound channel.
func (a *Adapter) pump(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	defer close(a.inbound)
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			if upd.CallbackQuery != nil {
				a.answer(upd.CallbackQuery.ID)
			}
			ev, ok := convertUpdate(upd)
			if !ok {
				continue
			}
			select {
			case a.inbound <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// answer acknowledges a button press so the client stops its spinner.
func (a *Adapter) answer(id string) {
	if _, err := a.api.Request(tgbotapi.NewCallback(id, "")); err != nil {
		a.log.Debug("answer callback", zap.Error(err))
	}
}

// Send delivers a text message, editing msg.EditID when set.
func (a *Adapter) Send(ctx context.Context, msg telegraph.OutboundMessage) error {
	if err := a.ready(); err != nil {
		return err
	}
	chat, err := chatID(msg.ChatID)
	if err != nil {
		return err
	}

	if msg.EditID != "" {
		mid, err := strconv.Atoi(msg.EditID)
		if err != nil {
			return fmt.Errorf("telegram: message id %q: %w", msg.EditID, err)
		}
		edit := tgbotapi.NewEditMessageText(chat, mid, msg.Text)
		if msg.Menu != nil {
			kb := inlineKeyboard(msg.Menu)
			edit.ReplyMarkup = &kb
		}
		if _, err := a.api.Send(edit); err != nil {
			return fmt.Errorf("telegram: edit message: %w", err)
		}
		return nil
	}

	out := tgbotapi.NewMessage(chat, msg.Text)
	switch {
	case msg.Menu != nil:
		out.ReplyMarkup = inlineKeyboard(msg.Menu)
	case msg.LocationKeyboard:
		kb := tgbotapi.NewReplyKeyboard(tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButtonLocation("📍 Enviar ubicación actual"),
		))
		kb.OneTimeKeyboard = true
		kb.ResizeKeyboard = true
		out.ReplyMarkup = kb
	case msg.RemoveKeyboard:
		out.ReplyMarkup = tgbotapi.NewRemoveKeyboard(false)
	}
	if _, err := a.api.Send(out); err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}

// SendMediaBatch sends items as a media group. A single item is sent on its
// own since groups need at least two.
func (a *Adapter) SendMediaBatch(ctx context.Context, chat string, items []supervision.MediaItem) error {
	if err := a.ready(); err != nil {
		return err
	}
	id, err := chatID(chat)
	if err != nil {
		return err
	}
	switch len(items) {
	case 0:
		return nil
	case 1:
		it := items[0]
		var c tgbotapi.Chattable = tgbotapi.NewVideo(id, tgbotapi.FileID(it.Ref))
		if it.Kind == supervision.MediaPhoto {
			c = tgbotapi.NewPhoto(id, tgbotapi.FileID(it.Ref))
		}
		if _, err := a.api.Send(c); err != nil {
			return fmt.Errorf("telegram: send media: %w", err)
		}
		return nil
	}
	media := make([]interface{}, len(items))
	for i, it := range items {
		if it.Kind == supervision.MediaPhoto {
			media[i] = tgbotapi.NewInputMediaPhoto(tgbotapi.FileID(it.Ref))
		} else {
			media[i] = tgbotapi.NewInputMediaVideo(tgbotapi.FileID(it.Ref))
		}
	}
	if _, err := a.api.SendMediaGroup(tgbotapi.NewMediaGroup(id, media)); err != nil {
		return fmt.Errorf("telegram: send media group: %w", err)
	}
	return nil
}

// SendLocal uploads a local photo.
func (a *Adapter) SendLocal(ctx context.Context, chat, path string) error {
	if err := a.ready(); err != nil {
		return err
	}
	id, err := chatID(chat)
	if err != nil {
		return err
	}
	if _, err := a.api.Send(tgbotapi.NewPhoto(id, tgbotapi.FilePath(path))); err != nil {
		return fmt.Errorf("telegram: upload photo: %w", err)
	}
	return nil
}

// Fetch downloads a file by its file id.
func (a *Adapter) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	url, err := a.api.GetFileDirectURL(ref)
	if err != nil {
		return nil, fmt.Errorf("telegram: file url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: download: %w", err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram: download: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownload))
	if err != nil {
		return nil, fmt.Errorf("telegram: download: %w", err)
	}
	return data, nil
}

// Close stops polling and closes the inbound channel.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.listening {
		a.cancel()
		a.api.StopReceivingUpdates()
	} else {
		close(a.inbound)
	}
	return nil
}

func (a *Adapter) ready() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return telegraph.ErrNotConnected
	}
	return nil
}

func chatID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: chat id %q: %w", s, err)
	}
	return id, nil
}

func inlineKeyboard(m *supervision.Menu) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, row := range m.Rows() {
		var buttons []tgbotapi.InlineKeyboardButton
		for _, o := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(o.Label, o.Code))
		}
		rows = append(rows, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// convertUpdate maps an update to an inbound event. Updates the bot does
// not act on report false.
func convertUpdate(upd tgbotapi.Update) (telegraph.InboundEvent, bool) {
	if q := upd.CallbackQuery; q != nil {
		if q.Message == nil || q.Message.Chat == nil || q.From == nil {
			return telegraph.InboundEvent{}, false
		}
		ev := base(q.Message.Chat, q.From)
		ev.Kind = telegraph.KindSelection
		ev.MessageID = strconv.Itoa(q.Message.MessageID)
		ev.Text = q.Data
		ev.Timestamp = q.Message.Time()
		return ev, true
	}

	msg := upd.Message
	if msg == nil || msg.Chat == nil || msg.From == nil {
		return telegraph.InboundEvent{}, false
	}
	ev := base(msg.Chat, msg.From)
	ev.MessageID = strconv.Itoa(msg.MessageID)
	ev.Timestamp = msg.Time()

	switch {
	case msg.IsCommand():
		ev.Kind = telegraph.KindCommand
		ev.Command = strings.ToLower(msg.Command())
		ev.Args = strings.TrimSpace(msg.CommandArguments())
		ev.Text = msg.Text
	case msg.Location != nil:
		ev.Kind = telegraph.KindLocation
		ev.Coords = &supervision.Coordinates{Lat: msg.Location.Latitude, Lon: msg.Location.Longitude}
	case len(msg.Photo) > 0:
		ev.Kind = telegraph.KindMedia
		ev.Media = &supervision.RawMedia{Kind: supervision.MediaPhoto, Ref: msg.Photo[len(msg.Photo)-1].FileID, MIME: "image/jpeg"}
	case msg.Video != nil:
		ev.Kind = telegraph.KindMedia
		ev.Media = &supervision.RawMedia{Kind: supervision.MediaVideo, Ref: msg.Video.FileID, MIME: msg.Video.MimeType}
	case msg.Document != nil:
		kind := supervision.MediaOther
		if strings.HasPrefix(msg.Document.MimeType, "video/") {
			kind = supervision.MediaVideo
		}
		ev.Kind = telegraph.KindMedia
		ev.Media = &supervision.RawMedia{Kind: kind, Ref: msg.Document.FileID, MIME: msg.Document.MimeType}
	case msg.Audio != nil || msg.Voice != nil || msg.Sticker != nil || msg.Animation != nil:
		ev.Kind = telegraph.KindMedia
		ev.Media = &supervision.RawMedia{Kind: supervision.MediaOther}
	case msg.Text != "":
		ev.Kind = telegraph.KindText
		ev.Text = msg.Text
	default:
		return telegraph.InboundEvent{}, false
	}
	return ev, true
}

func base(chat *tgbotapi.Chat, from *tgbotapi.User) telegraph.InboundEvent {
	name := from.UserName
	if name == "" {
		name = from.FirstName
	}
	return telegraph.InboundEvent{
		Platform: "telegram",
		ChatID:   strconv.FormatInt(chat.ID, 10),
		Group:    chat.IsGroup() || chat.IsSuperGroup(),
		UserID:   strconv.FormatInt(from.ID, 10),
		UserName: name,
	}
}
