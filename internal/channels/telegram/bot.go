// Package telegram provides the Telegram channel backend.
package telegram

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/roelfdiedericks/reportbot/internal/channels/types"
	. "github.com/roelfdiedericks/reportbot/internal/logging"
	"github.com/roelfdiedericks/reportbot/internal/media"
	"github.com/roelfdiedericks/reportbot/internal/messaging"
)

// Bot represents the Telegram channel
type Bot struct {
	bot     *tele.Bot
	config  Config
	handler types.InboundHandler

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
	lastError error
}

// New creates a new Telegram bot. It contacts the API to resolve the bot
// identity, so a bad token fails here.
func New(cfg Config, handler types.InboundHandler) (*Bot, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("telegram bot token not configured")
	}

	pref := tele.Settings{
		Token:  cfg.BotToken,
		Poller: &tele.LongPoller{Timeout: cfg.pollTimeout()},
		// updates are handed to the handler in poll order; it only queues them
		Synchronous: true,
		OnError: func(err error, c tele.Context) {
			L_error("telegram: handler error", "error", err)
		},
	}

	L_debug("telegram: creating bot", "tokenLength", len(cfg.BotToken))

	bot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	L_info("telegram: connected",
		"bot", "@"+bot.Me.Username,
		"name", bot.Me.FirstName,
		"id", bot.Me.ID,
	)

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bot{
		bot:     bot,
		config:  cfg,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}
	b.setupHandlers()
	return b, nil
}

func (b *Bot) setupHandlers() {
	b.bot.Handle(tele.OnText, b.handleText)
	b.bot.Handle(tele.OnCallback, b.handleCallback)
}

func (b *Bot) handleText(c tele.Context) error {
	in, ok := inboundFromMessage(c.Message())
	if !ok {
		L_debug("telegram: ignoring non-private message", "chat", c.Chat().ID)
		return nil
	}
	L_debug("telegram: message received", "chat", in.Address.Raw, "from", in.SenderName)
	b.dispatch(in)
	return nil
}

func (b *Bot) handleCallback(c tele.Context) error {
	// ack first so the client stops its spinner
	if err := c.Respond(); err != nil {
		L_debug("telegram: callback ack failed", "error", err)
	}
	in, ok := inboundFromCallback(c.Callback())
	if !ok {
		return nil
	}
	L_debug("telegram: choice received", "chat", in.Address.Raw, "choice", in.ChoiceID)
	b.dispatch(in)
	return nil
}

func (b *Bot) dispatch(in messaging.Inbound) {
	if b.handler == nil {
		return
	}
	b.handler(b.ctx, in)
}

// Start begins long polling (implements ManagedChannel)
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}

	L_info("telegram: starting polling", "bot", "@"+b.bot.Me.Username)
	go b.bot.Start()

	b.running = true
	b.startedAt = time.Now()
	b.lastError = nil
	return nil
}

// Stop stops the bot (implements ManagedChannel)
func (b *Bot) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return nil
	}
	L_info("telegram: stopping bot")
	b.cancel()
	b.bot.Stop()
	b.running = false
	return nil
}

// Status returns current channel status (implements ManagedChannel)
func (b *Bot) Status() types.ChannelStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return types.ChannelStatus{
		Running:   b.running,
		Connected: b.running,
		Error:     b.lastError,
		StartedAt: b.startedAt,
		Info:      "@" + b.bot.Me.Username,
	}
}

func (b *Bot) Name() string {
	return "telegram"
}

func (b *Bot) Kind() messaging.ChannelKind {
	return messaging.Telegram
}

// Deliver sends one message to a chat (implements messaging.Backend)
func (b *Bot) Deliver(ctx context.Context, raw string, msg messaging.Message) error {
	chat, err := parseChatID(raw)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", raw, err)
	}

	switch m := msg.(type) {
	case messaging.Text:
		return b.sendWithMarkdownFallback(chat, m.Body, nil)
	case messaging.Buttons:
		return b.sendWithMarkdownFallback(chat, m.Body, inlineKeyboard(m))
	case messaging.List:
		return b.sendWithMarkdownFallback(chat, listBody(m), inlineKeyboard(m))
	case messaging.Photo:
		return b.sendPhoto(chat, m.Path, m.Caption)
	}
	return fmt.Errorf("unsupported message %s", messaging.KindOf(msg))
}

// sendWithMarkdownFallback sends with Markdown parsing and retries as plain
// text when Telegram rejects the markup.
func (b *Bot) sendWithMarkdownFallback(chat tele.Recipient, text string, markup *tele.ReplyMarkup) error {
	opts := &tele.SendOptions{ParseMode: tele.ModeMarkdown, ReplyMarkup: markup}
	if _, err := b.bot.Send(chat, text, opts); err != nil {
		L_debug("telegram: markdown send failed, trying plain text", "error", err)
		_, err = b.bot.Send(chat, text, &tele.SendOptions{ReplyMarkup: markup})
		return err
	}
	return nil
}

func (b *Bot) sendPhoto(chat tele.Recipient, path, caption string) error {
	img, err := media.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load photo: %w", err)
	}
	// readers are consumed by a send, so every attempt gets a fresh one
	newPhoto := func(caption string) *tele.Photo {
		return &tele.Photo{File: tele.FromReader(bytes.NewReader(img.Data)), Caption: caption}
	}

	if len(caption) <= CaptionLimit {
		_, err := b.bot.Send(chat, newPhoto(caption), &tele.SendOptions{ParseMode: tele.ModeMarkdown})
		if err != nil {
			L_debug("telegram: markdown caption failed, trying plain text", "error", err)
			_, err = b.bot.Send(chat, newPhoto(caption))
		}
		return err
	}

	L_debug("telegram: caption exceeds limit, sending photo then text",
		"captionLen", len(caption),
		"limit", CaptionLimit,
	)
	if _, err := b.bot.Send(chat, newPhoto("")); err != nil {
		return fmt.Errorf("failed to send photo: %w", err)
	}
	if err := b.sendWithMarkdownFallback(chat, caption, nil); err != nil {
		L_warn("telegram: failed to send follow-up caption", "error", err)
	}
	return nil
}
