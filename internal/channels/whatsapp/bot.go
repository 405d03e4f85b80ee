// Package whatsapp provides the WhatsApp channel backend on a linked
// device session.
package whatsapp

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	chtypes "github.com/roelfdiedericks/reportbot/internal/channels/types"
	. "github.com/roelfdiedericks/reportbot/internal/logging"
	"github.com/roelfdiedericks/reportbot/internal/media"
	"github.com/roelfdiedericks/reportbot/internal/messaging"
)

// Config holds the WhatsApp channel configuration.
// Session state (keys, device identity) lives in the whatsmeow SQLite store;
// pairing is via QR code.
type Config struct {
	DBPath string
}

// Bot represents the WhatsApp channel
type Bot struct {
	client  *whatsmeow.Client
	store   *deviceStore
	handler chtypes.InboundHandler
	book    *optionBook

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
	lastError error
}

// New opens the device store and prepares a client for the paired device.
func New(cfg Config, handler chtypes.InboundHandler) (*Bot, error) {
	store, err := openStore(context.Background(), cfg.DBPath, &logAdapter{module: "store"})
	if err != nil {
		return nil, err
	}

	device, err := store.container.GetFirstDevice(context.Background())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to get whatsapp device: %w", err)
	}
	if device == nil || device.ID == nil {
		store.Close()
		return nil, fmt.Errorf("no whatsapp device paired, run 'reportbot whatsapp link' first")
	}

	client := whatsmeow.NewClient(device, &logAdapter{module: "client"})
	ctx, cancel := context.WithCancel(context.Background())

	return &Bot{
		client:  client,
		store:   store,
		handler: handler,
		book:    newOptionBook(),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start connects to WhatsApp and starts listening (implements ManagedChannel)
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return nil
	}

	b.client.AddEventHandler(b.handleEvent)

	if err := b.client.Connect(); err != nil {
		b.lastError = err
		return fmt.Errorf("whatsapp: failed to connect: %w", err)
	}

	b.running = true
	b.startedAt = time.Now()
	b.lastError = nil

	L_info("whatsapp: connected", "jid", b.client.Store.ID)
	return nil
}

// Stop disconnects from WhatsApp (implements ManagedChannel)
func (b *Bot) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return b.store.Close()
	}

	L_info("whatsapp: disconnecting")
	b.cancel()
	b.client.Disconnect()
	b.running = false
	return b.store.Close()
}

// Status returns current channel status (implements ManagedChannel)
func (b *Bot) Status() chtypes.ChannelStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()

	info := ""
	if b.client.Store.ID != nil {
		info = b.client.Store.ID.User
	}

	return chtypes.ChannelStatus{
		Running:   b.running,
		Connected: b.client.IsConnected(),
		Error:     b.lastError,
		StartedAt: b.startedAt,
		Info:      info,
	}
}

func (b *Bot) Name() string {
	return "whatsapp"
}

func (b *Bot) Kind() messaging.ChannelKind {
	return messaging.WhatsApp
}

func (b *Bot) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		b.handleMessage(v)
	case *events.Connected:
		L_info("whatsapp: connected to server")
	case *events.Disconnected:
		if IsShuttingDown() {
			L_debug("whatsapp: disconnected from server")
		} else {
			L_warn("whatsapp: disconnected from server")
		}
	case *events.LoggedOut:
		L_error("whatsapp: logged out, re-pair with 'reportbot whatsapp link'", "reason", v.Reason)
		b.mu.Lock()
		b.lastError = fmt.Errorf("logged out: %v", v.Reason)
		b.mu.Unlock()
	}
}

func (b *Bot) handleMessage(evt *events.Message) {
	in, ok := inboundFromEvent(evt, b.book)
	if !ok {
		return
	}
	L_debug("whatsapp: message received", "from", in.Address.Raw, "kind", in.Kind)
	if b.handler != nil {
		// whatsmeow delivers events in order on one goroutine; the handler
		// queues and returns, which keeps that order
		b.handler(b.ctx, in)
	}
}

// inboundFromEvent normalizes a direct text message. Replies that pick a
// numbered option become list replies carrying the option's choice id.
func inboundFromEvent(evt *events.Message, book *optionBook) (messaging.Inbound, bool) {
	if evt == nil || evt.Message == nil {
		return messaging.Inbound{}, false
	}
	if evt.Info.IsGroup || evt.Info.IsFromMe {
		return messaging.Inbound{}, false
	}

	text := evt.Message.GetConversation()
	if text == "" {
		text = evt.Message.GetExtendedTextMessage().GetText()
	}

	phone := senderPhone(evt.Info.MessageSource)
	if phone == "" {
		L_warn("whatsapp: sender without phone number ignored", "sender", evt.Info.Sender)
		return messaging.Inbound{}, false
	}

	in := messaging.Inbound{
		Address:    messaging.Address{Kind: messaging.WhatsApp, Raw: phone},
		SenderName: evt.Info.PushName,
		Kind:       messaging.InboundText,
		Text:       text,
		MessageID:  string(evt.Info.ID),
	}
	if text == "" {
		in.Kind = messaging.InboundUnknown
		return in, true
	}
	if book != nil {
		if id, ok := book.resolve(phone, text); ok {
			in.Kind = messaging.InboundListReply
			in.ChoiceID = id
		}
	}
	return in, true
}

// senderPhone returns the phone number of the sender, looking past hidden
// (lid) addressing.
func senderPhone(src types.MessageSource) string {
	if src.Sender.Server == types.DefaultUserServer {
		return src.Sender.User
	}
	if src.SenderAlt.Server == types.DefaultUserServer {
		return src.SenderAlt.User
	}
	return ""
}

// phoneToJID converts a phone number string to a WhatsApp JID
func phoneToJID(phone string) types.JID {
	return types.NewJID(strings.TrimPrefix(phone, "+"), types.DefaultUserServer)
}

// Deliver sends one message to a phone number (implements messaging.Backend)
func (b *Bot) Deliver(ctx context.Context, raw string, msg messaging.Message) error {
	if raw == "" {
		return fmt.Errorf("empty whatsapp number")
	}
	jid := phoneToJID(raw)

	switch m := msg.(type) {
	case messaging.Text:
		return b.sendText(ctx, jid, m.Body)
	case messaging.Buttons:
		return b.sendText(ctx, jid, b.book.renderButtons(raw, m))
	case messaging.List:
		return b.sendText(ctx, jid, b.book.renderList(raw, m))
	case messaging.Photo:
		return b.sendImage(ctx, jid, m.Path, m.Caption)
	}
	return fmt.Errorf("unsupported message %s", messaging.KindOf(msg))
}

func (b *Bot) sendText(ctx context.Context, jid types.JID, text string) error {
	_, err := b.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	return err
}

// sendImage uploads and sends an image from disk
func (b *Bot) sendImage(ctx context.Context, jid types.JID, path, caption string) error {
	img, err := media.Load(path)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	resp, err := b.client.Upload(ctx, img.Data, whatsmeow.MediaImage)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	_, err = b.client.SendMessage(ctx, jid, imageMessage(img, &resp, caption))
	return err
}

// imageMessage creates the proto message for an uploaded image
func imageMessage(img *media.Image, resp *whatsmeow.UploadResponse, caption string) *waE2E.Message {
	fileLength := uint64(img.Size())
	msg := &waE2E.ImageMessage{
		Mimetype:      proto.String(img.MimeType),
		URL:           &resp.URL,
		DirectPath:    &resp.DirectPath,
		MediaKey:      resp.MediaKey,
		FileEncSHA256: resp.FileEncSHA256,
		FileSHA256:    resp.FileSHA256,
		FileLength:    &fileLength,
	}
	if caption != "" {
		msg.Caption = proto.String(caption)
	}
	if img.Width > 0 && img.Height > 0 {
		msg.Width = proto.Uint32(uint32(img.Width))
		msg.Height = proto.Uint32(uint32(img.Height))
	}
	return &waE2E.Message{ImageMessage: msg}
}
