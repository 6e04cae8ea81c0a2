// Package telegram implements transport.Adapter on top of telebot.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"taskbot/internal/transport"
	"taskbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	log logx.Logger

	bot       *tele.Bot
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
	runMu     sync.Mutex
	running   bool

	// droppedUpdates counts updates lost to a slow consumer; flushed to the
	// log periodically.
	droppedUpdates atomic.Uint64

	menuMu   sync.Mutex
	menuHash uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{log: log.With(logx.String("comp", "telegram")), bot: b}, nil
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	rctx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel
	a.runWG.Add(2)
	a.runMu.Unlock()

	go func() {
		defer a.runWG.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-rctx.Done():
				a.flushDropped(cap(out))
				return
			case <-ticker.C:
				a.flushDropped(cap(out))
			}
		}
	}()

	push := func(up transport.Update) {
		select {
		case out <- up:
		default:
			a.droppedUpdates.Add(1)
		}
	}

	onMessage := func(c tele.Context) error {
		if m := c.Message(); m != nil && m.Sender != nil {
			push(transport.Update{Kind: transport.UpdateMessage, Message: toMessage(m)})
		}
		return nil
	}
	a.bot.Handle(tele.OnText, onMessage)
	a.bot.Handle(tele.OnVoice, onMessage)

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || m == nil || cb.Sender == nil {
			return nil
		}
		push(transport.Update{
			Kind: transport.UpdateCallback,
			Callback: &transport.Callback{
				ID:        cb.ID,
				ChatID:    m.Chat.ID,
				FromID:    cb.Sender.ID,
				MessageID: m.ID,
				Data:      cb.Data,
			},
		})
		return nil
	})

	go func() {
		defer a.runWG.Done()
		go func() {
			<-rctx.Done()
			a.bot.Stop()
		}()
		a.log.Info("polling started")
		a.bot.Start() // blocks until Stop
	}()
	return nil
}

func toMessage(m *tele.Message) *transport.Message {
	out := &transport.Message{
		ID:        m.ID,
		ChatID:    m.Chat.ID,
		FromID:    m.Sender.ID,
		Username:  m.Sender.Username,
		FirstName: m.Sender.FirstName,
		Text:      m.Text,
		IsGroup:   m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup,
	}
	if m.Voice != nil {
		out.Voice = &transport.Voice{FileID: m.Voice.FileID, Duration: m.Voice.Duration, MIME: m.Voice.MIME}
	}
	return out
}

func (a *Adapter) flushDropped(capacity int) {
	if n := a.droppedUpdates.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Int64("count", int64(n)), logx.Int("chan_cap", capacity))
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	go a.bot.Stop()

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()

	// Never block shutdown on a pending getUpdates long-poll.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
		a.log.Info("polling stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		a.log.Warn("telegram stop grace elapsed; continuing shutdown")
		return nil
	}
}

func (a *Adapter) SendText(ctx context.Context, chatID int64, text string) error {
	_, err := a.Send(ctx, chatID, text, nil)
	return err
}

func (a *Adapter) Send(_ context.Context, chatID int64, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	msg, err := a.bot.Send(&tele.Chat{ID: chatID}, truncRunes(text, maxTextRunes), sendOptions(opt))
	if err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChatID: chatID, MessageID: msg.ID}, nil
}

func (a *Adapter) SendPhoto(_ context.Context, chatID int64, png []byte, caption string, opt *transport.SendOptions) (transport.MessageRef, error) {
	photo := &tele.Photo{File: tele.FromReader(bytes.NewReader(png)), Caption: truncRunes(caption, maxCaptionRunes)}
	msg, err := a.bot.Send(&tele.Chat{ID: chatID}, photo, sendOptions(opt))
	if err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChatID: chatID, MessageID: msg.ID}, nil
}

func (a *Adapter) EditText(_ context.Context, ref transport.MessageRef, text string) error {
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	_, err := a.bot.Edit(m, truncRunes(text, maxTextRunes))
	return err
}

func (a *Adapter) AnswerCallback(_ context.Context, callbackID string, text string) error {
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: truncRunes(text, maxAnswerRunes)})
}

func (a *Adapter) DownloadFile(ctx context.Context, fileID, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Download(&tele.File{FileID: fileID}, dst)
}

func sendOptions(opt *transport.SendOptions) *tele.SendOptions {
	so := &tele.SendOptions{}
	if opt == nil {
		return so
	}
	so.ParseMode = tele.ParseMode(opt.ParseMode)
	so.DisableWebPagePreview = opt.DisablePreview
	if len(opt.Keyboard) == 0 && len(opt.Inline) == 0 {
		return so
	}
	rm := &tele.ReplyMarkup{ResizeKeyboard: true}
	for _, row := range opt.Keyboard {
		btns := make([]tele.ReplyButton, 0, len(row))
		for _, label := range row {
			btns = append(btns, tele.ReplyButton{Text: label})
		}
		rm.ReplyKeyboard = append(rm.ReplyKeyboard, btns)
	}
	for _, row := range opt.Inline {
		btns := make([]tele.InlineButton, 0, len(row))
		for _, b := range row {
			btns = append(btns, tele.InlineButton{Text: b.Text, Data: b.Data})
		}
		rm.InlineKeyboard = append(rm.InlineKeyboard, btns)
	}
	so.ReplyMarkup = rm
	return so
}

// UpdateMenuCommands calls setMyCommands only when the list changed.
func (a *Adapter) UpdateMenuCommands(_ context.Context, cmds []transport.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	list := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		h.Write([]byte(c.Command))
		h.Write([]byte{0})
		h.Write([]byte(d))
		h.Write([]byte{0})
		list = append(list, tele.Command{Text: c.Command, Description: d})
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if err := a.bot.SetCommands(list); err != nil {
		return err
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(list)))
	return nil
}
