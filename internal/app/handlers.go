package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"taskbot/internal/chart"
	"taskbot/internal/eventbus"
	"taskbot/internal/extract"
	"taskbot/internal/model"
	"taskbot/internal/notifier"
	"taskbot/internal/reminder"
	"taskbot/internal/router"
	"taskbot/internal/speech"
	"taskbot/internal/storage"
	"taskbot/internal/transport"
	"taskbot/pkg/logx"
)

const upcomingWindow = 72 * time.Hour

type Extractor interface {
	Extract(ctx context.Context, text string) (model.Candidate, error)
}

type Reminders interface {
	ScheduleTask(t model.Task) bool
	Cancel(taskID int64) bool
	DefaultSchedule() []reminder.Slot
}

// Replier is the part of transport.Adapter the handlers answer through.
type Replier interface {
	Send(ctx context.Context, chatID int64, text string, opt *transport.SendOptions) (transport.MessageRef, error)
	SendPhoto(ctx context.Context, chatID int64, png []byte, caption string, opt *transport.SendOptions) (transport.MessageRef, error)
	EditText(ctx context.Context, ref transport.MessageRef, text string) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
	DownloadFile(ctx context.Context, fileID, dst string) error
}

type HandlerDeps struct {
	Store     storage.Store
	Extractor Extractor
	Reminders Reminders
	Chart     chart.Renderer
	// Speech may be nil; voice notes then get a text-only notice.
	Speech     speech.Transcriber
	SpeechLang string
	Replier    Replier
	// Notifier carries replies that must not block the dispatch loop.
	Notifier reminder.Notifier
	Bus      eventbus.Bus
	Log      logx.Logger
	Location *time.Location
	Now      func() time.Time
	// TempDir holds downloaded voice notes. Empty means os.TempDir().
	TempDir string
}

type Handlers struct {
	d   HandlerDeps
	log logx.Logger
}

func NewHandlers(d HandlerDeps) *Handlers {
	if d.Location == nil {
		d.Location = time.Local
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.TempDir == "" {
		d.TempDir = os.TempDir()
	}
	return &Handlers{d: d, log: d.Log.With(logx.String("comp", "handlers"))}
}

// Commands lists the bot menu in display order.
func Commands() []transport.BotCommand {
	return []transport.BotCommand{
		{Command: "start", Description: "شروع کار با ربات"},
		{Command: "today", Description: "برنامه امروز"},
		{Command: "schedule", Description: "برنامه‌های آینده"},
		{Command: "summary", Description: "نمودار بهره‌وری هفتگی"},
		{Command: "defaults", Description: "برنامه پیش‌فرض"},
		{Command: "add", Description: "اضافه کردن تسک جدید"},
		{Command: "done", Description: "علامت انجام شد"},
		{Command: "missed", Description: "علامت انجام نشد"},
		{Command: "help", Description: "راهنما"},
	}
}

func (h *Handlers) Routes() router.Routes {
	return router.Routes{
		Commands: map[string]router.HandlerFunc{
			"start":    h.Start,
			"help":     h.reply(helpText),
			"add":      h.reply(addText),
			"today":    h.Today,
			"schedule": h.Schedule,
			"summary":  h.Summary,
			"defaults": h.Defaults,
			"done":     h.statusCommand(model.StatusCompleted),
			"missed":   h.statusCommand(model.StatusMissed),
		},
		Unknown:  h.reply(unknownCmdText),
		Text:     h.Text,
		Voice:    h.Voice,
		Callback: h.Callback,
		Busy:     h.queueReply(busyText),
		Limited:  h.queueReply(limitedText),
	}
}

func (h *Handlers) send(ctx context.Context, chatID int64, text string, opt *transport.SendOptions) error {
	_, err := h.d.Replier.Send(ctx, chatID, text, opt)
	return err
}

func (h *Handlers) reply(text string) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		return h.send(ctx, req.ChatID, text, nil)
	}
}

// queueReply hands the text to the notifier so the caller never waits on the
// network.
func (h *Handlers) queueReply(text string) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		if h.d.Notifier == nil {
			return nil
		}
		return h.d.Notifier.Notify(ctx, notifier.Delivery{
			UserID:   req.ChatID,
			Kind:     notifier.KindReply,
			Text:     text,
			DedupKey: "reply:" + strconv.FormatInt(req.ChatID, 10) + ":" + text,
		})
	}
}

func (h *Handlers) registerUser(ctx context.Context, req *router.Request) error {
	u := model.User{ID: req.FromID}
	if m := req.Message(); m != nil {
		u.Username, u.FirstName = m.Username, m.FirstName
	}
	return h.d.Store.AddUser(ctx, u)
}

func (h *Handlers) Start(ctx context.Context, req *router.Request) error {
	if err := h.registerUser(ctx, req); err != nil {
		_ = h.send(ctx, req.ChatID, genericFailedText, nil)
		return fmt.Errorf("register user: %w", err)
	}
	return h.send(ctx, req.ChatID, welcomeText, &transport.SendOptions{Keyboard: mainKeyboard})
}

func (h *Handlers) Today(ctx context.Context, req *router.Request) error {
	tasks, err := h.d.Store.GetTodayTasks(ctx, req.FromID)
	if err != nil {
		_ = h.send(ctx, req.ChatID, genericFailedText, nil)
		return err
	}
	if len(tasks) == 0 {
		return h.send(ctx, req.ChatID, noTodayText, nil)
	}
	text := formatToday(tasks)
	if err := h.send(ctx, req.ChatID, text, nil); err != nil {
		return err
	}
	if h.d.Chart == nil {
		return nil
	}
	date := h.d.Now().In(h.d.Location).Format(model.DateLayout)
	png, err := h.d.Chart.Daily(ctx, req.FromID, date, tasks)
	if err != nil {
		req.Logger.Debug("daily chart skipped", logx.Err(err))
		return nil
	}
	_, err = h.d.Replier.SendPhoto(ctx, req.ChatID, png, reminder.SummaryCaption, nil)
	return err
}

func (h *Handlers) Schedule(ctx context.Context, req *router.Request) error {
	tasks, err := h.d.Store.GetUpcomingTasks(ctx, req.FromID, upcomingWindow)
	if err != nil {
		_ = h.send(ctx, req.ChatID, genericFailedText, nil)
		return err
	}
	if len(tasks) == 0 {
		return h.send(ctx, req.ChatID, noUpcomingText, nil)
	}
	return h.send(ctx, req.ChatID, formatUpcoming(tasks), nil)
}

// Summary sends the weekly productivity chart over the last 7 days,
// today included.
func (h *Handlers) Summary(ctx context.Context, req *router.Request) error {
	today := h.d.Now().In(h.d.Location)
	from := today.AddDate(0, 0, -6).Format(model.DateLayout)
	sums, err := h.d.Store.ListDailySummaries(ctx, req.FromID, from, today.Format(model.DateLayout))
	if err != nil {
		_ = h.send(ctx, req.ChatID, genericFailedText, nil)
		return err
	}
	if h.d.Chart == nil || len(sums) < chart.MinWeeklyDays {
		return h.send(ctx, req.ChatID, weeklyNoData, nil)
	}
	png, err := h.d.Chart.Weekly(ctx, req.FromID, sums)
	if errors.Is(err, chart.ErrInsufficientData) {
		return h.send(ctx, req.ChatID, weeklyNoData, nil)
	}
	if err != nil {
		_ = h.send(ctx, req.ChatID, genericFailedText, nil)
		return fmt.Errorf("weekly chart: %w", err)
	}
	_, err = h.d.Replier.SendPhoto(ctx, req.ChatID, png, weeklyCaption, nil)
	return err
}

func (h *Handlers) Defaults(ctx context.Context, req *router.Request) error {
	return h.send(ctx, req.ChatID, formatDefaults(h.d.Reminders.DefaultSchedule()), nil)
}

func (h *Handlers) statusCommand(status model.Status) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		if len(req.Args) == 0 {
			return h.send(ctx, req.ChatID, statusUsage, nil)
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(req.Args[0], "#"), 10, 64)
		if err != nil || id <= 0 {
			return h.send(ctx, req.ChatID, statusUsage, nil)
		}
		var notes *string
		if len(req.Args) > 1 {
			n := strings.Join(req.Args[1:], " ")
			notes = &n
		}
		t, ok, err := h.setStatus(ctx, req.FromID, id, status, notes)
		if err != nil {
			_ = h.send(ctx, req.ChatID, genericFailedText, nil)
			return err
		}
		if !ok {
			return h.send(ctx, req.ChatID, taskNotFound, nil)
		}
		return h.send(ctx, req.ChatID, formatStatusChanged(t), nil)
	}
}

// setStatus applies a status change to one of the user's tasks. Tasks of
// other users read as missing.
func (h *Handlers) setStatus(ctx context.Context, userID, taskID int64, status model.Status, notes *string) (model.Task, bool, error) {
	t, ok, err := h.d.Store.GetTask(ctx, taskID)
	if err != nil || !ok || t.UserID != userID {
		return model.Task{}, false, err
	}
	t, ok, err = h.d.Store.UpdateStatus(ctx, taskID, status, notes)
	if err != nil || !ok {
		return t, ok, err
	}
	if status != model.StatusPending {
		h.d.Reminders.Cancel(taskID)
	}
	eventbus.Publish(h.d.Bus, eventbus.TaskStatusChanged, t)
	return t, true, nil
}

// buttonRoutes maps reply keyboard labels onto commands.
func (h *Handlers) buttonRoutes() map[string]router.HandlerFunc {
	return map[string]router.HandlerFunc{
		btnToday:    h.Today,
		btnAdd:      h.reply(addText),
		btnDefaults: h.Defaults,
		btnWeekly:   h.Summary,
	}
}

func (h *Handlers) Text(ctx context.Context, req *router.Request) error {
	if fn, ok := h.buttonRoutes()[req.Text]; ok {
		return fn(ctx, req)
	}
	return h.createTask(ctx, req, req.Text)
}

// createTask runs the text flow: register, extract, persist, arm, confirm.
func (h *Handlers) createTask(ctx context.Context, req *router.Request, text string) error {
	if err := h.registerUser(ctx, req); err != nil {
		_ = h.send(ctx, req.ChatID, genericFailedText, nil)
		return fmt.Errorf("register user: %w", err)
	}
	cand, err := h.d.Extractor.Extract(ctx, text)
	if errors.Is(err, extract.ErrNotUnderstood) {
		return h.send(ctx, req.ChatID, notUnderstoodText, nil)
	}
	if err != nil {
		_ = h.send(ctx, req.ChatID, genericFailedText, nil)
		return fmt.Errorf("extract: %w", err)
	}
	task, err := h.d.Store.AddTask(ctx, req.FromID, cand)
	if err != nil {
		_ = h.send(ctx, req.ChatID, saveFailedText, nil)
		return fmt.Errorf("add task: %w", err)
	}
	armed := h.d.Reminders.ScheduleTask(task)
	eventbus.Publish(h.d.Bus, eventbus.TaskAdded, task)
	req.Logger.Info("task created",
		logx.Int64("task", task.ID),
		logx.String("source", cand.Source),
		logx.String("slot", task.Date+" "+task.Time),
		logx.Bool("armed", armed),
	)
	return h.send(ctx, req.ChatID, formatConfirmation(task, cand, armed), nil)
}

// Voice downloads and transcribes a voice note, echoes the transcript, then
// runs the text flow on it. Extraction never runs on a failed transcript.
func (h *Handlers) Voice(ctx context.Context, req *router.Request) error {
	msg := req.Message()
	if msg == nil || msg.Voice == nil {
		return nil
	}
	if h.d.Speech == nil {
		return h.send(ctx, req.ChatID, voiceOffText, nil)
	}

	f, err := os.CreateTemp(h.d.TempDir, "voice-"+strconv.FormatInt(req.FromID, 10)+"-*.ogg")
	if err != nil {
		_ = h.send(ctx, req.ChatID, voiceFailedText, nil)
		return err
	}
	path := f.Name()
	_ = f.Close()
	defer os.Remove(path)

	if err := h.d.Replier.DownloadFile(ctx, msg.Voice.FileID, path); err != nil {
		_ = h.send(ctx, req.ChatID, voiceFailedText, nil)
		return fmt.Errorf("download voice: %w", err)
	}
	text, err := h.d.Speech.Transcribe(ctx, path, h.d.SpeechLang)
	if errors.Is(err, speech.ErrUnavailable) {
		return h.send(ctx, req.ChatID, voiceOffText, nil)
	}
	if err != nil {
		_ = h.send(ctx, req.ChatID, voiceFailedText, nil)
		return fmt.Errorf("transcribe %s: %w", filepath.Base(path), err)
	}
	if err := h.send(ctx, req.ChatID, formatTranscript(text), nil); err != nil {
		return err
	}
	return h.createTask(ctx, req, text)
}

// Callback handles the done/missed buttons attached to reminders.
func (h *Handlers) Callback(ctx context.Context, req *router.Request) error {
	cb := req.Callback()
	if cb == nil {
		return nil
	}
	status, id, ok := reminder.ParseCallback(req.Text)
	if !ok {
		return h.d.Replier.AnswerCallback(ctx, cb.ID, "")
	}
	t, found, err := h.setStatus(ctx, req.FromID, id, status, nil)
	if err != nil {
		_ = h.d.Replier.AnswerCallback(ctx, cb.ID, genericFailedText)
		return err
	}
	if !found {
		return h.d.Replier.AnswerCallback(ctx, cb.ID, taskNotFound)
	}
	if err := h.d.Replier.AnswerCallback(ctx, cb.ID, callbackAnswer); err != nil {
		req.Logger.Debug("answer callback failed", logx.Err(err))
	}
	return h.d.Replier.EditText(ctx, transport.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}, reminder.ReminderText(t)+"\n\n"+formatStatusChanged(t))
}
