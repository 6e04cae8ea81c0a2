package app

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"taskbot/internal/chart"
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

var testLoc = time.FixedZone("IRST", 3*3600+1800)

func fixedNow() time.Time { return time.Date(2026, 3, 10, 9, 0, 0, 0, testLoc) }

type sent struct {
	chatID int64
	text   string
	photo  bool
	opt    *transport.SendOptions
}

type fakeReplier struct {
	mu       sync.Mutex
	out      []sent
	answers  []string
	edits    []string
	download error
}

func (f *fakeReplier) Send(_ context.Context, chatID int64, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, sent{chatID: chatID, text: text, opt: opt})
	return transport.MessageRef{ChatID: chatID, MessageID: len(f.out)}, nil
}

func (f *fakeReplier) SendPhoto(_ context.Context, chatID int64, _ []byte, caption string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, sent{chatID: chatID, text: caption, photo: true, opt: opt})
	return transport.MessageRef{ChatID: chatID, MessageID: len(f.out)}, nil
}

func (f *fakeReplier) EditText(_ context.Context, _ transport.MessageRef, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeReplier) AnswerCallback(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeReplier) DownloadFile(_ context.Context, _ string, dst string) error {
	if f.download != nil {
		return f.download
	}
	return os.WriteFile(dst, []byte("OggS"), 0o600)
}

func (f *fakeReplier) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.out))
	for _, s := range f.out {
		out = append(out, s.text)
	}
	return out
}

type fakeReminders struct {
	mu        sync.Mutex
	scheduled []int64
	canceled  []int64
	arm       bool
}

func (f *fakeReminders) ScheduleTask(t model.Task) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, t.ID)
	return f.arm
}

func (f *fakeReminders) Cancel(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, id)
	return true
}

func (f *fakeReminders) DefaultSchedule() []reminder.Slot { return reminder.DefaultSlots }

type fakeChart struct{}

func (fakeChart) Daily(context.Context, int64, string, []model.Task) ([]byte, error) {
	return []byte("png"), nil
}

func (fakeChart) Weekly(_ context.Context, _ int64, s []model.DailySummary) ([]byte, error) {
	if len(s) < chart.MinWeeklyDays {
		return nil, chart.ErrInsufficientData
	}
	return []byte("png"), nil
}

type fakeSpeech struct {
	text string
	err  error
	path string
}

func (f *fakeSpeech) Transcribe(_ context.Context, path, _ string) (string, error) {
	f.path = path
	return f.text, f.err
}

type failingStore struct{ storage.Store }

func (failingStore) AddTask(context.Context, int64, model.Candidate) (model.Task, error) {
	return model.Task{}, errors.New("disk full")
}

type fakeNotifier struct {
	mu  sync.Mutex
	out []notifier.Delivery
}

func (f *fakeNotifier) Notify(_ context.Context, d notifier.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, d)
	return nil
}

type fixture struct {
	store storage.Store
	out   *fakeReplier
	rem   *fakeReminders
	sp    *fakeSpeech
	notif *fakeNotifier
	h     *Handlers
}

func newFixture(t *testing.T, mut func(*HandlerDeps)) *fixture {
	t.Helper()
	f := &fixture{
		store: storage.NewMemory(storage.Config{Location: testLoc, Now: fixedNow}),
		out:   &fakeReplier{},
		rem:   &fakeReminders{arm: true},
		sp:    &fakeSpeech{},
		notif: &fakeNotifier{},
	}
	d := HandlerDeps{
		Store:     f.store,
		Extractor: extract.NewCoordinator(extract.Options{Location: testLoc, Now: fixedNow}),
		Reminders: f.rem,
		Chart:     fakeChart{},
		Speech:    f.sp,
		Replier:   f.out,
		Notifier:  f.notif,
		Log:       logx.Nop(),
		Location:  testLoc,
		Now:       fixedNow,
		TempDir:   t.TempDir(),
	}
	if mut != nil {
		mut(&d)
	}
	f.store = d.Store
	f.h = NewHandlers(d)
	return f
}

func textReq(from int64, text string) *router.Request {
	req := &router.Request{
		Update: transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{ChatID: from, FromID: from, Text: text, FirstName: "Sara"}},
		ChatID: from,
		FromID: from,
		Text:   text,
	}
	if cmd, args, ok := router.ParseCommand(text); ok {
		req.Command, req.Args = cmd, args
	}
	return req
}

func TestStart_RegistersUserAndShowsKeyboard(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	if err := f.h.Start(context.Background(), textReq(7, "/start")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	users, _ := f.store.ListUsers(context.Background())
	if len(users) != 1 || users[0].ID != 7 || users[0].FirstName != "Sara" {
		t.Fatalf("users = %+v", users)
	}
	if len(f.out.out) != 1 || f.out.out[0].opt == nil || len(f.out.out[0].opt.Keyboard) != 2 {
		t.Fatalf("reply = %+v", f.out.out)
	}
}

func TestText_CreatesAndArmsTask(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	if err := f.h.Text(context.Background(), textReq(7, "فردا ساعت ۱۰ جلسه ریاضی")); err != nil {
		t.Fatalf("Text: %v", err)
	}
	tasks, _ := f.store.ListPending(context.Background())
	if len(tasks) != 1 {
		t.Fatalf("tasks = %+v", tasks)
	}
	task := tasks[0]
	if task.Date != "2026-03-11" || task.Time != "10:00" || task.UserID != 7 {
		t.Fatalf("task = %+v", task)
	}
	if len(f.rem.scheduled) != 1 || f.rem.scheduled[0] != task.ID {
		t.Fatalf("scheduled = %v", f.rem.scheduled)
	}
	got := f.out.texts()
	if len(got) != 1 || !strings.Contains(got[0], "✅ تسک ثبت شد") || strings.Contains(got[0], "⚠️") {
		t.Fatalf("reply = %q", got)
	}
}

func TestText_UnarmedReminderIsFlagged(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.rem.arm = false
	_ = f.h.Text(context.Background(), textReq(7, "ساعت ۸ صبح ورزش"))
	got := f.out.texts()
	if len(got) != 1 || !strings.Contains(got[0], "⚠️") {
		t.Fatalf("reply = %q", got)
	}
}

type rejectAll struct{}

func (rejectAll) Extract(context.Context, string) (model.Candidate, error) {
	return model.Candidate{}, extract.ErrNotUnderstood
}

func TestText_NotUnderstood(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(d *HandlerDeps) { d.Extractor = rejectAll{} })
	if err := f.h.Text(context.Background(), textReq(7, "؟؟؟")); err != nil {
		t.Fatalf("Text: %v", err)
	}
	if got := f.out.texts(); len(got) != 1 || got[0] != notUnderstoodText {
		t.Fatalf("reply = %q", got)
	}
	if len(f.rem.scheduled) != 0 {
		t.Fatalf("nothing should be scheduled")
	}
}

func TestText_PersistenceFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(d *HandlerDeps) { d.Store = failingStore{d.Store} })
	err := f.h.Text(context.Background(), textReq(7, "فردا ساعت ۱۰ جلسه"))
	if err == nil {
		t.Fatalf("want error")
	}
	if got := f.out.texts(); len(got) != 1 || got[0] != saveFailedText {
		t.Fatalf("reply = %q", got)
	}
	if len(f.rem.scheduled) != 0 {
		t.Fatalf("no reminder may be armed after a failed save")
	}
}

func TestText_KeyboardButtons(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	_ = f.h.Text(context.Background(), textReq(7, btnAdd))
	_ = f.h.Text(context.Background(), textReq(7, btnDefaults))
	got := f.out.texts()
	if len(got) != 2 || got[0] != addText || !strings.Contains(got[1], "صبحانه") {
		t.Fatalf("replies = %q", got)
	}
	if tasks, _ := f.store.ListPending(context.Background()); len(tasks) != 0 {
		t.Fatalf("buttons must not create tasks")
	}
}

func TestToday_TextThenChart(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()
	if err := f.h.Today(ctx, textReq(7, "/today")); err != nil {
		t.Fatalf("Today: %v", err)
	}
	if got := f.out.texts(); len(got) != 1 || got[0] != noTodayText {
		t.Fatalf("empty reply = %q", got)
	}

	_, _ = f.store.AddTask(ctx, 7, model.Candidate{Title: "کار", Type: model.TypeWork, Date: "2026-03-10", Time: "11:00"})
	f.out.out = nil
	if err := f.h.Today(ctx, textReq(7, "/today")); err != nil {
		t.Fatalf("Today: %v", err)
	}
	if len(f.out.out) != 2 || f.out.out[0].photo || !f.out.out[1].photo {
		t.Fatalf("replies = %+v", f.out.out)
	}
	if !strings.Contains(f.out.out[0].text, "0/1") {
		t.Fatalf("progress missing: %q", f.out.out[0].text)
	}
}

func TestSchedule_GroupsByDate(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()
	_, _ = f.store.AddTask(ctx, 7, model.Candidate{Title: "b", Type: model.TypeWork, Date: "2026-03-11", Time: "10:00"})
	_, _ = f.store.AddTask(ctx, 7, model.Candidate{Title: "a", Type: model.TypeWork, Date: "2026-03-10", Time: "12:00"})
	_, _ = f.store.AddTask(ctx, 7, model.Candidate{Title: "far", Type: model.TypeWork, Date: "2026-03-20", Time: "12:00"})
	if err := f.h.Schedule(ctx, textReq(7, "/schedule")); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	got := f.out.texts()[0]
	i, j := strings.Index(got, "2026-03-10"), strings.Index(got, "2026-03-11")
	if i < 0 || j < 0 || i > j || strings.Contains(got, "far") {
		t.Fatalf("schedule = %q", got)
	}
}

func TestSummary_NeedsTwoDays(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()
	_ = f.store.PutDailySummary(ctx, model.DailySummary{UserID: 7, Date: "2026-03-09", CompletedTasks: 1, TotalTasks: 2, ProductivityScore: 50})
	_ = f.h.Summary(ctx, textReq(7, "/summary"))
	if got := f.out.texts(); len(got) != 1 || got[0] != weeklyNoData {
		t.Fatalf("reply = %q", got)
	}
	_ = f.store.PutDailySummary(ctx, model.DailySummary{UserID: 7, Date: "2026-03-10", CompletedTasks: 2, TotalTasks: 2, ProductivityScore: 100})
	f.out.out = nil
	_ = f.h.Summary(ctx, textReq(7, "/summary"))
	if len(f.out.out) != 1 || !f.out.out[0].photo || f.out.out[0].text != weeklyCaption {
		t.Fatalf("reply = %+v", f.out.out)
	}
}

func TestStatusCommands(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()
	task, _ := f.store.AddTask(ctx, 7, model.Candidate{Title: "x", Type: model.TypeWork, Date: "2026-03-10", Time: "11:00"})
	other, _ := f.store.AddTask(ctx, 8, model.Candidate{Title: "y", Type: model.TypeWork, Date: "2026-03-10", Time: "11:00"})
	routes := f.h.Routes()

	cases := []struct {
		text string
		want string
	}{
		{"/done", statusUsage},
		{"/done abc", statusUsage},
		{"/done 999", taskNotFound},
		{"/missed " + itoa(other.ID), taskNotFound},
	}
	for _, tc := range cases {
		f.out.out = nil
		req := textReq(7, tc.text)
		if err := routes.Commands[req.Command](ctx, req); err != nil {
			t.Fatalf("%s: %v", tc.text, err)
		}
		if got := f.out.texts(); len(got) != 1 || got[0] != tc.want {
			t.Fatalf("%s: reply = %q", tc.text, got)
		}
	}

	req := textReq(7, "/done "+itoa(task.ID)+" خوب بود")
	if err := routes.Commands["done"](ctx, req); err != nil {
		t.Fatalf("done: %v", err)
	}
	got, _, _ := f.store.GetTask(ctx, task.ID)
	if got.Status != model.StatusCompleted || got.Notes != "خوب بود" {
		t.Fatalf("task = %+v", got)
	}
	if len(f.rem.canceled) != 1 || f.rem.canceled[0] != task.ID {
		t.Fatalf("canceled = %v", f.rem.canceled)
	}
}

func TestCallback_UpdatesStatus(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()
	task, _ := f.store.AddTask(ctx, 7, model.Candidate{Title: "x", Type: model.TypeWork, Date: "2026-03-10", Time: "11:00"})
	data := reminder.StatusButtons(task.ID)[0][1].Data
	req := &router.Request{
		Update: transport.Update{Kind: transport.UpdateCallback, Callback: &transport.Callback{ID: "cb1", ChatID: 7, FromID: 7, MessageID: 3, Data: data}},
		ChatID: 7,
		FromID: 7,
		Text:   data,
	}
	if err := f.h.Callback(ctx, req); err != nil {
		t.Fatalf("Callback: %v", err)
	}
	got, _, _ := f.store.GetTask(ctx, task.ID)
	if got.Status != model.StatusMissed {
		t.Fatalf("status = %s", got.Status)
	}
	if len(f.out.answers) != 1 || f.out.answers[0] != callbackAnswer || len(f.out.edits) != 1 {
		t.Fatalf("answers=%q edits=%q", f.out.answers, f.out.edits)
	}
}

func voiceReq(from int64) *router.Request {
	return &router.Request{
		Update: transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{ChatID: from, FromID: from, Voice: &transport.Voice{FileID: "file-1"}}},
		ChatID: from,
		FromID: from,
	}
}

func TestVoice_TranscribesThenCreates(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.sp.text = "فردا ساعت ۱۰ جلسه"
	if err := f.h.Voice(context.Background(), voiceReq(7)); err != nil {
		t.Fatalf("Voice: %v", err)
	}
	got := f.out.texts()
	if len(got) != 2 || got[0] != formatTranscript(f.sp.text) || !strings.Contains(got[1], "✅") {
		t.Fatalf("replies = %q", got)
	}
	if _, err := os.Stat(f.sp.path); !os.IsNotExist(err) {
		t.Fatalf("temp file should be removed, stat err = %v", err)
	}
}

func TestVoice_FailureSkipsExtraction(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name     string
		download error
		spErr    error
		want     string
	}{
		{"download", errors.New("404"), nil, voiceFailedText},
		{"transcribe", nil, speech.ErrEmptyTranscript, voiceFailedText},
		{"unavailable", nil, speech.ErrUnavailable, voiceOffText},
	}
	for _, tc := range cases {
		f := newFixture(t, nil)
		f.out.download = tc.download
		f.sp.err = tc.spErr
		_ = f.h.Voice(context.Background(), voiceReq(7))
		if got := f.out.texts(); len(got) != 1 || got[0] != tc.want {
			t.Fatalf("%s: replies = %q", tc.name, got)
		}
		if tasks, _ := f.store.ListPending(context.Background()); len(tasks) != 0 {
			t.Fatalf("%s: no task may be created", tc.name)
		}
	}
}

func TestVoice_NoTranscriber(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(d *HandlerDeps) { d.Speech = nil })
	_ = f.h.Voice(context.Background(), voiceReq(7))
	if got := f.out.texts(); len(got) != 1 || got[0] != voiceOffText {
		t.Fatalf("replies = %q", got)
	}
}

func TestBusyReplyIsQueued(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	if err := f.h.Routes().Busy(context.Background(), textReq(7, "hi")); err != nil {
		t.Fatalf("Busy: %v", err)
	}
	if len(f.notif.out) != 1 || f.notif.out[0].Kind != notifier.KindReply || f.notif.out[0].Text != busyText {
		t.Fatalf("deliveries = %+v", f.notif.out)
	}
	if len(f.out.out) != 0 {
		t.Fatalf("busy replies must not be sent inline")
	}
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
