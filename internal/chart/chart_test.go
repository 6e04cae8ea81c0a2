package chart

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"testing"

	"taskbot/internal/model"
)

func TestDaily(t *testing.T) {
	t.Parallel()
	r := New()
	ctx := context.Background()
	if _, err := r.Daily(ctx, 1, "2026-03-10", nil); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("empty: err = %v", err)
	}

	tasks := []model.Task{
		{ID: 1, Title: "a", Type: model.TypeWork, Time: "09:00", Duration: 60, Status: model.StatusCompleted},
		{ID: 2, Title: "b", Type: model.TypeSport, Time: "23:30", Duration: 120, Status: model.StatusPending},
		{ID: 3, Title: "c", Type: "odd", Time: "bad", Duration: 30, Status: model.StatusMissed},
	}
	b, err := r.Daily(ctx, 1, "2026-03-10", tasks)
	if err != nil {
		t.Fatalf("Daily: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 800 || img.Bounds().Dy() != 600 {
		t.Fatalf("bounds = %v", img.Bounds())
	}
}

func TestDaily_TallForManyTasks(t *testing.T) {
	t.Parallel()
	tasks := make([]model.Task, 6)
	for i := range tasks {
		tasks[i] = model.Task{Type: model.TypeLesson, Time: "10:00", Duration: 30, Status: model.StatusPending}
	}
	b, err := New().Daily(context.Background(), 1, "2026-03-10", tasks)
	if err != nil {
		t.Fatalf("Daily: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := img.Bounds().Dy(); got != 640 {
		t.Fatalf("height = %d, want 640", got)
	}
}

func TestDailySeries(t *testing.T) {
	t.Parallel()
	tasks := []model.Task{
		{ID: 7, Type: model.TypeWork, Time: "09:00", Duration: 60, Status: model.StatusCompleted},
		{Type: "odd", Time: "23:30", Duration: 120, Status: model.StatusMissed},
		{Type: model.TypeWork, Time: "bad", Status: model.StatusPending},
	}
	series, ticks := dailySeries(tasks)

	if len(ticks) != 3 || ticks[0].Label != "#7 09:00 work" || ticks[0].Value != 2.5 || ticks[2].Value != 0.5 {
		t.Fatalf("ticks = %+v", ticks)
	}
	// One series per type in legend order; unknown types count as personal.
	if len(series) != 2 || series[0].GetName() != "work" || series[1].GetName() != "personal" {
		t.Fatalf("series = %v", series)
	}
	work := series[0].(timelineSeries)
	if len(work.bars) != 1 || work.bars[0].from != 540 || work.bars[0].to != 600 {
		t.Fatalf("work bars = %+v", work.bars)
	}
	// 23:30 + 120m is clipped at midnight.
	if late := series[1].(timelineSeries).bars[0]; late.to != 24*60 || late.color != missedColor {
		t.Fatalf("late bar = %+v", late)
	}
}

func TestTaskColor(t *testing.T) {
	t.Parallel()
	c := typeColors[model.TypeLesson]
	tests := []struct {
		status model.Status
		want   uint8
	}{
		{model.StatusCompleted, 0xFF},
		{model.StatusPending, 0x80},
	}
	for _, tt := range tests {
		got := taskColor(model.Task{Status: tt.status}, model.TypeLesson)
		if got.R != c.R || got.A != tt.want {
			t.Fatalf("%s: color = %v", tt.status, got)
		}
	}
	if got := taskColor(model.Task{Status: model.StatusMissed}, model.TypeLesson); got != missedColor {
		t.Fatalf("missed: color = %v", got)
	}
}

func TestWeekly(t *testing.T) {
	t.Parallel()
	r := New()
	ctx := context.Background()
	one := []model.DailySummary{{Date: "2026-03-09", CompletedTasks: 2, ProductivityScore: 50}}
	if _, err := r.Weekly(ctx, 1, one); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("one day: err = %v", err)
	}
	two := append(one, model.DailySummary{Date: "2026-03-10", CompletedTasks: 0, ProductivityScore: 140})
	b, err := r.Weekly(ctx, 1, two)
	if err != nil {
		t.Fatalf("Weekly: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 800 || img.Bounds().Dy() != 500 {
		t.Fatalf("bounds = %v", img.Bounds())
	}
}

func TestShortDate(t *testing.T) {
	t.Parallel()
	if got := shortDate("2026-03-09"); got != "03-09" {
		t.Fatalf("shortDate = %q", got)
	}
	if got := shortDate("bad"); got != "bad" {
		t.Fatalf("shortDate(bad) = %q", got)
	}
}
