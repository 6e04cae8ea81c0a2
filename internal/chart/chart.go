// Package chart renders the daily timeline and weekly productivity images
// sent to users.
//
// Labels are ASCII: the embedded chart font has no Persian glyphs, so task
// rows are named by time and type rather than by title.
package chart

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"taskbot/internal/model"
)

var ErrInsufficientData = errors.New("chart: insufficient data")

// MinWeeklyDays is the fewest summary days a weekly chart needs.
const MinWeeklyDays = 2

type Renderer interface {
	Daily(ctx context.Context, userID int64, date string, tasks []model.Task) ([]byte, error)
	Weekly(ctx context.Context, userID int64, summaries []model.DailySummary) ([]byte, error)
}

var typeColors = map[model.TaskType]drawing.Color{
	model.TypeLesson:   drawing.ColorFromHex("FF6B6B"),
	model.TypeWork:     drawing.ColorFromHex("4ECDC4"),
	model.TypeSport:    drawing.ColorFromHex("45B7D1"),
	model.TypePersonal: drawing.ColorFromHex("96CEB4"),
	model.TypeExam:     drawing.ColorFromHex("FFEAA7"),
}

// typeOrder fixes legend order.
var typeOrder = []model.TaskType{model.TypeLesson, model.TypeWork, model.TypeSport, model.TypePersonal, model.TypeExam}

var (
	gridColor      = drawing.ColorFromHex("E6E6E6")
	missedColor    = drawing.ColorFromHex("BBBBBB")
	scoreColor     = drawing.ColorFromHex("4ECDC4")
	completedColor = drawing.ColorFromHex("FF6B6B")
)

type PNG struct {
	Width  int
	Height int
}

func New() *PNG { return &PNG{Width: 800, Height: 600} }

// Daily draws one horizontal bar per task on a 24h axis, colored by type.
// Pending tasks are drawn translucent, missed ones grey. The first task is
// the top row.
func (r *PNG) Daily(ctx context.Context, _ int64, date string, tasks []model.Task) ([]byte, error) {
	if len(tasks) == 0 {
		return nil, ErrInsufficientData
	}
	series, ticks := dailySeries(tasks)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hours := make([]gochart.Tick, 0, 13)
	grid := make([]gochart.GridLine, 0, 13)
	for h := 0; h <= 24; h += 2 {
		v := float64(h * 60)
		hours = append(hours, gochart.Tick{Value: v, Label: fmt.Sprintf("%02d:00", h)})
		grid = append(grid, gochart.GridLine{Value: v})
	}

	graph := gochart.Chart{
		Title:      "Daily schedule - " + date,
		TitleStyle: gochart.Style{FontSize: 16},
		Width:      r.Width,
		Height:     max(r.Height, 400+len(tasks)*40),
		Background: gochart.Style{Padding: gochart.Box{Top: 60, Left: 20, Right: 20, Bottom: 20}},
		XAxis: gochart.XAxis{
			Name:           "Time",
			Range:          &gochart.ContinuousRange{Min: 0, Max: 24 * 60},
			Ticks:          hours,
			GridLines:      grid,
			GridMajorStyle: gochart.Style{StrokeColor: gridColor, StrokeWidth: 1},
			GridMinorStyle: gochart.Style{StrokeColor: gridColor, StrokeWidth: 1},
		},
		YAxis: gochart.YAxis{
			Name:  "Tasks",
			Range: &gochart.ContinuousRange{Min: 0, Max: float64(len(tasks))},
			Ticks: ticks,
		},
		Series: series,
	}
	graph.Elements = []gochart.Renderable{gochart.Legend(&graph)}
	return render(graph)
}

// Weekly draws completed-task bars per day with the productivity score as a
// line on the same axis.
func (r *PNG) Weekly(ctx context.Context, _ int64, summaries []model.DailySummary) ([]byte, error) {
	if len(summaries) < MinWeeklyDays {
		return nil, ErrInsufficientData
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := len(summaries)
	xs := make([]float64, n)
	scores := make([]float64, n)
	done := make([]float64, n)
	ticks := make([]gochart.Tick, n)
	top := 100.0
	for i, s := range summaries {
		xs[i] = float64(i)
		scores[i] = float64(min(max(s.ProductivityScore, 0), 100))
		done[i] = float64(max(s.CompletedTasks, 0))
		ticks[i] = gochart.Tick{Value: float64(i), Label: shortDate(s.Date)}
		top = max(top, done[i])
	}

	graph := gochart.Chart{
		Title:      "Weekly productivity",
		TitleStyle: gochart.Style{FontSize: 16},
		Width:      r.Width,
		Height:     500,
		Background: gochart.Style{Padding: gochart.Box{Top: 60, Left: 20, Right: 20, Bottom: 20}},
		XAxis: gochart.XAxis{
			Name:  "Date",
			Range: &gochart.ContinuousRange{Min: -0.5, Max: float64(n) - 0.5},
			Ticks: ticks,
		},
		YAxis: gochart.YAxis{
			Name:  "Count / score",
			Range: &gochart.ContinuousRange{Min: 0, Max: top},
		},
		Series: []gochart.Series{
			barSeries{name: "Completed tasks", xs: xs, ys: done, color: completedColor},
			gochart.ContinuousSeries{
				Name:    "Productivity %",
				XValues: xs,
				YValues: scores,
				Style:   gochart.Style{StrokeColor: scoreColor, StrokeWidth: 3, DotColor: scoreColor, DotWidth: 5},
			},
		},
	}
	graph.Elements = []gochart.Renderable{gochart.Legend(&graph)}
	return render(graph)
}

// dailySeries groups task bars into one series per type so the legend lists
// types. Row i is drawn at y = n-i-0.5.
func dailySeries(tasks []model.Task) ([]gochart.Series, []gochart.Tick) {
	n := len(tasks)
	byType := map[model.TaskType]*timelineSeries{}
	ticks := make([]gochart.Tick, 0, n)
	for i, t := range tasks {
		row := float64(n-i) - 0.5
		typ := t.Type
		if _, ok := typeColors[typ]; !ok {
			typ = model.TypePersonal
		}
		ticks = append(ticks, gochart.Tick{Value: row, Label: rowLabel(t, typ)})

		start, err := time.Parse(model.TimeLayout, t.Time)
		if err != nil {
			continue
		}
		from := start.Hour()*60 + start.Minute()
		to := min(from+max(t.Duration, 1), 24*60)
		s := byType[typ]
		if s == nil {
			s = &timelineSeries{name: string(typ), color: typeColors[typ]}
			byType[typ] = s
		}
		s.bars = append(s.bars, timelineBar{from: float64(from), to: float64(to), row: row, color: taskColor(t, typ)})
	}

	var series []gochart.Series
	for _, typ := range typeOrder {
		if s := byType[typ]; s != nil {
			series = append(series, *s)
		}
	}
	if len(series) == 0 {
		// Every time failed to parse; an empty series keeps the axes.
		series = append(series, timelineSeries{name: string(model.TypePersonal), color: typeColors[model.TypePersonal]})
	}
	return series, ticks
}

func rowLabel(t model.Task, typ model.TaskType) string {
	if t.ID != 0 {
		return fmt.Sprintf("#%d %s %s", t.ID, t.Time, typ)
	}
	return t.Time + " " + string(typ)
}

func taskColor(t model.Task, typ model.TaskType) drawing.Color {
	switch t.Status {
	case model.StatusMissed:
		return missedColor
	case model.StatusPending:
		return typeColors[typ].WithAlpha(0x80)
	}
	return typeColors[typ]
}

func shortDate(d string) string {
	if len(d) == len(model.DateLayout) {
		return d[5:]
	}
	return d
}

func render(graph gochart.Chart) ([]byte, error) {
	var buf bytes.Buffer
	if err := graph.Render(gochart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("chart: render: %w", err)
	}
	return buf.Bytes(), nil
}
