package model

import (
	"fmt"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"

	DefaultDuration       = 60 // minutes
	DefaultReminderBefore = 15 // minutes
)

// TaskType categorizes a task.
type TaskType string

const (
	TypeLesson   TaskType = "lesson"
	TypeWork     TaskType = "work"
	TypeSport    TaskType = "sport"
	TypePersonal TaskType = "personal"
	TypeExam     TaskType = "exam"
)

// TaskTypes in display order.
var TaskTypes = []TaskType{TypeLesson, TypeWork, TypeSport, TypePersonal, TypeExam}

// Valid reports whether t is one of TaskTypes.
func (t TaskType) Valid() bool {
	for _, v := range TaskTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Status is a task lifecycle state. Tasks start pending and are moved by
// explicit status updates only.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusMissed    Status = "missed"
)

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusCompleted || s == StatusMissed
}

// User is a chat participant, created on first contact and never deleted.
type User struct {
	ID        int64 // platform id
	Username  string
	FirstName string
	CreatedAt time.Time
}

// Candidate is an extracted, not yet persisted task.
type Candidate struct {
	Title          string   `json:"task_title"`
	Type           TaskType `json:"task_type"`
	Date           string   `json:"scheduled_date"`
	Time           string   `json:"scheduled_time"`
	Duration       int      `json:"duration"`
	ReminderBefore int      `json:"reminder_before"`
	Notes          string   `json:"notes"`
	Confidence     float64  `json:"confidence"`
	Source         string   `json:"-"`
}

// Task is a persisted, scheduled unit of work.
type Task struct {
	ID             int64
	UserID         int64
	Title          string
	Type           TaskType
	Date           string // YYYY-MM-DD
	Time           string // HH:MM
	Duration       int    // minutes, > 0
	ReminderBefore int    // minutes, >= 0
	Status         Status
	Notes          string
	CreatedAt      time.Time
}

// ParseSlot combines date and time strings into an instant in loc.
func ParseSlot(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DateLayout+" "+TimeLayout, date+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid slot %q %q: %w", date, clock, err)
	}
	return t, nil
}

// Start is the scheduled instant of the task in loc.
func (t Task) Start(loc *time.Location) (time.Time, error) {
	return ParseSlot(t.Date, t.Time, loc)
}

// ReminderAt is Start minus ReminderBefore.
func (t Task) ReminderAt(loc *time.Location) (time.Time, error) {
	start, err := t.Start(loc)
	if err != nil {
		return time.Time{}, err
	}
	return start.Add(-time.Duration(t.ReminderBefore) * time.Minute), nil
}

// Covers reports whether now falls in [start, start+duration).
func (t Task) Covers(now time.Time, loc *time.Location) bool {
	start, err := t.Start(loc)
	if err != nil {
		return false
	}
	end := start.Add(time.Duration(t.Duration) * time.Minute)
	return !now.Before(start) && now.Before(end)
}

// DailySummary is the per-user end-of-day record written by the summary job.
type DailySummary struct {
	UserID            int64
	Date              string
	CompletedTasks    int
	TotalTasks        int
	ProductivityScore int // 0..100
	Notes             string
}

// Productivity is completed*100/total with integer division, 0 for no tasks.
func Productivity(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return completed * 100 / total
}
