package extract

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"taskbot/internal/model"
)

// Extractor is the rule-based fallback. It never fails.
type Extractor struct {
	loc *time.Location
	now func() time.Time
}

func NewExtractor(loc *time.Location, now func() time.Time) *Extractor {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &Extractor{loc: loc, now: now}
}

func (e *Extractor) Extract(text string) model.Candidate {
	text = normalize(strings.TrimSpace(text))
	return model.Candidate{
		Title:          inferTitle(text),
		Type:           inferType(text),
		Date:           e.inferDate(text),
		Time:           inferClock(text),
		Duration:       model.DefaultDuration,
		ReminderBefore: model.DefaultReminderBefore,
		Notes:          fallbackNotes,
		Confidence:     fallbackScore,
		Source:         SourceFallback,
	}
}

func inferType(text string) model.TaskType {
	lower := strings.ToLower(text)
	for _, r := range typeRules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.typ
			}
		}
	}
	return model.TypePersonal
}

func inferClock(text string) string {
	pm := pmMarker.MatchString(text)
	am := amMarker.MatchString(text)
	for _, r := range timeRules {
		for _, m := range r.re.FindAllStringSubmatch(text, -1) {
			hour, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			minute := 0
			if m[2] != "" {
				if minute, err = strconv.Atoi(m[2]); err != nil {
					continue
				}
			}
			switch {
			case pm && hour < 12:
				hour += 12
			case am && hour == 12:
				hour = 0
			}
			if hour > 23 || minute > 59 {
				continue
			}
			return fmt.Sprintf("%02d:%02d", hour, minute)
		}
	}
	return defaultClock
}

func (e *Extractor) inferDate(text string) string {
	lower := strings.ToLower(text)
	today := e.now().In(e.loc)
	for _, p := range datePhrases {
		if strings.Contains(lower, p.phrase) {
			return today.AddDate(0, 0, p.days).Format(model.DateLayout)
		}
	}
	return today.Format(model.DateLayout)
}

func inferTitle(text string) string {
	words := strings.Fields(text)
	kept := make([]string, 0, maxTitleWords)
	for _, w := range words {
		if _, stop := stopWords[strings.ToLower(w)]; stop {
			continue
		}
		kept = append(kept, w)
		if len(kept) == maxTitleWords {
			break
		}
	}
	if len(kept) > 0 {
		return strings.Join(kept, " ")
	}
	if text != "" {
		return text
	}
	return placeholderTitle
}
