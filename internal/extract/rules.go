package extract

import (
	"regexp"
	"strings"

	"taskbot/internal/model"
)

// typeRule maps a keyword set to a task type. Rules are evaluated in order
// and the first substring hit wins, so "امتحان" resolves to lesson. English
// keywords must not be substrings of common words in another set ("work"
// would swallow "workout" and "homework").
type typeRule struct {
	typ      model.TaskType
	keywords []string
}

var typeRules = []typeRule{
	{model.TypeLesson, []string{"درس", "مدرسه", "کلاس", "امتحان", "تحصیل", "دانشگاه", "کالج", "lesson", "class", "school", "university", "study", "homework"}},
	{model.TypeWork, []string{"کار", "پروژه", "جلسه", "اداری", "شرکت", "دفتر", "کاری", "job", "project", "meeting", "office"}},
	{model.TypeSport, []string{"ورزش", "باشگاه", "بدنسازی", "دویدن", "تمرین", "fitness", "gym", "workout", "running"}},
	{model.TypeExam, []string{"تست", "آزمون", "کوئیز", "exam", "quiz", "midterm"}},
	{model.TypePersonal, []string{"ملاقات", "دکتر", "استراحت", "ناهار", "شام", "صبحانه", "خواب", "doctor", "lunch", "dinner", "breakfast", "sleep"}},
}

// timeRule captures hour in group 1 and optional minute in group 2.
type timeRule struct {
	name string
	re   *regexp.Regexp
}

const clockPat = `(\d{1,2})(?::(\d{1,2}))?`

var timeRules = []timeRule{
	{"at", regexp.MustCompile(`(?i)(?:ساعت|\bat)\s*` + clockPat + `\b`)},
	{"afternoon", regexp.MustCompile(`(?i)\b` + clockPat + `\s*(?:بعدازظهر|بعد از ظهر|pm\b|p\.m\.|in the afternoon\b|afternoon\b)`)},
	{"evening", regexp.MustCompile(`(?i)\b` + clockPat + `\s*(?:عصر|in the evening\b|evening\b)`)},
	{"morning", regexp.MustCompile(`(?i)\b` + clockPat + `\s*(?:صبح|am\b|a\.m\.|in the morning\b|morning\b)`)},
	{"bare", regexp.MustCompile(`\b` + clockPat + `\b`)},
}

// Day-part markers apply to whichever rule matched, as long as they appear
// somewhere in the text.
var (
	pmMarker = regexp.MustCompile(`(?i)بعدازظهر|بعد از ظهر|عصر|\d\s*(?:pm\b|p\.m\.)|\bafternoon\b|\bevening\b|\btonight\b`)
	amMarker = regexp.MustCompile(`(?i)صبح|\d\s*(?:am\b|a\.m\.)|\bmorning\b`)
)

const defaultClock = "10:00"

// datePhrase offsets today by days. Longer phrases come first so "پس فردا"
// is not read as "فردا".
type datePhrase struct {
	phrase string
	days   int
}

var datePhrases = []datePhrase{
	{"day after tomorrow", 2},
	{"پس فردا", 2},
	{"پس‌فردا", 2},
	{"tomorrow", 1},
	{"فردا", 1},
	{"next week", 7},
	{"هفته آینده", 7},
	{"هفته بعد", 7},
}

var stopWords = map[string]struct{}{
	"می‌خواهم": {}, "می‌خوام": {}, "باید": {}, "لطفا": {}, "برای": {}, "یک": {}, "یه": {},
	"please": {}, "i": {}, "must": {}, "need": {}, "want": {},
}

const (
	maxTitleWords    = 8
	placeholderTitle = "تسک جدید"
	fallbackNotes    = "ثبت شده با پردازش متن"
	fallbackScore    = 0.7
)

var digitFolder = strings.NewReplacer(
	"۰", "0", "۱", "1", "۲", "2", "۳", "3", "۴", "4", "۵", "5", "۶", "6", "۷", "7", "۸", "8", "۹", "9",
	"٠", "0", "١", "1", "٢", "2", "٣", "3", "٤", "4", "٥", "5", "٦", "6", "٧", "7", "٨", "8", "٩", "9",
)

// normalize folds Persian and Arabic-Indic digits to ASCII.
func normalize(s string) string { return digitFolder.Replace(s) }
