package gemini

import (
	"fmt"
	"time"
)

const promptTemplate = `شما یک دستیار برنامه‌ریزی هوشمند فارسی هستید. متن کاربر را تحلیل کرده و اطلاعات مربوط به برنامه‌ریزی را استخراج کنید.

قوانین مهم:
- اگر تاریخ ذکر نشده، امروز (%s) در نظر گرفته شود
- نوع تسک را تشخیص دهید: lesson, work, sport, personal, exam
- مدت زمان پیش‌فرض 60 دقیقه است مگر اینکه کاربر مشخص کند
- یادآوری پیش‌فرض 15 دقیقه قبل است

متن کاربر: "%s"

خروجی را فقط به صورت JSON برگردانید بدون هیچ متن اضافی:
{
  "task_title": "عنوان تسک",
  "task_type": "lesson|work|sport|personal|exam",
  "scheduled_date": "YYYY-MM-DD",
  "scheduled_time": "HH:MM",
  "duration": 60,
  "reminder_before": 15,
  "notes": "توضیحات",
  "confidence": 0.0
}`

// BuildPrompt renders the task-extraction prompt for text relative to today.
func BuildPrompt(text string, today time.Time) string {
	return fmt.Sprintf(promptTemplate, today.Format("2006-01-02"), text)
}
