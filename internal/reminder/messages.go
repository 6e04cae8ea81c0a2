package reminder

import (
	"fmt"

	"taskbot/internal/model"
)

const SummaryCaption = "📊 خلاصه برنامه امروز شما"

func ReminderText(t model.Task) string {
	return fmt.Sprintf("🔔 یادآوری!\n\n📝 %s\n⏰ ساعت: %s\n📅 تاریخ: %s\n🎯 نوع: %s\n\nآماده باشید!",
		t.Title, t.Time, t.Date, t.Type)
}

func SummaryText(completed, total int) string {
	return fmt.Sprintf("📅 گزارش روزانه\n\n✅ تسک‌های انجام شده: %d/%d\n📈 میزان بهره‌وری: %d%%\n\nفردا رو هم با انرژی شروع کن! 💪",
		completed, total, model.Productivity(completed, total))
}

func NudgeText(activity string) string {
	return fmt.Sprintf("⏰ طبق برنامه پیش‌فرض، الان وقت %s هست!\nآماده‌اید؟", activity)
}
