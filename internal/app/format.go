package app

import (
	"fmt"
	"sort"
	"strings"

	"taskbot/internal/model"
	"taskbot/internal/reminder"
)

// Reply keyboard labels. Tapping one sends the label as plain text.
const (
	btnToday    = "📅 برنامه امروز"
	btnAdd      = "➕ اضافه کردن تسک"
	btnDefaults = "🎯 برنامه پیش‌فرض"
	btnWeekly   = "📊 گزارش هفتگی"
)

var mainKeyboard = [][]string{
	{btnToday, btnAdd},
	{btnDefaults, btnWeekly},
}

const (
	welcomeText = "🤖 به ربات برنامه‌ریزی هوشمند خوش آمدید!\n\n" +
		"قابلیت‌های اصلی:\n" +
		"✅ تنظیم برنامه درسی، کاری و ورزشی\n" +
		"🔔 یادآوری خودکار\n" +
		"🎯 درک ویس‌های فارسی و تنظیم برنامه\n" +
		"📊 گزارش روزانه با نمودار\n" +
		"⏰ برنامه پیش‌فرض هوشمند\n" +
		"📈 تحلیل بهره‌وری هفتگی\n\n" +
		"دستورات سریع:\n" +
		"/today - برنامه امروز\n" +
		"/schedule - برنامه‌های آینده\n" +
		"/summary - نمودار بهره‌وری\n" +
		"/add - اضافه کردن تسک جدید\n\n" +
		"می‌تونید متن بفرستید یا ویس ضبط کنید!"

	helpText = "🤖 راهنمای ربات برنامه‌ریزی هوشمند\n\n" +
		"دستورات اصلی:\n" +
		"/start - شروع کار با ربات\n" +
		"/today - نمایش برنامه امروز\n" +
		"/schedule - برنامه‌های آینده\n" +
		"/summary - نمودار بهره‌وری\n" +
		"/defaults - برنامه پیش‌فرض\n" +
		"/add - اضافه کردن تسک جدید\n" +
		"/done <id> - علامت انجام شد\n" +
		"/missed <id> - علامت انجام نشد\n" +
		"/help - این راهنما\n\n" +
		"نحوه استفاده:\n" +
		"• متن بفرستید: \"فردا ساعت ۱۰ جلسه دارم\"\n" +
		"• ویس ضبط کنید: همین متن را بگویید\n" +
		"• از دکمه‌های کیبورد استفاده کنید"

	addText = "لطفاً تسک خود را به صورت متن یا ویس ارسال کنید. مثال‌ها:\n\n" +
		"• \"فردا ساعت ۱۰ جلسه ریاضی\"\n" +
		"• \"پس‌فردا امتحان فیزیک دارم\"\n" +
		"• \"ساعت ۱۸ باشگاه\"\n" +
		"• \"tomorrow at 3pm team meeting\""

	notUnderstoodText = "❌ متوجه درخواست شما نشدم. لطفاً واضح‌تر بیان کنید.\n\n" +
		"مثال‌های صحیح:\n" +
		"• \"فردا ساعت ۱۰ جلسه ریاضی\"\n" +
		"• \"پس‌فردا امتحان فیزیک دارم\"\n" +
		"• \"ساعت ۱۸ باشگاه برم\""

	saveFailedText    = "❌ خطا در ذخیره تسک. لطفاً دوباره تلاش کنید."
	voiceFailedText   = "❌ خطا در پردازش ویس. لطفاً دوباره تلاش کنید."
	voiceOffText      = "🔇 پردازش ویس فعال نیست. لطفاً تسک را به صورت متن بفرستید."
	genericFailedText = "❌ خطایی رخ داد. لطفاً دوباره تلاش کنید."
	unknownCmdText    = "دستور ناشناخته. /help را بزنید."
	busyText          = "⏳ ربات مشغول است، کمی بعد دوباره امتحان کنید."
	limitedText       = "⏳ پیام‌های زیادی فرستادید، کمی صبر کنید."

	noTodayText    = "📭 هیچ تسکی برای امروز ثبت نشده است.\n\nمی‌توانید با دستور /add یا ارسال ویس تسک جدید اضافه کنید."
	noUpcomingText = "📭 هیچ برنامه آینده‌ای ثبت نشده است.\n\nمی‌توانید با دستور /add یا ارسال ویس تسک جدید اضافه کنید."
	weeklyCaption  = "📊 نمودار بهره‌وری هفتگی شما\n\nاین نمودار عملکرد شما را در ۷ روز گذشته نشان می‌دهد."
	weeklyNoData   = "📊 داده کافی برای تولید نمودار وجود ندارد.\nحداقل ۲ روز فعالیت نیاز است."
	statusUsage    = "شناسه تسک را وارد کنید، مثلا: /done 12"
	taskNotFound   = "❌ تسکی با این شناسه پیدا نشد."
	noNotesText    = "بدون توضیح"
	callbackAnswer = "ثبت شد"
)

func statusIcon(s model.Status) string {
	switch s {
	case model.StatusCompleted:
		return "✅"
	case model.StatusPending:
		return "⏳"
	default:
		return "❌"
	}
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return noNotesText
	}
	return s
}

func formatConfirmation(t model.Task, c model.Candidate, armed bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ تسک ثبت شد! (#%d)\n\n", t.ID)
	fmt.Fprintf(&b, "📝 عنوان: %s\n", t.Title)
	fmt.Fprintf(&b, "🎯 نوع: %s\n", t.Type)
	fmt.Fprintf(&b, "📅 تاریخ: %s\n", t.Date)
	fmt.Fprintf(&b, "⏰ زمان: %s\n", t.Time)
	fmt.Fprintf(&b, "🔔 یادآوری: %d دقیقه قبل\n", t.ReminderBefore)
	fmt.Fprintf(&b, "⏱ مدت: %d دقیقه\n", t.Duration)
	fmt.Fprintf(&b, "📋 توضیحات: %s\n", orNone(t.Notes))
	if !armed {
		b.WriteString("\n⚠️ زمان یادآوری گذشته است، یادآوری ارسال نمی‌شود.\n")
	}
	fmt.Fprintf(&b, "\nاعتماد: %.1f%%", c.Confidence*100)
	return b.String()
}

func formatToday(tasks []model.Task) string {
	var b strings.Builder
	b.WriteString("📅 برنامه امروز شما:\n\n")
	completed := 0
	for i, t := range tasks {
		if t.Status == model.StatusCompleted {
			completed++
		}
		fmt.Fprintf(&b, "%d. %s %s (#%d)\n", i+1, statusIcon(t.Status), t.Title, t.ID)
		fmt.Fprintf(&b, "   ⏰ %s | 🎯 %s | ⏱ %d دقیقه\n", t.Time, t.Type, t.Duration)
		fmt.Fprintf(&b, "   📝 %s\n\n", orNone(t.Notes))
	}
	fmt.Fprintf(&b, "📊 پیشرفت: %d/%d تکمیل شده", completed, len(tasks))
	return b.String()
}

func formatUpcoming(tasks []model.Task) string {
	byDate := map[string][]model.Task{}
	for _, t := range tasks {
		byDate[t.Date] = append(byDate[t.Date], t)
	}
	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	var b strings.Builder
	b.WriteString("📋 برنامه‌های آینده شما (۳ روز آینده):\n\n")
	for _, d := range dates {
		fmt.Fprintf(&b, "📅 %s\n", d)
		for _, t := range byDate[d] {
			fmt.Fprintf(&b, "  ⏰ %s - %s (%s) #%d\n", t.Time, t.Title, t.Type, t.ID)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatDefaults(slots []reminder.Slot) string {
	var b strings.Builder
	b.WriteString("⏰ برنامه پیش‌فرض هوشمند:\n\n")
	for _, s := range slots {
		fmt.Fprintf(&b, "🕒 %s - %s\n", s.At, s.Activity)
	}
	b.WriteString("\n💡 نکته: اگر در این زمان‌ها برنامه‌ای ثبت نکنید، یادآوری دریافت خواهید کرد.")
	return b.String()
}

func formatStatusChanged(t model.Task) string {
	return fmt.Sprintf("%s وضعیت تسک «%s» به %s تغییر کرد.", statusIcon(t.Status), t.Title, statusLabel(t.Status))
}

func statusLabel(s model.Status) string {
	switch s {
	case model.StatusCompleted:
		return "انجام شده"
	case model.StatusMissed:
		return "انجام نشده"
	default:
		return "در انتظار"
	}
}

func formatTranscript(text string) string { return "📝 متن استخراج شده:\n" + text }
