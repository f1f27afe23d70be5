package xusage

import "time"

// 窗口 TTL，均略长于窗口本身，保证窗口存活期间键不提前消失。
const (
	// HourTTL 小时计数键的 TTL。
	HourTTL = 61 * time.Minute

	// DayTTL 天计数键的 TTL。
	DayTTL = 25 * time.Hour

	// WeekTTL 周计数键的 TTL。
	WeekTTL = 8 * 24 * time.Hour

	// LastSeenTTL 最近消息时间键的 TTL。
	// 超过七天没有消息的发送者，间隔检查从头开始。
	LastSeenTTL = 7 * 24 * time.Hour
)

// HourStart 返回 t 所在小时窗口的起点（UTC）。
func HourStart(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// DayStart 返回 t 所在天窗口的起点（UTC 零点）。
func DayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// WeekStart 返回 t 所在周窗口的起点：最近的周一零点（UTC）。
func WeekStart(t time.Time) time.Time {
	day := DayStart(t)
	// time.Weekday 以周日为 0，转换为以周一为 0 的偏移
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// NextHour 返回 t 之后的下一个小时窗口起点，即小时计数的重置时刻。
func NextHour(t time.Time) time.Time {
	return HourStart(t).Add(time.Hour)
}

// NextDay 返回 t 之后的下一个 UTC 零点，即天计数的重置时刻。
func NextDay(t time.Time) time.Time {
	return DayStart(t).AddDate(0, 0, 1)
}

// NextWeek 返回 t 之后的下一个周一零点，即周计数的重置时刻。
func NextWeek(t time.Time) time.Time {
	return WeekStart(t).AddDate(0, 0, 7)
}
