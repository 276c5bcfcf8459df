package broker

import (
	"time"

	"minfx/internal/config"
)

// clockWindow 是本地时间半开区间 [start, end)，以当日分钟数表示。
// start > end 表示跨午夜（例如固定帯 08:00 → 次日 05:00）。
type clockWindow struct {
	start int
	end   int
}

func (w clockWindow) contains(minute int) bool {
	if w.start == w.end {
		return false
	}
	if w.start < w.end {
		return minute >= w.start && minute < w.end
	}
	// 跨午夜
	return minute >= w.start || minute < w.end
}

func mustClock(s string) int {
	m, err := config.ParseClock(s)
	if err != nil {
		// 配置在 Load 阶段已校验过，这里不应失败。
		panic(err)
	}
	return m
}

// weeklyWindow 是每周固定 weekday 的本地时间区间。
type weeklyWindow struct {
	dow    time.Weekday
	window clockWindow
}

// schedule 把配置中的字符串时刻表预解析成分钟数，构造一次之后只读。
type schedule struct {
	fixed            clockWindow
	preOpenDefault   clockWindow
	preOpenMonday    clockWindow
	postClose        clockWindow
	dailyMaintMonday []clockWindow
	dailyMaintTueSun []clockWindow
	weeklyMaint      []weeklyWindow
}

func newSchedule(cfg *config.BrokerConfig, useDaylight bool) schedule {
	sp := cfg.Spread
	s := schedule{
		fixed: clockWindow{mustClock(sp.FixedWindow.Start), mustClock(sp.FixedWindow.End)},
		preOpenDefault: clockWindow{
			mustClock(sp.WidenedWindows.PreOpen.DefaultStart),
			mustClock(sp.WidenedWindows.PreOpen.End),
		},
		preOpenMonday: clockWindow{
			mustClock(sp.WidenedWindows.PreOpen.MondayStart),
			mustClock(sp.WidenedWindows.PreOpen.End),
		},
		postClose: clockWindow{
			mustClock(sp.WidenedWindows.PostClose.Start),
			mustClock(sp.WidenedWindows.PostClose.End),
		},
	}
	daily := cfg.Maintenance.Daily.StandardTime
	if useDaylight {
		daily = cfg.Maintenance.Daily.DaylightTime
	}
	for _, w := range daily.Monday {
		s.dailyMaintMonday = append(s.dailyMaintMonday, clockWindow{mustClock(w.Start), mustClock(w.End)})
	}
	for _, w := range daily.TueSun {
		s.dailyMaintTueSun = append(s.dailyMaintTueSun, clockWindow{mustClock(w.Start), mustClock(w.End)})
	}
	for _, w := range cfg.Maintenance.Weekly {
		dow, ok := w.Weekday()
		if !ok {
			continue
		}
		s.weeklyMaint = append(s.weeklyMaint, weeklyWindow{
			dow:    dow,
			window: clockWindow{mustClock(w.Start), mustClock(w.End)},
		})
	}
	return s
}

// isWidened 判断本地时刻是否落在拡大帯（周一开盘前起点不同）。
func (s schedule) isWidened(local time.Time) bool {
	minute := local.Hour()*60 + local.Minute()
	pre := s.preOpenDefault
	if local.Weekday() == time.Monday {
		pre = s.preOpenMonday
	}
	return pre.contains(minute) || s.postClose.contains(minute)
}

// inMaintenance 判断本地时刻是否落在任一维护时段（每日 ∪ 每周）。
func (s schedule) inMaintenance(local time.Time) bool {
	minute := local.Hour()*60 + local.Minute()
	daily := s.dailyMaintTueSun
	if local.Weekday() == time.Monday {
		daily = s.dailyMaintMonday
	}
	for _, w := range daily {
		if w.contains(minute) {
			return true
		}
	}
	for _, w := range s.weeklyMaint {
		if local.Weekday() == w.dow && w.window.contains(minute) {
			return true
		}
	}
	return false
}
