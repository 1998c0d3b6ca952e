package ics

import (
	"time"

	"github.com/teambition/rrule-go"
)

// occurrence は展開後の具体的な1回分のイベント。
type occurrence struct {
	event parsedEvent
	start time.Time
	end   time.Time
}

// expand は解析済みイベントを[start, end)内の個別イベントへ展開する。
// RRULEのないイベントはウィンドウとの重なり判定のみ行う。
// RECURRENCE-ID付きのVEVENTは対応する回の内容を差し替える。
func (s *Source) expand(events []parsedEvent, start, end time.Time) []occurrence {
	baseByUID := make(map[string][]parsedEvent)
	overridesByUID := make(map[string][]parsedEvent)
	order := make([]string, 0, len(events))

	for _, ev := range events {
		if ev.RecurrenceID != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
			continue
		}
		if _, seen := baseByUID[ev.UID]; !seen {
			order = append(order, ev.UID)
		}
		baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
	}

	out := make([]occurrence, 0, len(events))
	for _, uid := range order {
		overrides := overridesByUID[uid]
		for _, ev := range baseByUID[uid] {
			if ev.RawRRule == "" {
				out = append(out, s.expandSingle(ev, overrides, start, end)...)
				continue
			}
			out = append(out, s.expandRecurring(ev, overrides, start, end)...)
		}
	}
	return out
}

func (s *Source) expandSingle(ev parsedEvent, overrides []parsedEvent, start, end time.Time) []occurrence {
	occStart, occEnd := ev.Start, ev.End
	if o, ok := findOverride(overrides, occStart); ok {
		ev, occStart, occEnd = o, o.Start, o.End
	}
	if !occStart.Before(end) || occEnd.Before(start) {
		return nil
	}
	return []occurrence{{event: ev, start: occStart, end: occEnd}}
}

func (s *Source) expandRecurring(ev parsedEvent, overrides []parsedEvent, start, end time.Time) []occurrence {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		s.logger.Warn("RRULEを解析できないため繰り返しを展開しません",
			"calendar_id", s.calendarID,
			"uid", ev.UID,
			"rrule", ev.RawRRule,
		)
		return nil
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Betweenは両端を含むため、終端は排他にするぶんだけ手前へ寄せる。
	rangeStart := start.In(ev.Start.Location())
	rangeEnd := end.In(ev.Start.Location()).Add(-time.Second)

	occTimes := set.Between(rangeStart, rangeEnd, true)
	if len(occTimes) > s.maxOccurrences {
		occTimes = occTimes[:s.maxOccurrences]
		s.logger.Warn("繰り返し展開が上限に達したため打ち切ります",
			"calendar_id", s.calendarID,
			"uid", ev.UID,
			"cap", s.maxOccurrences,
		)
	}

	duration := ev.End.Sub(ev.Start)
	out := make([]occurrence, 0, len(occTimes))
	for _, occStart := range occTimes {
		var occEnd time.Time
		if ev.AllDay {
			// 全日は各回を暦日の0時からの24時間として扱う。
			day := time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
			occStart = day
			occEnd = day.Add(24 * time.Hour)
		} else {
			occEnd = occStart.Add(duration)
		}

		occEv := ev
		if o, ok := findOverride(overrides, occStart); ok {
			occEv, occStart, occEnd = o, o.Start, o.End
		}
		out = append(out, occurrence{event: occEv, start: occStart, end: occEnd})
	}
	return out
}

// findOverride はRECURRENCE-IDが指定開始時刻と一致する差し替えを探す。
func findOverride(overrides []parsedEvent, occStart time.Time) (parsedEvent, bool) {
	for _, ov := range overrides {
		if ov.RecurrenceID == nil {
			continue
		}
		if ov.RecurrenceID.In(occStart.Location()).Equal(occStart) {
			return ov, true
		}
	}
	return parsedEvent{}, false
}
