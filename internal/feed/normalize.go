// Package feed はフィード生成とキャッシュのコアパイプラインを提供する。
//
// パイプラインはアクセス解決 → 設定フィンガープリント → キャッシュ照会 →
// （ミス時）並行フェッチ・正規化・レンダリング → 条件付きリクエスト評価の
// 順に流れる。各段は Service が編成する。
package feed

import (
	"time"

	"github.com/hitoshi/calfeed/internal/model"
)

// ISO-8601タイムスタンプのパースレイアウト。
// RFC3339（ゾーン付き）を先に試し、ゾーンなしの場合は基準タイムゾーンを付与する。
const (
	layoutNoZone   = "2006-01-02T15:04:05"
	layoutDateOnly = "2006-01-02"
)

// ResolveEventTime はEventTimeの異種表現を具体的なタイムスタンプへ解決する。
// 解決できない形状はエラーではなく (zero, false) を返し、呼び出し側が
// 代替値（生成時刻）を決める。
//
//   - 完全なタイムスタンプ: そのまま返す。
//   - 暦日: 基準タイムゾーンのその日の深夜0時。
//   - dateTimeフィールド付きマッピング: ISO-8601としてパースし、
//     ゾーン情報がなければ基準タイムゾーンを付与する。
//   - dateフィールド付きマッピング: タイムスタンプとしてのパース、
//     暦日深夜としてのパースの順に試す。
func ResolveEventTime(v model.EventTime, loc *time.Location) (time.Time, bool) {
	switch v.Kind() {
	case model.EventTimeDateTime:
		return v.DateTime(), true

	case model.EventTimeDate:
		year, month, day := v.Date()
		return time.Date(year, month, day, 0, 0, 0, 0, loc), true

	case model.EventTimeMapping:
		if s := v.MappingDateTime(); s != "" {
			if t, ok := parseTimestamp(s, loc); ok {
				return t, true
			}
		}
		if s := v.MappingDate(); s != "" {
			if t, ok := parseTimestamp(s, loc); ok {
				return t, true
			}
			if t, err := time.ParseInLocation(layoutDateOnly, s, loc); err == nil {
				return t, true
			}
		}
		return time.Time{}, false

	default:
		return time.Time{}, false
	}
}

// parseTimestamp はISO-8601タイムスタンプ文字列をパースする。
// ゾーン情報を持たない値には基準タイムゾーンを付与する。
func parseTimestamp(s string, loc *time.Location) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation(layoutNoZone, s, loc); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// Normalize はCalendarEventを正規化済みイベントへ決定的に変換する。
// 開始が未解決の場合はnow、終了が未解決の場合は開始を代替値とする。
func Normalize(entityID string, ev model.CalendarEvent, loc *time.Location, now time.Time) model.NormalizedEvent {
	start, startOK := ResolveEventTime(ev.Start, loc)
	if !startOK {
		start = now
	}
	end, endOK := ResolveEventTime(ev.End, loc)
	if !endOK {
		end = start
	}

	return model.NormalizedEvent{
		EntityID:      entityID,
		Start:         start,
		End:           end,
		StartResolved: startOK,
		EndResolved:   endOK,
		Summary:       ev.Summary,
		Description:   ev.Description,
		Location:      ev.Location,
		UID:           ev.UID,
		AllDay:        ev.AllDay,
		RawStart:      ev.Start,
	}
}
