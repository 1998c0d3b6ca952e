package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/hitoshi/calfeed/internal/model"
)

// iCalendarの日付・日時フォーマット。
const (
	icalDateTimeLayout = "20060102T150405Z"
	icalDateLayout     = "20060102"
)

// prodID は生成するVCALENDARのPRODID。
const prodID = "-//calfeed//calfeed//EN"

// RenderItem はレンダラへの入力1件。
// Summary は書き換え規則適用後の表示用SUMMARYで、
// UIDのコンテンツハッシュには元のSummaryを使う。
type RenderItem struct {
	Event   model.NormalizedEvent
	Summary string
}

// Render はタイトルとイベント列からiCalendarドキュメントを組み立て、
// ペイロードと出力イベント数を返す。
//
// イベントは正規化済み開始時刻の昇順で安定ソートされる（未解決の開始は
// nowとして扱う）。同時刻のイベントは入力順、すなわちカレンダー列挙順
// そしてカレンダー内の元の順序を保つ。行はCRLFで結合し、末尾もCRLFで
// 終端する。
func Render(title string, items []RenderItem, now time.Time, loc *time.Location) (string, int) {
	sorted := make([]RenderItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Event.Start.Before(sorted[j].Event.Start)
	})

	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:" + prodID,
		"X-WR-CALNAME:" + EscapeText(title),
	}

	for _, item := range sorted {
		lines = append(lines, formatEvent(item, now, loc)...)
	}

	lines = append(lines, "END:VCALENDAR")
	return strings.Join(lines, "\r\n") + "\r\n", len(sorted)
}

// formatEvent は1イベントをVEVENTブロックの行列へ変換する。
func formatEvent(item RenderItem, now time.Time, loc *time.Location) []string {
	ev := item.Event
	lines := []string{"BEGIN:VEVENT"}

	uid := ev.UID
	if uid == "" {
		uid = ContentUID(ev.EntityID, ev.RawStart, ev.Summary)
	}

	if ev.AllDay {
		// 全日イベントは基準タイムゾーンでのその日をDATE値として出力する。
		// ソース表現の排他的終了日はそのまま通す（再解釈しない）。
		startDay := startOfDay(ev.Start.In(loc))
		endDay := startOfDay(ev.End.In(loc))
		lines = append(lines,
			"DTSTART;VALUE=DATE:"+startDay.Format(icalDateLayout),
			"DTEND;VALUE=DATE:"+endDay.Format(icalDateLayout),
		)
	} else {
		lines = append(lines,
			"DTSTART:"+ev.Start.UTC().Format(icalDateTimeLayout),
			"DTEND:"+ev.End.UTC().Format(icalDateTimeLayout),
		)
	}

	lines = append(lines, "DTSTAMP:"+now.UTC().Format(icalDateTimeLayout))
	lines = append(lines, "SUMMARY:"+EscapeText(item.Summary))
	if ev.Description != "" {
		lines = append(lines, "DESCRIPTION:"+EscapeText(ev.Description))
	}
	if ev.Location != "" {
		lines = append(lines, "LOCATION:"+EscapeText(ev.Location))
	}
	lines = append(lines, "UID:"+uid, "END:VEVENT")
	return lines
}

// ContentUID はUIDを持たないイベントの安定した識別子を生成する。
// カレンダーID・元の開始表現・元のSUMMARYの連結のSHA-256十六進ダイジェスト。
// 変更のないイベントは再レンダリングをまたいで同一のUIDを得る。
func ContentUID(entityID string, start model.EventTime, summary string) string {
	src := entityID + "-" + start.String() + "-" + summary
	sum := sha256.Sum256([]byte(src))
	return hex.EncodeToString(sum[:])
}

// EscapeText はRFC5545のTEXT値エスケープを適用する。
// バックスラッシュを最初に置換することで、後続の置換が導入する
// バックスラッシュを二重エスケープしない。
func EscapeText(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	s = strings.ReplaceAll(s, ",", `\,`)
	s = strings.ReplaceAll(s, ";", `\;`)
	return s
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
