// Package static は設定ファイルに直接記述されたイベントを提供する
// EventSource実装。デモとフィクスチャ用途を想定している。
package static

import (
	"context"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hitoshi/calfeed/internal/feed"
	"github.com/hitoshi/calfeed/internal/model"
)

// EventTimeValue はYAML上の疎な時刻表現をmodel.EventTimeへデコードする。
// スカラーはRFC3339タイムスタンプ → 暦日 → dateTimeマッピングの順に解釈し、
// マッピングはdateTime/dateフィールドをそのまま保持する。
// ゼロ値は欠落を表す。
type EventTimeValue struct {
	model.EventTime
}

// UnmarshalYAML はyaml.Unmarshalerを実装する。
func (v *EventTimeValue) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		s := node.Value
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			v.EventTime = model.NewDateTime(t)
			return nil
		}
		if t, err := time.Parse("2006-01-02", s); err == nil {
			v.EventTime = model.NewDate(t.Year(), t.Month(), t.Day())
			return nil
		}
		// 解釈できないスカラーはマッピング表現として保持し、
		// 解決の成否はノーマライザに委ねる。
		v.EventTime = model.NewMapping(s, "")
		return nil

	case yaml.MappingNode:
		var m struct {
			DateTime string `yaml:"dateTime"`
			Date     string `yaml:"date"`
		}
		if err := node.Decode(&m); err != nil {
			return err
		}
		v.EventTime = model.NewMapping(m.DateTime, m.Date)
		return nil

	default:
		v.EventTime = model.AbsentTime()
		return nil
	}
}

// Event は設定ファイル上の1イベント。
type Event struct {
	Summary     string         `yaml:"summary"`
	Description string         `yaml:"description"`
	Location    string         `yaml:"location"`
	UID         string         `yaml:"uid"`
	AllDay      bool           `yaml:"all_day"`
	Start       EventTimeValue `yaml:"start"`
	End         EventTimeValue `yaml:"end"`
}

// Source は固定イベント列を返すEventSource。
type Source struct {
	events []Event
	loc    *time.Location
}

// New はSourceを生成する。locは暦日解決の基準タイムゾーン
// （nilの場合はtime.Local）。
func New(events []Event, loc *time.Location) *Source {
	if loc == nil {
		loc = time.Local
	}
	return &Source{events: events, loc: loc}
}

// GetEvents は[start, end)に重なるイベントを設定順で返す。
// 開始が解決できないイベントはウィンドウ判定ができないため常に含める。
func (s *Source) GetEvents(ctx context.Context, start, end time.Time) ([]model.CalendarEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]model.CalendarEvent, 0, len(s.events))
	for _, ev := range s.events {
		converted := model.CalendarEvent{
			Start:       ev.Start.EventTime,
			End:         ev.End.EventTime,
			Summary:     ev.Summary,
			Description: ev.Description,
			Location:    ev.Location,
			UID:         ev.UID,
			AllDay:      ev.AllDay,
		}
		if !s.overlaps(converted, start, end) {
			continue
		}
		out = append(out, converted)
	}
	return out, nil
}

// overlaps はイベントがウィンドウ[start, end)に重なるかを判定する。
func (s *Source) overlaps(ev model.CalendarEvent, start, end time.Time) bool {
	evStart, ok := feed.ResolveEventTime(ev.Start, s.loc)
	if !ok {
		return true
	}
	evEnd, ok := feed.ResolveEventTime(ev.End, s.loc)
	if !ok {
		evEnd = evStart
	}
	return evStart.Before(end) && !evEnd.Before(start)
}
