// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"time"
)

// デフォルトのフィード取得ウィンドウ（日数）。
const (
	DefaultPastDays   = 7
	DefaultFutureDays = 30

	// MaxWindowDays は過去・未来それぞれのウィンドウ上限。
	MaxWindowDays = 365
)

// FeedConfig は1つの配信フィードの設定を表す。
// 設定ファイル（collaborator）が所有し、コアはリクエストごとに読み取るのみ。
type FeedConfig struct {
	// ID はフィードの内部識別子。スラグ生成のフォールバックに使用する。
	ID string `yaml:"id"`
	// Title はフィードのタイトル。スラグの導出元。
	Title string `yaml:"title"`
	// Secret はURL埋め込みのケーパビリティシークレット。
	Secret string `yaml:"secret"`
	// Calendars は配信対象のカレンダーID列（設定順を保持する）。
	Calendars []string `yaml:"calendars"`
	// PastDays / FutureDays はイベント取得ウィンドウ（日数、0〜365）。
	PastDays   int `yaml:"past_days"`
	FutureDays int `yaml:"future_days"`
	// TitleRegex / TitleReplacement はSUMMARYの書き換え規則（任意）。
	TitleRegex       string `yaml:"title_regex"`
	TitleReplacement string `yaml:"title_replacement"`
	// FilterRegex にマッチするSUMMARYのイベントはフィードから除外する（任意）。
	FilterRegex string `yaml:"filter_regex"`
}

// EventTimeKind はEventTimeの表現種別。
type EventTimeKind int

const (
	// EventTimeAbsent は開始・終了が未指定であることを示す。
	EventTimeAbsent EventTimeKind = iota
	// EventTimeDateTime は完全なタイムスタンプ。
	EventTimeDateTime
	// EventTimeDate は時刻を持たない暦日。
	EventTimeDate
	// EventTimeMapping はdateTime/date文字列フィールドを持つ疎な構造。
	EventTimeMapping
)

// EventTime はカレンダーイベントの開始・終了の異種表現を1つにまとめた直和型。
// 疎な入力（タイムスタンプ / 暦日 / 文字列マッピング / 欠落）を境界で一度だけ
// デコードし、下流は正規化済みの値のみを扱う。
type EventTime struct {
	kind     EventTimeKind
	dateTime time.Time
	year     int
	month    time.Month
	day      int
	// マッピング表現の生フィールド。パースはノーマライザが行う。
	mapDateTime string
	mapDate     string
}

// NewDateTime は完全なタイムスタンプのEventTimeを返す。
func NewDateTime(t time.Time) EventTime {
	return EventTime{kind: EventTimeDateTime, dateTime: t}
}

// NewDate は時刻を持たない暦日のEventTimeを返す。
func NewDate(year int, month time.Month, day int) EventTime {
	return EventTime{kind: EventTimeDate, year: year, month: month, day: day}
}

// NewMapping はdateTime/date文字列フィールドを持つEventTimeを返す。
// どちらのフィールドも空の場合でもマッピングとして保持し、
// 解決の可否はノーマライザが判断する。
func NewMapping(dateTime, date string) EventTime {
	return EventTime{kind: EventTimeMapping, mapDateTime: dateTime, mapDate: date}
}

// AbsentTime は欠落を表すEventTimeを返す。
func AbsentTime() EventTime {
	return EventTime{kind: EventTimeAbsent}
}

// Kind は表現種別を返す。
func (et EventTime) Kind() EventTimeKind { return et.kind }

// DateTime はEventTimeDateTimeのタイムスタンプを返す。
func (et EventTime) DateTime() time.Time { return et.dateTime }

// Date はEventTimeDateの年月日を返す。
func (et EventTime) Date() (int, time.Month, int) { return et.year, et.month, et.day }

// MappingDateTime / MappingDate はマッピング表現の生フィールドを返す。
func (et EventTime) MappingDateTime() string { return et.mapDateTime }
func (et EventTime) MappingDate() string     { return et.mapDate }

// String は元表現を保った安定した文字列を返す。
// UIDのコンテンツハッシュなど、同一イベントの再レンダリングで
// 同一値が必要な箇所で使用する。
func (et EventTime) String() string {
	switch et.kind {
	case EventTimeDateTime:
		return et.dateTime.Format(time.RFC3339)
	case EventTimeDate:
		return fmt.Sprintf("%04d-%02d-%02d", et.year, et.month, et.day)
	case EventTimeMapping:
		if et.mapDateTime != "" {
			return et.mapDateTime
		}
		return et.mapDate
	default:
		return ""
	}
}

// CalendarEvent はカレンダーソースが返すイベントの外部形状。
// 全フィールドが欠落し得るため、コアは防御的に扱う。
type CalendarEvent struct {
	Start       EventTime
	End         EventTime
	Summary     string
	Description string
	Location    string
	UID         string
	AllDay      bool
}

// NormalizedEvent はレンダリング対象の正規化済みイベント。
// CalendarEventから決定的に導出される。
type NormalizedEvent struct {
	// EntityID は所属カレンダーのID。
	EntityID string
	// Start / End は解決済みタイムスタンプ。未解決の場合はレンダラが
	// 生成時刻で代替する（ソート用途のみ。表示には使わない）。
	Start time.Time
	End   time.Time
	// StartResolved / EndResolved は解決に成功したかを示す。
	StartResolved bool
	EndResolved   bool

	Summary     string
	Description string
	Location    string
	// UID はソースのUID。空の場合はレンダラがコンテンツハッシュを生成する。
	UID    string
	AllDay bool

	// RawStart はUIDハッシュ用に元表現を保持する。
	RawStart EventTime
}
