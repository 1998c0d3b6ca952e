package ics

import (
	"net/http"
	"testing"
	"time"
)

func newParseSource(t *testing.T) *Source {
	t.Helper()
	return New("calendar.parse", "https://calendar.example.com/p.ics", Options{
		Client:   &http.Client{},
		Location: time.UTC,
		Logger:   testLogger(),
	})
}

func TestParseBody_FieldsAndAllDay(t *testing.T) {
	src := newParseSource(t)

	body := "BEGIN:VCALENDAR\r\n" +
		"VERSION:2.0\r\n" +
		"PRODID:-//test//test//EN\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:ev-1\r\n" +
		"DTSTART:20240506T010000Z\r\n" +
		"DTEND:20240506T020000Z\r\n" +
		"SUMMARY:通常イベント\r\n" +
		"END:VEVENT\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:ev-2\r\n" +
		"DTSTART;VALUE=DATE:20240510\r\n" +
		"DTEND;VALUE=DATE:20240511\r\n" +
		"SUMMARY:終日\r\n" +
		"END:VEVENT\r\n" +
		"END:VCALENDAR\r\n"

	events, err := src.parseBody([]byte(body))
	if err != nil {
		t.Fatalf("parseBody failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}

	if events[0].UID != "ev-1" || events[0].AllDay {
		t.Errorf("events[0] = %+v", events[0])
	}
	wantStart := time.Date(2024, 5, 6, 1, 0, 0, 0, time.UTC)
	if !events[0].Start.Equal(wantStart) {
		t.Errorf("Start = %v, want %v", events[0].Start, wantStart)
	}

	if !events[1].AllDay {
		t.Error("VALUE=DATEのイベントは全日と判定されるべき")
	}
}

func TestParseBody_RRuleAndExDate(t *testing.T) {
	src := newParseSource(t)

	body := "BEGIN:VCALENDAR\r\n" +
		"VERSION:2.0\r\n" +
		"PRODID:-//test//test//EN\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:rec-1\r\n" +
		"DTSTART:20240501T090000Z\r\n" +
		"DTEND:20240501T100000Z\r\n" +
		"RRULE:FREQ=DAILY;COUNT=5\r\n" +
		"EXDATE:20240502T090000Z,20240503T090000Z\r\n" +
		"SUMMARY:繰り返し\r\n" +
		"END:VEVENT\r\n" +
		"END:VCALENDAR\r\n"

	events, err := src.parseBody([]byte(body))
	if err != nil {
		t.Fatalf("parseBody failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.RawRRule != "FREQ=DAILY;COUNT=5" {
		t.Errorf("RawRRule = %q", ev.RawRRule)
	}
	if len(ev.ExDates) != 2 {
		t.Fatalf("len(ExDates) = %d, want 2", len(ev.ExDates))
	}
	if !ev.ExDates[0].Equal(time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("ExDates[0] = %v", ev.ExDates[0])
	}
}

func TestParseBody_MissingUIDSkipped(t *testing.T) {
	src := newParseSource(t)

	body := "BEGIN:VCALENDAR\r\n" +
		"VERSION:2.0\r\n" +
		"PRODID:-//test//test//EN\r\n" +
		"BEGIN:VEVENT\r\n" +
		"DTSTART:20240506T010000Z\r\n" +
		"SUMMARY:UIDなし\r\n" +
		"END:VEVENT\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:ok-1\r\n" +
		"DTSTART:20240506T010000Z\r\n" +
		"SUMMARY:UIDあり\r\n" +
		"END:VEVENT\r\n" +
		"END:VCALENDAR\r\n"

	events, err := src.parseBody([]byte(body))
	if err != nil {
		t.Fatalf("parseBody failed: %v", err)
	}
	if len(events) != 1 || events[0].UID != "ok-1" {
		t.Errorf("events = %+v", events)
	}
}

func TestParseBody_Empty(t *testing.T) {
	src := newParseSource(t)
	if _, err := src.parseBody(nil); err == nil {
		t.Error("expected error for empty body")
	}
}

func TestParseICSTime(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatalf("LoadLocation failed: %v", err)
	}

	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"UTC形式", "20240506T010000Z", time.Date(2024, 5, 6, 1, 0, 0, 0, time.UTC)},
		{"ローカル形式", "20240506T100000", time.Date(2024, 5, 6, 10, 0, 0, 0, loc)},
		{"暦日形式", "20240506", time.Date(2024, 5, 6, 0, 0, 0, 0, loc)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseICSTime(tt.input, loc)
			if err != nil {
				t.Fatalf("parseICSTime failed: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("parseICSTime(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}

	if _, err := parseICSTime("", loc); err == nil {
		t.Error("expected error for empty value")
	}
}
