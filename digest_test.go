package main

import (
	"testing"
	"time"

	"github.com/robfig/cron/v3"
)

func TestDigestScheduleParsing(t *testing.T) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	sched, err := parser.Parse("0 8 * * 1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// From a Wednesday, the next Monday-8am fire is five days out.
	from := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	next := sched.Next(from)
	if next.Weekday() != time.Monday || next.Hour() != 8 {
		t.Fatalf("next fire = %s", next)
	}

	if _, err := parser.Parse("not a cron line"); err == nil {
		t.Fatal("expected parse error")
	}
	// 6-field (seconds) expressions are rejected under the 5-field parser.
	if _, err := parser.Parse("0 0 8 * * 1"); err == nil {
		t.Fatal("expected error for 6-field expression")
	}
}

func TestStartDigestScheduler_DisabledPaths(t *testing.T) {
	// No schedule, no Slack, invalid cron line: all return without starting
	// the loop or panicking.
	StartDigestScheduler(Config{}, nil, nil)
	StartDigestScheduler(Config{DigestSchedule: "0 8 * * 1"}, nil, nil)
	StartDigestScheduler(Config{
		DigestSchedule: "every monday",
		SlackBotToken:  "xoxb-test",
		SlackChannelID: "C0123",
	}, nil, nil)
}
