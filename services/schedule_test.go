package services

import (
	"errors"
	"testing"
	"time"

	"github.com/malwarebo/partnersync/models"
)

func mustParse(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("time.Parse(%q) error = %v", value, err)
	}
	return ts
}

func TestNextExecution(t *testing.T) {
	weeklyMonday := models.Schedule{Kind: models.ScheduleKindWeekly, DayOfWeek: int(time.Monday), Hour: 10}

	tests := []struct {
		name     string
		schedule models.Schedule
		from     string
		want     string
	}{
		{
			name:     "weekly same day before target",
			schedule: weeklyMonday,
			from:     "2025-01-20T08:00:00Z",
			want:     "2025-01-20T10:00:00Z",
		},
		{
			name:     "weekly same day after target",
			schedule: weeklyMonday,
			from:     "2025-01-20T11:00:00Z",
			want:     "2025-01-27T10:00:00Z",
		},
		{
			name:     "weekly exactly at target",
			schedule: weeklyMonday,
			from:     "2025-01-20T10:00:00Z",
			want:     "2025-01-27T10:00:00Z",
		},
		{
			name:     "weekly later in week",
			schedule: models.Schedule{Kind: models.ScheduleKindWeekly, DayOfWeek: int(time.Friday), Hour: 9, Minute: 30},
			from:     "2025-01-20T11:00:00Z",
			want:     "2025-01-24T09:30:00Z",
		},
		{
			name:     "weekly sunday wraps",
			schedule: models.Schedule{Kind: models.ScheduleKindWeekly, DayOfWeek: int(time.Sunday)},
			from:     "2025-01-20T11:00:00Z",
			want:     "2025-01-26T00:00:00Z",
		},
		{
			name:     "daily is tomorrow",
			schedule: models.Schedule{Kind: models.ScheduleKindDaily, Hour: 23, Minute: 59},
			from:     "2025-01-20T08:00:00Z",
			want:     "2025-01-21T23:59:00Z",
		},
		{
			name:     "daily crosses year end",
			schedule: models.Schedule{Kind: models.ScheduleKindDaily, Hour: 6},
			from:     "2024-12-31T20:00:00Z",
			want:     "2025-01-01T06:00:00Z",
		},
		{
			name:     "monthly clamps to february",
			schedule: models.Schedule{Kind: models.ScheduleKindMonthly, DayOfMonth: 31, Hour: 2},
			from:     "2025-01-31T12:00:00Z",
			want:     "2025-02-28T02:00:00Z",
		},
		{
			name:     "monthly leap year",
			schedule: models.Schedule{Kind: models.ScheduleKindMonthly, DayOfMonth: 30},
			from:     "2024-01-15T12:00:00Z",
			want:     "2024-02-29T00:00:00Z",
		},
		{
			name:     "monthly december rolls into january",
			schedule: models.Schedule{Kind: models.ScheduleKindMonthly, DayOfMonth: 15, Hour: 8},
			from:     "2025-12-20T12:00:00Z",
			want:     "2026-01-15T08:00:00Z",
		},
		{
			name:     "monthly thirty day month",
			schedule: models.Schedule{Kind: models.ScheduleKindMonthly, DayOfMonth: 31},
			from:     "2025-03-02T00:00:00Z",
			want:     "2025-04-30T00:00:00Z",
		},
		{
			name:     "interval",
			schedule: models.Schedule{Kind: models.ScheduleKindInterval, IntervalSeconds: 60},
			from:     "2025-01-20T08:00:30Z",
			want:     "2025-01-20T08:01:30Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextExecution(tt.schedule, mustParse(t, tt.from), time.UTC)
			if err != nil {
				t.Fatalf("NextExecution() error = %v", err)
			}
			if want := mustParse(t, tt.want); !got.Equal(want) {
				t.Errorf("NextExecution() = %v, want %v", got, want)
			}
		})
	}
}

func TestNextExecution_IntervalIsRelativeToExecution(t *testing.T) {
	schedule := models.Schedule{Kind: models.ScheduleKindInterval, IntervalSeconds: 60}
	first := mustParse(t, "2025-01-20T08:00:00Z")

	next, _ := NextExecution(schedule, first, nil)
	executedAt := next.Add(7 * time.Second)
	after, _ := NextExecution(schedule, executedAt, nil)

	if got := next.Sub(first); got != time.Minute {
		t.Errorf("first gap = %v, want 1m", got)
	}
	if got := after.Sub(executedAt); got != time.Minute {
		t.Errorf("second gap = %v, want 1m", got)
	}
}

func TestNextExecution_Timezone(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	schedule := models.Schedule{Kind: models.ScheduleKindDaily, Hour: 1}

	got, err := NextExecution(schedule, mustParse(t, "2025-01-20T23:30:00Z"), loc)
	if err != nil {
		t.Fatalf("NextExecution() error = %v", err)
	}
	// 23:30Z is already Jan 21 01:30 local, so tomorrow is Jan 22.
	want := mustParse(t, "2025-01-21T23:00:00Z")
	if !got.Equal(want) {
		t.Errorf("NextExecution() = %v, want %v", got.UTC(), want)
	}
}

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		name     string
		schedule models.Schedule
		wantErr  bool
	}{
		{"interval ok", models.Schedule{Kind: models.ScheduleKindInterval, IntervalSeconds: 1}, false},
		{"interval zero", models.Schedule{Kind: models.ScheduleKindInterval}, true},
		{"daily ok", models.Schedule{Kind: models.ScheduleKindDaily, Hour: 23, Minute: 59}, false},
		{"daily bad hour", models.Schedule{Kind: models.ScheduleKindDaily, Hour: 24}, true},
		{"daily bad minute", models.Schedule{Kind: models.ScheduleKindDaily, Minute: -1}, true},
		{"weekly bad day", models.Schedule{Kind: models.ScheduleKindWeekly, DayOfWeek: 7}, true},
		{"monthly zero day", models.Schedule{Kind: models.ScheduleKindMonthly}, true},
		{"monthly 31", models.Schedule{Kind: models.ScheduleKindMonthly, DayOfMonth: 31}, false},
		{"cron unsupported", models.Schedule{Kind: "cron"}, true},
		{"empty kind", models.Schedule{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSchedule(tt.schedule)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateSchedule() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidSchedule) {
				t.Errorf("ValidateSchedule() error = %v, want %v", err, ErrInvalidSchedule)
			}
		})
	}
}

func TestValidateJobRequest(t *testing.T) {
	tests := []struct {
		name    string
		request models.JobRequest
		wantErr bool
	}{
		{"get", models.JobRequest{Method: "get", URL: "https://api.partner.test/sync"}, false},
		{"default method", models.JobRequest{URL: "http://localhost:8080/x"}, false},
		{"relative url", models.JobRequest{URL: "/sync"}, true},
		{"ftp", models.JobRequest{URL: "ftp://partner.test/file"}, true},
		{"bad method", models.JobRequest{Method: "TRACE", URL: "https://partner.test"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateJobRequest(tt.request); (err != nil) != tt.wantErr {
				t.Errorf("ValidateJobRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
