package models

import (
	"time"
)

type ScheduleKind string

const (
	ScheduleKindInterval ScheduleKind = "interval"
	ScheduleKindDaily    ScheduleKind = "daily"
	ScheduleKindWeekly   ScheduleKind = "weekly"
	ScheduleKindMonthly  ScheduleKind = "monthly"
)

// Schedule fields are interpreted per Kind: IntervalSeconds for interval,
// Hour and Minute for daily, plus DayOfWeek (0 = Sunday) for weekly, plus
// DayOfMonth (1-31) for monthly.
type Schedule struct {
	Kind            ScheduleKind `json:"kind"`
	IntervalSeconds int          `json:"interval_seconds,omitempty"`
	Hour            int          `json:"hour,omitempty"`
	Minute          int          `json:"minute,omitempty"`
	DayOfWeek       int          `json:"day_of_week,omitempty"`
	DayOfMonth      int          `json:"day_of_month,omitempty"`
}

type JobRequest struct {
	Method       string            `json:"method"`
	URL          string            `json:"url"`
	Headers      map[string]string `json:"headers,omitempty"`
	Body         string            `json:"body,omitempty"`
	UseAuthToken bool              `json:"use_auth_token"`
}

type JobDefinition struct {
	ID       string     `json:"id"`
	Schedule Schedule   `json:"schedule"`
	Request  JobRequest `json:"request"`
}

type ExecutionResult struct {
	Success      bool      `json:"success"`
	StatusCode   int       `json:"status_code,omitempty"`
	ResponseBody string    `json:"response_body,omitempty"`
	Error        string    `json:"error,omitempty"`
	Degraded     bool      `json:"degraded,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	ExecutedAt   time.Time `json:"executed_at"`
}

type ScheduledJob struct {
	ID             string           `json:"id"`
	Schedule       Schedule         `json:"schedule"`
	Request        JobRequest       `json:"request"`
	NextExecution  time.Time        `json:"next_execution"`
	LastExecution  *time.Time       `json:"last_execution,omitempty"`
	LastResult     *ExecutionResult `json:"last_result,omitempty"`
	ExecutionCount int              `json:"execution_count"`
	IsActive       bool             `json:"is_active"`
	CreatedAt      time.Time        `json:"created_at"`
}
