package models

import (
	"time"

	"gorm.io/gorm"
)

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyCustom  Frequency = "custom"
)

type ExportFormat string

const (
	FormatPDF ExportFormat = "pdf"
	FormatPNG ExportFormat = "png"
)

type ScheduleStatus string

const (
	ScheduleStatusActive ScheduleStatus = "active"
	ScheduleStatusPaused ScheduleStatus = "paused"
)

// Schedule is a recurring delivery configuration for a report template.
// NextRun is authoritative: it is written at creation, on pause/resume and
// after each schedule-triggered run, never recomputed on read.
type Schedule struct {
	gorm.Model
	Name           string         `json:"name" gorm:"index;not null"`
	TemplateID     uint           `json:"templateId" gorm:"index;not null"`
	TemplateName   string         `json:"templateName"`
	Frequency      Frequency      `json:"frequency" gorm:"not null"`
	CronExpression string         `json:"cronExpression,omitempty"`
	DayOfWeek      string         `json:"dayOfWeek,omitempty"`
	DayOfMonth     int            `json:"dayOfMonth,omitempty"`
	TimeOfDay      string         `json:"time"`     // "15:04", local to Timezone
	Timezone       string         `json:"timezone"` // IANA zone name
	StartDate      string         `json:"startDate"`
	Format         ExportFormat   `json:"format"`
	Recipients     []Recipient    `json:"recipients" gorm:"serializer:json"`
	EmailSubject   string         `json:"emailSubject"`
	EmailBody      string         `json:"emailBody,omitempty"`
	IncludeSummary bool           `json:"includeSummary"`
	Status         ScheduleStatus `json:"status" gorm:"index;default:active"`
	LastRun        *time.Time     `json:"lastRun,omitempty"`
	NextRun        *time.Time     `json:"nextRun,omitempty"`
	CreatedBy      string         `json:"createdBy"`
}
