package models

import (
	"time"

	"gorm.io/gorm"
)

type RunStatus string

const (
	RunStatusPending    RunStatus = "pending"
	RunStatusRendering  RunStatus = "rendering"
	RunStatusDelivering RunStatus = "delivering"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

// IsTerminal reports whether a run in this status is immutable.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

type TriggerType string

const (
	TriggerSchedule TriggerType = "schedule"
	TriggerSendNow  TriggerType = "send_now"
	TriggerSendTest TriggerType = "send_test"
)

type ArtifactType string

const (
	ArtifactAttachment ArtifactType = "attachment"
	ArtifactLink       ArtifactType = "link"
)

type WarningType string

const (
	WarningMissing    WarningType = "missing"
	WarningRestricted WarningType = "restricted"
)

// RenderWarning records a per-chart issue that did not abort the run.
type RenderWarning struct {
	ChartID    string      `json:"chartId"`
	ChartTitle string      `json:"chartTitle"`
	Type       WarningType `json:"type"`
	Message    string      `json:"message"`
}

// ExecutionRun is one instantiation of a schedule's delivery. Schedule and
// template names are denormalized snapshots so history survives deletion of
// the parents.
type ExecutionRun struct {
	gorm.Model
	ScheduleID           uint            `json:"scheduleId" gorm:"index"`
	ScheduleName         string          `json:"scheduleName"`
	TemplateID           uint            `json:"templateId"`
	TemplateName         string          `json:"templateName"`
	Status               RunStatus       `json:"status" gorm:"index;default:pending"`
	TriggeredBy          TriggerType     `json:"triggeredBy"`
	TriggeredAt          time.Time       `json:"triggeredAt"`
	RenderStartedAt      *time.Time      `json:"renderStartedAt,omitempty"`
	RenderCompletedAt    *time.Time      `json:"renderCompletedAt,omitempty"`
	DeliveryStartedAt    *time.Time      `json:"deliveryStartedAt,omitempty"`
	CompletedAt          *time.Time      `json:"completedAt,omitempty"`
	ArtifactURL          string          `json:"artifactUrl,omitempty"`
	ArtifactType         ArtifactType    `json:"artifactType,omitempty"`
	Warnings             []RenderWarning `json:"warnings" gorm:"serializer:json"`
	RecipientCount       int             `json:"recipientCount"`
	SuccessfulDeliveries int             `json:"successfulDeliveries"`
	FailedDeliveries     int             `json:"failedDeliveries"`
}

type DeliveryStatus string

const (
	DeliveryStatusPending DeliveryStatus = "pending"
	DeliveryStatusSent    DeliveryStatus = "sent"
	DeliveryStatusFailed  DeliveryStatus = "failed"
)

// DeliveryLog is one row per resolved individual recipient per run.
type DeliveryLog struct {
	gorm.Model
	RunID          uint           `json:"runId" gorm:"index"`
	RecipientID    string         `json:"recipientId"`
	RecipientName  string         `json:"recipientName"`
	RecipientEmail string         `json:"recipientEmail"`
	Status         DeliveryStatus `json:"status" gorm:"default:pending"`
	Attempts       int            `json:"attempts"`
	LastAttemptAt  *time.Time     `json:"lastAttemptAt,omitempty"`
	SentAt         *time.Time     `json:"sentAt,omitempty"`
	ErrorMessage   string         `json:"errorMessage,omitempty"`
}
