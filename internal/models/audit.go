package models

import (
	"gorm.io/gorm"
)

type AuditAction string

const (
	AuditTemplateCreated    AuditAction = "template_created"
	AuditTemplateUpdated    AuditAction = "template_updated"
	AuditTemplateDeleted    AuditAction = "template_deleted"
	AuditScheduleCreated    AuditAction = "schedule_created"
	AuditScheduleUpdated    AuditAction = "schedule_updated"
	AuditScheduleDeleted    AuditAction = "schedule_deleted"
	AuditSchedulePaused     AuditAction = "schedule_paused"
	AuditScheduleResumed    AuditAction = "schedule_resumed"
	AuditReportSent         AuditAction = "report_sent"
	AuditTestSent           AuditAction = "test_sent"
)

type EntityType string

const (
	EntityTemplate EntityType = "template"
	EntitySchedule EntityType = "schedule"
)

// AuditEvent is an immutable record of a mutating action. Rows are only ever
// appended; retention-driven purge is handled outside the core.
type AuditEvent struct {
	gorm.Model
	Action     AuditAction `json:"action" gorm:"index;not null"`
	EntityType EntityType  `json:"entityType" gorm:"index"`
	EntityID   uint        `json:"entityId" gorm:"index"`
	EntityName string      `json:"entityName"`
	UserID     string      `json:"userId" gorm:"index"`
	UserName   string      `json:"userName"`
}
