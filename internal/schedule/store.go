package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"chatbi/internal/audit"
	"chatbi/internal/config"
	"chatbi/internal/directory"
	"chatbi/internal/models"
	"chatbi/internal/recurrence"
	"gorm.io/gorm"
)

var (
	ErrNotFound         = errors.New("schedule not found")
	ErrTemplateNotFound = errors.New("schedule references an unknown template")
	ErrNoRecipients     = errors.New("schedule must have at least one resolvable recipient")
)

// Store persists schedules and owns their lifecycle: validated creation,
// pause/resume, deletion and the next-run bookkeeping the engine writes back
// after each run.
type Store struct {
	db       *gorm.DB
	resolver *directory.Resolver
	audit    *audit.Logger
	org      config.OrgConfig
}

func NewStore(db *gorm.DB, resolver *directory.Resolver, auditLog *audit.Logger, org config.OrgConfig) *Store {
	return &Store{db: db, resolver: resolver, audit: auditLog, org: org}
}

// CreateInput carries the schedule creation wizard's fields.
type CreateInput struct {
	Name           string              `json:"name"`
	TemplateID     uint                `json:"templateId"`
	Frequency      models.Frequency    `json:"frequency"`
	CronExpression string              `json:"cronExpression"`
	DayOfWeek      string              `json:"dayOfWeek"`
	DayOfMonth     int                 `json:"dayOfMonth"`
	TimeOfDay      string              `json:"time"`
	Timezone       string              `json:"timezone"`
	StartDate      string              `json:"startDate"` // "2006-01-02", optional
	Format         models.ExportFormat `json:"format"`
	Recipients     []models.Recipient  `json:"recipients"`
	EmailSubject   string              `json:"emailSubject"`
	EmailBody      string              `json:"emailBody"`
	IncludeSummary bool                `json:"includeSummary"`
}

func (s *Store) validate(in *CreateInput) (recurrence.Spec, error) {
	if strings.TrimSpace(in.Name) == "" {
		return recurrence.Spec{}, fmt.Errorf("schedule name is required")
	}
	if in.Format != models.FormatPDF && in.Format != models.FormatPNG {
		return recurrence.Spec{}, fmt.Errorf("unknown export format %q", in.Format)
	}

	var tmpl models.ReportTemplate
	if err := s.db.First(&tmpl, in.TemplateID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return recurrence.Spec{}, ErrTemplateNotFound
		}
		return recurrence.Spec{}, fmt.Errorf("failed to load template: %v", err)
	}

	spec := recurrence.Spec{
		Frequency:      in.Frequency,
		DayOfWeek:      in.DayOfWeek,
		DayOfMonth:     in.DayOfMonth,
		TimeOfDay:      in.TimeOfDay,
		Timezone:       in.Timezone,
		CronExpression: in.CronExpression,
	}
	if err := spec.Validate(s.org.CustomCronEnabled); err != nil {
		return recurrence.Spec{}, err
	}

	if len(in.Recipients) == 0 {
		return recurrence.Spec{}, ErrNoRecipients
	}
	expanded, err := s.resolver.Expand(in.Recipients)
	if err != nil {
		return recurrence.Spec{}, err
	}
	if len(expanded) == 0 {
		return recurrence.Spec{}, ErrNoRecipients
	}
	if err := directory.ValidateLimit(expanded, s.org.MaxRecipientsPerSchedule); err != nil {
		return recurrence.Spec{}, err
	}
	return spec, nil
}

// seedInstant picks the reference point for the first next-run computation:
// now, or the start date at local midnight when that is still ahead.
func seedInstant(now time.Time, startDate, timezone string) time.Time {
	if startDate == "" {
		return now
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return now
	}
	start, err := time.ParseInLocation("2006-01-02", startDate, loc)
	if err != nil {
		return now
	}
	if start.After(now) {
		return start
	}
	return now
}

// Create validates and persists a new schedule. The initial nextRun is
// computed before anything is written, so an invalid recurrence never
// leaves a half-created schedule behind.
func (s *Store) Create(in *CreateInput, actor audit.Actor) (*models.Schedule, error) {
	spec, err := s.validate(in)
	if err != nil {
		return nil, err
	}

	var tmpl models.ReportTemplate
	if err := s.db.First(&tmpl, in.TemplateID).Error; err != nil {
		return nil, ErrTemplateNotFound
	}

	next, err := spec.Next(seedInstant(time.Now(), in.StartDate, in.Timezone))
	if err != nil {
		return nil, err
	}

	sched := &models.Schedule{
		Name:           in.Name,
		TemplateID:     tmpl.ID,
		TemplateName:   tmpl.Name,
		Frequency:      in.Frequency,
		CronExpression: in.CronExpression,
		DayOfWeek:      in.DayOfWeek,
		DayOfMonth:     in.DayOfMonth,
		TimeOfDay:      in.TimeOfDay,
		Timezone:       in.Timezone,
		StartDate:      in.StartDate,
		Format:         in.Format,
		Recipients:     in.Recipients,
		EmailSubject:   in.EmailSubject,
		EmailBody:      in.EmailBody,
		IncludeSummary: in.IncludeSummary,
		Status:         models.ScheduleStatusActive,
		NextRun:        &next,
		CreatedBy:      actor.Name,
	}
	if err := s.db.Create(sched).Error; err != nil {
		return nil, fmt.Errorf("failed to create schedule: %v", err)
	}
	s.audit.Record(models.AuditScheduleCreated, models.EntitySchedule, sched.ID, sched.Name, actor)
	return sched, nil
}

func (s *Store) Get(id uint) (*models.Schedule, error) {
	var sched models.Schedule
	if err := s.db.First(&sched, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load schedule: %v", err)
	}
	return &sched, nil
}

// GetAny loads a schedule including soft-deleted ones. Used by the engine so
// an in-flight run can finish after its parent schedule is deleted.
func (s *Store) GetAny(id uint) (*models.Schedule, error) {
	var sched models.Schedule
	if err := s.db.Unscoped().First(&sched, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load schedule: %v", err)
	}
	return &sched, nil
}

func (s *Store) List(status models.ScheduleStatus) ([]models.Schedule, error) {
	q := s.db.Order("created_at desc")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var scheds []models.Schedule
	if err := q.Find(&scheds).Error; err != nil {
		return nil, fmt.Errorf("failed to list schedules: %v", err)
	}
	return scheds, nil
}

// ListDue returns active schedules whose nextRun has passed.
func (s *Store) ListDue(now time.Time) ([]models.Schedule, error) {
	var scheds []models.Schedule
	err := s.db.
		Where("status = ?", models.ScheduleStatusActive).
		Where("next_run IS NOT NULL AND next_run <= ?", now).
		Find(&scheds).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due schedules: %v", err)
	}
	return scheds, nil
}

// Update re-validates and applies an edit. nextRun is recomputed because the
// recurrence may have changed.
func (s *Store) Update(id uint, in *CreateInput, actor audit.Actor) (*models.Schedule, error) {
	sched, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	spec, err := s.validate(in)
	if err != nil {
		return nil, err
	}

	var tmpl models.ReportTemplate
	if err := s.db.First(&tmpl, in.TemplateID).Error; err != nil {
		return nil, ErrTemplateNotFound
	}

	sched.Name = in.Name
	sched.TemplateID = tmpl.ID
	sched.TemplateName = tmpl.Name
	sched.Frequency = in.Frequency
	sched.CronExpression = in.CronExpression
	sched.DayOfWeek = in.DayOfWeek
	sched.DayOfMonth = in.DayOfMonth
	sched.TimeOfDay = in.TimeOfDay
	sched.Timezone = in.Timezone
	sched.StartDate = in.StartDate
	sched.Format = in.Format
	sched.Recipients = in.Recipients
	sched.EmailSubject = in.EmailSubject
	sched.EmailBody = in.EmailBody
	sched.IncludeSummary = in.IncludeSummary

	if sched.Status == models.ScheduleStatusActive {
		next, err := spec.Next(seedInstant(time.Now(), in.StartDate, in.Timezone))
		if err != nil {
			return nil, err
		}
		sched.NextRun = &next
	}

	if err := s.db.Save(sched).Error; err != nil {
		return nil, fmt.Errorf("failed to update schedule: %v", err)
	}
	s.audit.Record(models.AuditScheduleUpdated, models.EntitySchedule, sched.ID, sched.Name, actor)
	return sched, nil
}

// Pause stops future triggering. nextRun is cleared so a paused schedule is
// never picked up by the due scan.
func (s *Store) Pause(id uint, actor audit.Actor) (*models.Schedule, error) {
	sched, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	sched.Status = models.ScheduleStatusPaused
	sched.NextRun = nil
	if err := s.db.Save(sched).Error; err != nil {
		return nil, fmt.Errorf("failed to pause schedule: %v", err)
	}
	s.audit.Record(models.AuditSchedulePaused, models.EntitySchedule, sched.ID, sched.Name, actor)
	return sched, nil
}

// Resume reactivates a schedule and recomputes nextRun from now.
func (s *Store) Resume(id uint, actor audit.Actor) (*models.Schedule, error) {
	sched, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	next, err := recurrence.FromSchedule(sched).Next(time.Now())
	if err != nil {
		return nil, err
	}
	sched.Status = models.ScheduleStatusActive
	sched.NextRun = &next
	if err := s.db.Save(sched).Error; err != nil {
		return nil, fmt.Errorf("failed to resume schedule: %v", err)
	}
	s.audit.Record(models.AuditScheduleResumed, models.EntitySchedule, sched.ID, sched.Name, actor)
	return sched, nil
}

// Delete removes the schedule from future triggering. Historical runs are
// retained; their scheduleId becomes a dangling reference kept for audit.
func (s *Store) Delete(id uint, actor audit.Actor) error {
	sched, err := s.Get(id)
	if err != nil {
		return err
	}
	if err := s.db.Delete(sched).Error; err != nil {
		return fmt.Errorf("failed to delete schedule: %v", err)
	}
	s.audit.Record(models.AuditScheduleDeleted, models.EntitySchedule, sched.ID, sched.Name, actor)
	return nil
}

// RecordRunOutcome applies a terminal run's effect on the parent schedule:
// schedule-triggered runs set lastRun and advance nextRun seeded at the
// trigger instant, send_now sets lastRun only, send_test touches nothing.
func (s *Store) RecordRunOutcome(scheduleID uint, triggeredBy models.TriggerType, triggeredAt time.Time) error {
	if triggeredBy == models.TriggerSendTest {
		return nil
	}

	sched, err := s.Get(scheduleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// schedule deleted while the run was in flight
			return nil
		}
		return err
	}

	sched.LastRun = &triggeredAt
	if triggeredBy == models.TriggerSchedule && sched.Status == models.ScheduleStatusActive {
		next, err := recurrence.FromSchedule(sched).Next(triggeredAt)
		if err != nil {
			return err
		}
		sched.NextRun = &next
	}

	if err := s.db.Save(sched).Error; err != nil {
		return fmt.Errorf("failed to record run outcome: %v", err)
	}
	return nil
}

// NextRuns previews the upcoming occurrences of a schedule.
func (s *Store) NextRuns(id uint, count int) ([]time.Time, error) {
	sched, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return recurrence.FromSchedule(sched).NextN(time.Now(), count)
}
