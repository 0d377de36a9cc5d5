package audit

import (
	"time"

	"chatbi/internal/models"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Actor identifies the user performing a mutating action.
type Actor struct {
	ID   string
	Name string
}

// Logger appends immutable audit events for every mutating operation on
// templates, schedules and runs.
type Logger struct {
	db  *gorm.DB
	log zerolog.Logger
}

func NewLogger(db *gorm.DB, log zerolog.Logger) *Logger {
	return &Logger{db: db, log: log}
}

// Record appends an audit event. It is fire-and-forget: a logging failure
// must never block the mutating action it describes, so errors are logged
// and swallowed.
func (l *Logger) Record(action models.AuditAction, entityType models.EntityType, entityID uint, entityName string, actor Actor) {
	event := models.AuditEvent{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		EntityName: entityName,
		UserID:     actor.ID,
		UserName:   actor.Name,
	}
	if err := l.db.Create(&event).Error; err != nil {
		l.log.Warn().Err(err).
			Str("action", string(action)).
			Str("entity_type", string(entityType)).
			Uint("entity_id", entityID).
			Msg("failed to record audit event")
	}
}

// QueryFilter narrows an audit query. Zero values mean "no filter".
type QueryFilter struct {
	UserID     string
	Action     models.AuditAction
	EntityType models.EntityType
	EntityID   uint
	From       *time.Time
	To         *time.Time
}

// Query returns matching events ordered by timestamp descending.
func (l *Logger) Query(f QueryFilter) ([]models.AuditEvent, error) {
	q := l.db.Model(&models.AuditEvent{})
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.EntityType != "" {
		q = q.Where("entity_type = ?", f.EntityType)
	}
	if f.EntityID != 0 {
		q = q.Where("entity_id = ?", f.EntityID)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", *f.To)
	}

	var events []models.AuditEvent
	if err := q.Order("created_at desc, id desc").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
