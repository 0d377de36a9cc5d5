package template

import (
	"errors"
	"fmt"
	"strings"

	"chatbi/internal/audit"
	"chatbi/internal/models"
	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("template not found")
	// ErrReferencedBySchedule rejects deletion of a template that a
	// non-deleted schedule still points at.
	ErrReferencedBySchedule = errors.New("template is referenced by an existing schedule")
)

// Registry stores report templates and exposes them to the scheduler.
type Registry struct {
	db    *gorm.DB
	audit *audit.Logger
}

func NewRegistry(db *gorm.DB, auditLog *audit.Logger) *Registry {
	return &Registry{db: db, audit: auditLog}
}

func validate(t *models.ReportTemplate) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("template name is required")
	}
	if t.Source != models.TemplateSourceDashboard && t.Source != models.TemplateSourceChat {
		return fmt.Errorf("unknown template source %q", t.Source)
	}
	if len(t.Charts) == 0 {
		return fmt.Errorf("template must contain at least one chart")
	}
	if t.Layout != nil {
		ids := make(map[string]bool, len(t.Charts))
		for _, c := range t.Charts {
			ids[c.ID] = true
		}
		for _, id := range t.Layout.ChartOrder {
			if !ids[id] {
				return fmt.Errorf("layout references unknown chart %q", id)
			}
		}
	}
	return nil
}

func (r *Registry) Create(t *models.ReportTemplate, actor audit.Actor) error {
	if err := validate(t); err != nil {
		return err
	}
	t.CreatedBy = actor.Name
	if err := r.db.Create(t).Error; err != nil {
		return fmt.Errorf("failed to create template: %v", err)
	}
	r.audit.Record(models.AuditTemplateCreated, models.EntityTemplate, t.ID, t.Name, actor)
	return nil
}

func (r *Registry) Get(id uint) (*models.ReportTemplate, error) {
	var t models.ReportTemplate
	if err := r.db.First(&t, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load template: %v", err)
	}
	return &t, nil
}

// Filter narrows a template listing. Matching is a pure in-memory predicate;
// at this scale no pagination is needed.
type Filter struct {
	Source models.TemplateSource
	Query  string   // substring match on name/description, case-insensitive
	Tags   []string // template must carry every tag
}

func (f Filter) matches(t *models.ReportTemplate) bool {
	if f.Source != "" && t.Source != f.Source {
		return false
	}
	if f.Query != "" {
		q := strings.ToLower(f.Query)
		if !strings.Contains(strings.ToLower(t.Name), q) &&
			!strings.Contains(strings.ToLower(t.Description), q) {
			return false
		}
	}
	for _, tag := range f.Tags {
		if !t.HasTag(tag) {
			return false
		}
	}
	return true
}

func (r *Registry) List(f Filter) ([]models.ReportTemplate, error) {
	var all []models.ReportTemplate
	if err := r.db.Order("created_at desc").Find(&all).Error; err != nil {
		return nil, fmt.Errorf("failed to list templates: %v", err)
	}
	out := make([]models.ReportTemplate, 0, len(all))
	for i := range all {
		if f.matches(&all[i]) {
			out = append(out, all[i])
		}
	}
	return out, nil
}

// Duplicate creates a copy of a template with a fresh id and timestamps.
func (r *Registry) Duplicate(id uint, actor audit.Actor) (*models.ReportTemplate, error) {
	src, err := r.Get(id)
	if err != nil {
		return nil, err
	}

	dup := *src
	dup.Model = gorm.Model{}
	dup.Name = src.Name + " (Copy)"
	dup.CreatedBy = actor.Name
	if err := r.db.Create(&dup).Error; err != nil {
		return nil, fmt.Errorf("failed to duplicate template: %v", err)
	}
	r.audit.Record(models.AuditTemplateCreated, models.EntityTemplate, dup.ID, dup.Name, actor)
	return &dup, nil
}

func (r *Registry) Update(id uint, update *models.ReportTemplate, actor audit.Actor) (*models.ReportTemplate, error) {
	t, err := r.Get(id)
	if err != nil {
		return nil, err
	}

	t.Name = update.Name
	t.Description = update.Description
	t.Source = update.Source
	t.SourceID = update.SourceID
	t.Charts = update.Charts
	t.Layout = update.Layout
	t.Tags = update.Tags
	if err := validate(t); err != nil {
		return nil, err
	}
	if err := r.db.Save(t).Error; err != nil {
		return nil, fmt.Errorf("failed to update template: %v", err)
	}
	r.audit.Record(models.AuditTemplateUpdated, models.EntityTemplate, t.ID, t.Name, actor)
	return t, nil
}

// Delete removes a template. It fails with ErrReferencedBySchedule while any
// non-deleted schedule references it, so a schedule can never lose its
// template out from under it.
func (r *Registry) Delete(id uint, actor audit.Actor) error {
	t, err := r.Get(id)
	if err != nil {
		return err
	}

	var refs int64
	if err := r.db.Model(&models.Schedule{}).Where("template_id = ?", id).Count(&refs).Error; err != nil {
		return fmt.Errorf("failed to check schedule references: %v", err)
	}
	if refs > 0 {
		return fmt.Errorf("%w: %d schedule(s)", ErrReferencedBySchedule, refs)
	}

	if err := r.db.Delete(t).Error; err != nil {
		return fmt.Errorf("failed to delete template: %v", err)
	}
	r.audit.Record(models.AuditTemplateDeleted, models.EntityTemplate, t.ID, t.Name, actor)
	return nil
}
