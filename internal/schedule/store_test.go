package schedule

import (
	"testing"
	"time"

	"chatbi/internal/audit"
	"chatbi/internal/config"
	"chatbi/internal/database"
	"chatbi/internal/directory"
	"chatbi/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testActor = audit.Actor{ID: "u1", Name: "John Smith"}

func testOrg() config.OrgConfig {
	return config.OrgConfig{
		MaxRecipientsPerSchedule: 50,
		CustomCronEnabled:        true,
	}
}

func newTestStore(t *testing.T, org config.OrgConfig) (*Store, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	require.NoError(t, directory.Seed(db))

	resolver := directory.NewResolver(directory.NewGormDirectory(db))
	auditLog := audit.NewLogger(db, zerolog.Nop())
	return NewStore(db, resolver, auditLog, org), db
}

func createTemplate(t *testing.T, db *gorm.DB) *models.ReportTemplate {
	t.Helper()
	tmpl := &models.ReportTemplate{
		Name:   "Weekly Sales Performance",
		Source: models.TemplateSourceDashboard,
		Charts: []models.ChartConfig{
			{ID: "c1", Title: "Revenue Trend", Type: models.ChartTypeLine, DataSourceID: "ds1"},
		},
	}
	require.NoError(t, db.Create(tmpl).Error)
	return tmpl
}

func weeklyInput(templateID uint) *CreateInput {
	return &CreateInput{
		Name:       "Weekly Sales Report",
		TemplateID: templateID,
		Frequency:  models.FrequencyWeekly,
		DayOfWeek:  "monday",
		TimeOfDay:  "09:00",
		Timezone:   "America/New_York",
		Format:     models.FormatPDF,
		Recipients: []models.Recipient{
			{ID: "g1", Type: models.RecipientTypeGroup, Name: "Executive Team", MemberCount: 3},
		},
		EmailSubject: "[Chat BI Studio] Weekly Sales Report - {{date}}",
	}
}

func TestCreateWeeklySchedule(t *testing.T) {
	store, db := newTestStore(t, testOrg())
	tmpl := createTemplate(t, db)

	before := time.Now()
	sched, err := store.Create(weeklyInput(tmpl.ID), testActor)
	require.NoError(t, err)

	assert.Equal(t, models.ScheduleStatusActive, sched.Status)
	assert.Equal(t, tmpl.Name, sched.TemplateName)
	require.NotNil(t, sched.NextRun)
	assert.True(t, sched.NextRun.After(before))

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	local := sched.NextRun.In(ny)
	assert.Equal(t, time.Monday, local.Weekday())
	assert.Equal(t, 9, local.Hour())
	assert.Equal(t, 0, local.Minute())

	var events []models.AuditEvent
	require.NoError(t, db.Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, models.AuditScheduleCreated, events[0].Action)
}

func TestCreateRejectsUnknownTemplate(t *testing.T) {
	store, _ := newTestStore(t, testOrg())

	_, err := store.Create(weeklyInput(999), testActor)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestCreateRejectsEmptyRecipients(t *testing.T) {
	store, db := newTestStore(t, testOrg())
	tmpl := createTemplate(t, db)

	in := weeklyInput(tmpl.ID)
	in.Recipients = nil
	_, err := store.Create(in, testActor)
	assert.ErrorIs(t, err, ErrNoRecipients)

	// a group that expands to nothing is also rejected
	in.Recipients = []models.Recipient{{ID: "g404", Type: models.RecipientTypeGroup, Name: "Ghosts"}}
	_, err = store.Create(in, testActor)
	assert.ErrorIs(t, err, ErrNoRecipients)
}

func TestCreateEnforcesRecipientLimit(t *testing.T) {
	org := testOrg()
	org.MaxRecipientsPerSchedule = 2
	store, db := newTestStore(t, org)
	tmpl := createTemplate(t, db)

	// g1 expands to 3 members
	_, err := store.Create(weeklyInput(tmpl.ID), testActor)
	require.Error(t, err)
	assert.ErrorIs(t, err, directory.ErrLimitExceeded)

	// nothing persisted
	var count int64
	require.NoError(t, db.Model(&models.Schedule{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateRejectsRecurrenceMismatch(t *testing.T) {
	store, db := newTestStore(t, testOrg())
	tmpl := createTemplate(t, db)

	in := weeklyInput(tmpl.ID)
	in.DayOfWeek = ""
	_, err := store.Create(in, testActor)
	assert.Error(t, err)

	in = weeklyInput(tmpl.ID)
	in.Frequency = models.FrequencyMonthly
	in.DayOfWeek = ""
	in.DayOfMonth = 31
	_, err = store.Create(in, testActor)
	assert.Error(t, err)
}

func TestCreateRejectsCustomCronWhenDisabled(t *testing.T) {
	org := testOrg()
	org.CustomCronEnabled = false
	store, db := newTestStore(t, org)
	tmpl := createTemplate(t, db)

	in := weeklyInput(tmpl.ID)
	in.Frequency = models.FrequencyCustom
	in.DayOfWeek = ""
	in.CronExpression = "0 9 * * 1-5"
	_, err := store.Create(in, testActor)
	assert.Error(t, err)
}

func TestStartDateSeedsFirstRun(t *testing.T) {
	store, db := newTestStore(t, testOrg())
	tmpl := createTemplate(t, db)

	in := weeklyInput(tmpl.ID)
	in.StartDate = time.Now().AddDate(0, 2, 0).Format("2006-01-02")
	sched, err := store.Create(in, testActor)
	require.NoError(t, err)

	require.NotNil(t, sched.NextRun)
	assert.True(t, sched.NextRun.After(time.Now().AddDate(0, 2, -7)))
}

func TestPauseAndResume(t *testing.T) {
	store, db := newTestStore(t, testOrg())
	tmpl := createTemplate(t, db)
	sched, err := store.Create(weeklyInput(tmpl.ID), testActor)
	require.NoError(t, err)

	paused, err := store.Pause(sched.ID, testActor)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStatusPaused, paused.Status)
	assert.Nil(t, paused.NextRun)

	// paused schedules never show up in the due scan
	due, err := store.ListDue(time.Now().AddDate(1, 0, 0))
	require.NoError(t, err)
	assert.Empty(t, due)

	resumed, err := store.Resume(sched.ID, testActor)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStatusActive, resumed.Status)
	require.NotNil(t, resumed.NextRun)
	assert.True(t, resumed.NextRun.After(time.Now()))

	var events []models.AuditEvent
	require.NoError(t, db.Order("id").Find(&events).Error)
	require.Len(t, events, 3)
	assert.Equal(t, models.AuditSchedulePaused, events[1].Action)
	assert.Equal(t, models.AuditScheduleResumed, events[2].Action)
}

func TestListDue(t *testing.T) {
	store, db := newTestStore(t, testOrg())
	tmpl := createTemplate(t, db)
	sched, err := store.Create(weeklyInput(tmpl.ID), testActor)
	require.NoError(t, err)

	due, err := store.ListDue(time.Now())
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = store.ListDue(sched.NextRun.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, sched.ID, due[0].ID)
}

func TestDeleteEmitsAuditAndRetainsHistory(t *testing.T) {
	store, db := newTestStore(t, testOrg())
	tmpl := createTemplate(t, db)
	sched, err := store.Create(weeklyInput(tmpl.ID), testActor)
	require.NoError(t, err)

	run := models.ExecutionRun{ScheduleID: sched.ID, ScheduleName: sched.Name, Status: models.RunStatusCompleted}
	require.NoError(t, db.Create(&run).Error)

	require.NoError(t, store.Delete(sched.ID, testActor))
	_, err = store.Get(sched.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// history survives, and the engine can still read the schedule
	var runs int64
	require.NoError(t, db.Model(&models.ExecutionRun{}).Where("schedule_id = ?", sched.ID).Count(&runs).Error)
	assert.EqualValues(t, 1, runs)
	_, err = store.GetAny(sched.ID)
	assert.NoError(t, err)

	var last models.AuditEvent
	require.NoError(t, db.Order("id desc").First(&last).Error)
	assert.Equal(t, models.AuditScheduleDeleted, last.Action)
}

func TestRecordRunOutcome(t *testing.T) {
	store, db := newTestStore(t, testOrg())
	tmpl := createTemplate(t, db)
	sched, err := store.Create(weeklyInput(tmpl.ID), testActor)
	require.NoError(t, err)
	originalNext := *sched.NextRun

	triggeredAt := time.Now()

	// send_test leaves the schedule untouched
	require.NoError(t, store.RecordRunOutcome(sched.ID, models.TriggerSendTest, triggeredAt))
	got, err := store.Get(sched.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastRun)
	assert.Equal(t, originalNext.Unix(), got.NextRun.Unix())

	// send_now sets lastRun but not nextRun
	require.NoError(t, store.RecordRunOutcome(sched.ID, models.TriggerSendNow, triggeredAt))
	got, err = store.Get(sched.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRun)
	assert.Equal(t, originalNext.Unix(), got.NextRun.Unix())

	// schedule-triggered runs advance nextRun past the trigger instant
	trigger := originalNext
	require.NoError(t, store.RecordRunOutcome(sched.ID, models.TriggerSchedule, trigger))
	got, err = store.Get(sched.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRun)
	assert.True(t, got.NextRun.After(trigger))
	assert.Equal(t, trigger.Unix(), got.LastRun.Unix())
}

func TestRecordRunOutcomeToleratesDeletedSchedule(t *testing.T) {
	store, db := newTestStore(t, testOrg())
	tmpl := createTemplate(t, db)
	sched, err := store.Create(weeklyInput(tmpl.ID), testActor)
	require.NoError(t, err)
	require.NoError(t, store.Delete(sched.ID, testActor))

	assert.NoError(t, store.RecordRunOutcome(sched.ID, models.TriggerSchedule, time.Now()))
	_ = db
}

func TestNextRunsPreview(t *testing.T) {
	store, db := newTestStore(t, testOrg())
	tmpl := createTemplate(t, db)
	sched, err := store.Create(weeklyInput(tmpl.ID), testActor)
	require.NoError(t, err)

	runs, err := store.NextRuns(sched.ID, 5)
	require.NoError(t, err)
	require.Len(t, runs, 5)

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	for i, occ := range runs {
		local := occ.In(ny)
		assert.Equal(t, time.Monday, local.Weekday())
		assert.Equal(t, 9, local.Hour())
		if i > 0 {
			assert.True(t, occ.After(runs[i-1]))
		}
	}
}
