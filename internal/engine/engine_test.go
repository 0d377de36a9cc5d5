package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"chatbi/internal/audit"
	"chatbi/internal/config"
	"chatbi/internal/database"
	"chatbi/internal/directory"
	"chatbi/internal/models"
	"chatbi/internal/render"
	"chatbi/internal/schedule"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var systemUser = audit.Actor{ID: "u1", Name: "John Smith"}

// fakeRenderer returns a canned artifact, or fails when err is set.
type fakeRenderer struct {
	warnings []models.RenderWarning
	err      error
	calls    int
}

func (f *fakeRenderer) Render(ctx context.Context, tmpl *models.ReportTemplate, format models.ExportFormat) (*render.Artifact, []models.RenderWarning, error) {
	f.calls++
	if f.err != nil {
		return nil, f.warnings, f.err
	}
	return &render.Artifact{
		ID:          "a1",
		FileName:    "a1.pdf.html",
		URL:         "http://artifacts.local/a1.pdf.html",
		Type:        models.ArtifactAttachment,
		ContentType: "text/html",
		Data:        []byte("<html></html>"),
	}, f.warnings, nil
}

// fakeDeliverer fails every attempt for the recipient IDs in failFor.
type fakeDeliverer struct {
	mu       sync.Mutex
	failFor  map[string]bool
	attempts map[string]int
}

func newFakeDeliverer(failFor ...string) *fakeDeliverer {
	f := &fakeDeliverer{failFor: make(map[string]bool), attempts: make(map[string]int)}
	for _, id := range failFor {
		f.failFor[id] = true
	}
	return f
}

func (f *fakeDeliverer) Deliver(ctx context.Context, artifact *render.Artifact, rcpt models.Recipient, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[rcpt.ID]++
	if f.failFor[rcpt.ID] {
		return fmt.Errorf("smtp: mailbox unavailable for %s", rcpt.Email)
	}
	return nil
}

type testHarness struct {
	engine    *Engine
	store     *schedule.Store
	db        *gorm.DB
	renderer  *fakeRenderer
	deliverer *fakeDeliverer
}

func newHarness(t *testing.T, renderer *fakeRenderer, deliverer *fakeDeliverer) *testHarness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	require.NoError(t, directory.Seed(db))

	resolver := directory.NewResolver(directory.NewGormDirectory(db))
	auditLog := audit.NewLogger(db, zerolog.Nop())
	org := config.OrgConfig{MaxRecipientsPerSchedule: 50, CustomCronEnabled: true}
	store := schedule.NewStore(db, resolver, auditLog, org)

	cfg := Config{Workers: 1, PollInterval: time.Hour, DeliveryMaxAttempts: 5}
	eng := New(db, store, resolver, renderer, deliverer, nil, auditLog, cfg, zerolog.Nop())
	return &testHarness{engine: eng, store: store, db: db, renderer: renderer, deliverer: deliverer}
}

func (h *testHarness) createSchedule(t *testing.T, recipients ...models.Recipient) *models.Schedule {
	t.Helper()
	tmpl := &models.ReportTemplate{
		Name:   "Weekly Sales Performance",
		Source: models.TemplateSourceDashboard,
		Charts: []models.ChartConfig{
			{ID: "c1", Title: "Revenue Trend", Type: models.ChartTypeLine, DataSourceID: "ds1"},
		},
	}
	require.NoError(t, h.db.Create(tmpl).Error)

	if len(recipients) == 0 {
		recipients = []models.Recipient{
			{ID: "u1", Type: models.RecipientTypeUser, Name: "John Smith", Email: "john@company.com"},
		}
	}
	sched, err := h.store.Create(&schedule.CreateInput{
		Name:         "Weekly Sales Report",
		TemplateID:   tmpl.ID,
		Frequency:    models.FrequencyWeekly,
		DayOfWeek:    "monday",
		TimeOfDay:    "09:00",
		Timezone:     "America/New_York",
		Format:       models.FormatPDF,
		Recipients:   recipients,
		EmailSubject: "Weekly Sales Report - {{date}}",
	}, systemUser)
	require.NoError(t, err)
	return sched
}

func (h *testHarness) reloadRun(t *testing.T, id uint) *models.ExecutionRun {
	t.Helper()
	var run models.ExecutionRun
	require.NoError(t, h.db.First(&run, id).Error)
	return &run
}

func TestExecuteCompletesRun(t *testing.T) {
	h := newHarness(t, &fakeRenderer{}, newFakeDeliverer())
	sched := h.createSchedule(t)

	run, err := h.engine.createRun(sched, models.TriggerSendNow)
	require.NoError(t, err)
	h.engine.execute(run.ID, systemUser)

	got := h.reloadRun(t, run.ID)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
	assert.Equal(t, 1, got.RecipientCount)
	assert.Equal(t, 1, got.SuccessfulDeliveries)
	assert.Zero(t, got.FailedDeliveries)
	assert.NotEmpty(t, got.ArtifactURL)
	require.NotNil(t, got.RenderStartedAt)
	require.NotNil(t, got.RenderCompletedAt)
	require.NotNil(t, got.DeliveryStartedAt)
	require.NotNil(t, got.CompletedAt)

	var logs []models.DeliveryLog
	require.NoError(t, h.db.Where("run_id = ?", run.ID).Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, models.DeliveryStatusSent, logs[0].Status)
	assert.Equal(t, 1, logs[0].Attempts)
	require.NotNil(t, logs[0].SentAt)
}

func TestPartialDeliveryFailureCompletesDegraded(t *testing.T) {
	h := newHarness(t, &fakeRenderer{}, newFakeDeliverer("u5"))
	// g1 expands to u1, u2, u5; u4 listed directly
	sched := h.createSchedule(t,
		models.Recipient{ID: "g1", Type: models.RecipientTypeGroup, Name: "Executive Team"},
		models.Recipient{ID: "u4", Type: models.RecipientTypeUser, Name: "Dana", Email: "dana@company.com"},
	)

	run, err := h.engine.createRun(sched, models.TriggerSchedule)
	require.NoError(t, err)
	h.engine.execute(run.ID, systemUser)

	got := h.reloadRun(t, run.ID)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
	assert.Equal(t, 4, got.RecipientCount)
	assert.Equal(t, 3, got.SuccessfulDeliveries)
	assert.Equal(t, 1, got.FailedDeliveries)

	var failed models.DeliveryLog
	require.NoError(t, h.db.Where("run_id = ? AND status = ?", run.ID, models.DeliveryStatusFailed).First(&failed).Error)
	assert.Equal(t, "u5", failed.RecipientID)
	assert.Equal(t, 5, failed.Attempts)
	assert.NotEmpty(t, failed.ErrorMessage)
	assert.Equal(t, 5, h.deliverer.attempts["u5"])
	assert.Equal(t, 1, h.deliverer.attempts["u1"])
}

func TestAllDeliveriesFailedFailsRun(t *testing.T) {
	h := newHarness(t, &fakeRenderer{}, newFakeDeliverer("u1"))
	sched := h.createSchedule(t)

	run, err := h.engine.createRun(sched, models.TriggerSchedule)
	require.NoError(t, err)
	h.engine.execute(run.ID, systemUser)

	got := h.reloadRun(t, run.ID)
	assert.Equal(t, models.RunStatusFailed, got.Status)
	assert.Zero(t, got.SuccessfulDeliveries)
	assert.Equal(t, 1, got.FailedDeliveries)
}

func TestRenderFailureIsTerminal(t *testing.T) {
	renderer := &fakeRenderer{err: fmt.Errorf("no renderable charts")}
	deliverer := newFakeDeliverer()
	h := newHarness(t, renderer, deliverer)
	sched := h.createSchedule(t)

	run, err := h.engine.createRun(sched, models.TriggerSchedule)
	require.NoError(t, err)
	h.engine.execute(run.ID, systemUser)

	got := h.reloadRun(t, run.ID)
	assert.Equal(t, models.RunStatusFailed, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.Empty(t, deliverer.attempts)

	// a terminal run is never re-executed
	h.engine.execute(run.ID, systemUser)
	assert.Equal(t, 1, renderer.calls)
}

func TestRenderWarningsAreRecorded(t *testing.T) {
	renderer := &fakeRenderer{warnings: []models.RenderWarning{
		{ChartID: "c2", ChartTitle: "Orphan Chart", Type: models.WarningMissing, Message: "data source ds9 is unavailable"},
	}}
	h := newHarness(t, renderer, newFakeDeliverer())
	sched := h.createSchedule(t)

	run, err := h.engine.createRun(sched, models.TriggerSendNow)
	require.NoError(t, err)
	h.engine.execute(run.ID, systemUser)

	got := h.reloadRun(t, run.ID)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
	require.Len(t, got.Warnings, 1)
	assert.Equal(t, models.WarningMissing, got.Warnings[0].Type)
	assert.Equal(t, "c2", got.Warnings[0].ChartID)
}

func TestSendTestDoesNotTouchSchedule(t *testing.T) {
	h := newHarness(t, &fakeRenderer{}, newFakeDeliverer())
	sched := h.createSchedule(t)
	originalNext := *sched.NextRun

	run, err := h.engine.createRun(sched, models.TriggerSendTest)
	require.NoError(t, err)
	h.engine.execute(run.ID, systemUser)

	got, err := h.store.Get(sched.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastRun)
	assert.Equal(t, originalNext.Unix(), got.NextRun.Unix())
}

func TestSendNowUpdatesLastRunOnly(t *testing.T) {
	h := newHarness(t, &fakeRenderer{}, newFakeDeliverer())
	sched := h.createSchedule(t)
	originalNext := *sched.NextRun

	run, err := h.engine.createRun(sched, models.TriggerSendNow)
	require.NoError(t, err)
	h.engine.execute(run.ID, systemUser)

	got, err := h.store.Get(sched.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRun)
	assert.Equal(t, originalNext.Unix(), got.NextRun.Unix())
}

func TestScheduledRunAdvancesNextRun(t *testing.T) {
	h := newHarness(t, &fakeRenderer{}, newFakeDeliverer())
	sched := h.createSchedule(t)
	originalNext := *sched.NextRun

	run, err := h.engine.createRun(sched, models.TriggerSchedule)
	require.NoError(t, err)
	run.TriggeredAt = originalNext
	require.NoError(t, h.db.Save(run).Error)
	h.engine.execute(run.ID, systemUser)

	got, err := h.store.Get(sched.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRun)
	assert.True(t, got.NextRun.After(originalNext))
	require.NotNil(t, got.LastRun)
	assert.Equal(t, originalNext.Unix(), got.LastRun.Unix())
}

func TestTickSkipsScheduleWithRunInFlight(t *testing.T) {
	h := newHarness(t, &fakeRenderer{}, newFakeDeliverer())
	sched := h.createSchedule(t)

	// simulate an in-flight run holding the schedule lock
	h.engine.scheduleLock(sched.ID).Lock()
	defer h.engine.scheduleLock(sched.ID).Unlock()

	h.engine.tick(sched.NextRun.Add(time.Minute))

	var count int64
	require.NoError(t, h.db.Model(&models.ExecutionRun{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Empty(t, h.engine.queue)
}

func TestTickQueuesDueSchedule(t *testing.T) {
	h := newHarness(t, &fakeRenderer{}, newFakeDeliverer())
	sched := h.createSchedule(t)

	h.engine.tick(sched.NextRun.Add(time.Minute))

	require.Len(t, h.engine.queue, 1)
	j := <-h.engine.queue
	assert.True(t, j.locked)
	assert.Equal(t, sched.ID, j.scheduleID)

	got := h.reloadRun(t, j.runID)
	assert.Equal(t, models.RunStatusPending, got.Status)
	assert.Equal(t, models.TriggerSchedule, got.TriggeredBy)

	h.engine.scheduleLock(sched.ID).Unlock()
}

func TestTriggerManualRejectsUnknownSchedule(t *testing.T) {
	h := newHarness(t, &fakeRenderer{}, newFakeDeliverer())

	_, err := h.engine.TriggerSendNow(999, systemUser)
	assert.ErrorIs(t, err, ErrScheduleNotFound)
}

func TestDeletedScheduleRunStillFinishes(t *testing.T) {
	h := newHarness(t, &fakeRenderer{}, newFakeDeliverer())
	sched := h.createSchedule(t)

	run, err := h.engine.createRun(sched, models.TriggerSendNow)
	require.NoError(t, err)
	require.NoError(t, h.store.Delete(sched.ID, systemUser))

	h.engine.execute(run.ID, systemUser)

	got := h.reloadRun(t, run.ID)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
	assert.Equal(t, 1, got.SuccessfulDeliveries)
}
