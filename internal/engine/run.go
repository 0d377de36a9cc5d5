package engine

import (
	"fmt"
	"time"

	"chatbi/internal/audit"
	"chatbi/internal/delivery"
	"chatbi/internal/models"
	"chatbi/internal/render"
)

// execute drives a single run through render and delivery. A run that is
// deleted or whose parent schedule is deleted mid-flight is allowed to
// finish so the delivery record stays consistent.
func (e *Engine) execute(runID uint, actor audit.Actor) {
	var run models.ExecutionRun
	if err := e.db.First(&run, runID).Error; err != nil {
		e.log.Error().Err(err).Uint("run_id", runID).Msg("failed to load run")
		return
	}
	if run.Status.IsTerminal() {
		return
	}

	// schedules are read unscoped so a mid-flight deletion does not tear
	// the run down
	sched, err := e.store.GetAny(run.ScheduleID)
	if err != nil {
		e.failRun(&run, fmt.Sprintf("failed to load schedule: %v", err))
		return
	}

	now := time.Now()
	run.Status = models.RunStatusRendering
	run.RenderStartedAt = &now
	if err := e.db.Save(&run).Error; err != nil {
		e.log.Error().Err(err).Uint("run_id", run.ID).Msg("failed to persist render start")
		return
	}
	e.log.Info().Uint("run_id", run.ID).Uint("schedule_id", sched.ID).Str("trigger", string(run.TriggeredBy)).Msg("run rendering")

	var tmpl models.ReportTemplate
	if err := e.db.Unscoped().First(&tmpl, run.TemplateID).Error; err != nil {
		e.failRun(&run, fmt.Sprintf("failed to load template: %v", err))
		return
	}

	artifact, warnings, err := e.renderer.Render(e.runCtx, &tmpl, sched.Format)
	run.Warnings = warnings
	if err != nil {
		// render failure is terminal for the run; there is no automatic
		// re-render retry
		e.failRun(&run, fmt.Sprintf("render failed: %v", err))
		return
	}

	renderDone := time.Now()
	run.RenderCompletedAt = &renderDone
	run.ArtifactURL = artifact.URL
	run.ArtifactType = artifact.Type

	expanded, err := e.resolver.Expand(sched.Recipients)
	if err != nil {
		e.failRun(&run, fmt.Sprintf("failed to expand recipients: %v", err))
		return
	}

	deliveryStart := time.Now()
	run.Status = models.RunStatusDelivering
	run.DeliveryStartedAt = &deliveryStart
	run.RecipientCount = len(expanded)
	if err := e.db.Save(&run).Error; err != nil {
		e.log.Error().Err(err).Uint("run_id", run.ID).Msg("failed to persist delivery start")
		return
	}

	subject, body := e.buildMessage(sched)
	successful, failed := 0, 0
	for _, rcpt := range expanded {
		if e.deliverWithRetry(&run, artifact, rcpt, subject, body) {
			successful++
		} else {
			failed++
		}
	}
	run.SuccessfulDeliveries = successful
	run.FailedDeliveries = failed

	// a run with partial failures is still completed (degraded); only a
	// total delivery failure fails the run
	completedAt := time.Now()
	run.CompletedAt = &completedAt
	if successful > 0 {
		run.Status = models.RunStatusCompleted
	} else {
		run.Status = models.RunStatusFailed
	}
	if err := e.db.Save(&run).Error; err != nil {
		e.log.Error().Err(err).Uint("run_id", run.ID).Msg("failed to persist run completion")
		return
	}

	e.log.Info().
		Uint("run_id", run.ID).
		Str("status", string(run.Status)).
		Int("successful", successful).
		Int("failed", failed).
		Msg("run finished")

	if run.Status == models.RunStatusFailed {
		if err := e.notifier.NotifyRunFailed(&run, "all deliveries failed"); err != nil {
			e.log.Warn().Err(err).Uint("run_id", run.ID).Msg("failed to send failure notification")
		}
	} else {
		action := models.AuditReportSent
		if run.TriggeredBy == models.TriggerSendTest {
			action = models.AuditTestSent
		}
		e.audit.Record(action, models.EntitySchedule, run.ScheduleID, run.ScheduleName, actor)
	}

	if err := e.store.RecordRunOutcome(run.ScheduleID, run.TriggeredBy, run.TriggeredAt); err != nil {
		e.log.Error().Err(err).Uint("schedule_id", run.ScheduleID).Msg("failed to record run outcome")
	}
}

// deliverWithRetry attempts one recipient's delivery up to the configured
// ceiling, maintaining that recipient's DeliveryLog row. Returns true when
// the delivery eventually succeeded.
func (e *Engine) deliverWithRetry(run *models.ExecutionRun, artifact *render.Artifact, rcpt models.Recipient, subject, body string) bool {
	logRow := models.DeliveryLog{
		RunID:          run.ID,
		RecipientID:    rcpt.ID,
		RecipientName:  rcpt.Name,
		RecipientEmail: rcpt.Email,
		Status:         models.DeliveryStatusPending,
	}
	if err := e.db.Create(&logRow).Error; err != nil {
		e.log.Error().Err(err).Uint("run_id", run.ID).Str("recipient", rcpt.ID).Msg("failed to create delivery log")
		return false
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.DeliveryMaxAttempts; attempt++ {
		now := time.Now()
		logRow.Attempts = attempt
		logRow.LastAttemptAt = &now

		lastErr = e.deliverer.Deliver(e.runCtx, artifact, rcpt, subject, body)
		if lastErr == nil {
			sentAt := time.Now()
			logRow.Status = models.DeliveryStatusSent
			logRow.SentAt = &sentAt
			if err := e.db.Save(&logRow).Error; err != nil {
				e.log.Error().Err(err).Uint("run_id", run.ID).Msg("failed to persist delivery log")
			}
			return true
		}
		e.log.Debug().Err(lastErr).
			Uint("run_id", run.ID).
			Str("recipient", rcpt.Email).
			Int("attempt", attempt).
			Msg("delivery attempt failed")
	}

	logRow.Status = models.DeliveryStatusFailed
	logRow.ErrorMessage = lastErr.Error()
	if err := e.db.Save(&logRow).Error; err != nil {
		e.log.Error().Err(err).Uint("run_id", run.ID).Msg("failed to persist delivery log")
	}
	return false
}

// failRun moves a run to the failed absorbing state.
func (e *Engine) failRun(run *models.ExecutionRun, reason string) {
	now := time.Now()
	run.Status = models.RunStatusFailed
	run.CompletedAt = &now
	if run.RenderStartedAt != nil && run.RenderCompletedAt == nil {
		run.RenderCompletedAt = &now
	}
	if err := e.db.Save(run).Error; err != nil {
		e.log.Error().Err(err).Uint("run_id", run.ID).Msg("failed to persist run failure")
	}
	e.log.Warn().Uint("run_id", run.ID).Str("reason", reason).Msg("run failed")

	if err := e.notifier.NotifyRunFailed(run, reason); err != nil {
		e.log.Warn().Err(err).Uint("run_id", run.ID).Msg("failed to send failure notification")
	}
	if err := e.store.RecordRunOutcome(run.ScheduleID, run.TriggeredBy, run.TriggeredAt); err != nil {
		e.log.Error().Err(err).Uint("schedule_id", run.ScheduleID).Msg("failed to record run outcome")
	}
}

func (e *Engine) buildMessage(sched *models.Schedule) (subject, body string) {
	loc, err := time.LoadLocation(sched.Timezone)
	if err != nil {
		loc = time.UTC
	}
	subject = delivery.ExpandSubject(sched.EmailSubject, time.Now().In(loc))
	body = sched.EmailBody
	if body == "" {
		body = fmt.Sprintf("Your scheduled report %q is attached.", sched.TemplateName)
	}
	return subject, body
}
