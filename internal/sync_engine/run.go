package sync_engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"whatsapp-sync/internal/event_publisher"
	"whatsapp-sync/internal/models"
)

// Run triggers.
const (
	TriggerCron   = "cron"
	TriggerManual = "manual"
)

// SyncAll runs contacts, groups, group members and messages for every
// active configuration and records the outcome as a sync run. Step
// failures are collected; only a failure to list configurations aborts.
// A panic in a step closes the run with an error status.
func (e *Engine) SyncAll(ctx context.Context, trigger string) (run *models.SyncRun, err error) {
	run = &models.SyncRun{
		Trigger:   trigger,
		Status:    models.SyncStatusRunning,
		StartedAt: e.now(),
	}
	if err := e.store.SyncRuns.Create(run); err != nil {
		return nil, fmt.Errorf("failed to record sync run: %w", err)
	}
	e.logger.Info("Full sync started", zap.Int64("run_id", run.ID), zap.String("trigger", trigger))

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Full sync panicked", zap.Int64("run_id", run.ID), zap.Any("panic", r))
			e.finish(ctx, run, models.SyncStatusError, fmt.Sprint(r))
			err = fmt.Errorf("sync run %d panicked: %v", run.ID, r)
		}
	}()

	configs, err := e.store.Configurations.ListActive()
	if err != nil {
		e.finish(ctx, run, models.SyncStatusError, "failed to list configurations: "+err.Error())
		return run, fmt.Errorf("failed to list configurations: %w", err)
	}
	if len(configs) == 0 {
		e.finish(ctx, run, models.SyncStatusError, "No active WhatsApp configuration")
		return run, nil
	}

	var summaries []string
	failed := false
	for _, cfg := range configs {
		summary, ok := e.syncConfiguration(ctx, cfg)
		summaries = append(summaries, summary)
		if !ok {
			failed = true
		}
	}

	status := models.SyncStatusSuccess
	if failed {
		status = models.SyncStatusError
	}
	e.finish(ctx, run, status, strings.Join(summaries, "\n"))
	return run, nil
}

func (e *Engine) syncConfiguration(ctx context.Context, cfg *models.Configuration) (string, bool) {
	p, err := e.providers.ProviderForConfiguration(ctx, cfg)
	if err != nil {
		e.logger.Error("Skipping configuration", zap.Int64("configuration_id", cfg.ID), zap.Error(err))
		return fmt.Sprintf("%s: provider unavailable: %v", cfg.Name, err), false
	}

	steps := []struct {
		name string
		run  func() Result
	}{
		{"contacts", func() Result { return e.syncContacts(ctx, p, cfg) }},
		{"groups", func() Result { return e.syncGroups(ctx, p, cfg) }},
		{"group members", func() Result { return e.syncGroupMembers(ctx, p, cfg) }},
		{"messages", func() Result { return e.syncMessages(ctx, p, cfg, MessageSyncOptions{}) }},
	}

	ok := true
	parts := make([]string, 0, len(steps))
	for _, step := range steps {
		res := step.run()
		if !res.Success {
			ok = false
			parts = append(parts, fmt.Sprintf("%s failed: %s", step.name, res.Message))
			continue
		}
		part := fmt.Sprintf("%s %d", step.name, res.Synced)
		if res.ErrorCount > 0 {
			part += fmt.Sprintf(" (%d errors)", res.ErrorCount)
		}
		parts = append(parts, part)
	}
	return cfg.Name + ": " + strings.Join(parts, ", "), ok
}

func (e *Engine) finish(ctx context.Context, run *models.SyncRun, status, message string) {
	finished := e.now()
	run.Status = status
	run.Message = message
	run.FinishedAt = &finished
	if err := e.store.SyncRuns.Finish(run); err != nil {
		e.logger.Error("Failed to finish sync run", zap.Int64("run_id", run.ID), zap.Error(err))
	}
	e.logger.Info("Full sync finished",
		zap.Int64("run_id", run.ID),
		zap.String("status", status),
		zap.Duration("duration", finished.Sub(run.StartedAt)),
	)

	event_publisher.Emit(ctx, e.publisher, e.logger, event_publisher.EventSyncCompleted, run)
	if e.notifier != nil {
		e.notifier.NotifySyncRun(run)
	}
}
