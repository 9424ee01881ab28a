package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docket/internal/common"
	"github.com/ternarybob/docket/internal/models"
)

// taskEntry is a registered maintenance task
type taskEntry struct {
	name      string
	schedule  string
	handler   func() error
	cronID    cron.EntryID
	lastRun   *time.Time
	isRunning bool
	lastError string
}

// tasks runs periodic maintenance on a cron schedule
type tasks struct {
	cron    *cron.Cron
	logger  arbor.ILogger
	mu      sync.Mutex
	entries map[string]*taskEntry
	running bool
}

func newTasks(logger arbor.ILogger) *tasks {
	return &tasks{
		cron:    cron.New(),
		logger:  logger,
		entries: make(map[string]*taskEntry),
	}
}

// register adds a task. An empty schedule disables it.
func (t *tasks) register(name, schedule string, handler func() error) error {
	if schedule == "" {
		t.logger.Info().Str("task", name).Msg("Scheduled task disabled")
		return nil
	}
	if err := common.ValidateSchedule(schedule); err != nil {
		return fmt.Errorf("invalid schedule for %s: %w", name, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[name]; exists {
		return fmt.Errorf("task %s already registered", name)
	}

	entry := &taskEntry{name: name, schedule: schedule, handler: handler}
	cronID, err := t.cron.AddFunc(schedule, func() {
		t.execute(name)
	})
	if err != nil {
		return fmt.Errorf("failed to add task to cron: %w", err)
	}
	entry.cronID = cronID
	t.entries[name] = entry

	t.logger.Info().
		Str("task", name).
		Str("schedule", schedule).
		Msg("Scheduled task registered")
	return nil
}

func (t *tasks) start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	t.cron.Start()
	t.running = true
}

func (t *tasks) stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	t.mu.Unlock()

	<-t.cron.Stop().Done()
}

// execute runs one task; overlapping runs of the same task are skipped
func (t *tasks) execute(name string) {
	t.mu.Lock()
	entry, exists := t.entries[name]
	if !exists || entry.isRunning {
		t.mu.Unlock()
		return
	}
	entry.isRunning = true
	now := time.Now()
	entry.lastRun = &now
	t.mu.Unlock()

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			t.logger.Error().
				Str("task", name).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Recovered from panic in scheduled task")
		}

		t.mu.Lock()
		entry.isRunning = false
		entry.lastError = ""
		if err != nil {
			entry.lastError = err.Error()
		}
		t.mu.Unlock()

		if err != nil {
			t.logger.Warn().Err(err).Str("task", name).Dur("duration", time.Since(now)).Msg("Scheduled task failed")
		} else {
			t.logger.Debug().Str("task", name).Dur("duration", time.Since(now)).Msg("Scheduled task completed")
		}
	}()

	err = entry.handler()
}

// status lists registered tasks by name
func (t *tasks) status() []models.ScheduledTask {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]models.ScheduledTask, 0, len(t.entries))
	for _, entry := range t.entries {
		task := models.ScheduledTask{
			Name:      entry.name,
			Schedule:  entry.schedule,
			Running:   entry.isRunning,
			LastRun:   entry.lastRun,
			LastError: entry.lastError,
		}
		if t.running {
			if next := t.cron.Entry(entry.cronID).Next; !next.IsZero() {
				task.NextRun = &next
			}
		}
		out = append(out, task)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
