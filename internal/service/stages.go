package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/platewise/researchd/internal/domain/event"
)

// StageItem is one queued progress stage awaiting display.
type StageItem struct {
	Text       string
	MinDwell   time.Duration
	EnqueuedAt time.Time
}

// StagesConfig controls the coordinator's timing contract.
type StagesConfig struct {
	// SettleDelay is waited once, after the very first enqueue, before the
	// drain loop starts publishing. It absorbs the startup race where the
	// consuming UI element has not yet attached its observer.
	SettleDelay time.Duration
	// MinDwell is the default minimum time a published stage stays the
	// visible head before the next one may replace it.
	MinDwell time.Duration
}

// Stages is a single-consumer FIFO that turns rapid-fire progress events
// into a minimum-duration-enforced, UI-consumable sequence. Dwell is
// measured from when an item becomes head, not from enqueue.
type Stages struct {
	cfg     StagesConfig
	publish func(text string)
	now     func() time.Time

	mu    sync.Mutex
	queue []StageItem

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	stopOnce sync.Once
}

// NewStages creates a stage coordinator publishing through the callback.
// Start must be called before Enqueue.
func NewStages(cfg StagesConfig, publish func(text string)) *Stages {
	return &Stages{
		cfg:     cfg,
		publish: publish,
		now:     time.Now,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the drain goroutine.
func (c *Stages) Start() {
	go c.drain()
}

// Enqueue appends a stage with the default minimum dwell.
func (c *Stages) Enqueue(text string) {
	c.EnqueueWithDwell(text, c.cfg.MinDwell)
}

// EnqueueWithDwell appends a stage with an explicit minimum dwell.
func (c *Stages) EnqueueWithDwell(text string, dwell time.Duration) {
	c.mu.Lock()
	c.queue = append(c.queue, StageItem{Text: text, MinDwell: dwell, EnqueuedAt: c.now()})
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Stop discards queued stages and stops the drain goroutine.
func (c *Stages) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}

func (c *Stages) drain() {
	defer close(c.done)

	// Settle once before the first publish.
	select {
	case <-c.wake:
	case <-c.stop:
		return
	}
	if !c.sleep(c.cfg.SettleDelay) {
		return
	}

	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.mu.Unlock()
			select {
			case <-c.wake:
				continue
			case <-c.stop:
				return
			}
		}
		item := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		c.publish(item.Text)
		if !c.sleep(item.MinDwell) {
			return
		}
	}
}

// sleep waits d or returns false if the coordinator was stopped.
func (c *Stages) sleep(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.stop:
		return false
	}
}

// StageText renders a progress event as UI display text. Only events for
// which event.IsProgress is true reach this function.
func StageText(e event.Event) string {
	switch ev := e.(type) {
	case event.PlanningStarted:
		return "Planning research approach"
	case event.PlanningComplete:
		if ev.Plan != "" {
			return "Plan ready: " + ev.Plan
		}
		return "Research plan ready"
	case event.RoundStarted:
		if ev.Query != "" {
			return fmt.Sprintf("Round %d: searching for %q", ev.Round, ev.Query)
		}
		return fmt.Sprintf("Round %d: searching", ev.Round)
	case event.APIStarted:
		return fmt.Sprintf("Querying %s", ev.API)
	case event.ReflectionStarted:
		return fmt.Sprintf("Reviewing round %d evidence", ev.Round)
	case event.ReflectionComplete:
		if ev.ShouldContinue {
			return "Evidence incomplete, continuing research"
		}
		return "Evidence review complete"
	case event.SourceSelectionStarted:
		return "Selecting best sources"
	case event.SynthesisPreparation:
		return "Preparing synthesis"
	case event.SynthesisStarted:
		return fmt.Sprintf("Writing answer from %d sources", ev.TotalSources)
	}
	return ""
}
