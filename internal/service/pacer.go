// Package service implements the streaming pipeline workers: the per-request
// stream actor, the connection driver, the stage coordinator and the token
// pacer, plus the research service that wires them together per request.
package service

import (
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"
)

// Pacer granularity choices.
const (
	GranularityChars = "chars"
	GranularityWords = "words"
)

// PacerConfig controls display-unit granularity and the delay classes.
type PacerConfig struct {
	Granularity  string
	ShortDelay   time.Duration // after whitespace units
	LongDelay    time.Duration // after sentence-terminal punctuation
	DefaultDelay time.Duration
}

// Pacer is a single-consumer FIFO that re-times token delivery for smooth
// display, independent of network arrival rate. Enqueue may be called from
// any goroutine; delivery happens only on the drain goroutine, preserving
// FIFO order.
type Pacer struct {
	cfg     PacerConfig
	deliver func(unit string)

	mu    sync.Mutex
	queue []string

	wake    chan struct{}
	flushC  chan struct{}
	flushed chan struct{}
	stop    chan struct{}
	done    chan struct{}

	stopOnce sync.Once
}

// NewPacer creates a pacer delivering units through the given callback.
// Start must be called before Enqueue.
func NewPacer(cfg PacerConfig, deliver func(unit string)) *Pacer {
	return &Pacer{
		cfg:     cfg,
		deliver: deliver,
		wake:    make(chan struct{}, 1),
		flushC:  make(chan struct{}, 1),
		flushed: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the drain goroutine.
func (p *Pacer) Start() {
	go p.drain()
}

// Enqueue splits text into display units and appends them to the queue.
func (p *Pacer) Enqueue(text string) {
	units := SplitUnits(text, p.cfg.Granularity)
	if len(units) == 0 {
		return
	}
	p.mu.Lock()
	p.queue = append(p.queue, units...)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Flush delivers all remaining queued units immediately, with no pacing
// delay, and returns once the queue is empty. Used on session completion
// so the UI reaches the final state without waiting out the schedule.
func (p *Pacer) Flush() {
	select {
	case p.flushC <- struct{}{}:
	default:
	}
	select {
	case <-p.flushed:
	case <-p.done:
	}
}

// Stop discards any queued units and stops the drain goroutine.
func (p *Pacer) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

func (p *Pacer) drain() {
	defer close(p.done)
	flushing := false
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.mu.Unlock()
			if flushing {
				flushing = false
				select {
				case p.flushed <- struct{}{}:
				default:
				}
			}
			select {
			case <-p.wake:
				continue
			case <-p.flushC:
				flushing = true
				continue
			case <-p.stop:
				return
			}
		}
		unit := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.deliver(unit)

		if flushing {
			continue
		}
		timer := time.NewTimer(p.delayFor(unit))
		select {
		case <-timer.C:
		case <-p.flushC:
			timer.Stop()
			flushing = true
		case <-p.stop:
			timer.Stop()
			return
		}
	}
}

// delayFor classifies the unit just delivered: short for whitespace, long
// for sentence-terminal punctuation, default otherwise.
func (p *Pacer) delayFor(unit string) time.Duration {
	if strings.TrimSpace(unit) == "" {
		return p.cfg.ShortDelay
	}
	r, _ := utf8.DecodeLastRuneInString(strings.TrimRightFunc(unit, unicode.IsSpace))
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return p.cfg.LongDelay
	}
	return p.cfg.DefaultDelay
}

// SplitUnits cuts token text into display units. Character granularity
// yields one unit per rune; word granularity alternates maximal runs of
// non-space and space so whitespace keeps its own short delay class.
func SplitUnits(text, granularity string) []string {
	if text == "" {
		return nil
	}
	if granularity == GranularityChars {
		units := make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			units = append(units, string(r))
		}
		return units
	}

	var units []string
	start := 0
	var inSpace bool
	for i, r := range text {
		s := unicode.IsSpace(r)
		if i == 0 {
			inSpace = s
			continue
		}
		if s != inSpace {
			units = append(units, text[start:i])
			start = i
			inSpace = s
		}
	}
	units = append(units, text[start:])
	return units
}
