// Package acqlog implements a per-tier buffered acquisition log.
//
// Detail lines are buffered WHILE a tier is being attempted.
// - If the tier fails, the buffer is replayed followed by the failure, so the
//   diagnosis is complete without re-running at higher verbosity.
// - If the tier succeeds, the buffer is dropped and one short line is written.
//
// Thread safety comes from a dedicated goroutine and a command channel; no
// mutexes.
package acqlog

import (
	"fmt"
	"log"
	"strings"
	"time"
)

type action int

const (
	actBegin action = iota
	actAppend
	actSuccess
	actFlushErr
	actClose
)

type cmd struct {
	act     action
	tier    string
	message string    // for Append
	result  string    // for Success
	err     error     // for FlushError
	when    time.Time // timestamp, kept for ordering when replayed
	done    chan struct{}
}

// Tracker buffers detail per acquisition tier. The zero value is not usable;
// construct with New.
type Tracker struct {
	ch   chan cmd
	logf func(string, ...any)
}

// New starts the tracker goroutine. A nil logf falls back to the standard
// logger.
func New(logf func(string, ...any)) *Tracker {
	if logf == nil {
		logf = log.Printf
	}
	t := &Tracker{ch: make(chan cmd, 128), logf: logf}
	go t.runloop()
	return t
}

// Begin starts buffering for a tier.
func (t *Tracker) Begin(tier string) { t.ch <- cmd{act: actBegin, tier: tier, when: time.Now()} }

// Appendf adds a detail line to the tier's buffer.
func (t *Tracker) Appendf(tier, format string, args ...any) {
	t.ch <- cmd{act: actAppend, tier: tier, message: fmt.Sprintf(format, args...), when: time.Now()}
}

// Success drops the buffer and writes one short line naming the tier that
// satisfied the request.
func (t *Tracker) Success(tier, result string) {
	t.ch <- cmd{act: actSuccess, tier: tier, result: result, when: time.Now()}
}

// FlushError replays the buffered detail and writes the tier's failure.
func (t *Tracker) FlushError(tier string, err error) {
	t.ch <- cmd{act: actFlushErr, tier: tier, err: err, when: time.Now()}
}

// Close drains pending commands and stops the goroutine. Blocks until done so
// callers can rely on all output having been written.
func (t *Tracker) Close() {
	done := make(chan struct{})
	t.ch <- cmd{act: actClose, done: done}
	<-done
}

func (t *Tracker) runloop() {
	buffers := make(map[string]*strings.Builder)

	for c := range t.ch {
		switch c.act {
		case actBegin:
			buffers[c.tier] = &strings.Builder{}

		case actAppend:
			if b := buffers[c.tier]; b != nil {
				b.WriteString(c.message + "\n")
			} else {
				t.logf("%s", c.message) // no buffer, write immediately
			}

		case actSuccess:
			t.logf("[%-8s] ✔ %s", c.tier, c.result)
			delete(buffers, c.tier)

		case actFlushErr:
			if b := buffers[c.tier]; b != nil {
				for _, ln := range strings.Split(strings.TrimRight(b.String(), "\n"), "\n") {
					if ln != "" {
						t.logf("[%-8s] %s", c.tier, ln)
					}
				}
				delete(buffers, c.tier)
			}
			t.logf("[%-8s] ✘ %v", c.tier, c.err)

		case actClose:
			close(c.done)
			return
		}
	}
}
