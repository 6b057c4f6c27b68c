// File: internal/logging/logging.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Structured logger construction shared by the loop, the thread pool and the
// IPC layer. All components accept a *Logger; nil disables logging.

package logging

import (
	"io"
	"os"
	"time"

	catrate "github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the generified logiface logger passed between packages.
type Logger = logiface.Logger[logiface.Event]

// New returns a JSON logger writing to w at the given level. A nil w writes to
// stderr.
func New(w io.Writer, level logiface.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	).Logger()
}

// Limiter suppresses bursts of identical warnings. Each category may log at
// most burst times per second and sustained times per minute.
type Limiter struct {
	limiter *catrate.Limiter
}

// NewLimiter returns a limiter with the given per-category rates. sustained
// is adjusted into (burst, 60*burst) as catrate requires.
func NewLimiter(burst, sustained int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	if sustained <= burst {
		sustained = burst + 1
	}
	if sustained >= 60*burst {
		sustained = 60*burst - 1
	}
	return &Limiter{limiter: catrate.NewLimiter(map[time.Duration]int{
		time.Second: burst,
		time.Minute: sustained,
	})}
}

// DefaultLimiter allows 5 messages per second and 60 per minute per category.
func DefaultLimiter() *Limiter { return NewLimiter(5, 60) }

// Allow reports whether a message in category may be logged now.
func (l *Limiter) Allow(category any) bool {
	if l == nil {
		return true
	}
	_, ok := l.limiter.Allow(category)
	return ok
}

// Warning returns a warning builder for category when the limiter allows it,
// and nil otherwise. Builders are nil-safe, so callers chain unconditionally.
func (l *Limiter) Warning(log *Logger, category any) *logiface.Builder[logiface.Event] {
	if !l.Allow(category) {
		return nil
	}
	return log.Warning().Str("category", categoryString(category))
}

func categoryString(category any) string {
	if s, ok := category.(string); ok {
		return s
	}
	if s, ok := category.(interface{ String() string }); ok {
		return s.String()
	}
	return "misc"
}
