// Package groutine runs named goroutines. Names are attached as pprof labels so
// notifier, backoff and pump goroutines can be told apart in profiles and dumps.
package groutine

import (
	"context"
	"fmt"
	"runtime/debug"
	"runtime/pprof"
	"sync"

	"github.com/sirupsen/logrus"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts fn on a goroutine labelled with name.
// If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	labels := pprof.Labels("goroutine_name", name)
	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		fn(context.WithValue(ctx, goroutineNameKey, name))
	})
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(goroutineNameKey).(string); ok {
		return s
	}
	return ""
}

// Group tracks named goroutines owned by one session so Close can wait for them.
// A panic in a member is logged with its stack and does not take the process down.
type Group struct {
	logger *logrus.Logger
	wg     sync.WaitGroup
}

// NewGroup creates a Group that reports recovered panics to logger
func NewGroup(logger *logrus.Logger) *Group {
	return &Group{logger: logger}
}

// Go starts fn as a tracked, named goroutine
func (g *Group) Go(ctx context.Context, name string, fn func(ctx context.Context)) {
	g.wg.Add(1)
	Go(ctx, name, func(ctx context.Context) {
		defer g.wg.Done()
		defer func() {
			if r := recover(); r != nil && g.logger != nil {
				g.logger.WithFields(logrus.Fields{
					"goroutine": name,
					"panic":     fmt.Sprint(r),
					"stack":     string(debug.Stack()),
				}).Error("Goroutine panicked")
			}
		}()
		fn(ctx)
	})
}

// Wait blocks until every goroutine started through the group has returned
func (g *Group) Wait() {
	g.wg.Wait()
}
