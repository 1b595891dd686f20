// Package vhdlog provides context-aware structured logging for the storage
// repository engine, modeled on ceph-csi's internal/util/log package.
package vhdlog

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"
)

// Verbosity levels, mirrored from the teacher's logging conventions.
const (
	Default klog.Level = iota + 1
	Useful
	Extended
	Debug
	Trace
)

type contextKey string

// SRKey carries the storage-repository identifier for log-line attribution.
var SRKey = contextKey("sr")

// OpKey carries the name of the in-flight volume-engine or GC operation.
var OpKey = contextKey("op")

// prefix renders "sr=<id> op=<name> " from context, omitting absent parts.
func prefix(ctx context.Context) string {
	var p string
	if sr := ctx.Value(SRKey); sr != nil {
		p += fmt.Sprintf("sr=%v ", sr)
	}
	if op := ctx.Value(OpKey); op != nil {
		p += fmt.Sprintf("op=%v ", op)
	}

	return p
}

// WithSR returns a child context carrying the SR identifier for logging.
func WithSR(ctx context.Context, sr string) context.Context {
	return context.WithValue(ctx, SRKey, sr)
}

// WithOp returns a child context carrying the operation name for logging.
func WithOp(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, OpKey, op)
}

// Debugf logs at Debug verbosity.
func Debugf(ctx context.Context, format string, args ...interface{}) {
	klog.V(Debug).Infof(prefix(ctx)+format, args...)
}

// Infof logs at Default verbosity.
func Infof(ctx context.Context, format string, args ...interface{}) {
	klog.V(Default).Infof(prefix(ctx)+format, args...)
}

// Usefulf logs at Useful verbosity, for events worth surfacing by default
// but not as loud as an error (lock contention skips, GC sweep summaries).
func Usefulf(ctx context.Context, format string, args ...interface{}) {
	klog.V(Useful).Infof(prefix(ctx)+format, args...)
}

// Errorf logs an error unconditionally, regardless of verbosity.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	klog.Errorf(prefix(ctx)+format, args...)
}

// Warningf logs a warning unconditionally.
func Warningf(ctx context.Context, format string, args ...interface{}) {
	klog.Warningf(prefix(ctx)+format, args...)
}

// FatalMsg logs a fatal error and exits the process.
func FatalMsg(format string, args ...interface{}) {
	klog.FatalDepth(1, fmt.Sprintf(format, args...))
}
