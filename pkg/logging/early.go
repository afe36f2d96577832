package logging

import (
	"fmt"
	"io"
	"os"
)

// EarlyLog prints to stderr before the structured logger exists.
type EarlyLog struct {
	out  io.Writer
	exit func(int)
}

func NewEarlyLog() *EarlyLog {
	return &EarlyLog{out: os.Stderr, exit: os.Exit}
}

func (l *EarlyLog) Fatal(msg string, args ...interface{}) {
	l.printf("FATAL", msg, args...)
	l.exit(1)
}

func (l *EarlyLog) Error(msg string, args ...interface{}) {
	l.printf("ERROR", msg, args...)
}

func (l *EarlyLog) Warn(msg string, args ...interface{}) {
	l.printf("WARN", msg, args...)
}

func (l *EarlyLog) Info(msg string, args ...interface{}) {
	l.printf("INFO", msg, args...)
}

func (l *EarlyLog) printf(level, msg string, args ...interface{}) {
	fmt.Fprintf(l.out, level+": "+msg+"\n", args...)
}
