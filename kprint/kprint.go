// Package kprint centralizes the kernel's console diagnostics: every
// package that would otherwise call fmt.Printf directly routes through
// one sink instead, so tests can capture output instead of writing to
// the real console device, and a panic always drains to the same place.
package kprint

import (
	"fmt"
	"io"
	"os"
	"sync"
)

var (
	mu   sync.Mutex
	sink io.Writer = os.Stdout
)

// SetSink redirects diagnostic output, returning the previous sink so
// tests can restore it.
func SetSink(w io.Writer) io.Writer {
	mu.Lock()
	defer mu.Unlock()
	prev := sink
	sink = w
	return prev
}

// Printf writes a formatted diagnostic line to the current sink.
func Printf(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(sink, format, args...)
}

// Panic writes a formatted diagnostic and then panics: an assertion
// failure halts the hart that hit it rather than limping on.
func Panic(format string, args ...interface{}) {
	mu.Lock()
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(sink, "panic: %s\n", msg)
	mu.Unlock()
	panic(msg)
}
