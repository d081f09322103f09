package kfmt

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"basalt/kernel"
)

func TestPanic(t *testing.T) {
	defer func(origHaltFn func()) {
		cpuHaltFn = origHaltFn
		outputSink = nil
	}(cpuHaltFn)

	var buf bytes.Buffer

	haltCalls := 0
	cpuHaltFn = func() { haltCalls++ }

	t.Run("with *kernel.Error", func(t *testing.T) {
		buf.Reset()
		outputSink = &buf
		haltCalls = 0

		err := &kernel.Error{Module: "test", Message: "something broke"}
		Panic(err)

		if haltCalls != 1 {
			t.Fatalf("expected cpu.Halt to be called once; got %d", haltCalls)
		}

		if got := buf.String(); !strings.Contains(got, "[test] unrecoverable error: something broke") {
			t.Fatalf("unexpected panic output: %q", got)
		}
	})

	t.Run("with error", func(t *testing.T) {
		buf.Reset()
		outputSink = &buf
		haltCalls = 0

		Panic(errors.New("went sideways"))

		if haltCalls != 1 {
			t.Fatalf("expected cpu.Halt to be called once; got %d", haltCalls)
		}

		if got := buf.String(); !strings.Contains(got, "[rt] unrecoverable error: went sideways") {
			t.Fatalf("unexpected panic output: %q", got)
		}
	})

	t.Run("with string", func(t *testing.T) {
		buf.Reset()
		outputSink = &buf
		haltCalls = 0

		Panic("bad state")

		if haltCalls != 1 {
			t.Fatalf("expected cpu.Halt to be called once; got %d", haltCalls)
		}

		if got := buf.String(); !strings.Contains(got, "[rt] unrecoverable error: bad state") {
			t.Fatalf("unexpected panic output: %q", got)
		}
	})
}
