// Package kfmt provides formatted output for kernel code. It must work
// before the Go runtime is fully initialized so it never allocates; output
// produced before a sink is registered accumulates in a ring buffer.
package kfmt

import "io"

// maxNumBufSize defines the buffer size for formatting numbers. It is large
// enough for a 64-bit value in base 8.
const maxNumBufSize = 24

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	// singleByte is used as a shared buffer for passing single characters
	// to doWrite.
	singleByte = []byte(" ")

	// earlyPrintBuffer stores Printf output generated before an output
	// sink is registered.
	earlyPrintBuffer ringBuffer

	// outputSink is the io.Writer where Printf sends its output. While
	// nil, output is redirected to the earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the target for calls to Printf to w and drains any data
// accumulated in the early print buffer into it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// Printf provides a minimal Printf implementation that is safe to use at any
// point during kernel initialization. It supports the following subset of
// formatting verbs:
//
// Strings:
//		%s the uninterpreted bytes of the string or byte slice
//
// Integers:
//		%o base 8
//		%d base 10
//		%x base 16, with lower-case letters for a-f
//
// Booleans:
//		%t "true" or "false"
//
// Width is specified by an optional decimal number immediately preceding the
// verb. If absent, the width is whatever is necessary to represent the value.
// String and base-10 values shorter than the width are left-padded with
// spaces while base-16 values are left-padded with zeroes.
func Printf(format string, args ...interface{}) {
	var (
		nextArg int
		index   int
	)

	for index < len(format) {
		if format[index] != '%' {
			doWriteByte(format[index])
			index++
			continue
		}

		// Scan optional width digits following the '%'
		index++
		width := 0
		for index < len(format) && format[index] >= '0' && format[index] <= '9' {
			width = width*10 + int(format[index]-'0')
			index++
		}

		if index == len(format) {
			doWrite(errNoVerb)
			return
		}

		verb := format[index]
		index++

		if verb == '%' {
			doWriteByte('%')
			continue
		}

		if nextArg >= len(args) {
			doWrite(errMissingArg)
			continue
		}
		arg := args[nextArg]
		nextArg++

		switch verb {
		case 's':
			fmtString(arg, width)
		case 'o':
			fmtInt(arg, 8, width)
		case 'd':
			fmtInt(arg, 10, width)
		case 'x':
			fmtInt(arg, 16, width)
		case 't':
			fmtBool(arg)
		default:
			doWrite(errNoVerb)
		}
	}

	if nextArg < len(args) {
		doWrite(errExtraArg)
	}
}

// fmtBool writes "true" or "false" depending on the value of arg.
func fmtBool(arg interface{}) {
	v, isBool := arg.(bool)
	if !isBool {
		doWrite(errWrongArgType)
		return
	}

	if v {
		doWrite(trueValue)
		return
	}
	doWrite(falseValue)
}

// fmtString pads the string or byte slice in arg to the requested width and
// writes it to the active sink.
func fmtString(arg interface{}, width int) {
	switch t := arg.(type) {
	case string:
		for pad := width - len(t); pad > 0; pad-- {
			doWriteByte(' ')
		}
		for i := 0; i < len(t); i++ {
			doWriteByte(t[i])
		}
	case []byte:
		for pad := width - len(t); pad > 0; pad-- {
			doWriteByte(' ')
		}
		doWrite(t)
	default:
		doWrite(errWrongArgType)
	}
}

// fmtInt formats an integer value of any built-in integer type in the
// requested base. Base-16 values are zero-padded; other bases use spaces.
func fmtInt(arg interface{}, base, width int) {
	var (
		v        uint64
		negative bool
	)

	switch t := arg.(type) {
	case uint8:
		v = uint64(t)
	case uint16:
		v = uint64(t)
	case uint32:
		v = uint64(t)
	case uint64:
		v = t
	case uint:
		v = uint64(t)
	case uintptr:
		v = uint64(t)
	case int8:
		v, negative = uint64(t), t < 0
	case int16:
		v, negative = uint64(t), t < 0
	case int32:
		v, negative = uint64(t), t < 0
	case int64:
		v, negative = uint64(t), t < 0
	case int:
		v, negative = uint64(t), t < 0
	default:
		doWrite(errWrongArgType)
		return
	}

	if negative {
		v = uint64(-int64(v))
	}

	var (
		buf      [maxNumBufSize]byte
		digits   = "0123456789abcdef"
		writeIdx = len(buf)
	)

	for {
		writeIdx--
		buf[writeIdx] = digits[v%uint64(base)]
		v /= uint64(base)
		if v == 0 {
			break
		}
	}

	if negative {
		writeIdx--
		buf[writeIdx] = '-'
	}

	padChar := byte(' ')
	if base == 16 {
		padChar = '0'
	}
	for pad := width - (len(buf) - writeIdx); pad > 0; pad-- {
		doWriteByte(padChar)
	}

	doWrite(buf[writeIdx:])
}

// doWrite sends b to the registered sink or, if no sink has been registered
// yet, to the early print buffer.
func doWrite(b []byte) {
	if outputSink != nil {
		outputSink.Write(b)
		return
	}
	earlyPrintBuffer.Write(b)
}

func doWriteByte(c byte) {
	singleByte[0] = c
	doWrite(singleByte)
}
