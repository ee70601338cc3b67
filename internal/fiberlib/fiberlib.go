// Package fiberlib is a small example host Library for fiberscript:
// string/math/array helpers, a JSON bridge, a clock-driven async
// sleep function, and a "log" directive, enough to exercise every
// hook a real embedding host would wire into fiberscript.Builder.
package fiberlib

import (
	"fmt"
	"math"
	"time"

	"github.com/fiberscript/fiberscript"
)

// New assembles the example library's Builder. Callers still call
// Build(cfg) themselves, since the resolution cache size is a Config
// concern the host controls.
func New() *fiberscript.Builder {
	b := fiberscript.NewBuilder()
	addMath(b)
	addStrings(b)
	addArrays(b)
	addJSON(b)
	addAsync(b)
	addDirectives(b)
	return b
}

func argNum(args []fiberscript.Value, i int) (float64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing argument %d", i)
	}
	switch args[i].Kind() {
	case fiberscript.KindInteger:
		return float64(args[i].AsInt()), nil
	case fiberscript.KindFloat:
		return args[i].AsFloat(), nil
	default:
		return 0, fmt.Errorf("argument %d is not a number", i)
	}
}

func argStr(args []fiberscript.Value, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing argument %d", i)
	}
	s, ok := args[i].AsGoString()
	if !ok {
		return "", fmt.Errorf("argument %d is not a string", i)
	}
	return s, nil
}

func addMath(b *fiberscript.Builder) {
	b.AddFunction("abs", func(ctx fiberscript.ExecutionContext, args []fiberscript.Value) (fiberscript.Value, error) {
		n, err := argNum(args, 0)
		if err != nil {
			return fiberscript.Undefined, err
		}
		return fiberscript.Float(math.Abs(n)), nil
	})
	b.AddFunction("floor", func(ctx fiberscript.ExecutionContext, args []fiberscript.Value) (fiberscript.Value, error) {
		n, err := argNum(args, 0)
		if err != nil {
			return fiberscript.Undefined, err
		}
		return fiberscript.Int(int64(math.Floor(n))), nil
	})
	b.AddFunction("pow", func(ctx fiberscript.ExecutionContext, args []fiberscript.Value) (fiberscript.Value, error) {
		base, err := argNum(args, 0)
		if err != nil {
			return fiberscript.Undefined, err
		}
		exp, err := argNum(args, 1)
		if err != nil {
			return fiberscript.Undefined, err
		}
		return fiberscript.Float(math.Pow(base, exp)), nil
	})
	b.AddConstant("PI", func(ctx fiberscript.ExecutionContext) (fiberscript.Value, error) {
		return fiberscript.Float(math.Pi), nil
	})
}

func addStrings(b *fiberscript.Builder) {
	b.AddFunction("upper", func(ctx fiberscript.ExecutionContext, args []fiberscript.Value) (fiberscript.Value, error) {
		s, err := argStr(args, 0)
		if err != nil {
			return fiberscript.Undefined, err
		}
		hs, ok := ctx.Heap().NewString([]byte(upperASCII(s)))
		if !ok {
			return fiberscript.Undefined, fmt.Errorf("out of memory")
		}
		return fiberscript.HeapStringValue(hs), nil
	})
	b.AddFunction("concat", func(ctx fiberscript.ExecutionContext, args []fiberscript.Value) (fiberscript.Value, error) {
		var out []byte
		for i := range args {
			s, err := argStr(args, i)
			if err != nil {
				return fiberscript.Undefined, err
			}
			out = append(out, s...)
		}
		hs, ok := ctx.Heap().NewString(out)
		if !ok {
			return fiberscript.Undefined, fmt.Errorf("out of memory")
		}
		return fiberscript.HeapStringValue(hs), nil
	})
}

func upperASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

func addArrays(b *fiberscript.Builder) {
	b.AddFunction("sum", func(ctx fiberscript.ExecutionContext, args []fiberscript.Value) (fiberscript.Value, error) {
		var total float64
		var isFloat bool
		for _, a := range args {
			switch a.Kind() {
			case fiberscript.KindInteger:
				total += float64(a.AsInt())
			case fiberscript.KindFloat:
				isFloat = true
				total += a.AsFloat()
			default:
				return fiberscript.Undefined, fmt.Errorf("sum: non-numeric argument")
			}
		}
		if isFloat {
			return fiberscript.Float(total), nil
		}
		return fiberscript.Int(int64(total)), nil
	})
}

func addJSON(b *fiberscript.Builder) {
	b.AddFunction("json_encode", func(ctx fiberscript.ExecutionContext, args []fiberscript.Value) (fiberscript.Value, error) {
		if len(args) != 1 {
			return fiberscript.Undefined, fmt.Errorf("json_encode takes exactly one argument")
		}
		data, err := fiberscript.EncodeValue(fiberscript.EncoderConfig{ValidateUtf8: true}, args[0])
		if err != nil {
			return fiberscript.Undefined, err
		}
		hs, ok := ctx.Heap().NewString(data)
		if !ok {
			return fiberscript.Undefined, fmt.Errorf("out of memory")
		}
		return fiberscript.HeapStringValue(hs), nil
	})
	b.AddFunction("json_decode", func(ctx fiberscript.ExecutionContext, args []fiberscript.Value) (fiberscript.Value, error) {
		s, err := argStr(args, 0)
		if err != nil {
			return fiberscript.Undefined, err
		}
		return fiberscript.Decode(ctx.Heap(), []byte(s))
	})
}

// addAsync wires a "sleep" AsyncFunction driven by time.AfterFunc, to
// exercise Suspend()/resume/wait end to end through a real scheduler
// rather than resolving synchronously.
func addAsync(b *fiberscript.Builder) {
	b.AddAsyncFunction("sleep", func(ctx fiberscript.ExecutionContext, args []fiberscript.Value) (fiberscript.Value, error) {
		ms, err := argNum(args, 0)
		if err != nil {
			return fiberscript.Undefined, err
		}
		resume, wait := ctx.Suspend()
		time.AfterFunc(time.Duration(ms)*time.Millisecond, func() {
			resume(fiberscript.Undefined, nil)
		})
		return wait()
	})
	b.AddAsyncConstant("now_ms", func(ctx fiberscript.ExecutionContext) (fiberscript.Value, error) {
		resume, wait := ctx.Suspend()
		resume(fiberscript.Int(time.Now().UnixMilli()), nil)
		return wait()
	})
}

// addDirectives registers a "log" directive whose NAME.METHOD(args)
// calls bind straight to a host function, here just logrus-backed
// leveled logging.
func addDirectives(b *fiberscript.Builder) {
	b.AddDirective("log", func(args []fiberscript.Node) error {
		return nil
	})
	b.AddFunction("log.info", func(ctx fiberscript.ExecutionContext, args []fiberscript.Value) (fiberscript.Value, error) {
		fiberscript.LogInfo(args)
		return fiberscript.Undefined, nil
	})
	b.AddFunction("log.debug", func(ctx fiberscript.ExecutionContext, args []fiberscript.Value) (fiberscript.Value, error) {
		fiberscript.LogDebug(args)
		return fiberscript.Undefined, nil
	})
}
