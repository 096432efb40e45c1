package script

import (
	"fmt"
	"strings"
)

// ObjectClass is the root of every class hierarchy.
var ObjectClass = func() *Class {
	c := &Class{Name: "object", Dict: NewNamespace(), builtin: true}
	c.mro = []*Class{c}
	c.newFn = func(in *Interp, cls *Class, args []Value, kw []Kwarg) (Value, error) {
		return NewInstance(cls), nil
	}
	return c
}()

func excClass(name string, base *Class) *Class {
	var bases []*Class
	if base != nil {
		bases = []*Class{base}
	}
	c, _ := NewClass(name, bases, nil)
	c.builtin = true
	return c
}

// Builtin exception classes.
var (
	BaseExceptionClass  = excClass("BaseException", nil)
	SystemExit          = excClass("SystemExit", BaseExceptionClass)
	KeyboardInterrupt   = excClass("KeyboardInterrupt", BaseExceptionClass)
	GeneratorExit       = excClass("GeneratorExit", BaseExceptionClass)
	ExceptionClass      = excClass("Exception", BaseExceptionClass)
	ArithmeticError     = excClass("ArithmeticError", ExceptionClass)
	ZeroDivisionError   = excClass("ZeroDivisionError", ArithmeticError)
	OverflowError       = excClass("OverflowError", ArithmeticError)
	LookupError         = excClass("LookupError", ExceptionClass)
	IndexError          = excClass("IndexError", LookupError)
	KeyError            = excClass("KeyError", LookupError)
	AssertionError      = excClass("AssertionError", ExceptionClass)
	AttributeError      = excClass("AttributeError", ExceptionClass)
	EOFError            = excClass("EOFError", ExceptionClass)
	ImportError         = excClass("ImportError", ExceptionClass)
	ModuleNotFoundError = excClass("ModuleNotFoundError", ImportError)
	MemoryError         = excClass("MemoryError", ExceptionClass)
	NameError           = excClass("NameError", ExceptionClass)
	UnboundLocalError   = excClass("UnboundLocalError", NameError)
	OSError             = excClass("OSError", ExceptionClass)
	FileNotFoundError   = excClass("FileNotFoundError", OSError)
	RuntimeError        = excClass("RuntimeError", ExceptionClass)
	NotImplementedError = excClass("NotImplementedError", RuntimeError)
	RecursionError      = excClass("RecursionError", RuntimeError)
	StopIteration       = excClass("StopIteration", ExceptionClass)
	SyntaxErrorClass    = excClass("SyntaxError", ExceptionClass)
	TypeError           = excClass("TypeError", ExceptionClass)
	ValueError          = excClass("ValueError", ExceptionClass)
)

var exceptionClasses = []*Class{
	BaseExceptionClass, SystemExit, KeyboardInterrupt, GeneratorExit, ExceptionClass,
	ArithmeticError, ZeroDivisionError, OverflowError, LookupError, IndexError, KeyError,
	AssertionError, AttributeError, EOFError, ImportError, ModuleNotFoundError, MemoryError,
	NameError, UnboundLocalError, OSError, FileNotFoundError, RuntimeError,
	NotImplementedError, RecursionError, StopIteration, SyntaxErrorClass, TypeError, ValueError,
}

// TraceEntry is one frame of a rendered traceback.
type TraceEntry struct {
	Filename string
	Line     int
	Name     string
	Text     string
}

// Exception is a raised exception travelling through the interpreter as a
// Go error.
type Exception struct {
	Value     *Instance
	Traceback []TraceEntry
	Cause     *Exception
	Context   *Exception
	lastFrame *Frame
}

// NewException instantiates cls with a single message argument.
func NewException(cls *Class, msg string) *Exception {
	inst := NewInstance(cls)
	inst.Attrs.Set("args", NewTuple(Str(msg)))
	return &Exception{Value: inst}
}

// Errorf instantiates cls with a formatted message.
func Errorf(cls *Class, format string, args ...any) *Exception {
	return NewException(cls, fmt.Sprintf(format, args...))
}

func newError(cls *Class, format string, args ...any) *Exception {
	return NewException(cls, fmt.Sprintf(format, args...))
}

func exceptionFromInstance(inst *Instance) *Exception {
	if _, ok := inst.Attrs.Get("args"); !ok {
		inst.Attrs.Set("args", NewTuple())
	}
	return &Exception{Value: inst}
}

// ExceptionOf wraps an exception instance raised by a program.
func ExceptionOf(v Value) (*Exception, bool) {
	if x, ok := v.(*Instance); ok && x.Class.IsSubclass(BaseExceptionClass) {
		return exceptionFromInstance(x), true
	}
	return nil, false
}

// Class returns the exception class.
func (e *Exception) Class() *Class { return e.Value.Class }

// Is reports whether the exception is an instance of cls.
func (e *Exception) Is(cls *Class) bool { return e.Value.Class.IsSubclass(cls) }

// Args returns the exception arguments.
func (e *Exception) Args() []Value {
	if v, ok := e.Value.Attrs.Get("args"); ok {
		if t, ok := v.(*Tuple); ok {
			return t.Items
		}
	}
	return nil
}

// Message renders the exception the way str() would.
func (e *Exception) Message() string {
	args := e.Args()
	switch len(args) {
	case 0:
		return ""
	case 1:
		if e.Is(KeyError) {
			return plainRepr(args[0])
		}
		if s, ok := args[0].(Str); ok {
			return string(s)
		}
		return plainRepr(args[0])
	}
	return plainRepr(NewTuple(args...))
}

// Summary renders "Class: message".
func (e *Exception) Summary() string {
	msg := e.Message()
	if msg == "" {
		return e.Value.Class.Name
	}
	return e.Value.Class.Name + ": " + msg
}

func (e *Exception) Error() string { return e.Summary() }

// FormatTraceback renders the traceback, outermost call first.
func (e *Exception) FormatTraceback() string {
	var b strings.Builder
	if e.Cause != nil {
		b.WriteString(e.Cause.FormatTraceback())
		b.WriteString("\nThe above exception was the direct cause of the following exception:\n\n")
	}
	b.WriteString("Traceback (most recent call last):\n")
	for i := len(e.Traceback) - 1; i >= 0; i-- {
		t := e.Traceback[i]
		fmt.Fprintf(&b, "  File \"%s\", line %d, in %s\n", t.Filename, t.Line, t.Name)
		if t.Text != "" {
			fmt.Fprintf(&b, "    %s\n", t.Text)
		}
	}
	b.WriteString(e.Summary())
	b.WriteString("\n")
	return b.String()
}

// CapabilityError reports use of a denied builtin or module. It cannot be
// caught by the running program.
type CapabilityError struct {
	Kind string
	Name string
	Msg  string
}

func (e *CapabilityError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("%s '%s' is not allowed", e.Kind, e.Name)
}

// SyntaxError reports source that does not parse.
type SyntaxError struct {
	Filename string
	Line     int
	Column   int
	Msg      string
	Text     string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("File \"%s\", line %d: %s", e.Filename, e.Line, e.Msg)
}
