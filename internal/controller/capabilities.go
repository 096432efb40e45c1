package controller

import (
	"fmt"
	"slices"

	"github.com/graphery/executor/internal/graph"
	"github.com/graphery/executor/internal/script"
)

// AllowedModules are the standard modules untrusted programs may import.
var AllowedModules = []string{
	"math", "random", "time", "functools", "itertools", "operator", "string",
	"collections", "re", "json", "heapq", "bisect", "copy", "hashlib",
}

// BannedBuiltins are replaced by stubs that fail loudly in untrusted mode.
var BannedBuiltins = []string{
	"reload", "open", "compile", "file", "eval", "exec", "execfile", "exit",
	"quit", "help", "dir", "globals", "locals", "vars", "copyright",
	"credits", "license", "breakpoint", "__import__",
}

// strippedAttributes are removed from every module handed to an untrusted
// program.
var strippedAttributes = []string{"os", "sys", "posix", "gc", "_sys", "_os"}

// domainModules are injected regardless of the mode.
var domainModules = []string{"networkx", "nx"}

const openMessage = "open() is not supported by Executor. \n" +
	"Instead use io.StringIO() to simulate a file. \n" +
	"If you're using a local instance, please try to turn on is_local_flag \n"

func bannedMessage(name string) string {
	return fmt.Sprintf("'%s' is not supported by Executor. \n"+
		"If you're using a local instance, please try to turn on is_local_flag", name)
}

// buildBuiltins returns the builtin table of one run. inputs backs input().
func buildBuiltins(trusted bool, inputs []string) *script.Namespace {
	ns := script.NewBuiltins()
	ns.Set("input", script.NewInput(inputs))
	if trusted {
		return ns
	}
	for _, name := range BannedBuiltins {
		msg := bannedMessage(name)
		if name == "open" {
			msg = openMessage
		}
		ns.Set(name, denied("builtin", name, msg))
	}
	return ns
}

func denied(kind, name, msg string) *script.Builtin {
	return script.NewBuiltin(name, func(*script.Interp, []script.Value, []script.Kwarg) (script.Value, error) {
		return nil, &script.CapabilityError{Kind: kind, Name: name, Msg: msg}
	})
}

// importer resolves imports for one run. While restricted only the allow
// list and the domain module resolve, and every module is sanitized.
type importer struct {
	restricted bool
}

func (im *importer) Import(in *script.Interp, name string) (*script.Module, error) {
	if slices.Contains(domainModules, name) {
		return graph.Module(in), nil
	}
	if im.restricted && !slices.Contains(AllowedModules, name) {
		return nil, &script.CapabilityError{Kind: "import", Name: name, Msg: name + " not supported."}
	}
	m, err := script.ImportStdlib(in, name)
	if err != nil {
		return nil, err
	}
	if im.restricted {
		sanitize(m, make(map[*script.Module]struct{}))
	}
	return m, nil
}

// sanitize strips dangerous attributes from m and the modules it exposes.
func sanitize(m *script.Module, seen map[*script.Module]struct{}) {
	if _, ok := seen[m]; ok {
		return
	}
	seen[m] = struct{}{}
	for _, name := range strippedAttributes {
		m.Attrs.Delete(name)
	}
	for _, b := range m.Attrs.Bindings() {
		if sub, ok := b.Value.(*script.Module); ok {
			sanitize(sub, seen)
		}
	}
}
