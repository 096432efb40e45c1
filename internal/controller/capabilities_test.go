package controller

import (
	"strings"
	"testing"

	"github.com/graphery/executor/internal/script"
)

// --- Imports ---

func TestImport_DeniedModules(t *testing.T) {
	for _, mod := range []string{"os", "sys", "posix", "gc", "multiprocessing"} {
		_, res := run(t, "import "+mod+"\n", defaultSettings())
		if res.Error == nil {
			t.Errorf("import %s: expected an error", mod)
			continue
		}
		if res.Error.Kind != KindCapabilityDenied {
			t.Errorf("import %s: kind = %s", mod, res.Error.Kind)
		}
		if res.Error.Message != mod+" not supported." {
			t.Errorf("import %s: message = %q", mod, res.Error.Message)
		}
	}
}

func TestImport_AllowedModules(t *testing.T) {
	for _, mod := range AllowedModules {
		_, res := run(t, "import "+mod+"\n", defaultSettings())
		if res.Error != nil {
			t.Errorf("import %s: %v", mod, res.Error)
		}
	}
}

func TestImport_DomainModule(t *testing.T) {
	code := "import networkx as nx\nwith tracer('n'):\n    g = nx.Graph()\n    g.add_edge(1, 2)\n    n = g.number_of_nodes()\n"
	_, res := run(t, code, defaultSettings())
	if res.Error != nil {
		t.Fatalf("unexpected error: %v", res.Error)
	}
	if st, _ := variable(res.Changes, "n"); st.Repr != "2" {
		t.Errorf("n = %+v", st)
	}
}

func TestImport_TrustedMode(t *testing.T) {
	s := defaultSettings()
	s.Trusted = true
	_, res := run(t, "import os\nimport sys\n", s)
	if res.Error != nil {
		t.Fatalf("trusted import failed: %v", res.Error)
	}
}

func TestImport_DenialEscapesExcept(t *testing.T) {
	code := "try:\n    import os\nexcept Exception:\n    pass\n"
	_, res := run(t, code, defaultSettings())
	if res.Error == nil || res.Error.Kind != KindCapabilityDenied {
		t.Fatalf("error = %+v", res.Error)
	}
}

func TestSanitize_StripsNestedModules(t *testing.T) {
	m := script.NewModule("outer")
	inner := script.NewModule("inner")
	inner.Set("os", script.NewModule("os"))
	inner.Set("keep", script.Int(1))
	m.Set("sys", script.NewModule("sys"))
	m.Set("inner", inner)
	m.Set("self", m)

	sanitize(m, make(map[*script.Module]struct{}))

	if _, ok := m.Attrs.Get("sys"); ok {
		t.Error("sys survived")
	}
	if _, ok := inner.Attrs.Get("os"); ok {
		t.Error("nested os survived")
	}
	if _, ok := inner.Attrs.Get("keep"); !ok {
		t.Error("harmless attribute removed")
	}
}

// --- Builtins ---

func TestBuiltins_Banned(t *testing.T) {
	for _, call := range []string{
		"reload('random')", "compile('1 + 1', 'x', 'eval')", "eval('1 + 1')", "exec('1 + 1')",
		"exit(0)", "quit()", "help(len)", "dir(object)", "globals()", "locals()", "vars()",
		"copyright()", "credits()", "license()", "__import__('os')",
	} {
		_, res := run(t, call+"\n", defaultSettings())
		if res.Error == nil {
			t.Errorf("%s: expected an error", call)
			continue
		}
		if res.Error.Kind != KindCapabilityDenied || !strings.Contains(res.Error.Message, "is not supported by Executor") {
			t.Errorf("%s: error = %+v", call, res.Error)
		}
	}
}

func TestBuiltins_OpenSuggestsStringIO(t *testing.T) {
	_, res := run(t, "open('temp.file', 'rb')\n", defaultSettings())
	if res.Error == nil || !strings.Contains(res.Error.Message, "io.StringIO") {
		t.Fatalf("error = %+v", res.Error)
	}
}

func TestBuiltins_TrustedMode(t *testing.T) {
	s := defaultSettings()
	s.Trusted = true
	_, res := run(t, "with tracer('x'):\n    x = eval('1 + 1')\n", s)
	if res.Error != nil {
		t.Fatalf("unexpected error: %v", res.Error)
	}
	if st, _ := variable(res.Changes, "x"); st.Repr != "2" {
		t.Errorf("x = %+v", st)
	}
}
