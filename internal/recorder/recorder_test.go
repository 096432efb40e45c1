package recorder

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/graphery/executor/internal/classifier"
	"github.com/graphery/executor/internal/script"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	in := script.New(script.Options{})
	t.Cleanup(in.Close)
	cls := classifier.New(in, classifier.Options{FloatPrecision: 4, MaxReprLength: 100})
	return New(cls, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// --- Colors ---

func TestRegister_ReservedColors(t *testing.T) {
	r := newTestRecorder(t)
	if c, _ := r.Color(Inner); c != "#828282" {
		t.Errorf("inner color = %s", c)
	}
	if c, _ := r.Color(Accessed); c != "#B15928" {
		t.Errorf("accessed color = %s", c)
	}
	i := Identifier{Name: "i"}
	first := r.Register(i)
	if first != Palette[2] {
		t.Errorf("first user color = %s, want %s", first, Palette[2])
	}
	if again := r.Register(i); again != first {
		t.Errorf("Register is not idempotent: %s then %s", first, again)
	}
}

func TestRegister_UniqueBeyondPalette(t *testing.T) {
	r := newTestRecorder(t)
	seen := make(map[string]string)
	for n := range 200 {
		id := Identifier{Namespace: "f", Name: fmt.Sprintf("v%d", n)}
		c := r.Register(id)
		if prev, dup := seen[c]; dup {
			t.Fatalf("color %s assigned to both %s and %s", c, prev, id.Key())
		}
		seen[c] = id.Key()
	}
}

func TestRegister_OverflowIsDeterministic(t *testing.T) {
	colors := func() []string {
		r := newTestRecorder(t)
		var out []string
		for n := range len(Palette) + 5 {
			out = append(out, r.Register(Identifier{Name: fmt.Sprint(n)}))
		}
		return out
	}
	a, b := colors(), colors()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("color %d differs between runs: %s vs %s", i, a[i], b[i])
		}
	}
}

// --- Records ---

func TestNoteVariable_SingleAssignment(t *testing.T) {
	r := newTestRecorder(t)
	i := Identifier{Namespace: "", Name: "i"}
	r.BeginRecord(1)
	r.NoteVariable(i, script.Int(10), Current)

	recs := r.Records()
	if len(recs) != 1 {
		t.Fatalf("records = %d", len(recs))
	}
	st, ok := recs[0].Variables[i.Key()]
	if !ok || st.Type != classifier.TypeNumber || st.Repr != "10" {
		t.Errorf("i = %+v", st)
	}
}

func TestNoteVariable_PreviousTarget(t *testing.T) {
	r := newTestRecorder(t)
	x := Identifier{Name: "x"}

	r.BeginRecord(1)
	r.NoteVariable(x, script.Int(1), Previous)
	if r.Records()[0].Variables == nil {
		t.Fatal("with one record, previous falls back to the current record")
	}

	r.BeginRecord(2)
	r.NoteVariable(x, script.Int(2), Previous)
	if got := r.Records()[0].Variables[x.Key()].Repr; got != "2" {
		t.Errorf("previous record x = %v, want 2", got)
	}
	if r.Records()[1].Variables != nil {
		t.Error("current record must stay untouched")
	}
}

func TestNoteVariable_WithoutRecordIsDropped(t *testing.T) {
	r := newTestRecorder(t)
	r.NoteVariable(Identifier{Name: "x"}, script.Int(1), Current)
	r.NoteAccess(script.Int(1))
	r.NoteStdoutDelta("lost")
	if got := r.Finalize(); len(got) != 1 {
		t.Errorf("Finalize = %d records, want the init record only", len(got))
	}
}

func TestNoteStdoutDelta_AttachesToPrevious(t *testing.T) {
	r := newTestRecorder(t)
	want := []string{"a\n", "b\n", "c\n"}
	// output of line n is only seen once line n+1 begins
	r.BeginRecord(1)
	for i, out := range want {
		r.BeginRecord(i + 2)
		r.NoteStdoutDelta(out)
	}

	final := r.Finalize()
	for i, w := range want {
		rec := final[i+1]
		if rec.Stdout == nil || *rec.Stdout != w {
			t.Errorf("record %d stdout = %v, want %q", i+1, rec.Stdout, w)
		}
		if rec.Variables != nil {
			t.Errorf("record %d has variables %v", i+1, rec.Variables)
		}
	}
	if final[4].Stdout != nil {
		t.Error("last record has no output of its own yet")
	}
}

func TestNoteAccessAndReturn(t *testing.T) {
	r := newTestRecorder(t)
	r.BeginRecord(3)
	r.NoteAccess(script.Str("seen"))
	r.NoteReturn(script.Int(5))
	r.NoteException("ValueError: boom")
	r.NoteEndedByException()

	rec := r.Records()[0]
	if len(rec.Accesses) != 1 || rec.Accesses[0].Color != "#B15928" {
		t.Errorf("accesses = %+v", rec.Accesses)
	}
	if rec.Return == nil || rec.Return.Repr != "5" {
		t.Errorf("return = %+v", rec.Return)
	}
	if rec.Exception != "ValueError: boom" || !rec.EndedByException {
		t.Errorf("exception fields = %q, %v", rec.Exception, rec.EndedByException)
	}
}

// --- Finalize ---

func TestFinalize_FoldsForward(t *testing.T) {
	r := newTestRecorder(t)
	a, b := Identifier{Name: "a"}, Identifier{Name: "b"}
	r.BeginRecord(1)
	r.NoteVariable(a, script.Int(1), Current)
	r.BeginRecord(2)
	r.BeginRecord(3)
	r.NoteVariable(b, script.Int(2), Current)
	r.NoteVariable(a, script.Int(3), Current)

	final := r.Finalize()
	if len(final) != r.Len()+1 {
		t.Fatalf("len(final) = %d, want %d", len(final), r.Len()+1)
	}

	init := final[0]
	if init.Line != 0 || len(init.Variables) != 2 {
		t.Fatalf("init record = %+v", init)
	}
	for key, st := range init.Variables {
		if st.Type != classifier.TypeInit || st.Repr != nil {
			t.Errorf("init %s = %+v", key, st)
		}
	}
	if _, ok := init.Variables[Inner.Key()]; ok {
		t.Error("reserved identifiers must not appear in the init record")
	}

	if got := final[1].Variables[a.Key()].Repr; got != "1" {
		t.Errorf("record 1 a = %v", got)
	}
	if final[1].Variables[b.Key()].Type != classifier.TypeInit {
		t.Error("record 1 must carry b as init")
	}
	if final[2].Variables != nil {
		t.Error("a record without changes stays null")
	}
	if got := final[3].Variables[a.Key()].Repr; got != "3" {
		t.Errorf("record 3 a = %v", got)
	}
	if got := final[1].Variables[a.Key()].Repr; got != "1" {
		t.Errorf("folding mutated an earlier snapshot: a = %v", got)
	}
}

func TestFold_RawChangesMatchFinalize(t *testing.T) {
	r := newTestRecorder(t)
	a, b := Identifier{Name: "a"}, Identifier{Name: "b"}
	r.BeginRecord(1)
	r.NoteVariable(a, script.Int(1), Current)
	r.BeginRecord(2)
	r.NoteVariable(b, script.Int(2), Current)

	raw := r.Changes()
	if len(raw) != 2 || len(raw[1].Variables) != 1 {
		t.Fatalf("raw changes = %+v", raw)
	}
	want, _ := json.Marshal(r.Finalize())
	got, _ := json.Marshal(Fold(r.Initial(), raw))
	if string(got) != string(want) {
		t.Errorf("Fold = %s\nFinalize = %s", got, want)
	}
	if len(raw[1].Variables) != 1 {
		t.Error("Fold modified its input")
	}
}

func TestFinalize_Cached(t *testing.T) {
	r := newTestRecorder(t)
	r.BeginRecord(1)
	r.NoteVariable(Identifier{Name: "x"}, script.Int(1), Current)
	first := r.Finalize()
	second := r.Finalize()
	if &first[0] != &second[0] {
		t.Error("second Finalize must return the cached result")
	}
	r.BeginRecord(2)
	if third := r.Finalize(); len(third) != 3 {
		t.Errorf("Finalize after a new record = %d entries", len(third))
	}
}

func TestFinalize_WireShape(t *testing.T) {
	r := newTestRecorder(t)
	r.BeginRecord(1)
	b, err := json.Marshal(r.Finalize())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded []map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	rec := decoded[1]
	for _, key := range []string{"line", "variables", "accesses", "stdout"} {
		v, ok := rec[key]
		if !ok {
			t.Errorf("missing %q in %s", key, b)
		}
		if key != "line" && v != nil {
			t.Errorf("%q = %v, want null", key, v)
		}
	}
	if _, ok := rec["return"]; ok {
		t.Error("return must be omitted when unset")
	}
}

func TestPurge(t *testing.T) {
	r := newTestRecorder(t)
	r.BeginRecord(1)
	r.NoteVariable(Identifier{Name: "x"}, script.Int(1), Current)
	r.Purge()
	if r.Len() != 0 {
		t.Errorf("records after Purge = %d", r.Len())
	}
	if _, ok := r.Color(Identifier{Name: "x"}); ok {
		t.Error("colors must be cleared")
	}
	if c := r.Register(Identifier{Name: "y"}); c != Palette[2] {
		t.Errorf("palette must restart, got %s", c)
	}
}
