// Package recorder keeps the per-statement change log of one execution and
// folds it into full snapshots.
package recorder

import (
	"fmt"
	"log/slog"
	"maps"
	"math/rand/v2"

	"github.com/graphery/executor/internal/classifier"
	"github.com/graphery/executor/internal/script"
)

// Separator joins the namespace and name of an identifier key.
const Separator = "\u200b@"

// Identifier names one observable binding.
type Identifier struct {
	Namespace string
	Name      string
}

// Key renders the identifier as the string used in records.
func (id Identifier) Key() string { return id.Namespace + Separator + id.Name }

func (id Identifier) String() string { return id.Key() }

// Reserved identifiers. They are registered first and therefore always get
// the first two palette colors.
var (
	Inner    = Identifier{Namespace: "", Name: "\u200binner"}
	Accessed = Identifier{Namespace: "global", Name: "accessed var"}
)

// Palette is the fixed sequence of colors handed out before colors are
// generated.
var Palette = []string{
	"#828282", "#B15928", "#A6CEE3", "#1F78B4", "#B2DF8A", "#33A02C", "#FB9A99",
	"#E31A1C", "#FDBF6F", "#FF7F00", "#CAB2D6", "#6A3D9A", "#FFFF99",
}

// Target selects the record a variable change is written to.
type Target int

const (
	// Current is the most recently opened record.
	Current Target = iota
	// Previous is the record before it, or the current one when only one
	// record exists.
	Previous
)

// Record is one change record. Variables holds only the bindings that
// changed at this step until Finalize folds it into a full mapping. Nil
// fields encode as null.
type Record struct {
	Line      int                         `json:"line"`
	Variables map[string]classifier.State `json:"variables"`
	Accesses  []classifier.State          `json:"accesses"`
	Stdout    *string                     `json:"stdout"`

	Return           *classifier.State `json:"return,omitempty"`
	Exception        string            `json:"exception,omitempty"`
	EndedByException bool              `json:"ended_by_exception,omitempty"`
}

// Recorder accumulates change records for a single execution. It is not
// safe for concurrent use.
type Recorder struct {
	cls    *classifier.Classifier
	logger *slog.Logger

	colors map[string]string
	order  []string
	used   map[string]struct{}
	rng    *rand.Rand

	records []*Record
	final   []Record
}

// New returns an empty recorder classifying values with cls.
func New(cls *classifier.Classifier, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{cls: cls, logger: logger}
	r.Purge()
	return r
}

// Purge clears identifiers, colors and records so the recorder can serve
// another execution.
func (r *Recorder) Purge() {
	r.colors = make(map[string]string)
	r.order = nil
	r.used = make(map[string]struct{})
	r.rng = rand.New(rand.NewPCG(0, 0))
	r.records = nil
	r.final = nil
	r.Register(Inner)
	r.Register(Accessed)
}

// Register assigns a color to id on first sight and returns it.
func (r *Recorder) Register(id Identifier) string {
	key := id.Key()
	if c, ok := r.colors[key]; ok {
		return c
	}
	var color string
	if n := len(r.colors); n < len(Palette) {
		color = Palette[n]
	} else {
		color = r.generateColor()
	}
	r.colors[key] = color
	r.used[color] = struct{}{}
	r.order = append(r.order, key)
	r.final = nil
	r.logger.Debug("Assigned identifier color",
		slog.String("identifier", key),
		slog.String("color", color),
	)
	return color
}

func (r *Recorder) generateColor() string {
	for {
		c := fmt.Sprintf("#%06X", r.rng.IntN(0x1000000))
		if _, taken := r.used[c]; !taken {
			return c
		}
	}
}

// Color returns the color of a registered identifier.
func (r *Recorder) Color(id Identifier) (string, bool) {
	c, ok := r.colors[id.Key()]
	return c, ok
}

// BeginRecord opens a new record for line.
func (r *Recorder) BeginRecord(line int) {
	r.records = append(r.records, &Record{Line: line})
	r.final = nil
}

// Len returns the number of raw records.
func (r *Recorder) Len() int { return len(r.records) }

// LastLine returns the line of the current record.
func (r *Recorder) LastLine() (int, bool) {
	if len(r.records) == 0 {
		return 0, false
	}
	return r.records[len(r.records)-1].Line, true
}

func (r *Recorder) record(t Target) *Record {
	n := len(r.records)
	switch {
	case n == 0:
		return nil
	case t == Previous && n > 1:
		return r.records[n-2]
	default:
		return r.records[n-1]
	}
}

// NoteVariable classifies v and stores it under id in the target record.
// Calls made before any record is open are dropped.
func (r *Recorder) NoteVariable(id Identifier, v script.Value, t Target) {
	rec := r.record(t)
	if rec == nil {
		r.logger.Debug("Dropped variable change without a record", slog.String("identifier", id.Key()))
		return
	}
	color := r.Register(id)
	if rec.Variables == nil {
		rec.Variables = make(map[string]classifier.State)
	}
	rec.Variables[id.Key()] = r.cls.Classify(v, color, r.innerColor(), nil)
	r.final = nil
}

// NoteAccess appends a read observation to the current record.
func (r *Recorder) NoteAccess(v script.Value) {
	rec := r.record(Current)
	if rec == nil {
		return
	}
	color, _ := r.Color(Accessed)
	rec.Accesses = append(rec.Accesses, r.cls.Classify(v, color, r.innerColor(), nil))
	r.final = nil
}

// NoteStdoutDelta attaches output produced since the last capture to the
// previous record. Empty deltas are ignored.
func (r *Recorder) NoteStdoutDelta(text string) {
	rec := r.record(Previous)
	if rec == nil || text == "" {
		return
	}
	if rec.Stdout == nil {
		rec.Stdout = &text
	} else {
		joined := *rec.Stdout + text
		rec.Stdout = &joined
	}
	r.final = nil
}

// NoteTrailingStdout attaches output to the current record. It is used
// for output left over once execution finished.
func (r *Recorder) NoteTrailingStdout(text string) {
	rec := r.record(Current)
	if rec == nil || text == "" {
		return
	}
	if rec.Stdout != nil {
		text = *rec.Stdout + text
	}
	rec.Stdout = &text
	r.final = nil
}

// NoteReturn records the value a traced call returned on the current record.
func (r *Recorder) NoteReturn(v script.Value) {
	rec := r.record(Current)
	if rec == nil {
		return
	}
	color, _ := r.Color(Accessed)
	st := r.cls.Classify(v, color, r.innerColor(), nil)
	rec.Return = &st
	r.final = nil
}

// NoteEndedByException marks the current record as the exit point of a
// call that raised.
func (r *Recorder) NoteEndedByException() {
	if rec := r.record(Current); rec != nil {
		rec.EndedByException = true
		r.final = nil
	}
}

// NoteException stores an exception summary on the current record.
func (r *Recorder) NoteException(summary string) {
	if rec := r.record(Current); rec != nil {
		rec.Exception = summary
		r.final = nil
	}
}

func (r *Recorder) innerColor() string {
	c, _ := r.Color(Inner)
	return c
}

// Records returns the raw change records. The slice must not be modified.
func (r *Recorder) Records() []*Record { return r.records }

// Initial returns the variables of the synthetic line 0 snapshot: every
// registered identifier except the reserved ones, typed init.
func (r *Recorder) Initial() map[string]classifier.State {
	initVars := make(map[string]classifier.State, len(r.order))
	for _, key := range r.order {
		if key == Inner.Key() || key == Accessed.Key() {
			continue
		}
		initVars[key] = classifier.State{Type: classifier.TypeInit, Color: r.colors[key]}
	}
	return initVars
}

// Changes returns a copy of the raw change records. Variables hold only
// the bindings that changed at each step.
func (r *Recorder) Changes() []Record {
	out := make([]Record, len(r.records))
	for i, rec := range r.records {
		out[i] = *rec
	}
	return out
}

// Finalize folds the change records into full snapshots, prefixed with a
// synthetic line 0 snapshot listing every registered identifier. The
// result is cached until the recorder changes again.
func (r *Recorder) Finalize() []Record {
	if r.final != nil {
		return r.final
	}
	r.final = Fold(r.Initial(), r.Changes())
	return r.final
}

// Fold turns raw change records into full snapshots, starting from the
// initial variables. changes is not modified.
func Fold(initial map[string]classifier.State, changes []Record) []Record {
	if initial == nil {
		initial = map[string]classifier.State{}
	}
	out := make([]Record, 0, len(changes)+1)
	out = append(out, Record{Line: 0, Variables: initial})

	previous := initial
	for _, rec := range changes {
		if rec.Variables != nil {
			full := maps.Clone(previous)
			maps.Copy(full, rec.Variables)
			rec.Variables = full
			previous = full
		}
		out = append(out, rec)
	}
	return out
}
