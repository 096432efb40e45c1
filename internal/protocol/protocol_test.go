package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/graphery/executor/internal/controller"
)

// --- Submissions ---

func TestParseSubmission_Valid(t *testing.T) {
	data := `{"code":"x = 1","graph":{"elements":{"nodes":[]}},"version":"3.2.4","options":{"float_precision":2,"input_list":["a"]}}`
	s, err := ParseSubmission([]byte(data))
	if err != nil {
		t.Fatalf("ParseSubmission: %v", err)
	}
	if s.Code != "x = 1" || s.Version != "3.2.4" {
		t.Errorf("submission = %+v", s)
	}
	if s.Options == nil || *s.Options.FloatPrecision != 2 || s.Options.InputList[0] != "a" {
		t.Errorf("options = %+v", s.Options)
	}
	if !strings.HasPrefix(string(s.GraphBytes()), `{"elements"`) {
		t.Errorf("graph = %s", s.GraphBytes())
	}
}

func TestParseSubmission_Missing(t *testing.T) {
	if _, err := ParseSubmission([]byte(`{"graph":{}}`)); !errors.Is(err, ErrNoCode) {
		t.Errorf("missing code: %v", err)
	}
	if _, err := ParseSubmission([]byte(`{"code":""}`)); !errors.Is(err, ErrNoGraph) {
		t.Errorf("missing graph: %v", err)
	}
}

func TestParseSubmission_Malformed(t *testing.T) {
	for name, data := range map[string]string{
		"json":         `{"code":`,
		"code type":    `{"code":1,"graph":{}}`,
		"precision":    `{"code":"","graph":{},"options":{"float_precision":40}}`,
		"unknown opt":  `{"code":"","graph":{},"options":{"is_local":true}}`,
		"inputs":       `{"code":"","graph":{},"options":{"input_list":[1]}}`,
		"not object":   `[1, 2]`,
		"version type": `{"code":"","graph":{},"version":3}`,
	} {
		if _, err := ParseSubmission([]byte(data)); !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
}

func TestGraphBytes_StringGraph(t *testing.T) {
	s := Submission{Graph: json.RawMessage(`"{\"directed\":true}"`)}
	if got := string(s.GraphBytes()); got != `{"directed":true}` {
		t.Errorf("GraphBytes = %s", got)
	}
	if (&Submission{Graph: json.RawMessage("null")}).GraphBytes() != nil {
		t.Error("null graph should be empty")
	}
}

// --- Responses ---

func TestResponse_Shapes(t *testing.T) {
	b, _ := json.Marshal(NewErrorResponse("bad"))
	if string(b) != `{"errors":[{"message":"bad"}]}` {
		t.Errorf("error response = %s", b)
	}
	b, _ = json.Marshal(NewDataResponse(map[string]string{"k": "v"}))
	if string(b) != `{"data":{"k":"v"}}` {
		t.Errorf("data response = %s", b)
	}
	e := &controller.Error{Code: controller.CodeCPU, Kind: controller.KindResourceLimit, Message: "Allocated MEM size exhausted"}
	r := NewRunErrorResponse("id", e, nil)
	if r.Data != nil || r.Errors[0].Code != controller.CodeCPU || !strings.Contains(r.Errors[0].Message, "exit code 17") {
		t.Errorf("run error response = %+v", r)
	}
}

// --- Envelopes ---

func TestEnvelope_RoundTrip(t *testing.T) {
	env, err := NewEnvelope(MsgRunAccepted, RunAcceptedPayload{RunID: "r1"})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.ID == "" || env.Timestamp.IsZero() {
		t.Errorf("envelope = %+v", env)
	}
	var p RunAcceptedPayload
	if err := env.Decode(&p); err != nil || p.RunID != "r1" {
		t.Errorf("decoded = %+v, %v", p, err)
	}
}
