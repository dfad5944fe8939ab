package autotrail

import (
	"encoding/json"
	"testing"
)

func TestSelectStepsEmptySelectsAll(t *testing.T) {
	tr := linearTrail(t)
	got := selectSteps(tr, selectorArgs{})
	if len(got) != 3 {
		t.Fatalf("selectSteps(empty) = %d steps, want 3", len(got))
	}
}

func TestSelectStepsByIDsAndTags(t *testing.T) {
	tr := NewTrail("t")
	tr.AddStep(NewStep("a", noopAction, WithTags(map[string]string{"env": "prod"})))
	tr.AddStep(NewStep("b", noopAction, WithTags(map[string]string{"env": "staging"})))
	tr.AddStep(NewStep("c", noopAction))

	got := selectSteps(tr, selectorArgs{IDs: []string{"c"}, Tags: map[string]string{"env": "prod"}})
	ids := map[string]bool{}
	for _, s := range got {
		ids[s.id] = true
	}
	if len(ids) != 2 || !ids["a"] || !ids["c"] {
		t.Fatalf("selectSteps(ids+tags) = %v, want {a, c}", ids)
	}
}

func TestDispatchAPICallPauseSetsFlag(t *testing.T) {
	tr := NewTrail("t")
	tr.AddStep(NewStep("a", noopAction))
	a, _ := tr.Step("a")
	a.state = StateRun

	payload, _ := json.Marshal(selectorArgs{IDs: []string{"a"}})
	resp, _ := dispatchAPICall(tr, Request{Name: "pause", RequestID: "r1", Payload: payload})
	if !resp.OK {
		t.Fatalf("pause response not ok: %+v", resp.Error)
	}
	if !a.flags.PauseRequested {
		t.Fatal("pause_requested not set after pause call")
	}
}

func TestDispatchAPICallPauseIgnoresTerminalStep(t *testing.T) {
	tr := NewTrail("t")
	tr.AddStep(NewStep("a", noopAction))
	a, _ := tr.Step("a")
	a.state = StateSuccess

	payload, _ := json.Marshal(selectorArgs{IDs: []string{"a"}})
	resp, _ := dispatchAPICall(tr, Request{Name: "pause", RequestID: "r1", Payload: payload})
	if !resp.OK {
		t.Fatalf("pause response not ok: %+v", resp.Error)
	}
	if a.flags.PauseRequested {
		t.Fatal("pause_requested set on a terminal step, want ignored")
	}
	var result struct {
		Affected      []string `json:"affected"`
		Ignored       []string `json:"ignored"`
		IgnoredReason string   `json:"ignored_reason"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("decode pause result: %v", err)
	}
	if len(result.Affected) != 0 || len(result.Ignored) != 1 || result.Ignored[0] != "a" {
		t.Fatalf("pause result = %+v, want a reported as ignored", result)
	}
	if result.IgnoredReason != string(ErrInvalidTransition) {
		t.Fatalf("ignored_reason = %q, want %q", result.IgnoredReason, ErrInvalidTransition)
	}
}

func TestDispatchAPICallRerunOnlyAppliesToTerminalStep(t *testing.T) {
	tr := NewTrail("t")
	tr.AddStep(NewStep("a", noopAction))
	a, _ := tr.Step("a")
	a.state = StateRun

	payload, _ := json.Marshal(selectorArgs{IDs: []string{"a"}})
	resp, _ := dispatchAPICall(tr, Request{Name: "rerun", RequestID: "r1", Payload: payload})
	if !resp.OK {
		t.Fatalf("rerun response not ok: %+v", resp.Error)
	}
	if a.flags.RerunRequested {
		t.Fatal("rerun_requested set on a non-terminal step, want ignored")
	}
}

func TestDispatchAPICallUnknownCall(t *testing.T) {
	tr := NewTrail("t")
	resp, _ := dispatchAPICall(tr, Request{Name: "nope", RequestID: "r1"})
	if resp.OK || resp.Error == nil || resp.Error.Kind != ErrBadRequest {
		t.Fatalf("dispatch unknown call = %+v, want BadRequest error", resp)
	}
}

func TestDispatchAPICallShutdownSentinel(t *testing.T) {
	tr := NewTrail("t")
	resp, result := dispatchAPICall(tr, Request{Name: "shutdown", RequestID: "r1"})
	if !resp.OK {
		t.Fatalf("shutdown response not ok: %+v", resp.Error)
	}
	if result != ShutdownAck {
		t.Fatalf("dispatchAPICall result = %v, want ShutdownAck sentinel", result)
	}
}

func TestDispatchAPICallSendAndGetMessages(t *testing.T) {
	tr := NewTrail("t")
	tr.AddStep(NewStep("a", noopAction))

	sendPayload, _ := json.Marshal(sendMessageArgs{
		selectorArgs: selectorArgs{IDs: []string{"a"}},
		Message:      json.RawMessage(`"hello"`),
	})
	resp, _ := dispatchAPICall(tr, Request{Name: "send_message_to_steps", RequestID: "r1", Payload: sendPayload})
	if !resp.OK {
		t.Fatalf("send_message_to_steps not ok: %+v", resp.Error)
	}

	a, _ := tr.Step("a")
	if a.toStep.len() != 1 {
		t.Fatalf("toStep.len() = %d, want 1", a.toStep.len())
	}

	getPayload, _ := json.Marshal(selectorArgs{IDs: []string{"a"}})

	// Pop the message from the to_step queue and push it onto from_step,
	// simulating the action echoing the message back.
	msg, ok := a.toStep.tryPop()
	if !ok {
		t.Fatal("action-visible to_step queue is empty")
	}
	a.fromStep.push(msg)

	resp, _ = dispatchAPICall(tr, Request{Name: "get_step_messages", RequestID: "r2", Payload: getPayload})
	if !resp.OK {
		t.Fatalf("get_step_messages not ok: %+v", resp.Error)
	}
}

func TestDispatchAPICallStatusCounts(t *testing.T) {
	tr := linearTrail(t)
	a, _ := tr.Step("a")
	a.state = StateSuccess

	resp, _ := dispatchAPICall(tr, Request{Name: "status", RequestID: "r1"})
	if !resp.OK {
		t.Fatalf("status not ok: %+v", resp.Error)
	}
	var result struct {
		Counts map[string]int `json:"counts"`
		Total  int            `json:"total"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("decode status result: %v", err)
	}
	if result.Total != 3 {
		t.Fatalf("total = %d, want 3", result.Total)
	}
	if result.Counts["success"] != 1 {
		t.Fatalf("counts[success] = %d, want 1", result.Counts["success"])
	}
}
