// ABOUTME: Behavior tests for the node kinds: prompts and their timeout budgets,
// ABOUTME: branching, loops, interrupts, variable writers, and custom scripts.

package dialog

import (
	"context"
	"math/rand"
	"testing"
	"time"
)

func stateIDs(entries []LogEntry) []string {
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.StateID)
	}
	return ids
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPauseWaitsForDuration(t *testing.T) {
	clock := newFakeClock()
	d := newTestDialog(t, clock, []map[string]any{
		{"id": "start", "type": "begin", "next_id": "breathe"},
		{"id": "breathe", "type": "pause", "duration": 60, "next_id": "done"},
		{"id": "done", "type": "end"},
	})

	actions := nudge(t, d)
	if len(actions) != 1 || actions[0].Type() != ActionPause {
		t.Fatalf("expected a pause action on arrival, got %v", actions)
	}

	clock.Advance(30 * time.Second)
	if nudge(t, d); len(d.Transitions) != 1 {
		t.Fatal("expected the pause to hold before its duration elapses")
	}

	clock.Advance(31 * time.Second)
	nudge(t, d)
	if len(d.Transitions) != 2 || d.Transitions[1].StateID != "done" {
		t.Fatalf("expected the pause to release to done, got %v", stateIDs(d.Transitions))
	}
	if got := d.Transitions[1].Reason(); got != ReasonPauseElapsed {
		t.Errorf("expected reason %q, got %q", ReasonPauseElapsed, got)
	}
}

func TestAlertEmitsAlertAction(t *testing.T) {
	clock := newFakeClock()
	d := newTestDialog(t, clock, []map[string]any{
		{"id": "start", "type": "begin", "next_id": "warn"},
		{"id": "warn", "type": "alert", "message": "Operator needed.", "next_id": "done"},
		{"id": "done", "type": "end"},
	})

	actions := nudge(t, d)
	if len(actions) != 1 || actions[0].Type() != ActionRaiseAlert {
		t.Fatalf("expected a raise-alert action, got %v", actions)
	}
	if actions[0]["message"] != "Operator needed." {
		t.Errorf("unexpected alert message: %v", actions[0]["message"])
	}
}

func TestPromptValidationRoutesInvalidResponses(t *testing.T) {
	clock := newFakeClock()
	defs := []map[string]any{
		{"id": "start", "type": "begin", "next_id": "ask"},
		{"id": "ask", "type": "prompt", "prompt": "Pick a number.", "next_id": "done",
			"valid_patterns": []any{`\d+`}, "invalid_response_node_id": "scold"},
		{"id": "scold", "type": "echo", "message": "Numbers only.", "next_id": "ask"},
		{"id": "done", "type": "end"},
	}

	d := newTestDialog(t, clock, defs)
	nudge(t, d)

	respond(t, d, "plenty")
	if got := stateIDs(d.Transitions); !equalStrings(got, []string{"ask", "scold"}) {
		t.Fatalf("expected the invalid response to route to scold, got %v", got)
	}
	if got := d.Transitions[1].Reason(); got != ReasonInvalidResponse {
		t.Errorf("expected reason %q, got %q", ReasonInvalidResponse, got)
	}

	nudge(t, d) // scold -> ask
	respond(t, d, "42")
	last := d.Transitions[len(d.Transitions)-1]
	if last.StateID != "done" || last.Reason() != ReasonValidResponse {
		t.Errorf("expected a valid response to reach done, got %s (%s)", last.StateID, last.Reason())
	}
}

func TestPromptWithoutInvalidNodeSwallowsBadResponses(t *testing.T) {
	clock := newFakeClock()
	d := newTestDialog(t, clock, []map[string]any{
		{"id": "start", "type": "begin", "next_id": "ask"},
		{"id": "ask", "type": "prompt", "prompt": "Pick a number.", "next_id": "done",
			"valid_patterns": []any{`\d+`}},
		{"id": "done", "type": "end"},
	})

	nudge(t, d)
	if actions := respond(t, d, "plenty"); len(actions) != 0 {
		t.Errorf("expected an ignored response to produce no actions, got %v", actions)
	}
	if len(d.Transitions) != 1 {
		t.Errorf("expected the dialog to stay at the prompt, got %v", stateIDs(d.Transitions))
	}
}

func TestPromptTimeoutEscalates(t *testing.T) {
	clock := newFakeClock()
	d := newTestDialog(t, clock, []map[string]any{
		{"id": "start", "type": "begin", "next_id": "ask"},
		{"id": "ask", "type": "prompt", "prompt": "Anyone there?", "next_id": "done",
			"timeout": 30, "timeout_node_id": "gone"},
		{"id": "gone", "type": "end"},
		{"id": "done", "type": "end"},
	})

	nudge(t, d)
	clock.Advance(31 * time.Second)
	nudge(t, d)

	last := d.Transitions[len(d.Transitions)-1]
	if last.StateID != "gone" || last.Reason() != ReasonTimeout {
		t.Fatalf("expected a timeout hop to gone, got %s (%s)", last.StateID, last.Reason())
	}
	if got, _ := asFloat(last.Metadata["timeout_duration"]); got != 30 {
		t.Errorf("expected timeout_duration 30, got %v", last.Metadata["timeout_duration"])
	}
}

func TestBranchingPromptRoutesOnPattern(t *testing.T) {
	clock := newFakeClock()
	d := newTestDialog(t, clock, []map[string]any{
		{"id": "start", "type": "begin", "next_id": "ask"},
		{"id": "ask", "type": "branch-prompt", "prompt": "Coffee or tea?",
			"actions": []any{
				map[string]any{"pattern": "coffee", "action": "brew"},
				map[string]any{"pattern": "tea", "action": "steep"},
			}},
		{"id": "brew", "type": "end"},
		{"id": "steep", "type": "end"},
	})

	nudge(t, d)
	actions := respond(t, d, "  Tea, please  ")

	last := d.Transitions[len(d.Transitions)-1]
	if last.StateID != "steep" || last.Reason() != ReasonValidResponse {
		t.Fatalf("expected the tea pattern to win, got %s (%s)", last.StateID, last.Reason())
	}
	if len(actions) != 1 || actions[0].Type() != ActionStoreValue {
		t.Fatalf("expected a store-value exit action, got %v", actions)
	}
	if actions[0]["key"] != "ask" || actions[0]["value"] != "Tea, please" {
		t.Errorf("expected the trimmed response stored under the node id, got %v", actions[0])
	}
}

func TestBranchingPromptNoMatchRefreshesSelf(t *testing.T) {
	clock := newFakeClock()
	d := newTestDialog(t, clock, []map[string]any{
		{"id": "start", "type": "begin", "next_id": "ask"},
		{"id": "ask", "type": "branch-prompt", "prompt": "Coffee or tea?", "no_match": "ask",
			"actions": []any{map[string]any{"pattern": "coffee", "action": "brew"}}},
		{"id": "brew", "type": "end"},
	})

	nudge(t, d)
	actions := respond(t, d, "juice")

	if len(d.Transitions) != 2 {
		t.Fatalf("expected the refresh to append an entry, got %v", stateIDs(d.Transitions))
	}
	last := d.Transitions[1]
	if last.StateID != "ask" || last.Reason() != ReasonInvalidResponse {
		t.Fatalf("expected a no-match re-entry at ask, got %s (%s)", last.StateID, last.Reason())
	}
	// Exit store, then the prompt again.
	if len(actions) != 2 || actions[0].Type() != ActionStoreValue || actions[1].Type() != ActionEcho {
		t.Errorf("expected store-value then the re-prompt echo, got %v", actions)
	}
}

func TestBranchingPromptWithoutNoMatchIgnoresResponse(t *testing.T) {
	clock := newFakeClock()
	d := newTestDialog(t, clock, []map[string]any{
		{"id": "start", "type": "begin", "next_id": "ask"},
		{"id": "ask", "type": "branch-prompt", "prompt": "Coffee or tea?",
			"actions": []any{map[string]any{"pattern": "coffee", "action": "brew"}}},
		{"id": "brew", "type": "end"},
	})

	nudge(t, d)
	if actions := respond(t, d, "juice"); len(actions) != 0 {
		t.Errorf("expected no actions, got %v", actions)
	}
	if len(d.Transitions) != 1 {
		t.Errorf("expected the dialog to hold at ask, got %v", stateIDs(d.Transitions))
	}
}

func TestBranchingPromptTimeoutBudget(t *testing.T) {
	clock := newFakeClock()
	d := newTestDialog(t, clock, []map[string]any{
		{"id": "start", "type": "begin", "next_id": "ask"},
		{"id": "ask", "type": "branch-prompt", "prompt": "Still deciding?",
			"timeout": 30, "timeout_node_id": "nag", "timeout_iterations": 2,
			"actions": []any{map[string]any{"pattern": "ok", "action": "done"}}},
		{"id": "nag", "type": "echo", "message": "Take your time.", "next_id": "ask"},
		{"id": "done", "type": "end"},
	})

	nudge(t, d) // arrive at ask

	// Before the timeout elapses a nudge does nothing.
	clock.Advance(10 * time.Second)
	nudge(t, d)
	if len(d.Transitions) != 1 {
		t.Fatalf("expected no movement before the timeout, got %v", stateIDs(d.Transitions))
	}

	// First and second timeouts escalate to the nag node.
	for i := 0; i < 2; i++ {
		clock.Advance(31 * time.Second)
		nudge(t, d) // ask -> nag
		nudge(t, d) // nag -> ask
	}

	want := []string{"ask", "nag", "ask", "nag", "ask"}
	if got := stateIDs(d.Transitions); !equalStrings(got, want) {
		t.Fatalf("expected path %v, got %v", want, got)
	}
	if d.Transitions[1].Reason() != ReasonTimeout || d.Transitions[3].Reason() != ReasonTimeout {
		t.Errorf("expected timeout reasons on the nag entries, got %q and %q",
			d.Transitions[1].Reason(), d.Transitions[3].Reason())
	}

	// The budget is spent: further timeouts are suppressed.
	clock.Advance(31 * time.Second)
	nudge(t, d)
	if len(d.Transitions) != 5 {
		t.Errorf("expected the third timeout to be suppressed, got %v", stateIDs(d.Transitions))
	}
	if !d.IsActive() {
		t.Error("expected the dialog to keep waiting after the budget is spent")
	}
}

func TestExternalChoiceRequiresHostResolution(t *testing.T) {
	clock := newFakeClock()
	d := newTestDialog(t, clock, []map[string]any{
		{"id": "start", "type": "begin", "next_id": "menu"},
		{"id": "menu", "type": "external-choice",
			"actions": []any{
				map[string]any{"identifier": "a", "label": "Apples", "action": "done"},
				map[string]any{"identifier": "b", "label": "Bread", "action": "done"},
			}},
		{"id": "done", "type": "end"},
	})

	actions := nudge(t, d)
	if len(actions) != 1 || actions[0].Type() != ActionExternalChoice {
		t.Fatalf("expected an external-choice action, got %v", actions)
	}
	choices, _ := actions[0]["choices"].([]any)
	if len(choices) != 2 {
		t.Fatalf("expected two choices, got %v", actions[0]["choices"])
	}

	// A plain response is not a host-resolved choice.
	respond(t, d, "a")
	if len(d.Transitions) != 1 {
		t.Fatalf("expected a bare response to be ignored, got %v", stateIDs(d.Transitions))
	}

	// An unknown identifier is ignored even when host-resolved.
	if _, err := d.Process(context.Background(), strPtr("zzz"), map[string]any{"is_external": true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.Transitions) != 1 {
		t.Fatalf("expected an unknown choice to be ignored, got %v", stateIDs(d.Transitions))
	}

	actions, err := d.Process(context.Background(), strPtr("b"), map[string]any{"is_external": true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	last := d.Transitions[len(d.Transitions)-1]
	if last.StateID != "done" || last.Reason() != ReasonValidChoice {
		t.Fatalf("expected the choice to route to done, got %s (%s)", last.StateID, last.Reason())
	}
	if len(actions) != 1 || actions[0]["key"] != "menu" || actions[0]["value"] != "b" {
		t.Errorf("expected the choice stored under the node id, got %v", actions)
	}
}

func TestIfNodeRoutesOnStoredValues(t *testing.T) {
	defs := []map[string]any{
		{"id": "start", "type": "begin", "next_id": "check"},
		{"id": "check", "type": "if", "next_id": "high", "false_id": "low",
			"all_true": []any{map[string]any{"key": "score", "condition": ">", "value": 3}}},
		{"id": "high", "type": "end"},
		{"id": "low", "type": "end"},
	}

	cases := []struct {
		name  string
		score any
		want  string
		why   string
	}{
		{"greater than", 5, "high", ReasonPassedTest},
		{"not greater than", 2, "low", ReasonFailedTest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := newTestDialog(t, newFakeClock(), defs)
			d.PutValue("score", tc.score)
			nudge(t, d) // start -> check
			nudge(t, d) // check -> branch
			last := d.Transitions[len(d.Transitions)-1]
			if last.StateID != tc.want || last.Reason() != tc.why {
				t.Errorf("expected %s (%s), got %s (%s)", tc.want, tc.why, last.StateID, last.Reason())
			}
		})
	}
}

func TestIfNodeConditionOperators(t *testing.T) {
	node := &ifNode{}
	cases := []struct {
		name  string
		cond  map[string]any
		value any
		want  bool
	}{
		{"less than", map[string]any{"condition": "<", "value": 10}, 3, true},
		{"equal numbers across widths", map[string]any{"condition": "==", "value": 5}, 5.0, true},
		{"equal strings", map[string]any{"condition": "==", "value": "go"}, "go", true},
		{"unequal", map[string]any{"condition": "==", "value": "go"}, "stop", false},
		{"contains", map[string]any{"condition": "contains", "value": []any{"Err", "fail"}}, "an error occurred", true},
		{"contains misses", map[string]any{"condition": "contains", "value": []any{"fail"}}, "all clear", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := node.test(tc.cond, tc.value)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}

	if _, err := node.test(map[string]any{"condition": "within"}, 1); err == nil {
		t.Error("expected an error for an unknown operator")
	}
	if _, err := node.test(map[string]any{"condition": ">", "value": "many"}, 1); err == nil {
		t.Error("expected an error comparing numbers against a non-number")
	}
}

func TestBranchingConditionsRoutesOnExtras(t *testing.T) {
	defs := []map[string]any{
		{"id": "start", "type": "begin", "next_id": "route"},
		{"id": "route", "type": "branch-conditions", "no_match": "cold", "error": "oops",
			"actions": []any{
				map[string]any{"condition": "temp > 70", "action": "warm"},
				map[string]any{"condition": "temp > 50", "action": "mild"},
			}},
		{"id": "warm", "type": "end"},
		{"id": "mild", "type": "end"},
		{"id": "cold", "type": "end"},
		{"id": "oops", "type": "end"},
	}

	cases := []struct {
		name   string
		extras map[string]any
		want   string
		why    string
	}{
		{"first condition wins", map[string]any{"temp": 80}, "warm", ReasonMatchedCondition},
		{"declaration order", map[string]any{"temp": 60}, "mild", ReasonMatchedCondition},
		{"no match", map[string]any{"temp": 10}, "cold", ReasonNoMatchingConditions},
		{"undefined symbol falls through", map[string]any{}, "cold", ReasonNoMatchingConditions},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := newTestDialog(t, newFakeClock(), defs)
			nudge(t, d) // start -> route
			if _, err := d.Process(context.Background(), nil, tc.extras); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			last := d.Transitions[len(d.Transitions)-1]
			if last.StateID != tc.want || last.Reason() != tc.why {
				t.Errorf("expected %s (%s), got %s (%s)", tc.want, tc.why, last.StateID, last.Reason())
			}
		})
	}
}

func TestBranchingConditionsRoutesFailuresToErrorNode(t *testing.T) {
	d := newTestDialog(t, newFakeClock(), []map[string]any{
		{"id": "start", "type": "begin", "next_id": "route"},
		{"id": "route", "type": "branch-conditions", "error": "oops",
			"actions": []any{map[string]any{"condition": "temp ><> 1", "action": "warm"}}},
		{"id": "warm", "type": "end"},
		{"id": "oops", "type": "end"},
	})

	nudge(t, d)
	if _, err := d.Process(context.Background(), nil, map[string]any{"temp": 50}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	last := d.Transitions[len(d.Transitions)-1]
	if last.StateID != "oops" || last.Reason() != ReasonConditionalError {
		t.Fatalf("expected the error edge, got %s (%s)", last.StateID, last.Reason())
	}
	if last.Metadata["condition"] != "temp ><> 1" {
		t.Errorf("expected the failing condition in metadata, got %v", last.Metadata["condition"])
	}
	if msg, _ := last.Metadata["error"].(string); msg == "" {
		t.Error("expected the failure message in metadata")
	}
}

func TestLoopNodeBoundsIterations(t *testing.T) {
	clock := newFakeClock()
	d := newTestDialog(t, clock, []map[string]any{
		{"id": "start", "type": "begin", "next_id": "cycle"},
		{"id": "cycle", "type": "loop", "iterations": 3, "loop_id": "work", "next_id": "done"},
		{"id": "work", "type": "echo", "message": "Working.", "next_id": "cycle"},
		{"id": "done", "type": "end"},
	})

	for i := 0; i < 6; i++ {
		nudge(t, d)
	}

	want := []string{"cycle", "work", "cycle", "work", "cycle", "done"}
	if got := stateIDs(d.Transitions); !equalStrings(got, want) {
		t.Fatalf("expected path %v, got %v", want, got)
	}
	if d.Transitions[1].Reason() != ReasonNextLoop || d.Transitions[3].Reason() != ReasonNextLoop {
		t.Errorf("expected next-loop reasons on the body entries")
	}
	final := d.Transitions[5]
	if final.Reason() != ReasonFinishedLoop {
		t.Errorf("expected reason %q, got %q", ReasonFinishedLoop, final.Reason())
	}
	if got, _ := asFloat(final.Metadata["loop_iteration"]); got != 3 {
		t.Errorf("expected loop_iteration 3 on exit, got %v", final.Metadata["loop_iteration"])
	}
}

func TestRecordVariableEmitsStoreValue(t *testing.T) {
	clock := newFakeClock()
	d := newTestDialog(t, clock, []map[string]any{
		{"id": "start", "type": "begin", "next_id": "remember"},
		{"id": "remember", "type": "record-variable", "key": "stage", "value": "intro", "next_id": "done"},
		{"id": "done", "type": "end"},
	})

	nudge(t, d) // start -> remember
	actions := nudge(t, d)

	last := d.Transitions[len(d.Transitions)-1]
	if last.Reason() != ReasonSetVariableContinue {
		t.Errorf("expected reason %q, got %q", ReasonSetVariableContinue, last.Reason())
	}
	if len(actions) != 1 || actions[0].Type() != ActionStoreValue {
		t.Fatalf("expected a store-value action, got %v", actions)
	}
	if actions[0]["key"] != "stage" || actions[0]["value"] != "intro" {
		t.Errorf("expected stage=intro, got %v", actions[0])
	}

	// Hosts feed these actions back through the value store.
	if !ApplyValueAction(d, actions[0]) {
		t.Fatal("expected ApplyValueAction to handle a store-value action")
	}
	if got := d.GetValue("stage"); got != "intro" {
		t.Errorf("expected the value applied, got %v", got)
	}
}

func TestUpdateVariableEmitsUpdateValue(t *testing.T) {
	clock := newFakeClock()
	d := newTestDialog(t, clock, []map[string]any{
		{"id": "start", "type": "begin", "next_id": "bump"},
		{"id": "bump", "type": "update-variable", "key": "visits", "operation": "increment", "value": 2, "next_id": "done"},
		{"id": "done", "type": "end"},
	})
	d.PutValue("visits", 1)

	nudge(t, d)
	actions := nudge(t, d)

	if len(actions) != 1 || actions[0].Type() != ActionUpdateValue {
		t.Fatalf("expected an update-value action, got %v", actions)
	}
	if !ApplyValueAction(d, actions[0]) {
		t.Fatal("expected ApplyValueAction to handle an update-value action")
	}
	if got, _ := asFloat(d.GetValue("visits")); got != 3 {
		t.Errorf("expected visits to increment to 3, got %v", d.GetValue("visits"))
	}
}

func TestInterruptDetourAndResume(t *testing.T) {
	clock := newFakeClock()
	d := newTestDialog(t, clock, []map[string]any{
		{"id": "start", "type": "begin", "next_id": "ask"},
		{"id": "ask", "type": "branch-prompt", "prompt": "Ready to continue?",
			"actions": []any{map[string]any{"pattern": "yes", "action": "done"}}},
		{"id": "helpdesk", "type": "interrupt", "match_patterns": []any{"help"}, "next_id": "info"},
		{"id": "info", "type": "echo", "message": "Here is some help.", "next_id": "back"},
		{"id": "back", "type": "interrupt-resume"},
		{"id": "done", "type": "end"},
	})

	nudge(t, d)                    // start -> ask
	respond(t, d, "help, please") // interrupt fires
	nudge(t, d)                   // helpdesk -> info (records the resume point)
	nudge(t, d)                   // info -> back
	actions := nudge(t, d)        // back -> ask

	want := []string{"ask", "helpdesk", "info", "back", "ask"}
	if got := stateIDs(d.Transitions); !equalStrings(got, want) {
		t.Fatalf("expected path %v, got %v", want, got)
	}
	if got := d.Transitions[1].Reason(); got != ReasonInterrupt {
		t.Errorf("expected reason %q on the detour, got %q", ReasonInterrupt, got)
	}
	if got := d.Transitions[4].Reason(); got != ReasonInterruptResume {
		t.Errorf("expected reason %q on the way back, got %q", ReasonInterruptResume, got)
	}
	// Resuming re-runs the prompt's entry actions.
	if len(actions) != 1 || actions[0].Type() != ActionEcho {
		t.Errorf("expected the re-prompt on resume, got %v", actions)
	}
	if got := d.GetValue(interruptStackKey); got != nil {
		t.Errorf("expected the resume stack to be empty, got %v", got)
	}

	// The interrupted prompt still works after the detour.
	respond(t, d, "yes")
	last := d.Transitions[len(d.Transitions)-1]
	if last.StateID != "done" {
		t.Errorf("expected the original prompt to route after resuming, got %s", last.StateID)
	}
}

func TestInterruptResumeForceTopUnwindsNesting(t *testing.T) {
	d := RestoreDialog(DialogConfig{Key: "nested", Logger: testLogger()})
	d.PushValue(interruptStackKey, "outermost")
	d.PushValue(interruptStackKey, "inner")

	m, err := NewMachine([]map[string]any{
		{"id": "start", "type": "begin", "next_id": "back"},
		{"id": "back", "type": "interrupt-resume", "force_top": true},
		{"id": "outermost", "type": "end"},
		{"id": "inner", "type": "end"},
	}, MachineConfig{Host: d, Metadata: d.Metadata, Logger: testLogger()})
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	m.AdvanceTo("back")

	tr, err := m.Evaluate(context.Background(), nil, &LogEntry{StateID: "back"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr == nil || tr.NewStateID == nil || *tr.NewStateID != "outermost" {
		t.Fatalf("expected force_top to unwind to the outermost state, got %v", tr)
	}
	if got := d.GetValue(interruptStackKey); got != nil {
		t.Errorf("expected the stack drained, got %v", got)
	}
}

func TestTimeElapsedInterruptFiresOnce(t *testing.T) {
	clock := newFakeClock()
	d := newTestDialog(t, clock, []map[string]any{
		{"id": "start", "type": "begin", "next_id": "ask"},
		{"id": "ask", "type": "prompt", "prompt": "Take your time.", "next_id": "done"},
		{"id": "reminder", "type": "time-elapsed-interrupt", "minutes_elapsed": 30, "next_id": "nudge-msg"},
		{"id": "nudge-msg", "type": "echo", "message": "Just checking in.", "next_id": "ask"},
		{"id": "done", "type": "end"},
	})

	nudge(t, d) // start -> ask

	// Under the threshold nothing fires.
	clock.Advance(10 * time.Minute)
	nudge(t, d)
	if len(d.Transitions) != 1 {
		t.Fatalf("expected no interrupt before the threshold, got %v", stateIDs(d.Transitions))
	}

	clock.Advance(21 * time.Minute)
	nudge(t, d) // scan fires: -> reminder
	nudge(t, d) // reminder -> nudge-msg
	nudge(t, d) // nudge-msg -> ask

	want := []string{"ask", "reminder", "nudge-msg", "ask"}
	if got := stateIDs(d.Transitions); !equalStrings(got, want) {
		t.Fatalf("expected path %v, got %v", want, got)
	}
	if got := d.Transitions[1].Reason(); got != ReasonInterruptTimeElapsed {
		t.Errorf("expected reason %q, got %q", ReasonInterruptTimeElapsed, got)
	}
	if got, _ := asFloat(d.Transitions[2].Metadata["time_duration"]); got != 1800 {
		t.Errorf("expected time_duration 1800, got %v", d.Transitions[2].Metadata["time_duration"])
	}

	// Once in the log, the interrupt never fires again.
	clock.Advance(2 * time.Hour)
	nudge(t, d)
	if len(d.Transitions) != 4 {
		t.Errorf("expected no second firing, got %v", stateIDs(d.Transitions))
	}
}

func TestRandomBranchHonorsWeights(t *testing.T) {
	m, err := NewMachine([]map[string]any{
		{"id": "start", "type": "begin", "next_id": "pick"},
		{"id": "pick", "type": "random-branch",
			"actions": []any{
				map[string]any{"action": "a", "weight": 0},
				map[string]any{"action": "b", "weight": "{{.w}}"},
			}},
		{"id": "a", "type": "end"},
		{"id": "b", "type": "end"},
	}, MachineConfig{Logger: testLogger(), Rng: rand.New(rand.NewSource(7))})
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	m.AdvanceTo("pick")

	tr, err := m.Evaluate(context.Background(), nil, &LogEntry{StateID: "pick"}, map[string]any{"w": 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr == nil || tr.NewStateID == nil || *tr.NewStateID != "b" {
		t.Fatalf("expected the only positive weight to win, got %v", tr)
	}
	weights, _ := tr.Metadata["weights"].(map[string]any)
	if _, present := weights["a"]; present {
		t.Error("expected the zero-weight branch to be filtered out")
	}
	entry, _ := weights["b"].(map[string]any)
	if entry == nil || entry["raw_weight"] != "{{.w}}" {
		t.Errorf("expected the raw template weight recorded, got %v", weights["b"])
	}
	if got, _ := asFloat(entry["rendered_weight"]); got != 2 {
		t.Errorf("expected rendered weight 2, got %v", entry["rendered_weight"])
	}
}

func TestRandomBranchCyclesWithoutReplacement(t *testing.T) {
	defs := []map[string]any{
		{"id": "start", "type": "begin", "next_id": "pick"},
		{"id": "pick", "type": "random-branch", "without_replacement": true,
			"actions": []any{
				map[string]any{"action": "a", "weight": 1},
				map[string]any{"action": "b", "weight": 1},
			}},
		{"id": "a", "type": "end"},
		{"id": "b", "type": "end"},
	}
	m, err := NewMachine(defs, MachineConfig{Logger: testLogger(), Rng: rand.New(rand.NewSource(7))})
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	extras := map[string]any{}

	pick := func() (*Transition, string) {
		t.Helper()
		m.AdvanceTo("pick")
		tr, err := m.Evaluate(context.Background(), nil, &LogEntry{StateID: "pick"}, extras)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tr == nil || tr.NewStateID == nil {
			t.Fatalf("expected a transition, got %v", tr)
		}
		return tr, *tr.NewStateID
	}

	tr1, first := pick()
	exit := tr1.ExitActions()
	if len(exit) != 1 || exit[0].Type() != ActionStoreValue {
		t.Fatalf("expected a store-value exit action persisting the history, got %v", exit)
	}
	if exit[0]["key"] != "__pick_prior_choices" {
		t.Errorf("unexpected history key %v", exit[0]["key"])
	}
	if exit[0]["value"] != `["`+first+`"]` {
		t.Errorf("expected encoded history, got %v", exit[0]["value"])
	}

	_, second := pick()
	if first == second {
		t.Fatalf("expected the second pick to avoid %q", first)
	}

	// Both destinations are spent, so the cycle starts over.
	tr3, third := pick()
	if third != "a" && third != "b" {
		t.Fatalf("unexpected destination %q", third)
	}
	prior, _ := tr3.Metadata["prior_choices"].([]any)
	if len(prior) != 1 || prior[0] != third {
		t.Errorf("expected the history reset to the new pick, got %v", prior)
	}
}

func TestRandomBranchReadsEncodedHistory(t *testing.T) {
	m, err := NewMachine([]map[string]any{
		{"id": "start", "type": "begin", "next_id": "pick"},
		{"id": "pick", "type": "random-branch", "without_replacement": true,
			"actions": []any{
				map[string]any{"action": "a", "weight": 1},
				map[string]any{"action": "b", "weight": 1},
			}},
		{"id": "a", "type": "end"},
		{"id": "b", "type": "end"},
	}, MachineConfig{Logger: testLogger(), Rng: rand.New(rand.NewSource(7))})
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	m.AdvanceTo("pick")

	// History restored from the value store arrives as a JSON string.
	extras := map[string]any{"__pick_prior_choices": `["a"]`}
	tr, err := m.Evaluate(context.Background(), nil, &LogEntry{StateID: "pick"}, extras)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr == nil || tr.NewStateID == nil || *tr.NewStateID != "b" {
		t.Fatalf("expected the encoded history to exclude a, got %v", tr)
	}
}

func TestRandomBranchFallsBackToUniformDraw(t *testing.T) {
	m, err := NewMachine([]map[string]any{
		{"id": "start", "type": "begin", "next_id": "pick"},
		{"id": "pick", "type": "random-branch",
			"actions": []any{
				map[string]any{"action": "a", "weight": 0},
				map[string]any{"action": "b", "weight": 0},
			}},
		{"id": "a", "type": "end"},
		{"id": "b", "type": "end"},
	}, MachineConfig{Logger: testLogger(), Rng: rand.New(rand.NewSource(7))})
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	m.AdvanceTo("pick")

	tr, err := m.Evaluate(context.Background(), nil, &LogEntry{StateID: "pick"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr == nil || tr.NewStateID == nil {
		t.Fatal("expected a uniform fallback draw")
	}
	if got := *tr.NewStateID; got != "a" && got != "b" {
		t.Errorf("unexpected destination %q", got)
	}
}

func TestCustomNodeScriptsDriveTransition(t *testing.T) {
	clock := newFakeClock()
	d := newTestDialog(t, clock, []map[string]any{
		{"id": "start", "type": "begin", "next_id": "magic"},
		{"id": "magic", "type": "custom",
			"definition": map[string]any{"reply": "All done"},
			"actions":    `actions = [{"type": "echo", "message": "Working on it"}]`,
			"evaluate": `result.details.reason = "custom-step"
result.details.note = definition.reply
result.actions = [{"type": "echo", "message": "Bye"}]
result.next_id = "finish"`},
		{"id": "finish", "type": "end"},
	})

	actions := nudge(t, d) // start -> magic
	if len(actions) != 1 || actions[0]["message"] != "Working on it" {
		t.Fatalf("expected the actions script to produce the entry action, got %v", actions)
	}

	actions = nudge(t, d) // magic -> finish
	last := d.Transitions[len(d.Transitions)-1]
	if last.StateID != "finish" {
		t.Fatalf("expected the script to route to finish, got %s", last.StateID)
	}
	if last.Reason() != "custom-step" {
		t.Errorf("expected the script's reason, got %q", last.Reason())
	}
	if last.Metadata["note"] != "All done" {
		t.Errorf("expected the definition value in metadata, got %v", last.Metadata["note"])
	}
	if len(actions) != 1 || actions[0]["message"] != "Bye" {
		t.Errorf("expected the script's exit action, got %v", actions)
	}
}

func TestCustomNodeWithoutNextIDWaits(t *testing.T) {
	clock := newFakeClock()
	d := newTestDialog(t, clock, []map[string]any{
		{"id": "start", "type": "begin", "next_id": "magic"},
		{"id": "magic", "type": "custom",
			"definition": map[string]any{},
			"actions":    ``,
			"evaluate":   `result.details.checked = true`},
		{"id": "finish", "type": "end"},
	})

	nudge(t, d)
	nudge(t, d)
	if len(d.Transitions) != 1 {
		t.Errorf("expected the dialog to hold at the custom node, got %v", stateIDs(d.Transitions))
	}
	if !d.IsActive() {
		t.Error("expected the dialog to stay active")
	}
}

func TestCustomNodeScriptFailureConcludesDialog(t *testing.T) {
	clock := newFakeClock()
	d := newTestDialog(t, clock, []map[string]any{
		{"id": "start", "type": "begin", "next_id": "magic"},
		{"id": "magic", "type": "custom",
			"definition": map[string]any{},
			"actions":    ``,
			"evaluate":   `result.next_id = missing_thing`},
		{"id": "finish", "type": "end"},
	})

	nudge(t, d)
	if _, err := d.Process(context.Background(), nil, nil); err != nil {
		t.Fatalf("expected a soft failure, got %v", err)
	}

	if d.IsActive() {
		t.Fatal("expected the script failure to conclude the dialog")
	}
	if d.FinishReason != FinishDialogConcluded {
		t.Errorf("expected finish reason %q, got %q", FinishDialogConcluded, d.FinishReason)
	}
	details, _ := d.Metadata["last_transition_details"].(map[string]any)
	if details == nil || details["reason"] != ReasonDialogError {
		t.Fatalf("expected a dialog-error conclusion, got %v", details)
	}
	if msg, _ := details["error"].(string); msg == "" {
		t.Error("expected the script failure message recorded")
	}
}
