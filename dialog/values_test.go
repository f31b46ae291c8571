// ABOUTME: Tests for the per-dialog value store: scalar get/put, the push/pop stack,
// ABOUTME: and the host-side application of store-value and update-value actions.

package dialog

import "testing"

func newValueDialog(t *testing.T) *Dialog {
	t.Helper()
	return RestoreDialog(DialogConfig{Key: "values", Logger: testLogger()})
}

func TestPutAndGetValue(t *testing.T) {
	d := newValueDialog(t)

	if got := d.GetValue("missing"); got != nil {
		t.Errorf("expected nil for an unset key, got %v", got)
	}

	d.PutValue("name", "Ana")
	if got := d.GetValue("name"); got != "Ana" {
		t.Errorf("expected Ana, got %v", got)
	}

	d.PutValue("name", nil)
	if got := d.GetValue("name"); got != nil {
		t.Errorf("expected storing nil to delete the key, got %v", got)
	}
}

func TestPushValueLiftsScalars(t *testing.T) {
	d := newValueDialog(t)

	d.PushValue("path", "a")
	if got, ok := d.GetValue("path").([]any); !ok || len(got) != 1 || got[0] != "a" {
		t.Fatalf("expected a single-element list, got %v", d.GetValue("path"))
	}

	d.PushValue("path", "b")
	if got := d.GetValue("path").([]any); len(got) != 2 || got[1] != "b" {
		t.Fatalf("expected the list to grow, got %v", got)
	}

	// A scalar already in the slot is lifted into a list.
	d.PutValue("slot", "first")
	d.PushValue("slot", "second")
	got := d.GetValue("slot").([]any)
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Errorf("expected the scalar lifted, got %v", got)
	}
}

func TestPopValue(t *testing.T) {
	d := newValueDialog(t)
	d.PushValue("path", "a")
	d.PushValue("path", "b")

	if got := d.PopValue("path"); got != "b" {
		t.Errorf("expected b, got %v", got)
	}
	if got := d.PopValue("path"); got != "a" {
		t.Errorf("expected a, got %v", got)
	}
	if got := d.GetValue("path"); got != nil {
		t.Errorf("expected popping the last element to delete the key, got %v", got)
	}
	if got := d.PopValue("path"); got != nil {
		t.Errorf("expected nil from an empty slot, got %v", got)
	}

	// A scalar pops as itself and clears the slot.
	d.PutValue("slot", "only")
	if got := d.PopValue("slot"); got != "only" {
		t.Errorf("expected only, got %v", got)
	}
	if got := d.GetValue("slot"); got != nil {
		t.Errorf("expected the slot cleared, got %v", got)
	}
}

func TestApplyValueActionHandlesStoreAndUpdate(t *testing.T) {
	d := newValueDialog(t)

	if !ApplyValueAction(d, storeValueAction("stage", "intro")) {
		t.Fatal("expected store-value to be handled")
	}
	if got := d.GetValue("stage"); got != "intro" {
		t.Errorf("expected intro, got %v", got)
	}

	if ApplyValueAction(d, echoAction("hello")) {
		t.Error("expected echo actions to be left for the host")
	}
}

func TestApplyUpdateOperations(t *testing.T) {
	t.Run("append", func(t *testing.T) {
		d := newValueDialog(t)
		d.PutValue("log", "one")
		ApplyValueAction(d, Action{"type": ActionUpdateValue, "key": "log", "operation": "append", "value": "two"})
		got, _ := d.GetValue("log").([]any)
		if len(got) != 2 || got[1] != "two" {
			t.Errorf("expected the value appended, got %v", d.GetValue("log"))
		}
	})

	t.Run("increment defaults to one", func(t *testing.T) {
		d := newValueDialog(t)
		d.PutValue("visits", 2)
		ApplyValueAction(d, Action{"type": ActionUpdateValue, "key": "visits", "operation": "increment"})
		if got, _ := asFloat(d.GetValue("visits")); got != 3 {
			t.Errorf("expected 3, got %v", d.GetValue("visits"))
		}
	})

	t.Run("increment from empty slot", func(t *testing.T) {
		d := newValueDialog(t)
		ApplyValueAction(d, Action{"type": ActionUpdateValue, "key": "visits", "operation": "increment", "value": 5})
		if got, _ := asFloat(d.GetValue("visits")); got != 5 {
			t.Errorf("expected 5, got %v", d.GetValue("visits"))
		}
	})

	t.Run("replace", func(t *testing.T) {
		d := newValueDialog(t)
		d.PutValue("greeting", "hello world")
		ApplyValueAction(d, Action{"type": ActionUpdateValue, "key": "greeting", "operation": "replace",
			"value": "l+", "replacement": "L"})
		if got := d.GetValue("greeting"); got != "heLo worLd" {
			t.Errorf("expected the substitution applied, got %v", got)
		}
	})

	t.Run("replace with a bad pattern is a no-op", func(t *testing.T) {
		d := newValueDialog(t)
		d.PutValue("greeting", "hello")
		ApplyValueAction(d, Action{"type": ActionUpdateValue, "key": "greeting", "operation": "replace",
			"value": "[", "replacement": "L"})
		if got := d.GetValue("greeting"); got != "hello" {
			t.Errorf("expected the value untouched, got %v", got)
		}
	})

	t.Run("unknown operation stores directly", func(t *testing.T) {
		d := newValueDialog(t)
		ApplyValueAction(d, Action{"type": ActionUpdateValue, "key": "mode", "operation": "set", "value": "loud"})
		if got := d.GetValue("mode"); got != "loud" {
			t.Errorf("expected loud, got %v", got)
		}
	})
}
