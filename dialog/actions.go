// ABOUTME: Action payloads emitted by nodes for the host to execute, plus the action protocol constants.
// ABOUTME: Actions stay open maps so custom nodes and host extensions can emit arbitrary typed payloads.
package dialog

// Action is one side effect handed to the host: a message to echo, a timer
// to honor, a value to persist. Every action carries a string "type"; the
// remaining keys depend on it.
type Action map[string]any

// Action types understood by the built-in node set. Hosts may define more.
const (
	ActionEcho           = "echo"
	ActionRaiseAlert     = "raise-alert"
	ActionPause          = "pause"
	ActionWaitForInput   = "wait-for-input"
	ActionExternalChoice = "external-choice"
	ActionStoreValue     = "store-value"
	ActionUpdateValue    = "update-value"
)

// Type returns the action's "type" value, or "" when absent or not a string.
func (a Action) Type() string {
	t, _ := a["type"].(string)
	return t
}

func echoAction(message string) Action {
	return Action{"type": ActionEcho, "message": message}
}

func alertAction(message string) Action {
	return Action{"type": ActionRaiseAlert, "message": message}
}

func pauseAction(duration float64) Action {
	return Action{"type": ActionPause, "duration": duration}
}

func waitForInputAction(timeout float64) Action {
	return Action{"type": ActionWaitForInput, "timeout": timeout}
}

func storeValueAction(key string, value any) Action {
	return Action{"type": ActionStoreValue, "key": key, "value": value}
}

// toActions coerces a decoded JSON value (a []any of maps) into []Action.
// Non-map elements are dropped.
func toActions(v any) []Action {
	switch list := v.(type) {
	case []Action:
		return list
	case []any:
		actions := make([]Action, 0, len(list))
		for _, item := range list {
			switch a := item.(type) {
			case Action:
				actions = append(actions, a)
			case map[string]any:
				actions = append(actions, Action(a))
			}
		}
		return actions
	}
	return nil
}
