// ABOUTME: Per-dialog variable store kept under the metadata "values" key.
// ABOUTME: Scalar get/put plus the stack-flavored push/pop the interrupt machinery relies on.
package dialog

import "regexp"

// valuesKey is the metadata slot holding the dialog's variable store.
const valuesKey = "values"

func valuesOf(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	vals, _ := metadata[valuesKey].(map[string]any)
	return vals
}

func ensureValues(metadata map[string]any) map[string]any {
	if vals, ok := metadata[valuesKey].(map[string]any); ok {
		return vals
	}
	vals := map[string]any{}
	metadata[valuesKey] = vals
	return vals
}

// GetValue returns the stored value for key, or nil when unset.
func (d *Dialog) GetValue(key string) any {
	vals := valuesOf(d.Metadata)
	if vals == nil {
		return nil
	}
	return vals[key]
}

// PutValue stores value under key. Storing nil deletes the key.
func (d *Dialog) PutValue(key string, value any) {
	if d.Metadata == nil {
		d.Metadata = map[string]any{}
	}
	vals := ensureValues(d.Metadata)
	if value == nil {
		delete(vals, key)
		return
	}
	vals[key] = value
}

// PushValue appends value to the list stored under key, lifting an existing
// scalar into a list first.
func (d *Dialog) PushValue(key string, value any) {
	if d.Metadata == nil {
		d.Metadata = map[string]any{}
	}
	vals := ensureValues(d.Metadata)
	existing, present := vals[key]
	if !present || existing == nil {
		vals[key] = []any{value}
		return
	}
	if list, ok := existing.([]any); ok {
		vals[key] = append(list, value)
		return
	}
	vals[key] = []any{existing, value}
}

// PopValue removes and returns the most recent value under key. Popping the
// last element deletes the key; popping a scalar deletes and returns it.
func (d *Dialog) PopValue(key string) any {
	vals := valuesOf(d.Metadata)
	if vals == nil {
		return nil
	}
	existing, present := vals[key]
	if !present || existing == nil {
		return nil
	}
	list, ok := existing.([]any)
	if !ok {
		delete(vals, key)
		return existing
	}
	if len(list) == 0 {
		delete(vals, key)
		return nil
	}
	value := list[len(list)-1]
	rest := list[:len(list)-1]
	if len(rest) == 0 {
		delete(vals, key)
	} else {
		vals[key] = rest
	}
	return value
}

// ApplyValueAction applies a store-value or update-value action to the
// dialog's variable store, reporting whether the action was one of those
// types. Hosts call this while executing a tick's actions; other action
// types are left for the host to interpret.
func ApplyValueAction(d *Dialog, action Action) bool {
	key, _ := action["key"].(string)
	switch action.Type() {
	case ActionStoreValue:
		if key != "" {
			d.PutValue(key, action["value"])
		}
		return true
	case ActionUpdateValue:
		if key != "" {
			applyUpdate(d, key, action)
		}
		return true
	}
	return false
}

// applyUpdate interprets the update-value operation set: append pushes onto
// the slot, increment adds to a numeric slot, replace runs a regex
// substitution over a string slot, and anything else stores directly.
func applyUpdate(d *Dialog, key string, action Action) {
	op, _ := action["operation"].(string)
	switch op {
	case "append":
		d.PushValue(key, action["value"])
	case "increment":
		current, _ := asFloat(d.GetValue(key))
		delta := 1.0
		if f, ok := asFloat(action["value"]); ok {
			delta = f
		}
		d.PutValue(key, current+delta)
	case "replace":
		pattern, _ := action["value"].(string)
		replacement, _ := action["replacement"].(string)
		current, _ := d.GetValue(key).(string)
		re, err := regexp.Compile(pattern)
		if err != nil {
			return
		}
		d.PutValue(key, re.ReplaceAllString(current, replacement))
	default:
		d.PutValue(key, action["value"])
	}
}
