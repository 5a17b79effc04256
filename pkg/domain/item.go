package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// ItemStatus is the lifecycle state of an item.
type ItemStatus string

const (
	ItemInitial   ItemStatus = "INITIAL"
	ItemRunning   ItemStatus = "RUNNING"
	ItemWaiting   ItemStatus = "WAITING"
	ItemHalted    ItemStatus = "HALTED"
	ItemCompleted ItemStatus = "COMPLETED"
	ItemError     ItemStatus = "ERROR"
)

// Valid reports whether s is a known status.
func (s ItemStatus) Valid() bool {
	switch s {
	case ItemInitial, ItemRunning, ItemWaiting, ItemHalted, ItemCompleted, ItemError:
		return true
	}
	return false
}

// Suspended reports whether the item is parked waiting for a resume.
func (s ItemStatus) Suspended() bool {
	return s == ItemWaiting || s == ItemHalted
}

// Reserved auxiliary keys written by the engine.
const (
	AuxAction        = "_action"
	AuxMessage       = "_message"
	AuxActionPayload = "_action_payload"
	AuxErrorMessage  = "_error_msg"
	AuxLastTask      = "_last_task_name"
	AuxTaskHistory   = "_task_history"
	AuxIterators     = "_iterators"
	AuxLoops         = "_loops"
)

// Item is the unit of work that flows through a pipeline.
type Item struct {
	ID        int64          `json:"id"`
	RunID     string         `json:"run_id,omitempty"`
	ParentID  *int64         `json:"parent_id,omitempty"`
	Status    ItemStatus     `json:"status"`
	Position  Position       `json:"position"`
	Payload   map[string]any `json:"payload"`
	Auxiliary map[string]any `json:"auxiliary"`
	DataType  string         `json:"data_type,omitempty"`
	Deleted   bool           `json:"deleted,omitempty"`
	Created   time.Time      `json:"created"`
	Modified  time.Time      `json:"modified"`
}

// NewItem creates an unsaved INITIAL item carrying payload.
func NewItem(payload map[string]any) *Item {
	if payload == nil {
		payload = make(map[string]any)
	}
	return &Item{
		Status:    ItemInitial,
		Payload:   payload,
		Auxiliary: make(map[string]any),
	}
}

// Touch updates the modification timestamp, setting Created on first use.
func (i *Item) Touch(now time.Time) {
	if i.Created.IsZero() {
		i.Created = now
	}
	i.Modified = now
}

// Reset puts the item back at the start of a pipeline, dropping any loop
// bookkeeping left by an interrupted traversal.
func (i *Item) Reset() {
	i.Status = ItemInitial
	i.Position = nil
	delete(i.Auxiliary, AuxIterators)
	delete(i.Auxiliary, AuxLoops)
}

func (i *Item) aux() map[string]any {
	if i.Auxiliary == nil {
		i.Auxiliary = make(map[string]any)
	}
	return i.Auxiliary
}

// SetAction records the action an external actor must resolve, with a
// human-readable message.
func (i *Item) SetAction(action, message string) {
	i.aux()[AuxAction] = action
	i.aux()[AuxMessage] = message
}

// Action returns the pending action, if any.
func (i *Item) Action() string { return i.auxString(AuxAction) }

// ActionMessage returns the message recorded with the pending action.
func (i *Item) ActionMessage() string { return i.auxString(AuxMessage) }

// ActionPayload returns the payload attached to a wait, if any.
func (i *Item) ActionPayload() any { return i.Auxiliary[AuxActionPayload] }

// RemoveAction clears the pending action and its message.
func (i *Item) RemoveAction() {
	delete(i.Auxiliary, AuxAction)
	delete(i.Auxiliary, AuxMessage)
	delete(i.Auxiliary, AuxActionPayload)
}

// ErrorMessage returns the detail recorded by the last failure.
func (i *Item) ErrorMessage() string { return i.auxString(AuxErrorMessage) }

// LastTask returns the name of the last visible task executed.
func (i *Item) LastTask() string { return i.auxString(AuxLastTask) }

// HistoryEntry is one record of the task history.
type HistoryEntry struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Position    string `json:"position"`
	Time        string `json:"time"`
}

// AppendHistory records a visible task execution.
func (i *Item) AppendHistory(entry HistoryEntry) {
	entries, _ := i.aux()[AuxTaskHistory].([]any)
	i.aux()[AuxTaskHistory] = append(entries, map[string]any{
		"name":        entry.Name,
		"description": entry.Description,
		"position":    entry.Position,
		"time":        entry.Time,
	})
}

// TaskHistory returns the recorded visible task executions, oldest first.
func (i *Item) TaskHistory() []HistoryEntry {
	raw, _ := i.Auxiliary[AuxTaskHistory].([]any)
	out := make([]HistoryEntry, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, HistoryEntry{
			Name:        fmt.Sprint(m["name"]),
			Description: stringOf(m["description"]),
			Position:    stringOf(m["position"]),
			Time:        stringOf(m["time"]),
		})
	}
	return out
}

func (i *Item) auxString(key string) string {
	return stringOf(i.Auxiliary[key])
}

func stringOf(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// AsInt converts the numeric shapes produced by Go code and by JSON decoding.
func AsInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), n == math.Trunc(n)
	case float32:
		return int(n), float64(n) == math.Trunc(float64(n))
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}
