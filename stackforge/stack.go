package stackforge

import (
	"encoding/json"
	"strconv"
)

const (
	// slotIndexKey is the custom data entry the remote store keeps slot assignments under.
	slotIndexKey        = "SlotIndex"
	unassignedSlotIndex = -1
)

// Slot is a stack's position in the inventory grid, or no position at all.
// The zero value is an unassigned slot.
type Slot struct {
	index    int
	assigned bool
}

// AssignedSlot returns a slot at the given index. Range checks are the caller's job.
func AssignedSlot(index int) Slot {
	return Slot{index: index, assigned: true}
}

// UnassignedSlot returns the slot of a stack that is not placed anywhere.
func UnassignedSlot() Slot {
	return Slot{}
}

// SlotFromInt converts the wire form, where -1 means unassigned.
func SlotFromInt(value int) Slot {
	if value == unassignedSlotIndex {
		return UnassignedSlot()
	}
	return AssignedSlot(value)
}

// Index returns the slot index and whether the slot is assigned.
func (s Slot) Index() (int, bool) {
	return s.index, s.assigned
}

func (s Slot) IsAssigned() bool {
	return s.assigned
}

// Int returns the wire form of the slot.
func (s Slot) Int() int {
	if !s.IsAssigned() {
		return unassignedSlotIndex
	}
	return s.index
}

func (s Slot) String() string {
	return strconv.Itoa(s.Int())
}

func (s Slot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Int())
}

func (s *Slot) UnmarshalJSON(data []byte) error {
	var value int
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	*s = SlotFromInt(value)
	return nil
}

// slotFromCustomData reads the slot recorded on a stack, falling back when none was ever written.
func slotFromCustomData(data map[string]string, fallback Slot) Slot {
	raw, ok := data[slotIndexKey]
	if !ok || raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return SlotFromInt(value)
}

// slotCustomData is the custom data patch that records the given slot.
func slotCustomData(s Slot) map[string]string {
	return map[string]string{slotIndexKey: s.String()}
}

// Stack is one entry in a player's inventory.
type Stack struct {
	InstanceId    string            `json:"instance_id"`
	ItemType      string            `json:"item_type"`
	RemainingUses int64             `json:"remaining_uses"`
	Slot          Slot              `json:"slot"`
	CustomData    map[string]string `json:"custom_data,omitempty"`
	UpdateTimeSec int64             `json:"update_time_sec,omitempty"`
}

// Compatible reports whether uses can move between the two stacks.
func (s *Stack) Compatible(other *Stack) bool {
	return s.ItemType == other.ItemType
}

// Inventory is a point-in-time snapshot of one player's stacks keyed by instance ID.
// It may be stale as soon as it is read.
type Inventory struct {
	PlayerId string            `json:"player_id"`
	Stacks   map[string]*Stack `json:"stacks"`
}

// Get looks a stack up by instance ID.
func (i *Inventory) Get(instanceID string) (*Stack, bool) {
	stack, ok := i.Stacks[instanceID]
	return stack, ok
}
