package stackforge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func relocate(system *NakamaStacksSystem, instanceID string, slot Slot) (*RelocateResult, error) {
	return system.Relocate(context.Background(), &mockLogger{}, &RelocateRequest{
		PlayerId:   testPlayer,
		InstanceId: instanceID,
		NewSlot:    slot,
	})
}

func TestRelocate_AcceptedRange(t *testing.T) {
	for _, value := range []int{-1, 0, 49} {
		system, gateway, journal := newTestStacksSystem(t)
		gateway.add(testPlayer, "a", "potion", 10, slotPtr(AssignedSlot(3)))

		result, err := relocate(system, "a", SlotFromInt(value))
		require.NoError(t, err, "slot %d", value)

		assert.Equal(t, "a", result.InstanceId)
		assert.Equal(t, value, result.NewSlot.Int())
		assert.Equal(t, SlotFromInt(value), gateway.slot(testPlayer, "a"))
		assert.Equal(t, []string{callSetCustomData}, gateway.recordedCalls())
		assert.Zero(t, gateway.fetches)
		assert.Empty(t, journal.history)
	}
}

func TestRelocate_RejectedRange(t *testing.T) {
	for _, value := range []int{50, -2, 1000} {
		system, gateway, _ := newTestStacksSystem(t)
		gateway.add(testPlayer, "a", "potion", 10, slotPtr(AssignedSlot(3)))

		_, err := relocate(system, "a", SlotFromInt(value))
		require.Error(t, err, "slot %d", value)
		assert.Equal(t, INVALID_ARGUMENT_ERROR_CODE, errorCode(t, err))
		assert.Contains(t, err.Error(), "invalid slot index")
		assert.Empty(t, gateway.recordedCalls())
		assert.Equal(t, AssignedSlot(3), gateway.slot(testPlayer, "a"))
	}
}

func TestRelocate_ConfiguredMaxSlot(t *testing.T) {
	gateway := newMemoryGateway()
	config := DefaultStacksConfig()
	config.MaxSlot = 9
	system := NewNakamaStacksSystem(config, gateway, nil)
	gateway.add(testPlayer, "a", "potion", 10, slotPtr(AssignedSlot(3)))

	_, err := relocate(system, "a", AssignedSlot(9))
	require.NoError(t, err)
	_, err = relocate(system, "a", AssignedSlot(10))
	assert.Equal(t, INVALID_ARGUMENT_ERROR_CODE, errorCode(t, err))
}

func TestRelocate_MissingStackIsGatewayError(t *testing.T) {
	system, gateway, _ := newTestStacksSystem(t)

	_, err := relocate(system, "missing", AssignedSlot(4))
	assert.Equal(t, INTERNAL_ERROR_CODE, errorCode(t, err))
	assert.Equal(t, 500, HTTPStatus(err))
	assert.Contains(t, err.Error(), "SetCustomData failed")
	assert.Equal(t, []string{callSetCustomData}, gateway.recordedCalls())
}
