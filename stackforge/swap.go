package stackforge

import (
	"context"
	"errors"

	"github.com/heroiclabs/nakama-common/runtime"
)

// Swap exchanges the slots of two stacks, writing the first stack before the second.
// Other stacks already sitting in either slot are left alone. Naming a stack the player does not
// hold is an invalid argument, and nothing is written.
func (s *NakamaStacksSystem) Swap(ctx context.Context, logger runtime.Logger, req *SwapRequest) (*SwapResult, error) {
	switch {
	case req == nil || req.PlayerId == "":
		return nil, missingParameter("PlayerId")
	case req.InstanceId1 == "":
		return nil, missingParameter("InstanceId1")
	case req.InstanceId2 == "":
		return nil, missingParameter("InstanceId2")
	}

	unlock, err := s.lockPlayer(ctx, logger, req.PlayerId)
	if err != nil {
		return nil, err
	}
	defer unlock()

	first, second, err := s.query.FetchPair(ctx, req.PlayerId, req.InstanceId1, req.InstanceId2)
	if err != nil {
		var rtErr *runtime.Error
		if errors.As(err, &rtErr) && rtErr.Code == NOT_FOUND_ERROR_CODE {
			return nil, runtime.NewError(rtErr.Message, INVALID_ARGUMENT_ERROR_CODE)
		}
		return nil, err
	}

	rec := &OperationRecord{
		Kind:             OperationSwap,
		PlayerId:         req.PlayerId,
		SourceInstanceId: first.InstanceId,
		TargetInstanceId: second.InstanceId,
		SourceSlot:       first.Slot.Int(),
		TargetSlot:       second.Slot.Int(),
	}
	if err := s.run(ctx, logger, rec); err != nil {
		return nil, err
	}

	s.publish(ctx, logger, req.PlayerId, s.event(EventStacksSwapped, rec, map[string]string{
		"slot1": second.Slot.String(),
		"slot2": first.Slot.String(),
	}))
	return &SwapResult{
		Slot1: second.Slot,
		Slot2: first.Slot,
	}, nil
}
