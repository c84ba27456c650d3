package stackforge

import (
	"context"

	"github.com/heroiclabs/nakama-common/runtime"
)

// Relocate writes a new slot onto one stack. It does not read the inventory, so a missing stack
// surfaces as a gateway failure, and it does not check whether another stack holds the slot.
func (s *NakamaStacksSystem) Relocate(ctx context.Context, logger runtime.Logger, req *RelocateRequest) (*RelocateResult, error) {
	switch {
	case req == nil || req.PlayerId == "":
		return nil, missingParameter("PlayerId")
	case req.InstanceId == "":
		return nil, missingParameter("InstanceId")
	}
	if !s.config.ValidSlot(req.NewSlot) {
		return nil, invalidSlot(req.NewSlot.Int())
	}

	unlock, err := s.lockPlayer(ctx, logger, req.PlayerId)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec := &OperationRecord{
		Kind:             OperationRelocate,
		PlayerId:         req.PlayerId,
		SourceInstanceId: req.InstanceId,
		TargetSlot:       req.NewSlot.Int(),
	}
	if err := s.run(ctx, logger, rec); err != nil {
		return nil, err
	}

	s.publish(ctx, logger, req.PlayerId, s.event(EventStackRelocated, rec, map[string]string{
		"new_slot": req.NewSlot.String(),
	}))
	return &RelocateResult{
		InstanceId: req.InstanceId,
		NewSlot:    req.NewSlot,
	}, nil
}
