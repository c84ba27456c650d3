package stackforge

import (
	"context"
	"fmt"
	"strconv"

	"github.com/heroiclabs/nakama-common/runtime"
)

// Split moves SplitAmount uses of the source stack into a newly granted stack placed in TargetSlot.
// The amount must leave at least one use behind and move at least one.
func (s *NakamaStacksSystem) Split(ctx context.Context, logger runtime.Logger, req *SplitRequest) (*SplitResult, error) {
	switch {
	case req == nil || req.PlayerId == "":
		return nil, missingParameter("PlayerId")
	case req.SourceInstanceId == "":
		return nil, missingParameter("SourceInstanceId")
	}
	if !s.config.ValidSlot(req.TargetSlot) {
		return nil, invalidSlot(req.TargetSlot.Int())
	}

	unlock, err := s.lockPlayer(ctx, logger, req.PlayerId)
	if err != nil {
		return nil, err
	}
	defer unlock()

	source, err := s.query.FetchStack(ctx, req.PlayerId, req.SourceInstanceId)
	if err != nil {
		logger.Warn("Cannot split stack %s of player %s: %v", req.SourceInstanceId, req.PlayerId, err)
		return nil, err
	}

	if req.SplitAmount <= 0 || req.SplitAmount >= source.RemainingUses {
		return nil, runtime.NewError(fmt.Sprintf("invalid split amount %d: stack %s has %d uses", req.SplitAmount, source.InstanceId, source.RemainingUses), INVALID_ARGUMENT_ERROR_CODE)
	}

	rec := &OperationRecord{
		Kind:             OperationSplit,
		PlayerId:         req.PlayerId,
		SourceInstanceId: source.InstanceId,
		ItemType:         source.ItemType,
		Amount:           req.SplitAmount,
		SourceSlot:       source.Slot.Int(),
		TargetSlot:       req.TargetSlot.Int(),
	}
	if err := s.run(ctx, logger, rec); err != nil {
		return nil, err
	}

	result := &SplitResult{
		SourceInstanceId: source.InstanceId,
		NewInstanceId:    rec.NewInstanceId,
		SplitAmount:      req.SplitAmount,
		SourceRemaining:  source.RemainingUses - req.SplitAmount,
		TargetSlot:       req.TargetSlot,
	}
	s.publish(ctx, logger, req.PlayerId, s.event(EventStackSplit, rec, map[string]string{
		"amount":           strconv.FormatInt(req.SplitAmount, 10),
		"source_remaining": strconv.FormatInt(result.SourceRemaining, 10),
		"target_slot":      req.TargetSlot.String(),
	}))
	return result, nil
}
