package stackforge

import (
	"context"
	"fmt"
	"strconv"

	"github.com/heroiclabs/nakama-common/runtime"
)

// Transfer moves uses from the source stack into the target stack. The target keeps its instance ID;
// a source drained to nothing is revoked rather than left at zero.
//
// The reported totals come from the snapshot read before the writes and are not read back.
func (s *NakamaStacksSystem) Transfer(ctx context.Context, logger runtime.Logger, req *TransferRequest) (*TransferResult, error) {
	switch {
	case req == nil || req.PlayerId == "":
		return nil, missingParameter("PlayerId")
	case req.SourceInstanceId == "":
		return nil, missingParameter("SourceInstanceId")
	case req.TargetInstanceId == "":
		return nil, missingParameter("TargetInstanceId")
	case req.SourceInstanceId == req.TargetInstanceId:
		return nil, ErrSameStack
	}

	unlock, err := s.lockPlayer(ctx, logger, req.PlayerId)
	if err != nil {
		return nil, err
	}
	defer unlock()

	inventory, err := s.query.Snapshot(ctx, req.PlayerId)
	if err != nil {
		return nil, err
	}
	source, ok := inventory.Get(req.SourceInstanceId)
	if !ok {
		return nil, stackNotFound("source", req.SourceInstanceId)
	}
	target, ok := inventory.Get(req.TargetInstanceId)
	if !ok {
		return nil, stackNotFound("target", req.TargetInstanceId)
	}

	if !source.Compatible(target) {
		logger.Warn("Rejected transfer between %s (%s) and %s (%s)", source.InstanceId, source.ItemType, target.InstanceId, target.ItemType)
		return nil, ErrItemTypeMismatch
	}

	amount := source.RemainingUses
	if req.Amount > 0 {
		if req.Amount > source.RemainingUses {
			return nil, runtime.NewError(fmt.Sprintf("amount %d exceeds source stack count %d", req.Amount, source.RemainingUses), INVALID_ARGUMENT_ERROR_CODE)
		}
		amount = req.Amount
	}

	rec := &OperationRecord{
		Kind:             OperationTransfer,
		PlayerId:         req.PlayerId,
		SourceInstanceId: source.InstanceId,
		TargetInstanceId: target.InstanceId,
		ItemType:         source.ItemType,
		Amount:           amount,
		RevokeSource:     amount == source.RemainingUses,
		SourceSlot:       source.Slot.Int(),
		TargetSlot:       target.Slot.Int(),
	}
	if err := s.run(ctx, logger, rec); err != nil {
		return nil, err
	}

	result := &TransferResult{
		TransferredAmount: amount,
		SourceRemaining:   source.RemainingUses - amount,
		TargetTotal:       target.RemainingUses + amount,
		SourceRevoked:     rec.RevokeSource,
	}
	logger.Info("Transferred %d uses from %s to %s", amount, source.InstanceId, target.InstanceId)
	s.publish(ctx, logger, req.PlayerId, s.event(EventStackTransferred, rec, map[string]string{
		"amount":           strconv.FormatInt(amount, 10),
		"source_remaining": strconv.FormatInt(result.SourceRemaining, 10),
		"target_total":     strconv.FormatInt(result.TargetTotal, 10),
	}))
	return result, nil
}
