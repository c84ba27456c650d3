package stackforge

import (
	"context"
	"fmt"
)

type OperationKind string

const (
	OperationSplit    OperationKind = "split"
	OperationTransfer OperationKind = "transfer"
	OperationSwap     OperationKind = "swap"
	OperationRelocate OperationKind = "relocate"
)

// OperationState tracks how far a multi-call operation got.
//
//	validated -> committed (step k of n) -> complete
//	                  \-> interrupted (a step failed; steps 1..k stay applied) -> failed (out of resumes)
type OperationState string

const (
	OperationValidated   OperationState = "validated"
	OperationCommitted   OperationState = "committed"
	OperationComplete    OperationState = "complete"
	OperationInterrupted OperationState = "interrupted"
	OperationFailed      OperationState = "failed"
)

// OperationRecord holds everything needed to finish an operation from any committed step.
type OperationRecord struct {
	Id             string         `json:"id"`
	Kind           OperationKind  `json:"kind"`
	PlayerId       string         `json:"player_id"`
	State          OperationState `json:"state"`
	CommittedSteps int            `json:"committed_steps"`
	TotalSteps     int            `json:"total_steps"`

	SourceInstanceId string `json:"source_instance_id,omitempty"`
	TargetInstanceId string `json:"target_instance_id,omitempty"`
	ItemType         string `json:"item_type,omitempty"`
	Amount           int64  `json:"amount,omitempty"`
	RevokeSource     bool   `json:"revoke_source,omitempty"`
	// SourceSlot and TargetSlot use the wire form, -1 for unassigned.
	SourceSlot int `json:"source_slot"`
	TargetSlot int `json:"target_slot"`
	// NewInstanceId is filled in once a split's grant returns.
	NewInstanceId string `json:"new_instance_id,omitempty"`

	LastError string `json:"last_error,omitempty"`
	// Attempts counts resumes by the reconciler.
	Attempts      int   `json:"attempts,omitempty"`
	CreateTimeSec int64 `json:"create_time_sec"`
	UpdateTimeSec int64 `json:"update_time_sec"`
}

// finished reports whether every step already committed, even if the journal was never cleared.
func (r *OperationRecord) finished() bool {
	return r.State == OperationComplete || (r.TotalSteps > 0 && r.CommittedSteps >= r.TotalSteps)
}

// logFields are attached to every log line about the operation.
func (r *OperationRecord) logFields() map[string]interface{} {
	return map[string]interface{}{
		"operation_id":    r.Id,
		"operation":       string(r.Kind),
		"player_id":       r.PlayerId,
		"state":           string(r.State),
		"committed_steps": r.CommittedSteps,
		"total_steps":     r.TotalSteps,
	}
}

type operationStep struct {
	call string
	run  func(ctx context.Context, gateway InventoryGateway, rec *OperationRecord) error
}

// planSteps lists the ordered gateway calls for the record. Later steps read values earlier
// steps store on the record, so they must run in sequence.
func planSteps(rec *OperationRecord) ([]operationStep, error) {
	switch rec.Kind {
	case OperationSplit:
		return []operationStep{
			{callAdjustUses, func(ctx context.Context, gw InventoryGateway, rec *OperationRecord) error {
				return gw.AdjustUses(ctx, rec.PlayerId, rec.SourceInstanceId, -rec.Amount)
			}},
			{callGrantInstance, func(ctx context.Context, gw InventoryGateway, rec *OperationRecord) error {
				instanceID, err := gw.GrantInstance(ctx, rec.PlayerId, rec.ItemType)
				if err != nil {
					return err
				}
				rec.NewInstanceId = instanceID
				return nil
			}},
			// A granted instance starts with one use.
			{callAdjustUses, func(ctx context.Context, gw InventoryGateway, rec *OperationRecord) error {
				return gw.AdjustUses(ctx, rec.PlayerId, rec.NewInstanceId, rec.Amount-1)
			}},
			{callSetCustomData, func(ctx context.Context, gw InventoryGateway, rec *OperationRecord) error {
				return gw.SetCustomData(ctx, rec.PlayerId, rec.NewInstanceId, slotCustomData(SlotFromInt(rec.TargetSlot)))
			}},
		}, nil

	case OperationTransfer:
		drain := operationStep{callAdjustUses, func(ctx context.Context, gw InventoryGateway, rec *OperationRecord) error {
			return gw.AdjustUses(ctx, rec.PlayerId, rec.SourceInstanceId, -rec.Amount)
		}}
		if rec.RevokeSource {
			drain = operationStep{callRevokeInstance, func(ctx context.Context, gw InventoryGateway, rec *OperationRecord) error {
				return gw.RevokeInstance(ctx, rec.PlayerId, rec.SourceInstanceId)
			}}
		}
		return []operationStep{
			drain,
			{callAdjustUses, func(ctx context.Context, gw InventoryGateway, rec *OperationRecord) error {
				return gw.AdjustUses(ctx, rec.PlayerId, rec.TargetInstanceId, rec.Amount)
			}},
		}, nil

	case OperationSwap:
		return []operationStep{
			{callSetCustomData, func(ctx context.Context, gw InventoryGateway, rec *OperationRecord) error {
				return gw.SetCustomData(ctx, rec.PlayerId, rec.SourceInstanceId, slotCustomData(SlotFromInt(rec.TargetSlot)))
			}},
			{callSetCustomData, func(ctx context.Context, gw InventoryGateway, rec *OperationRecord) error {
				return gw.SetCustomData(ctx, rec.PlayerId, rec.TargetInstanceId, slotCustomData(SlotFromInt(rec.SourceSlot)))
			}},
		}, nil

	case OperationRelocate:
		return []operationStep{
			{callSetCustomData, func(ctx context.Context, gw InventoryGateway, rec *OperationRecord) error {
				return gw.SetCustomData(ctx, rec.PlayerId, rec.SourceInstanceId, slotCustomData(SlotFromInt(rec.TargetSlot)))
			}},
		}, nil
	}
	return nil, fmt.Errorf("unknown operation kind %q", rec.Kind)
}
