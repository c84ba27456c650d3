package stackforge

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/heroiclabs/nakama-common/runtime"
)

// The StacksSystem mutates stacks in a player's inventory: splitting, merging, swapping and moving them.
type StacksSystem interface {
	// Split moves part of a stack into a newly granted stack in the target slot.
	Split(ctx context.Context, logger runtime.Logger, req *SplitRequest) (*SplitResult, error)

	// Transfer moves uses from one stack into another stack of the same item type.
	Transfer(ctx context.Context, logger runtime.Logger, req *TransferRequest) (*TransferResult, error)

	// Swap exchanges the slots of two stacks.
	Swap(ctx context.Context, logger runtime.Logger, req *SwapRequest) (*SwapResult, error)

	// Relocate places a single stack in a new slot.
	Relocate(ctx context.Context, logger runtime.Logger, req *RelocateRequest) (*RelocateResult, error)

	// ListStacks returns the player's current inventory snapshot.
	ListStacks(ctx context.Context, logger runtime.Logger, playerID string) (*Inventory, error)
}

type SplitRequest struct {
	PlayerId         string
	SourceInstanceId string
	SplitAmount      int64
	TargetSlot       Slot
}

type SplitResult struct {
	SourceInstanceId string `json:"SourceInstanceId"`
	NewInstanceId    string `json:"NewInstanceId"`
	SplitAmount      int64  `json:"SplitAmount"`
	SourceRemaining  int64  `json:"SourceRemaining"`
	TargetSlot       Slot   `json:"TargetSlot"`
}

type TransferRequest struct {
	PlayerId         string
	SourceInstanceId string
	TargetInstanceId string
	// Amount of zero or less moves the whole source stack.
	Amount int64
}

type TransferResult struct {
	TransferredAmount int64 `json:"TransferredAmount"`
	SourceRemaining   int64 `json:"SourceRemaining"`
	TargetTotal       int64 `json:"TargetTotal"`
	SourceRevoked     bool  `json:"SourceRevoked"`
}

type SwapRequest struct {
	PlayerId    string
	InstanceId1 string
	InstanceId2 string
}

type SwapResult struct {
	Slot1 Slot `json:"Slot1"`
	Slot2 Slot `json:"Slot2"`
}

type RelocateRequest struct {
	PlayerId   string
	InstanceId string
	NewSlot    Slot
}

type RelocateResult struct {
	InstanceId string `json:"InstanceId"`
	NewSlot    Slot   `json:"NewSlot"`
}

// NakamaStacksSystem implements the StacksSystem on top of an InventoryGateway.
//
// Every operation reads a snapshot, validates it, then issues its gateway calls strictly in order.
// Multi-call operations are journaled after each committed call so a Reconciler can finish them.
type NakamaStacksSystem struct {
	config  *StacksConfig
	gateway InventoryGateway
	query   *InventoryQuery
	journal OperationJournal
	locker  *PlayerLocker

	publishersMu sync.RWMutex
	publishers   []Publisher

	now func() time.Time
}

// NewNakamaStacksSystem creates a stacks system. A nil journal disables journaling.
func NewNakamaStacksSystem(config *StacksConfig, gateway InventoryGateway, journal OperationJournal) *NakamaStacksSystem {
	if config == nil {
		config = DefaultStacksConfig()
	}
	if journal == nil || !config.journalEnabled() {
		journal = noopJournal{}
	}

	s := &NakamaStacksSystem{
		config:  config,
		gateway: gateway,
		query:   NewInventoryQuery(gateway, config.Fallback()),
		journal: journal,
		now:     time.Now,
	}
	if config.serializePerPlayer() {
		s.locker = NewPlayerLocker()
	}
	return s
}

// GetConfig returns the configuration of the stacks system.
func (s *NakamaStacksSystem) GetConfig() any {
	return s.config
}

// AddPublisher registers a publisher for mutation events.
func (s *NakamaStacksSystem) AddPublisher(publisher Publisher) {
	s.publishersMu.Lock()
	s.publishers = append(s.publishers, publisher)
	s.publishersMu.Unlock()
}

func (s *NakamaStacksSystem) ListStacks(ctx context.Context, logger runtime.Logger, playerID string) (*Inventory, error) {
	if playerID == "" {
		return nil, missingParameter("PlayerId")
	}
	inventory, err := s.query.Snapshot(ctx, playerID)
	if err != nil {
		logger.Error("Failed to read inventory for player %s: %v", playerID, err)
		return nil, err
	}
	return inventory, nil
}

func (s *NakamaStacksSystem) lockPlayer(ctx context.Context, logger runtime.Logger, playerID string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, playerID)
	if err != nil {
		logger.Warn("Gave up waiting for inventory lock of player %s: %v", playerID, err)
		return nil, runtime.NewError("inventory busy: "+err.Error(), INTERNAL_ERROR_CODE)
	}
	return unlock, nil
}

// run takes a validated record through its steps. Relocations are a single call and skip the journal.
func (s *NakamaStacksSystem) run(ctx context.Context, logger runtime.Logger, rec *OperationRecord) error {
	steps, err := planSteps(rec)
	if err != nil {
		logger.Error("Failed to plan operation: %v", err)
		return ErrInternal
	}

	now := s.now().Unix()
	rec.Id = uuid.New().String()
	rec.State = OperationValidated
	rec.TotalSteps = len(steps)
	rec.CreateTimeSec = now
	rec.UpdateTimeSec = now

	journaled := len(steps) > 1
	if journaled {
		if err := s.journal.Record(ctx, rec); err != nil {
			logger.WithFields(rec.logFields()).Error("Failed to journal operation before execution: %v", err)
			return ErrJournalUnavailable
		}
	}
	logger.WithFields(rec.logFields()).Debug("Operation %s validated", rec.Id)

	return s.execute(ctx, logger, rec, steps, journaled)
}

// execute issues the steps after the last committed one.
func (s *NakamaStacksSystem) execute(ctx context.Context, logger runtime.Logger, rec *OperationRecord, steps []operationStep, journaled bool) error {
	for i := rec.CommittedSteps; i < len(steps); i++ {
		step := steps[i]
		if err := step.run(ctx, s.gateway, rec); err != nil {
			rec.State = OperationInterrupted
			rec.LastError = err.Error()
			rec.UpdateTimeSec = s.now().Unix()
			if journaled {
				s.record(ctx, logger, rec)
			}
			logger.WithFields(rec.logFields()).Error("Operation %s interrupted at step %d/%d (%s): %v", rec.Id, i+1, len(steps), step.call, err)
			if rec.CommittedSteps > 0 {
				s.publish(ctx, logger, rec.PlayerId, s.event(EventOperationInterrupted, rec, nil))
			}
			return gatewayError(step.call, err)
		}

		rec.CommittedSteps = i + 1
		rec.State = OperationCommitted
		rec.UpdateTimeSec = s.now().Unix()
		if journaled && rec.CommittedSteps < len(steps) {
			s.record(ctx, logger, rec)
		}
		logger.WithFields(rec.logFields()).Debug("Operation %s committed %s", rec.Id, step.call)
	}

	rec.State = OperationComplete
	rec.LastError = ""
	rec.UpdateTimeSec = s.now().Unix()
	if journaled {
		if err := s.journal.Complete(ctx, rec); err != nil {
			logger.WithFields(rec.logFields()).Warn("Failed to clear completed operation from journal: %v", err)
			// The last step was never journaled; a finished record is dropped, not replayed.
			s.record(ctx, logger, rec)
		}
	}
	logger.WithFields(rec.logFields()).Info("Operation %s complete", rec.Id)
	return nil
}

// record journals progress. The gateway calls already happened, so a journal failure is only logged.
func (s *NakamaStacksSystem) record(ctx context.Context, logger runtime.Logger, rec *OperationRecord) {
	if err := s.journal.Record(ctx, rec); err != nil {
		logger.WithFields(rec.logFields()).Warn("Failed to journal operation progress: %v", err)
	}
}

// resume finishes an interrupted operation from its last committed step. The record is read again
// under the player lock and skipped when it is gone or has changed since it was listed. After
// maxAttempts failed resumes the operation is set aside as failed.
func (s *NakamaStacksSystem) resume(ctx context.Context, logger runtime.Logger, listed *OperationRecord, maxAttempts int) (bool, error) {
	unlock, err := s.lockPlayer(ctx, logger, listed.PlayerId)
	if err != nil {
		return false, err
	}
	defer unlock()

	rec, err := s.journal.Get(ctx, listed.PlayerId, listed.Id)
	if err != nil {
		return false, err
	}
	if rec == nil || rec.State != listed.State || rec.CommittedSteps != listed.CommittedSteps || rec.UpdateTimeSec != listed.UpdateTimeSec {
		logger.Info("Operation %s changed since it was listed, skipping", listed.Id)
		return false, nil
	}
	if rec.finished() {
		return false, s.journal.Complete(ctx, rec)
	}

	steps, err := planSteps(rec)
	if err != nil {
		return false, err
	}
	rec.Attempts++
	logger.WithFields(rec.logFields()).Info("Resuming operation %s after step %d/%d (attempt %d)", rec.Id, rec.CommittedSteps, len(steps), rec.Attempts)
	if err := s.execute(ctx, logger, rec, steps, true); err != nil {
		if maxAttempts > 0 && rec.Attempts >= maxAttempts {
			rec.State = OperationFailed
			if ferr := s.journal.Fail(ctx, rec); ferr != nil {
				logger.WithFields(rec.logFields()).Warn("Failed to set aside operation %s: %v", rec.Id, ferr)
			}
			logger.WithFields(rec.logFields()).Error("Giving up on operation %s after %d attempts", rec.Id, rec.Attempts)
			s.publish(ctx, logger, rec.PlayerId, s.event(EventOperationFailed, rec, nil))
		}
		return false, err
	}
	s.publish(ctx, logger, rec.PlayerId, s.event(EventOperationResumed, rec, nil))
	return true, nil
}

func (s *NakamaStacksSystem) event(name string, rec *OperationRecord, metadata map[string]string) *PublisherEvent {
	if metadata == nil {
		metadata = make(map[string]string)
	}
	metadata["operation"] = string(rec.Kind)
	metadata["state"] = string(rec.State)
	metadata["committed_steps"] = strconv.Itoa(rec.CommittedSteps)
	if rec.SourceInstanceId != "" {
		metadata["source_instance_id"] = rec.SourceInstanceId
	}
	if rec.TargetInstanceId != "" {
		metadata["target_instance_id"] = rec.TargetInstanceId
	}
	if rec.NewInstanceId != "" {
		metadata["new_instance_id"] = rec.NewInstanceId
	}
	return &PublisherEvent{
		Name:      name,
		Id:        rec.Id,
		Timestamp: s.now().Unix(),
		Metadata:  metadata,
	}
}

func (s *NakamaStacksSystem) publish(ctx context.Context, logger runtime.Logger, userID string, events ...*PublisherEvent) {
	s.publishersMu.RLock()
	publishers := s.publishers
	s.publishersMu.RUnlock()

	for _, publisher := range publishers {
		publisher.Send(ctx, logger, userID, events)
	}
}
