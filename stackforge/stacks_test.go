package stackforge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger is a simple logger that implements runtime.Logger for testing.
type mockLogger struct{}

func (l *mockLogger) Debug(format string, v ...interface{})                   {}
func (l *mockLogger) Info(format string, v ...interface{})                    {}
func (l *mockLogger) Warn(format string, v ...interface{})                    {}
func (l *mockLogger) Error(format string, v ...interface{})                   {}
func (l *mockLogger) WithField(key string, v interface{}) runtime.Logger      { return l }
func (l *mockLogger) WithFields(fields map[string]interface{}) runtime.Logger { return l }
func (l *mockLogger) Fields() map[string]interface{}                          { return nil }

const testPlayer = "player1"

// memoryGateway is an in-memory InventoryGateway that records mutating calls and can fail
// the n-th one.
type memoryGateway struct {
	mu        sync.Mutex
	stacks    map[string]map[string]*storedStack
	calls     []string
	fetches   int
	mutations int
	failAt    map[int]error
	failFetch error
	nextID    int
}

func newMemoryGateway() *memoryGateway {
	return &memoryGateway{
		stacks: make(map[string]map[string]*storedStack),
		failAt: make(map[int]error),
	}
}

// add places a stack in the inventory. A nil slot leaves SlotIndex unset.
func (g *memoryGateway) add(playerID, instanceID, itemType string, uses int64, slot *Slot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	record := &storedStack{InstanceId: instanceID, ItemId: itemType, CustomData: map[string]string{}}
	record.setUses(uses)
	if slot != nil {
		record.CustomData = slotCustomData(*slot)
	}
	if g.stacks[playerID] == nil {
		g.stacks[playerID] = make(map[string]*storedStack)
	}
	g.stacks[playerID][instanceID] = record
}

func (g *memoryGateway) uses(playerID, instanceID string) (int64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	record, ok := g.stacks[playerID][instanceID]
	if !ok {
		return 0, false
	}
	return record.uses(), true
}

func (g *memoryGateway) slot(playerID, instanceID string) Slot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slotFromCustomData(g.stacks[playerID][instanceID].CustomData, AssignedSlot(defaultSlotIndex))
}

func (g *memoryGateway) total(playerID, itemType string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	var total int64
	for _, record := range g.stacks[playerID] {
		if record.ItemId == itemType {
			total += record.uses()
		}
	}
	return total
}

func (g *memoryGateway) count(playerID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.stacks[playerID])
}

func (g *memoryGateway) recordedCalls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

// mutation must be called with mu held.
func (g *memoryGateway) mutation(call string) error {
	g.mutations++
	g.calls = append(g.calls, call)
	if err, ok := g.failAt[g.mutations]; ok {
		g.calls[len(g.calls)-1] = call + "!"
		return err
	}
	return nil
}

func (g *memoryGateway) FetchInventory(ctx context.Context, playerID string) ([]*Stack, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches++
	if g.failFetch != nil {
		return nil, g.failFetch
	}
	ids := make([]string, 0, len(g.stacks[playerID]))
	for id := range g.stacks[playerID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	stacks := make([]*Stack, 0, len(ids))
	for _, id := range ids {
		stacks = append(stacks, g.stacks[playerID][id].toStack())
	}
	return stacks, nil
}

func (g *memoryGateway) AdjustUses(ctx context.Context, playerID, instanceID string, delta int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.mutation(callAdjustUses); err != nil {
		return err
	}
	record, ok := g.stacks[playerID][instanceID]
	if !ok {
		return fmt.Errorf("%w: %s", errInstanceNotFound, instanceID)
	}
	uses := record.uses() + delta
	if uses < 0 {
		return errUsesBelowZero
	}
	if uses == 0 {
		delete(g.stacks[playerID], instanceID)
		return nil
	}
	record.setUses(uses)
	return nil
}

func (g *memoryGateway) GrantInstance(ctx context.Context, playerID, itemType string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.mutation(callGrantInstance); err != nil {
		return "", err
	}
	g.nextID++
	instanceID := fmt.Sprintf("granted-%d", g.nextID)
	record := &storedStack{InstanceId: instanceID, ItemId: itemType}
	record.setUses(1)
	if g.stacks[playerID] == nil {
		g.stacks[playerID] = make(map[string]*storedStack)
	}
	g.stacks[playerID][instanceID] = record
	return instanceID, nil
}

func (g *memoryGateway) RevokeInstance(ctx context.Context, playerID, instanceID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.mutation(callRevokeInstance); err != nil {
		return err
	}
	if _, ok := g.stacks[playerID][instanceID]; !ok {
		return fmt.Errorf("%w: %s", errInstanceNotFound, instanceID)
	}
	delete(g.stacks[playerID], instanceID)
	return nil
}

func (g *memoryGateway) SetCustomData(ctx context.Context, playerID, instanceID string, data map[string]string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.mutation(callSetCustomData); err != nil {
		return err
	}
	record, ok := g.stacks[playerID][instanceID]
	if !ok {
		return fmt.Errorf("%w: %s", errInstanceNotFound, instanceID)
	}
	record.CustomData = mergeCustomData(record.CustomData, data)
	return nil
}

// memoryJournal keeps copies of operation records.
type memoryJournal struct {
	mu           sync.Mutex
	records      map[string]OperationRecord
	failed       map[string]OperationRecord
	history      []OperationState
	failRecord   bool
	failComplete bool
}

func newMemoryJournal() *memoryJournal {
	return &memoryJournal{
		records: make(map[string]OperationRecord),
		failed:  make(map[string]OperationRecord),
	}
}

func (j *memoryJournal) Record(ctx context.Context, rec *OperationRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.failRecord {
		return errors.New("journal write failed")
	}
	j.records[rec.Id] = *rec
	j.history = append(j.history, rec.State)
	return nil
}

func (j *memoryJournal) Complete(ctx context.Context, rec *OperationRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.failComplete {
		return errors.New("journal delete failed")
	}
	delete(j.records, rec.Id)
	j.history = append(j.history, OperationComplete)
	return nil
}

func (j *memoryJournal) Fail(ctx context.Context, rec *OperationRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.failed[rec.Id] = *rec
	delete(j.records, rec.Id)
	j.history = append(j.history, rec.State)
	return nil
}

func (j *memoryJournal) Get(ctx context.Context, playerID, id string) (*OperationRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	rec, ok := j.records[id]
	if !ok || rec.PlayerId != playerID {
		return nil, nil
	}
	return &rec, nil
}

// set replaces a stored record, as another process would.
func (j *memoryJournal) set(rec OperationRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records[rec.Id] = rec
}

func (j *memoryJournal) Pending(ctx context.Context, limit int) ([]*OperationRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	records := make([]*OperationRecord, 0, len(j.records))
	for _, rec := range j.records {
		rec := rec
		records = append(records, &rec)
		if len(records) == limit {
			break
		}
	}
	return records, nil
}

func (j *memoryJournal) only(t *testing.T) OperationRecord {
	t.Helper()
	j.mu.Lock()
	defer j.mu.Unlock()
	require.Len(t, j.records, 1)
	for _, rec := range j.records {
		return rec
	}
	return OperationRecord{}
}

func (j *memoryJournal) size() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.records)
}

// recordingPublisher collects every event sent to it.
type recordingPublisher struct {
	mu     sync.Mutex
	events []*PublisherEvent
}

func (p *recordingPublisher) Send(ctx context.Context, logger runtime.Logger, userID string, events []*PublisherEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.events))
	for _, event := range p.events {
		names = append(names, event.Name)
	}
	return names
}

func slotPtr(s Slot) *Slot {
	return &s
}

func newTestStacksSystem(t *testing.T) (*NakamaStacksSystem, *memoryGateway, *memoryJournal) {
	t.Helper()
	gateway := newMemoryGateway()
	journal := newMemoryJournal()
	system := NewNakamaStacksSystem(DefaultStacksConfig(), gateway, journal)
	return system, gateway, journal
}

func errorCode(t *testing.T, err error) int {
	t.Helper()
	var rtErr *runtime.Error
	require.True(t, errors.As(err, &rtErr), "expected *runtime.Error, got %T: %v", err, err)
	return rtErr.Code
}

func TestListStacks_ResolvesSlots(t *testing.T) {
	system, gateway, _ := newTestStacksSystem(t)
	gateway.add(testPlayer, "a", "potion", 5, slotPtr(AssignedSlot(3)))
	gateway.add(testPlayer, "b", "potion", 2, slotPtr(UnassignedSlot()))
	gateway.add(testPlayer, "c", "arrow", 1, nil)

	inventory, err := system.ListStacks(context.Background(), &mockLogger{}, testPlayer)
	require.NoError(t, err)
	require.Len(t, inventory.Stacks, 3)

	assert.Equal(t, AssignedSlot(3), inventory.Stacks["a"].Slot)
	assert.Equal(t, UnassignedSlot(), inventory.Stacks["b"].Slot)
	assert.Equal(t, AssignedSlot(defaultSlotIndex), inventory.Stacks["c"].Slot)
	assert.Equal(t, int64(7), totalUses(inventory, "potion"))
}

func TestListStacks_GatewayFailure(t *testing.T) {
	system, gateway, _ := newTestStacksSystem(t)
	gateway.failFetch = errors.New("connection reset")

	_, err := system.ListStacks(context.Background(), &mockLogger{}, testPlayer)
	require.Error(t, err)
	assert.Equal(t, INTERNAL_ERROR_CODE, errorCode(t, err))
	assert.Contains(t, err.Error(), "connection reset")
}

func TestListStacks_RequiresPlayer(t *testing.T) {
	system, _, _ := newTestStacksSystem(t)

	_, err := system.ListStacks(context.Background(), &mockLogger{}, "")
	assert.Equal(t, INVALID_ARGUMENT_ERROR_CODE, errorCode(t, err))
}

func TestRun_RefusesWhenJournalUnavailable(t *testing.T) {
	system, gateway, journal := newTestStacksSystem(t)
	gateway.add(testPlayer, "a", "potion", 10, slotPtr(AssignedSlot(1)))
	journal.failRecord = true

	_, err := system.Split(context.Background(), &mockLogger{}, &SplitRequest{
		PlayerId:         testPlayer,
		SourceInstanceId: "a",
		SplitAmount:      3,
		TargetSlot:       AssignedSlot(2),
	})
	assert.Equal(t, ErrJournalUnavailable, err)
	assert.Empty(t, gateway.recordedCalls())
}

func TestRun_JournalsEachTransition(t *testing.T) {
	system, gateway, journal := newTestStacksSystem(t)
	gateway.add(testPlayer, "a", "potion", 10, slotPtr(AssignedSlot(1)))
	gateway.add(testPlayer, "b", "potion", 5, slotPtr(AssignedSlot(2)))

	_, err := system.Transfer(context.Background(), &mockLogger{}, &TransferRequest{
		PlayerId:         testPlayer,
		SourceInstanceId: "a",
		TargetInstanceId: "b",
		Amount:           4,
	})
	require.NoError(t, err)

	assert.Equal(t, []OperationState{OperationValidated, OperationCommitted, OperationComplete}, journal.history)
	assert.Zero(t, journal.size())
}

func TestRun_DisabledJournal(t *testing.T) {
	gateway := newMemoryGateway()
	journal := newMemoryJournal()
	config := DefaultStacksConfig()
	disabled := false
	config.Journal.Enabled = &disabled
	system := NewNakamaStacksSystem(config, gateway, journal)

	gateway.add(testPlayer, "a", "potion", 10, slotPtr(AssignedSlot(1)))
	gateway.add(testPlayer, "b", "potion", 5, slotPtr(AssignedSlot(2)))

	_, err := system.Swap(context.Background(), &mockLogger{}, &SwapRequest{PlayerId: testPlayer, InstanceId1: "a", InstanceId2: "b"})
	require.NoError(t, err)
	assert.Empty(t, journal.history)
}

func TestPublish_EventsPerOperation(t *testing.T) {
	system, gateway, _ := newTestStacksSystem(t)
	publisher := &recordingPublisher{}
	system.AddPublisher(publisher)
	system.now = func() time.Time { return time.Unix(1700000000, 0) }

	gateway.add(testPlayer, "a", "potion", 10, slotPtr(AssignedSlot(1)))
	gateway.add(testPlayer, "b", "potion", 5, slotPtr(AssignedSlot(2)))
	ctx := context.Background()
	logger := &mockLogger{}

	_, err := system.Split(ctx, logger, &SplitRequest{PlayerId: testPlayer, SourceInstanceId: "a", SplitAmount: 2, TargetSlot: AssignedSlot(5)})
	require.NoError(t, err)
	_, err = system.Transfer(ctx, logger, &TransferRequest{PlayerId: testPlayer, SourceInstanceId: "a", TargetInstanceId: "b", Amount: 1})
	require.NoError(t, err)
	_, err = system.Swap(ctx, logger, &SwapRequest{PlayerId: testPlayer, InstanceId1: "a", InstanceId2: "b"})
	require.NoError(t, err)
	_, err = system.Relocate(ctx, logger, &RelocateRequest{PlayerId: testPlayer, InstanceId: "a", NewSlot: AssignedSlot(9)})
	require.NoError(t, err)

	assert.Equal(t, []string{EventStackSplit, EventStackTransferred, EventStacksSwapped, EventStackRelocated}, publisher.names())
	first := publisher.events[0]
	assert.Equal(t, int64(1700000000), first.Timestamp)
	assert.Equal(t, "split", first.Metadata["operation"])
	assert.Equal(t, "2", first.Metadata["amount"])
	assert.Equal(t, "granted-1", first.Metadata["new_instance_id"])
}
