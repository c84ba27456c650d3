package stackforge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestNatsServer(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   server.RANDOM_PORT,
		NoSigs: true,
	})
	require.NoError(t, err)

	ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("nats server not ready for connections")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns
}

func TestNatsPublisher_PublishesEvents(t *testing.T) {
	ns := startTestNatsServer(t)

	conn, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer conn.Close()
	sub, err := conn.SubscribeSync("inventory.>")
	require.NoError(t, err)
	require.NoError(t, conn.Flush())

	publisher, err := NewNatsPublisher(ns.ClientURL(), "")
	require.NoError(t, err)
	defer publisher.Close()

	system, gateway, _ := newTestStacksSystem(t)
	system.AddPublisher(publisher)
	gateway.add(testPlayer, "a", "potion", 4, slotPtr(AssignedSlot(1)))

	_, err = system.Relocate(context.Background(), &mockLogger{}, &RelocateRequest{PlayerId: testPlayer, InstanceId: "a", NewSlot: AssignedSlot(6)})
	require.NoError(t, err)

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "inventory.player1.stack_relocated", msg.Subject)

	var event PublisherEvent
	require.NoError(t, json.Unmarshal(msg.Data, &event))
	assert.Equal(t, EventStackRelocated, event.Name)
	assert.Equal(t, "6", event.Metadata["new_slot"])
	assert.Equal(t, "relocate", event.Metadata["operation"])
}

func TestNatsPublisher_Subject(t *testing.T) {
	publisher := &NatsPublisher{subjectPrefix: "game.inventory"}

	assert.Equal(t, "game.inventory.user_1.stack_split", publisher.Subject("user.1", EventStackSplit))
	assert.Equal(t, "game.inventory.a_b_.x", publisher.Subject("a b*", "x"))
}

func TestNatsPublisher_ConnectFailure(t *testing.T) {
	_, err := NewNatsPublisher("nats://127.0.0.1:1", "", nats.Timeout(100*time.Millisecond))
	assert.Error(t, err)
}

func TestInit_WiresNatsPublisher(t *testing.T) {
	ns := startTestNatsServer(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, "stacks.json", `{"publisher": {"nats_url": "`+ns.ClientURL()+`", "subject_prefix": "events"}}`)

	conn, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer conn.Close()
	sub, err := conn.SubscribeSync("events.player1.*")
	require.NoError(t, err)
	require.NoError(t, conn.Flush())

	_, initializer, nk := newTestStackforge(t, path)
	gateway := NewNakamaStorageGateway(nk, nil)
	instanceID, err := gateway.GrantInstance(context.Background(), testPlayer, "potion")
	require.NoError(t, err)

	_, err = initializer.rpcs[RpcIdUpdateItemSlot](userContext(testPlayer), &mockLogger{}, nil, nk, `{"InstanceId":"`+instanceID+`","NewSlot":2}`)
	require.NoError(t, err)

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "events.player1.stack_relocated", msg.Subject)
}
