package stackforge

import (
	"context"

	"github.com/heroiclabs/nakama-common/runtime"
)

// Event names sent to publishers.
const (
	EventStackSplit           = "stack_split"
	EventStackTransferred     = "stack_transferred"
	EventStacksSwapped        = "stacks_swapped"
	EventStackRelocated       = "stack_relocated"
	EventOperationInterrupted = "operation_interrupted"
	EventOperationResumed     = "operation_resumed"
	EventOperationFailed      = "operation_failed"
)

type PublisherEvent struct {
	Name      string            `json:"name,omitempty"`
	Id        string            `json:"id,omitempty"`
	Timestamp int64             `json:"timestamp,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Value     string            `json:"value,omitempty"`
}

// The Publisher describes a service or similar target implementation that wishes to receive and process
// events generated by inventory mutations.
//
// Publisher implementations must safely handle concurrent calls.
//
// Implementations must handle any errors or retries internally, callers will not repeat calls in case
// of errors.
type Publisher interface {
	// Send is called when there are one or more events generated.
	Send(ctx context.Context, logger runtime.Logger, userID string, events []*PublisherEvent)
}
