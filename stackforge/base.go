package stackforge

import (
	"fmt"

	"github.com/heroiclabs/nakama-common/runtime"
)

var (
	ErrInternal           = runtime.NewError("internal error occurred", INTERNAL_ERROR_CODE)       // INTERNAL
	ErrNoSessionUser      = runtime.NewError("no user ID in session", INVALID_ARGUMENT_ERROR_CODE) // INVALID_ARGUMENT
	ErrPlayerMismatch     = runtime.NewError("cannot mutate another player's inventory", PERMISSION_DENIED_ERROR_CODE)
	ErrPayloadDecode      = runtime.NewError("cannot decode json", INTERNAL_ERROR_CODE)                  // INTERNAL
	ErrPayloadEmpty       = runtime.NewError("payload should not be empty", INVALID_ARGUMENT_ERROR_CODE) // INVALID_ARGUMENT
	ErrPayloadEncode      = runtime.NewError("cannot encode json", INTERNAL_ERROR_CODE)                  // INTERNAL
	ErrSystemNotAvailable = runtime.NewError("system not available", INTERNAL_ERROR_CODE)                // INTERNAL
	ErrJournalUnavailable = runtime.NewError("operation journal unavailable", INTERNAL_ERROR_CODE)       // INTERNAL
	ErrItemTypeMismatch   = runtime.NewError("cannot stack different item types", FAILED_PRECONDITION_ERROR_CODE)
	ErrSameStack          = runtime.NewError("source and target must be different stacks", INVALID_ARGUMENT_ERROR_CODE)
)

func missingParameter(name string) *runtime.Error {
	return runtime.NewError(fmt.Sprintf("missing required parameter: %s", name), INVALID_ARGUMENT_ERROR_CODE)
}

func invalidSlot(value int) *runtime.Error {
	return runtime.NewError(fmt.Sprintf("invalid slot index: %d", value), INVALID_ARGUMENT_ERROR_CODE)
}

func stackNotFound(role, instanceID string) *runtime.Error {
	return runtime.NewError(fmt.Sprintf("%s stack not found: %s", role, instanceID), NOT_FOUND_ERROR_CODE)
}

// gatewayError reports a failed remote primitive. The underlying message is passed through as-is.
func gatewayError(call string, err error) *runtime.Error {
	return runtime.NewError(fmt.Sprintf("%s failed: %v", call, err), INTERNAL_ERROR_CODE)
}
