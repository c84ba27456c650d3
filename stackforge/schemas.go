package stackforge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	splitStackSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "PlayerId": {"type": "string"},
    "SourceInstanceId": {"type": "string", "minLength": 1},
    "SplitAmount": {"type": "integer"},
    "TargetSlot": {"type": "integer"}
  },
  "required": ["SourceInstanceId", "SplitAmount", "TargetSlot"]
}`

	transferStackSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "PlayerId": {"type": "string"},
    "SourceInstanceId": {"type": "string", "minLength": 1},
    "TargetInstanceId": {"type": "string", "minLength": 1},
    "Amount": {"type": "integer"}
  },
  "required": ["SourceInstanceId", "TargetInstanceId"]
}`

	swapItemsSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "PlayerId": {"type": "string"},
    "InstanceId1": {"type": "string", "minLength": 1},
    "InstanceId2": {"type": "string", "minLength": 1}
  },
  "required": ["InstanceId1", "InstanceId2"]
}`

	updateItemSlotSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "PlayerId": {"type": "string"},
    "InstanceId": {"type": "string", "minLength": 1},
    "NewSlot": {"type": "integer"}
  },
  "required": ["InstanceId", "NewSlot"]
}`

	listStacksSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "PlayerId": {"type": "string"}
  }
}`
)

// payloadSchemas holds the compiled request schema of every RPC, keyed by RPC id.
var payloadSchemas = mustCompileSchemas(map[string]string{
	RpcIdSplitStack:     splitStackSchema,
	RpcIdTransferStack:  transferStackSchema,
	RpcIdSwapItems:      swapItemsSchema,
	RpcIdUpdateItemSlot: updateItemSlotSchema,
	RpcIdListStacks:     listStacksSchema,
})

func mustCompileSchemas(sources map[string]string) map[string]*jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	for id, source := range sources {
		if err := compiler.AddResource(schemaURL(id), strings.NewReader(source)); err != nil {
			panic(fmt.Sprintf("adding schema %s: %v", id, err))
		}
	}

	schemas := make(map[string]*jsonschema.Schema, len(sources))
	for id := range sources {
		schemas[id] = compiler.MustCompile(schemaURL(id))
	}
	return schemas
}

func schemaURL(id string) string {
	return "stackforge://schemas/" + id + ".json"
}

// decodePayload checks the payload against the RPC's schema and then decodes it into out.
func decodePayload(logger runtime.Logger, rpcID, payload string, out interface{}) error {
	if strings.TrimSpace(payload) == "" {
		return ErrPayloadEmpty
	}

	var document interface{}
	if err := json.Unmarshal([]byte(payload), &document); err != nil {
		logger.Error("Failed to unmarshal %s payload: %v", rpcID, err)
		return ErrPayloadDecode
	}

	if schema, ok := payloadSchemas[rpcID]; ok {
		if err := schema.Validate(document); err != nil {
			logger.Warn("Rejected %s payload: %v", rpcID, err)
			return runtime.NewError("invalid payload: "+validationMessage(err), INVALID_ARGUMENT_ERROR_CODE)
		}
	}

	if err := json.Unmarshal([]byte(payload), out); err != nil {
		logger.Error("Failed to unmarshal %s request: %v", rpcID, err)
		return ErrPayloadDecode
	}
	return nil
}

// validationMessage returns the most specific cause of a schema failure.
func validationMessage(err error) string {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return err.Error()
	}
	for len(verr.Causes) > 0 {
		verr = verr.Causes[0]
	}
	location := verr.InstanceLocation
	if location == "" {
		return verr.Message
	}
	return location + ": " + verr.Message
}
