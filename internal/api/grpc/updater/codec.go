package updater

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// toStruct converts a JSON-tagged result into a Struct, keeping null fields.
func toStruct(result any) (*structpb.Struct, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}

	var fields map[string]any
	if err = json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}

	message, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("convert result: %w", err)
	}

	return message, nil
}

// fromStruct decodes a Struct into a JSON-tagged result.
func fromStruct(message *structpb.Struct, result any) error {
	data, err := json.Marshal(message.AsMap())
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}

	if err = json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}
