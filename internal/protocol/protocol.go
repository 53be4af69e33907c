package protocol

import (
	"encoding/json"
	"fmt"

	"boiding.ai/internal/sim/flock"
)

// RegisterRequest is the body of POST /register.
type RegisterRequest struct {
	Name      string `json:"name"`
	IPAddress string `json:"ip_address"`
	Port      int    `json:"port"`
}

// UnregisterRequest is the body of DELETE /register.
type UnregisterRequest struct {
	Name string `json:"name"`
}

// ErrorResponse is returned with every non-2xx registration response.
type ErrorResponse struct {
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// ClientCommand is a text frame sent by an observer. Exactly one variant is set.
type ClientCommand struct {
	Spawn *SpawnCommand `json:"Spawn,omitempty"`
}

type SpawnCommand struct {
	Team  string `json:"team"`
	Count int    `json:"count,omitempty"`
}

func DecodeRegister(b []byte) (RegisterRequest, error) {
	var req RegisterRequest
	if err := decode(SchemaRegister, b, &req); err != nil {
		return RegisterRequest{}, err
	}
	return req, nil
}

func DecodeUnregister(b []byte) (UnregisterRequest, error) {
	var req UnregisterRequest
	if err := decode(SchemaUnregister, b, &req); err != nil {
		return UnregisterRequest{}, err
	}
	return req, nil
}

func DecodeCommand(b []byte) (ClientCommand, error) {
	var cmd ClientCommand
	if err := decode(SchemaCommand, b, &cmd); err != nil {
		return ClientCommand{}, err
	}
	return cmd, nil
}

// DecodeIntents parses a brain response body.
func DecodeIntents(b []byte) (flock.Intents, error) {
	var in flock.Intents
	if err := decode(SchemaBrainResponse, b, &in); err != nil {
		return nil, err
	}
	if in == nil {
		in = flock.Intents{}
	}
	return in, nil
}

func decode(schema string, b []byte, dst any) error {
	if err := Validate(schema, b); err != nil {
		return err
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, schema, err)
	}
	return nil
}
