package protocol_test

import (
	"errors"
	"testing"

	"boiding.ai/internal/protocol"
	"boiding.ai/internal/sim/flock"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	valid := map[string]string{
		protocol.SchemaRegister:      `{"name":"Alpha","ip_address":"127.0.0.1","port":8001}`,
		protocol.SchemaUnregister:    `{"name":"Alpha"}`,
		protocol.SchemaCommand:       `{"Spawn":{"team":"Alpha"}}`,
		protocol.SchemaBrainResponse: `{"12":{"heading":1.5,"speed":0.004},"7":{"heading":-3,"speed":0}}`,
	}
	for schema, body := range valid {
		if err := protocol.Validate(schema, []byte(body)); err != nil {
			t.Fatalf("%s: validate: %v", schema, err)
		}
	}

	invalid := map[string][]string{
		protocol.SchemaRegister: {
			`{"name":"Alpha","ip_address":"127.0.0.1"}`,
			`{"name":"","ip_address":"127.0.0.1","port":8001}`,
			`{"name":"Alpha","ip_address":"127.0.0.1","port":70000}`,
			`{"name":"Alpha","ip_address":"127.0.0.1","port":"8001"}`,
			`not json`,
		},
		protocol.SchemaUnregister: {`{}`, `{"name":7}`},
		protocol.SchemaCommand: {
			`{"Spawn":{}}`,
			`{"Spawn":{"team":"Alpha","count":0}}`,
			`{"Despawn":{"team":"Alpha"}}`,
		},
		protocol.SchemaBrainResponse: {
			`{"abc":{"heading":1,"speed":1}}`,
			`{"1":{"heading":1}}`,
			`[]`,
		},
	}
	for schema, bodies := range invalid {
		for _, body := range bodies {
			err := protocol.Validate(schema, []byte(body))
			if err == nil {
				t.Fatalf("%s: expected %s rejected", schema, body)
			}
			if !errors.Is(err, protocol.ErrInvalid) {
				t.Fatalf("%s: err=%v want ErrInvalid", schema, err)
			}
		}
	}

	if err := protocol.Validate("nope.schema.json", []byte(`{}`)); err == nil {
		t.Fatalf("expected unknown schema error")
	}
}

func TestDecodeRegister(t *testing.T) {
	req, err := protocol.DecodeRegister([]byte(`{"name":"Alpha","ip_address":"10.0.0.1","port":8000}`))
	if err != nil {
		t.Fatalf("DecodeRegister: %v", err)
	}
	if req.Name != "Alpha" || req.IPAddress != "10.0.0.1" || req.Port != 8000 {
		t.Fatalf("req=%+v", req)
	}
}

func TestDecodeCommand(t *testing.T) {
	cmd, err := protocol.DecodeCommand([]byte(`{"Spawn":{"team":"Beta","count":4}}`))
	if err != nil {
		t.Fatalf("DecodeCommand: %v", err)
	}
	if cmd.Spawn == nil || cmd.Spawn.Team != "Beta" || cmd.Spawn.Count != 4 {
		t.Fatalf("cmd=%+v", cmd)
	}
}

func TestDecodeIntents(t *testing.T) {
	in, err := protocol.DecodeIntents([]byte(`{"18446744073709551615":{"heading":0.5,"speed":0.001}}`))
	if err != nil {
		t.Fatalf("DecodeIntents: %v", err)
	}
	got, ok := in[flock.AgentID(18446744073709551615)]
	if !ok || got.Heading != 0.5 || got.Speed != 0.001 {
		t.Fatalf("intents=%+v", in)
	}

	empty, err := protocol.DecodeIntents([]byte(`{}`))
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("empty=%v err=%v", empty, err)
	}
}
