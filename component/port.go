package component

import (
	"encoding/json"
	"fmt"

	"github.com/c360/amistreams/errors"
)

// Direction says which way data flows through a port.
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// Port describes one endpoint a component exposes or consumes: a listen
// socket for the live feed, a NATS subject, a KV bucket it writes. The
// orchestrator uses ports for wiring checks and resource conflict
// detection.
type Port struct {
	Name        string    `json:"name"`
	Direction   Direction `json:"direction"`
	Required    bool      `json:"required"`
	Description string    `json:"description"`
	Config      Portable  `json:"config"`
}

// Portable is implemented by each concrete port config.
type Portable interface {
	ResourceID() string // identifier used for conflict detection
	IsExclusive() bool  // whether two components may share the resource
	Type() string       // wire tag selecting the concrete type
}

// InterfaceContract names the message shape a port carries.
type InterfaceContract struct {
	Type       string   `json:"type"`                 // e.g. "history.Record"
	Version    string   `json:"version,omitempty"`    // e.g. "v1"
	Compatible []string `json:"compatible,omitempty"` // also accepted
}

// portConfigDecoders maps the Portable wire tag to a decoder for the
// concrete type. Value types, matching what components put in Port.Config.
var portConfigDecoders = map[string]func(json.RawMessage) (Portable, error){
	"network": decodePortConfig[NetworkPort],
	"nats":    decodePortConfig[NATSPort],
	"kvwrite": decodePortConfig[KVWritePort],
}

func decodePortConfig[T Portable](data json.RawMessage) (Portable, error) {
	var cfg T
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// taggedConfig wraps a Portable with its wire tag so UnmarshalJSON can
// pick the concrete type back out.
type taggedConfig struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON writes the Config field as a {type, data} wrapper so the
// concrete Portable type survives the round trip.
func (p Port) MarshalJSON() ([]byte, error) {
	type portAlias Port // avoid recursing back into this method

	out := struct {
		portAlias
		Config json.RawMessage `json:"config"`
	}{portAlias: portAlias(p)}

	if p.Config != nil {
		data, err := json.Marshal(p.Config)
		if err != nil {
			return nil, errors.Wrap(err, "Port", "MarshalJSON", "config marshaling")
		}
		wrapped, err := json.Marshal(taggedConfig{Type: p.Config.Type(), Data: data})
		if err != nil {
			return nil, errors.Wrap(err, "Port", "MarshalJSON", "config marshaling")
		}
		out.Config = wrapped
	}

	return json.Marshal(out)
}

// UnmarshalJSON reverses MarshalJSON, rebuilding the concrete Portable
// from the wire tag.
func (p *Port) UnmarshalJSON(data []byte) error {
	type portAlias Port

	in := struct {
		*portAlias
		Config json.RawMessage `json:"config"`
	}{portAlias: (*portAlias)(p)}

	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if len(in.Config) == 0 {
		return nil
	}

	var tagged taggedConfig
	if err := json.Unmarshal(in.Config, &tagged); err != nil {
		return errors.Wrap(err, "Port", "UnmarshalJSON", "config wrapper unmarshaling")
	}

	decode, ok := portConfigDecoders[tagged.Type]
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("unknown config type: %s", tagged.Type),
			"Port", "UnmarshalJSON", "config type validation")
	}
	cfg, err := decode(tagged.Data)
	if err != nil {
		return errors.Wrap(err, "Port", "UnmarshalJSON",
			fmt.Sprintf("%s config unmarshaling", tagged.Type))
	}
	p.Config = cfg
	return nil
}
