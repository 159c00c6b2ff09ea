package event

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/fxamacker/cbor/v2"
)

type decodeFunc func(data []byte, unmarshal func([]byte, any) error) (Payload, error)

func decodeAs[P Payload](data []byte, unmarshal func([]byte, any) error) (Payload, error) {
	var p P
	if len(data) > 0 {
		if err := unmarshal(data, &p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// decoders is the registry of payload kinds. Every variant in
// payload.go has exactly one entry.
var decoders = map[Kind]decodeFunc{
	KindThreadCreated:            decodeAs[ThreadCreated],
	KindThreadStateChanged:       decodeAs[ThreadStateChanged],
	KindThreadClaimed:            decodeAs[ThreadClaimed],
	KindThreadReleased:           decodeAs[ThreadReleased],
	KindThreadTemperatureChanged: decodeAs[ThreadTemperatureChanged],
	KindThreadMerged:             decodeAs[ThreadMerged],
	KindThreadArtifactAdded:      decodeAs[ThreadArtifactAdded],
	KindAgentRegistered:          decodeAs[AgentRegistered],
	KindAgentStatusChanged:       decodeAs[AgentStatusChanged],
	KindAgentTerminated:          decodeAs[AgentTerminated],
	KindMessageSent:              decodeAs[MessageSent],
	KindMessageRead:              decodeAs[MessageRead],
	KindEscalationCreated:        decodeAs[EscalationCreated],
	KindEscalationAcknowledged:   decodeAs[EscalationAcknowledged],
	KindEscalationResolved:       decodeAs[EscalationResolved],
	KindArtifactCreated:          decodeAs[ArtifactCreated],
	KindArtifactModified:         decodeAs[ArtifactModified],
	KindSystemPaused:             decodeAs[SystemPaused],
	KindSystemResumed:            decodeAs[SystemResumed],
	KindSnapshotCreated:          decodeAs[SnapshotCreated],
}

// Kinds returns every registered payload kind, sorted.
func Kinds() []Kind {
	out := make([]Kind, 0, len(decoders))
	for k := range decoders {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Known reports whether k is a registered payload kind.
func Known(k Kind) bool {
	_, ok := decoders[k]
	return ok
}

// Envelope is the discriminated JSON form of a payload.
type Envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Wrap encodes p into an Envelope.
func Wrap(p Payload) (Envelope, error) {
	if p == nil {
		return Envelope{}, fmt.Errorf("event: nil payload")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("event: encode %s: %w", p.Kind(), err)
	}
	return Envelope{Type: p.Kind(), Data: data}, nil
}

// Decode returns the payload variant named by env.Type.
func (env Envelope) Decode() (Payload, error) {
	return DecodeJSON(env.Type, env.Data)
}

// DecodeJSON decodes a JSON payload of the given kind.
func DecodeJSON(kind Kind, data []byte) (Payload, error) {
	dec, ok := decoders[kind]
	if !ok {
		return nil, fmt.Errorf("event: unknown payload kind %q", kind)
	}
	p, err := dec(data, json.Unmarshal)
	if err != nil {
		return nil, fmt.Errorf("event: decode %s: %w", kind, err)
	}
	return p, nil
}

// CBOR is the storage codec for payloads. Encoding is deterministic:
// the same payload always yields the same bytes.
var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	encOpts := cbor.CoreDetEncOptions()
	encOpts.Time = cbor.TimeRFC3339Nano
	encOpts.TextMarshaler = cbor.TextMarshalerTextString
	var err error
	cborEnc, err = encOpts.EncMode()
	if err != nil {
		panic("event: cbor encoder: " + err.Error())
	}
	decOpts := cbor.DecOptions{
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}
	cborDec, err = decOpts.DecMode()
	if err != nil {
		panic("event: cbor decoder: " + err.Error())
	}
}

// EncodeCBOR serializes p for storage.
func EncodeCBOR(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("event: nil payload")
	}
	b, err := cborEnc.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("event: cbor encode %s: %w", p.Kind(), err)
	}
	return b, nil
}

// DecodeCBOR decodes a stored payload of the given kind.
func DecodeCBOR(kind Kind, data []byte) (Payload, error) {
	dec, ok := decoders[kind]
	if !ok {
		return nil, fmt.Errorf("event: unknown payload kind %q", kind)
	}
	p, err := dec(data, cborDec.Unmarshal)
	if err != nil {
		return nil, fmt.Errorf("event: cbor decode %s: %w", kind, err)
	}
	return p, nil
}
