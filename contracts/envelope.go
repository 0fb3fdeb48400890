package contracts

import (
	"encoding/json"
)

// FieldOrigin is the name of the envelope header field holding the origin
// identity. Content filters on reply subscriptions test this field against
// the hex form of a client's request-publisher identity.
const FieldOrigin = "origin"

// Envelope wraps one user payload with the correlation header carried on
// the wire. For a request, Origin and Sequence identify the request itself.
// For a reply, they are the "related" fields referencing the original
// request, which is what reply content filters match on.
type Envelope struct {
	Request  bool            `json:"request"`
	Origin   GUID            `json:"origin"`
	Sequence int64           `json:"sequence"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// ID returns the correlation key embedded in the envelope.
func (e *Envelope) ID() RequestID {
	return RequestID{Origin: e.Origin, Sequence: e.Sequence}
}
