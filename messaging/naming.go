package messaging

import (
	"github.com/meshwire/meshwire-go/contracts"
)

// Service topic naming follows the requester/replier pairing convention:
// every service owns one request topic and one reply topic derived from
// its name.

// RequestTopic returns the request topic for a service name.
func RequestTopic(service string) string {
	return "rq." + service
}

// ReplyTopic returns the reply topic for a service name.
func ReplyTopic(service string) string {
	return "rr." + service
}

// replyFilterName derives the name of a client's filtered reply
// subscription from the reply topic and the client's request-publisher
// identity. The identity suffix guarantees no collisions between clients
// of the same service.
func replyFilterName(replyTopic string, gid contracts.GUID) string {
	return replyTopic + "_" + gid.Hex()
}
