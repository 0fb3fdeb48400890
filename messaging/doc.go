// Package messaging implements the middleware surface meshwire exposes on
// top of a pub/sub engine: subscribers, publishers, guard conditions, the
// wait coordinator that blocks one thread on a heterogeneous set of
// sources, and the client/service pair that emulates request/reply on two
// plain topics through correlation keys and content-filtered reply
// subscriptions.
package messaging
