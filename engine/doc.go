// Package engine defines the contract between meshwire and the underlying
// pub/sub engine: endpoint creation, status snapshots, per-condition
// configuration, and the single blocking multi-condition wait primitive.
//
// Implementations ship in internal/memengine (in-process, used by default
// and by the unit tests) and transports/amqp (RabbitMQ-backed).
package engine
