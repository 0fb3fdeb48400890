// Package memengine is an in-process implementation of the engine
// interfaces. Topics fan out to matched readers, each reader buffers
// deliveries in a FIFO, and waitsets are woken through per-condition
// notification channels. It backs the default meshwire client and the unit
// tests.
package memengine
