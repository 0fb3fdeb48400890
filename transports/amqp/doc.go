// Package amqp implements the pub/sub engine over an AMQP 0-9-1 broker.
//
// Each topic maps to a topic exchange named "meshwire.<topic>". Readers
// consume from server-named exclusive queues bound to the exchange;
// writers publish with the envelope's origin GUID as the routing key,
// which lets reply readers bind directly to the hex GUID of their
// client and receive only correlated traffic. Unfiltered readers bind
// with the "#" wildcard.
//
// AMQP brokers expose no peer discovery, so matched endpoint counts
// are always reported as zero. Service availability probes that rely
// on them do not work over this engine.
package amqp
