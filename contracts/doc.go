// Package contracts defines the wire-level types shared by every meshwire
// component: endpoint identities, the request/reply correlation key, the
// message envelope, and the error taxonomy.
package contracts
