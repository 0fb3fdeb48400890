// Package notify implements the native condition and waitset primitives
// shared by the engine implementations: a trigger that wakes registered
// waitsets, guard and status condition handles built on it, and a waitset
// that blocks until any attached condition triggers.
package notify
