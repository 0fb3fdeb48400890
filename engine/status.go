package engine

// StatusKind is a bit mask of asynchronous conditions an endpoint can
// report. A status condition wakes its waitset when any status in its
// enabled mask becomes active.
type StatusKind uint32

const (
	// StatusNone enables no statuses.
	StatusNone StatusKind = 0

	// StatusDataAvailable is active while a reader has buffered data.
	StatusDataAvailable StatusKind = 1 << iota

	// StatusLivelinessChanged is active after the set of alive matched
	// writers observed by a reader changes.
	StatusLivelinessChanged

	// StatusRequestedDeadlineMissed is active after a reader misses a
	// requested deadline.
	StatusRequestedDeadlineMissed

	// StatusRequestedIncompatibleQoS is active after a reader discovers a
	// writer with incompatible QoS.
	StatusRequestedIncompatibleQoS

	// StatusSampleLost is active after a reader loses a sample.
	StatusSampleLost

	// StatusLivelinessLost is active after a writer fails to assert its
	// liveliness in time.
	StatusLivelinessLost

	// StatusOfferedDeadlineMissed is active after a writer misses an
	// offered deadline.
	StatusOfferedDeadlineMissed

	// StatusOfferedIncompatibleQoS is active after a writer discovers a
	// reader with incompatible QoS.
	StatusOfferedIncompatibleQoS
)

// LivelinessChangedStatus is a snapshot of a reader's view of alive and
// not-alive matched writers.
type LivelinessChangedStatus struct {
	AliveCount          int32
	NotAliveCount       int32
	AliveCountChange    int32
	NotAliveCountChange int32
}

// LivelinessLostStatus is a snapshot of how many times a writer lost its
// liveliness.
type LivelinessLostStatus struct {
	TotalCount       int32
	TotalCountChange int32
}

// DeadlineMissedStatus is a snapshot of missed deadlines, requested
// (reader) or offered (writer).
type DeadlineMissedStatus struct {
	TotalCount       int32
	TotalCountChange int32
}

// IncompatibleQoSStatus is a snapshot of QoS incompatibilities discovered
// between matched endpoints.
type IncompatibleQoSStatus struct {
	TotalCount       int32
	TotalCountChange int32
	LastPolicy       string
}

// SampleLostStatus is a snapshot of samples lost by a reader.
type SampleLostStatus struct {
	TotalCount       int32
	TotalCountChange int32
}
