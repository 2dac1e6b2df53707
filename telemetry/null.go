package telemetry

// NullEmitter discards every event. It is the zero-configuration default
// for unit tests that do not care about observability output.
type NullEmitter struct{}

func (NullEmitter) Emit(Event) {}
