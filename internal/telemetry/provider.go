package telemetry

// Provider exposes the most recent sample received from the device.
type Provider interface {
	// Latest returns the last decoded sample and false if nothing has
	// been received yet.
	Latest() (Sample, bool)
}
