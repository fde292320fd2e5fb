package telemetry

// Config mirrors the telemetry block of the s3db config file.
type Config struct {
	// Enabled turns span export on. When false, Init installs a no-op
	// tracer and the rest of the process pays nothing.
	Enabled bool

	// ServiceName and ServiceVersion identify this worker in the trace
	// backend.
	ServiceName    string
	ServiceVersion string

	// Endpoint is the OTLP/gRPC collector address as host:port.
	Endpoint string

	// Insecure disables TLS on the collector connection, the usual
	// setting for a collector on localhost.
	Insecure bool

	// SampleRate is the fraction of traces to keep, 0.0 to 1.0.
	SampleRate float64
}

// DefaultConfig matches the defaults the config package applies when
// the telemetry block is absent.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "s3db",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}
