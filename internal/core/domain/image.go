package domain

// InspectResult is the outcome of an image inspection. A missing image is a
// normal negative result (Exists false, Err nil); Err is set only for real
// engine failures.
type InspectResult struct {
	Exists  bool
	ImageID string
	Err     error
}

// BuildResult is the outcome of an image build. Logs carries the streamed
// build output so callers can surface diagnostics on failure. Build never
// panics or raises; all failures land in Err.
type BuildResult struct {
	Success bool
	ImageID string
	Logs    []string
	Err     error
}
