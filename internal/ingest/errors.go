package ingest

import "fmt"

// ValidationError rejects a malformed ingest request before any work.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid ingest request: %s", e.Reason)
}

// NetworkError wraps a fetch failure for one host.
type NetworkError struct {
	Host string
	Err  error
}

func (e NetworkError) Error() string {
	return fmt.Sprintf("network failure on %s: %v", e.Host, e.Err)
}

func (e NetworkError) Unwrap() error { return e.Err }

// ExtractionError wraps an LLM failure for one page.
type ExtractionError struct {
	URL string
	Err error
}

func (e ExtractionError) Error() string {
	return fmt.Sprintf("extraction failure on %s: %v", e.URL, e.Err)
}

func (e ExtractionError) Unwrap() error { return e.Err }

// RunError reports a run that finalized as error: no source was
// reachable or the run deadline fired. The audit record is already
// closed when this surfaces.
type RunError struct {
	RunID  string
	Reason string
}

func (e RunError) Error() string {
	return fmt.Sprintf("run %s failed: %s", e.RunID, e.Reason)
}

// PersistenceError wraps a storage failure for the run's kept listings.
type PersistenceError struct {
	Err error
}

func (e PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure: %v", e.Err)
}

func (e PersistenceError) Unwrap() error { return e.Err }
