package fetch

import "fmt"

// StatusError is the reason of a failed attempt that got a non-2xx response.
type StatusError struct {
	Code int
}

func (e StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d", e.Code)
}

// FetchError is returned once every attempt at fetching URL failed, Reason is
// the error of the last attempt.
type FetchError struct {
	URL      string
	Attempts int
	Reason   error
}

func (e FetchError) Error() string {
	return fmt.Sprintf("fetch %s: failed after %d attempt(s): %v", e.URL, e.Attempts, e.Reason)
}

func (e FetchError) Unwrap() error {
	return e.Reason
}
