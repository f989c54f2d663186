package model

import "errors"

// ErrNotFound indicates a referenced memory or message is absent or
// archived. Surfaced typed to direct callers, never silently ignored.
var ErrNotFound = errors.New("not found")

// ErrProviderUnavailable indicates an embedding or LLM call failed or
// timed out. Callers defer the dependent operation rather than failing
// the user-facing turn.
var ErrProviderUnavailable = errors.New("provider unavailable")
