package ai

import "errors"

// ErrQuotaExceeded indicates the AI provider returned a quota/limit error (HTTP 429 or similar).
var ErrQuotaExceeded = errors.New("ai quota exceeded")

// ErrProviderFailure covers every other provider-side failure. Adapters wrap this
// sentinel with a message instead of exposing vendor error types.
var ErrProviderFailure = errors.New("ai provider failure")

// ErrEmptyResponse is returned when the provider answered without any content
var ErrEmptyResponse = errors.New("ai returned no choices")
