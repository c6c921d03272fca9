package config

import "errors"

// ErrConfiguration indicates a deployment defect: a malformed backoff
// schedule, an invalid cap, or a missing policy section. It is fatal to
// the run that detects it and must be surfaced loudly.
var ErrConfiguration = errors.New("configuration error")
