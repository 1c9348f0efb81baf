package config

import "errors"

// ErrConfigInvalid wraps malformed names.json/topo.json envelopes and
// invalid topology weights (spec.md §6, §7).
var ErrConfigInvalid = errors.New("config: invalid configuration")
