package common

import "errors"

// ErrLeverageUnsupported is returned by spot venues when asked to build a
// leverage-set request.
var ErrLeverageUnsupported = errors.New("leverage not supported on this market")
