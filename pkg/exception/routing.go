package exception

import "github.com/yanun0323/errors"

var (
	ErrVenueUnavailable  = errors.New("routing: no suitable venue")
	ErrSlippageExceeded  = errors.New("slippage: tolerance exceeded")
	ErrConnectorMissing  = errors.New("engine: no connector for venue")
	ErrRiskRejected      = errors.New("risk: order rejected")
	ErrEngineNotRunning  = errors.New("engine: not running")
	ErrConnectorRejected = errors.New("connector: order rejected by venue")
)
