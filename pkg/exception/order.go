package exception

import "github.com/yanun0323/errors"

var (
	ErrOrderInvalidQuantity    = errors.New("order: quantity must be > 0")
	ErrOrderMissingPrice       = errors.New("order: limit order requires a positive price")
	ErrOrderMissingStopPrice   = errors.New("order: stop order requires a positive stop price")
	ErrOrderMissingSymbolVenue = errors.New("order: symbol and venue are required")
	ErrOrderCapacityExceeded   = errors.New("order: max concurrent orders reached")
	ErrOrderNotFound           = errors.New("order: not found")
	ErrOrderTerminal           = errors.New("order: already in terminal state")
	ErrOrderInvalidTransition  = errors.New("order: invalid state transition")
	ErrOrderFillExceedsQty     = errors.New("order: fill exceeds requested quantity")
	ErrOrderInvalidFill        = errors.New("order: fill quantity must be > 0")
)
