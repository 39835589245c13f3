package exception

import "github.com/yanun0323/errors"

var (
	ErrPositionNotFound = errors.New("position: not found")
	ErrPositionFlat     = errors.New("position: no open quantity")
)
