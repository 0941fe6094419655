package param

import "errors"

var (
	ErrEmptyName       = errors.New("parameter name is empty")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrRegistryFull    = errors.New("parameter registry full")
	ErrNotFound        = errors.New("parameter not found")
	ErrStaleHandle     = errors.New("parameter handle is stale")
	ErrNoSubscribers   = errors.New("parameter has no subscribers")
	ErrDeliveryFailure = errors.New("delivery to one or more subscribers failed")
	ErrUnsupported     = errors.New("operation not supported for parameter type")
	ErrReadOnly        = errors.New("parameter has no owner")
	ErrNoValue         = errors.New("parameter has no value")
	ErrAllocation      = errors.New("allocation failed")
)
