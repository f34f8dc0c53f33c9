package errors

import sterrors "errors"

var (
	ErrConfigRequired     = sterrors.New("framerelay: configuration is required")
	ErrLoggerRequired     = sterrors.New("framerelay: logger is required")
	ErrPublisherRequired  = sterrors.New("framerelay: publisher is required")
	ErrSubscriberRequired = sterrors.New("framerelay: subscriber is required")
	ErrTopicRequired      = sterrors.New("framerelay: topic is required")
	ErrSinkRequired       = sterrors.New("framerelay: sink is required")
	ErrSinkURLRequired    = sterrors.New("framerelay: sink URL is required")
	ErrKindRequired       = sterrors.New("framerelay: frame kind is required")
	ErrInvalidCapacity    = sterrors.New("framerelay: queue capacity must be positive")
	ErrInvalidBatchSize   = sterrors.New("framerelay: batch size must be positive")
	ErrInvalidInterval    = sterrors.New("framerelay: interval must be positive")

	// ErrChannelUnavailable reports that the relay channel refused a batch.
	// The batch is lost; callers never retry it.
	ErrChannelUnavailable = sterrors.New("framerelay: relay channel unavailable")
	ErrUnknownMessageType = sterrors.New("framerelay: unknown relay message type")
	ErrUnknownCodec       = sterrors.New("framerelay: unknown relay codec")
)

// ConfigValidationError wraps the joined problems reported by Config.Validate.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "framerelay: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
