package booking

import (
	"context"
	"time"
)

// Option configures the ledgers, the lifecycle service, and the calendar.
type Option func(*settings)

type settings struct {
	logger         OperationLogger
	retry          RetryPolicy
	location       *time.Location
	numbers        ReservationNumberGenerator
	numberAttempts int
}

// OperationLogger records domain-level events emitted by engine operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing engine operation.
type OperationLog struct {
	Operation         string
	SlotKey           SlotKey
	ProductID         ProductID
	Items             []LineItem
	ReservationID     ReservationID
	ReservationNumber ReservationNumber
	Attempts          int
	Status            string
	Error             error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) Option {
	return func(current *settings) {
		current.logger = logger
	}
}

// WithRetryPolicy overrides the conflict retry policy.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(current *settings) {
		current.retry = policy
	}
}

// WithLocation sets the shop time zone used to decide what "today" is.
func WithLocation(location *time.Location) Option {
	return func(current *settings) {
		current.location = location
	}
}

// WithReservationNumbers replaces the reservation number generator.
func WithReservationNumbers(generator ReservationNumberGenerator) Option {
	return func(current *settings) {
		current.numbers = generator
	}
}

// JoinOperationLoggers fans every entry out to each non-nil logger.
func JoinOperationLoggers(loggers ...OperationLogger) OperationLogger {
	joined := make(multiLogger, 0, len(loggers))
	for _, logger := range loggers {
		if logger != nil {
			joined = append(joined, logger)
		}
	}
	return joined
}

type multiLogger []OperationLogger

func (loggers multiLogger) LogOperation(ctx context.Context, entry OperationLog) {
	for _, logger := range loggers {
		logger.LogOperation(ctx, entry)
	}
}

func newSettings(options []Option) (settings, error) {
	current := settings{
		retry:          DefaultRetryPolicy(),
		location:       time.UTC,
		numberAttempts: reservationNumberAttempts,
	}
	for _, option := range options {
		if option != nil {
			option(&current)
		}
	}
	if err := current.retry.validate(); err != nil {
		return settings{}, err
	}
	if current.location == nil {
		current.location = time.UTC
	}
	if current.numbers == nil {
		generator, err := NewReservationNumberGenerator(defaultReservationPrefix)
		if err != nil {
			return settings{}, err
		}
		current.numbers = generator
	}
	return current, nil
}

func (current settings) logOperation(ctx context.Context, entry OperationLog) {
	if current.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = OperationStatusError
		} else {
			entry.Status = OperationStatusOK
		}
	}
	current.logger.LogOperation(ctx, entry)
}
