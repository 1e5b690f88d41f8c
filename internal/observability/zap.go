package observability

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/popupshop/pkg/booking"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapOperationLogger writes engine operations as structured log lines.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger returns a logger that reports through logger; nil falls back to a no-op logger.
func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapOperationLogger{logger: logger}
}

func (operationLogger *ZapOperationLogger) LogOperation(_ context.Context, entry booking.OperationLog) {
	fields := make([]zap.Field, 0, 8)
	fields = append(fields,
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.Int("attempts", entry.Attempts),
	)
	if !entry.SlotKey.IsZero() {
		fields = append(fields, zap.String("slot_key", entry.SlotKey.String()))
	}
	if productID := entry.ProductID.String(); productID != "" {
		fields = append(fields, zap.String("product_id", productID))
	}
	if len(entry.Items) > 0 {
		fields = append(fields, zap.Int("line_items", len(entry.Items)))
	}
	if !entry.ReservationID.IsZero() {
		fields = append(fields, zap.String("reservation_id", entry.ReservationID.String()))
	}
	if number := entry.ReservationNumber.String(); number != "" {
		fields = append(fields, zap.String("reservation_number", number))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
	}
	operationLogger.logger.Log(levelFor(entry), "booking operation", fields...)
}

// levelFor keeps failed compensation loud and ordinary rejections at info.
func levelFor(entry booking.OperationLog) zapcore.Level {
	switch {
	case entry.Error == nil:
		return zapcore.DebugLevel
	case entry.Operation == booking.OperationCompensate:
		return zapcore.ErrorLevel
	case errors.Is(entry.Error, booking.ErrStoreUnavailable):
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
