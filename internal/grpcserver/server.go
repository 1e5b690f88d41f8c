package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/popupshop/pkg/booking"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	errorUnknownSlot          = "unknown_slot"
	errorUnknownProduct       = "unknown_product"
	errorUnknownReservation   = "unknown_reservation"
	errorReservationExists    = "reservation_exists"
	errorSlotFull             = "slot_full"
	errorSlotUnavailable      = "slot_unavailable"
	errorLimitExceeded        = "limit_exceeded"
	errorProductInactive      = "product_inactive"
	errorImmutable            = "immutable"
	errorTooLate              = "too_late"
	errorAlreadyCancelled     = "already_cancelled"
	errorAlreadyCompleted     = "already_completed"
	errorConflict             = "conflict"
	errorStoreUnavailable     = "store_unavailable"
	errorInvalidArgument      = "invalid_argument"
	errorMissingReservationID = "missing_reservation_id"
)

// ReservationServer exposes the reservation lifecycle and calendar over gRPC.
type ReservationServer struct {
	service *booking.Service
}

// NewReservationServer constructs a gRPC server for the booking service.
func NewReservationServer(service *booking.Service) *ReservationServer {
	return &ReservationServer{service: service}
}

// NewServer builds a grpc.Server carrying the reservation and health services.
func NewServer(service *booking.Service, logger *zap.Logger, options ...grpc.ServerOption) *grpc.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	options = append(options, grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
	server := grpc.NewServer(options...)
	RegisterReservationServiceServer(server, NewReservationServer(service))
	healthServer := health.NewServer()
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	return server
}

func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, request any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		started := time.Now()
		response, err := handler(ctx, request)
		code := status.Code(err)
		if code == codes.Internal || code == codes.Unavailable {
			logger.Error("grpc call failed", zap.String("method", info.FullMethod), zap.Duration("elapsed", time.Since(started)), zap.Error(err))
		} else {
			logger.Debug("grpc call", zap.String("method", info.FullMethod), zap.String("code", code.String()), zap.Duration("elapsed", time.Since(started)))
		}
		return response, err
	}
}

func (server *ReservationServer) CreateReservation(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	fields := request.GetFields()
	customer, err := booking.NewCustomer(stringField(fields, "email"), stringField(fields, "name"), stringField(fields, "phone"))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	visitDate, err := booking.ParseDate(stringField(fields, "visit_date"))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	visitTime, err := booking.ParseTimeOfDay(stringField(fields, "visit_time"))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	items, _, err := lineItemsField(fields, "items")
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	reservation, operationError := server.service.Create(ctx, booking.CreateReservationRequest{
		Customer:  customer,
		VisitDate: visitDate,
		VisitTime: visitTime,
		Items:     items,
	})
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return reservationStruct(reservation)
}

// GetReservation looks a reservation up by "id" or, when absent, by "number".
func (server *ReservationServer) GetReservation(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	fields := request.GetFields()
	var (
		reservation    booking.Reservation
		operationError error
	)
	if rawNumber := stringField(fields, "number"); rawNumber != "" && stringField(fields, "id") == "" {
		number, err := booking.NewReservationNumber(rawNumber)
		if err != nil {
			return nil, mapToGRPCError(err)
		}
		reservation, operationError = server.service.GetByNumber(ctx, number)
	} else {
		reservationID, err := reservationIDField(fields)
		if err != nil {
			return nil, err
		}
		reservation, operationError = server.service.Get(ctx, reservationID)
	}
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return reservationStruct(reservation)
}

func (server *ReservationServer) RescheduleReservation(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	fields := request.GetFields()
	reservationID, err := reservationIDField(fields)
	if err != nil {
		return nil, err
	}
	var change booking.RescheduleRequest
	if raw := stringField(fields, "visit_date"); raw != "" {
		visitDate, err := booking.ParseDate(raw)
		if err != nil {
			return nil, mapToGRPCError(err)
		}
		change.VisitDate = &visitDate
	}
	if raw := stringField(fields, "visit_time"); raw != "" {
		visitTime, err := booking.ParseTimeOfDay(raw)
		if err != nil {
			return nil, mapToGRPCError(err)
		}
		change.VisitTime = &visitTime
	}
	items, present, err := lineItemsField(fields, "items")
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	change.Items = items
	change.ReplaceItems = present
	reservation, operationError := server.service.Reschedule(ctx, reservationID, change)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return reservationStruct(reservation)
}

func (server *ReservationServer) CancelReservation(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	reservationID, err := reservationIDField(request.GetFields())
	if err != nil {
		return nil, err
	}
	reservation, operationError := server.service.Cancel(ctx, reservationID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return reservationStruct(reservation)
}

func (server *ReservationServer) CompleteReservation(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	reservationID, err := reservationIDField(request.GetFields())
	if err != nil {
		return nil, err
	}
	reservation, operationError := server.service.Complete(ctx, reservationID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return reservationStruct(reservation)
}

func (server *ReservationServer) GetMonthView(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	fields := request.GetFields()
	year := int(fields["year"].GetNumberValue())
	month := time.Month(int(fields["month"].GetNumberValue()))
	view, operationError := server.service.Calendar().MonthView(ctx, year, month)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	days := make([]any, 0, len(view.Days))
	for _, day := range view.Days {
		days = append(days, map[string]any{
			"day":             day.Day,
			"status":          string(day.Status),
			"available_slots": day.AvailableSlots,
		})
	}
	response, err := structpb.NewStruct(map[string]any{
		"year":  view.Year,
		"month": int(view.Month),
		"days":  days,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return response, nil
}

func stringField(fields map[string]*structpb.Value, name string) string {
	return fields[name].GetStringValue()
}

func reservationIDField(fields map[string]*structpb.Value) (booking.ReservationID, error) {
	raw := stringField(fields, "id")
	if raw == "" {
		return booking.ReservationID{}, status.Error(codes.InvalidArgument, errorMissingReservationID)
	}
	reservationID, err := booking.NewReservationID(raw)
	if err != nil {
		return booking.ReservationID{}, mapToGRPCError(err)
	}
	return reservationID, nil
}

// lineItemsField decodes a list of {product_id, quantity} objects and reports whether the field was sent.
func lineItemsField(fields map[string]*structpb.Value, name string) ([]booking.LineItem, bool, error) {
	value, present := fields[name]
	if !present {
		return nil, false, nil
	}
	list := value.GetListValue()
	if list == nil {
		return nil, true, fmt.Errorf("%w: %s must be a list", booking.ErrInvalidQuantity, name)
	}
	items := make([]booking.LineItem, 0, len(list.GetValues()))
	for _, entry := range list.GetValues() {
		entryFields := entry.GetStructValue().GetFields()
		item, err := booking.NewLineItem(stringField(entryFields, "product_id"), int(entryFields["quantity"].GetNumberValue()))
		if err != nil {
			return nil, true, err
		}
		items = append(items, item)
	}
	return items, true, nil
}

func reservationStruct(reservation booking.Reservation) (*structpb.Struct, error) {
	items := make([]any, 0, len(reservation.Items))
	for _, item := range reservation.Items {
		items = append(items, map[string]any{
			"product_id": item.ProductID.String(),
			"quantity":   item.Quantity,
		})
	}
	response, err := structpb.NewStruct(map[string]any{
		"id":         reservation.ID.String(),
		"number":     reservation.Number.String(),
		"email":      reservation.Customer.Email.String(),
		"name":       reservation.Customer.Name,
		"phone":      reservation.Customer.Phone,
		"visit_date": reservation.VisitDate.String(),
		"visit_time": reservation.VisitTime.String(),
		"status":     reservation.Status.String(),
		"items":      items,
		"created_at": reservation.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at": reservation.UpdatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return response, nil
}

type grpcMapping struct {
	target  error
	code    codes.Code
	message string
}

var grpcMappings = []grpcMapping{
	{booking.ErrStoreUnavailable, codes.Unavailable, errorStoreUnavailable},
	{booking.ErrUnknownSlot, codes.NotFound, errorUnknownSlot},
	{booking.ErrUnknownProduct, codes.NotFound, errorUnknownProduct},
	{booking.ErrUnknownReservation, codes.NotFound, errorUnknownReservation},
	{booking.ErrReservationExists, codes.AlreadyExists, errorReservationExists},
	{booking.ErrReservationNumberTaken, codes.AlreadyExists, errorReservationExists},
	{booking.ErrSlotFull, codes.FailedPrecondition, errorSlotFull},
	{booking.ErrSlotUnavailable, codes.FailedPrecondition, errorSlotUnavailable},
	{booking.ErrLimitExceeded, codes.FailedPrecondition, errorLimitExceeded},
	{booking.ErrProductInactive, codes.FailedPrecondition, errorProductInactive},
	{booking.ErrImmutable, codes.FailedPrecondition, errorImmutable},
	{booking.ErrTooLate, codes.FailedPrecondition, errorTooLate},
	{booking.ErrAlreadyCancelled, codes.FailedPrecondition, errorAlreadyCancelled},
	{booking.ErrAlreadyCompleted, codes.FailedPrecondition, errorAlreadyCompleted},
	{booking.ErrConflict, codes.Aborted, errorConflict},
}

var invalidArguments = []error{
	booking.ErrInvalidDate,
	booking.ErrInvalidTimeOfDay,
	booking.ErrInvalidReservationID,
	booking.ErrInvalidReservationNumber,
	booking.ErrInvalidEmail,
	booking.ErrInvalidCustomer,
	booking.ErrInvalidQuantity,
	booking.ErrInvalidProductID,
	booking.ErrInvalidMonth,
}

func mapToGRPCError(source error) error {
	for _, mapping := range grpcMappings {
		if errors.Is(source, mapping.target) {
			if reasons := booking.LimitReasons(source); len(reasons) > 0 {
				return status.Errorf(mapping.code, "%s: %v", mapping.message, reasons)
			}
			return status.Error(mapping.code, mapping.message)
		}
	}
	for _, target := range invalidArguments {
		if errors.Is(source, target) {
			return status.Error(codes.InvalidArgument, fmt.Sprintf("%s: %v", errorInvalidArgument, source))
		}
	}
	return status.Error(codes.Internal, source.Error())
}
