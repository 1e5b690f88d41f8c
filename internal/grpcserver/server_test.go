package grpcserver

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/popupshop/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/popupshop/pkg/booking"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

const bufconnSize = 1 << 20

// Wednesday 2024-05-01 09:30 UTC.
var testNow = time.Date(2024, time.May, 1, 9, 30, 0, 0, time.UTC)

func startReservationClient(t *testing.T) (*ReservationServiceClient, *booking.Service, *grpc.ClientConn) {
	t.Helper()
	service, err := booking.NewService(memstore.New(), func() time.Time { return testNow })
	if err != nil {
		t.Fatalf("booking service init failed: %v", err)
	}

	listener := bufconn.Listen(bufconnSize)
	grpcServer := NewServer(service, zap.NewNop())
	go func() {
		if serveErr := grpcServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			t.Logf("gRPC server error: %v", serveErr)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	}
	conn, err := grpc.NewClient("passthrough:///bufnet", grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("gRPC client init failed: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		grpcServer.Stop()
	})
	return NewReservationServiceClient(conn), service, conn
}

func mustStruct(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	value, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("struct build failed: %v", err)
	}
	return value
}

func mustSeedSlot(t *testing.T, service *booking.Service, date string, clock string, capacity int) {
	t.Helper()
	visitDate, err := booking.ParseDate(date)
	if err != nil {
		t.Fatalf("parse date: %v", err)
	}
	visitTime, err := booking.ParseTimeOfDay(clock)
	if err != nil {
		t.Fatalf("parse time: %v", err)
	}
	if _, err := service.Slots().Create(context.Background(), visitDate, visitTime, capacity); err != nil {
		t.Fatalf("create slot: %v", err)
	}
}

func expectCode(t *testing.T, err error, expected codes.Code) {
	t.Helper()
	if status.Code(err) != expected {
		t.Fatalf("expected %s, got %v", expected, err)
	}
}

func TestReservationLifecycleOverGRPC(t *testing.T) {
	client, service, _ := startReservationClient(t)
	mustSeedSlot(t, service, "2024-05-10", "10:00", 1)
	mustSeedSlot(t, service, "2024-05-12", "14:00", 1)
	ctx := context.Background()

	created, err := client.CreateReservation(ctx, mustStruct(t, map[string]any{
		"email":      "visitor@example.com",
		"name":       "Visitor",
		"visit_date": "2024-05-10",
		"visit_time": "10:00",
	}))
	if err != nil {
		t.Fatalf("create reservation: %v", err)
	}
	reservationID := created.GetFields()["id"].GetStringValue()
	number := created.GetFields()["number"].GetStringValue()
	if created.GetFields()["status"].GetStringValue() != "confirmed" {
		t.Fatalf("unexpected reservation: %v", created)
	}

	_, err = client.CreateReservation(ctx, mustStruct(t, map[string]any{
		"email":      "late@example.com",
		"name":       "Late",
		"visit_date": "2024-05-10",
		"visit_time": "10:00",
	}))
	expectCode(t, err, codes.FailedPrecondition)

	byNumber, err := client.GetReservation(ctx, mustStruct(t, map[string]any{"number": number}))
	if err != nil {
		t.Fatalf("get by number: %v", err)
	}
	if byNumber.GetFields()["id"].GetStringValue() != reservationID {
		t.Fatalf("expected %s, got %v", reservationID, byNumber)
	}

	moved, err := client.RescheduleReservation(ctx, mustStruct(t, map[string]any{
		"id":         reservationID,
		"visit_date": "2024-05-12",
		"visit_time": "14:00",
	}))
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if moved.GetFields()["visit_date"].GetStringValue() != "2024-05-12" {
		t.Fatalf("unexpected reschedule result: %v", moved)
	}

	completed, err := client.CompleteReservation(ctx, mustStruct(t, map[string]any{"id": reservationID}))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.GetFields()["status"].GetStringValue() != "completed" {
		t.Fatalf("unexpected completion: %v", completed)
	}
	_, err = client.CancelReservation(ctx, mustStruct(t, map[string]any{"id": reservationID}))
	expectCode(t, err, codes.FailedPrecondition)
}

func TestGRPCErrorMapping(t *testing.T) {
	client, _, _ := startReservationClient(t)
	ctx := context.Background()

	_, err := client.GetReservation(ctx, mustStruct(t, map[string]any{"id": "missing"}))
	expectCode(t, err, codes.NotFound)

	_, err = client.CancelReservation(ctx, mustStruct(t, map[string]any{}))
	expectCode(t, err, codes.InvalidArgument)

	_, err = client.CreateReservation(ctx, mustStruct(t, map[string]any{
		"email":      "visitor@example.com",
		"name":       "Visitor",
		"visit_date": "2024-05-10",
		"visit_time": "10:00",
	}))
	expectCode(t, err, codes.NotFound)

	_, err = client.GetMonthView(ctx, mustStruct(t, map[string]any{"year": 2024, "month": 0}))
	expectCode(t, err, codes.InvalidArgument)

	if mapped := mapToGRPCError(booking.Unavailable(errors.New("connection refused"))); status.Code(mapped) != codes.Unavailable {
		t.Fatalf("expected unavailable, got %v", mapped)
	}
	if mapped := mapToGRPCError(errors.New("boom")); status.Code(mapped) != codes.Internal {
		t.Fatalf("expected internal, got %v", mapped)
	}
}

func TestMonthViewOverGRPC(t *testing.T) {
	client, service, _ := startReservationClient(t)
	mustSeedSlot(t, service, "2024-02-29", "10:00", 5)

	view, err := client.GetMonthView(context.Background(), mustStruct(t, map[string]any{"year": 2024, "month": 2}))
	if err != nil {
		t.Fatalf("month view: %v", err)
	}
	days := view.GetFields()["days"].GetListValue().GetValues()
	if len(days) != 29 {
		t.Fatalf("expected 29 days, got %d", len(days))
	}
	leapDay := days[28].GetStructValue().GetFields()
	if leapDay["status"].GetStringValue() != string(booking.DayAvailable) || leapDay["available_slots"].GetNumberValue() != 5 {
		t.Fatalf("unexpected leap day: %v", leapDay)
	}
}

func TestHealthServiceReportsServing(t *testing.T) {
	_, _, conn := startReservationClient(t)
	response, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if response.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected serving, got %s", response.GetStatus())
	}
}
