package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "popupshop.v1.ReservationService"

const (
	methodCreateReservation     = "CreateReservation"
	methodGetReservation        = "GetReservation"
	methodRescheduleReservation = "RescheduleReservation"
	methodCancelReservation     = "CancelReservation"
	methodCompleteReservation   = "CompleteReservation"
	methodGetMonthView          = "GetMonthView"
)

// ReservationServiceServer is the server API of popupshop.v1.ReservationService.
// Every message is a google.protobuf.Struct.
type ReservationServiceServer interface {
	CreateReservation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetReservation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RescheduleReservation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelReservation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CompleteReservation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetMonthView(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(ReservationServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			request := new(structpb.Struct)
			if err := decode(request); err != nil {
				return nil, err
			}
			server := srv.(ReservationServiceServer)
			if interceptor == nil {
				return call(server, ctx, request)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, request, info, func(ctx context.Context, request any) (any, error) {
				return call(server, ctx, request.(*structpb.Struct))
			})
		},
	}
}

// ReservationServiceDesc describes the service for grpc.Server registration.
var ReservationServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ReservationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(methodCreateReservation, ReservationServiceServer.CreateReservation),
		unaryMethod(methodGetReservation, ReservationServiceServer.GetReservation),
		unaryMethod(methodRescheduleReservation, ReservationServiceServer.RescheduleReservation),
		unaryMethod(methodCancelReservation, ReservationServiceServer.CancelReservation),
		unaryMethod(methodCompleteReservation, ReservationServiceServer.CompleteReservation),
		unaryMethod(methodGetMonthView, ReservationServiceServer.GetMonthView),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "popupshop/v1/reservation.proto",
}

// RegisterReservationServiceServer attaches server to registrar.
func RegisterReservationServiceServer(registrar grpc.ServiceRegistrar, server ReservationServiceServer) {
	registrar.RegisterService(&ReservationServiceDesc, server)
}

// ReservationServiceClient calls popupshop.v1.ReservationService.
type ReservationServiceClient struct {
	conn grpc.ClientConnInterface
}

// NewReservationServiceClient wraps conn.
func NewReservationServiceClient(conn grpc.ClientConnInterface) *ReservationServiceClient {
	return &ReservationServiceClient{conn: conn}
}

func (client *ReservationServiceClient) invoke(ctx context.Context, method string, request *structpb.Struct, options ...grpc.CallOption) (*structpb.Struct, error) {
	response := new(structpb.Struct)
	if err := client.conn.Invoke(ctx, fullMethod(method), request, response, options...); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *ReservationServiceClient) CreateReservation(ctx context.Context, request *structpb.Struct, options ...grpc.CallOption) (*structpb.Struct, error) {
	return client.invoke(ctx, methodCreateReservation, request, options...)
}

func (client *ReservationServiceClient) GetReservation(ctx context.Context, request *structpb.Struct, options ...grpc.CallOption) (*structpb.Struct, error) {
	return client.invoke(ctx, methodGetReservation, request, options...)
}

func (client *ReservationServiceClient) RescheduleReservation(ctx context.Context, request *structpb.Struct, options ...grpc.CallOption) (*structpb.Struct, error) {
	return client.invoke(ctx, methodRescheduleReservation, request, options...)
}

func (client *ReservationServiceClient) CancelReservation(ctx context.Context, request *structpb.Struct, options ...grpc.CallOption) (*structpb.Struct, error) {
	return client.invoke(ctx, methodCancelReservation, request, options...)
}

func (client *ReservationServiceClient) CompleteReservation(ctx context.Context, request *structpb.Struct, options ...grpc.CallOption) (*structpb.Struct, error) {
	return client.invoke(ctx, methodCompleteReservation, request, options...)
}

func (client *ReservationServiceClient) GetMonthView(ctx context.Context, request *structpb.Struct, options ...grpc.CallOption) (*structpb.Struct, error) {
	return client.invoke(ctx, methodGetMonthView, request, options...)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}
