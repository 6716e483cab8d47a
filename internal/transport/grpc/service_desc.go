package grpc

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "appointly.booking.v1.BookingService"

// BookingServiceServer is the server API of the booking service.
type BookingServiceServer interface {
	ListAvailableSlots(context.Context, *ListAvailableSlotsRequest) (*ListAvailableSlotsResponse, error)
	BookAppointment(context.Context, *BookAppointmentRequest) (*AppointmentResponse, error)
	RescheduleAppointment(context.Context, *RescheduleAppointmentRequest) (*AppointmentResponse, error)
	ChangeStatus(context.Context, *ChangeStatusRequest) (*AppointmentResponse, error)
	GetAppointment(context.Context, *GetAppointmentRequest) (*AppointmentResponse, error)
	ListAppointments(context.Context, *ListAppointmentsRequest) (*ListAppointmentsResponse, error)
	CreateAvailability(context.Context, *CreateAvailabilityRequest) (*AvailabilityResponse, error)
	ListAvailability(context.Context, *ListAvailabilityRequest) (*ListAvailabilityResponse, error)
}

var BookingServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BookingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListAvailableSlots", Handler: unary("ListAvailableSlots", BookingServiceServer.ListAvailableSlots)},
		{MethodName: "BookAppointment", Handler: unary("BookAppointment", BookingServiceServer.BookAppointment)},
		{MethodName: "RescheduleAppointment", Handler: unary("RescheduleAppointment", BookingServiceServer.RescheduleAppointment)},
		{MethodName: "ChangeStatus", Handler: unary("ChangeStatus", BookingServiceServer.ChangeStatus)},
		{MethodName: "GetAppointment", Handler: unary("GetAppointment", BookingServiceServer.GetAppointment)},
		{MethodName: "ListAppointments", Handler: unary("ListAppointments", BookingServiceServer.ListAppointments)},
		{MethodName: "CreateAvailability", Handler: unary("CreateAvailability", BookingServiceServer.CreateAvailability)},
		{MethodName: "ListAvailability", Handler: unary("ListAvailability", BookingServiceServer.ListAvailability)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "appointly/booking/v1/booking.proto",
}

func RegisterBookingServiceServer(s grpc.ServiceRegistrar, srv BookingServiceServer) {
	s.RegisterService(&BookingServiceDesc, srv)
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unary[Req, Resp any](method string, call func(BookingServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BookingServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod(method),
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(BookingServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// BookingServiceClient calls the booking service over a JSON-coded connection.
type BookingServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewBookingServiceClient(cc grpc.ClientConnInterface) *BookingServiceClient {
	return &BookingServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BookingServiceClient) ListAvailableSlots(ctx context.Context, in *ListAvailableSlotsRequest, opts ...grpc.CallOption) (*ListAvailableSlotsResponse, error) {
	return invoke[ListAvailableSlotsResponse](ctx, c.cc, "ListAvailableSlots", in, opts)
}

func (c *BookingServiceClient) BookAppointment(ctx context.Context, in *BookAppointmentRequest, opts ...grpc.CallOption) (*AppointmentResponse, error) {
	return invoke[AppointmentResponse](ctx, c.cc, "BookAppointment", in, opts)
}

func (c *BookingServiceClient) RescheduleAppointment(ctx context.Context, in *RescheduleAppointmentRequest, opts ...grpc.CallOption) (*AppointmentResponse, error) {
	return invoke[AppointmentResponse](ctx, c.cc, "RescheduleAppointment", in, opts)
}

func (c *BookingServiceClient) ChangeStatus(ctx context.Context, in *ChangeStatusRequest, opts ...grpc.CallOption) (*AppointmentResponse, error) {
	return invoke[AppointmentResponse](ctx, c.cc, "ChangeStatus", in, opts)
}

func (c *BookingServiceClient) GetAppointment(ctx context.Context, in *GetAppointmentRequest, opts ...grpc.CallOption) (*AppointmentResponse, error) {
	return invoke[AppointmentResponse](ctx, c.cc, "GetAppointment", in, opts)
}

func (c *BookingServiceClient) ListAppointments(ctx context.Context, in *ListAppointmentsRequest, opts ...grpc.CallOption) (*ListAppointmentsResponse, error) {
	return invoke[ListAppointmentsResponse](ctx, c.cc, "ListAppointments", in, opts)
}

func (c *BookingServiceClient) CreateAvailability(ctx context.Context, in *CreateAvailabilityRequest, opts ...grpc.CallOption) (*AvailabilityResponse, error) {
	return invoke[AvailabilityResponse](ctx, c.cc, "CreateAvailability", in, opts)
}

func (c *BookingServiceClient) ListAvailability(ctx context.Context, in *ListAvailabilityRequest, opts ...grpc.CallOption) (*ListAvailabilityResponse, error) {
	return invoke[ListAvailabilityResponse](ctx, c.cc, "ListAvailability", in, opts)
}
