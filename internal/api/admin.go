package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/victornm/chatquiz/internal/errors"
)

const adminServiceName = "chatquiz.admin.v1.AdminService"

// AdminServer is the operator gRPC service. Its messages are protobuf
// well-known types, so it needs no generated code.
type AdminServer interface {
	GetSession(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetScores(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Abort(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Reset(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: adminServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetSession", AdminServer.GetSession),
		unary("GetScores", AdminServer.GetScores),
		unary("Abort", AdminServer.Abort),
		unary("Reset", AdminServer.Reset),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "chatquiz/admin/v1/admin.proto",
}

func unary[Resp any](method string, call func(AdminServer, context.Context, *emptypb.Empty) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(emptypb.Empty)
			if err := dec(in); err != nil {
				return nil, err
			}

			if interceptor == nil {
				return call(srv.(AdminServer), ctx, in)
			}

			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: fullMethod(method),
			}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(AdminServer), ctx, req.(*emptypb.Empty))
			})
		},
	}
}

func fullMethod(method string) string {
	return "/" + adminServiceName + "/" + method
}

func (a *API) GetSession(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(a.sessionFields())
	if err != nil {
		return nil, errors.Internal(fmt.Errorf("encode session: %w", err))
	}
	return st, nil
}

func (a *API) GetScores(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	f, err := a.scoreFields()
	if err != nil {
		return nil, errors.Convert(err)
	}

	st, err := structpb.NewStruct(f)
	if err != nil {
		return nil, errors.Internal(fmt.Errorf("encode scores: %w", err))
	}
	return st, nil
}

func (a *API) Abort(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := a.session.Abort(ctx); err != nil {
		return nil, errors.Convert(err)
	}
	return &emptypb.Empty{}, nil
}

func (a *API) Reset(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	a.session.Reset(ctx)
	return &emptypb.Empty{}, nil
}

// AdminClient calls AdminServer on a remote connection.
type AdminClient struct {
	cc grpc.ClientConnInterface
}

func NewAdminClient(cc grpc.ClientConnInterface) *AdminClient {
	return &AdminClient{cc: cc}
}

func (c *AdminClient) GetSession(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod("GetSession"), &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AdminClient) GetScores(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod("GetScores"), &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AdminClient) Abort(ctx context.Context, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, fullMethod("Abort"), &emptypb.Empty{}, new(emptypb.Empty), opts...)
}

func (c *AdminClient) Reset(ctx context.Context, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, fullMethod("Reset"), &emptypb.Empty{}, new(emptypb.Empty), opts...)
}
