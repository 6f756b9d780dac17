package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// FullMethod returns the gRPC full method name for service and method.
func FullMethod(service, method string) string {
	return "/" + service + "/" + method
}

// Unary builds a MethodDesc that decodes a *Req, runs it through the server's interceptor chain,
// and dispatches to call. S is the concrete server type registered with the ServiceDesc.
func Unary[S any, Req any, Resp any](service, method string, call func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := FullMethod(service, method)
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(S)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// Invoke calls a unary method on conn using the JSON codec.
func Invoke(ctx context.Context, conn grpc.ClientConnInterface, fullMethod string, req, resp any, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return conn.Invoke(ctx, fullMethod, req, resp, opts...)
}
