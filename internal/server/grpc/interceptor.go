package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// recoverInterceptor turns a handler panic into codes.Internal and logs failed calls.
func (s *HealthServer) recoverInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(ctx, "grpc handler panic", "method", info.FullMethod, "panic", r)
			resp, err = nil, status.Error(codes.Internal, "internal error")
		}
	}()

	resp, err = handler(ctx, req)
	if err != nil {
		s.logger.Debug(ctx, "grpc call failed", "method", info.FullMethod, "error", err)
	}
	return resp, err
}
