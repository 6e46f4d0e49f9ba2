// Package grpc implements the mission transport over gRPC.
//
// The service is autodrone.v1.Missions with two unary methods:
//
//	Submit(google.protobuf.Struct) returns (google.protobuf.Struct)
//	Stop(google.protobuf.Empty) returns (google.protobuf.Empty)
//
// Submit takes {text | audio (base64), content_type, source, language,
// response_mode} and answers the mission result as a Struct with the same
// field names as the HTTP API. Well-known types keep both ends free of
// generated code.
package grpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/fuangela/AutoDrone/internal/dispatch"
	"github.com/fuangela/AutoDrone/internal/mission"
	"github.com/fuangela/AutoDrone/internal/transport"
)

const serviceName = "autodrone.v1.Missions"

// Full method names, for clients.
const (
	SubmitMethod = "/" + serviceName + "/Submit"
	StopMethod   = "/" + serviceName + "/Stop"
)

// missionsServer is the handler type the service descriptor dispatches to.
type missionsServer interface {
	Submit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Stop(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*missionsServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Submit",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				in := new(structpb.Struct)
				if err := dec(in); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(missionsServer).Submit(ctx, in)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SubmitMethod}
				return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
					return srv.(missionsServer).Submit(ctx, req.(*structpb.Struct))
				})
			},
		},
		{
			MethodName: "Stop",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				in := new(emptypb.Empty)
				if err := dec(in); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(missionsServer).Stop(ctx, in)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StopMethod}
				return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
					return srv.(missionsServer).Stop(ctx, req.(*emptypb.Empty))
				})
			},
		},
	},
	Metadata: "autodrone/v1/missions.proto",
}

// Transport serves autodrone.v1.Missions.
type Transport struct {
	port   int
	server *grpc.Server
}

// New creates a new gRPC transport on the given port.
func New(port int) *Transport {
	return &Transport{port: port}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "grpc" }

// Listen binds the port and serves until ctx is cancelled.
func (t *Transport) Listen(ctx context.Context, svc transport.Service) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", t.port))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	slog.Info("grpc transport listening", "port", t.port)
	return t.Serve(ctx, lis, svc)
}

// Serve serves on an existing listener until ctx is cancelled.
func (t *Transport) Serve(ctx context.Context, lis net.Listener, svc transport.Service) error {
	t.server = grpc.NewServer(grpc.UnaryInterceptor(logUnary))
	t.server.RegisterService(&serviceDesc, &server{svc: svc})

	go func() {
		<-ctx.Done()
		slog.Info("grpc transport shutting down")
		t.server.GracefulStop()
	}()

	if err := t.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// Close gracefully stops the gRPC server.
func (t *Transport) Close() error {
	if t.server != nil {
		t.server.GracefulStop()
	}
	return nil
}

func logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		slog.Debug("grpc call failed", "method", info.FullMethod, "code", status.Code(err), "error", err)
	}
	return resp, err
}

type server struct {
	svc transport.Service
}

func (s *server) Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := requestFromStruct(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.Source == "" {
		if p, ok := peer.FromContext(ctx); ok {
			req.Source = p.Addr.String()
		}
	}

	result, err := s.svc.Handle(ctx, req)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	switch result.Status {
	case mission.StatusBusy:
		return nil, status.Error(codes.Unavailable, result.Error)
	case mission.StatusRejected:
		return nil, status.Error(codes.InvalidArgument, result.Error)
	}

	out, err := resultToStruct(result)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *server) Stop(_ context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if _, err := s.svc.Cancel(); err != nil {
		if errors.Is(err, dispatch.ErrNoMission) {
			return nil, status.Error(codes.NotFound, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &emptypb.Empty{}, nil
}

func requestFromStruct(in *structpb.Struct) (*mission.Request, error) {
	f := in.GetFields()
	req := &mission.Request{
		ID:           f["id"].GetStringValue(),
		Source:       f["source"].GetStringValue(),
		Text:         f["text"].GetStringValue(),
		ContentType:  f["content_type"].GetStringValue(),
		Language:     f["language"].GetStringValue(),
		ResponseMode: mission.ResponseMode(f["response_mode"].GetStringValue()),
	}
	if a := f["audio"].GetStringValue(); a != "" {
		audio, err := base64.StdEncoding.DecodeString(a)
		if err != nil {
			return nil, fmt.Errorf("audio is not base64: %w", err)
		}
		req.Audio = audio
	}
	return req, nil
}

// resultToStruct goes through JSON so the Struct carries the same field
// names and nesting as the HTTP response.
func resultToStruct(r *mission.Result) (*structpb.Struct, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return structpb.NewStruct(m)
}
