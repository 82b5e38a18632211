package simd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/GoSim-25-26J-441/cdnsim/internal/observability"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/logger"
)

// RunServiceName is the fully qualified gRPC service name
const RunServiceName = "cdnsim.v1.RunService"

// RunServiceServer is the run API over gRPC. Messages are
// google.protobuf.Struct values shaped like the HTTP JSON bodies.
type RunServiceServer interface {
	CreateRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StartRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StopRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type runCall func(RunServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func runMethod(name string, call runCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(RunServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + RunServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(RunServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// RunServiceDesc describes cdnsim.v1.RunService
var RunServiceDesc = grpc.ServiceDesc{
	ServiceName: RunServiceName,
	HandlerType: (*RunServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		runMethod("CreateRun", RunServiceServer.CreateRun),
		runMethod("StartRun", RunServiceServer.StartRun),
		runMethod("StopRun", RunServiceServer.StopRun),
		runMethod("GetRun", RunServiceServer.GetRun),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cdnsim/v1/run_service.proto",
}

// RegisterRunServiceServer registers srv on s
func RegisterRunServiceServer(s grpc.ServiceRegistrar, srv RunServiceServer) {
	s.RegisterService(&RunServiceDesc, srv)
}

// RunServiceClient calls cdnsim.v1.RunService
type RunServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewRunServiceClient(cc grpc.ClientConnInterface) *RunServiceClient {
	return &RunServiceClient{cc: cc}
}

func (c *RunServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+RunServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RunServiceClient) CreateRun(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "CreateRun", in, opts...)
}

func (c *RunServiceClient) StartRun(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "StartRun", in, opts...)
}

func (c *RunServiceClient) StopRun(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "StopRun", in, opts...)
}

func (c *RunServiceClient) GetRun(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetRun", in, opts...)
}

// RunGRPCServer implements RunServiceServer using a RunStore backend.
type RunGRPCServer struct {
	store    *RunStore
	Executor *RunExecutor
	logger   *slog.Logger
}

func NewRunGRPCServer(store *RunStore, executor *RunExecutor) *RunGRPCServer {
	return &RunGRPCServer{
		store:    store,
		Executor: executor,
		logger:   logger.Component("grpc"),
	}
}

// NewGRPCServer builds a gRPC server exposing the run service and the
// standard health service, instrumented with metrics and tracing.
func NewGRPCServer(store *RunStore, executor *RunExecutor, collector *observability.Collector) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(collector.UnaryServerInterceptor()),
	)
	RegisterRunServiceServer(srv, NewRunGRPCServer(store, executor))

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(RunServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

func (s *RunGRPCServer) CreateRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in struct {
		RunID string `json:"run_id"`
		RunInput
	}
	if err := decodeStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	rec, err := s.store.Create(in.RunID, &in.RunInput)
	if err != nil {
		return nil, grpcError(err)
	}
	s.logger.Info("Run created", "run_id", rec.Run().ID)
	return runStruct(rec)
}

func (s *RunGRPCServer) StartRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	rec, err := s.Executor.Start(runIDField(req))
	if err != nil {
		return nil, grpcError(err)
	}
	s.logger.Info("Run started", "run_id", rec.Run().ID)
	return runStruct(rec)
}

func (s *RunGRPCServer) StopRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	rec, err := s.Executor.Stop(runIDField(req))
	if err != nil {
		return nil, grpcError(err)
	}
	s.logger.Info("Run cancelled", "run_id", rec.Run().ID)
	return runStruct(rec)
}

func (s *RunGRPCServer) GetRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	runID := runIDField(req)
	if runID == "" {
		return nil, grpcError(ErrRunIDMissing)
	}
	rec, ok := s.store.Get(runID)
	if !ok {
		return nil, status.Error(codes.NotFound, "run not found")
	}
	return runStruct(rec)
}

func runIDField(req *structpb.Struct) string {
	return req.GetFields()["run_id"].GetStringValue()
}

// grpcError maps executor and store errors to gRPC status codes
func grpcError(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, ErrRunNotFound):
		code = codes.NotFound
	case errors.Is(err, ErrRunExists):
		code = codes.AlreadyExists
	case errors.Is(err, ErrRunTerminal), errors.Is(err, ErrNoLogStore):
		code = codes.FailedPrecondition
	case errors.Is(err, ErrRunIDMissing), errors.Is(err, ErrInvalidInput):
		code = codes.InvalidArgument
	}
	return status.Error(code, err.Error())
}

// runStruct renders {"run": ..., "report": ...} as a Struct
func runStruct(rec *RunRecord) (*structpb.Struct, error) {
	body := map[string]any{"run": rec.Run()}
	if report := rec.Report(); report != nil {
		body["report"] = report
	}
	out, err := encodeStruct(body)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// encodeStruct converts v to a Struct through its JSON form
func encodeStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// decodeStruct fills v from the JSON form of s
func decodeStruct(s *structpb.Struct, v any) error {
	if s == nil {
		return fmt.Errorf("request is required")
	}
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}
