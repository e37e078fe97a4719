package server

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matt-riley/rollout/internal/core"
	"github.com/matt-riley/rollout/internal/service"
)

// EvaluatorServiceName is the fully qualified gRPC service name. Requests
// and responses are google.protobuf.Struct messages with the same field
// names as the HTTP API.
const EvaluatorServiceName = "rollout.v1.Evaluator"

// EvaluatorServer is the server API for the rollout.v1.Evaluator service.
type EvaluatorServer interface {
	Evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	EvaluateAll(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	UpcomingChanges(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// EvaluatorServiceDesc describes rollout.v1.Evaluator for grpc.Server.
var EvaluatorServiceDesc = grpc.ServiceDesc{
	ServiceName: EvaluatorServiceName,
	HandlerType: (*EvaluatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Evaluate", Handler: evaluatorHandler("Evaluate", EvaluatorServer.Evaluate)},
		{MethodName: "EvaluateAll", Handler: evaluatorHandler("EvaluateAll", EvaluatorServer.EvaluateAll)},
		{MethodName: "UpcomingChanges", Handler: evaluatorHandler("UpcomingChanges", EvaluatorServer.UpcomingChanges)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rollout/v1/evaluator.proto",
}

// RegisterEvaluatorServer registers srv on s.
func RegisterEvaluatorServer(s grpc.ServiceRegistrar, srv EvaluatorServer) {
	s.RegisterService(&EvaluatorServiceDesc, srv)
}

type evaluatorMethod func(EvaluatorServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func evaluatorHandler(name string, method evaluatorMethod) grpc.MethodHandler {
	fullMethod := "/" + EvaluatorServiceName + "/" + name
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return method(srv.(EvaluatorServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return method(srv.(EvaluatorServer), ctx, req.(*structpb.Struct))
		})
	}
}

// GRPCServer implements rollout.v1.Evaluator on top of a [Service].
type GRPCServer struct {
	service Service
}

var _ EvaluatorServer = (*GRPCServer)(nil)

func NewGRPCServer(svc Service) *GRPCServer {
	if svc == nil {
		panic("service is nil")
	}
	return &GRPCServer{service: svc}
}

func (s *GRPCServer) Evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name := stringField(req, "flag")
	if strings.TrimSpace(name) == "" {
		return nil, status.Error(codes.InvalidArgument, "flag is required")
	}

	evalCtx, err := structEvaluationContext(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	trackUsage := true
	if v, ok := req.GetFields()["track_usage"]; ok {
		b, isBool := v.GetKind().(*structpb.Value_BoolValue)
		if !isBool {
			return nil, status.Error(codes.InvalidArgument, "track_usage must be a boolean")
		}
		trackUsage = b.BoolValue
	}

	results, err := s.service.EvaluateBatch(ctx, []service.EvaluateRequest{{
		Flag:       name,
		Context:    evalCtx,
		TrackUsage: trackUsage,
	}})
	if err != nil {
		return nil, toGRPCError(err)
	}
	if len(results) != 1 {
		return nil, status.Error(codes.Internal, "internal server error")
	}

	return structpb.NewStruct(map[string]any{
		"flag":    results[0].Flag,
		"enabled": results[0].Enabled,
		"reason":  string(results[0].Reason),
	})
}

func (s *GRPCServer) EvaluateAll(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	evalCtx, err := structEvaluationContext(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	flags, err := s.service.EvaluateAll(ctx, evalCtx)
	if err != nil {
		return nil, toGRPCError(err)
	}

	out := make(map[string]any, len(flags))
	for name, enabled := range flags {
		out[name] = enabled
	}
	return structpb.NewStruct(map[string]any{"flags": out})
}

func (s *GRPCServer) UpcomingChanges(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	withinHours := defaultWithinHours
	if v, ok := req.GetFields()["within_hours"]; ok {
		n := v.GetNumberValue()
		if _, isNumber := v.GetKind().(*structpb.Value_NumberValue); !isNumber || n != math.Trunc(n) || n > math.MaxInt32 {
			return nil, status.Error(codes.InvalidArgument, "within_hours must be an integer")
		}
		withinHours = int(n)
	}

	changes, err := s.service.UpcomingChanges(ctx, withinHours)
	if err != nil {
		return nil, toGRPCError(err)
	}

	out := make([]any, 0, len(changes))
	for _, change := range changes {
		out = append(out, map[string]any{
			"flag_name":   change.FlagName,
			"change_time": change.ChangeTime.UTC().Format(time.RFC3339),
			"change_type": string(change.ChangeType),
			"time_zone":   change.TimeZone,
		})
	}
	return structpb.NewStruct(map[string]any{"changes": out})
}

func stringField(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

func structEvaluationContext(req *structpb.Struct) (core.EvaluationContext, error) {
	var attributes map[string]any
	if v, ok := req.GetFields()["attributes"]; ok {
		s := v.GetStructValue()
		if s == nil {
			return core.EvaluationContext{}, errors.New("attributes must be an object")
		}
		attributes = s.AsMap()
	}
	return evaluationContext(stringField(req, "user_id"), attributes)
}

func toGRPCError(err error) error {
	if err == nil {
		return nil
	}

	if _, ok := status.FromError(err); ok {
		return err
	}

	switch code := serviceErrorStatus(err); {
	case errors.Is(err, service.ErrFlagNotFound):
		return status.Error(codes.NotFound, "flag not found")
	case code == http.StatusBadRequest:
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	default:
		return status.Error(codes.Internal, "internal server error")
	}
}
