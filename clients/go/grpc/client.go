// Package grpc provides a gRPC client for the rollout evaluator service.
//
// Requests and responses are google.protobuf.Struct messages, so no generated
// stubs are needed.
package grpc

import (
	"context"
	"fmt"
	"time"

	rollout "github.com/matt-riley/rollout/clients/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "rollout.v1.Evaluator"

const (
	methodEvaluate        = "/" + serviceName + "/Evaluate"
	methodEvaluateAll     = "/" + serviceName + "/EvaluateAll"
	methodUpcomingChanges = "/" + serviceName + "/UpcomingChanges"
)

// Config holds configuration for the gRPC client.
type Config struct {
	// Address is the host:port of the rollout gRPC server, e.g. "localhost:9090".
	Address string
	// APIKey is the bearer token in "id.secret" format.
	APIKey string
	// DialOpts are additional gRPC dial options (e.g. TLS credentials).
	// If empty, insecure credentials are used.
	DialOpts []grpc.DialOption
}

// Client implements rollout.Evaluator over gRPC.
type Client struct {
	cfg  Config
	conn *grpc.ClientConn
}

var _ rollout.Evaluator = (*Client)(nil)

// NewGRPCClient dials the rollout gRPC server and returns a new client.
// Call Close() when done.
func NewGRPCClient(cfg Config) (*Client, error) {
	opts := []grpc.DialOption{}
	if len(cfg.DialOpts) > 0 {
		opts = append(opts, cfg.DialOpts...)
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("rollout: grpc dial: %w", err)
	}
	return &Client{cfg: cfg, conn: conn}, nil
}

// Close closes the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// authCtx injects the bearer token into outgoing gRPC metadata.
func (c *Client) authCtx(ctx context.Context) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.cfg.APIKey)
}

func (c *Client) invoke(ctx context.Context, method string, fields map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("rollout: encode request: %w", err)
	}
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(c.authCtx(ctx), method, req, resp); err != nil {
		return nil, fmt.Errorf("rollout: %s: %w", method, err)
	}
	return resp, nil
}

// -- wire helpers ------------------------------------------------------------

func contextFields(evalCtx rollout.EvaluationContext) map[string]any {
	fields := map[string]any{"user_id": evalCtx.UserID}
	if len(evalCtx.Attributes) > 0 {
		fields["attributes"] = evalCtx.Attributes
	}
	return fields
}

func structToResult(s *structpb.Struct) rollout.EvaluateResult {
	fields := s.GetFields()
	return rollout.EvaluateResult{
		Flag:    fields["flag"].GetStringValue(),
		Enabled: fields["enabled"].GetBoolValue(),
		Reason:  fields["reason"].GetStringValue(),
	}
}

func structToChanges(s *structpb.Struct) ([]rollout.ScheduledChange, error) {
	values := s.GetFields()["changes"].GetListValue().GetValues()
	changes := make([]rollout.ScheduledChange, 0, len(values))
	for i, v := range values {
		fields := v.GetStructValue().GetFields()
		changeTime, err := time.Parse(time.RFC3339, fields["change_time"].GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("rollout: decode changes[%d].change_time: %w", i, err)
		}
		changes = append(changes, rollout.ScheduledChange{
			FlagName:   fields["flag_name"].GetStringValue(),
			ChangeTime: changeTime,
			ChangeType: fields["change_type"].GetStringValue(),
			TimeZone:   fields["time_zone"].GetStringValue(),
		})
	}
	return changes, nil
}

// -- Evaluator ---------------------------------------------------------------

// Evaluate returns defaultValue alongside any error.
func (c *Client) Evaluate(ctx context.Context, name string, evalCtx rollout.EvaluationContext, defaultValue bool) (bool, error) {
	result, err := c.evaluate(ctx, rollout.EvaluateRequest{Flag: name, Context: evalCtx})
	if err != nil {
		return defaultValue, err
	}
	return result.Enabled, nil
}

func (c *Client) evaluate(ctx context.Context, req rollout.EvaluateRequest) (rollout.EvaluateResult, error) {
	fields := contextFields(req.Context)
	fields["flag"] = req.Flag
	fields["track_usage"] = !req.SkipUsage
	resp, err := c.invoke(ctx, methodEvaluate, fields)
	if err != nil {
		return rollout.EvaluateResult{}, err
	}
	return structToResult(resp), nil
}

// EvaluateBatch issues one Evaluate call per request and stops at the first
// error.
func (c *Client) EvaluateBatch(ctx context.Context, reqs []rollout.EvaluateRequest) ([]rollout.EvaluateResult, error) {
	results := make([]rollout.EvaluateResult, 0, len(reqs))
	for _, req := range reqs {
		result, err := c.evaluate(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("rollout: evaluate %q: %w", req.Flag, err)
		}
		results = append(results, result)
	}
	return results, nil
}

func (c *Client) EvaluateAll(ctx context.Context, evalCtx rollout.EvaluationContext) (map[string]bool, error) {
	resp, err := c.invoke(ctx, methodEvaluateAll, contextFields(evalCtx))
	if err != nil {
		return nil, err
	}
	flags := resp.GetFields()["flags"].GetStructValue().GetFields()
	out := make(map[string]bool, len(flags))
	for name, v := range flags {
		out[name] = v.GetBoolValue()
	}
	return out, nil
}

// UpcomingChanges lists schedule changes due within the next withinHours.
func (c *Client) UpcomingChanges(ctx context.Context, withinHours int) ([]rollout.ScheduledChange, error) {
	resp, err := c.invoke(ctx, methodUpcomingChanges, map[string]any{"within_hours": withinHours})
	if err != nil {
		return nil, err
	}
	return structToChanges(resp)
}
