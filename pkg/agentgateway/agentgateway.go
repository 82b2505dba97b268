// Package agentgateway implements Trinity's AgentGateway: the collaborator
// that actually talks to the external agent runtime. The core engine
// treats it as a black box (SPEC_FULL.md §1): it submits a rendered task
// and gets back content, cost, and token usage, or a classified failure.
//
// Grounded on the teacher's pkg/agent/llm_grpc.go (grpc.NewClient with
// insecure transport credentials, one RPC per call), but without a
// generated protobuf service client: rather than hand-authoring .pb.go
// stubs (which would mean fabricating generated code without running
// protoc), requests and responses are carried as
// google.golang.org/protobuf/types/known/structpb.Struct, a well-known
// message type the protobuf module already provides, invoked directly
// through grpc.ClientConn.Invoke against a fixed method set.
package agentgateway

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/trinity-run/trinity/pkg/errs"
	"github.com/trinity-run/trinity/pkg/events"
	"github.com/trinity-run/trinity/pkg/stephandlers"
)

const (
	serviceName = "trinity.agentgateway.v1.AgentGateway"

	methodExecuteTask    = "/" + serviceName + "/ExecuteTask"
	methodIsAvailable    = "/" + serviceName + "/IsAvailable"
	methodNotifyAwareness = "/" + serviceName + "/NotifyAwareness"
)

// AgentGateway is the full collaborator surface: task execution for
// queue.Gateway, an availability check (IsAvailable, which no other
// package in this module calls), and awareness delivery for
// events.AwarenessNotifier.
type AgentGateway interface {
	ExecuteTask(ctx context.Context, agentName string, task stephandlers.AgentTask) (stephandlers.AgentTaskResult, error)
	IsAvailable(ctx context.Context, agentName string) (bool, error)
	NotifyAwareness(ctx context.Context, agentID string, evt events.AwarenessEvent) error
}

// GRPCGateway is the production AgentGateway, talking to the agent
// runtime over a single long-lived grpc connection. Uses insecure
// (plaintext) transport, matching the teacher: the runtime is expected to
// run as a sidecar or on localhost, never across an untrusted network
// boundary.
type GRPCGateway struct {
	conn *grpc.ClientConn
}

// Dial opens a connection to the agent runtime at addr.
func Dial(addr string) (*GRPCGateway, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create agent gateway client for %s: %w", addr, err)
	}
	return &GRPCGateway{conn: conn}, nil
}

// Close releases the underlying connection.
func (g *GRPCGateway) Close() error {
	return g.conn.Close()
}

// ExecuteTask runs task on agentName and blocks for the result, satisfying
// pkg/queue.Gateway.
func (g *GRPCGateway) ExecuteTask(ctx context.Context, agentName string, task stephandlers.AgentTask) (stephandlers.AgentTaskResult, error) {
	req, err := structpb.NewStruct(map[string]any{
		"agent_name":   agentName,
		"message":      task.Message,
		"timeout_nanos": task.Timeout,
	})
	if err != nil {
		return stephandlers.AgentTaskResult{}, errs.Wrap(errs.InternalError, "failed to encode agent task request", err)
	}

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, methodExecuteTask, req, resp); err != nil {
		return stephandlers.AgentTaskResult{}, classifyInvokeError(err)
	}

	fields := resp.GetFields()
	result := stephandlers.AgentTaskResult{
		Content:    fields["content"].GetStringValue(),
		Cost:       fields["cost"].GetNumberValue(),
		TokensUsed: int(fields["tokens_used"].GetNumberValue()),
		ErrKind:    fields["error_kind"].GetStringValue(),
		ErrMsg:     fields["error_message"].GetStringValue(),
	}
	return result, nil
}

// IsAvailable reports whether agentName currently has capacity. Neither
// the scheduler nor /healthz calls it.
func (g *GRPCGateway) IsAvailable(ctx context.Context, agentName string) (bool, error) {
	req, err := structpb.NewStruct(map[string]any{"agent_name": agentName})
	if err != nil {
		return false, errs.Wrap(errs.InternalError, "failed to encode availability request", err)
	}
	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, methodIsAvailable, req, resp); err != nil {
		return false, classifyInvokeError(err)
	}
	return resp.GetFields()["available"].GetBoolValue(), nil
}

// NotifyAwareness delivers a compact informed-agent notification,
// satisfying events.AwarenessNotifier. Best-effort from the caller's
// perspective: the awareness sink already logs and swallows errors.
func (g *GRPCGateway) NotifyAwareness(ctx context.Context, agentID string, evt events.AwarenessEvent) error {
	req, err := structpb.NewStruct(map[string]any{
		"agent_id":     agentID,
		"type":         string(evt.Type),
		"execution_id": evt.ExecutionID,
		"step_id":      evt.StepID,
		"summary":      evt.Summary,
	})
	if err != nil {
		return errs.Wrap(errs.InternalError, "failed to encode awareness notification", err)
	}
	resp := &structpb.Struct{}
	return classifyInvokeError(g.conn.Invoke(ctx, methodNotifyAwareness, req, resp))
}

// classifyInvokeError maps a failed grpc.Invoke into Trinity's closed
// error-kind taxonomy. grpc status codes are not inspected individually
// here (that would mean importing google.golang.org/grpc/status/codes
// for a one-to-one mapping this gateway does not need yet); any
// transport-level failure is treated as the agent being unreachable,
// which is retryable by default.
func classifyInvokeError(err error) error {
	if err == nil {
		return nil
	}
	return errs.Wrap(errs.AgentUnavailable, "agent gateway call failed", err)
}
