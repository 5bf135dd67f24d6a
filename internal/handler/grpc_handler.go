package handler

import (
	"context"
	"encoding/json"
	"math"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-request-workflow/internal/auth"
	"github.com/pesio-ai/be-request-workflow/internal/platform/errors"
	"github.com/pesio-ai/be-request-workflow/internal/platform/logger"
	"github.com/pesio-ai/be-request-workflow/internal/repository"
	"github.com/pesio-ai/be-request-workflow/internal/service"
)

// WorkflowServiceName is the fully qualified gRPC service name.
const WorkflowServiceName = "workflow.v1.WorkflowService"

// WorkflowServiceServer is the server API of workflow.v1.WorkflowService.
// Messages are google.protobuf.Struct documents with the same field names as
// the JSON API.
type WorkflowServiceServer interface {
	CreateRequest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Decide(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRequest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRequests(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterWorkflowServiceServer registers srv on s.
func RegisterWorkflowServiceServer(s grpc.ServiceRegistrar, srv WorkflowServiceServer) {
	s.RegisterService(&WorkflowServiceDesc, srv)
}

func unaryMethod(name string, call func(WorkflowServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(WorkflowServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + WorkflowServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(WorkflowServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// WorkflowServiceDesc describes workflow.v1.WorkflowService.
var WorkflowServiceDesc = grpc.ServiceDesc{
	ServiceName: WorkflowServiceName,
	HandlerType: (*WorkflowServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("CreateRequest", WorkflowServiceServer.CreateRequest),
		unaryMethod("Decide", WorkflowServiceServer.Decide),
		unaryMethod("GetRequest", WorkflowServiceServer.GetRequest),
		unaryMethod("ListRequests", WorkflowServiceServer.ListRequests),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "workflow/v1/workflow.proto",
}

// GRPCHandler implements WorkflowServiceServer on top of the workflow engine.
type GRPCHandler struct {
	workflow *service.WorkflowEngine
	log      *logger.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(workflow *service.WorkflowEngine, log *logger.Logger) *GRPCHandler {
	return &GRPCHandler{
		workflow: workflow,
		log:      log.Component("grpc"),
	}
}

var _ WorkflowServiceServer = (*GRPCHandler)(nil)

// CreateRequest submits a request into the standard workflow.
func (h *GRPCHandler) CreateRequest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	actor, err := grpcCaller(ctx)
	if err != nil {
		return nil, err
	}

	detail, err := h.workflow.CreateRequest(ctx, actor.UserID, service.CreateRequestInput{
		Title:      stringField(in, "title"),
		Message:    stringField(in, "message"),
		Department: stringField(in, "department"),
		Priority:   repository.Priority(stringField(in, "priority")),
	})
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(toRequestDetailView(detail))
}

// Decide approves, rejects or comments on a request.
func (h *GRPCHandler) Decide(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	actor, err := grpcCaller(ctx)
	if err != nil {
		return nil, err
	}
	id, err := idField(in, "request_id")
	if err != nil {
		return nil, err
	}

	decision := service.DecisionInput{
		RequestID: id,
		ActorID:   actor.UserID,
		Action:    repository.ApprovalAction(strings.ToLower(stringField(in, "action"))),
		Comments:  stringField(in, "comments"),
	}
	if expected := stringField(in, "expected_status"); expected != "" {
		st := repository.RequestStatus(expected)
		decision.ExpectedStatus = &st
	}

	updated, err := h.workflow.Decide(ctx, decision)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(toRequestView(updated))
}

// GetRequest returns a request with its approvals and flow.
func (h *GRPCHandler) GetRequest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	actor, err := grpcCaller(ctx)
	if err != nil {
		return nil, err
	}
	id, err := idField(in, "request_id")
	if err != nil {
		return nil, err
	}

	detail, err := h.workflow.GetDetail(ctx, actor.UserID, id)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(toRequestDetailView(detail))
}

// ListRequests returns the requests visible to the caller.
func (h *GRPCHandler) ListRequests(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	actor, err := grpcCaller(ctx)
	if err != nil {
		return nil, err
	}

	reqs, err := h.workflow.ListForActor(ctx, actor.UserID)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(map[string]interface{}{
		"requests": toRequestViews(reqs),
		"total":    len(reqs),
	})
}

// ── Conversion ────────────────────────────────────────────────────────────────

func grpcCaller(ctx context.Context) (auth.Identity, error) {
	id, ok := auth.FromContext(ctx)
	if !ok {
		return auth.Identity{}, status.Error(codes.Unauthenticated, "missing caller identity")
	}
	return id, nil
}

func stringField(in *structpb.Struct, name string) string {
	return in.GetFields()[name].GetStringValue()
}

func idField(in *structpb.Struct, name string) (int64, error) {
	v, ok := in.GetFields()[name]
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	n := v.GetNumberValue()
	if n <= 0 || n != math.Trunc(n) {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be a positive integer", name)
	}
	return int64(n), nil
}

// toStruct converts a JSON-tagged view into a Struct.
func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return s, nil
}

func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch errors.CodeOf(err) {
	case errors.ErrCodeNotFound:
		return status.Error(codes.NotFound, msg)
	case errors.ErrCodeAlreadyExists:
		return status.Error(codes.AlreadyExists, msg)
	case errors.ErrCodeInvalidInput:
		return status.Error(codes.InvalidArgument, msg)
	case errors.ErrCodeUnauthorized:
		return status.Error(codes.Unauthenticated, msg)
	case errors.ErrCodeForbidden:
		return status.Error(codes.PermissionDenied, msg)
	case errors.ErrCodeAborted:
		return status.Error(codes.Aborted, msg)
	case errors.ErrCodeConflict, errors.ErrCodeFailedPrecondition, errors.ErrCodeInvalidConfig:
		return status.Error(codes.FailedPrecondition, msg)
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
