// Package grpc provides the Connect implementation of the resolver service.
package grpc

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/spherical-ai/nwshop/internal/observability"
	"github.com/spherical-ai/nwshop/internal/preferences"
	"github.com/spherical-ai/nwshop/internal/resolve"
	"github.com/spherical-ai/nwshop/internal/storage"
)

const (
	// ServiceName is the fully-qualified Connect service name.
	ServiceName = "nwshop.v1.ResolverService"

	ResolveProcedure      = "/" + ServiceName + "/Resolve"
	ResolveBatchProcedure = "/" + ServiceName + "/ResolveBatch"

	maxBatchItems = 200
)

// Resolver is the resolution engine.
type Resolver interface {
	Resolve(ctx context.Context, req resolve.Request) (*resolve.Result, error)
	ResolveAll(ctx context.Context, reqs []resolve.Request) ([]*resolve.Result, error)
}

// ResolverService implements the Connect resolver service.
type ResolverService struct {
	logger   *observability.Logger
	resolver Resolver
}

// NewResolverService creates a new resolver service.
func NewResolverService(logger *observability.Logger, resolver Resolver) *ResolverService {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &ResolverService{logger: logger, resolver: resolver}
}

// ResolveRequest is the Resolve request message.
type ResolveRequest struct {
	GenericName   string `json:"generic_name"`
	Context       string `json:"context,omitempty"`
	RecipeContext string `json:"recipe_context,omitempty"`
}

// ResolveResponse is the Resolve response message.
type ResolveResponse struct {
	Result *resolve.Result `json:"result"`
}

// ResolveBatchRequest is the ResolveBatch request message.
type ResolveBatchRequest struct {
	Items         []ResolveRequest `json:"items"`
	RecipeContext string           `json:"recipe_context,omitempty"`
}

// ResolveBatchResponse is the ResolveBatch response message.
type ResolveBatchResponse struct {
	Results []*resolve.Result `json:"results"`
}

// Handler returns the path prefix and handler to mount on a router.
func (s *ResolverService) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(ResolveProcedure, connect.NewUnaryHandler(ResolveProcedure, s.Resolve, opts...))
	mux.Handle(ResolveBatchProcedure, connect.NewUnaryHandler(ResolveBatchProcedure, s.ResolveBatch, opts...))
	return "/" + ServiceName + "/", mux
}

// Resolve handles a single item.
func (s *ResolverService) Resolve(ctx context.Context, req *connect.Request[ResolveRequest]) (*connect.Response[ResolveResponse], error) {
	msg := req.Msg
	if strings.TrimSpace(msg.GenericName) == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("generic_name is required"))
	}

	res, err := s.resolver.Resolve(ctx, resolve.Request{
		GenericName:   msg.GenericName,
		Context:       msg.Context,
		RecipeContext: msg.RecipeContext,
	})
	if err != nil {
		return nil, s.toConnectError(ctx, err)
	}
	return connect.NewResponse(&ResolveResponse{Result: res}), nil
}

// ResolveBatch handles many items in one resolution batch. Item-level
// recipe contexts take precedence over the batch-level one.
func (s *ResolverService) ResolveBatch(ctx context.Context, req *connect.Request[ResolveBatchRequest]) (*connect.Response[ResolveBatchResponse], error) {
	msg := req.Msg
	if len(msg.Items) == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("items is required"))
	}
	if len(msg.Items) > maxBatchItems {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("too many items"))
	}

	reqs := make([]resolve.Request, len(msg.Items))
	for i, it := range msg.Items {
		reqs[i] = resolve.Request{GenericName: it.GenericName, Context: it.Context, RecipeContext: it.RecipeContext}
		if reqs[i].RecipeContext == "" {
			reqs[i].RecipeContext = msg.RecipeContext
		}
	}

	results, err := s.resolver.ResolveAll(ctx, reqs)
	if err != nil {
		return nil, s.toConnectError(ctx, err)
	}
	return connect.NewResponse(&ResolveBatchResponse{Results: results}), nil
}

func (s *ResolverService) toConnectError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, preferences.ErrInvalidPreference):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, storage.ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	}
	s.logger.WithContext(ctx).Error().Err(err).Msg("resolution failed")
	return connect.NewError(connect.CodeInternal, err)
}
