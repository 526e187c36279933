package grpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/nwshop/internal/resolve"
	"github.com/spherical-ai/nwshop/internal/storage"
)

type fakeResolver struct {
	err  error
	seen []resolve.Request
}

func (f *fakeResolver) Resolve(ctx context.Context, req resolve.Request) (*resolve.Result, error) {
	res, err := f.ResolveAll(ctx, []resolve.Request{req})
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

func (f *fakeResolver) ResolveAll(ctx context.Context, reqs []resolve.Request) ([]*resolve.Result, error) {
	f.seen = append(f.seen, reqs...)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]*resolve.Result, len(reqs))
	for i, r := range reqs {
		out[i] = &resolve.Result{
			GenericName: r.GenericName,
			Resolved:    true,
			ProductID:   int64(i + 1),
			ProductName: strings.ToUpper(r.GenericName),
			Source:      resolve.SourceSearch,
			Confidence:  0.8,
		}
	}
	return out, nil
}

func newServer(t *testing.T, resolver Resolver) *httptest.Server {
	t.Helper()
	path, handler := NewResolverService(nil, resolver).Handler()
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestResolverService_Resolve(t *testing.T) {
	srv := newServer(t, &fakeResolver{})
	client := connect.NewClient[ResolveRequest, ResolveResponse](srv.Client(), srv.URL+ResolveProcedure, connect.WithCodec(jsonCodec{}))

	resp, err := client.CallUnary(context.Background(), connect.NewRequest(&ResolveRequest{GenericName: "milk"}))
	require.NoError(t, err)
	require.NotNil(t, resp.Msg.Result)
	assert.Equal(t, "MILK", resp.Msg.Result.ProductName)
	assert.True(t, resp.Msg.Result.Resolved)
}

func TestResolverService_ResolveBatchInheritsRecipeContext(t *testing.T) {
	resolver := &fakeResolver{}
	srv := newServer(t, resolver)
	client := connect.NewClient[ResolveBatchRequest, ResolveBatchResponse](srv.Client(), srv.URL+ResolveBatchProcedure, connect.WithCodec(jsonCodec{}))

	resp, err := client.CallUnary(context.Background(), connect.NewRequest(&ResolveBatchRequest{
		Items: []ResolveRequest{
			{GenericName: "coconut milk"},
			{GenericName: "rice", RecipeContext: "Risotto"},
		},
		RecipeContext: "Thai Curry",
	}))
	require.NoError(t, err)
	require.Len(t, resp.Msg.Results, 2)
	assert.Equal(t, "Thai Curry", resolver.seen[0].RecipeContext)
	assert.Equal(t, "Risotto", resolver.seen[1].RecipeContext)
}

func TestResolverService_PlainJSON(t *testing.T) {
	srv := newServer(t, &fakeResolver{})

	resp, err := srv.Client().Post(srv.URL+ResolveProcedure, "application/json", strings.NewReader(`{"generic_name":"bread"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestResolverService_Errors(t *testing.T) {
	tests := []struct {
		name string
		req  *ResolveRequest
		err  error
		code connect.Code
	}{
		{name: "blank name", req: &ResolveRequest{GenericName: "  "}, code: connect.CodeInvalidArgument},
		{name: "not found", req: &ResolveRequest{GenericName: "milk"}, err: fmt.Errorf("load: %w", storage.ErrNotFound), code: connect.CodeNotFound},
		{name: "internal", req: &ResolveRequest{GenericName: "milk"}, err: errors.New("disk full"), code: connect.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, &fakeResolver{err: tt.err})
			client := connect.NewClient[ResolveRequest, ResolveResponse](srv.Client(), srv.URL+ResolveProcedure, connect.WithCodec(jsonCodec{}))

			_, err := client.CallUnary(context.Background(), connect.NewRequest(tt.req))
			require.Error(t, err)
			assert.Equal(t, tt.code, connect.CodeOf(err))
		})
	}
}

func TestResolverService_EmptyBatch(t *testing.T) {
	srv := newServer(t, &fakeResolver{})
	client := connect.NewClient[ResolveBatchRequest, ResolveBatchResponse](srv.Client(), srv.URL+ResolveBatchProcedure, connect.WithCodec(jsonCodec{}))

	_, err := client.CallUnary(context.Background(), connect.NewRequest(&ResolveBatchRequest{}))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}
