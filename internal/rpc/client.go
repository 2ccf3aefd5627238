package rpc

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/occupancy-adp/kb"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// Dial opens a plaintext client connection with trace propagation enabled.
func Dial(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
	dialOpts = append(dialOpts, opts...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return conn, nil
}

// Client is a typed wrapper over the Solver service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an existing connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// WithRunID asks the server to archive the next run under id.
func WithRunID(ctx context.Context, id string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, RunIDMetadataKey, id)
}

// Solve submits an instance and returns the archived run.
func (c *Client) Solve(ctx context.Context, req *SolveRequest) (kb.RunRecord, error) {
	var rec kb.RunRecord
	err := c.invoke(ctx, SolverSolveFullMethod, req, &rec)
	return rec, err
}

// GetRun fetches one archived run.
func (c *Client) GetRun(ctx context.Context, id string) (kb.RunRecord, error) {
	var rec kb.RunRecord
	err := c.invoke(ctx, SolverGetRunFullMethod, GetRunRequest{ID: id}, &rec)
	return rec, err
}

// ListRuns returns every archived run, newest first.
func (c *Client) ListRuns(ctx context.Context) ([]kb.RunRecord, error) {
	var resp ListRunsResponse
	if err := c.invoke(ctx, SolverListFullMethod, struct{}{}, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	req, err := ToStruct(in)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, req, resp); err != nil {
		return err
	}
	if err := FromStruct(resp, out); err != nil {
		return fmt.Errorf("decode %s: %w", method, err)
	}
	return nil
}
