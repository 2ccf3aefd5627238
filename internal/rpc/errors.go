package rpc

import (
	"context"
	"errors"

	"github.com/signalsfoundry/occupancy-adp/core"
	"github.com/signalsfoundry/occupancy-adp/internal/benchmark"
	"github.com/signalsfoundry/occupancy-adp/kb"
	"github.com/signalsfoundry/occupancy-adp/model"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ToStatusError maps solver and archive errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, kb.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, model.ErrDimensionMismatch),
		errors.Is(err, core.ErrTooManyStates),
		errors.Is(err, benchmark.ErrTooLarge):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, core.ErrInfeasible):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, kb.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, err.Error())

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
