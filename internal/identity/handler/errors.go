package handler

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"multi-entity-auth/backend/internal/autherr"
)

// toStatus maps the auth error taxonomy onto gRPC status codes. Lockouts carry RetryInfo and weak
// passwords carry one BadRequest field violation per failed rule. Anything outside the taxonomy is
// an infrastructure failure and is reported as Internal without its text.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var locked *autherr.AccountLockedError
	if errors.As(err, &locked) {
		st := status.New(codes.ResourceExhausted, locked.Error())
		if withInfo, derr := st.WithDetails(&errdetails.RetryInfo{
			RetryDelay: durationpb.New(time.Duration(locked.MinutesRemaining) * time.Minute),
		}); derr == nil {
			st = withInfo
		}
		return st.Err()
	}
	var weak *autherr.WeakPasswordError
	if errors.As(err, &weak) {
		st := status.New(codes.InvalidArgument, weak.Error())
		br := &errdetails.BadRequest{}
		for _, msg := range weak.Errors {
			br.FieldViolations = append(br.FieldViolations, &errdetails.BadRequest_FieldViolation{
				Field:       "password",
				Description: msg,
			})
		}
		if withInfo, derr := st.WithDetails(br); derr == nil {
			st = withInfo
		}
		return st.Err()
	}

	switch {
	case errors.Is(err, autherr.ErrInvalidCredentials):
		return status.Error(codes.Unauthenticated, autherr.ErrInvalidCredentials.Error())
	case errors.Is(err, autherr.ErrInvalidToken),
		errors.Is(err, autherr.ErrExpiredToken),
		errors.Is(err, autherr.ErrSessionNotFound),
		errors.Is(err, autherr.ErrSessionEntityMismatch):
		return status.Error(codes.Unauthenticated, "missing or invalid authorization")
	case errors.Is(err, autherr.ErrAccountNotActive),
		errors.Is(err, autherr.ErrEmailNotVerified):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, autherr.ErrEmailAlreadyRegistered),
		errors.Is(err, autherr.ErrUsernameTaken),
		errors.Is(err, autherr.ErrEmailAlreadyVerified):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, autherr.ErrInvalidEmail),
		errors.Is(err, autherr.ErrSamePassword),
		errors.Is(err, autherr.ErrInvalidResetToken),
		errors.Is(err, autherr.ErrInvalidVerificationCode):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, autherr.ErrIdentityNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, autherr.ErrConfiguration):
		return status.Error(codes.FailedPrecondition, "service misconfigured")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	}
	return status.Error(codes.Internal, "internal error")
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return status.Error(codes.InvalidArgument, field+" required")
	}
	return nil
}
