package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/forkcast/api/internal/repositories"
)

// WrapError classifies a Firestore error for the repository layer, keeping the gRPC status in the
// chain. Context errors pass through unchanged. So do errors that repository code already
// classified inside a transaction.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	st, isStatus := status.FromError(err)
	if !isStatus {
		var classified repositories.RepositoryError
		if errors.As(err, &classified) {
			return err
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	switch st.Code() {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	case codes.NotFound:
		return repositories.NewNotFoundError(op, err)
	// Aborted is what Firestore reports when a transaction loses on contention after its retries.
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted:
		return repositories.NewConflictError(op, err)
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal:
		return repositories.NewUnavailableError(op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
