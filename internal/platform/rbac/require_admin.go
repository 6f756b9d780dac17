package rbac

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"token-lifecycle/backend/internal/server/interceptors"
)

// Admins is the set of user ids allowed to call administrative RPCs.
type Admins map[int64]bool

// NewAdmins returns an Admins set for ids. Non-positive ids are ignored.
func NewAdmins(ids []int64) Admins {
	a := make(Admins, len(ids))
	for _, id := range ids {
		if id > 0 {
			a[id] = true
		}
	}
	return a
}

// RequireAdmin ensures the caller is authenticated and is a platform admin.
// Returns the caller's user id on success; returns a gRPC error (Unauthenticated or PermissionDenied) on failure.
func RequireAdmin(ctx context.Context, admins Admins) (int64, error) {
	userID, ok := interceptors.GetUserID(ctx)
	if !ok {
		return 0, status.Error(codes.Unauthenticated, "user context required")
	}
	if !admins[userID] {
		return 0, status.Error(codes.PermissionDenied, "platform admin required")
	}
	return userID, nil
}
