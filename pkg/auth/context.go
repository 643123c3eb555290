package auth

import (
	"context"

	"github.com/angelmondragon/chataccess/pkg/enums"
)

type operatorKey struct{}

// Operator is the authenticated staff member behind a request.
type Operator struct {
	ID    string
	Email string
	Role  enums.Role
}

// OperatorFromClaims lifts the identity out of verified token claims.
func OperatorFromClaims(claims *AccessTokenClaims) Operator {
	if claims == nil {
		return Operator{}
	}
	return Operator{ID: claims.ActorID, Email: claims.Email, Role: claims.Role}
}

func WithOperator(ctx context.Context, op Operator) context.Context {
	return context.WithValue(ctx, operatorKey{}, op)
}

// OperatorFrom returns the operator stored on ctx. Public requests have none.
func OperatorFrom(ctx context.Context) (Operator, bool) {
	if ctx == nil {
		return Operator{}, false
	}
	op, ok := ctx.Value(operatorKey{}).(Operator)
	return op, ok && op.ID != ""
}
