package authorization

import (
	"context"
	"errors"

	accountdomain "github.com/smallbiznis/creditkit/internal/account/domain"
)

type Service interface {
	Authorize(ctx context.Context, principal accountdomain.Principal, object string, action string) error
}

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)
