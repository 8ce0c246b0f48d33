package authorization

import (
	"context"
	"errors"

	"github.com/brokerdesk/callbonus/internal/actorctx"
)

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)

type Service interface {
	Authorize(ctx context.Context, actor actorctx.Actor, object string, action string) error
}
