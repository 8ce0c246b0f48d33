package depositcall

import (
	"github.com/brokerdesk/callbonus/internal/depositcall/repository"
	"github.com/brokerdesk/callbonus/internal/depositcall/service"
	"go.uber.org/fx"
)

var Module = fx.Module("depositcall.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
