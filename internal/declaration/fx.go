package declaration

import (
	"github.com/brokerdesk/callbonus/internal/declaration/repository"
	"github.com/brokerdesk/callbonus/internal/declaration/service"
	"go.uber.org/fx"
)

var Module = fx.Module("declaration.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
