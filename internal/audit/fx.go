package audit

import (
	"github.com/brokerdesk/callbonus/internal/audit/repository"
	"github.com/brokerdesk/callbonus/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
