package lead

import (
	"github.com/brokerdesk/callbonus/internal/lead/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("lead.repository",
	fx.Provide(repository.Provide),
)
