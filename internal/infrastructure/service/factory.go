package service

import (
	"fmt"

	"github.com/wekeepgrowing/timesync/internal/config"
	"github.com/wekeepgrowing/timesync/internal/domain/entity"
	domainService "github.com/wekeepgrowing/timesync/internal/domain/service"
	"github.com/wekeepgrowing/timesync/internal/infrastructure/service/client"
	"github.com/wekeepgrowing/timesync/internal/infrastructure/service/redmine"
	"github.com/wekeepgrowing/timesync/internal/infrastructure/service/toggl"
	"go.uber.org/zap"
)

const (
	KindRedmine = "redmine"
	KindToggl   = "toggl"
)

// Factory creates service adapters from service definitions. It is the only
// place that looks at the service name.
type Factory struct {
	clientConfig client.Config
	logger       *zap.Logger
}

func NewFactory(cfg config.HTTPClientConfig, logger *zap.Logger) *Factory {
	return &Factory{
		clientConfig: client.Config{
			Timeout:          cfg.Timeout,
			MaxRetries:       cfg.MaxRetries,
			RateLimit:        cfg.RateLimit,
			RateBurst:        cfg.RateBurst,
			RateLimitBackoff: cfg.RateLimitBackoff,
		},
		logger: logger,
	}
}

// Build returns the adapter for def
func (f *Factory) Build(def entity.ServiceDefinition) (domainService.Adapter, error) {
	switch def.Name {
	case KindRedmine:
		adapter, err := redmine.New(def, f.clientConfig, f.logger)
		if err != nil {
			return nil, err
		}
		return adapter, nil
	case KindToggl:
		if def.IsPrimary {
			return nil, fmt.Errorf("service %q cannot be primary", def.Name)
		}
		adapter, err := toggl.New(def, f.clientConfig, f.logger)
		if err != nil {
			return nil, err
		}
		return adapter, nil
	default:
		return nil, fmt.Errorf("unsupported service: %s", def.Name)
	}
}
