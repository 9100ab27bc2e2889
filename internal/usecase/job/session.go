package job

import (
	"fmt"

	"github.com/wekeepgrowing/timesync/internal/domain/entity"
	"github.com/wekeepgrowing/timesync/internal/domain/service"
)

// session holds the adapters of one run, primary first.
type session struct {
	primary     service.Adapter
	secondaries []service.Adapter
	byName      map[string]service.Adapter
}

func openSession(user *entity.User, builder service.Builder) (*session, error) {
	if err := user.Validate(); err != nil {
		return nil, err
	}

	s := &session{byName: make(map[string]service.Adapter, len(user.ServiceDefinitions))}
	for _, def := range user.ServiceDefinitions {
		adapter, err := builder.Build(def)
		if err != nil {
			return nil, fmt.Errorf("build adapter %s: %w", def.Name, err)
		}
		if def.IsPrimary {
			if !adapter.Capabilities().IsPrimaryCapable {
				return nil, fmt.Errorf("service %s cannot be primary", def.Name)
			}
			s.primary = adapter
		} else {
			s.secondaries = append(s.secondaries, adapter)
		}
		s.byName[def.Name] = adapter
	}
	return s, nil
}

func (s *session) all() []service.Adapter {
	return append([]service.Adapter{s.primary}, s.secondaries...)
}

func (s *session) adapter(name string) service.Adapter {
	return s.byName[name]
}
