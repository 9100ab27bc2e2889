package job

import (
	"context"
	"fmt"
	"time"

	"github.com/wekeepgrowing/timesync/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/timesync/internal/domain/errors"
	"github.com/wekeepgrowing/timesync/internal/domain/service"
	"go.uber.org/zap"
)

// configSync replicates the primary service's organizational objects into
// every secondary service and keeps the user's Mappings pointing at them.
type configSync struct {
	deps   Dependencies
	user   *entity.User
	logger *zap.Logger
}

func (c *configSync) Run(ctx context.Context, rec *Recorder) bool {
	startedAt := c.deps.now()

	s, err := openSession(c.user, c.deps.Services)
	if err != nil {
		rec.Internal(err)
		return false
	}

	primaryObjects, err := s.primary.ListObjects(ctx, c.user.ConfigSyncJob.LastSuccessfullyDone)
	if err != nil {
		rec.Fetch(s.primary.Name(), &domainErrors.FetchError{Service: s.primary.Name(), Err: err})
		return false
	}

	remote := make(map[string]map[entity.MappingKey]service.Object, len(s.secondaries))
	for _, sec := range s.secondaries {
		objects, err := sec.ListObjects(ctx, nil)
		if err != nil {
			rec.Fetch(sec.Name(), &domainErrors.FetchError{Service: sec.Name(), Err: err})
			return false
		}
		index := make(map[entity.MappingKey]service.Object, len(objects))
		for _, obj := range objects {
			index[obj.Key()] = obj
		}
		remote[sec.Name()] = index
	}

	c.logger.Info("Reconciling objects",
		zap.Int("primary_objects", len(primaryObjects)),
		zap.Int("secondaries", len(s.secondaries)))

	mappings := entity.IndexMappings(c.user.Mappings)
	ok := true
	for _, obj := range primaryObjects {
		m, found := mappings[obj.Key()]
		if !found {
			m = &entity.Mapping{PrimaryObjectID: obj.ID, PrimaryObjectType: obj.Type}
			c.user.Mappings = append(c.user.Mappings, m)
			mappings[m.Key()] = m
		}
		m.Name = obj.Name
		m.SetObject(entity.MappingsObject{
			Service:     s.primary.Name(),
			ID:          obj.ID,
			Name:        obj.Name,
			Type:        obj.Type,
			LastUpdated: c.stamp(obj.LastUpdated),
		})

		for _, sec := range s.secondaries {
			if !c.reconcile(ctx, rec, sec, obj, m, remote[sec.Name()]) {
				ok = false
			}
		}
	}

	if err := c.deps.Users.ReplaceMappings(ctx, c.user.ID, c.user.Mappings); err != nil {
		rec.Internal(fmt.Errorf("store mappings: %w", err))
		return false
	}
	if !ok {
		return false
	}
	return advanceWatermark(ctx, c.deps, c.user, entity.JobTypeConfigSync, startedAt, rec)
}

// reconcile brings the secondary's copy of one primary object in line.
func (c *configSync) reconcile(ctx context.Context, rec *Recorder, sec service.Adapter, obj service.Object, m *entity.Mapping, remote map[entity.MappingKey]service.Object) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			rec.Operation(sec.Name(), fmt.Errorf("reconcile %s %s: panic: %v", obj.Type, obj.ID, r))
			ok = false
		}
	}()

	mo := m.ObjectFor(sec.Name())
	if mo != nil {
		real, exists := remote[entity.MappingKey{ID: mo.ID, Type: mo.Type}]
		switch {
		case !exists:
			c.logger.Info("Object vanished from secondary, re-creating",
				zap.String("service", sec.Name()), zap.String("object_id", obj.ID))
		case real.Name != sec.FullName(obj):
			updated, err := sec.UpdateObject(ctx, mo.ID, obj)
			if err != nil {
				rec.Operation(sec.Name(), fmt.Errorf("update %s %s: %w", obj.Type, obj.ID, err))
				return false
			}
			m.SetObject(c.mappingsObject(sec.Name(), updated))
			return true
		default:
			return true
		}
	}

	created, err := sec.CreateObject(ctx, obj)
	if err != nil {
		rec.Operation(sec.Name(), fmt.Errorf("create %s %s: %w", obj.Type, obj.ID, err))
		return false
	}
	m.SetObject(c.mappingsObject(sec.Name(), created))
	return true
}

func (c *configSync) mappingsObject(serviceName string, obj *service.Object) entity.MappingsObject {
	return entity.MappingsObject{
		Service:     serviceName,
		ID:          obj.ID,
		Name:        obj.Name,
		Type:        obj.Type,
		LastUpdated: c.stamp(obj.LastUpdated),
	}
}

func (c *configSync) stamp(t time.Time) time.Time {
	if t.IsZero() {
		return c.deps.now()
	}
	return t
}
