package service_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wekeepgrowing/timesync/internal/domain/service"
)

func TestError(t *testing.T) {
	notFound := &service.Error{Service: "toggl", StatusCode: http.StatusNotFound, Message: "gone"}
	forbidden := &service.Error{Service: "redmine", StatusCode: http.StatusForbidden}

	assert.True(t, errors.Is(fmt.Errorf("delete: %w", notFound), service.ErrNotFound))
	assert.False(t, errors.Is(forbidden, service.ErrNotFound))

	assert.True(t, service.IsAuthorization(fmt.Errorf("list: %w", forbidden)))
	assert.False(t, service.IsAuthorization(notFound))
	assert.False(t, service.IsAuthorization(errors.New("boom")))

	assert.Equal(t, "toggl: HTTP 404: gone", notFound.Error())
}
