package apierr_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"reality-mesh/internal/apierr"
)

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apierr.Validation("bad request"), http.StatusBadRequest},
		{apierr.NotFound("missing"), http.StatusNotFound},
		{apierr.MethodNotAllowed("nope"), http.StatusMethodNotAllowed},
		{apierr.Unhealthy("degraded"), http.StatusServiceUnavailable},
		{apierr.Internal(errors.New("boom")), http.StatusInternalServerError},
		{errors.New("not an apierr.Error"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, apierr.Status(c.err))
	}
}

func TestBodyNeverLeaksCause(t *testing.T) {
	err := apierr.Internal(errors.New("db password is secret"))
	body := apierr.Body(err)
	assert.Equal(t, "internal error", body.Error)
	assert.Contains(t, err.Error(), "db password is secret", "Error() itself may carry the cause for logging, only Body() is client-facing")
}

func TestValidationBodyEchoesMessage(t *testing.T) {
	err := apierr.Validation("clientId must be a uuid")
	body := apierr.Body(err)
	assert.Equal(t, "clientId must be a uuid", body.Error)
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := apierr.Internal(cause)
	assert.ErrorIs(t, err, cause)
}
