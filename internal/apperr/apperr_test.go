package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		kind   Kind
		status int
	}{
		{"validation", Validation("at least one filter required"), KindValidation, http.StatusBadRequest},
		{"not found", NotFound("order not found"), KindNotFound, http.StatusNotFound},
		{"storage", Storage("put item", errors.New("timeout")), KindStorage, http.StatusInternalServerError},
		{"upstream", Upstream("remove background", errors.New("502")), KindUpstream, http.StatusInternalServerError},
		{"conflict", Conflict("in use"), KindConflict, http.StatusConflict},
		{"wrapped", fmt.Errorf("create: %w", NotFound("gone")), KindNotFound, http.StatusNotFound},
		{"plain", errors.New("plain"), KindStorage, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.kind, KindOf(tc.err))
			assert.Equal(t, tc.status, KindOf(tc.err).Status())
		})
	}
}

func TestPublicMessage(t *testing.T) {
	assert.Equal(t, "order not found", PublicMessage(NotFound("order not found")))
	assert.Equal(t, GenericMessage, PublicMessage(Storage("scan", errors.New("AccessDenied: secret arn"))))
	assert.Equal(t, GenericMessage, PublicMessage(errors.New("raw")))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root")
	err := Storage("get object", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "get object: root", err.Error())
	assert.True(t, Is(err, KindStorage))
	assert.Nil(t, Storage("noop", nil))
}
