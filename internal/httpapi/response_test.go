package httpapi

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nioca/ca/internal/apierror"
	"github.com/nioca/ca/internal/logger"
)

func TestStatusForCoversEveryKind(t *testing.T) {
	cases := map[apierror.Kind]int{
		apierror.KindBadRequest:         400,
		apierror.KindUnauthorized:       401,
		apierror.KindInvalidToken:       401,
		apierror.KindForbidden:          403,
		apierror.KindNotFound:           404,
		apierror.KindTooManyRequests:    429,
		apierror.KindServiceUnavailable: 503,
		apierror.KindConnection:         502,
		apierror.KindDatabase:           500,
		apierror.KindDatabaseIo:         500,
		apierror.KindInternal:           500,
	}
	for kind, want := range cases {
		assert.Equal(t, want, statusFor(kind), "kind %s", kind)
	}
}

func TestWriteErrorCollapsesUnclassifiedErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, logger.NewDefaultLogger(), errors.New("boom"))

	assert.Equal(t, 500, rec.Code)
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, string(apierror.KindInternal), env.Typ)
	assert.NotContains(t, env.Message, "boom")
}

func TestWriteErrorPreservesApiErrorMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, logger.NewDefaultLogger(), apierror.NotFound("group not found"))

	assert.Equal(t, 404, rec.Code)
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "group not found", env.Message)
}

func TestWriteErrorAttachesDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	err := apierror.BadRequest("group has clients").WithDetails("x509_clients", []string{"c1"})
	writeError(rec, logger.NewDefaultLogger(), err)

	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, []interface{}{"c1"}, env.Details["x509_clients"])
}
