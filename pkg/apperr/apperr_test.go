package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(NotFound("bed %s", "B-1")))
	assert.Equal(t, KindInvalidArgument, KindOf(fmt.Errorf("wrapped: %w", InvalidArgument("amount must be positive"))))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Equal(t, KindInternal, KindOf(nil))
}

func TestErrorsIs_MatchesSentinelByKind(t *testing.T) {
	err := fmt.Errorf("allocate: %w", ResourceConflict("bed %s is occupied", "ICU-01"))
	assert.True(t, errors.Is(err, ErrResourceConflict))
	assert.False(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestError_Message(t *testing.T) {
	e := Internal("load ledger", errors.New("connection reset"))
	assert.Equal(t, "INTERNAL: load ledger: connection reset", e.Error())
	assert.Equal(t, "NOT_FOUND: ward not found", NotFound("ward not found").Error())
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindNotFound:         http.StatusNotFound,
		KindConflict:         http.StatusConflict,
		KindResourceConflict: http.StatusConflict,
		KindInvalidArgument:  http.StatusBadRequest,
		KindInvalidState:     http.StatusConflict,
		KindInvalidOperation: http.StatusUnprocessableEntity,
		KindInternal:         http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, HTTPStatus(kind), "kind %s", kind)
	}
}

func TestToHTTP(t *testing.T) {
	he := ToHTTP(InvalidArgument("overpayment: paid total would exceed %s", "11700"))
	require.NotNil(t, he)
	assert.Equal(t, http.StatusBadRequest, he.Code)
	body, ok := he.Message.(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "INVALID_ARGUMENT", body["error"])
	assert.Contains(t, body["message"], "overpayment")
}

func TestToHTTP_HidesInternalCause(t *testing.T) {
	he := ToHTTP(errors.New("pq: password authentication failed"))
	assert.Equal(t, http.StatusInternalServerError, he.Code)
	body := he.Message.(map[string]string)
	assert.Equal(t, "internal server error", body["message"])
	assert.NotNil(t, he.Internal)
}
