package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ma496/EasyForNet-sub002/internal/auth"
)

func TestRespondErrHidesStoreDetail(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
		msg    string
	}{
		{"foreign key", fmt.Errorf("%w: user_roles_role_id_fkey", auth.ErrNotFound), http.StatusNotFound, "not_found", auth.ErrNotFound.Error()},
		{"wrapped token", fmt.Errorf("parse: %w", auth.ErrInvalidToken), http.StatusUnauthorized, "invalid_token", auth.ErrInvalidToken.Error()},
		{"invalid input keeps detail", fmt.Errorf("%w: unknown role %q", auth.ErrInvalidInput, "nope"), http.StatusBadRequest, "invalid_input", `auth: invalid input: unknown role "nope"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			respondErr(rr, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			require.Equal(t, tt.status, rr.Code)
			var body errorBody
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Code)
			assert.Equal(t, tt.msg, body.Error)
			assert.NotContains(t, body.Error, "fkey")
		})
	}

	rr := httptest.NewRecorder()
	respondErr(rr, httptest.NewRequest(http.MethodGet, "/", nil), auth.Conflict("email"))
	var body errorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "email", body.Field)
}
