package httputil

import (
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, httptest.NewRequest(http.MethodGet, "/?pretty=1", nil), http.StatusOK, map[string]int{"a": 1})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "{\n  \"a\": 1\n}\n", w.Body.String())

	w = httptest.NewRecorder()
	WriteJSON(w, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusBadRequest, errors.New("boom"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "{\"error\":\"boom\"}\n", w.Body.String())
}

func TestWriteJSONBadPretty(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, httptest.NewRequest(http.MethodGet, "/?pretty=sure", nil), http.StatusOK, map[string]int{"a": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"pretty`)
}

func TestWriteJSONEncodeFailure(t *testing.T) {
	w := httptest.NewRecorder()
	require.NotPanics(t, func() {
		WriteJSON(w, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusOK, math.NaN())
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestQueryBool(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?a=on&b=0&c=maybe&d=TRUE&e=Off", nil)
	cases := []struct {
		key  string
		def  bool
		want bool
	}{
		{"a", false, true},
		{"b", true, false},
		{"d", false, true},
		{"e", true, false},
		{"missing", true, true},
	}
	for _, tc := range cases {
		v, err := QueryBool(r, tc.key, tc.def)
		require.NoError(t, err, tc.key)
		assert.Equal(t, tc.want, v, tc.key)
	}

	_, err := QueryBool(r, "c", false)
	assert.EqualError(t, err, `invalid "c" query value "maybe"`)
}
