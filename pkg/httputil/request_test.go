package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

func TestParseJSON(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"project alpha"}`))
	var body struct {
		Name string `json:"name"`
	}

	err := ParseJSON(r, &body)

	assert.NoError(t, err)
	assert.Equal(t, "project alpha", body.Name)
}

func TestParseJSONInvalid(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{broken`))
	var body map[string]string

	err := ParseJSON(r, &body)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestParsePathInt64(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/entities/42", nil)
	r = mux.SetURLVars(r, map[string]string{"id": "42"})

	val, err := ParsePathInt64(r, "id")

	assert.NoError(t, err)
	assert.Equal(t, int64(42), val)
}

func TestParsePathInt64OrErrorWritesBadRequest(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/entities/abc", nil)
	r = mux.SetURLVars(r, map[string]string{"id": "abc"})

	_, ok := ParsePathInt64OrError(w, r, "id")

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseQueryInt64Default(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/decisions/canAccess", nil)

	val, err := ParseQueryInt64(r, "entityId", 7)

	assert.NoError(t, err)
	assert.Equal(t, int64(7), val)
}

func TestRequirePositive(t *testing.T) {
	w := httptest.NewRecorder()

	assert.True(t, RequirePositive(w, 5, "entityId"))
	assert.False(t, RequirePositive(w, 0, "entityId"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
