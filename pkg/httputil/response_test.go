package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"message": "success"}

	err := WriteJSON(w, http.StatusOK, data)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteSuccess(w, map[string]int{"quantity": 1900}))

	env := decodeEnvelope(t, w)
	assert.True(t, env.OK)
	assert.Equal(t, http.StatusOK, env.Status)
	assert.Equal(t, map[string]interface{}{"quantity": float64(1900)}, env.Data)
	assert.Empty(t, env.Error)
}

func TestWriteCreated(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteCreated(w, map[string]string{"id": "org-1"}))

	assert.Equal(t, http.StatusCreated, w.Code)
	env := decodeEnvelope(t, w)
	assert.True(t, env.OK)
	assert.Equal(t, http.StatusCreated, env.Status)
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteError(w, http.StatusBadRequest, errors.New("test error"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	env := decodeEnvelope(t, w)
	assert.False(t, env.OK)
	assert.Equal(t, http.StatusBadRequest, env.Status)
	assert.Equal(t, "test error", env.Error)
	assert.Nil(t, env.Detail)
}

func TestWriteErrorDetail(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorDetail(w, http.StatusInternalServerError, "provider rejected request",
		map[string]string{"name": "RESOURCE_NOT_FOUND"})

	env := decodeEnvelope(t, w)
	assert.False(t, env.OK)
	assert.Equal(t, map[string]interface{}{"name": "RESOURCE_NOT_FOUND"}, env.Detail)
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name  string
		write func(http.ResponseWriter)
		code  int
	}{
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "bad") }, http.StatusBadRequest},
		{"unauthorized", func(w http.ResponseWriter) { WriteUnauthorized(w, "bad signature") }, http.StatusUnauthorized},
		{"not found", func(w http.ResponseWriter) { WriteNotFound(w, "missing") }, http.StatusNotFound},
		{"conflict", func(w http.ResponseWriter) { WriteConflict(w, "exists") }, http.StatusConflict},
		{"internal", func(w http.ResponseWriter) { WriteInternalError(w, errors.New("boom")) }, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			assert.Equal(t, tt.code, w.Code)
			env := decodeEnvelope(t, w)
			assert.Equal(t, tt.code, env.Status)
			assert.NotEmpty(t, env.Error)
		})
	}
}
