package httputil

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	err := WriteSuccess(w, map[string]string{"id": "abc"})
	require.NoError(t, err)

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Empty(t, resp.Message)
	assert.Equal(t, map[string]interface{}{"id": "abc"}, resp.Data)
}

func TestWriteCreated(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteCreated(w, "x"))
	assert.Equal(t, 201, w.Code)
}

func TestWriteErrorMessage(t *testing.T) {
	w := httptest.NewRecorder()
	WriteForbidden(w, "not a project member")

	assert.Equal(t, 403, w.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "not a project member", resp.Message)
	assert.Nil(t, resp.Data)
}

func TestWriteErrors(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrors(w, 400, "validation failed", map[string]string{"hours": "must be between 0.5 and 24"})

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, map[string]interface{}{"hours": "must be between 0.5 and 24"}, resp.Errors)
}
