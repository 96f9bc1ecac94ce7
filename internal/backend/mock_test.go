package backend

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFirstWriteReturns201(t *testing.T) {
	m := NewMock()
	srv := httptest.NewServer(m)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/pos/sales", nil)
	require.NoError(t, err)
	req.Header.Set("Idempotency-Key", "key-1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestReplayReturns409(t *testing.T) {
	m := NewMock()
	srv := httptest.NewServer(m)
	defer srv.Close()

	do := func() *http.Response {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/pos/sales", nil)
		require.NoError(t, err)
		req.Header.Set("Idempotency-Key", "key-2")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	first := do()
	first.Body.Close()
	require.Equal(t, http.StatusCreated, first.StatusCode)

	second := do()
	defer second.Body.Close()
	require.Equal(t, http.StatusConflict, second.StatusCode)
}

func TestMissingIdempotencyKeyRejected(t *testing.T) {
	m := NewMock()
	srv := httptest.NewServer(m)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/pos/sales", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDistinctKeysBothSucceed(t *testing.T) {
	m := NewMock()
	srv := httptest.NewServer(m)
	defer srv.Close()

	for _, key := range []string{"a", "b"} {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/pos/returns", nil)
		require.NoError(t, err)
		req.Header.Set("Idempotency-Key", key)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}
}
