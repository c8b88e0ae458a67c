package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/micrecord/internal/audio/audiotest"
	"github.com/audiolibrelab/micrecord/internal/recorder"
	"github.com/audiolibrelab/micrecord/internal/session"
)

type nopUploader struct{}

func (nopUploader) Upload(context.Context, *recorder.Artifact) error { return nil }

func newTestServer(t *testing.T) (*Server, *session.Controller, *audiotest.Platform) {
	t.Helper()
	p := audiotest.New(audiotest.Mic("a", "Mic A"), audiotest.Mic("b", "Mic B"))
	c := session.NewController(session.Options{
		Platform:  p,
		Countdown: time.Millisecond,
		Timeslice: time.Hour,
		Uploader:  nopUploader{},
	})
	c.Mount(context.Background())
	t.Cleanup(c.Close)
	return New(c, "default", "0"), c, p
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeStatus(t *testing.T, w *httptest.ResponseRecorder) StatusResponse {
	t.Helper()
	var resp StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func waitState(t *testing.T, c *session.Controller, states ...session.State) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c.WaitFor(ctx, states...)
	require.NoError(t, err)
}

func TestStatus(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/status", "")

	require.Equal(t, http.StatusOK, w.Code)
	status := decodeStatus(t, w)
	assert.Equal(t, session.StateIdle, status.State)
	assert.Equal(t, "default", status.Profile)
	assert.Len(t, status.Devices, 2)
}

func TestDevices(t *testing.T) {
	s, _, p := newTestServer(t)
	p.SetDevices(audiotest.Mic("c", "Mic C"))

	w := do(t, s, http.MethodPost, "/api/devices/refresh", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/api/devices", "")
	var resp DevicesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Devices, 1)
	assert.Equal(t, "Mic C", resp.Devices[0].Label)
}

func TestRecordingFlow(t *testing.T) {
	s, c, p := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/select", `{"device_id":"b"}`)
	require.Equal(t, http.StatusOK, w.Code)
	waitState(t, c, session.StateDeviceReady)
	assert.Equal(t, "b", p.Requests()[0].DeviceID)

	w = do(t, s, http.MethodPost, "/api/mute", `{"muted":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeStatus(t, w).Muted)

	w = do(t, s, http.MethodPost, "/api/mute", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decodeStatus(t, w).Muted)

	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/start", "").Code)
	waitState(t, c, session.StateRecording)

	w = do(t, s, http.MethodPost, "/api/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	status := decodeStatus(t, w)
	assert.True(t, status.Reviewing)
	require.NotNil(t, status.Artifact)

	w = do(t, s, http.MethodGet, "/api/artifact", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "audio/wav", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "audio-recording.wav")
	assert.Equal(t, "RIFF", w.Body.String()[:4])

	w = do(t, s, http.MethodPost, "/api/submit", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, session.StateIdle, decodeStatus(t, w).State)
}

func TestInvalidTransitionIsConflict(t *testing.T) {
	s, _, _ := newTestServer(t)

	for _, path := range []string{"/api/start", "/api/stop", "/api/submit", "/api/retry", "/api/mute"} {
		w := do(t, s, http.MethodPost, path, "")
		assert.Equal(t, http.StatusConflict, w.Code, path)

		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.NotEmpty(t, body["error"], path)
	}
}

func TestArtifactMissing(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := do(t, s, http.MethodGet, "/api/artifact", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBadSelectBody(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := do(t, s, http.MethodPost, "/api/select", `{"device_id":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIndex(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := do(t, s, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<title>MicRecord</title>")
}
