package upload

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/micrecord/internal/audio"
	"github.com/audiolibrelab/micrecord/internal/audio/audiotest"
	"github.com/audiolibrelab/micrecord/internal/config"
	"github.com/audiolibrelab/micrecord/internal/recorder"
)

func testArtifact(t *testing.T, mimeType string) *recorder.Artifact {
	t.Helper()
	stream := audio.NewPCMStream("Test mic", audio.Format{SampleRate: 8000, Channels: 1}, nil)
	defer stream.Stop()

	r := recorder.New(recorder.Options{Timeslice: time.Hour})
	require.NoError(t, r.Start(stream, mimeType, mimeType))
	stream.Deliver(audiotest.Sine(800, 8000, 440, 0.5))
	artifact := r.Stop()
	require.NotNil(t, artifact)
	return artifact
}

func fixedClock() time.Time {
	return time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
}

func TestDirUploaderWAV(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	u, err := NewDirUploader(dir, "wav")
	require.NoError(t, err)
	u.now = fixedClock

	artifact := testArtifact(t, recorder.MimeBasic)
	require.NoError(t, u.Upload(context.Background(), artifact))

	want := filepath.Join(dir, "audio-recording-20240501-123000-"+artifact.ID[:8]+".wav")
	assert.Equal(t, want, u.LastPath())

	f, err := os.Open(want)
	require.NoError(t, err)
	defer f.Close()
	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile())
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	assert.Len(t, buf.Data, 800)
}

func TestDirUploaderRaw(t *testing.T) {
	dir := t.TempDir()
	u, err := NewDirUploader(dir, "raw")
	require.NoError(t, err)
	u.now = fixedClock
	artifact := testArtifact(t, recorder.MimeBasic)

	require.NoError(t, u.Upload(context.Background(), artifact))

	data, err := os.ReadFile(filepath.Join(dir, "audio-recording-20240501-123000-"+artifact.ID[:8]+".au"))
	require.NoError(t, err)
	assert.Equal(t, artifact.Data, data)
}

func TestDirUploaderSameSecondKeepsBoth(t *testing.T) {
	dir := t.TempDir()
	u, err := NewDirUploader(dir, "raw")
	require.NoError(t, err)
	u.now = fixedClock

	first := testArtifact(t, recorder.MimeBasic)
	second := testArtifact(t, recorder.MimeBasic)
	require.NoError(t, u.Upload(context.Background(), first))
	firstPath := u.LastPath()
	require.NoError(t, u.Upload(context.Background(), second))

	assert.NotEqual(t, firstPath, u.LastPath())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestDirUploaderTranscode(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	dir := t.TempDir()
	u, err := NewDirUploader(dir, "flac")
	require.NoError(t, err)

	require.NoError(t, u.Upload(context.Background(), testArtifact(t, recorder.MimeWAV)))
	assert.FileExists(t, u.LastPath())
	assert.Equal(t, ".flac", filepath.Ext(u.LastPath()))
}

func TestDirUploaderRejectsUnknownFormat(t *testing.T) {
	_, err := NewDirUploader(t.TempDir(), "aiff")
	assert.Error(t, err)
}

func TestHTTPUploaderMultipart(t *testing.T) {
	artifact := testArtifact(t, recorder.MimeWAV)

	var gotName, gotType, gotID string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		gotName = header.Filename
		gotBody, _ = io.ReadAll(file)
		gotType = r.FormValue("content_type")
		gotID = r.FormValue("artifact_id")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	u := NewHTTPUploader(config.UploadConfig{URL: srv.URL, TimeoutMs: 5000})
	require.NoError(t, u.Upload(context.Background(), artifact))

	assert.Equal(t, "audio-recording.wav", gotName)
	assert.Equal(t, artifact.Data, gotBody)
	assert.Equal(t, "audio/wav", gotType)
	assert.Equal(t, artifact.ID, gotID)
}

func TestHTTPUploaderRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		// Every attempt must carry the full body
		file, _, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		if len(data) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u := NewHTTPUploader(config.UploadConfig{URL: srv.URL, Retries: 2})
	u.wait = time.Millisecond

	require.NoError(t, u.Upload(context.Background(), testArtifact(t, recorder.MimeWAV)))
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPUploaderDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad upload", http.StatusBadRequest)
	}))
	defer srv.Close()

	u := NewHTTPUploader(config.UploadConfig{URL: srv.URL, Retries: 3})
	u.wait = time.Millisecond

	err := u.Upload(context.Background(), testArtifact(t, recorder.MimeWAV))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), calls.Load())
}

type failing struct{ err error }

func (f failing) Upload(context.Context, *recorder.Artifact) error { return f.err }

func TestMultiRunsEveryUploader(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDirUploader(dir, "raw")
	require.NoError(t, err)
	boom := errors.New("boom")

	err = Multi{failing{boom}, d}.Upload(context.Background(), testArtifact(t, recorder.MimeWAV))

	assert.ErrorIs(t, err, boom)
	assert.FileExists(t, d.LastPath())
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Output.Directory = t.TempDir()

	u, err := FromConfig(cfg)
	require.NoError(t, err)
	assert.IsType(t, &DirUploader{}, u)

	cfg.Upload.URL = "http://localhost:9/upload"
	u, err = FromConfig(cfg)
	require.NoError(t, err)
	assert.Len(t, u.(Multi), 2)

	cfg.Output.Directory = ""
	cfg.Upload.URL = ""
	_, err = FromConfig(cfg)
	assert.Error(t, err)
}
