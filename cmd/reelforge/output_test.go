package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/reelforge/reelforge/internal/client"
	"github.com/reelforge/reelforge/internal/devserver"
	"github.com/reelforge/reelforge/internal/logging"
	"github.com/reelforge/reelforge/internal/store"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func completedSession(t *testing.T) (*client.HTTPClient, *devserver.Backend, string) {
	t.Helper()
	clk := &testClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	backend := devserver.NewBackend(time.Second, clk.Now)
	srv := httptest.NewServer(devserver.NewRouter(backend, logging.Discard()))
	t.Cleanup(srv.Close)

	id := backend.CreateSession("a paper boat")
	_, err := backend.GenerateScripts(id)
	require.NoError(t, err)
	require.NoError(t, backend.Run(id, client.RunRequest{ScriptKey: "script1"}))
	clk.Advance(time.Minute)

	return client.NewHTTPClient(srv.URL, 5*time.Second, nil), backend, id
}

func TestWriteSession(t *testing.T) {
	s := &client.Session{
		SessionID: "s1",
		Idea:      "a paper boat",
		State:     client.StateRunning,
		Progress:  client.Progress{TotalSegments: 3, Completed: 1},
	}

	var text bytes.Buffer
	require.NoError(t, writeSession(&text, s, "text", nil))
	assert.Contains(t, text.String(), "1/3 segments")

	var js bytes.Buffer
	require.NoError(t, writeSession(&js, s, "json", nil))
	var decoded client.Session
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, "s1", decoded.SessionID)

	var ym bytes.Buffer
	require.NoError(t, writeSession(&ym, s, "yaml", nil))
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(ym.Bytes(), &doc))
	assert.Equal(t, "s1", doc["session_id"])
	assert.Equal(t, "running", doc["state"])

	assert.Error(t, writeSession(&text, s, "xml", nil))
}

func TestDownloadArtifact_Resumes(t *testing.T) {
	api, backend, id := completedSession(t)
	want, err := backend.Video(id, client.ArtifactSubtitled)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.mp4")
	res, err := downloadArtifact(context.Background(), api, id, client.ArtifactSubtitled, path)
	require.NoError(t, err)
	assert.False(t, res.Resumed)
	assert.Equal(t, int64(len(want)), res.Written)
	assert.Equal(t, int64(len(want)), res.Size)

	half := int64(len(want) / 2)
	require.NoError(t, os.Truncate(path, half))

	res, err = downloadArtifact(context.Background(), api, id, client.ArtifactSubtitled, path)
	require.NoError(t, err)
	assert.True(t, res.Resumed)
	assert.Equal(t, int64(len(want))-half, res.Written)
	assert.Contains(t, res.String(), "resumed")

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Already complete.
	res, err = downloadArtifact(context.Background(), api, id, client.ArtifactSubtitled, path)
	require.NoError(t, err)
	assert.Zero(t, res.Written)
	got, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDownloadMedia(t *testing.T) {
	api, backend, id := completedSession(t)
	want, _, err := backend.Media(id, "segment1/image_1.png")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), mediaFileName(id, "segment1/image_1.png"))
	res, err := downloadMedia(context.Background(), api, id, "segment1/image_1.png", path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(want)), res.Written)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = downloadMedia(context.Background(), api, id, "segment9/image_1.png", filepath.Join(t.TempDir(), "x.png"))
	var se *client.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 404, se.StatusCode)
}

func TestDownloadArtifact_NotReady(t *testing.T) {
	backend := devserver.NewBackend(time.Second, nil)
	srv := httptest.NewServer(devserver.NewRouter(backend, logging.Discard()))
	defer srv.Close()
	api := client.NewHTTPClient(srv.URL, 5*time.Second, nil)
	id := backend.CreateSession("unfinished")

	path := filepath.Join(t.TempDir(), "out.mp4")
	_, err := downloadArtifact(context.Background(), api, id, client.ArtifactFinal, path)
	var se *client.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 404, se.StatusCode)
	assert.NoFileExists(t, path)
}

func TestFilterVoices(t *testing.T) {
	voices := []client.Voice{
		{Name: "en-US-AriaNeural", Lang: "en", Region: "US"},
		{Name: "en-GB-SoniaNeural", Lang: "en", Region: "GB"},
		{Name: "fr-FR-DeniseNeural", Lang: "fr", Region: "FR"},
	}
	assert.Len(t, filterVoices(voices, ""), 3)
	assert.Len(t, filterVoices(voices, "en"), 2)
	assert.Len(t, filterVoices(voices, "gb"), 1)
	assert.Len(t, filterVoices(voices, "aria"), 1)
	assert.Empty(t, filterVoices(voices, "zz"))
}

func TestSuggestVoices(t *testing.T) {
	voices := []client.Voice{
		{Name: "en-US-AriaNeural"},
		{Name: "en-US-GuyNeural"},
		{Name: "fr-FR-DeniseNeural"},
	}
	got := suggestVoices(voices, "en-US-AiraNeural", 2)
	require.NotEmpty(t, got)
	assert.Equal(t, "en-US-AriaNeural", got[0])

	assert.Empty(t, suggestVoices(voices, "", 2))
	assert.Empty(t, suggestVoices(voices, "xyz", 2))
}

func TestWriteRecent(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	writeRecent(&buf, []*store.RecentSession{
		{SessionID: "s2", Idea: "a lighthouse", CreatedAt: now.Add(-2 * time.Minute)},
		{SessionID: "s1", Idea: "a paper boat", CreatedAt: now.Add(-3 * time.Hour)},
	}, now)

	out := buf.String()
	assert.Contains(t, out, "SESSION")
	assert.Contains(t, out, "2 minutes ago")
	assert.Contains(t, out, "3 hours ago")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("s2")), bytes.Index(buf.Bytes(), []byte("s1")))

	buf.Reset()
	writeRecent(&buf, nil, now)
	assert.Contains(t, buf.String(), "no sessions created")
}

func TestParseWithID(t *testing.T) {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	out := fs.String("output", "text", "")
	id, err := parseWithID(fs, []string{"s1", "--output", "json"})
	require.NoError(t, err)
	assert.Equal(t, "s1", id)
	assert.Equal(t, "json", *out)

	fs = flag.NewFlagSet("show", flag.ContinueOnError)
	out = fs.String("output", "text", "")
	id, err = parseWithID(fs, []string{"--output", "yaml", "s2"})
	require.NoError(t, err)
	assert.Equal(t, "s2", id)
	assert.Equal(t, "yaml", *out)

	fs = flag.NewFlagSet("show", flag.ContinueOnError)
	_, err = parseWithID(fs, nil)
	assert.Error(t, err)
}
