package devserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelforge/reelforge/internal/client"
	"github.com/reelforge/reelforge/internal/logging"
	"github.com/reelforge/reelforge/internal/sessions"
	"github.com/reelforge/reelforge/internal/wizard"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestServer(t *testing.T) (*client.HTTPClient, *Backend, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)}
	backend := NewBackend(time.Second, clk.Now)
	srv := httptest.NewServer(NewRouter(backend, logging.Discard()))
	t.Cleanup(srv.Close)
	return client.NewHTTPClient(srv.URL, 5*time.Second, nil), backend, clk
}

func serverError(t *testing.T, err error) *client.ServerError {
	t.Helper()
	var se *client.ServerError
	require.True(t, errors.As(err, &se), "want ServerError, got %v", err)
	return se
}

func TestLifecycle(t *testing.T) {
	api, _, clk := newTestServer(t)
	ctx := context.Background()

	created, err := api.CreateSession(ctx, "A fox learns to fly!")
	require.NoError(t, err)
	assert.Contains(t, created.SessionID, "a-fox-learns-to-fly")
	id := created.SessionID

	s, err := api.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, client.StateCreated, s.State)

	scripts, err := api.GenerateScripts(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"script1", "script2", "script3", "script4"}, scripts.OrderedKeys)
	first, ok := scripts.Script("script1")
	require.True(t, ok)
	require.True(t, first.IsStructured())
	assert.Len(t, first.Segments(), 3)

	run, err := api.RunSession(ctx, id, client.RunRequest{ScriptKey: "script1"})
	require.NoError(t, err)
	assert.Equal(t, "/api/sessions/"+id, run.StatusURL)

	s, err = api.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, client.StateQueued, s.State)
	assert.Equal(t, client.ModeVideos, s.Mode)
	assert.Equal(t, DefaultVoice, s.Voice)
	assert.Equal(t, 3, s.Progress.TotalSegments)

	clk.Advance(time.Second)
	s, err = api.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, client.StateRunning, s.State)
	assert.Equal(t, 0, s.Progress.Completed)
	assert.Equal(t, "segment1", s.CurrentSegment)

	clk.Advance(2 * time.Second)
	s, err = api.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Progress.Completed)
	assert.Equal(t, "segment3", s.CurrentSegment)
	assert.Len(t, s.SegmentsInfo, 3)
	assert.Len(t, s.SegmentsInfo["segment1"].Videos, 1)
	assert.Empty(t, s.SegmentsInfo["segment3"].Videos)

	clk.Advance(2 * time.Second)
	s, err = api.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, client.StateRunning, s.State)
	assert.Empty(t, s.CurrentSegment)
	assert.NotEmpty(t, s.ArtifactsURLs.Final)
	assert.Empty(t, s.ArtifactsURLs.Subtitled)
	assert.False(t, sessions.PreferredArtifact(s, api.AbsoluteURL).Playable())

	_, err = api.OpenDownload(ctx, id, client.ArtifactSubtitled, 0)
	se := serverError(t, err)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Equal(t, "subtitled video not available yet", se.Message)

	clk.Advance(time.Second)
	s, err = api.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, client.StateCompleted, s.State)

	art := sessions.PreferredArtifact(s, api.AbsoluteURL)
	assert.Equal(t, client.ArtifactSubtitled, art.Kind)
	assert.Equal(t, api.ArtifactURL(id, "final_output_subtitled.mp4"), art.URL)

	resp, err := http.Get(art.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))

	ids, err := api.ListSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ids)
}

func TestDownloadResume(t *testing.T) {
	api, backend, clk := newTestServer(t)
	ctx := context.Background()

	created, err := api.CreateSession(ctx, "tides")
	require.NoError(t, err)
	_, err = api.GenerateScripts(ctx, created.SessionID)
	require.NoError(t, err)
	_, err = api.RunSession(ctx, created.SessionID, client.RunRequest{ScriptKey: "script1"})
	require.NoError(t, err)
	clk.Advance(time.Minute)

	want, err := backend.Video(created.SessionID, client.ArtifactFinal)
	require.NoError(t, err)

	full, err := api.OpenDownload(ctx, created.SessionID, client.ArtifactFinal, 0)
	require.NoError(t, err)
	body, err := io.ReadAll(full.Body)
	full.Body.Close()
	require.NoError(t, err)
	assert.False(t, full.Resumed)
	assert.Equal(t, int64(len(want)), full.Total)
	assert.Equal(t, want, body)

	part, err := api.OpenDownload(ctx, created.SessionID, client.ArtifactFinal, 1000)
	require.NoError(t, err)
	rest, err := io.ReadAll(part.Body)
	part.Body.Close()
	require.NoError(t, err)
	assert.True(t, part.Resumed)
	assert.Equal(t, int64(len(want)), part.Total)
	assert.Equal(t, want[1000:], rest)

	done, err := api.OpenDownload(ctx, created.SessionID, client.ArtifactFinal, int64(len(want)))
	require.NoError(t, err)
	done.Body.Close()
	assert.True(t, done.Resumed)
}

func TestErrorsUseDetail(t *testing.T) {
	api, backend, _ := newTestServer(t)
	ctx := context.Background()

	_, err := api.GetSession(ctx, "missing")
	se := serverError(t, err)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Equal(t, "Session not found", se.Message)

	_, err = api.CreateSession(ctx, "  ")
	assert.Equal(t, "'idea' is required", serverError(t, err).Message)

	created, err := api.CreateSession(ctx, "idea")
	require.NoError(t, err)

	_, err = api.RunSession(ctx, created.SessionID, client.RunRequest{ScriptKey: "script1"})
	assert.Equal(t, "Scripts not generated for this session yet.", serverError(t, err).Message)

	backend.FailScripts(1)
	_, err = api.GenerateScripts(ctx, created.SessionID)
	se = serverError(t, err)
	assert.Equal(t, 500, se.StatusCode)
	assert.Equal(t, "Failed to generate scripts", se.Message)

	_, err = api.GenerateScripts(ctx, created.SessionID)
	require.NoError(t, err)

	_, err = api.RunSession(ctx, created.SessionID, client.RunRequest{ScriptKey: "script9"})
	assert.Equal(t, "Invalid script_key.", serverError(t, err).Message)
}

func TestRegenerationOffersNewKeys(t *testing.T) {
	api, _, _ := newTestServer(t)
	ctx := context.Background()

	created, err := api.CreateSession(ctx, "idea")
	require.NoError(t, err)
	_, err = api.GenerateScripts(ctx, created.SessionID)
	require.NoError(t, err)
	again, err := api.GenerateScripts(ctx, created.SessionID)
	require.NoError(t, err)

	assert.Equal(t, []string{"script5", "script6", "script7", "script8"}, again.OrderedKeys)
}

func TestMedia_RejectsTraversal(t *testing.T) {
	backend := NewBackend(time.Second, nil)
	id := backend.CreateSession("idea")

	_, _, err := backend.Media(id, "../other/final_output.mp4")
	assert.Equal(t, ErrInvalidPath, err)

	_, _, err = backend.Media(id, "segment1/image_1.png")
	assert.Equal(t, ErrFileNotFound, err)

	_, _, err = backend.Media("missing", "x.png")
	assert.Equal(t, ErrNotFound, err)
}

func TestVoices(t *testing.T) {
	api, backend, _ := newTestServer(t)

	resp, err := api.GetVoicesFlat(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, resp.Voices)
	assert.Equal(t, "de", resp.Voices[0].Lang)

	groups := client.GroupVoices(resp.Voices)
	assert.Equal(t, "de/DE/Female", groups[0].Key)

	nested := backend.Voices()
	assert.Equal(t, []string{"en-US-GuyNeural"}, nested["en"]["US"]["Male"])
}

func TestRequestIDEchoed(t *testing.T) {
	_, backend, _ := newTestServer(t)
	router := NewRouter(backend, logging.Discard())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.Header.Set("X-Request-Id", "abc123")
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "abc123", rr.Header().Get("X-Request-Id"))
}

func TestWizardAgainstDevServer(t *testing.T) {
	api, backend, clk := newTestServer(t)
	ctx := context.Background()

	c := wizard.NewController(api, wizard.Options{PollInterval: 10 * time.Millisecond})
	defer c.Close()

	backend.FailScripts(1)
	require.Error(t, c.Create(ctx, "a paper boat"))
	v := c.View()
	assert.Equal(t, wizard.IdeaEntry, v.Stage)
	assert.NotEmpty(t, v.SessionID)
	assert.Equal(t, "Failed to generate scripts", v.Error)

	require.NoError(t, c.Create(ctx, "a paper boat"))
	assert.Equal(t, "script1", c.View().Selected)

	require.NoError(t, c.Select("script2"))
	require.NoError(t, c.Regenerate(ctx))
	assert.Equal(t, "script5", c.View().Selected)

	require.NoError(t, c.Continue())
	require.NoError(t, c.Run(ctx))
	assert.Equal(t, wizard.Progress, c.Stage())

	clk.Advance(time.Minute)
	require.Eventually(t, func() bool {
		s := c.View().Status
		return s != nil && s.State == client.StateCompleted
	}, 2*time.Second, 10*time.Millisecond)
}
