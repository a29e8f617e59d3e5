package wizard

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelforge/reelforge/internal/client"
	"github.com/reelforge/reelforge/internal/progress"
	"github.com/reelforge/reelforge/internal/store"
)

type fakeAPI struct {
	mu    sync.Mutex
	calls []string

	createSession   func(idea string) (*client.CreateSessionResponse, error)
	generateScripts func(id string) (*client.ScriptsResponse, error)
	runSession      func(id string, req client.RunRequest) (*client.RunResponse, error)
	getSession      func(id string) (*client.Session, error)
}

var _ client.API = (*fakeAPI)(nil)

func (f *fakeAPI) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeAPI) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAPI) CreateSession(ctx context.Context, idea string) (*client.CreateSessionResponse, error) {
	f.record("create")
	return f.createSession(idea)
}

func (f *fakeAPI) GenerateScripts(ctx context.Context, id string) (*client.ScriptsResponse, error) {
	f.record("scripts:" + id)
	return f.generateScripts(id)
}

func (f *fakeAPI) RunSession(ctx context.Context, id string, req client.RunRequest) (*client.RunResponse, error) {
	f.record("run:" + id)
	return f.runSession(id, req)
}

func (f *fakeAPI) GetSession(ctx context.Context, id string) (*client.Session, error) {
	f.record("get:" + id)
	if f.getSession == nil {
		return &client.Session{SessionID: id, State: client.StateQueued}, nil
	}
	return f.getSession(id)
}

func (f *fakeAPI) ListSessions(ctx context.Context) ([]string, error) { return nil, nil }

func (f *fakeAPI) GetVoicesFlat(ctx context.Context) (*client.VoicesResponse, error) {
	return &client.VoicesResponse{}, nil
}

func (f *fakeAPI) DownloadURL(id string, kind client.ArtifactKind) string { return "" }

func (f *fakeAPI) AbsoluteURL(u string) string { return u }

func scriptsFor(id string, keys ...string) *client.ScriptsResponse {
	resp := &client.ScriptsResponse{SessionID: id, Scripts: map[string]client.Script{}, OrderedKeys: keys}
	for _, k := range keys {
		resp.Scripts[k] = client.NewSegmentedScript(map[string]string{
			"segment1": k + " opening",
			"segment2": k + " middle",
			"segment3": k + " ending",
		})
	}
	return resp
}

func newHappyAPI(id string, keys ...string) *fakeAPI {
	return &fakeAPI{
		createSession: func(string) (*client.CreateSessionResponse, error) {
			return &client.CreateSessionResponse{SessionID: id}, nil
		},
		generateScripts: func(sid string) (*client.ScriptsResponse, error) {
			return scriptsFor(sid, keys...), nil
		},
		runSession: func(sid string, req client.RunRequest) (*client.RunResponse, error) {
			return &client.RunResponse{SessionID: sid, StatusURL: "/api/sessions/" + sid, Message: "queued"}, nil
		},
	}
}

func TestCreate_Success(t *testing.T) {
	api := newHappyAPI("s1", "script1", "script2")
	c := NewController(api, Options{})
	defer c.Close()

	require.NoError(t, c.Create(context.Background(), "idea A"))

	v := c.View()
	assert.Equal(t, ScriptSelection, v.Stage)
	assert.Equal(t, "s1", v.SessionID)
	assert.Equal(t, "script1", v.Selected)
	assert.Equal(t, "idea A", v.Idea)
	assert.Empty(t, v.Error)
	assert.False(t, v.Busy)
	assert.Equal(t, []string{"create", "scripts:s1"}, api.Calls())
}

func TestCreate_DefaultSelectsFirstOfFour(t *testing.T) {
	api := newHappyAPI("s1", "script1", "script2", "script3", "script4")
	c := NewController(api, Options{})
	defer c.Close()

	require.NoError(t, c.Create(context.Background(), "idea"))
	assert.Equal(t, "script1", c.View().Selected)
}

func TestCreate_GenerateFailsKeepsSession(t *testing.T) {
	api := newHappyAPI("s2", "script1")
	api.generateScripts = func(string) (*client.ScriptsResponse, error) {
		return nil, &client.ServerError{Op: "generate scripts", StatusCode: 500, Message: "LLM unavailable"}
	}
	c := NewController(api, Options{})
	defer c.Close()

	err := c.Create(context.Background(), "idea B")
	require.Error(t, err)
	var se *client.ServerError
	assert.True(t, errors.As(err, &se))

	v := c.View()
	assert.Equal(t, IdeaEntry, v.Stage)
	assert.Equal(t, "s2", v.SessionID)
	assert.Equal(t, "LLM unavailable", v.Error)
	assert.Nil(t, v.Scripts)
	assert.False(t, c.CanContinue())

	// Retrying reuses the session and only regenerates.
	api.generateScripts = func(sid string) (*client.ScriptsResponse, error) {
		return scriptsFor(sid, "script1", "script2"), nil
	}
	require.NoError(t, c.Create(context.Background(), "another idea"))
	assert.Equal(t, []string{"create", "scripts:s2", "scripts:s2"}, api.Calls())
	assert.Equal(t, ScriptSelection, c.Stage())
	assert.Empty(t, c.View().Error)
	assert.Equal(t, "idea B", c.View().Idea)
}

func TestCreate_CreateFailsDoesNotGenerate(t *testing.T) {
	api := newHappyAPI("s1", "script1")
	api.createSession = func(string) (*client.CreateSessionResponse, error) {
		return nil, &client.NetworkError{Op: "create session", Err: errors.New("connection refused")}
	}
	c := NewController(api, Options{})
	defer c.Close()

	require.Error(t, c.Create(context.Background(), "idea"))
	v := c.View()
	assert.Equal(t, IdeaEntry, v.Stage)
	assert.Empty(t, v.SessionID)
	assert.Contains(t, v.Error, "connection refused")
	assert.Equal(t, []string{"create"}, api.Calls())
}

func TestCreate_EmptyIdeaIsValidationError(t *testing.T) {
	api := newHappyAPI("s1", "script1")
	c := NewController(api, Options{})
	defer c.Close()

	assert.False(t, c.CanCreate("   "))
	err := c.Create(context.Background(), "   ")
	assert.True(t, IsValidation(err))
	assert.Empty(t, api.Calls())
	assert.Empty(t, c.View().Error)
}

func TestCreate_SequentialCalls(t *testing.T) {
	var createDone atomic.Bool
	api := newHappyAPI("s1", "script1")
	api.createSession = func(string) (*client.CreateSessionResponse, error) {
		time.Sleep(20 * time.Millisecond)
		createDone.Store(true)
		return &client.CreateSessionResponse{SessionID: "s1"}, nil
	}
	api.generateScripts = func(sid string) (*client.ScriptsResponse, error) {
		assert.True(t, createDone.Load(), "scripts requested before session existed")
		return scriptsFor(sid, "script1"), nil
	}
	c := NewController(api, Options{})
	defer c.Close()

	require.NoError(t, c.Create(context.Background(), "idea"))
}

func TestRegenerate_ResetsMissingSelection(t *testing.T) {
	api := newHappyAPI("s1", "script1", "script2", "script3", "script4")
	c := NewController(api, Options{})
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Create(ctx, "idea"))
	require.NoError(t, c.Select("script2"))

	api.generateScripts = func(sid string) (*client.ScriptsResponse, error) {
		return scriptsFor(sid, "script1", "script3"), nil
	}
	require.NoError(t, c.Regenerate(ctx))

	v := c.View()
	assert.Equal(t, "script1", v.Selected)
	assert.Equal(t, []string{"script1", "script3"}, v.Scripts.OrderedKeys)
	assert.False(t, v.Scripts.HasKey("script2"))
	assert.Equal(t, ScriptSelection, v.Stage)
}

func TestRegenerate_KeepsPresentSelection(t *testing.T) {
	api := newHappyAPI("s1", "script1", "script2", "script3")
	c := NewController(api, Options{})
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Create(ctx, "idea"))
	require.NoError(t, c.Select("script3"))
	require.NoError(t, c.Regenerate(ctx))

	assert.Equal(t, "script3", c.View().Selected)
}

func TestRegenerate_FailureKeepsPriorScripts(t *testing.T) {
	api := newHappyAPI("s1", "script1", "script2")
	c := NewController(api, Options{})
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Create(ctx, "idea"))
	api.generateScripts = func(string) (*client.ScriptsResponse, error) {
		return nil, &client.ServerError{StatusCode: 502, Message: "Request failed: 502"}
	}
	require.Error(t, c.Regenerate(ctx))

	v := c.View()
	assert.Equal(t, "Request failed: 502", v.Error)
	assert.Equal(t, []string{"script1", "script2"}, v.Scripts.OrderedKeys)
	assert.Equal(t, ScriptSelection, v.Stage)
}

func TestSelect_UnknownKey(t *testing.T) {
	api := newHappyAPI("s1", "script1")
	c := NewController(api, Options{})
	defer c.Close()

	require.NoError(t, c.Create(context.Background(), "idea"))
	assert.True(t, IsValidation(c.Select("script9")))
	assert.Equal(t, "script1", c.View().Selected)
}

func TestContinueBackAndGuards(t *testing.T) {
	api := newHappyAPI("s1", "script1")
	c := NewController(api, Options{})
	defer c.Close()

	assert.True(t, IsValidation(c.Continue()))
	assert.False(t, c.CanRun())

	require.NoError(t, c.Create(context.Background(), "idea"))
	assert.True(t, c.CanContinue())
	require.NoError(t, c.Continue())
	assert.Equal(t, Configuration, c.Stage())
	assert.True(t, c.CanRun())
	assert.False(t, c.CanRegenerate())

	require.NoError(t, c.Back())
	assert.Equal(t, ScriptSelection, c.Stage())
	assert.True(t, IsValidation(c.Back()))
}

func TestRun_StartsPollingImmediately(t *testing.T) {
	api := newHappyAPI("s1", "script1", "script2")
	var gotReq client.RunRequest
	api.runSession = func(sid string, req client.RunRequest) (*client.RunResponse, error) {
		gotReq = req
		return &client.RunResponse{SessionID: sid, Message: "Video generation started"}, nil
	}
	api.getSession = func(id string) (*client.Session, error) {
		return &client.Session{
			SessionID:      id,
			State:          client.StateRunning,
			Progress:       client.Progress{TotalSegments: 3, Completed: 1},
			CurrentSegment: "segment2",
		}, nil
	}

	c := NewController(api, Options{PollInterval: time.Hour, DefaultMode: client.ModeVideos})
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Create(ctx, "idea"))
	require.NoError(t, c.Select("script2"))
	require.NoError(t, c.Continue())
	c.SetVoice("en-US-GuyNeural")
	c.SetMode(client.ModeImages)
	require.NoError(t, c.Run(ctx))

	assert.Equal(t, client.RunRequest{ScriptKey: "script2", Voice: "en-US-GuyNeural", Mode: client.ModeImages}, gotReq)
	assert.Equal(t, Progress, c.Stage())
	assert.Equal(t, "Video generation started", c.View().RunMessage)

	// The hour-long interval means only the immediate refresh can deliver.
	require.Eventually(t, func() bool { return c.View().Status != nil }, time.Second, 5*time.Millisecond)

	v := c.View()
	require.Len(t, v.Segments, 3)
	assert.Equal(t, progress.StateDone, v.Segments[0].State)
	assert.Equal(t, progress.StateCurrent, v.Segments[1].State)
	assert.Equal(t, progress.StatePending, v.Segments[2].State)
}

func TestRun_FailureStaysInConfiguration(t *testing.T) {
	api := newHappyAPI("s1", "script1")
	api.runSession = func(string, client.RunRequest) (*client.RunResponse, error) {
		return nil, &client.ServerError{StatusCode: 400, Message: "Invalid script_key"}
	}
	c := NewController(api, Options{})
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Create(ctx, "idea"))
	require.NoError(t, c.Continue())
	require.Error(t, c.Run(ctx))

	v := c.View()
	assert.Equal(t, Configuration, v.Stage)
	assert.Equal(t, "Invalid script_key", v.Error)
}

func TestPollingFailuresNotSurfaced(t *testing.T) {
	var n atomic.Int32
	api := newHappyAPI("s1", "script1")
	api.getSession = func(id string) (*client.Session, error) {
		if n.Add(1) == 1 {
			return &client.Session{SessionID: id, State: client.StateRunning}, nil
		}
		return nil, &client.NetworkError{Op: "get session", Err: errors.New("offline")}
	}
	c := NewController(api, Options{PollInterval: 10 * time.Millisecond})
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Create(ctx, "idea"))
	require.NoError(t, c.Continue())
	require.NoError(t, c.Run(ctx))

	require.Eventually(t, func() bool { return n.Load() >= 3 }, time.Second, 5*time.Millisecond)
	v := c.View()
	assert.Empty(t, v.Error)
	require.NotNil(t, v.Status)
	assert.Equal(t, client.StateRunning, v.Status.State)
}

func TestReset(t *testing.T) {
	api := newHappyAPI("s1", "script1")
	c := NewController(api, Options{PollInterval: time.Hour})
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Create(ctx, "idea"))
	require.NoError(t, c.Continue())
	require.NoError(t, c.Run(ctx))
	require.NoError(t, c.Reset(ctx))

	v := c.View()
	assert.Equal(t, IdeaEntry, v.Stage)
	assert.Empty(t, v.SessionID)
	assert.Nil(t, v.Scripts)
	assert.True(t, c.CanCreate("next idea"))
}

func TestOnChangeCalled(t *testing.T) {
	var changes atomic.Int32
	api := newHappyAPI("s1", "script1")
	c := NewController(api, Options{OnChange: func() { changes.Add(1) }})
	defer c.Close()

	require.NoError(t, c.Create(context.Background(), "idea"))
	assert.GreaterOrEqual(t, changes.Load(), int32(2))
}

func openStore(t *testing.T) *store.SQLiteRepository {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "wizard.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store.NewRepository(db.Conn())
}

func TestPersistence_RestoresStage(t *testing.T) {
	repo := openStore(t)
	ctx := context.Background()

	api := newHappyAPI("s1", "script1", "script2")
	first := NewController(api, Options{Store: repo})
	require.NoError(t, first.Start(ctx))
	require.NoError(t, first.Create(ctx, "a lighthouse keeper"))
	require.NoError(t, first.Select("script2"))
	require.NoError(t, first.Continue())
	first.Close()

	ideas, err := repo.RecentIdeas(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a lighthouse keeper", ideas["s1"])

	// Scripts are not persisted, so the restored wizard lands on selection.
	second := NewController(api, Options{Store: repo})
	require.NoError(t, second.Start(ctx))
	defer second.Close()

	v := second.View()
	assert.Equal(t, "s1", v.SessionID)
	assert.Equal(t, "script2", v.Selected)
	assert.Equal(t, ScriptSelection, v.Stage)
	assert.False(t, second.CanContinue())

	require.NoError(t, second.Regenerate(ctx))
	assert.Equal(t, "script2", second.View().Selected)
	assert.True(t, second.CanContinue())
}

func TestPersistence_RestoresSelectionAfterCreate(t *testing.T) {
	repo := openStore(t)
	ctx := context.Background()

	api := newHappyAPI("s1", "script1", "script2")
	first := NewController(api, Options{Store: repo})
	require.NoError(t, first.Start(ctx))
	require.NoError(t, first.Create(ctx, "a paper boat"))
	require.NoError(t, first.Select("script2"))
	assert.Equal(t, ScriptSelection, first.Stage())
	first.Close()

	second := NewController(api, Options{Store: repo})
	require.NoError(t, second.Start(ctx))
	defer second.Close()

	v := second.View()
	assert.Equal(t, "s1", v.SessionID)
	assert.Nil(t, v.Scripts)
	assert.Equal(t, ScriptSelection, v.Stage)
	assert.True(t, second.CanRegenerate())
	assert.False(t, second.CanCreate("a new idea"))
}

func TestPersistence_GenerateFailureNotRestored(t *testing.T) {
	repo := openStore(t)
	ctx := context.Background()

	api := newHappyAPI("s3", "script1")
	api.generateScripts = func(string) (*client.ScriptsResponse, error) {
		return nil, &client.ServerError{Op: "generate scripts", StatusCode: 503, Message: "busy"}
	}
	first := NewController(api, Options{Store: repo})
	require.NoError(t, first.Start(ctx))
	require.Error(t, first.Create(ctx, "idea"))
	assert.Equal(t, IdeaEntry, first.Stage())
	first.Close()

	second := NewController(api, Options{Store: repo})
	require.NoError(t, second.Start(ctx))
	defer second.Close()
	assert.Equal(t, ScriptSelection, second.Stage())
	assert.True(t, second.CanRegenerate())
}

func TestPersistence_ResumesPollingAfterRun(t *testing.T) {
	repo := openStore(t)
	ctx := context.Background()
	require.NoError(t, repo.SaveWizardState(ctx, &store.WizardState{
		SessionID:      "s9",
		SelectedScript: "script1",
		Mode:           client.ModeVideos,
		LastAction:     string(ActionRun),
	}))

	api := newHappyAPI("s9", "script1")
	c := NewController(api, Options{Store: repo, PollInterval: time.Hour})
	require.NoError(t, c.Start(ctx))
	defer c.Close()

	assert.Equal(t, Progress, c.Stage())
	require.Eventually(t, func() bool { return c.View().Status != nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "s9", c.View().Status.SessionID)
}

func TestPersistence_ResetClears(t *testing.T) {
	repo := openStore(t)
	ctx := context.Background()

	c := NewController(newHappyAPI("s1", "script1"), Options{Store: repo})
	require.NoError(t, c.Start(ctx))
	defer c.Close()
	require.NoError(t, c.Create(ctx, "idea"))
	require.NoError(t, c.Reset(ctx))

	saved, err := repo.LoadWizardState(ctx)
	require.NoError(t, err)
	assert.Nil(t, saved)
}
