// Package devserver is an in-memory stand-in for the generation API. It
// follows the same HTTP contract and simulates a run advancing one segment
// per step, which is enough to drive the client end to end without any media
// pipeline.
package devserver

import (
	"fmt"
	"net/http"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reelforge/reelforge/internal/client"
	"github.com/reelforge/reelforge/internal/progress"
)

const (
	DefaultStep  = 2 * time.Second
	DefaultVoice = "en-US-AriaNeural"

	candidateCount = 4
	videoSize      = 256 << 10
	mediaSize      = 16 << 10
)

// APIError is a failure with the status and detail the API would send.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return e.Detail
}

var (
	ErrNotFound      = &APIError{Status: http.StatusNotFound, Detail: "Session not found"}
	ErrScriptsFailed = &APIError{Status: http.StatusInternalServerError, Detail: "Failed to generate scripts"}
	ErrNoScripts     = &APIError{Status: http.StatusBadRequest, Detail: "Scripts not generated for this session yet."}
	ErrInvalidScript = &APIError{Status: http.StatusBadRequest, Detail: "Invalid script_key."}
	ErrInvalidPath   = &APIError{Status: http.StatusBadRequest, Detail: "Invalid path"}
	ErrFileNotFound  = &APIError{Status: http.StatusNotFound, Detail: "File not found"}
)

func notReady(kind client.ArtifactKind) *APIError {
	return &APIError{Status: http.StatusNotFound, Detail: fmt.Sprintf("%s video not available yet", kind)}
}

type record struct {
	id        string
	idea      string
	createdAt time.Time

	scripts     map[string]map[string]string
	orderedKeys []string

	runAt     time.Time
	scriptKey string
	voice     string
	mode      string
}

// Backend holds every simulated session. Progress is derived from the clock
// on each read, so nothing runs in the background.
type Backend struct {
	mu          sync.Mutex
	now         func() time.Time
	step        time.Duration
	sessions    map[string]*record
	failScripts int
	voices      []client.Voice
}

func NewBackend(step time.Duration, now func() time.Time) *Backend {
	if step <= 0 {
		step = DefaultStep
	}
	if now == nil {
		now = time.Now
	}
	return &Backend{
		now:      now,
		step:     step,
		sessions: make(map[string]*record),
		voices:   defaultVoices(),
	}
}

// FailScripts makes the next n script generations fail with a server error.
func (b *Backend) FailScripts(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failScripts = n
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(s string) string {
	s = nonSlug.ReplaceAllString(strings.ToLower(s), "-")
	s = strings.Trim(s, "-")
	if len(s) > 40 {
		s = strings.TrimRight(s[:40], "-")
	}
	if s == "" {
		return "idea"
	}
	return s
}

func (b *Backend) CreateSession(idea string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	id := fmt.Sprintf("%s-%s-%s", now.Format("20060102-150405"), slugify(idea), uuid.NewString()[:6])
	b.sessions[id] = &record{id: id, idea: idea, createdAt: now}
	return id
}

// GenerateScripts produces a fresh set of structured candidates, replacing
// any previous set.
func (b *Backend) GenerateScripts(id string) (*client.ScriptsResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if b.failScripts > 0 {
		b.failScripts--
		return nil, ErrScriptsFailed
	}

	// Each generation shifts the candidate numbering so that regeneration is
	// observable by the client.
	offset := 0
	if rec.scripts != nil {
		offset = len(rec.orderedKeys)
	}

	rec.scripts = make(map[string]map[string]string, candidateCount)
	rec.orderedKeys = rec.orderedKeys[:0]
	for i := 0; i < candidateCount; i++ {
		key := fmt.Sprintf("script%d", offset+i+1)
		n := 3 + i%3
		segments := make(map[string]string, n)
		for s := 1; s <= n; s++ {
			segments[fmt.Sprintf("segment%d", s)] = fmt.Sprintf("Take %d, part %d of %d: %s", offset+i+1, s, n, rec.idea)
		}
		rec.scripts[key] = segments
		rec.orderedKeys = append(rec.orderedKeys, key)
	}
	rec.orderedKeys = progress.Order(rec.orderedKeys)

	resp := &client.ScriptsResponse{
		SessionID:   id,
		Scripts:     make(map[string]client.Script, len(rec.scripts)),
		OrderedKeys: append([]string(nil), rec.orderedKeys...),
	}
	for k, segs := range rec.scripts {
		resp.Scripts[k] = client.NewSegmentedScript(segs)
	}
	return resp, nil
}

// Run queues generation. The first step after run flips the session to
// running.
func (b *Backend) Run(id string, req client.RunRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if rec.scripts == nil {
		return ErrNoScripts
	}
	if _, ok := rec.scripts[req.ScriptKey]; !ok {
		return ErrInvalidScript
	}

	rec.runAt = b.now()
	rec.scriptKey = req.ScriptKey
	rec.voice = req.Voice
	if rec.voice == "" {
		rec.voice = DefaultVoice
	}
	rec.mode = req.Mode
	if rec.mode != client.ModeVideos && rec.mode != client.ModeImages {
		rec.mode = client.ModeVideos
	}
	return nil
}

// List returns session ids newest first.
func (b *Backend) List() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]string, 0, len(b.sessions))
	for id := range b.sessions {
		ids = append(ids, id)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids
}

func (b *Backend) Snapshot(id string) (*client.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return b.snapshotLocked(rec), nil
}

// snapshotLocked derives the state at the current clock. With k steps since
// run: k=0 queued; from k=1 running with k-1 segments done; final video at
// total+2; subtitled video and completion at total+3.
func (b *Backend) snapshotLocked(rec *record) *client.Session {
	s := &client.Session{
		SessionID: rec.id,
		Idea:      rec.idea,
		State:     client.StateCreated,
	}
	if rec.scripts != nil {
		s.State = client.StateScriptsReady
	}
	if rec.runAt.IsZero() {
		return s
	}

	keys := progress.Order(mapKeys(rec.scripts[rec.scriptKey]))
	total := len(keys)
	k := int(b.now().Sub(rec.runAt) / b.step)

	s.SelectedScript = rec.scriptKey
	s.Voice = rec.voice
	s.Mode = rec.mode
	s.Progress.TotalSegments = total
	s.State = client.StateQueued
	if k == 0 {
		return s
	}

	s.State = client.StateRunning
	done := min(k-1, total)
	s.Progress.Completed = done
	if done < total {
		s.CurrentSegment = keys[done]
	}

	s.SegmentsInfo = make(map[string]client.SegmentArtifacts)
	for i, key := range keys {
		if i > done {
			break
		}
		info := client.SegmentArtifacts{
			Images: []string{client.ArtifactPath(rec.id, key+"/image_1.png")},
			Audios: []string{client.ArtifactPath(rec.id, key+"/narration.mp3")},
		}
		if i < done {
			info.Videos = []string{client.ArtifactPath(rec.id, key+"/segment.mp4")}
		}
		s.SegmentsInfo[key] = info
	}

	if k >= total+2 {
		s.ArtifactsURLs.Final = client.ArtifactPath(rec.id, "final_output.mp4")
	}
	if k >= total+3 {
		s.ArtifactsURLs.Subtitled = client.ArtifactPath(rec.id, "final_output_subtitled.mp4")
		s.State = client.StateCompleted
	}
	return s
}

// Video returns a rendered final or subtitled video.
func (b *Backend) Video(id string, kind client.ArtifactKind) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	s := b.snapshotLocked(rec)

	var url string
	switch kind {
	case client.ArtifactFinal:
		url = s.ArtifactsURLs.Final
	case client.ArtifactSubtitled:
		url = s.ArtifactsURLs.Subtitled
	}
	if url == "" {
		return nil, notReady(kind)
	}
	return fakeMedia(id, path.Base(url), videoSize), nil
}

// Media returns any artifact the current snapshot references, addressed
// relative to the session.
func (b *Backend) Media(id, relpath string) ([]byte, string, error) {
	clean := path.Clean("/" + relpath)
	if relpath == "" || strings.Contains(relpath, "..") || clean == "/" {
		return nil, "", ErrInvalidPath
	}
	relpath = strings.TrimPrefix(clean, "/")

	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.sessions[id]
	if !ok {
		return nil, "", ErrNotFound
	}
	s := b.snapshotLocked(rec)

	want := client.ArtifactPath(id, relpath)
	if !referenced(s, want) {
		return nil, "", ErrFileNotFound
	}

	size := mediaSize
	if strings.HasSuffix(relpath, ".mp4") {
		size = videoSize
	}
	return fakeMedia(id, relpath, size), contentType(relpath), nil
}

func referenced(s *client.Session, url string) bool {
	if s.ArtifactsURLs.Final == url || s.ArtifactsURLs.Subtitled == url {
		return true
	}
	for _, info := range s.SegmentsInfo {
		for _, list := range [][]string{info.Images, info.Videos, info.Audios} {
			for _, u := range list {
				if u == url {
					return true
				}
			}
		}
	}
	return false
}

func contentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".mp4":
		return "video/mp4"
	case ".mp3":
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}

// fakeMedia is a deterministic payload so resumed downloads can be checked
// byte for byte.
func fakeMedia(id, name string, size int) []byte {
	seed := []byte(id + "/" + name + "\n")
	out := make([]byte, size)
	for i := range out {
		out[i] = seed[i%len(seed)]
	}
	return out
}

func mapKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Voices returns the catalogue nested as lang, region, gender, names.
func (b *Backend) Voices() map[string]map[string]map[string][]string {
	out := make(map[string]map[string]map[string][]string)
	for _, v := range b.voices {
		if out[v.Lang] == nil {
			out[v.Lang] = make(map[string]map[string][]string)
		}
		if out[v.Lang][v.Region] == nil {
			out[v.Lang][v.Region] = make(map[string][]string)
		}
		out[v.Lang][v.Region][v.Gender] = append(out[v.Lang][v.Region][v.Gender], v.Name)
	}
	return out
}

// FlatVoices returns the catalogue sorted by lang, region, gender and name.
func (b *Backend) FlatVoices() []client.Voice {
	out := append([]client.Voice(nil), b.voices...)
	sort.Slice(out, func(i, j int) bool {
		a, c := out[i], out[j]
		if a.Lang != c.Lang {
			return a.Lang < c.Lang
		}
		if a.Region != c.Region {
			return a.Region < c.Region
		}
		if a.Gender != c.Gender {
			return a.Gender < c.Gender
		}
		return a.Name < c.Name
	})
	return out
}

func defaultVoices() []client.Voice {
	return []client.Voice{
		{Name: "en-US-AriaNeural", Lang: "en", Region: "US", Gender: "Female"},
		{Name: "en-US-JennyNeural", Lang: "en", Region: "US", Gender: "Female"},
		{Name: "en-US-GuyNeural", Lang: "en", Region: "US", Gender: "Male"},
		{Name: "en-GB-SoniaNeural", Lang: "en", Region: "GB", Gender: "Female"},
		{Name: "en-GB-RyanNeural", Lang: "en", Region: "GB", Gender: "Male"},
		{Name: "de-DE-KatjaNeural", Lang: "de", Region: "DE", Gender: "Female"},
		{Name: "de-DE-ConradNeural", Lang: "de", Region: "DE", Gender: "Male"},
		{Name: "fr-FR-DeniseNeural", Lang: "fr", Region: "FR", Gender: "Female"},
		{Name: "fr-FR-HenriNeural", Lang: "fr", Region: "FR", Gender: "Male"},
		{Name: "es-MX-DaliaNeural", Lang: "es", Region: "MX", Gender: "Female"},
	}
}
