package client

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Session states reported by the generation API. The backend may emit others
// (scripts_ready); they are carried verbatim.
const (
	StateCreated      = "created"
	StateScriptsReady = "scripts_ready"
	StateQueued       = "queued"
	StateRunning      = "running"
	StateCompleted    = "completed"
	StateFailed       = "failed"
)

// Generation modes accepted by RunSession.
const (
	ModeVideos = "videos"
	ModeImages = "images"
)

// ArtifactKind selects one of the two final video renditions.
type ArtifactKind string

const (
	ArtifactFinal     ArtifactKind = "final"
	ArtifactSubtitled ArtifactKind = "subtitled"
)

// Valid reports whether k names a downloadable artifact.
func (k ArtifactKind) Valid() bool {
	return k == ArtifactFinal || k == ArtifactSubtitled
}

type Progress struct {
	TotalSegments int `json:"total_segments"`
	Completed     int `json:"completed"`
}

type ArtifactURLs struct {
	Final     string `json:"final,omitempty"`
	Subtitled string `json:"subtitled,omitempty"`
}

// SegmentArtifacts lists the media produced for one segment.
type SegmentArtifacts struct {
	Images []string `json:"images"`
	Videos []string `json:"videos"`
	Audios []string `json:"audios"`
}

// Session is a read-only snapshot of server-side session state.
type Session struct {
	SessionID      string                      `json:"session_id"`
	Idea           string                      `json:"idea"`
	State          string                      `json:"state"`
	SelectedScript string                      `json:"selected_script,omitempty"`
	Voice          string                      `json:"voice,omitempty"`
	Mode           string                      `json:"mode,omitempty"`
	Progress       Progress                    `json:"progress"`
	CurrentSegment string                      `json:"current_segment,omitempty"`
	ArtifactsURLs  ArtifactURLs                `json:"artifacts_urls"`
	SegmentsInfo   map[string]SegmentArtifacts `json:"segments_info,omitempty"`
	Error          string                      `json:"error,omitempty"`
}

// IsCompleted reports whether the session finished successfully.
func (s *Session) IsCompleted() bool {
	return s.State == StateCompleted
}

// SegmentKeys returns the keys of SegmentsInfo in lexical order. Callers that
// need numeric order sort them with progress.Order.
func (s *Session) SegmentKeys() []string {
	keys := make([]string, 0, len(s.SegmentsInfo))
	for k := range s.SegmentsInfo {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Script is one candidate narrative. The API sends either the full text as a
// JSON string or an object of segment key to segment text.
type Script struct {
	text     string
	segments map[string]string
}

// NewTextScript builds an unstructured candidate.
func NewTextScript(text string) Script {
	return Script{text: text}
}

// NewSegmentedScript builds a candidate split into segments.
func NewSegmentedScript(segments map[string]string) Script {
	return Script{segments: segments}
}

// IsStructured reports whether the candidate is split into segments.
func (s Script) IsStructured() bool {
	return s.segments != nil
}

// Segments returns the segment mapping, or nil for plain-text candidates.
func (s Script) Segments() map[string]string {
	return s.segments
}

// Text returns the full narrative. Structured candidates are joined in
// segment order: by the first digit run of each key, keys without digits
// last.
func (s Script) Text() string {
	if s.segments == nil {
		return s.text
	}
	keys := make([]string, 0, len(s.segments))
	for k := range s.segments {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	sort.SliceStable(keys, func(i, j int) bool {
		return keyNumber(keys[i]) < keyNumber(keys[j])
	})
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = s.segments[k]
	}
	return strings.Join(parts, " ")
}

// keyNumber parses the first run of digits in a segment key, the same rule
// as progress.SegmentIndex.
func keyNumber(key string) int {
	start := strings.IndexAny(key, "0123456789")
	if start < 0 {
		return math.MaxInt
	}
	end := start
	for end < len(key) && key[end] >= '0' && key[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(key[start:end])
	if err != nil {
		return math.MaxInt - 1
	}
	return n
}

func (s *Script) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*s = Script{text: text}
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		// Neither a string nor an object: keep the raw JSON as text.
		*s = Script{text: string(data)}
		return nil
	}

	segments := make(map[string]string, len(raw))
	for k, v := range raw {
		var segText string
		if err := json.Unmarshal(v, &segText); err != nil {
			segText = string(v)
		}
		segments[k] = segText
	}
	*s = Script{segments: segments}
	return nil
}

func (s Script) MarshalJSON() ([]byte, error) {
	if s.segments != nil {
		return json.Marshal(s.segments)
	}
	return json.Marshal(s.text)
}

// ScriptsResponse holds the candidates of one generation request. A later
// request replaces it entirely.
type ScriptsResponse struct {
	SessionID   string            `json:"session_id"`
	Scripts     map[string]Script `json:"scripts"`
	OrderedKeys []string          `json:"ordered_keys"`
}

// Script returns the candidate for key.
func (r *ScriptsResponse) Script(key string) (Script, bool) {
	if r == nil {
		return Script{}, false
	}
	s, ok := r.Scripts[key]
	return s, ok
}

// HasKey reports whether key is one of the offered candidates.
func (r *ScriptsResponse) HasKey(key string) bool {
	if r == nil {
		return false
	}
	for _, k := range r.OrderedKeys {
		if k == key {
			return true
		}
	}
	return false
}

type CreateSessionRequest struct {
	Idea string `json:"idea"`
}

type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

type GenerateScriptsRequest struct {
	SessionID string `json:"session_id"`
}

// RunRequest starts generation for a selected candidate. Mode is sent as-is;
// an empty Mode means videos.
type RunRequest struct {
	ScriptKey string `json:"script_key"`
	Voice     string `json:"voice,omitempty"`
	Mode      string `json:"mode,omitempty"`
}

type RunResponse struct {
	SessionID string `json:"session_id"`
	StatusURL string `json:"status_url"`
	Message   string `json:"message"`
}

type SessionsResponse struct {
	Sessions []string `json:"sessions"`
}

type Voice struct {
	Name   string `json:"name"`
	Lang   string `json:"lang"`
	Region string `json:"region"`
	Gender string `json:"gender"`
}

// GroupKey is the (lang, region, gender) display grouping.
func (v Voice) GroupKey() string {
	return fmt.Sprintf("%s/%s/%s", v.Lang, v.Region, v.Gender)
}

type VoicesResponse struct {
	Voices []Voice `json:"voices"`
}

// VoiceGroup is one (lang, region, gender) bucket of voices.
type VoiceGroup struct {
	Key    string
	Lang   string
	Region string
	Gender string
	Voices []Voice
}

// GroupVoices buckets voices by GroupKey, keeping first-seen group order and
// the input order inside each group.
func GroupVoices(voices []Voice) []VoiceGroup {
	var groups []VoiceGroup
	index := make(map[string]int)
	for _, v := range voices {
		key := v.GroupKey()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, VoiceGroup{Key: key, Lang: v.Lang, Region: v.Region, Gender: v.Gender})
		}
		groups[i].Voices = append(groups[i].Voices, v)
	}
	return groups
}
