package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/reelforge/reelforge/internal/logging"
)

const (
	headerRequestID = "X-Request-Id"
	headerClientID  = "X-Reelforge-Client-Id"

	maxErrorBody = 4096
)

// API is the typed surface of the remote generation service. No call is
// retried; each either resolves or fails exactly once.
type API interface {
	CreateSession(ctx context.Context, idea string) (*CreateSessionResponse, error)
	GenerateScripts(ctx context.Context, sessionID string) (*ScriptsResponse, error)
	RunSession(ctx context.Context, sessionID string, req RunRequest) (*RunResponse, error)
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	ListSessions(ctx context.Context) ([]string, error)
	GetVoicesFlat(ctx context.Context) (*VoicesResponse, error)
	DownloadURL(sessionID string, kind ArtifactKind) string
	AbsoluteURL(u string) string
}

// HTTPClient talks to the generation API over HTTP. It holds no session
// state; the base URL is fixed at construction.
type HTTPClient struct {
	baseURL  string
	clientID string
	rest     *resty.Client
	logger   *slog.Logger
}

var _ API = (*HTTPClient)(nil)

func NewHTTPClient(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	baseURL = strings.TrimRight(baseURL, "/")
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logging.WithComponent(logger, "client")

	c := &HTTPClient{
		baseURL: baseURL,
		logger:  logger,
	}

	c.rest = resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetLogger(restyLogger{logger}).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "reelforge/1.0")

	c.rest.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		r.SetHeader(headerRequestID, uuid.NewString())
		if c.clientID != "" {
			r.SetHeader(headerClientID, c.clientID)
		}
		return nil
	})

	return c
}

// SetClientID tags every request with a stable per-installation id.
func (c *HTTPClient) SetClientID(id string) {
	c.clientID = id
}

func (c *HTTPClient) CreateSession(ctx context.Context, idea string) (*CreateSessionResponse, error) {
	var out CreateSessionResponse
	if err := c.do(ctx, "create session", http.MethodPost, "/api/sessions", CreateSessionRequest{Idea: idea}, &out); err != nil {
		return nil, err
	}
	c.logger.Info("session created", "session_id", out.SessionID)
	return &out, nil
}

func (c *HTTPClient) GenerateScripts(ctx context.Context, sessionID string) (*ScriptsResponse, error) {
	var out ScriptsResponse
	if err := c.do(ctx, "generate scripts", http.MethodPost, "/api/scripts", GenerateScriptsRequest{SessionID: sessionID}, &out); err != nil {
		return nil, err
	}
	c.logger.Info("scripts generated",
		"session_id", sessionID,
		"candidates", len(out.OrderedKeys),
	)
	return &out, nil
}

func (c *HTTPClient) RunSession(ctx context.Context, sessionID string, req RunRequest) (*RunResponse, error) {
	if req.Mode == "" {
		req.Mode = ModeVideos
	}
	var out RunResponse
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/run"
	if err := c.do(ctx, "run session", http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	c.logger.Info("session run started",
		"session_id", sessionID,
		"script_key", req.ScriptKey,
		"mode", req.Mode,
	)
	return &out, nil
}

func (c *HTTPClient) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var out Session
	if err := c.do(ctx, "get session", http.MethodGet, "/api/sessions/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) ListSessions(ctx context.Context) ([]string, error) {
	var out SessionsResponse
	if err := c.do(ctx, "list sessions", http.MethodGet, "/api/sessions", nil, &out); err != nil {
		return nil, err
	}
	if out.Sessions == nil {
		return []string{}, nil
	}
	return out.Sessions, nil
}

func (c *HTTPClient) GetVoicesFlat(ctx context.Context) (*VoicesResponse, error) {
	var out VoicesResponse
	if err := c.do(ctx, "list voices", http.MethodGet, "/api/voices?flat=true", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Download is an open artifact stream.
type Download struct {
	Body io.ReadCloser
	// Resumed is true when the server honoured the requested offset.
	Resumed bool
	// Total is the full artifact size, or -1 if the server did not say.
	Total int64
}

// OpenDownload starts streaming a final or subtitled video. A positive offset
// asks the server to resume with a Range request; servers that ignore it send
// the whole file and Resumed is false. The caller closes Body.
func (c *HTTPClient) OpenDownload(ctx context.Context, sessionID string, kind ArtifactKind, offset int64) (*Download, error) {
	return c.open(ctx, "download "+string(kind), sessionID, c.DownloadURL(sessionID, kind), offset)
}

// OpenArtifact streams one per-session artifact, such as a segment image,
// with the same resume rules as OpenDownload.
func (c *HTTPClient) OpenArtifact(ctx context.Context, sessionID, relpath string, offset int64) (*Download, error) {
	return c.open(ctx, "download artifact", sessionID, c.ArtifactURL(sessionID, relpath), offset)
}

func (c *HTTPClient) open(ctx context.Context, op, sessionID, target string, offset int64) (*Download, error) {
	req := c.rest.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("Accept", "video/mp4, image/*, audio/*, application/octet-stream")
	if offset > 0 {
		req.SetHeader("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := req.Get(target)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}

	body := resp.RawBody()
	if resp.StatusCode() == http.StatusRequestedRangeNotSatisfiable && offset > 0 {
		// Local copy is already complete.
		body.Close()
		return &Download{Body: io.NopCloser(strings.NewReader("")), Resumed: true, Total: offset}, nil
	}
	if resp.IsError() {
		defer body.Close()
		data, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
		return nil, newServerError(op, resp.StatusCode(), data)
	}

	d := &Download{Body: body, Total: -1}
	if resp.StatusCode() == http.StatusPartialContent {
		d.Resumed = true
		d.Total = totalFromContentRange(resp.Header().Get("Content-Range"))
	} else if n, err := strconv.ParseInt(resp.Header().Get("Content-Length"), 10, 64); err == nil {
		d.Total = n
	}

	c.logger.Info("download opened",
		"op", op,
		"session_id", sessionID,
		"url", logging.SanitizeURL(target),
		"offset", offset,
		"resumed", d.Resumed,
		"total", d.Total,
	)
	return d, nil
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, body, out any) error {
	req := c.rest.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	start := time.Now()
	resp, err := req.Execute(method, path)
	if err != nil {
		c.logger.Debug("request failed",
			"op", op,
			"url", logging.SanitizeURL(c.baseURL+path),
			"error", err,
		)
		return &NetworkError{Op: op, Err: err}
	}

	c.logger.Debug("request completed",
		"op", op,
		"method", method,
		"url", logging.SanitizeURL(c.baseURL+path),
		"status", resp.StatusCode(),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		data := resp.Body()
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		return newServerError(op, resp.StatusCode(), data)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return &ServerError{
			Op:         op,
			StatusCode: resp.StatusCode(),
			Message:    fmt.Sprintf("Invalid response from server: %v", err),
		}
	}
	return nil
}

func totalFromContentRange(header string) int64 {
	i := strings.LastIndex(header, "/")
	if i < 0 {
		return -1
	}
	n, err := strconv.ParseInt(header[i+1:], 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// IsNetworkError reports whether err is, or wraps, a *NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// restyLogger routes resty's internal warnings into slog.
type restyLogger struct {
	logger *slog.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
