package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/reelforge/reelforge/internal/client"
	"github.com/reelforge/reelforge/internal/store"
	"github.com/reelforge/reelforge/internal/tui"
)

func writeSession(w io.Writer, s *client.Session, format string, resolve func(string) string) error {
	switch format {
	case "text", "":
		_, err := fmt.Fprintln(w, tui.RenderSession(s, resolve))
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case "yaml":
		// Round-trip through JSON so YAML keys match the API field names.
		raw, err := json.Marshal(s)
		if err != nil {
			return err
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

type downloader interface {
	OpenDownload(ctx context.Context, sessionID string, kind client.ArtifactKind, offset int64) (*client.Download, error)
	OpenArtifact(ctx context.Context, sessionID, relpath string, offset int64) (*client.Download, error)
}

type downloadResult struct {
	Path    string
	Written int64
	Size    int64
	Resumed bool
}

func (r downloadResult) String() string {
	verb := "downloaded"
	if r.Resumed {
		verb = "resumed"
	}
	return fmt.Sprintf("%s %s (%s, %s total)", verb, r.Path, humanize.Bytes(uint64(r.Written)), humanize.Bytes(uint64(r.Size)))
}

// downloadArtifact writes a final or subtitled video to path, continuing a
// partial file when the server supports ranges.
func downloadArtifact(ctx context.Context, d downloader, id string, kind client.ArtifactKind, path string) (downloadResult, error) {
	return downloadTo(path, func(offset int64) (*client.Download, error) {
		return d.OpenDownload(ctx, id, kind, offset)
	})
}

// downloadMedia writes one per-segment artifact, such as
// "segment1/image_1.png", to path.
func downloadMedia(ctx context.Context, d downloader, id, relpath, path string) (downloadResult, error) {
	return downloadTo(path, func(offset int64) (*client.Download, error) {
		return d.OpenArtifact(ctx, id, relpath, offset)
	})
}

func downloadTo(path string, open func(offset int64) (*client.Download, error)) (downloadResult, error) {
	var offset int64
	if fi, err := os.Stat(path); err == nil {
		offset = fi.Size()
	}

	dl, err := open(offset)
	if err != nil {
		return downloadResult{}, err
	}
	defer dl.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	if dl.Resumed {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
		offset = 0
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return downloadResult{}, fmt.Errorf("failed to open %s: %w", path, err)
	}

	n, err := io.Copy(f, dl.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return downloadResult{}, fmt.Errorf("failed to write %s: %w", path, err)
	}

	size := dl.Total
	if size < 0 {
		size = offset + n
	}
	return downloadResult{Path: path, Written: n, Size: size, Resumed: dl.Resumed}, nil
}

func filterVoices(voices []client.Voice, query string) []client.Voice {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return voices
	}
	var out []client.Voice
	for _, v := range voices {
		if strings.Contains(strings.ToLower(v.Name), query) ||
			strings.EqualFold(v.Lang, query) ||
			strings.EqualFold(v.Region, query) {
			out = append(out, v)
		}
	}
	return out
}

// suggestVoices returns up to n voice names closest to query by edit
// distance, skipping names too far off to be a typo.
func suggestVoices(voices []client.Voice, query string, n int) []string {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	type scored struct {
		name string
		dist int
	}
	var candidates []scored
	for _, v := range voices {
		d := levenshtein.ComputeDistance(query, strings.ToLower(v.Name))
		if float64(d)/float64(max(len(query), len(v.Name))) < 0.5 {
			candidates = append(candidates, scored{v.Name, d})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].dist < candidates[j].dist
	})

	out := make([]string, 0, n)
	for _, c := range candidates {
		if len(out) == n {
			break
		}
		out = append(out, c.name)
	}
	return out
}

func writeVoices(w io.Writer, voices []client.Voice) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, g := range client.GroupVoices(voices) {
		fmt.Fprintf(tw, "%s\n", g.Key)
		for _, v := range g.Voices {
			fmt.Fprintf(tw, "  %s\t%s-%s\t%s\n", v.Name, v.Lang, v.Region, v.Gender)
		}
	}
	tw.Flush()
}

// writeRecent lists sessions created from this machine, newest first.
func writeRecent(w io.Writer, recent []*store.RecentSession, now time.Time) {
	if len(recent) == 0 {
		fmt.Fprintln(w, "no sessions created from this machine yet")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tCREATED\tIDEA")
	for _, s := range recent {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.SessionID, humanize.RelTime(s.CreatedAt, now, "ago", "from now"), s.Idea)
	}
	tw.Flush()
}
