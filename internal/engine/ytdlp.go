package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/notifyhub/creator-relay/internal/domain"
)

// YtDlpEngine shells out to a yt-dlp compatible binary. The variant is the
// binary's format selector ("-f"), e.g. "best" or "bv*+ba/b".
type YtDlpEngine struct {
	binary   string
	format   string
	tempDir  string
	minBytes int
	maxBytes int64
	logger   *zap.Logger
}

func NewYtDlpEngine(binary string, minBytes int, logger *zap.Logger) *YtDlpEngine {
	if minBytes <= 0 {
		minBytes = DefaultMinBytes
	}
	return &YtDlpEngine{
		binary:   binary,
		tempDir:  os.TempDir(),
		minBytes: minBytes,
		maxBytes: DefaultMaxBytes,
		logger:   logger,
	}
}

func (e *YtDlpEngine) Name() string { return "ytdlp" }

func (e *YtDlpEngine) WithVariant(variant string) (Engine, error) {
	if strings.ContainsAny(variant, " \t\n") {
		return nil, fmt.Errorf("%w: format selector %q", ErrBadVariant, variant)
	}
	cp := *e
	cp.format = variant
	return &cp, nil
}

func (e *YtDlpEngine) Download(ctx context.Context, url string) (*domain.DownloadResult, error) {
	workDir, err := os.MkdirTemp(e.tempDir, "ytdlp-*")
	if err != nil {
		return nil, fmt.Errorf("create workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	args := []string{
		"--no-playlist",
		"--no-progress",
		"--no-warnings",
		"--max-filesize", fmt.Sprintf("%d", e.maxBytes),
		"-o", filepath.Join(workDir, "%(autonumber)s.%(ext)s"),
	}
	if e.format != "" {
		args = append(args, "-f", e.format)
	}
	args = append(args, url)

	cmd := exec.CommandContext(ctx, e.binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("yt-dlp error: %w, output: %s", err, strings.TrimSpace(string(output)))
	}

	files, err := filepath.Glob(filepath.Join(workDir, "*"))
	if err != nil {
		return nil, fmt.Errorf("glob output: %w", err)
	}
	files = dropPartials(files)
	if len(files) == 0 {
		return nil, ErrNoMedia
	}
	sort.Strings(files)

	res := &domain.DownloadResult{SourceURLs: []string{url}}
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read output %s: %w", filepath.Base(f), err)
		}
		if err := checkSize(b, e.minBytes); err != nil {
			return nil, err
		}
		kind, err := kindOf("", f, b)
		if err != nil {
			return nil, err
		}
		// a single video wins over thumbnails or stills written alongside it
		if res.MediaKind == "" || kind == domain.MediaVideo {
			res.MediaKind = kind
		}
		res.Payloads = append(res.Payloads, b)
	}

	e.logger.Debug("yt-dlp download complete",
		zap.String("url", url),
		zap.String("format", e.format),
		zap.Int("files", len(files)),
		zap.Int("bytes", res.TotalSize()),
	)
	return res, nil
}

// dropPartials drops leftovers of interrupted downloads.
func dropPartials(files []string) []string {
	out := files[:0]
	for _, f := range files {
		if strings.HasSuffix(f, ".part") || strings.HasSuffix(f, ".ytdl") {
			continue
		}
		out = append(out, f)
	}
	return out
}

var (
	_ Engine           = (*YtDlpEngine)(nil)
	_ VariantSupporter = (*YtDlpEngine)(nil)
)
