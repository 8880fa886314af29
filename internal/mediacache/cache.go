package mediacache

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/chatvault/chatvault/internal/platform"
)

// Class partitions cached payloads by kind. Images are numerous and small,
// media files are few and large, so each class carries its own directory
// and sweep cap.
type Class string

const (
	ClassImage Class = "image"
	ClassMedia Class = "media"
)

func (c Class) dir() string {
	if c == ClassMedia {
		return "media"
	}
	return "images"
}

func (c Class) defaultExt() string {
	if c == ClassMedia {
		return ".mp4"
	}
	return ".jpg"
}

// Default sweep caps: newest files kept per class, everything older removed.
const (
	DefaultImageCap = 100
	DefaultMediaCap = 20
)

// Options tunes the per-class sweep caps.
type Options struct {
	ImageCap int
	MediaCap int
}

func (o Options) withDefaults() Options {
	if o.ImageCap <= 0 {
		o.ImageCap = DefaultImageCap
	}
	if o.MediaCap <= 0 {
		o.MediaCap = DefaultMediaCap
	}
	return o
}

// Service caches remote media on local disk, content-addressed by the md5
// of the source url. Resolving the same url twice hits the same file, so
// repeated resolves cost one fetch.
type Service struct {
	root    string
	fetcher platform.Fetcher
	opts    Options
	logger  *slog.Logger
	group   singleflight.Group
}

func NewService(log *slog.Logger, root string, fetcher platform.Fetcher, opts Options) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		root:    root,
		fetcher: fetcher,
		opts:    opts.withDefaults(),
		logger:  log.With(slog.String("service", "mediacache")),
	}
}

// Resolve returns a local file path for src. Non-remote refs pass through
// unchanged. Remote urls are fetched at most once; concurrent resolves of
// the same url share a single download.
func (s *Service) Resolve(ctx context.Context, src string, class Class) (string, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return "", ErrEmptyURL
	}
	if !isRemote(src) {
		return src, nil
	}
	target := s.targetPath(src, class)
	if _, err := os.Stat(target); err == nil {
		return target, nil
	}
	if s.fetcher == nil {
		return "", ErrFetcherUnavailable
	}
	_, err, _ := s.group.Do(target, func() (any, error) {
		if _, err := os.Stat(target); err == nil {
			return nil, nil
		}
		data, _, err := s.fetcher.Fetch(ctx, src)
		if err != nil {
			return nil, err
		}
		return nil, writeAtomic(target, data)
	})
	if err != nil {
		return "", fmt.Errorf("cache %s: %w", src, err)
	}
	return target, nil
}

// SaveDataURL externalizes an inline base64 payload into the cache and
// returns the local file path. The file is content-addressed by the md5 of
// the decoded bytes, so identical payloads collapse to one file.
func (s *Service) SaveDataURL(dataURL string, class Class) (string, error) {
	mime, payload, ok := splitDataURL(dataURL)
	if !ok {
		return "", ErrBadDataURL
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBadDataURL, err)
	}
	sum := md5.Sum(data)
	ext := extForMime(mime)
	if ext == "" {
		ext = class.defaultExt()
	}
	target := filepath.Join(s.root, class.dir(), hex.EncodeToString(sum[:])+ext)
	if _, err := os.Stat(target); err == nil {
		return target, nil
	}
	if err := writeAtomic(target, data); err != nil {
		return "", fmt.Errorf("write payload: %w", err)
	}
	return target, nil
}

// Sweep removes everything but the newest files of each class, by mtime.
// Returns the number of files removed.
func (s *Service) Sweep() int {
	removed := 0
	removed += s.sweepDir(ClassImage.dir(), s.opts.ImageCap)
	removed += s.sweepDir(ClassMedia.dir(), s.opts.MediaCap)
	if removed > 0 {
		s.logger.Info("media cache swept", slog.Int("removed", removed))
	}
	return removed
}

func (s *Service) sweepDir(dir string, limit int) int {
	entries, err := os.ReadDir(filepath.Join(s.root, dir))
	if err != nil {
		return 0
	}
	type fileAge struct {
		name  string
		mtime int64
	}
	files := make([]fileAge, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileAge{name: entry.Name(), mtime: info.ModTime().UnixNano()})
	}
	if len(files) <= limit {
		return 0
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mtime > files[j].mtime })
	removed := 0
	for _, f := range files[limit:] {
		if err := os.Remove(filepath.Join(s.root, dir, f.name)); err != nil {
			s.logger.Warn("sweep remove failed", slog.String("file", f.name), slog.Any("error", err))
			continue
		}
		removed++
	}
	return removed
}

func (s *Service) targetPath(src string, class Class) string {
	sum := md5.Sum([]byte(src))
	return filepath.Join(s.root, class.dir(), hex.EncodeToString(sum[:])+extForURL(src, class))
}

func isRemote(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

// IsDataURL reports whether src is an inline base64 payload.
func IsDataURL(src string) bool {
	_, _, ok := splitDataURL(src)
	return ok
}

// extForURL takes the extension from the url path when it has a plausible
// one, falling back to the class default.
func extForURL(src string, class Class) string {
	parsed, err := url.Parse(src)
	if err != nil {
		return class.defaultExt()
	}
	ext := strings.ToLower(path.Ext(parsed.Path))
	if len(ext) < 2 || len(ext) > 6 {
		return class.defaultExt()
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return class.defaultExt()
		}
	}
	return ext
}

func extForMime(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/ogg":
		return ".ogg"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	default:
		return ""
	}
}

func splitDataURL(src string) (mime, payload string, ok bool) {
	if !strings.HasPrefix(src, "data:") {
		return "", "", false
	}
	rest := src[len("data:"):]
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return "", "", false
	}
	meta := rest[:comma]
	if !strings.HasSuffix(meta, ";base64") {
		return "", "", false
	}
	return strings.TrimSuffix(meta, ";base64"), rest[comma+1:], true
}

func writeAtomic(target string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}
