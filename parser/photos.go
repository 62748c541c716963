package parser

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"property-sync/utils"
)

const (
	DefaultThumbnailWidth = 800
	DefaultMaxPhotos      = 10
	driveThumbnailURL     = "https://drive.google.com/thumbnail"
)

var (
	// httpURLRegexp captures absolute http(s) URLs embedded in a token
	httpURLRegexp = regexp.MustCompile(`https?://[^\s,;|"'<>]+`)
	// commaBeforeScheme marks a comma that starts a new URL
	commaBeforeScheme = regexp.MustCompile(`,\s*(https?://)`)
	// listSeparators splits tokens on ; | and line breaks
	listSeparators = regexp.MustCompile(`[;|\r\n]+`)
	trailingJunk   = regexp.MustCompile(`[\s"'<>.,;:!?)\]}]+$`)

	driveFilePath = regexp.MustCompile(`/file/d/([A-Za-z0-9_-]+)`)
	driveIDParam  = regexp.MustCompile(`[?&]id=([A-Za-z0-9_-]+)`)
	windowsPath   = regexp.MustCompile(`^[A-Za-z]:[\\/]`)
)

// PhotoOptions configures a PhotoNormalizer. Zero values pick the defaults.
type PhotoOptions struct {
	ThumbnailWidth int
	Max            int
	// ProxyURL, when set, replaces the drive thumbnail endpoint: drive files
	// are rewritten to ProxyURL?id={fileID}.
	ProxyURL string
}

// PhotoNormalizer turns a raw photo-reference cell into a bounded, ordered
// list of fetchable image URLs.
type PhotoNormalizer struct {
	width    int
	max      int
	proxyURL string
	logger   *utils.Logger
}

// NewPhotoNormalizer creates a PhotoNormalizer. logger may be nil.
func NewPhotoNormalizer(opts PhotoOptions, logger *utils.Logger) *PhotoNormalizer {
	if opts.ThumbnailWidth <= 0 {
		opts.ThumbnailWidth = DefaultThumbnailWidth
	}
	if opts.Max <= 0 || opts.Max > DefaultMaxPhotos {
		opts.Max = DefaultMaxPhotos
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &PhotoNormalizer{
		width:    opts.ThumbnailWidth,
		max:      opts.Max,
		proxyURL: strings.TrimSpace(opts.ProxyURL),
		logger:   logger,
	}
}

// Normalize parses raw into at most Max URLs in order of first appearance.
// Duplicates are kept. It never panics; bad input just yields fewer photos.
func (n *PhotoNormalizer) Normalize(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	out := make([]string, 0, n.max)
	for _, token := range n.tokens(raw) {
		if isLocalPath(token) {
			n.logger.Debug("[photos] Skipping local path: %s", token)
			continue
		}
		for _, u := range httpURLRegexp.FindAllString(token, -1) {
			resolved, ok := n.Canonicalize(u)
			if !ok {
				continue
			}
			out = append(out, resolved)
			if len(out) == n.max {
				return out
			}
		}
	}
	return out
}

func (n *PhotoNormalizer) tokens(raw string) []string {
	if strings.HasPrefix(raw, "[") {
		var items []any
		if err := json.Unmarshal([]byte(raw), &items); err == nil {
			tokens := make([]string, 0, len(items))
			for _, it := range items {
				if s, ok := it.(string); ok {
					if s = strings.TrimSpace(s); s != "" {
						tokens = append(tokens, s)
					}
				}
			}
			return tokens
		}
	}

	split := listSeparators.Split(commaBeforeScheme.ReplaceAllString(raw, "\n$1"), -1)
	tokens := make([]string, 0, len(split))
	for _, t := range split {
		if t = strings.TrimSpace(t); t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// Canonicalize rewrites cloud-drive file links to the thumbnail endpoint,
// rejects drive folder links, and returns every other URL unchanged apart
// from trailing punctuation.
func (n *PhotoNormalizer) Canonicalize(raw string) (string, bool) {
	u := trailingJunk.ReplaceAllString(strings.TrimSpace(raw), "")
	if u == "" {
		return "", false
	}

	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "", false
	}

	if !isDriveHost(parsed.Host) {
		return u, true
	}

	if isDriveFolder(parsed.Path) {
		return "", false
	}

	fileID := driveFileID(u)
	if fileID == "" {
		return u, true
	}

	if n.proxyURL != "" {
		return n.proxyURL + "?id=" + url.QueryEscape(fileID), true
	}

	if strings.HasSuffix(parsed.Path, "/thumbnail") && parsed.Query().Get("sz") != "" {
		return u, true
	}

	return driveThumbnailURL + "?id=" + fileID + "&sz=w" + strconv.Itoa(n.width), true
}

func driveFileID(u string) string {
	if m := driveFilePath.FindStringSubmatch(u); len(m) == 2 {
		return m[1]
	}
	if m := driveIDParam.FindStringSubmatch(u); len(m) == 2 {
		return m[1]
	}
	return ""
}

// isDriveFolder matches folder links in any account slot, e.g.
// /drive/folders/X and /drive/u/1/folders/X, and the account drive root.
func isDriveFolder(path string) bool {
	return strings.Contains(path, "/folders/") ||
		strings.HasSuffix(path, "/folders") ||
		strings.Contains(path, "/u/0/drive")
}

func isDriveHost(host string) bool {
	host = strings.ToLower(host)
	return host == "drive.google.com" || host == "docs.google.com"
}

// isLocalPath reports tokens that point into a filesystem rather than at a
// fetchable resource.
func isLocalPath(token string) bool {
	switch {
	case strings.Contains(token, "/content/drive/"):
		return true
	case strings.HasPrefix(token, "/"), strings.HasPrefix(token, "~/"):
		return true
	case strings.HasPrefix(strings.ToLower(token), "file:"):
		return true
	case windowsPath.MatchString(token):
		return true
	}
	return false
}
