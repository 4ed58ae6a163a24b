package utils

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Item is one download in a run. It is immutable once the run starts.
type Item struct {
	URL  string // source URL
	Dir  string // optional destination directory override
	Name string // optional filename override
}

// ResolvePath derives the destination path for an item. The filename is
// the override if set, otherwise the last (percent-decoded) path segment
// of the URL.
func (it Item) ResolvePath(defaultDir string) (string, error) {
	name := it.Name
	if name == "" {
		parsed, err := url.Parse(it.URL)
		if err != nil {
			return "", fmt.Errorf("invalid URL %q: %v", it.URL, err)
		}
		name = path.Base(parsed.Path)
		if name == "/" || name == "." || name == "" {
			return "", fmt.Errorf("cannot derive filename from URL %q", it.URL)
		}
	}
	if strings.ContainsRune(name, filepath.Separator) {
		return "", fmt.Errorf("filename %q contains a path separator", name)
	}
	dir := it.Dir
	if dir == "" {
		dir = defaultDir
	}
	return filepath.Join(dir, name), nil
}

// ProgressMode controls what the renderer shows.
type ProgressMode string

const (
	ProgressHidden    ProgressMode = "hidden"
	ProgressPerItem   ProgressMode = "peritem"
	ProgressAggregate ProgressMode = "aggregate"
	ProgressBoth      ProgressMode = "both"
)

// Config holds all options for a run. Build one, validate it with
// Validate, and treat it as read-only afterwards.
type Config struct {
	Dir              string            // destination directory (default ".")
	Concurrency      int               // max items in flight; values < 1 are coerced to 1
	Retries          int               // retries per item after the initial attempt (default 3)
	Resumable        bool              // resume partial files via Range requests (default true)
	Headers          map[string]string // applied to every request, probes included
	UserAgent        string            // User-Agent header ("randomize" picks a local one)
	ProxyURL         string            // optional HTTP/HTTPS proxy
	ProxyUsername    string
	ProxyPassword    string
	RetryStatusCodes []int         // extra status codes treated as retryable
	RateLimit        int64         // download cap in bytes/sec across the run, 0 = unlimited
	Timeout          time.Duration // per-request timeout (default 3m)
	KATimeout        time.Duration // keep-alive timeout (default 90s)
	ProgressMode     ProgressMode  // renderer visibility (default both)
	ClearOnFinish    bool          // erase the progress display once the run completes
}

// DefaultConfig returns a config with the documented defaults.
func DefaultConfig() Config {
	return Config{
		Dir:          ".",
		Concurrency:  32,
		Retries:      3,
		Resumable:    true,
		Timeout:      3 * time.Minute,
		KATimeout:    90 * time.Second,
		ProgressMode: ProgressBoth,
	}
}

// Validate checks the config for errors that must abort the run before
// any item starts. It does not mutate the config.
func (c Config) Validate() error {
	if c.Dir == "" {
		return &ConfigError{Reason: "destination directory is empty"}
	}
	if c.Retries < 0 {
		return &ConfigError{Reason: "retries cannot be negative"}
	}
	if c.ProxyURL != "" {
		if _, err := url.Parse(c.ProxyURL); err != nil {
			return &ConfigError{Reason: fmt.Sprintf("invalid proxy URL: %v", err)}
		}
	}
	switch c.ProgressMode {
	case ProgressHidden, ProgressPerItem, ProgressAggregate, ProgressBoth, "":
	default:
		return &ConfigError{Reason: fmt.Sprintf("unknown progress mode %q", c.ProgressMode)}
	}
	return nil
}

// EffectiveConcurrency coerces non-positive concurrency to 1 instead of
// treating it as zero workers.
func (c Config) EffectiveConcurrency() int {
	return max(1, c.Concurrency)
}

// Status is the per-item state machine tag.
type Status int

const (
	StatusNotStarted Status = iota
	StatusProbing
	StatusResuming
	StatusRestarting
	StatusDownloading
	StatusAlreadyComplete
	StatusSuccess
	StatusFail
	StatusCancelled
)

// Terminal reports whether an item cannot transition further.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFail, StatusAlreadyComplete, StatusCancelled:
		return true
	}
	return false
}

func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "not-started"
	case StatusProbing:
		return "probing"
	case StatusResuming:
		return "resuming"
	case StatusRestarting:
		return "restarting"
	case StatusDownloading:
		return "downloading"
	case StatusAlreadyComplete:
		return "already-complete"
	case StatusSuccess:
		return "success"
	case StatusFail:
		return "fail"
	case StatusCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Outcome is the final record for one item. The outcome list of a run
// always matches the input list in length and order.
type Outcome struct {
	Status   Status
	Err      string // last error for Fail/Cancelled, empty otherwise
	Path     string // resolved destination path
	Bytes    int64  // final size on disk
	Attempts int    // attempts consumed, at most retries+1
}
