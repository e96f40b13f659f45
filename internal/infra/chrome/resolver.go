package chrome

import (
	"fmt"
	"os"

	"github.com/go-rod/rod/lib/launcher"

	"pdfrender/internal/domain"
)

// Resolver locates the engine executable.
type Resolver interface {
	Resolve() (string, error)
}

// DefaultCandidates are the usual install locations on Linux hosts and
// serverless images.
var DefaultCandidates = []string{
	"/usr/bin/chromium",
	"/usr/bin/chromium-browser",
	"/usr/bin/google-chrome",
	"/usr/bin/google-chrome-stable",
	"/opt/google/chrome/chrome",
	"/headless-shell/headless-shell",
	"/tmp/chromium",
}

// PathResolver checks an explicit path first, then candidates, then the host
// lookup. An explicit path is authoritative and never falls through.
type PathResolver struct {
	Explicit   string
	Candidates []string

	// LookPath defaults to go-rod's browser lookup.
	LookPath func() (string, bool)
}

// NewPathResolver returns a resolver over explicit and candidates, falling
// back to DefaultCandidates when candidates is empty.
func NewPathResolver(explicit string, candidates []string) *PathResolver {
	if len(candidates) == 0 {
		candidates = DefaultCandidates
	}
	return &PathResolver{Explicit: explicit, Candidates: candidates, LookPath: launcher.LookPath}
}

func (r *PathResolver) Resolve() (string, error) {
	if r.Explicit != "" {
		if err := checkExecutable(r.Explicit); err != nil {
			return "", domain.NewError(domain.KindResolution, "resolve", err)
		}
		return r.Explicit, nil
	}

	for _, p := range r.Candidates {
		if checkExecutable(p) == nil {
			return p, nil
		}
	}

	if r.LookPath != nil {
		if p, ok := r.LookPath(); ok && checkExecutable(p) == nil {
			return p, nil
		}
	}

	return "", domain.NewError(domain.KindResolution, "resolve",
		fmt.Errorf("%w: tried %d candidate(s) and host lookup", domain.ErrExecutableNotFound, len(r.Candidates)))
}

// checkExecutable requires a regular file with at least one exec bit.
func checkExecutable(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", domain.ErrExecutableNotFound, path)
		}
		return fmt.Errorf("%w: %s: %v", domain.ErrExecutableNotRunnable, path, err)
	}
	if !fi.Mode().IsRegular() || fi.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%w: %s (mode %s)", domain.ErrExecutableNotRunnable, path, fi.Mode())
	}
	return nil
}

