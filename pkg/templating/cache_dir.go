package templating

import (
	"os"
)

// CacheOption is the outcome of resolving the cache directory. The zero value
// means caching is disabled.
type CacheOption struct {
	dir string
}

// CacheDisabled returns the CacheOption that turns render caching off.
func CacheDisabled() CacheOption {
	return CacheOption{}
}

// CacheAt returns a CacheOption that caches into dir. It does not check dir;
// use ResolveCacheDir for that.
func CacheAt(dir string) CacheOption {
	return CacheOption{dir: dir}
}

// Enabled reports whether a cache directory is in use.
func (c CacheOption) Enabled() bool {
	return c.dir != ""
}

// Path returns the cache directory and true, or "" and false when disabled.
func (c CacheOption) Path() (string, bool) {
	return c.dir, c.dir != ""
}

// String implements fmt.Stringer for logging.
func (c CacheOption) String() string {
	if c.dir == "" {
		return "disabled"
	}
	return c.dir
}

// ResolveCacheDir decides once, at startup, whether rendered output can be
// cached in dir. A missing directory is created along with its parents. Failing
// to create it is not an error: only the writability probe that follows decides
// the outcome, so a directory created concurrently by another process still
// counts. ResolveCacheDir never fails; an unusable dir yields CacheDisabled.
func ResolveCacheDir(dir string) CacheOption {
	if dir == "" {
		return CacheDisabled()
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		_ = os.MkdirAll(dir, 0o777)
	}
	if !isWritableDir(dir) {
		return CacheDisabled()
	}
	return CacheAt(dir)
}

// isWritableDir probes dir by creating and removing a temporary file in it.
func isWritableDir(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}
