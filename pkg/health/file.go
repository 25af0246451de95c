package health

import (
	"context"
	"fmt"
	"os"
	"time"
)

// FileChecker judges health by the presence of a path on disk.
// StartupSkills uses it for each role's required files: the roadmap
// document and the configured status and message directories.
type FileChecker struct {
	Path string

	// Dir, when true, additionally requires the path to be a directory.
	Dir bool
}

// NewFileChecker creates a FileChecker for path.
func NewFileChecker(path string) *FileChecker {
	return &FileChecker{Path: path}
}

// AsDir requires path to be a directory, not just present.
func (f *FileChecker) AsDir() *FileChecker {
	f.Dir = true
	return f
}

// Check stats the path once.
func (f *FileChecker) Check(ctx context.Context) Result {
	start := time.Now()

	info, err := os.Stat(f.Path)
	if err != nil {
		return Result{Healthy: false, Message: fmt.Sprintf("stat %s: %v", f.Path, err), CheckedAt: start, Duration: time.Since(start)}
	}
	if f.Dir && !info.IsDir() {
		return Result{Healthy: false, Message: fmt.Sprintf("%s exists but is not a directory", f.Path), CheckedAt: start, Duration: time.Since(start)}
	}

	return Result{Healthy: true, Message: fmt.Sprintf("%s present", f.Path), CheckedAt: start, Duration: time.Since(start)}
}

// Type returns the health check type.
func (f *FileChecker) Type() CheckType {
	return CheckTypeFile
}
