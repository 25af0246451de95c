// Package roadmap implements RoadmapReader: a regex-based parser over a
// markdown roadmap file that extracts numbered priority sections, their
// status, and their content. Results are cached and the cache is
// invalidated by the file's modification time, not by any explicit
// reload call, mirroring the original parser's mtime-gated cache.
package roadmap

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Item is one numbered priority section of the roadmap.
type Item struct {
	Number  int
	Title   string
	Status  string
	Content string
}

var (
	headerPattern = regexp.MustCompile(`^###\s+.*PRIORITY\s+(\d+):(.*)$`)
	statusPattern = regexp.MustCompile(`\*\*Status\*\*:\s*(.+)$`)
)

// Reader parses a roadmap markdown file, caching the parsed items keyed
// by the file's last modification time.
type Reader struct {
	Path string

	mu        sync.Mutex
	items     []Item
	cacheTime time.Time
}

// New constructs a Reader for the roadmap at path.
func New(path string) *Reader {
	return &Reader{Path: path}
}

// ListItems returns every priority item found in the roadmap, refreshing
// the parse only if the file's mtime has changed since the last call.
func (r *Reader) ListItems() ([]Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, err := os.Stat(r.Path)
	if err != nil {
		return nil, fmt.Errorf("roadmap: stat %s: %w", r.Path, err)
	}

	if r.items != nil && info.ModTime().Equal(r.cacheTime) {
		return r.items, nil
	}

	data, err := os.ReadFile(r.Path)
	if err != nil {
		return nil, fmt.Errorf("roadmap: read %s: %w", r.Path, err)
	}

	items := parse(string(data))
	r.items = items
	r.cacheTime = info.ModTime()
	return items, nil
}

func parse(content string) []Item {
	lines := strings.Split(content, "\n")
	var items []Item

	for i, line := range lines {
		m := headerPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		number, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		title := strings.TrimSpace(strings.Trim(m[2], "*"))

		status := extractStatus(lines, i)
		section := extractSection(lines, i)

		items = append(items, Item{Number: number, Title: title, Status: status, Content: section})
	}
	return items
}

func extractStatus(lines []string, start int) string {
	end := start + 15
	if end > len(lines) {
		end = len(lines)
	}
	for i := start; i < end; i++ {
		if m := statusPattern.FindStringSubmatch(lines[i]); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return "unknown"
}

func extractSection(lines []string, start int) string {
	section := []string{lines[start]}
	for i := start + 1; i < len(lines); i++ {
		line := lines[i]
		if headerPattern.MatchString(line) {
			break
		}
		if strings.HasPrefix(line, "## ") && !strings.HasPrefix(line, "### ") {
			break
		}
		section = append(section, line)
	}
	return strings.Join(section, "\n")
}

// NextPlanned returns the first item whose status names it planned, or
// nil if none is planned.
func (r *Reader) NextPlanned() (*Item, error) {
	items, err := r.ListItems()
	if err != nil {
		return nil, err
	}
	for i := range items {
		status := strings.ToLower(items[i].Status)
		if strings.Contains(status, "planned") || strings.Contains(items[i].Status, "📝") {
			item := items[i]
			return &item, nil
		}
	}
	return nil, nil
}

// IsComplete reports whether the item with the given number is marked
// complete. A number that doesn't exist in the roadmap is not complete.
func (r *Reader) IsComplete(number int) (bool, error) {
	items, err := r.ListItems()
	if err != nil {
		return false, err
	}
	for _, it := range items {
		if it.Number == number {
			status := strings.ToLower(it.Status)
			return strings.Contains(it.Status, "✅") || strings.Contains(status, "complete"), nil
		}
	}
	return false, nil
}
