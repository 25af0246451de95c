package agents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bobain/overseer/pkg/llm"
	"github.com/bobain/overseer/pkg/log"
	"github.com/bobain/overseer/pkg/messagebus"
	"github.com/bobain/overseer/pkg/role"
)

// CodeSearcher implements role.Behavior for the code_searcher role: on a
// long tick interval it walks the repository, builds a structural
// snapshot (package and file counts, directory shape), asks the LLM to
// summarize it into a short code-analysis note, and hands the result to
// architect as a read-only input. It never writes to the tree itself.
type CodeSearcher struct {
	Root       string
	LLM        llm.Client
	Bus        sender
	TickBudget time.Duration

	lastSnapshot string
}

// NewCodeSearcher constructs a CodeSearcher rooted at root.
func NewCodeSearcher(root string, l llm.Client, bus sender) *CodeSearcher {
	return &CodeSearcher{Root: root, LLM: l, Bus: bus, TickBudget: 90 * time.Second}
}

func (c *CodeSearcher) Role() role.Role { return role.CodeSearcher }

// DoBackgroundWork builds the periodic snapshot: produce a repository-wide
// code-analysis snapshot and forward it to architect. A snapshot
// identical to the previous tick's is not re-sent, since the long tick
// interval means most ticks see no meaningful change.
func (c *CodeSearcher) DoBackgroundWork(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.TickBudget)
	defer cancel()

	inventory, err := scanTree(c.Root)
	if err != nil {
		return fmt.Errorf("code_searcher: scan tree: %w", err)
	}
	if inventory == c.lastSnapshot {
		return nil
	}

	prompt := fmt.Sprintf(
		"Summarize the structure and notable patterns of this repository for an architect planning new work. "+
			"Be brief, list reusable packages by name.\n\n%s", inventory)
	result, err := invokeLLM(ctx, c.LLM, role.CodeSearcher, prompt, c.TickBudget*3/4)
	if err != nil {
		return fmt.Errorf("code_searcher: llm invoke: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("code_searcher: llm invoke unsuccessful: %s", result.Error)
	}

	if _, err := c.Bus.Send(role.CodeSearcher, role.Architect, KindCodeSnapshot,
		map[string]any{"summary": result.Content}, messagebus.Low); err != nil {
		log.Logger.Warn().Err(err).Msg("code_searcher: failed to forward snapshot")
		return nil
	}

	c.lastSnapshot = inventory
	return nil
}

// scanTree walks root and produces a stable, deterministic textual
// inventory of package directories and file counts by extension,
// skipping dot-directories, vendor, and node_modules.
func scanTree(root string) (string, error) {
	counts := make(map[string]int)
	var dirs []string

	walkErr := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		base := d.Name()
		if d.IsDir() {
			if path != root && (strings.HasPrefix(base, ".") || base == "vendor" || base == "node_modules") {
				return filepath.SkipDir
			}
			if hasGoFile(path) {
				rel, relErr := filepath.Rel(root, path)
				if relErr == nil {
					dirs = append(dirs, rel)
				}
			}
			return nil
		}
		counts[filepath.Ext(base)]++
		return nil
	})
	if walkErr != nil {
		return "", walkErr
	}

	sort.Strings(dirs)

	var b strings.Builder
	fmt.Fprintf(&b, "packages (%d):\n", len(dirs))
	for _, d := range dirs {
		fmt.Fprintf(&b, "  %s\n", d)
	}
	fmt.Fprintf(&b, "files by extension:\n")
	exts := make([]string, 0, len(counts))
	for ext := range counts {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	for _, ext := range exts {
		fmt.Fprintf(&b, "  %s: %d\n", ext, counts[ext])
	}
	return b.String(), nil
}

func hasGoFile(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".go") {
			return true
		}
	}
	return false
}

// HandleMessage implements message handling for code_searcher: it has no
// reactive protocol of its own, all work being scheduled per tick.
func (c *CodeSearcher) HandleMessage(ctx context.Context, msg role.Message) error {
	log.Logger.Debug().Str("kind", msg.Kind).Str("from", string(msg.From)).Msg("code_searcher: ignoring message")
	return nil
}
