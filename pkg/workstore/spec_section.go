package workstore

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// SpecFinder is the subset of SpecStore that ReadSpecSection needs. It is
// declared here, not imported from pkg/specstore, so workstore has no
// compile-time dependency on the spec storage implementation.
type SpecFinder interface {
	Find(itemNumber int) (content string, hierarchical bool, ok bool, err error)
}

var sectionPathPattern = regexp.MustCompile(`/\w+`)

// ReadSpecSection fetches the spec named by work.SpecID via specs and
// returns the subset identified by work.ScopeDescription, which names
// hierarchical section paths embedded in free text (e.g. "Phase 2:
// /implementation"). If ScopeDescription names no section paths, or the
// spec is not stored in hierarchical form, the full spec content is
// returned.
func ReadSpecSection(work *WorkUnit, specs SpecFinder) (string, error) {
	itemNumber, err := specItemNumber(work.SpecID)
	if err != nil {
		return "", err
	}

	content, hierarchical, ok, err := specs.Find(itemNumber)
	if err != nil {
		return "", fmt.Errorf("workstore: read spec section: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("workstore: spec not found for work %s (spec_id=%s)", work.WorkID, work.SpecID)
	}
	if !hierarchical {
		return content, nil
	}

	sections := sectionPathPattern.FindAllString(work.ScopeDescription, -1)
	if len(sections) == 0 {
		return fullHierarchicalSpec(content)
	}

	var parsed map[string]string
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return "", fmt.Errorf("workstore: parse hierarchical spec: %w", err)
	}

	var b strings.Builder
	for _, s := range sections {
		key := strings.TrimPrefix(s, "/")
		if text, ok := parsed[key]; ok {
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			fmt.Fprintf(&b, "## /%s\n%s", key, text)
		}
	}
	return b.String(), nil
}

func fullHierarchicalSpec(content string) (string, error) {
	var parsed map[string]string
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return "", fmt.Errorf("workstore: parse hierarchical spec: %w", err)
	}
	var b strings.Builder
	for key, text := range parsed {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## /%s\n%s", key, text)
	}
	return b.String(), nil
}

// specItemNumber parses the roadmap item number out of a spec id of the
// form "spec-<n>" or a bare integer string.
func specItemNumber(specID string) (int, error) {
	trimmed := strings.TrimPrefix(specID, "spec-")
	var n int
	if _, err := fmt.Sscanf(trimmed, "%d", &n); err != nil {
		return 0, fmt.Errorf("workstore: cannot parse item number from spec_id %q: %w", specID, err)
	}
	return n, nil
}
