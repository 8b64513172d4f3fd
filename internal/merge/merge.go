package merge

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/r3labs/diff/v3"

	"github.com/localnerve/jam-build-sub001/internal/document"
)

// pending is a conflict candidate: a path changed on one or both sides
// relative to the base, where blind application would be ambiguous.
type pending struct {
	path      []string
	remote    any
	hasRemote bool
	local     any
	hasLocal  bool
}

// ThreeWay merges remote and local against their common ancestor.
//
// With no base the remote value is authoritative: no local changes were
// ever captured. Otherwise both sides are diffed against the base; pure
// additions and removals apply directly, while paths changed on both
// sides resolve local-wins: the non-nil local value beats remote, a nil
// local falls back to remote unless local already patched the path
// directly, and a path resolvable from neither side keeps the base
// value and is logged as unresolved (never raised).
func ThreeWay(base, remote, local document.Properties) (document.Properties, error) {
	if base == nil {
		if copied, ok := DeepCopy(map[string]any(remote)).(map[string]any); ok {
			return copied, nil
		}
		return nil, nil
	}

	remoteLog, err := diff.Diff(map[string]any(base), map[string]any(remote))
	if err != nil {
		return nil, fmt.Errorf("diff base/remote: %w", err)
	}
	localLog, err := diff.Diff(map[string]any(base), map[string]any(local))
	if err != nil {
		return nil, fmt.Errorf("diff base/local: %w", err)
	}

	merged, _ := DeepCopy(map[string]any(base)).(map[string]any)
	pend := make(map[string]*pending)
	localPatched := make(map[string]bool)

	// Remote pass: a path updated in place is present in both remote
	// and merged - ambiguous, so it only becomes a conflict candidate.
	// Pure additions and removals carry no ambiguity and apply now.
	for _, ch := range remoteLog {
		key := strings.Join(ch.Path, "\x00")
		switch ch.Type {
		case diff.UPDATE:
			pend[key] = &pending{path: ch.Path, remote: ch.To, hasRemote: true}
		case diff.CREATE:
			setPath(merged, ch.Path, DeepCopy(ch.To))
		case diff.DELETE:
			deletePath(merged, ch.Path)
		}
	}

	// Local pass: same test; ambiguous paths merge into the existing
	// candidate, direct applications are remembered as locally patched.
	for _, ch := range localLog {
		key := strings.Join(ch.Path, "\x00")
		switch ch.Type {
		case diff.UPDATE:
			p, ok := pend[key]
			if !ok {
				p = &pending{path: ch.Path}
				pend[key] = p
			}
			p.local = ch.To
			p.hasLocal = true
		case diff.CREATE:
			setPath(merged, ch.Path, DeepCopy(ch.To))
			localPatched[key] = true
		case diff.DELETE:
			deletePath(merged, ch.Path)
			localPatched[key] = true
		}
	}

	// Resolution, in deterministic path order.
	keys := make([]string, 0, len(pend))
	for k := range pend {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		p := pend[key]
		switch {
		case p.hasLocal && p.local != nil:
			// Local always wins on overlap.
			setPath(merged, p.path, DeepCopy(p.local))
		case p.hasRemote && !localPatched[key]:
			setPath(merged, p.path, DeepCopy(p.remote))
		default:
			slog.Warn("merge: unresolved path keeps base value",
				"path", strings.Join(p.path, "."),
			)
		}
	}

	return merged, nil
}
