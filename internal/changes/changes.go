// Package changes computes structural diffs between metadata documents
// and evaluates them against change policies. The registries use it to
// classify schema updates as safe or unsafe, and the dataset store uses
// it to enforce additive-only document updates.
package changes

import (
	"fmt"
	"reflect"
	"strings"
)

// Change is one difference between two documents. Old is nil for an
// addition, New is nil for a removal.
type Change struct {
	Path []string
	Old  any
	New  any
}

func (c Change) String() string {
	return fmt.Sprintf("%s: %v -> %v", strings.Join(c.Path, "."), c.Old, c.New)
}

// IsAddition reports whether the change introduces a value where none
// existed.
func (c Change) IsAddition() bool { return c.Old == nil && c.New != nil }

// IsRemoval reports whether the change deletes an existing value.
func (c Change) IsRemoval() bool { return c.Old != nil && c.New == nil }

// AllChanges walks two documents and returns every leaf-level
// difference. Maps are descended into; any other value (including
// lists) is compared atomically.
func AllChanges(old, new map[string]any) []Change {
	var out []Change
	diffDocs(nil, old, new, &out)

	return out
}

func diffDocs(path []string, old, new map[string]any, out *[]Change) {
	for key, oldVal := range old {
		sub := appendPath(path, key)

		newVal, present := new[key]
		if !present {
			*out = append(*out, Change{Path: sub, Old: oldVal, New: nil})
			continue
		}

		oldDoc, oldIsDoc := oldVal.(map[string]any)
		newDoc, newIsDoc := newVal.(map[string]any)

		switch {
		case oldIsDoc && newIsDoc:
			diffDocs(sub, oldDoc, newDoc, out)
		case !equalValue(oldVal, newVal):
			*out = append(*out, Change{Path: sub, Old: oldVal, New: newVal})
		}
	}

	for key, newVal := range new {
		if _, present := old[key]; !present {
			*out = append(*out, Change{Path: appendPath(path, key), Old: nil, New: newVal})
		}
	}
}

// Contains reports whether doc satisfies the given match rules: every
// leaf in rules must be present in doc with an equal value. Nested maps
// are matched recursively; missing keys fail the match.
func Contains(doc, rules any) bool {
	ruleDoc, ruleIsDoc := rules.(map[string]any)
	if !ruleIsDoc {
		return equalValue(doc, rules)
	}

	target, docIsDoc := doc.(map[string]any)
	if !docIsDoc {
		return false
	}

	for key, rule := range ruleDoc {
		val, present := target[key]
		if !present || !Contains(val, rule) {
			return false
		}
	}

	return true
}

// Policy decides whether a single change is acceptable.
type Policy func(Change) bool

// AllowAny accepts every change.
func AllowAny(Change) bool { return true }

// AllowAddition accepts only changes that add new values.
func AllowAddition(c Change) bool { return c.IsAddition() }

// AllowRemoval accepts additions and removals but not modifications of
// existing values.
func AllowRemoval(c Change) bool { return c.IsAddition() || c.IsRemoval() }

// Offending returns the changes not accepted by any applicable policy.
// Policies are keyed by dotted path; a policy applies to its exact path
// and everything beneath it. The default policy covers unmatched paths.
func Offending(all []Change, policies map[string]Policy, def Policy) []Change {
	var bad []Change

	for _, c := range all {
		policy := def

		// Most specific (longest) matching prefix wins.
		matched := -1

		for prefix, p := range policies {
			parts := strings.Split(prefix, ".")
			if len(parts) > matched && hasPrefix(c.Path, parts) {
				policy, matched = p, len(parts)
			}
		}

		if policy == nil || !policy(c) {
			bad = append(bad, c)
		}
	}

	return bad
}

func hasPrefix(path, prefix []string) bool {
	if len(prefix) > len(path) {
		return false
	}

	for i, p := range prefix {
		if path[i] != p {
			return false
		}
	}

	return true
}

func appendPath(path []string, key string) []string {
	sub := make([]string, len(path)+1)
	copy(sub, path)
	sub[len(path)] = key

	return sub
}

func equalValue(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
