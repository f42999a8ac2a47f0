// Copyright 2026 The Rigbridge Authors
// SPDX-License-Identifier: Apache-2.0

package rig

import "strings"

// Suggest returns the candidate closest to name by edit distance, or
// "" when nothing is close enough to be a plausible typo. The cutoff
// scales with the name length so short names do not match everything.
func Suggest(name string, candidates []string) string {
	name = Normalize(name)
	best := ""
	bestDistance := len(name)/2 + 1
	for _, candidate := range candidates {
		distance := editDistance(name, Normalize(candidate))
		if distance < bestDistance {
			bestDistance = distance
			best = candidate
		}
	}
	return best
}

// Normalize lowercases a user-supplied name and folds spaces and
// hyphens to underscores, so "Nose Width" addresses nose_width.
func Normalize(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	name = strings.ReplaceAll(name, " ", "_")
	return strings.ReplaceAll(name, "-", "_")
}

// editDistance is the Levenshtein distance with two rolling rows.
func editDistance(a, b string) int {
	if a == b {
		return 0
	}
	previous := make([]int, len(b)+1)
	current := make([]int, len(b)+1)
	for j := range previous {
		previous[j] = j
	}
	for i := 1; i <= len(a); i++ {
		current[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			current[j] = min(previous[j]+1, min(current[j-1]+1, previous[j-1]+cost))
		}
		previous, current = current, previous
	}
	return previous[len(b)]
}
