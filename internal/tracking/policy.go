package tracking

import (
	"fmt"
	"sort"
	"strings"
)

// Policy is the bitmask of optional driver behaviours and streams.
type Policy uint64

const (
	PolicyBackgroundFrames Policy = 1 << iota
	PolicyImages
	PolicyOptimizeHMD
	PolicyAllowPauseResume
	PolicyRawImages
	PolicyTrackedQuads
)

var policyNames = map[string]Policy{
	"background_frames":  PolicyBackgroundFrames,
	"images":             PolicyImages,
	"optimize_hmd":       PolicyOptimizeHMD,
	"allow_pause_resume": PolicyAllowPauseResume,
	"raw_images":         PolicyRawImages,
	"tracked_quads":      PolicyTrackedQuads,
}

// Has reports whether every bit of flag is set.
func (p Policy) Has(flag Policy) bool {
	return p&flag == flag
}

// String lists the set policy names, sorted.
func (p Policy) String() string {
	var names []string
	for name, flag := range policyNames {
		if p.Has(flag) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	sort.Strings(names)
	return strings.Join(names, "|")
}

// ParsePolicies converts policy names (as used in config files) to a mask.
func ParsePolicies(names []string) (Policy, error) {
	var p Policy
	for _, name := range names {
		flag, ok := policyNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return 0, fmt.Errorf("unknown policy %q", name)
		}
		p |= flag
	}
	return p, nil
}

// requirement is the set of optional streams a pending frame waits for.
// It is captured when the frame is enqueued.
type requirement uint8

const (
	needImages requirement = 1 << iota
	needRawImages
	needQuad
)

func requirementFor(p Policy) requirement {
	var r requirement
	if p.Has(PolicyImages) {
		r |= needImages
	}
	if p.Has(PolicyRawImages) {
		r |= needRawImages
	}
	if p.Has(PolicyTrackedQuads) {
		r |= needQuad
	}
	return r
}
