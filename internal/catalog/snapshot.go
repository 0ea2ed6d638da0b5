package catalog

import (
	"sort"
	"time"
)

// Snapshot is an immutable in-memory view of one catalog version. A request
// obtains a snapshot once and resolves every code against it, so an
// activation that lands mid-request never mixes two versions.
type Snapshot struct {
	VersionID  string
	Generation int64
	LoadedAt   time.Time

	codes     []Code
	byCode    map[string]int
	sections  []string
	bySection map[string][]int
}

// NewSnapshot indexes codes for versionID. Duplicate codes keep the first occurrence.
func NewSnapshot(versionID string, generation int64, codes []Code) *Snapshot {
	snap := &Snapshot{
		VersionID:  versionID,
		Generation: generation,
		LoadedAt:   time.Now().UTC(),
		codes:      make([]Code, 0, len(codes)),
		byCode:     make(map[string]int, len(codes)),
		bySection:  make(map[string][]int),
	}
	for _, code := range codes {
		if _, dup := snap.byCode[code.Code]; dup {
			continue
		}
		code.VersionID = versionID
		snap.byCode[code.Code] = len(snap.codes)
		snap.codes = append(snap.codes, code)
	}
	sort.SliceStable(snap.codes, func(i, j int) bool { return snap.codes[i].Code < snap.codes[j].Code })
	for i, code := range snap.codes {
		snap.byCode[code.Code] = i
		snap.bySection[code.Section] = append(snap.bySection[code.Section], i)
	}
	for section := range snap.bySection {
		snap.sections = append(snap.sections, section)
	}
	sort.Strings(snap.sections)
	return snap
}

// Len returns the number of codes.
func (s *Snapshot) Len() int {
	return len(s.codes)
}

// Codes returns every code ordered by code. Callers must not modify the slice.
func (s *Snapshot) Codes() []Code {
	return s.codes
}

// Lookup returns the code entry if it exists in this version.
func (s *Snapshot) Lookup(code string) (Code, bool) {
	idx, ok := s.byCode[code]
	if !ok {
		return Code{}, false
	}
	return s.codes[idx], true
}

// Contains reports whether code belongs to this version.
func (s *Snapshot) Contains(code string) bool {
	_, ok := s.byCode[code]
	return ok
}

// Sections returns the sorted section names.
func (s *Snapshot) Sections() []string {
	return s.sections
}

// InSections returns the codes of the given sections in section order.
// Unknown sections are ignored.
func (s *Snapshot) InSections(sections ...string) []Code {
	var out []Code
	seen := map[string]struct{}{}
	for _, section := range sections {
		if _, dup := seen[section]; dup {
			continue
		}
		seen[section] = struct{}{}
		for _, idx := range s.bySection[section] {
			out = append(out, s.codes[idx])
		}
	}
	return out
}
