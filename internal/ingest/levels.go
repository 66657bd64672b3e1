package ingest

import "strings"

// Canonical family preference levels.
const (
	LevelF1  = "1"
	LevelF2A = "2A"
	LevelF2B = "2B"
	LevelF3  = "3"
	LevelF4  = "4"
)

// levelSynonyms maps every spelling seen across bulletin years to its canonical level.
// Keys are trimmed and lowercased.
var levelSynonyms = map[string]string{
	"1st": LevelF1,
	"f1":  LevelF1,

	"2a":    LevelF2A,
	"2nd-a": LevelF2A,
	"f2a":   LevelF2A,
	"2nda":  LevelF2A,

	"2b":    LevelF2B,
	"2nd-b": LevelF2B,
	"f2b":   LevelF2B,
	"2ndb":  LevelF2B,

	"3rd": LevelF3,
	"f3":  LevelF3,

	"4th": LevelF4,
	"f4":  LevelF4,
}

// NormalizeLevel maps a raw family-sponsored label to its canonical level.
// Matching is exact after trimming and lowercasing; anything else is unrecognized.
func NormalizeLevel(raw string) (string, bool) {
	level, found := levelSynonyms[foldLower(strings.TrimSpace(raw))]
	return level, found
}
