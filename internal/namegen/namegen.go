// Package namegen implements the save-filename policy: suffix
// normalization, sequence numbering, and datestamp variants.
package namegen

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// maxAttempts bounds the search for a free numbered name. Exhausting it
// means the directory is saturated with collisions and the caller gets an
// explicit failure instead of an endless loop.
const maxAttempts = 10000

// ErrExhausted is returned when no unique name could be produced within
// the retry budget.
var ErrExhausted = errors.New("namegen: could not produce unique name")

// lastDigits matches the final run of digits in a name stem.
var lastDigits = regexp.MustCompile(`(\d+)(\D*)$`)

// WithSuffix appends suffix to name unless it is already present. The
// suffix may be given with or without a leading dot; applying WithSuffix
// twice never doubles it.
func WithSuffix(name, suffix string) string {
	if suffix == "" {
		return name
	}
	if !strings.HasPrefix(suffix, ".") {
		suffix = "." + suffix
	}
	if strings.HasSuffix(name, suffix) {
		return name
	}
	return name + suffix
}

// Increment bumps the last run of digits in the filename stem, preserving
// zero padding up to the original width and growing naturally past it.
// A stem with no digits gets "_001" appended.
//
//	capture_005.png -> capture_006.png
//	capture.png     -> capture_001.png
//	shot_999.png    -> shot_1000.png
func Increment(filename string) string {
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)

	m := lastDigits.FindStringSubmatchIndex(stem)
	if m == nil {
		return stem + "_001" + ext
	}

	digits := stem[m[2]:m[3]]
	n, _ := strconv.Atoi(digits)
	next := fmt.Sprintf("%0*d", len(digits), n+1)

	return stem[:m[2]] + next + stem[m[3]:] + ext
}

// Next returns the first name in the numbered sequence that does not yet
// exist in dir. The base name's own counter is used when it has one;
// otherwise numbering starts at _001 with three-digit padding. The search
// is bounded; a saturated directory yields ErrExhausted.
func Next(dir, name, suffix string) (string, error) {
	return next(dir, name, suffix, maxAttempts)
}

func next(dir, name, suffix string, budget int) (string, error) {
	candidate := WithSuffix(name, suffix)

	for i := 0; i < budget; i++ {
		if _, err := os.Stat(filepath.Join(dir, candidate)); os.IsNotExist(err) {
			return candidate, nil
		}
		candidate = Increment(candidate)
	}
	return "", ErrExhausted
}

// Datestamp returns name with a timestamp variant appended:
// name_YYYY.MM.DD_HH.MM.SS.suffix. Dots separate the elements within the
// date and the time; an underscore separates date from time.
func Datestamp(name, suffix string, t time.Time) string {
	stamp := t.Format("2006.01.02_15.04.05")
	return WithSuffix(name+"_"+stamp, suffix)
}
