package partition

import (
	"strings"
	"unicode"

	"github.com/EmpoweredVote/geosplit/internal/geo"
)

// FolderName turns a municipality name into a folder name: ASCII letters and
// digits are kept and lowercased, each run of whitespace becomes one
// underscore, everything else is dropped ("São Paulo!" -> "so_paulo").
// A name with nothing left maps to "unnamed".
func FolderName(name string) string {
	var b strings.Builder
	inSpace := false
	for _, r := range name {
		switch {
		case r <= unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(unicode.ToLower(r))
			inSpace = false
		case unicode.IsSpace(r):
			if !inSpace {
				b.WriteByte('_')
				inSpace = true
			}
		}
	}
	if b.Len() == 0 {
		return "unnamed"
	}
	return b.String()
}

// OutputFileName is "<layer>_<geometry type>.shp", lowercased.
func OutputFileName(layer string, t geo.GeometryType) string {
	return strings.ToLower(layer) + "_" + strings.ToLower(string(t)) + ".shp"
}
