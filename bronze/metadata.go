package bronze

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var monthByName = map[string]int{
	"jan": 1, "january": 1,
	"feb": 2, "february": 2,
	"mar": 3, "march": 3,
	"apr": 4, "april": 4,
	"may": 5,
	"jun": 6, "june": 6,
	"jul": 7, "july": 7,
	"aug": 8, "august": 8,
	"sep": 9, "sept": 9, "september": 9,
	"oct": 10, "october": 10,
	"nov": 11, "november": 11,
	"dec": 12, "december": 12,
}

var (
	yearToken      = regexp.MustCompile(`^\d{4}$`)
	monthNumToken  = regexp.MustCompile(`^\d{2}$`)
	yearMonthToken = regexp.MustCompile(`^(\d{4})[-_ ]([A-Za-z]+|\d{1,2})(?:[-_ ].*)?$`)
	dayInName      = regexp.MustCompile(`(\d{4})[-_]?([01]\d)[-_]?([0-3]\d)`)
)

// FileMetadata is the best-effort partition information for one file.
type FileMetadata struct {
	Year         int
	Month        int
	ReportedDate *string
	Place        Place
	// FromPath is false when year or month came from the fallback time.
	FromPath      bool
	PartitionPath string
}

// ExtractMetadata never fails: whatever the path does not say is taken from fallback,
// which callers set to the file's modification time.
func ExtractMetadata(path string, fallback time.Time) FileMetadata {
	year, month := yearMonthFromPath(path)
	md := FileMetadata{FromPath: year != 0 && month != 0}
	if year == 0 {
		year = fallback.Year()
	}
	if month == 0 {
		month = int(fallback.Month())
	}
	md.Year, md.Month = year, month

	base := stripDataExt(filepath.Base(path))
	md.ReportedDate = reportedDateFromName(base)
	md.Place = ExtractPlace(strings.Split(base, "_"))
	md.PartitionPath = BuildPartitionPath(md.Place, year, month)
	return md
}

func yearMonthFromPath(path string) (year int, month int) {
	clean := filepath.ToSlash(filepath.Clean(path))
	parts := strings.Split(clean, "/")
	if n := len(parts); n > 0 {
		parts[n-1] = stripDataExt(parts[n-1])
	}
	for _, part := range parts {
		if part == "" {
			continue
		}
		if yearToken.MatchString(part) {
			if y, _ := strconv.Atoi(part); validYear(y) {
				year = y
			}
			continue
		}
		if m := yearMonthToken.FindStringSubmatch(part); m != nil {
			if y, _ := strconv.Atoi(m[1]); validYear(y) {
				year = y
			}
			if mo := monthFromToken(m[2]); mo != 0 {
				month = mo
			}
			continue
		}
		if mo := monthFromToken(part); mo != 0 {
			month = mo
		}
	}
	return year, month
}

func validYear(y int) bool {
	return y >= 1900 && y <= 2199
}

// monthFromToken accepts "04", "4" (inside combined tokens), "Apr" and "April".
func monthFromToken(tok string) int {
	if monthNumToken.MatchString(tok) || (len(tok) == 1 && tok[0] >= '1' && tok[0] <= '9') {
		mo, _ := strconv.Atoi(tok)
		if mo >= 1 && mo <= 12 {
			return mo
		}
		return 0
	}
	return monthByName[strings.ToLower(tok)]
}

func reportedDateFromName(base string) *string {
	m := dayInName.FindStringSubmatch(base)
	if m == nil {
		return nil
	}
	y, _ := strconv.Atoi(m[1])
	mo, _ := strconv.Atoi(m[2])
	d, _ := strconv.Atoi(m[3])
	t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
	if !validYear(y) || t.Year() != y || int(t.Month()) != mo || t.Day() != d {
		return nil
	}
	s := t.Format(dateLayoutISO)
	return &s
}

// BuildPartitionPath returns the suggested hierarchical storage key.
func BuildPartitionPath(p Place, year int, month int) string {
	if market := NormalizeOptional(p.Market); market != nil {
		state := "unknown_state"
		if s := NormalizeOptional(p.State); s != nil {
			state = *s
		}
		return fmt.Sprintf("market=%s/state=%s/year=%d/month=%02d", *market, state, year, month)
	}
	return fmt.Sprintf("year=%d/month=%02d", year, month)
}
