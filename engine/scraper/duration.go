package scraper

import (
	"fmt"
	"strconv"
	"strings"
)

// parseISODurationSeconds parses the ISO-8601 duration strings the videos
// endpoint returns (PT#H#M#S, optionally with a leading P#D) into seconds.
func parseISODurationSeconds(s string) (int, error) {
	orig := s
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("scraper: bad duration %q", orig)
	}
	s = s[1:]

	days := 0
	if i := strings.IndexByte(s, 'T'); i >= 0 {
		if i > 0 {
			d, ok := strings.CutSuffix(s[:i], "D")
			if !ok {
				return 0, fmt.Errorf("scraper: bad duration %q", orig)
			}
			n, err := strconv.Atoi(d)
			if err != nil {
				return 0, fmt.Errorf("scraper: bad duration %q", orig)
			}
			days = n
		}
		s = s[i+1:]
	} else if d, ok := strings.CutSuffix(s, "D"); ok {
		n, err := strconv.Atoi(d)
		if err != nil {
			return 0, fmt.Errorf("scraper: bad duration %q", orig)
		}
		return n * 86400, nil
	} else if s == "" {
		return 0, nil
	} else {
		return 0, fmt.Errorf("scraper: bad duration %q", orig)
	}

	total := days * 86400
	num := ""
	for _, r := range s {
		if r >= '0' && r <= '9' {
			num += string(r)
			continue
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			return 0, fmt.Errorf("scraper: bad duration %q", orig)
		}
		switch r {
		case 'H':
			total += n * 3600
		case 'M':
			total += n * 60
		case 'S':
			total += n
		default:
			return 0, fmt.Errorf("scraper: bad duration %q", orig)
		}
		num = ""
	}
	if num != "" {
		return 0, fmt.Errorf("scraper: bad duration %q", orig)
	}
	return total, nil
}
