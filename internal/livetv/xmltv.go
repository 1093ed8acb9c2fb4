package livetv

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/streamarc/streamarc/internal/models"
)

// XMLTV timestamps are "YYYYMMDDhhmmss" optionally followed by " ±HHMM".
const (
	minGuideYear = 1970
	maxGuideYear = 2099

	minOffsetMinutes = -12 * 60
	maxOffsetMinutes = 14 * 60
)

// ParseXMLTVTime validates and normalizes one guide timestamp to UTC.
func ParseXMLTVTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	stamp := s
	offset := 0
	if i := strings.IndexByte(s, ' '); i >= 0 {
		stamp = s[:i]
		var err error
		offset, err = parseOffset(strings.TrimSpace(s[i+1:]))
		if err != nil {
			return time.Time{}, err
		}
	}
	if len(stamp) != 14 {
		return time.Time{}, fmt.Errorf("timestamp %q: want 14 digits", s)
	}

	num := func(from, to int) (int, error) { return strconv.Atoi(stamp[from:to]) }
	year, err1 := num(0, 4)
	month, err2 := num(4, 6)
	day, err3 := num(6, 8)
	hour, err4 := num(8, 10)
	minute, err5 := num(10, 12)
	second, err6 := num(12, 14)
	for _, err := range []error{err1, err2, err3, err4, err5, err6} {
		if err != nil {
			return time.Time{}, fmt.Errorf("timestamp %q: not numeric", s)
		}
	}

	if year < minGuideYear || year > maxGuideYear {
		return time.Time{}, fmt.Errorf("timestamp %q: year %d out of range", s, year)
	}
	if hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, fmt.Errorf("timestamp %q: bad time of day", s)
	}

	loc := time.FixedZone("", offset*60)
	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, loc)
	// time.Date normalizes out-of-range components; a mismatch means the
	// input was invalid (e.g. month 13 or Feb 30).
	if t.Year() != year || t.Month() != time.Month(month) || t.Day() != day {
		return time.Time{}, fmt.Errorf("timestamp %q: no such date", s)
	}
	return t.UTC(), nil
}

// parseOffset reads "±HHMM" into minutes, bounded to real-world zones.
func parseOffset(s string) (int, error) {
	if len(s) != 5 || (s[0] != '+' && s[0] != '-') {
		return 0, fmt.Errorf("offset %q: want ±HHMM", s)
	}
	hours, err1 := strconv.Atoi(s[1:3])
	minutes, err2 := strconv.Atoi(s[3:5])
	if err1 != nil || err2 != nil || minutes > 59 {
		return 0, fmt.Errorf("offset %q: not numeric", s)
	}
	total := hours*60 + minutes
	if s[0] == '-' {
		total = -total
	}
	if total < minOffsetMinutes || total > maxOffsetMinutes {
		return 0, fmt.Errorf("offset %q: outside [-12:00, +14:00]", s)
	}
	return total, nil
}

// ──────── Programme elements ────────

// xmltvProgramme mirrors one <programme> element.
type xmltvProgramme struct {
	Start      string   `xml:"start,attr"`
	Stop       string   `xml:"stop,attr"`
	Channel    string   `xml:"channel,attr"`
	Title      string   `xml:"title"`
	Desc       string   `xml:"desc"`
	Episode    string   `xml:"episode-num"`
	Categories []string `xml:"category"`
	Icon       struct {
		Src string `xml:"src,attr"`
	} `xml:"icon"`
}

type fingerprint struct {
	channel         string
	startMs, stopMs int64
}

// programCollector validates, filters, and deduplicates incoming programmes
// within one sync pass.
type programCollector struct {
	providerID string
	tvgIDs     map[string]struct{}
	seen       map[fingerprint]struct{}
	programs   []*models.Program
	skipped    int
}

func newProgramCollector(providerID string, tvgIDs map[string]struct{}) *programCollector {
	return &programCollector{
		providerID: providerID,
		tvgIDs:     tvgIDs,
		seen:       make(map[fingerprint]struct{}),
	}
}

// add admits one programme, or counts it as skipped: unknown channel, bad
// timestamps, stop not after start, or a repeat of an already-admitted
// fingerprint.
func (c *programCollector) add(p xmltvProgramme) {
	if _, ok := c.tvgIDs[p.Channel]; !ok {
		c.skipped++
		return
	}
	start, err := ParseXMLTVTime(p.Start)
	if err != nil {
		c.skipped++
		return
	}
	stop, err := ParseXMLTVTime(p.Stop)
	if err != nil {
		c.skipped++
		return
	}
	if !stop.After(start) {
		c.skipped++
		return
	}
	fp := fingerprint{channel: p.Channel, startMs: start.UnixMilli(), stopMs: stop.UnixMilli()}
	if _, dup := c.seen[fp]; dup {
		c.skipped++
		return
	}
	c.seen[fp] = struct{}{}

	prog := &models.Program{
		ProviderID:  c.providerID,
		ChannelID:   p.Channel,
		Title:       strings.TrimSpace(p.Title),
		Description: strings.TrimSpace(p.Desc),
		Episode:     strings.TrimSpace(p.Episode),
		Icon:        p.Icon.Src,
		Start:       start,
		Stop:        stop,
	}
	if len(p.Categories) > 0 {
		prog.Category = strings.TrimSpace(p.Categories[0])
	}
	c.programs = append(c.programs, prog)
}
