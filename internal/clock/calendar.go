package clock

import (
	_ "embed"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed holidays.yaml
var holidaysYAML []byte

// Calendar holds exchange full-closure holidays and early-close half days.
type Calendar struct {
	holidays map[string]bool
	halfDays map[string]bool
}

type calendarFile struct {
	Holidays []string `yaml:"holidays"`
	HalfDays []string `yaml:"half_days"`
}

const dateLayout = "2006-01-02"

// DefaultCalendar parses the embedded NYSE holiday table.
func DefaultCalendar() (*Calendar, error) {
	return ParseCalendar(holidaysYAML)
}

// ParseCalendar builds a Calendar from YAML holiday/half-day date lists.
func ParseCalendar(raw []byte) (*Calendar, error) {
	var file calendarFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing holiday calendar: %w", err)
	}
	cal := &Calendar{
		holidays: make(map[string]bool, len(file.Holidays)),
		halfDays: make(map[string]bool, len(file.HalfDays)),
	}
	for _, d := range file.Holidays {
		if _, err := time.Parse(dateLayout, d); err != nil {
			return nil, fmt.Errorf("bad holiday date %q: %w", d, err)
		}
		cal.holidays[d] = true
	}
	for _, d := range file.HalfDays {
		if _, err := time.Parse(dateLayout, d); err != nil {
			return nil, fmt.Errorf("bad half-day date %q: %w", d, err)
		}
		cal.halfDays[d] = true
	}
	return cal, nil
}

// IsHoliday reports whether the exchange is fully closed on t's date.
func (c *Calendar) IsHoliday(t time.Time) bool {
	return c.holidays[t.Format(dateLayout)]
}

// IsHalfDay reports whether the exchange closes early (13:00) on t's date.
func (c *Calendar) IsHalfDay(t time.Time) bool {
	return c.halfDays[t.Format(dateLayout)]
}
