package storage

import (
	"fmt"
	"time"

	"tally/internal/core"
)

// dateCol scans DATE (PostgreSQL) and TEXT (SQLite) day columns.
type dateCol struct{ d *core.Date }

func (c dateCol) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*c.d = core.DateOf(v)
		return nil
	case string:
		return c.parse(v)
	case []byte:
		return c.parse(string(v))
	case nil:
		*c.d = core.Date{}
		return nil
	}
	return fmt.Errorf("unsupported date column type %T", src)
}

func (c dateCol) parse(s string) error {
	if len(s) > len(core.DateLayout) {
		s = s[:len(core.DateLayout)]
	}
	t, err := time.Parse(core.DateLayout, s)
	if err != nil {
		return fmt.Errorf("parse date column %q: %w", s, err)
	}
	*c.d = core.DateOf(t)
	return nil
}

// timeCol scans timestamps stored natively or as text.
type timeCol struct{ t *time.Time }

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
}

func (c timeCol) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*c.t = v.UTC()
		return nil
	case []byte:
		return c.parse(string(v))
	case string:
		return c.parse(v)
	case nil:
		*c.t = time.Time{}
		return nil
	}
	return fmt.Errorf("unsupported time column type %T", src)
}

func (c timeCol) parse(s string) error {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			*c.t = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("parse time column %q", s)
}
