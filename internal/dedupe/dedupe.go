// Package dedupe partitions a batch of freshly parsed transactions into
// unique rows, rows already stored for the user, and rows repeated within
// the batch itself.
package dedupe

import (
	"strings"
	"unicode"

	"tally/internal/core"
)

// Kind classifies a batch row.
type Kind string

const (
	Unique            Kind = "unique"
	DuplicateExisting Kind = "duplicate_existing"
	DuplicateInBatch  Kind = "duplicate_in_batch"
)

// Entry is one batch row together with what it matched.
type Entry struct {
	Index       int              `json:"index"`
	Kind        Kind             `json:"kind"`
	Transaction core.Transaction `json:"-"`
	// MatchedIDs lists every stored transaction the row matched.
	MatchedIDs []string `json:"matched_ids,omitempty"`
	// FirstIndex is the batch index of the earlier identical row.
	FirstIndex int `json:"first_index,omitempty"`
}

// Counts summarizes a Report.
type Counts struct {
	Unique            int `json:"unique"`
	DuplicateExisting int `json:"duplicate_existing"`
	DuplicateInBatch  int `json:"duplicate_in_batch"`
}

// Report is the partition of a batch. Every batch row appears in exactly
// one of the three lists.
type Report struct {
	Unique             []Entry `json:"unique"`
	DuplicatesExisting []Entry `json:"duplicates_existing"`
	DuplicatesInBatch  []Entry `json:"duplicates_in_batch"`
}

func (r Report) Counts() Counts {
	return Counts{
		Unique:            len(r.Unique),
		DuplicateExisting: len(r.DuplicatesExisting),
		DuplicateInBatch:  len(r.DuplicatesInBatch),
	}
}

// Total is the number of batch rows accounted for.
func (r Report) Total() int {
	return len(r.Unique) + len(r.DuplicatesExisting) + len(r.DuplicatesInBatch)
}

// UniqueTransactions returns the transactions safe to insert, in batch order.
func (r Report) UniqueTransactions() []core.Transaction {
	out := make([]core.Transaction, 0, len(r.Unique))
	for _, e := range r.Unique {
		out = append(out, e.Transaction)
	}
	return out
}

// key identifies a transaction for duplicate purposes.
type key struct {
	date        string
	amount      string
	direction   core.Direction
	description string
}

func keyOf(t core.Transaction) key {
	return key{
		date: t.Date.String(),
		// Normalize the decimal so 50 and 50.00 collide.
		amount:      t.Amount.Abs().Decimal.String(),
		direction:   t.Direction,
		description: NormalizeDescription(t.Description),
	}
}

// NormalizeDescription case-folds s, trims it and collapses internal
// whitespace runs to a single space.
func NormalizeDescription(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.TrimSpace(s) {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(unicode.ToLower(unicode.ToUpper(r)))
	}
	return b.String()
}

// Detect partitions batch against existing. A row matching any stored
// transaction is a DuplicateExisting even when an earlier batch row has the
// same key. Detect is pure: identical inputs give identical reports.
func Detect(batch, existing []core.Transaction) Report {
	stored := make(map[key][]string, len(existing))
	for _, t := range existing {
		k := keyOf(t)
		stored[k] = append(stored[k], t.ID)
	}

	firstSeen := make(map[key]int, len(batch))
	var r Report
	for i, t := range batch {
		k := keyOf(t)
		if _, ok := firstSeen[k]; !ok {
			firstSeen[k] = i
		}

		if ids, ok := stored[k]; ok {
			matched := make([]string, len(ids))
			copy(matched, ids)
			r.DuplicatesExisting = append(r.DuplicatesExisting, Entry{
				Index: i, Kind: DuplicateExisting, Transaction: t, MatchedIDs: matched,
			})
			continue
		}
		if first := firstSeen[k]; first != i {
			r.DuplicatesInBatch = append(r.DuplicatesInBatch, Entry{
				Index: i, Kind: DuplicateInBatch, Transaction: t, FirstIndex: first,
			})
			continue
		}
		r.Unique = append(r.Unique, Entry{Index: i, Kind: Unique, Transaction: t})
	}
	return r
}
