package storage

import "testing"

func TestRebind(t *testing.T) {
	q := `SELECT a FROM t WHERE x = ? AND y >= ? AND z <= ?`
	if got := DialectSQLite.rebind(q); got != q {
		t.Fatalf("sqlite query must not change, got %q", got)
	}
	want := `SELECT a FROM t WHERE x = $1 AND y >= $2 AND z <= $3`
	if got := DialectPostgres.rebind(q); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
