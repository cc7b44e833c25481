package memory

import (
	"testing"

	"tally/internal/storage"
	"tally/internal/storage/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(*testing.T) storage.Store { return New() })
}
