package mem_test

import (
	"testing"

	"github.com/go-ges/ges/internal/storetest"
	"github.com/go-ges/ges/stores/mem"
)

func TestStores_Compliance(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(t *testing.T) storetest.Backend {
		t.Helper()
		return storetest.Backend{
			Documents: mem.NewDocumentStore(),
			Data:      mem.NewDataStore(),
			Snapshots: mem.NewSnapshotStore(),
		}
	})
}
