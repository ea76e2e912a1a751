package ges_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-ges/ges"
	"github.com/go-ges/ges/stores/mem"
)

// fakeBackupProvider is an in-memory ges.BackupProvider for exercising
// BackupService without a real blob backend.
type fakeBackupProvider struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeBackupProvider() *fakeBackupProvider {
	return &fakeBackupProvider{data: make(map[string][]byte)}
}

func (p *fakeBackupProvider) Name() string { return "fake" }

func (p *fakeBackupProvider) Write(_ context.Context, backupID string, data []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	location := "fake://" + backupID
	p.data[location] = data
	return location, nil
}

func (p *fakeBackupProvider) Read(_ context.Context, location string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.data[location]
	if !ok {
		return nil, ges.ErrNotFound
	}
	return data, nil
}

func (p *fakeBackupProvider) Delete(_ context.Context, location string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.data, location)
	return nil
}

func (p *fakeBackupProvider) corrupt(location string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data[location] = append(append([]byte{}, p.data[location]...), []byte(`"tampered"`)...)
}

func newBackupTestService(t *testing.T) (*ges.BackupService, *fakeBackupProvider, *ges.ObjectDocument) {
	t.Helper()
	ctx := context.Background()

	docStore := mem.NewDocumentStore()
	dataStore := mem.NewDataStore()
	provider := newFakeBackupProvider()

	doc, err := docStore.GetOrCreate(ctx, "Order", "order-backup")
	require.NoError(t, err)

	events := make([]ges.Event, 3)
	for i := range events {
		payload, _ := json.Marshal(map[string]int{"n": i})
		events[i] = ges.Event{Payload: payload, Type: "Tick", Version: i, SchemaVersion: 1}
	}
	require.NoError(t, dataStore.Append(ctx, doc, false, events))
	doc.Active.CurrentStreamVersion = 2
	require.NoError(t, docStore.Set(ctx, doc))

	service := &ges.BackupService{
		DataStore:     dataStore,
		DocumentStore: docStore,
		Provider:      provider,
	}
	return service, provider, doc
}

func TestBackupService_BackupThenRestoreRoundTrips(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	service, provider, doc := newBackupTestService(t)

	handle, err := service.BackupDocument(ctx, doc, ges.BackupOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, handle.EventCount)
	assert.NotEmpty(t, handle.Metadata.Checksum)

	// Restore into a fresh backend stack (a different environment than the
	// one the backup was taken from), sharing only the provider that holds
	// the backup payload.
	restoreTarget := &ges.BackupService{
		DataStore:     mem.NewDataStore(),
		DocumentStore: mem.NewDocumentStore(),
		Provider:      provider,
	}
	restored, err := restoreTarget.RestoreStream(ctx, handle, ges.RestoreOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, restored.Active.CurrentStreamVersion)

	events, err := restoreTarget.DataStore.Read(ctx, restored, 0, nil)
	require.NoError(t, err)
	require.Len(t, events, 3)
}

func TestBackupService_RestoreRejectsChecksumMismatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	service, provider, doc := newBackupTestService(t)

	handle, err := service.BackupDocument(ctx, doc, ges.BackupOptions{}, nil)
	require.NoError(t, err)

	provider.corrupt(handle.Location)

	_, err = service.RestoreStream(ctx, handle, ges.RestoreOptions{OverwriteExisting: true}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ges.ErrBackupValidation)
}

func TestBackupService_RestoreWithoutOverwriteRejectsNonEmptyDocument(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	service, _, doc := newBackupTestService(t)

	handle, err := service.BackupDocument(ctx, doc, ges.BackupOptions{}, nil)
	require.NoError(t, err)

	_, err = service.RestoreStream(ctx, handle, ges.RestoreOptions{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ges.ErrConcurrency)
}

func TestBackupService_ReportsProgress(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	service, _, doc := newBackupTestService(t)

	var lastSeen ges.BackupProgress
	seenAny := false
	handle, err := service.BackupDocument(ctx, doc, ges.BackupOptions{}, func(p ges.BackupProgress) {
		seenAny = true
		lastSeen = p
	})
	require.NoError(t, err)
	require.True(t, seenAny)
	assert.Equal(t, handle.EventCount, lastSeen.TotalEvents)
	assert.Equal(t, doc.ObjectID, lastSeen.ObjectID)
}
