package ges

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// BackupMetadata carries the optional extras a backup may include.
type BackupMetadata struct {
	IncludesSnapshots         bool
	IncludesObjectDocument    bool
	IncludesTerminatedStreams bool
	IsCompressed              bool
	Checksum                  string
	Custom                    map[string]string
}

// BackupHandle identifies one completed backup.
type BackupHandle struct {
	BackupID      string
	CreatedAt     time.Time
	ProviderName  string
	Location      string
	ObjectName    string
	ObjectID      string
	StreamVersion int
	EventCount    int
	SizeBytes     int64
	Metadata      BackupMetadata
}

// BackupOptions controls what a single backupDocument call includes.
type BackupOptions struct {
	IncludeSnapshots         bool
	IncludeObjectDocument    bool
	IncludeTerminatedStreams bool
}

// RestoreOptions controls how RestoreStream treats a target document that
// already has events. OverwriteExisting only lifts the "target must be
// empty" guard; existing events are not removed.
type RestoreOptions struct {
	OverwriteExisting bool
}

// BackupProgress reports incremental progress of a single backup/restore.
type BackupProgress struct {
	ObjectName      string
	ObjectID        string
	EventsProcessed int
	TotalEvents     int
}

// backupPayload is the serialized body written by a BackupProvider.
type backupPayload struct {
	Document          *ObjectDocument    `json:"document,omitempty"`
	Events            []Event            `json:"events"`
	Snapshots         []snapshotPayload  `json:"snapshots,omitempty"`
	TerminatedStreams []TerminatedStream `json:"terminatedStreams,omitempty"`
}

type snapshotPayload struct {
	Version int    `json:"version"`
	Name    string `json:"name"`
	Payload []byte `json:"payload"`
}

// BackupProvider writes a serialized backup payload to durable storage and
// returns where it landed.
type BackupProvider interface {
	Name() string
	Write(ctx context.Context, backupID string, data []byte) (location string, err error)
	Read(ctx context.Context, location string) ([]byte, error)
	Delete(ctx context.Context, location string) error
}

// BackupRegistry records BackupHandles for later lookup, listing, and
// retention-based cleanup.
type BackupRegistry interface {
	Record(ctx context.Context, handle BackupHandle) error
	Get(ctx context.Context, backupID string) (BackupHandle, error)
	List(ctx context.Context, objectName, objectID string) ([]BackupHandle, error)
	Delete(ctx context.Context, backupID string) error
}

// BackupService implements spec.md §4.8: bulk, progress-tracked,
// registry-backed dump and reload of streams.
type BackupService struct {
	DataStore     DataStore
	SnapshotStore SnapshotStore
	DocumentStore ObjectDocumentStore
	Provider      BackupProvider
	Registry      BackupRegistry // optional
	Logger        *slog.Logger
}

func (s *BackupService) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// BackupDocument reads document's events (and, per options, its snapshots,
// document metadata, and terminated streams), writes them through Provider,
// and registers the resulting handle.
func (s *BackupService) BackupDocument(ctx context.Context, document *ObjectDocument, options BackupOptions, progress func(BackupProgress)) (BackupHandle, error) {
	events, err := s.DataStore.Read(ctx, document, 0, nil)
	if err != nil {
		return BackupHandle{}, err
	}
	if events == nil {
		events = []Event{}
	}

	payload := backupPayload{Events: events}
	if options.IncludeObjectDocument {
		payload.Document = document
	}
	if options.IncludeTerminatedStreams {
		payload.TerminatedStreams = document.TerminatedStreams
	}
	if options.IncludeSnapshots && s.SnapshotStore != nil {
		metas, err := s.SnapshotStore.ListSnapshots(ctx, document)
		if err != nil {
			return BackupHandle{}, err
		}
		for i, meta := range metas {
			raw, found, err := s.SnapshotStore.Get(ctx, document, meta.Version, meta.Name)
			if err != nil {
				return BackupHandle{}, err
			}
			if !found {
				continue
			}
			payload.Snapshots = append(payload.Snapshots, snapshotPayload{Version: meta.Version, Name: meta.Name, Payload: raw})
			if progress != nil {
				progress(BackupProgress{ObjectName: document.ObjectName, ObjectID: document.ObjectID, EventsProcessed: i + 1, TotalEvents: len(metas)})
			}
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return BackupHandle{}, fmt.Errorf("%w: encoding backup payload: %v", ErrSerialization, err)
	}
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	backupID := uuid.NewString()
	location, err := s.Provider.Write(ctx, backupID, data)
	if err != nil {
		return BackupHandle{}, err
	}

	if progress != nil {
		progress(BackupProgress{ObjectName: document.ObjectName, ObjectID: document.ObjectID, EventsProcessed: len(events), TotalEvents: len(events)})
	}

	handle := BackupHandle{
		BackupID:      backupID,
		CreatedAt:     time.Now(),
		ProviderName:  s.Provider.Name(),
		Location:      location,
		ObjectName:    document.ObjectName,
		ObjectID:      document.ObjectID,
		StreamVersion: document.Active.CurrentStreamVersion,
		EventCount:    len(events),
		SizeBytes:     int64(len(data)),
		Metadata: BackupMetadata{
			IncludesSnapshots:         options.IncludeSnapshots,
			IncludesObjectDocument:    options.IncludeObjectDocument,
			IncludesTerminatedStreams: options.IncludeTerminatedStreams,
			Checksum:                  checksum,
		},
	}

	if s.Registry != nil {
		if err := s.Registry.Record(ctx, handle); err != nil {
			return handle, err
		}
	}
	return handle, nil
}

// RestoreStream recreates the document backupPayload covered, replaying
// events via DataStore.Append at their original versions. A target that
// already has events is rejected with ErrConcurrency unless
// OverwriteExisting is set; with it set, the existing events are not
// deleted, so the Append fails wherever the target already holds a backed-up
// version with different content.
func (s *BackupService) RestoreStream(ctx context.Context, handle BackupHandle, options RestoreOptions, progress func(BackupProgress)) (*ObjectDocument, error) {
	data, err := s.Provider.Read(ctx, handle.Location)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	if handle.Metadata.Checksum != "" && hex.EncodeToString(sum[:]) != handle.Metadata.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch for backup %s", ErrBackupValidation, handle.BackupID)
	}

	var payload backupPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: decoding backup payload: %v", ErrSerialization, err)
	}

	document, err := s.DocumentStore.GetOrCreate(ctx, handle.ObjectName, handle.ObjectID)
	if err != nil {
		return nil, err
	}
	if document.Active.CurrentStreamVersion >= 0 && !options.OverwriteExisting {
		return nil, fmt.Errorf("%w: document %s/%s already has events and OverwriteExisting is not set", ErrConcurrency, handle.ObjectName, handle.ObjectID)
	}

	if len(payload.Events) > 0 {
		if err := s.DataStore.Append(ctx, document, true, payload.Events); err != nil {
			return nil, err
		}
		last := payload.Events[len(payload.Events)-1]
		document.Active.CurrentStreamVersion = last.Version
		document.Active.StreamChunks = PlanAppend(document.Active.StreamChunks, document.Active.ChunkSettings, payload.Events[0].Version, len(payload.Events))
	}
	if payload.TerminatedStreams != nil {
		document.TerminatedStreams = payload.TerminatedStreams
	}
	if err := s.DocumentStore.Set(ctx, document); err != nil {
		return nil, err
	}

	if s.SnapshotStore != nil {
		for _, snap := range payload.Snapshots {
			if err := s.SnapshotStore.Set(ctx, document, snap.Version, snap.Name, snap.Payload); err != nil {
				return nil, err
			}
		}
	}

	if progress != nil {
		progress(BackupProgress{ObjectName: handle.ObjectName, ObjectID: handle.ObjectID, EventsProcessed: len(payload.Events), TotalEvents: len(payload.Events)})
	}
	return document, nil
}

// BulkResult aggregates the outcome of a backupMany/restoreMany call.
type BulkResult[T any] struct {
	SuccessCount int
	FailureCount int
	Successful   []T
	Failed       []BulkFailure
	Elapsed      time.Duration
}

// BulkFailure records one failed item in a bulk operation.
type BulkFailure struct {
	ObjectName string
	ObjectID   string
	Err        error
}

// BackupMany runs BackupDocument over documents with up to maxConcurrency
// in flight. When continueOnError is false, the first failure cancels the
// remaining work.
func (s *BackupService) BackupMany(ctx context.Context, documents []*ObjectDocument, options BackupOptions, maxConcurrency int, continueOnError bool) BulkResult[BackupHandle] {
	start := time.Now()
	results := make([]*BackupHandle, len(documents))
	failures := make([]*BulkFailure, len(documents))

	g, gctx := errgroup.WithContext(ctx)
	if maxConcurrency > 0 {
		g.SetLimit(maxConcurrency)
	}
	for i, document := range documents {
		i, document := i, document
		g.Go(func() error {
			handle, err := s.BackupDocument(gctx, document, options, nil)
			if err != nil {
				failures[i] = &BulkFailure{ObjectName: document.ObjectName, ObjectID: document.ObjectID, Err: err}
				if !continueOnError {
					return err
				}
				return nil
			}
			results[i] = &handle
			return nil
		})
	}
	_ = g.Wait()

	return collectBulk(results, failures, start)
}

// RestoreMany runs RestoreStream over handles with up to maxConcurrency in
// flight.
func (s *BackupService) RestoreMany(ctx context.Context, handles []BackupHandle, options RestoreOptions, maxConcurrency int, continueOnError bool) BulkResult[*ObjectDocument] {
	start := time.Now()
	results := make([]**ObjectDocument, len(handles))
	failures := make([]*BulkFailure, len(handles))

	g, gctx := errgroup.WithContext(ctx)
	if maxConcurrency > 0 {
		g.SetLimit(maxConcurrency)
	}
	for i, handle := range handles {
		i, handle := i, handle
		g.Go(func() error {
			document, err := s.RestoreStream(gctx, handle, options, nil)
			if err != nil {
				failures[i] = &BulkFailure{ObjectName: handle.ObjectName, ObjectID: handle.ObjectID, Err: err}
				if !continueOnError {
					return err
				}
				return nil
			}
			results[i] = &document
			return nil
		})
	}
	_ = g.Wait()

	return collectBulk(results, failures, start)
}

func collectBulk[T any](results []*T, failures []*BulkFailure, start time.Time) BulkResult[T] {
	out := BulkResult[T]{Elapsed: time.Since(start)}
	for i := range results {
		if failures[i] != nil {
			out.FailureCount++
			out.Failed = append(out.Failed, *failures[i])
			continue
		}
		if results[i] != nil {
			out.SuccessCount++
			out.Successful = append(out.Successful, *results[i])
		}
	}
	return out
}

// CleanupExpired deletes every handle whose CreatedAt+retention has passed.
func (s *BackupService) CleanupExpired(ctx context.Context, objectName, objectID string, retention time.Duration) (int, error) {
	if s.Registry == nil {
		return 0, nil
	}
	handles, err := s.Registry.List(ctx, objectName, objectID)
	if err != nil {
		return 0, err
	}
	deleted := 0
	now := time.Now()
	for _, h := range handles {
		if now.After(h.CreatedAt.Add(retention)) {
			if err := s.Provider.Delete(ctx, h.Location); err != nil {
				return deleted, err
			}
			if err := s.Registry.Delete(ctx, h.BackupID); err != nil {
				return deleted, err
			}
			deleted++
		}
	}
	return deleted, nil
}
