package main

import (
	"context"
	"fmt"

	"github.com/go-ges/ges"
)

// accountEventCodecs is the single source of truth for how Account's domain
// events are encoded/decoded, shared between the repository's own decode
// registry and the codecs registered on every freshly opened EventStream.
var accountEventCodecs = map[string]ges.EventCodec{
	"AccountOpened":  ges.JSONCodec[AccountOpened](),
	"MoneyDeposited": ges.JSONCodec[MoneyDeposited](),
}

// AccountRepository loads and saves Account aggregates through an
// ges.EventStream, decoding/encoding domain events via a shared
// EventTypeRegistry.
type AccountRepository struct {
	factory  *ges.Factory
	registry *ges.EventTypeRegistry
}

// NewAccountRepository creates a repository backed by the given stream
// factory.
func NewAccountRepository(factory *ges.Factory) *AccountRepository {
	return &AccountRepository{factory: factory, registry: ges.NewEventTypeRegistry(accountEventCodecs)}
}

// Load fetches and rehydrates an Account by its ID: snapshot first, then
// replays the delta events on top of it.
func (r *AccountRepository) Load(ctx context.Context, id string) (*Account, *ges.EventStream, error) {
	stream, err := r.factory.Open(ctx, "Account", id)
	if err != nil {
		return nil, nil, err
	}
	for typeName, codec := range accountEventCodecs {
		stream.RegisterEventType(typeName, codec)
	}

	account := NewAccount()

	fromVersion := 0
	metas, err := stream.SnapshotStore().ListSnapshots(ctx, stream.Document())
	if err != nil {
		return nil, nil, err
	}
	if len(metas) > 0 {
		latest := metas[0] // ListSnapshots is sorted by version descending
		snap, found, err := ges.GetSnapshot[AccountSnapshot](ctx, stream.SnapshotStore(), stream.Document(), latest.Version, latest.Name)
		if err != nil {
			return nil, nil, err
		}
		if found {
			if err := account.ProcessSnapshot(snap); err != nil {
				return nil, nil, err
			}
			fromVersion = snap.Version + 1
		}
	}

	events, err := stream.Read(ctx, fromVersion, nil)
	if err != nil {
		return nil, nil, err
	}
	for _, e := range events {
		domainEvent, err := r.registry.Decode(e.Type, e.Payload)
		if err != nil {
			return nil, nil, err
		}
		account.Fold(domainEvent)
	}

	return account, stream, nil
}

// Save persists the aggregate's pending events through a LeasedSession
// using a Loose constraint (account creation and deposits share one code
// path; OpenAccountCommand already enforces "not already opened" in the
// domain layer).
func (r *AccountRepository) Save(ctx context.Context, stream *ges.EventStream, account *Account, md ges.Metadata) error {
	pending, expectedVersion := account.Flush()
	if len(pending) == 0 {
		return nil
	}
	if expectedVersion != stream.Document().Active.CurrentStreamVersion {
		return fmt.Errorf("account: expected version %d but stream is at %d", expectedVersion, stream.Document().Active.CurrentStreamVersion)
	}

	return stream.Session(ctx, ges.Loose, func(ctx context.Context, session *ges.LeasedSession) error {
		for _, event := range pending {
			if _, err := session.Append(ctx, event, ges.AppendOptions{Metadata: md}); err != nil {
				return err
			}
		}
		return nil
	})
}
