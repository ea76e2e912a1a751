package main

import (
	"context"

	"github.com/go-ges/ges"
)

// AccountService orchestrates command handling through the repository:
// load, route to domain logic, persist, snapshot.
type AccountService struct {
	repo *AccountRepository
}

// NewAccountService wires a repository backed by factory.
func NewAccountService(factory *ges.Factory) *AccountService {
	return &AccountService{repo: NewAccountRepository(factory)}
}

// Handle executes a command end-to-end: load -> Handle -> save -> snapshot.
func (s *AccountService) Handle(ctx context.Context, cmd any, md ges.Metadata) error {
	id := extractAccountID(cmd)

	account, stream, err := s.repo.Load(ctx, id)
	if err != nil {
		return err
	}

	if err := account.Handle(cmd); err != nil {
		return err
	}

	if err := s.repo.Save(ctx, stream, account, md); err != nil {
		return err
	}

	return ges.SetSnapshot(ctx, stream.SnapshotStore(), stream.Document(), account.Version(), "state", serializeState(account))
}
