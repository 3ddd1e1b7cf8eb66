package patronfee

import (
	"context"

	"github.com/alexandria-ils/alexandria/internal/integrity"
)

// RegisterLinkSources wires the ledger event source into the registry.
func RegisterLinkSources(registry *integrity.Registry, repo *Repository) {
	registry.Register(TagEvents, &eventSource{repo: repo})
}

// eventSource answers link queries for ledger events referencing a
// transaction.
type eventSource struct {
	repo *Repository
}

func (s *eventSource) CountLinksTo(ctx context.Context, transactionID int64) (int, error) {
	return s.repo.CountEvents(ctx, transactionID)
}

func (s *eventSource) PIDsLinkedTo(ctx context.Context, transactionID int64) ([]int64, error) {
	return s.repo.EventPIDs(ctx, transactionID)
}

func (s *eventSource) NotesLinkedTo(ctx context.Context, transactionID int64) ([]integrity.RelatedNote, error) {
	events, err := s.repo.ListEvents(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	var notes []integrity.RelatedNote
	for _, event := range events {
		if event.Note == "" {
			continue
		}
		notes = append(notes, integrity.RelatedNote{
			Type:    string(event.Type),
			Content: event.Note,
			PID:     event.ID,
		})
	}
	return notes, nil
}
