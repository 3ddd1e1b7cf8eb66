package acquisition

import (
	"context"

	"github.com/alexandria-ils/alexandria/internal/integrity"
)

// Resource tags under which acquisition records register with the integrity
// registry.
const (
	TagOrderLines = "order_lines"
	TagReceipts   = "receipts"
)

// RegisterLinkSources wires the acquisition link sources into the registry so
// the deletion guard can resolve them by tag.
func RegisterLinkSources(registry *integrity.Registry, repo *Repository) {
	registry.Register(TagOrderLines, &orderLineSource{repo: repo})
	registry.Register(TagReceipts, &receiptSource{repo: repo})
}

// orderLineSource answers link queries for order lines referencing an order.
type orderLineSource struct {
	repo *Repository
}

func (s *orderLineSource) CountLinksTo(ctx context.Context, orderID int64) (int, error) {
	return s.repo.CountOrderLines(ctx, orderID)
}

func (s *orderLineSource) PIDsLinkedTo(ctx context.Context, orderID int64) ([]int64, error) {
	return s.repo.OrderLinePIDs(ctx, orderID)
}

func (s *orderLineSource) NotesLinkedTo(ctx context.Context, orderID int64) ([]integrity.RelatedNote, error) {
	lines, err := s.repo.ListOrderLines(ctx, orderID)
	if err != nil {
		return nil, err
	}
	var notes []integrity.RelatedNote
	for _, line := range lines {
		if line.Note == "" {
			continue
		}
		notes = append(notes, integrity.RelatedNote{
			Type:    string(NoteTypeStaff),
			Content: line.Note,
			PID:     line.ID,
		})
	}
	return notes, nil
}

// receiptSource answers link queries for receipts referencing an order.
type receiptSource struct {
	repo *Repository
}

func (s *receiptSource) CountLinksTo(ctx context.Context, orderID int64) (int, error) {
	return s.repo.CountReceipts(ctx, orderID)
}

func (s *receiptSource) PIDsLinkedTo(ctx context.Context, orderID int64) ([]int64, error) {
	return s.repo.ReceiptPIDs(ctx, orderID)
}

func (s *receiptSource) NotesLinkedTo(ctx context.Context, orderID int64) ([]integrity.RelatedNote, error) {
	receipts, err := s.repo.ListReceipts(ctx, orderID)
	if err != nil {
		return nil, err
	}
	var notes []integrity.RelatedNote
	for _, receipt := range receipts {
		if receipt.Note == "" {
			continue
		}
		notes = append(notes, integrity.RelatedNote{
			Type:    string(NoteTypeStaff),
			Content: receipt.Note,
			PID:     receipt.ID,
		})
	}
	return notes, nil
}
