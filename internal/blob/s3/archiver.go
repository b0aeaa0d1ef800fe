package s3blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/knowton/bondledger/internal/domain"
)

// EventArchiver copies the complete event history of settled bonds to cold
// storage as JSONL, one object per bond. The primary event log is never
// deleted here; archival is an additive, verifiable copy.
type EventArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	bonds  domain.BondStore
	events domain.EventStore
	logger *slog.Logger
}

// NewEventArchiver creates an EventArchiver over the given stores.
func NewEventArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	bonds domain.BondStore,
	events domain.EventStore,
	logger *slog.Logger,
) *EventArchiver {
	return &EventArchiver{
		writer: writer,
		reader: reader,
		bonds:  bonds,
		events: events,
		logger: logger.With(slog.String("component", "event_archiver")),
	}
}

// ArchivePath is the object key holding a bond's archived event history.
func ArchivePath(bondID uint64) string {
	return fmt.Sprintf("archive/bonds/%d.jsonl", bondID)
}

// ArchiveBond uploads one bond's event history and returns the object path
// and the SHA-256 digest of the uploaded payload, for on-chain anchoring.
func (a *EventArchiver) ArchiveBond(ctx context.Context, bondID uint64) (string, [32]byte, error) {
	var digest [32]byte

	events, err := a.events.ListByBond(ctx, bondID, domain.ListOpts{})
	if err != nil {
		return "", digest, fmt.Errorf("s3blob: archive bond %d query: %w", bondID, err)
	}
	if len(events) == 0 {
		return "", digest, fmt.Errorf("s3blob: archive bond %d: no events", bondID)
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return "", digest, fmt.Errorf("s3blob: archive bond %d marshal: %w", bondID, err)
	}
	digest = sha256.Sum256(buf)

	path := ArchivePath(bondID)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return "", digest, fmt.Errorf("s3blob: archive bond %d upload: %w", bondID, err)
	}

	a.logger.InfoContext(ctx, "archived bond history",
		slog.Uint64("bond_id", bondID),
		slog.String("path", path),
		slog.Int("events", len(events)),
	)
	return path, digest, nil
}

// ArchiveSettled archives every matured or defaulted bond that has no
// archive object yet, returning the number of bonds archived.
func (a *EventArchiver) ArchiveSettled(ctx context.Context) (int64, error) {
	var count int64
	for _, status := range []domain.BondStatus{domain.BondMatured, domain.BondDefaulted} {
		bonds, err := a.bonds.ListByStatus(ctx, status, domain.ListOpts{})
		if err != nil {
			return count, fmt.Errorf("s3blob: archive settled query %s: %w", status, err)
		}
		for _, bond := range bonds {
			exists, err := a.reader.Exists(ctx, ArchivePath(bond.ID))
			if err != nil {
				return count, fmt.Errorf("s3blob: archive settled check bond %d: %w", bond.ID, err)
			}
			if exists {
				continue
			}
			if _, _, err := a.ArchiveBond(ctx, bond.ID); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
