// Package export renders a finished encounter record into a portable
// artifact and stores it durably. The submission pipeline calls it just
// before finalize and threads the returned reference into the record.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fieldchart/sync/internal/blob"
	"fieldchart/sync/internal/record"
)

const artifactFolder = "exports"

// Artifact describes a stored export.
type Artifact struct {
	Ref         string `json:"ref"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
}

// summary is the portable artifact body. The synchronization core makes
// no promises about layout; this is structured data for whatever
// downstream renderer needs it.
type summary struct {
	RecordID    string        `json:"recordId"`
	OwnerID     string        `json:"ownerId"`
	Status      string        `json:"status"`
	LastUpdated string        `json:"lastUpdated"`
	ExportedAt  string        `json:"exportedAt"`
	Record      record.Record `json:"record"`
}

// Service renders encounter summaries into the blob store.
type Service struct {
	blobs blob.Store
}

func NewService(blobs blob.Store) *Service {
	return &Service{blobs: blobs}
}

// Export renders rec and uploads the artifact, returning its reference.
func (s *Service) Export(ctx context.Context, rec record.Record) (Artifact, error) {
	if rec.ID() == "" {
		return Artifact{}, fmt.Errorf("record has no id")
	}

	lastUpdated, _ := rec[record.FieldLastUpdated].(string)
	ownerID, _ := rec[record.FieldOwnerID].(string)
	body := summary{
		RecordID:    rec.ID(),
		OwnerID:     ownerID,
		Status:      rec.Status(),
		LastUpdated: lastUpdated,
		ExportedAt:  time.Now().UTC().Format(time.RFC3339),
		Record:      record.Normalize(rec),
	}

	data, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return Artifact{}, fmt.Errorf("render summary: %w", err)
	}

	name := fmt.Sprintf("%s-%s.json", rec.ID(), uuid.NewString()[:8])
	ref, err := s.blobs.Upload(ctx, artifactFolder, name, data, "application/json")
	if err != nil {
		return Artifact{}, fmt.Errorf("store summary: %w", err)
	}
	return Artifact{Ref: ref, ContentType: "application/json", Size: len(data)}, nil
}
