// Package archive copies checkpointed crawl documents to a blob store so each
// run leaves a snapshot outside the working directory.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/steam-harvester/internal/harvest"
	"github.com/JakeFAU/steam-harvester/internal/storage"
)

// Object is one document to archive.
type Object struct {
	Name        string
	ContentType string
	Data        []byte
}

// Archiver uploads objects under <prefix>/<run id>/<name>.
type Archiver struct {
	store  storage.BlobStore
	prefix string
	runID  string
	logger *zap.Logger
}

// New builds an Archiver with a fresh run id.
func New(store storage.BlobStore, prefix string, ids harvest.IDGenerator, logger *zap.Logger) (*Archiver, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	runID, err := ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		runID:  runID,
		logger: logger,
	}, nil
}

// RunID identifies the snapshot folder of this process.
func (a *Archiver) RunID() string {
	return a.runID
}

// Archive uploads every object and returns their URIs in order.
// Later calls within the same run overwrite earlier snapshots.
func (a *Archiver) Archive(ctx context.Context, objects ...Object) ([]string, error) {
	uris := make([]string, 0, len(objects))
	for _, obj := range objects {
		name := path.Join(a.prefix, a.runID, obj.Name)
		contentType := obj.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		uri, err := a.store.PutObject(ctx, name, contentType, bytes.NewReader(obj.Data))
		if err != nil {
			return uris, fmt.Errorf("archive %s: %w", obj.Name, err)
		}
		uris = append(uris, uri)
	}
	a.logger.Debug("archived snapshot", zap.String("run_id", a.runID), zap.Strings("uris", uris))
	return uris, nil
}
