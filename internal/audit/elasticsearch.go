package audit

import (
	"context"

	"pass-provisioning/internal/models"
)

// DocumentIndexer is satisfied by database.ElasticsearchClient.
type DocumentIndexer interface {
	IndexDocument(ctx context.Context, index, id string, doc interface{}) error
}

// ElasticsearchSink mirrors the audit trail into a search index for
// operators. Entries are keyed by audit id so re-sends overwrite.
type ElasticsearchSink struct {
	indexer DocumentIndexer
	index   string
}

func NewElasticsearchSink(indexer DocumentIndexer, index string) *ElasticsearchSink {
	return &ElasticsearchSink{indexer: indexer, index: index}
}

func (s *ElasticsearchSink) Record(ctx context.Context, entry *models.AuditEntry) error {
	return s.indexer.IndexDocument(ctx, s.index, entry.ID, entry)
}
