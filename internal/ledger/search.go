// internal/ledger/search.go
package ledger

import (
	"bytes"
	"context"
	"encoding/json"

	"assignment-engine/internal/common/logger"
	"assignment-engine/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
)

// SearchIndexer mirrors ledger entries into Elasticsearch so the admin UI
// can search assignment history. Indexing is best-effort: errors are logged
// and dropped, never surfaced to the assignment path.
type SearchIndexer struct {
	es     *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewSearchIndexer(es *elasticsearch.Client, index string, log logger.Logger) *SearchIndexer {
	return &SearchIndexer{
		es:     es,
		index:  index,
		logger: log.WithFields(map[string]interface{}{"component": "ledger-search"}),
	}
}

func (s *SearchIndexer) IndexEntry(ctx context.Context, entry *models.AssignmentLogEntry) {
	body, err := json.Marshal(entry)
	if err != nil {
		s.logger.Warn("marshal ledger entry for indexing failed", map[string]interface{}{
			"entryId": entry.ID,
			"error":   err,
		})
		return
	}

	res, err := s.es.Index(
		s.index,
		bytes.NewReader(body),
		s.es.Index.WithDocumentID(entry.ID),
		s.es.Index.WithContext(ctx),
	)
	if err != nil {
		s.logger.Warn("ledger entry indexing failed", map[string]interface{}{
			"entryId": entry.ID,
			"error":   err,
		})
		return
	}
	defer res.Body.Close()

	if res.IsError() {
		s.logger.Warn("ledger entry indexing rejected", map[string]interface{}{
			"entryId": entry.ID,
			"status":  res.Status(),
		})
	}
}
