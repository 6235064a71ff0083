package kb

import (
	"context"
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

// Document is one indexed snippet.
type Document struct {
	Collection string `json:"collection"`
	Source     string `json:"source"`
	Text       string `json:"text"`
}

// LocalIndex is a bleve-backed Searcher for fully local deployments.
type LocalIndex struct {
	index bleve.Index
}

// OpenLocalIndex opens the index at path, creating it when absent.
func OpenLocalIndex(path string) (*LocalIndex, error) {
	var index bleve.Index
	var err error
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		index, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create knowledge index: %w", err)
		}
	} else {
		index, err = bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open knowledge index: %w", err)
		}
	}
	return &LocalIndex{index: index}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	keywordField := bleve.NewKeywordFieldMapping()

	docMapping.AddFieldMappingsAt("text", textField)
	docMapping.AddFieldMappingsAt("collection", keywordField)
	docMapping.AddFieldMappingsAt("source", keywordField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = standard.Name
	return indexMapping
}

// Index stores one document under id, replacing any previous version.
func (l *LocalIndex) Index(id string, doc Document) error {
	if err := l.index.Index(id, doc); err != nil {
		return fmt.Errorf("index document %s: %w", id, err)
	}
	return nil
}

// Search implements Searcher.
func (l *LocalIndex) Search(_ context.Context, collection, queryText string, topK int) ([]Result, error) {
	if topK <= 0 {
		topK = 3
	}
	match := bleve.NewMatchQuery(queryText)
	match.SetField("text")
	collQuery := bleve.NewTermQuery(collection)
	collQuery.SetField("collection")

	searchReq := bleve.NewSearchRequest(bleve.NewConjunctionQuery(collQuery, match))
	searchReq.Size = topK
	searchReq.Fields = []string{"text", "source"}

	searchResult, err := l.index.Search(searchReq)
	if err != nil {
		return nil, fmt.Errorf("knowledge search: %w", err)
	}

	results := make([]Result, 0, len(searchResult.Hits))
	for _, hit := range searchResult.Hits {
		text, _ := hit.Fields["text"].(string)
		source, _ := hit.Fields["source"].(string)
		results = append(results, Result{Text: text, Source: source})
	}
	return results, nil
}

// Close releases the index.
func (l *LocalIndex) Close() error {
	return l.index.Close()
}
