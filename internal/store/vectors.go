package store

import (
	"context"

	"github.com/philippgille/chromem-go"
)

func (w *Worker) upsertVector(p UpsertVectorPayload) error {
	col, err := w.vectorDB.GetOrCreateCollection(p.Collection, nil, nil)
	if err != nil {
		return err
	}
	// AddDocuments upserts by ID.
	return col.AddDocuments(context.Background(), []chromem.Document{
		{
			ID:        p.ID,
			Metadata:  p.Metadata,
			Embedding: p.Vector,
			Content:   p.Content,
		},
	}, 1)
}

func (w *Worker) searchVectors(p SearchVectorsPayload) ([]VectorResult, error) {
	col := w.vectorDB.GetCollection(p.Collection, nil)
	if col == nil {
		return []VectorResult{}, nil
	}

	// chromem refuses more results than the collection holds.
	limit := p.Limit
	if n := col.Count(); limit > n {
		limit = n
	}
	if limit <= 0 {
		return []VectorResult{}, nil
	}

	docs, err := col.QueryEmbedding(context.Background(), p.Vector, limit, p.Where, nil)
	if err != nil {
		return nil, err
	}

	results := make([]VectorResult, 0, len(docs))
	for _, doc := range docs {
		results = append(results, VectorResult{
			ID:       doc.ID,
			Score:    doc.Similarity,
			Metadata: doc.Metadata,
			Content:  doc.Content,
		})
	}
	return results, nil
}

func (w *Worker) UpsertVector(ctx context.Context, collection, id string, vector []float32, metadata map[string]string, content string) error {
	_, err := w.submit(ctx, OpUpsertVector, UpsertVectorPayload{
		Collection: collection,
		ID:         id,
		Vector:     vector,
		Metadata:   metadata,
		Content:    content,
	})
	return err
}

// SearchVectors returns up to limit nearest documents whose metadata matches
// every key in where.
func (w *Worker) SearchVectors(ctx context.Context, collection string, vector []float32, limit int, where map[string]string) ([]VectorResult, error) {
	v, err := w.submit(ctx, OpSearchVectors, SearchVectorsPayload{
		Collection: collection,
		Vector:     vector,
		Limit:      limit,
		Where:      where,
	})
	if err != nil {
		return nil, err
	}
	return v.([]VectorResult), nil
}
