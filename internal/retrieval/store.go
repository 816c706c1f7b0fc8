// Package retrieval implements the knowledge retrieval pipeline: a
// Qdrant-backed vector store namespaced per (tenant_id, brand_id), hybrid
// dense/lexical scoring, and greedy token-budget selection for the context
// window handed to the LLM.
package retrieval

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/memoh-platform/convoy/internal/apperr"
	"github.com/memoh-platform/convoy/internal/config"
)

// Chunk is one unit of ingested knowledge stored alongside its embedding.
type Chunk struct {
	ChunkID  string
	AssetID  uuid.UUID
	TenantID uuid.UUID
	BrandID  uuid.UUID
	Text     string
	Position int
}

// ScoredChunk is a retrieval hit with both the dense vector score and the
// blended hybrid score used for ranking and min_score filtering.
type ScoredChunk struct {
	Chunk
	DenseScore  float32
	LexicalHit  float32
	HybridScore float32
}

// VectorStore wraps qdrant/go-client against a single shared collection;
// tenant/brand isolation is enforced by a payload filter on every read and
// write rather than by provisioning one physical collection per tenant,
// which would not scale with tenant count.
type VectorStore struct {
	client     *qdrant.Client
	collection string
}

func NewVectorStore(ctx context.Context, cfg config.QdrantConfig) (*VectorStore, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant url %q: %w", cfg.URL, err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = "knowledge"
	}
	return &VectorStore{client: client, collection: collection}, nil
}

func parseQdrantURL(raw string) (host string, port int, useTLS bool, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, false, err
	}
	host = u.Hostname()
	if host == "" {
		host = "127.0.0.1"
	}
	port = 6334
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, false, err
		}
	}
	return host, port, u.Scheme == "https", nil
}

// EnsureCollection creates the shared collection if it does not already
// exist, sized for the embedding dimensionality in use.
func (s *VectorStore) EnsureCollection(ctx context.Context, dimensions uint64) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "qdrant_collection_check_failed", err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     dimensions,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "qdrant_collection_create_failed", err)
	}
	return nil
}

// Upsert writes one chunk's embedding and payload into the shared collection.
func (s *VectorStore) Upsert(ctx context.Context, chunk Chunk, embedding []float32) error {
	payload := map[string]*qdrant.Value{
		"tenant_id": qdrant.NewValueString(chunk.TenantID.String()),
		"brand_id":  qdrant.NewValueString(chunk.BrandID.String()),
		"asset_id":  qdrant.NewValueString(chunk.AssetID.String()),
		"text":      qdrant.NewValueString(chunk.Text),
		"position":  qdrant.NewValueInt(int64(chunk.Position)),
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewID(chunk.ChunkID),
				Vectors: qdrant.NewVectors(embedding...),
				Payload: payload,
			},
		},
	})
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "qdrant_upsert_failed", err)
	}
	return nil
}

// DeleteByAsset removes every chunk belonging to an asset within
// (tenantID, brandID).
func (s *VectorStore) DeleteByAsset(ctx context.Context, tenantID, brandID, assetID uuid.UUID) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: qdrant.NewPointsSelectorFilter(tenantBrandAssetFilter(tenantID, brandID, assetID)),
	})
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "qdrant_delete_failed", err)
	}
	return nil
}

// Search returns the topK nearest chunks within (tenantID, brandID),
// blending each hit's dense cosine score with a client-side lexical overlap
// score per the brand's hybrid_weight, then dropping anything under
// minScore.
func (s *VectorStore) Search(ctx context.Context, tenantID, brandID uuid.UUID, queryText string, queryVector []float32, topK int, hybridWeight, minScore float64) ([]ScoredChunk, error) {
	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(queryVector...),
		Filter:         tenantBrandFilter(tenantID, brandID),
		Limit:          ptrUint64(uint64(topK * 2)), // over-fetch so hybrid re-ranking has room to work with
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDegraded, false, "qdrant_search_failed", err)
	}

	terms := lexicalTerms(queryText)
	out := make([]ScoredChunk, 0, len(hits))
	for _, hit := range hits {
		text := hit.Payload["text"].GetStringValue()
		lexical := lexicalOverlap(terms, text)
		dense := hit.Score
		hybrid := float32(hybridWeight)*dense + float32(1-hybridWeight)*lexical
		if float64(hybrid) < minScore {
			continue
		}
		out = append(out, ScoredChunk{
			Chunk: Chunk{
				ChunkID:  hit.Id.GetUuid(),
				TenantID: tenantID,
				BrandID:  brandID,
				Text:     text,
			},
			DenseScore:  dense,
			LexicalHit:  lexical,
			HybridScore: hybrid,
		})
	}

	sortByHybridScoreDesc(out)
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func tenantBrandFilter(tenantID, brandID uuid.UUID) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("tenant_id", tenantID.String()),
			qdrant.NewMatch("brand_id", brandID.String()),
		},
	}
}

func tenantBrandAssetFilter(tenantID, brandID, assetID uuid.UUID) *qdrant.Filter {
	f := tenantBrandFilter(tenantID, brandID)
	f.Must = append(f.Must, qdrant.NewMatch("asset_id", assetID.String()))
	return f
}

func ptrUint64(v uint64) *uint64 { return &v }

func lexicalTerms(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	seen := make(map[string]bool, len(fields))
	var out []string
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// lexicalOverlap is a bag-of-words Jaccard-style overlap between the query
// terms and the candidate chunk text, used as the lexical half of hybrid
// scoring. It deliberately avoids pulling in a full BM25 implementation —
// Qdrant's dense score already carries most of the ranking signal.
func lexicalOverlap(queryTerms []string, text string) float32 {
	if len(queryTerms) == 0 {
		return 0
	}
	chunkTerms := make(map[string]bool)
	for _, t := range lexicalTerms(text) {
		chunkTerms[t] = true
	}
	var hits int
	for _, t := range queryTerms {
		if chunkTerms[t] {
			hits++
		}
	}
	return float32(hits) / float32(len(queryTerms))
}

func sortByHybridScoreDesc(chunks []ScoredChunk) {
	for i := 1; i < len(chunks); i++ {
		for j := i; j > 0 && chunks[j].HybridScore > chunks[j-1].HybridScore; j-- {
			chunks[j], chunks[j-1] = chunks[j-1], chunks[j]
		}
	}
}
