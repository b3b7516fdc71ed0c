// Package recall implements the Recall Index: vector upsert/query/delete
// scoped by (session, tier), returning similarity scores, per spec.md §3/§4.5.
//
// Grounded on internal/persistence/databases/qdrant_vector.go: the
// ensureCollection distance-metric mapping, uuid.NewSHA1-based deterministic
// id generation for non-UUID input ids, payload-carried original id plus
// metadata, and the SimilaritySearch filter-construction idiom.
package recall

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Record is one vector entry as seen by callers: the original (possibly
// non-UUID) id, its vector, and the metadata blob stored as payload.
type Record struct {
	ID       string
	Vector   []float32
	Metadata map[string]any
}

// Match is one similarity-search hit.
type Match struct {
	ID       string
	Score    float32
	Metadata map[string]any
}

// Filter narrows a query to a subset of points by exact metadata match.
type Filter map[string]string

// Index is the Recall Index's capability set.
type Index struct {
	client     *qdrant.Client
	collection string
	dimensions int
}

// idNamespace fixes the UUIDv5 namespace used to derive deterministic point
// ids from caller-supplied non-UUID ids, so the same logical id always maps
// to the same Qdrant point id across upserts.
var idNamespace = uuid.MustParse("2f6f2e0e-7b8b-4a9e-9b1b-2b6a6f6a6f6a")

// New connects to Qdrant and ensures the configured collection exists with
// the requested vector size/distance metric.
func New(ctx context.Context, host string, port int, collection string, dimensions int, distance string) (*Index, error) {
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("recall: connect: %w", err)
	}
	idx := &Index{client: client, collection: collection, dimensions: dimensions}
	if err := idx.ensureCollection(ctx, distance); err != nil {
		return nil, err
	}
	return idx, nil
}

// ensureCollection creates the collection if absent, mapping the spec's
// distance-metric names (cosine|l2|euclidean|ip|dot|manhattan) onto
// Qdrant's Distance enum.
func (idx *Index) ensureCollection(ctx context.Context, distance string) error {
	exists, err := idx.client.CollectionExists(ctx, idx.collection)
	if err != nil {
		return fmt.Errorf("recall: collection exists: %w", err)
	}
	if exists {
		return nil
	}
	err = idx.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: idx.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(idx.dimensions),
			Distance: mapDistance(distance),
		}),
	})
	if err != nil {
		return fmt.Errorf("recall: create collection: %w", err)
	}
	return nil
}

func mapDistance(name string) qdrant.Distance {
	switch name {
	case "l2", "euclidean":
		return qdrant.Distance_Euclid
	case "ip", "dot":
		return qdrant.Distance_Dot
	case "manhattan":
		return qdrant.Distance_Manhattan
	default:
		return qdrant.Distance_Cosine
	}
}

// pointID derives a stable Qdrant point id from a caller id: pass-through
// when it already parses as a UUID, otherwise a deterministic UUIDv5 so
// re-upserting the same logical id overwrites rather than duplicates.
func pointID(callerID string) string {
	if _, err := uuid.Parse(callerID); err == nil {
		return callerID
	}
	return uuid.NewSHA1(idNamespace, []byte(callerID)).String()
}

// Upsert writes or overwrites a vector record, carrying the original caller
// id and full metadata blob in the payload so search results can return the
// logical id and content without a second store lookup.
func (idx *Index) Upsert(ctx context.Context, rec Record) error {
	payload := make(map[string]any, len(rec.Metadata)+1)
	for k, v := range rec.Metadata {
		payload[k] = v
	}
	payload["_id"] = rec.ID

	point := &qdrant.PointStruct{
		Id:      qdrant.NewID(pointID(rec.ID)),
		Vectors: qdrant.NewVectors(rec.Vector...),
		Payload: qdrant.NewValueMap(payload),
	}
	_, err := idx.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: idx.collection,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("recall: upsert: %w", err)
	}
	return nil
}

// Query runs a similarity search, merging filter with any metadata the
// caller wants to additionally constrain on.
func (idx *Index) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	var qf *qdrant.Filter
	if len(filter) > 0 {
		conds := make([]*qdrant.Condition, 0, len(filter))
		for k, v := range filter {
			conds = append(conds, qdrant.NewMatch(k, v))
		}
		qf = &qdrant.Filter{Must: conds}
	}

	limit := uint64(topK)
	points, err := idx.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: idx.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         qf,
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("recall: query: %w", err)
	}

	out := make([]Match, 0, len(points))
	for _, p := range points {
		meta := payloadToMap(p.Payload)
		id, _ := meta["_id"].(string)
		if id == "" {
			id = pointIDToString(p.Id)
		}
		delete(meta, "_id")
		out = append(out, Match{ID: id, Score: p.Score, Metadata: meta})
	}
	return out, nil
}

// Count returns the number of points matching filter, used by the memory
// stats admin endpoint.
func (idx *Index) Count(ctx context.Context, filter Filter) (uint64, error) {
	var qf *qdrant.Filter
	if len(filter) > 0 {
		conds := make([]*qdrant.Condition, 0, len(filter))
		for k, v := range filter {
			conds = append(conds, qdrant.NewMatch(k, v))
		}
		qf = &qdrant.Filter{Must: conds}
	}
	exact := true
	n, err := idx.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: idx.collection,
		Filter:         qf,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("recall: count: %w", err)
	}
	return n, nil
}

// Delete removes a point by its caller id.
func (idx *Index) Delete(ctx context.Context, callerID string) error {
	_, err := idx.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: idx.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewID(pointID(callerID))),
	})
	if err != nil {
		return fmt.Errorf("recall: delete: %w", err)
	}
	return nil
}

// DeleteByFilter removes every point matching filter, used when clearing a
// session's memories entirely.
func (idx *Index) DeleteByFilter(ctx context.Context, filter Filter) error {
	conds := make([]*qdrant.Condition, 0, len(filter))
	for k, v := range filter {
		conds = append(conds, qdrant.NewMatch(k, v))
	}
	_, err := idx.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: idx.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: &qdrant.Filter{Must: conds}},
		},
	})
	if err != nil {
		return fmt.Errorf("recall: delete by filter: %w", err)
	}
	return nil
}

func pointIDToString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}

func payloadToMap(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = valueToAny(v)
	}
	return out
}

func valueToAny(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch {
	case v.GetStringValue() != "":
		return v.GetStringValue()
	case v.GetIntegerValue() != 0:
		return v.GetIntegerValue()
	case v.GetDoubleValue() != 0:
		return v.GetDoubleValue()
	case v.GetBoolValue():
		return true
	default:
		return nil
	}
}
