package vectorstore

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"knowledgebase/internal/config"
	"knowledgebase/internal/kberrors"
	"knowledgebase/internal/types"
)

// DenseStore is the Qdrant-backed cosine-similarity half of the hybrid
// store.
type DenseStore struct {
	client     *qdrant.Client
	collection string
	vectorSize int
}

// NewDenseStore connects to Qdrant per cfg. Call Initialize before first use.
func NewDenseStore(cfg config.QdrantConfig) (*DenseStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:                   cfg.Host,
		Port:                   cfg.Port,
		APIKey:                 cfg.APIKey,
		UseTLS:                 cfg.UseTLS,
		SkipCompatibilityCheck: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	return &DenseStore{client: client, collection: cfg.Collection, vectorSize: cfg.VectorSize}, nil
}

// Initialize creates the collection if it does not already exist.
func (d *DenseStore) Initialize(ctx context.Context) error {
	collections, err := d.client.ListCollections(ctx)
	if err != nil {
		return kberrors.New("DenseStore.Initialize", kberrors.StoreUnavailable, err)
	}
	for _, c := range collections {
		if c == d.collection {
			return nil
		}
	}
	err = d.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: d.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(d.vectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return kberrors.New("DenseStore.Initialize", kberrors.StoreUnavailable, err)
	}
	return nil
}

// Upsert writes dense vectors + payload for each point, idempotent by id.
func (d *DenseStore) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	qpoints := make([]*qdrant.PointStruct, len(points))
	for i, pt := range points {
		qpoints[i] = &qdrant.PointStruct{
			Id:      numID(pt.ID),
			Vectors: qdrant.NewVectors(pt.Dense...),
			Payload: payloadToValue(pt.Payload),
		}
	}
	_, err := d.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: d.collection,
		Points:         qpoints,
	})
	if err != nil {
		return kberrors.New("DenseStore.Upsert", kberrors.StoreUnavailable, err)
	}
	return nil
}

// DeleteByFilter purges every point matching filter (a whole file or an
// entire folder subtree).
func (d *DenseStore) DeleteByFilter(ctx context.Context, filter Filter) error {
	qf := filterToQdrant(filter)
	if qf == nil {
		return kberrors.New("DenseStore.DeleteByFilter", kberrors.InvalidPath, fmt.Errorf("empty filter would delete the whole collection"))
	}
	_, err := d.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: d.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: qf},
		},
	})
	if err != nil {
		return kberrors.New("DenseStore.DeleteByFilter", kberrors.StoreUnavailable, err)
	}
	return nil
}

// Query runs a k-NN cosine search, honoring filter.
func (d *DenseStore) Query(ctx context.Context, dense []float32, k int, filter Filter) ([]ScoredPoint, error) {
	res, err := d.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: d.collection,
		Query:          qdrant.NewQuery(dense...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         filterToQdrant(filter),
	})
	if err != nil {
		return nil, kberrors.New("DenseStore.Query", kberrors.StoreUnavailable, err)
	}

	out := make([]ScoredPoint, 0, len(res))
	for _, p := range res {
		out = append(out, ScoredPoint{
			ID:      idFromPoint(p.GetId()),
			Score:   float64(p.GetScore()),
			Payload: payloadFromValue(p.GetPayload()),
		})
	}
	return out, nil
}

func (d *DenseStore) Close() error { return d.client.Close() }

func numID(id uint64) *qdrant.PointId {
	return &qdrant.PointId{PointIdOptions: &qdrant.PointId_Num{Num: id}}
}

func idFromPoint(id *qdrant.PointId) uint64 {
	return id.GetNum()
}

func payloadToValue(p Payload) map[string]*qdrant.Value {
	return map[string]*qdrant.Value{
		"file_path":       strVal(p.FilePath),
		"folder_path":     strVal(p.FolderPath),
		"folder_ancestry": listVal(folderAncestry(p.FolderPath)),
		"ordinal":         intVal(int64(p.Ordinal)),
		"text":            strVal(p.Text),
		"token_count":     intVal(int64(p.TokenCount)),
		"file_mime":       strVal(p.FileMIME),
	}
}

// folderAncestry lists the owning folder and every folder above it, so a
// keyword match on the list deletes or filters a whole subtree in one
// condition.
func folderAncestry(folderPath string) []string {
	if folderPath == "" {
		return nil
	}
	// Ancestors of a synthetic child yields the folder itself first, then
	// every folder above it.
	return types.Ancestors(folderPath + "/x")
}

func payloadFromValue(v map[string]*qdrant.Value) Payload {
	return Payload{
		FilePath:   getStr(v, "file_path"),
		FolderPath: getStr(v, "folder_path"),
		Ordinal:    int(getInt(v, "ordinal")),
		Text:       getStr(v, "text"),
		TokenCount: int(getInt(v, "token_count")),
		FileMIME:   getStr(v, "file_mime"),
	}
}

func strVal(s string) *qdrant.Value { return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}} }

func listVal(items []string) *qdrant.Value {
	vals := make([]*qdrant.Value, len(items))
	for i, s := range items {
		vals[i] = strVal(s)
	}
	return &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: vals}}}
}
func intVal(i int64) *qdrant.Value  { return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: i}} }

func getStr(v map[string]*qdrant.Value, key string) string {
	if val, ok := v[key]; ok {
		return val.GetStringValue()
	}
	return ""
}

func getInt(v map[string]*qdrant.Value, key string) int64 {
	if val, ok := v[key]; ok {
		return val.GetIntegerValue()
	}
	return 0
}

// filterToQdrant builds a Qdrant filter from Filter.
func filterToQdrant(f Filter) *qdrant.Filter {
	var must []*qdrant.Condition

	if f.FilePath != "" {
		must = append(must, fieldMatch("file_path", f.FilePath))
	}
	if f.FolderPath != "" {
		// Matches the folder itself and everything beneath it: every point
		// carries its full folder ancestry as a keyword list.
		must = append(must, fieldMatch("folder_ancestry", f.FolderPath))
	}
	if len(f.IncludeMIMEs) > 0 {
		must = append(must, fieldMatchAny("file_mime", f.IncludeMIMEs))
	}
	if len(f.IncludeFolders) > 0 {
		must = append(must, fieldMatchAny("folder_path", f.IncludeFolders))
	}

	var mustNot []*qdrant.Condition
	for _, excl := range f.ExcludeFolders {
		mustNot = append(mustNot, fieldMatch("folder_path", excl))
	}

	if len(must) == 0 && len(mustNot) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must, MustNot: mustNot}
}

func fieldMatch(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func fieldMatchAny(key string, values []string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keywords{Keywords: &qdrant.RepeatedStrings{Strings: values}},
				},
			},
		},
	}
}
