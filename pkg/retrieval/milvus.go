package retrieval

import (
	"context"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/pkg/errors"
)

type MilvusOptions struct {
	Address     string
	Username    string
	Password    string
	Database    string
	Collection  string
	TextField   string
	VectorField string
	// Metric is COSINE, IP or L2.
	Metric string
}

// MilvusStore searches a milvus collection holding a text field and a float
// vector field.
type MilvusStore struct {
	client      client.Client
	collection  string
	textField   string
	vectorField string
	metric      entity.MetricType
}

var _ VectorStore = &MilvusStore{}

func NewMilvusStore(ctx context.Context, opts MilvusOptions) (*MilvusStore, error) {
	if opts.Address == "" {
		opts.Address = "localhost:19530"
	}
	if opts.Collection == "" {
		return nil, errors.New("milvus collection is required")
	}
	if opts.TextField == "" {
		opts.TextField = "content"
	}
	if opts.VectorField == "" {
		opts.VectorField = "vector"
	}
	if opts.Metric == "" {
		opts.Metric = "COSINE"
	}

	c, err := client.NewClient(ctx, client.Config{
		Address:  opts.Address,
		Username: opts.Username,
		Password: opts.Password,
		DBName:   opts.Database,
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not create milvus client")
	}

	return &MilvusStore{
		client:      c,
		collection:  opts.Collection,
		textField:   opts.TextField,
		vectorField: opts.VectorField,
		metric:      entity.MetricType(opts.Metric),
	}, nil
}

func (m *MilvusStore) Close() error {
	return m.client.Close()
}

func (m *MilvusStore) Search(ctx context.Context, vector []float32, k int) ([]Passage, error) {
	sp, err := entity.NewIndexHNSWSearchParam(64)
	if err != nil {
		return nil, errors.Wrap(err, "could not create search params")
	}
	results, err := m.client.Search(
		ctx,
		m.collection,
		[]string{},
		"",
		[]string{m.textField},
		[]entity.Vector{entity.FloatVector(vector)},
		m.vectorField,
		m.metric,
		k,
		sp,
	)
	if err != nil {
		return nil, errors.Wrap(err, "milvus search failed")
	}
	if len(results) == 0 {
		return []Passage{}, nil
	}
	if results[0].Err != nil {
		return nil, errors.Wrap(results[0].Err, "milvus search failed")
	}
	return passagesFromMilvus(results[0], m.textField, m.metric), nil
}

// passagesFromMilvus converts the result of one query vector. L2 distances
// are mapped to 1 / (1 + d) so that higher is closer for every metric.
func passagesFromMilvus(result client.SearchResult, textField string, metric entity.MetricType) []Passage {
	var texts []string
	for _, field := range result.Fields {
		if field.Name() != textField {
			continue
		}
		if col, ok := field.(*entity.ColumnVarChar); ok {
			texts = col.Data()
		}
	}

	var ids []int64
	if col, ok := result.IDs.(*entity.ColumnInt64); ok {
		ids = col.Data()
	}

	ret := make([]Passage, 0, result.ResultCount)
	for i := 0; i < result.ResultCount; i++ {
		p := Passage{Metadata: map[string]interface{}{}}
		if i < len(texts) {
			p.Text = texts[i]
		}
		if i < len(ids) {
			p.Metadata["id"] = ids[i]
		}
		if i < len(result.Scores) {
			s := float64(result.Scores[i])
			p.Metadata["raw_score"] = s
			if metric == entity.L2 {
				s = 1 / (1 + s)
			}
			p.Score = s
		}
		ret = append(ret, p)
	}
	sortByScore(ret)
	return ret
}
