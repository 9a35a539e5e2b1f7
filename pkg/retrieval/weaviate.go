package retrieval

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
)

type WeaviateOptions struct {
	Host      string
	Scheme    string
	APIKey    string
	Class     string
	TextField string
}

// WeaviateStore searches a weaviate class with nearVector queries.
type WeaviateStore struct {
	client    *weaviate.Client
	class     string
	textField string
}

var _ VectorStore = &WeaviateStore{}

func NewWeaviateStore(opts WeaviateOptions) (*WeaviateStore, error) {
	if opts.Host == "" {
		opts.Host = "localhost:8080"
	}
	if opts.Scheme == "" {
		opts.Scheme = "http"
	}
	if opts.TextField == "" {
		opts.TextField = "text"
	}
	if opts.Class == "" {
		return nil, errors.New("weaviate class is required")
	}

	cfg := weaviate.Config{
		Host:   opts.Host,
		Scheme: opts.Scheme,
	}
	if opts.APIKey != "" {
		cfg.AuthConfig = auth.ApiKey{Value: opts.APIKey}
	}
	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "could not create weaviate client")
	}

	return &WeaviateStore{
		client:    client,
		class:     opts.Class,
		textField: opts.TextField,
	}, nil
}

func (w *WeaviateStore) Search(ctx context.Context, vector []float32, k int) ([]Passage, error) {
	nearVector := w.client.GraphQL().NearVectorArgBuilder().WithVector(vector)
	fields := []graphql.Field{
		{Name: w.textField},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "distance"}}},
	}

	resp, err := w.client.GraphQL().Get().
		WithClassName(w.class).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "weaviate search failed")
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, errors.Errorf("weaviate search failed: %s", strings.Join(msgs, "; "))
	}

	var data map[string]interface{}
	if get, ok := resp.Data["Get"].(map[string]interface{}); ok {
		data = get
	}
	return passagesFromWeaviate(data, w.class, w.textField), nil
}

// passagesFromWeaviate reads the objects of class out of a GraphQL Get
// response. Distances are turned into scores with 1 - distance.
func passagesFromWeaviate(get map[string]interface{}, class string, textField string) []Passage {
	objects, _ := get[class].([]interface{})
	ret := make([]Passage, 0, len(objects))
	for _, o := range objects {
		obj, ok := o.(map[string]interface{})
		if !ok {
			continue
		}
		p := Passage{Metadata: map[string]interface{}{}}
		p.Text, _ = obj[textField].(string)
		if additional, ok := obj["_additional"].(map[string]interface{}); ok {
			if d, ok := additional["distance"].(float64); ok {
				p.Score = 1 - d
				p.Metadata["distance"] = d
			}
			if id, ok := additional["id"].(string); ok {
				p.Metadata["id"] = id
			}
		}
		for k, v := range obj {
			if k != textField && k != "_additional" {
				p.Metadata[k] = v
			}
		}
		ret = append(ret, p)
	}
	sortByScore(ret)
	return ret
}
