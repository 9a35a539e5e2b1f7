package conversation

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

var (
	recordSchemaOnce sync.Once
	recordSchema     *gojsonschema.Schema
	recordSchemaJSON []byte
	recordSchemaErr  error
)

func reflectRecordSchema() ([]byte, error) {
	r := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
		ExpandedStruct:             true,
		// records written by other tools may carry more keys
		AllowAdditionalProperties: true,
	}
	s := r.Reflect(&Record{})
	// gojsonschema only knows drafts up to 7, the structure we use is the same
	s.Version = ""
	s.ID = ""
	return json.Marshal(s)
}

func loadRecordSchema() (*gojsonschema.Schema, error) {
	recordSchemaOnce.Do(func() {
		recordSchemaJSON, recordSchemaErr = reflectRecordSchema()
		if recordSchemaErr != nil {
			return
		}
		recordSchema, recordSchemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(recordSchemaJSON))
	})
	return recordSchema, recordSchemaErr
}

// RecordSchema returns the JSON schema of one line of a records file.
func RecordSchema() ([]byte, error) {
	if _, err := loadRecordSchema(); err != nil {
		return nil, err
	}
	return recordSchemaJSON, nil
}

// ValidateRecordJSON checks one raw line against the record schema.
func ValidateRecordJSON(line []byte) error {
	schema, err := loadRecordSchema()
	if err != nil {
		return errors.Wrap(err, "could not build record schema")
	}
	res, err := schema.Validate(gojsonschema.NewBytesLoader(line))
	if err != nil {
		return errors.Wrapf(ErrMalformedRecord, "%v", err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return errors.Wrapf(ErrMalformedRecord, "%s", strings.Join(msgs, "; "))
	}
	return nil
}

// ParseRecordLine validates a line against the schema and decodes it.
func ParseRecordLine(line []byte) (*Record, error) {
	if err := ValidateRecordJSON(line); err != nil {
		return nil, err
	}
	return RecordFromJSON(line)
}
