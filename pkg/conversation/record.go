package conversation

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Record bundles the parallel conversations of one comparison session with
// its owner and title.
//
// Top level keys the record does not know about are kept and written back
// unchanged.
type Record struct {
	ID            string          `json:"id" yaml:"id" jsonschema:"nullable"`
	User          string          `json:"user" yaml:"user" jsonschema:"nullable"`
	Title         string          `json:"title" yaml:"title" jsonschema:"nullable"`
	Conversations []*Conversation `json:"conversations" yaml:"conversations" jsonschema:"required"`

	extra map[string]json.RawMessage
}

// recordFields has the fields of Record without its JSON methods.
type recordFields Record

var recordKeys = []string{"id", "user", "title", "conversations"}

func (r *Record) UnmarshalJSON(b []byte) error {
	var fields recordFields
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for _, k := range recordKeys {
		delete(raw, k)
	}
	*r = Record(fields)
	r.extra = nil
	if len(raw) > 0 {
		r.extra = raw
	}
	return nil
}

func (r Record) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(recordFields(r))
	if err != nil || len(r.extra) == 0 {
		return b, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	for k, v := range r.extra {
		if _, ok := m[k]; !ok {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

// InheritExtra copies the unknown keys of from into r.
func (r *Record) InheritExtra(from *Record) {
	if from == nil || len(from.extra) == 0 {
		return
	}
	if r.extra == nil {
		r.extra = make(map[string]json.RawMessage, len(from.extra))
	}
	for k, v := range from.extra {
		if _, ok := r.extra[k]; !ok {
			r.extra[k] = append(json.RawMessage{}, v...)
		}
	}
}

// Extra returns the value of a top level key the record does not know.
func (r *Record) Extra(key string) (json.RawMessage, bool) {
	v, ok := r.extra[key]
	return v, ok
}

// IDTitle is the listing entry returned by the store.
type IDTitle struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func NewRecord(user string, title string, conversations ...*Conversation) *Record {
	return &Record{
		ID:            uuid.NewString(),
		User:          user,
		Title:         title,
		Conversations: conversations,
	}
}

// Validate checks the invariants that hold at every persisted boundary: all
// conversations were advanced together and carry the same number of messages.
func (r *Record) Validate() error {
	if r.ID == "" {
		return errors.Wrap(ErrMalformedRecord, "record has no id")
	}
	for i, c := range r.Conversations {
		if c == nil {
			return errors.Wrapf(ErrMalformedRecord, "conversation %d is null", i)
		}
		if c.Len() != r.Conversations[0].Len() {
			return errors.Wrapf(ErrMalformedRecord,
				"conversation %d has %d messages, conversation 0 has %d",
				i, c.Len(), r.Conversations[0].Len())
		}
	}
	return nil
}

func (r *Record) Clone() *Record {
	ret := &Record{
		ID:            r.ID,
		User:          r.User,
		Title:         r.Title,
		Conversations: make([]*Conversation, 0, len(r.Conversations)),
	}
	if len(r.extra) > 0 {
		ret.extra = make(map[string]json.RawMessage, len(r.extra))
		for k, v := range r.extra {
			ret.extra[k] = append(json.RawMessage{}, v...)
		}
	}
	for _, c := range r.Conversations {
		ret.Conversations = append(ret.Conversations, c.Clone())
	}
	return ret
}

// ToJSON serializes the record onto a single line.
func (r *Record) ToJSON() ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Wrapf(err, "could not serialize record %s", r.ID)
	}
	return b, nil
}

// RecordFromJSON parses one line of a records file. Lines without an id get
// one derived from the line content, so the same file always yields the same
// ids.
func RecordFromJSON(line []byte) (*Record, error) {
	line = bytes.TrimSpace(line)
	dec := json.NewDecoder(bytes.NewReader(line))

	var r Record
	if err := dec.Decode(&r); err != nil {
		return nil, errors.Wrapf(ErrMalformedRecord, "%v", err)
	}
	if dec.More() {
		return nil, errors.Wrap(ErrMalformedRecord, "trailing data after record")
	}
	if r.ID == "" {
		sum := sha256.Sum256(line)
		r.ID = hex.EncodeToString(sum[:8])
	}
	if r.Conversations == nil {
		r.Conversations = []*Conversation{}
	}
	for _, c := range r.Conversations {
		if c != nil && c.Messages == nil {
			c.Messages = []Message{}
		}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}
