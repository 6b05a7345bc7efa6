package codec

import (
	"bytes"
	"encoding/gob"
)

func init() {
	// gob needs the concrete types that can appear inside a document
	gob.Register(map[string]interface{}{})
	gob.Register([]interface{}{})
}

// NewGOBCodec creates a new codec using Go's binary gob format
func NewGOBCodec() ICodec {
	return &gobCodecImpl{}
}

// gobCodecImpl implements the ICodec interface using gob encoding
type gobCodecImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.ICodec)
// --------------------------------------------------------------------------

func (g gobCodecImpl) Encode(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g gobCodecImpl) Decode(b []byte) (Document, error) {
	var doc Document
	dec := gob.NewDecoder(bytes.NewBuffer(b))
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (g gobCodecImpl) Ext() string {
	return "gob"
}
