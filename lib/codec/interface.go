package codec

// Document is the value shape the bundled adapters persist: a flat or nested
// JSON-style object.
type Document = map[string]interface{}

// ICodec is the interface for all record document codecs
type ICodec interface {
	// Encode encodes a document into a byte array
	// It returns the encoded byte array and an error if any
	Encode(doc Document) ([]byte, error)
	// Decode decodes a byte array into a document
	// It returns the decoded document and an error if any
	Decode(b []byte) (Document, error)
	// Ext returns the file extension used for this encoding (without dot)
	Ext() string
}
