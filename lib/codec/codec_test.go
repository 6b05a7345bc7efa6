package codec

import (
	"reflect"
	"testing"
)

// testCodecs is a map of codec name to factory function
var testCodecs = map[string]func() ICodec{
	"JSON": NewJSONCodec,
	"GOB":  NewGOBCodec,
}

func TestCodecRoundTrip(t *testing.T) {
	doc := Document{
		"name":   "Ann",
		"active": true,
		"score":  42.5,
		"tags":   []interface{}{"a", "b"},
		"nested": map[string]interface{}{
			"path": "user/1",
		},
	}

	for name, factory := range testCodecs {
		t.Run(name, func(t *testing.T) {
			c := factory()

			b, err := c.Encode(doc)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			decoded, err := c.Decode(b)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}

			if !reflect.DeepEqual(doc, decoded) {
				t.Errorf("round trip mismatch:\n  in:  %#v\n  out: %#v", doc, decoded)
			}

			if c.Ext() == "" {
				t.Error("codec must report a file extension")
			}
		})
	}
}

func TestCodecDecodeGarbage(t *testing.T) {
	for name, factory := range testCodecs {
		t.Run(name, func(t *testing.T) {
			if _, err := factory().Decode([]byte{0xff, 0x00, 0x13}); err == nil {
				t.Error("expected error decoding garbage input")
			}
		})
	}
}
