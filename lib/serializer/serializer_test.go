package serializer

import (
	"testing"

	"github.com/ValentinKolb/dFrag/lib/message"
	"github.com/ValentinKolb/dFrag/lib/schema"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]Factory{
	"Protobuf": NewProtobufSerializer,
	"Binary":   NewBinarySerializer,
	"JSON":     NewJSONSerializer,
}

func testSchema() *schema.Type {
	item := schema.Record("Item",
		schema.Field{Name: "sku", Type: schema.Primitive(schema.KindString)},
		schema.Field{Name: "qty", Type: schema.Primitive(schema.KindInt)},
		schema.Field{Name: "price", Type: schema.Primitive(schema.KindFloat)},
	)
	address := schema.Record("Address",
		schema.Field{Name: "street", Type: schema.Primitive(schema.KindString)},
		schema.Field{Name: "zip", Type: schema.Primitive(schema.KindInt)},
	)
	return schema.Record("Order",
		schema.Field{Name: "id", Type: schema.Primitive(schema.KindInt)},
		schema.Field{Name: "note", Type: schema.Primitive(schema.KindBytes)},
		schema.Field{Name: "name", Type: schema.Primitive(schema.KindString)},
		schema.Field{Name: "paid", Type: schema.Primitive(schema.KindBool)},
		schema.Field{Name: "total", Type: schema.Primitive(schema.KindFloat)},
		schema.Field{Name: "address", Type: address},
		schema.Field{Name: "days", Type: schema.ArrayOf(schema.Primitive(schema.KindInt))},
		schema.Field{Name: "items", Type: schema.ArrayOf(item)},
	)
}

// testMessages creates a set of test messages with different fields filled.
// Arrays are always set since the protobuf format cannot tell an empty list
// from an absent one.
func testMessages() []message.Object {
	return []message.Object{
		// Only arrays
		{"days": message.List{}, "items": message.List{}},

		// Scalars with zero values
		{
			"id":    message.Int(0),
			"note":  message.Bytes([]byte{}),
			"name":  message.String(""),
			"paid":  message.Bool(false),
			"total": message.Float(0),
			"days":  message.List{},
			"items": message.List{},
		},

		// Negative and large numbers
		{
			"id":    message.Int(-1 << 40),
			"total": message.Float(-12.75),
			"days":  message.List{message.Int(-3), message.Int(0), message.Int(1 << 20)},
			"items": message.List{},
		},

		// Message with all fields filled
		{
			"id":      message.Int(42),
			"note":    message.Bytes([]byte{0x01, 0x00, 0xFF}),
			"name":    message.String("Grüße"),
			"paid":    message.Bool(true),
			"total":   message.Float(19.99),
			"address": message.Object{"street": message.String("Main St 1"), "zip": message.Int(12345)},
			"days":    message.List{message.Int(9)},
			"items": message.List{
				message.Object{"sku": message.String("a"), "qty": message.Int(1), "price": message.Float(9.99)},
				message.Object{"sku": message.String("b")},
				message.Object{},
			},
		},
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	messages := testMessages()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer, err := factory(testSchema())
			if err != nil {
				t.Fatalf("Failed to create serializer: %v", err)
			}

			for i, msg := range messages {
				// Serialize
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message %d: %v", i, err)
					continue
				}

				// Deserialize
				result, err := serializer.Deserialize(data)
				if err != nil {
					t.Errorf("Failed to deserialize message %d: %v", i, err)
					continue
				}

				// Compare
				if !message.Equal(msg, result) {
					t.Errorf("Message %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
						i, msg, result)
				}
			}
		})
	}
}

// TestSerializerTypeErrors tests that values not matching the schema are rejected
func TestSerializerTypeErrors(t *testing.T) {
	invalid := map[string]message.Node{
		"root not object": message.List{},
		"wrong scalar":    message.Object{"id": message.String("x")},
		"wrong list":      message.Object{"days": message.Int(1)},
		"wrong element":   message.Object{"days": message.List{message.Float(1)}},
		"wrong record":    message.Object{"address": message.Int(1)},
	}

	for name, factory := range testSerializers {
		if name == "JSON" {
			// json writes any tree and validates on read
			continue
		}
		t.Run(name, func(t *testing.T) {
			serializer, err := factory(testSchema())
			if err != nil {
				t.Fatalf("Failed to create serializer: %v", err)
			}
			for what, msg := range invalid {
				if _, err := serializer.Serialize(msg); err == nil {
					t.Errorf("%s: expected error", what)
				}
			}
		})
	}
}

// TestSerializerSize tests that the binary formats are smaller than json
func TestSerializerSize(t *testing.T) {
	msg := testMessages()[3]
	sizes := make(map[string]int)

	for name, factory := range testSerializers {
		serializer, err := factory(testSchema())
		if err != nil {
			t.Fatalf("Failed to create %s serializer: %v", name, err)
		}
		data, err := serializer.Serialize(msg)
		if err != nil {
			t.Fatalf("Failed to serialize with %s: %v", name, err)
		}
		sizes[name] = len(data)
	}

	if sizes["Protobuf"] >= sizes["JSON"] || sizes["Binary"] >= sizes["JSON"] {
		t.Errorf("Expected binary formats to be smaller than json: %v", sizes)
	}
}

// TestNew tests the serializer registry
func TestNew(t *testing.T) {
	for _, name := range Names() {
		s, err := New(name, testSchema())
		if err != nil {
			t.Errorf("New(%s) failed: %v", name, err)
			continue
		}
		if s.Name() != name {
			t.Errorf("Expected name %s, got %s", name, s.Name())
		}
	}

	if _, err := New("avro", testSchema()); err == nil {
		t.Errorf("Expected error for unknown serializer")
	}
	if _, err := New("json", schema.Primitive(schema.KindInt)); err == nil {
		t.Errorf("Expected error for non record root")
	}
}

// TestProtobufNestedArrays tests that arrays of arrays are rejected at compile time
func TestProtobufNestedArrays(t *testing.T) {
	s := schema.Record("Grid",
		schema.Field{Name: "cells", Type: schema.ArrayOf(schema.ArrayOf(schema.Primitive(schema.KindInt)))},
	)
	if _, err := NewProtobufSerializer(s); err == nil {
		t.Errorf("Expected error for nested arrays")
	}

	// the binary format supports them
	b, err := NewBinarySerializer(s)
	if err != nil {
		t.Fatalf("NewBinarySerializer failed: %v", err)
	}
	msg := message.Object{"cells": message.List{
		message.List{message.Int(1), message.Int(2)},
		message.List{},
	}}
	data, err := b.Serialize(msg)
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	result, err := b.Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if !message.Equal(msg, result) {
		t.Errorf("Expected %v, got %v", msg, result)
	}
}

// TestInvalidBinaryData tests how the binary serializer handles corrupt or invalid data
func TestInvalidBinaryData(t *testing.T) {
	s := schema.Record("R",
		schema.Field{Name: "name", Type: schema.Primitive(schema.KindString)},
		schema.Field{Name: "list", Type: schema.ArrayOf(schema.Primitive(schema.KindBool))},
	)
	serializer, err := NewBinarySerializer(s)
	if err != nil {
		t.Fatalf("NewBinarySerializer failed: %v", err)
	}

	testCases := []struct {
		name        string
		data        []byte
		expectError bool
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectError: true,
		},
		{
			name:        "Flags only",
			data:        []byte{0},
			expectError: false,
		},
		{
			name:        "Invalid length for name",
			data:        []byte{1, 5, 'a', 'b', 'c'}, // Claims length 5 but only 3 bytes provided
			expectError: true,
		},
		{
			name:        "Invalid count for list",
			data:        []byte{2, 10, 1}, // Claims 10 elements but only 1 byte provided
			expectError: true,
		},
		{
			name:        "Invalid bool",
			data:        []byte{2, 1, 7},
			expectError: true,
		},
		{
			name:        "Trailing data",
			data:        []byte{0, 0},
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := serializer.Deserialize(tc.data)

			if tc.expectError && err == nil {
				t.Errorf("Expected error but got none")
			} else if !tc.expectError && err != nil {
				t.Errorf("Did not expect error but got: %v", err)
			}
		})
	}
}

// TestInvalidProtobufData tests that garbage is rejected by the protobuf serializer
func TestInvalidProtobufData(t *testing.T) {
	serializer, err := NewProtobufSerializer(testSchema())
	if err != nil {
		t.Fatalf("NewProtobufSerializer failed: %v", err)
	}
	// field 1, wire type 2 (length delimited) with a length past the end
	if _, err := serializer.Deserialize([]byte{0x0A, 0x7F, 0x01}); err == nil {
		t.Errorf("Expected error for truncated data")
	}
}
