package descriptor

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Address is one contract-role to address entry.
type Address struct {
	Contract string
	Address  string
}

// Addresses is the "addresses" object of a descriptor. Entries keep the
// order in which they appear in the document; a repeated key keeps its
// first position and takes the last value.
type Addresses []Address

// UnmarshalJSON decodes a JSON object of string values in document order.
func (a *Addresses) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*a = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("addresses: expected object, got %v", tok)
	}

	var out Addresses
	index := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("addresses: expected key, got %v", tok)
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("addresses: value for %q: %w", key, err)
		}
		if i, seen := index[key]; seen {
			out[i].Address = value
			continue
		}
		index[key] = len(out)
		out = append(out, Address{Contract: key, Address: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*a = out
	return nil
}
