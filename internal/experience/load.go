// Package experience loads experience definitions and validates them in
// three phases: structural (strict decode), semantic (JSON Schema) and
// domain (hand-written rules).
package experience

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/playperu/snapbooth/internal/booth"
)

// LoadFile reads and strictly decodes an experience definition file.
func LoadFile(path string) (*booth.Experience, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open experience: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes a YAML or JSON experience definition. Unknown fields are
// rejected.
func Load(r io.Reader) (*booth.Experience, error) {
	var exp booth.Experience
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&exp); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("structural decode: empty document")
		}
		return nil, fmt.Errorf("structural decode: %w", err)
	}
	return &exp, nil
}

func Parse(data []byte) (*booth.Experience, error) {
	return Load(bytes.NewReader(data))
}
