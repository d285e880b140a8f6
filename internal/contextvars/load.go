package contextvars

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ParseInputs decodes YAML context inputs over the defaults, so omitted
// fields keep their default value. The result is not validated.
func ParseInputs(data []byte) (Inputs, error) {
	in := Defaults()
	if err := yaml.Unmarshal(data, &in); err != nil {
		return Inputs{}, fmt.Errorf("failed to parse context inputs: %w", err)
	}
	return in, nil
}

// LoadInputs reads context inputs from a YAML file.
func LoadInputs(path string) (Inputs, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Inputs{}, fmt.Errorf("failed to read context file: %w", err)
	}
	return ParseInputs(data)
}
