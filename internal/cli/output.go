package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// format is the output encoding selected by the global flags.
type format int

const (
	formatText format = iota
	formatJSON
	formatYAML
)

func currentFormat() format {
	switch {
	case jsonOutput:
		return formatJSON
	case yamlOutput:
		return formatYAML
	default:
		return formatText
	}
}

// IsMachineOutput reports whether --json or --yaml is set.
func IsMachineOutput() bool {
	return currentFormat() != formatText
}

// render writes v to w in format f. Text output is produced by text, which
// may be nil for results that have no human-readable form beyond a line.
func render(w io.Writer, f format, v any, text func(io.Writer)) error {
	switch f {
	case formatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding JSON output: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encoding YAML output: %w", err)
		}
		return enc.Close()
	default:
		if text != nil {
			text(w)
		}
		return nil
	}
}
