package metric

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// errTrailingData rejects input holding more than one JSON value.
var errTrailingData = errors.New("unexpected data after JSON value")

// maxLineSize bounds a single NDJSON line.
const maxLineSize = 1024 * 1024

// DecodeNDJSON reads newline-delimited JSON samples. Numbers are kept as
// json.Number so their text reaches the value coercion untouched.
func DecodeNDJSON(r io.Reader) ([]Sample, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	samples := make([]Sample, 0, 64)
	line := 0

	for scanner.Scan() {
		line++

		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var s Sample
		if err := unmarshal(raw, &s); err != nil {
			// A read error surfaces the truncated tail as a final line.
			if rerr := scanner.Err(); rerr != nil {
				return nil, fmt.Errorf("reading samples: %w", rerr)
			}

			return nil, fmt.Errorf("decoding line %d: %w", line, err)
		}

		samples = append(samples, s)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading samples: %w", err)
	}

	return samples, nil
}

// DecodeJSON reads a JSON array of samples.
func DecodeJSON(r io.Reader) ([]Sample, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading samples: %w", err)
	}

	var samples []Sample
	if err := unmarshal(data, &samples); err != nil {
		return nil, fmt.Errorf("decoding samples: %w", err)
	}

	return samples, nil
}

func unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if err := dec.Decode(v); err != nil {
		return err
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errTrailingData
	}

	return nil
}
