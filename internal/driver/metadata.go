package driver

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Metadata is the structured resource-usage and termination report isolate
// writes to the sandbox's metadata sink file.
type Metadata struct {
	Time         *float64
	TimeWall     *float64
	MaxRSS       *uint64
	CswVoluntary *uint64
	CswForced    *uint64
	CgMem        *uint64
	ExitCode     *int32
	Status       *string
}

// parseMetadata reads the line-oriented key:value metadata format. Lines
// without a colon, or with an empty value, are skipped. Unrecognized keys
// are ignored so the driver keeps working against newer isolate releases
// that add fields. A parse failure on a recognized numeric key is fatal:
// it means the metadata format has drifted underneath us.
func parseMetadata(data []byte) (Metadata, error) {
	var m Metadata

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		key, value, ok := strings.Cut(line, ":")
		if !ok || value == "" {
			continue
		}

		switch normalizeKey(key) {
		case "time":
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return Metadata{}, fmt.Errorf("metadata key %q: %w", key, err)
			}
			m.Time = &v
		case "time_wall":
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return Metadata{}, fmt.Errorf("metadata key %q: %w", key, err)
			}
			m.TimeWall = &v
		case "max_rss":
			v, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return Metadata{}, fmt.Errorf("metadata key %q: %w", key, err)
			}
			m.MaxRSS = &v
		case "csw_voluntary":
			v, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return Metadata{}, fmt.Errorf("metadata key %q: %w", key, err)
			}
			m.CswVoluntary = &v
		case "csw_forced":
			v, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return Metadata{}, fmt.Errorf("metadata key %q: %w", key, err)
			}
			m.CswForced = &v
		case "cg_mem":
			v, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return Metadata{}, fmt.Errorf("metadata key %q: %w", key, err)
			}
			m.CgMem = &v
		case "exit_code":
			v, err := strconv.ParseInt(value, 10, 32)
			if err != nil {
				return Metadata{}, fmt.Errorf("metadata key %q: %w", key, err)
			}
			v32 := int32(v)
			m.ExitCode = &v32
		case "status":
			v := value
			m.Status = &v
		default:
			// forward compatibility: unrecognized keys are ignored.
		}
	}
	if err := scanner.Err(); err != nil {
		return Metadata{}, fmt.Errorf("scan metadata: %w", err)
	}

	return m, nil
}

// normalizeKey accepts both dash and underscore spellings of a metadata
// key (isolate's own docs and the test vectors in the wild use both, e.g.
// "time-wall" and "max-rss") and maps them to one canonical form.
func normalizeKey(key string) string {
	return strings.ReplaceAll(key, "-", "_")
}
