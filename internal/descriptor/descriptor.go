// Package descriptor resolves a vector-index URL and access key into the
// structured coordinates the index client needs to address it.
package descriptor

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidDescriptor is returned when an index URL or key cannot be resolved.
var ErrInvalidDescriptor = errors.New("invalid index descriptor")

// Descriptor addresses a single hosted vector index.
type Descriptor struct {
	// AccessKey authenticates calls to the index.
	AccessKey string

	// IndexName is the name of the index.
	IndexName string

	// Project is the project identifier the index lives under.
	Project string

	// Environment is the hosting region, e.g. "us-east1-gcp".
	Environment string

	// Host is the bare index host with scheme and trailing slash removed.
	Host string
}

// Resolve parses a hosted index URL of the form
//
//	https://<index>-<project>.svc.<environment>.<domain>
//
// into a Descriptor. The scheme is optional. The index name may itself
// contain dashes; the project is whatever follows the last one.
func Resolve(indexURL, apiKey string) (Descriptor, error) {
	if strings.TrimSpace(apiKey) == "" {
		return Descriptor{}, fmt.Errorf("descriptor: missing access key: %w", ErrInvalidDescriptor)
	}

	host := strings.TrimSpace(indexURL)
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimRight(host, "/")
	if host == "" {
		return Descriptor{}, fmt.Errorf("descriptor: empty index url: %w", ErrInvalidDescriptor)
	}

	segments := strings.Split(host, ".")
	if len(segments) < 4 || segments[1] != "svc" {
		return Descriptor{}, fmt.Errorf("descriptor: %q is not an index host: %w", host, ErrInvalidDescriptor)
	}

	dash := strings.LastIndex(segments[0], "-")
	if dash <= 0 || dash == len(segments[0])-1 {
		return Descriptor{}, fmt.Errorf("descriptor: %q has no <index>-<project> prefix: %w", segments[0], ErrInvalidDescriptor)
	}

	d := Descriptor{
		AccessKey:   apiKey,
		IndexName:   segments[0][:dash],
		Project:     segments[0][dash+1:],
		Environment: segments[2],
		Host:        host,
	}
	if d.Environment == "" {
		return Descriptor{}, fmt.Errorf("descriptor: %q has no environment: %w", host, ErrInvalidDescriptor)
	}

	return d, nil
}
