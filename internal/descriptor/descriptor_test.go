package descriptor

import (
	"errors"
	"testing"
)

func TestResolve_Valid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		url  string
		want Descriptor
	}{
		{
			name: "bare host",
			url:  "indexnew-abc1234.svc.eu-west1-gcp.pinecone.io",
			want: Descriptor{
				AccessKey:   "k",
				IndexName:   "indexnew",
				Project:     "abc1234",
				Environment: "eu-west1-gcp",
				Host:        "indexnew-abc1234.svc.eu-west1-gcp.pinecone.io",
			},
		},
		{
			name: "scheme and trailing slash",
			url:  "https://docs-index-9f8e7d.svc.us-east1-gcp.pinecone.io/",
			want: Descriptor{
				AccessKey:   "k",
				IndexName:   "docs-index",
				Project:     "9f8e7d",
				Environment: "us-east1-gcp",
				Host:        "docs-index-9f8e7d.svc.us-east1-gcp.pinecone.io",
			},
		},
		{
			name: "plain http",
			url:  "http://idx-p1.svc.local.test",
			want: Descriptor{
				AccessKey:   "k",
				IndexName:   "idx",
				Project:     "p1",
				Environment: "local",
				Host:        "idx-p1.svc.local.test",
			},
		},
	}

	for _, tc := range cases {
		got, err := Resolve(tc.url, "k")
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: got %+v, want %+v", tc.name, got, tc.want)
		}
	}
}

func TestResolve_Invalid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		url  string
		key  string
	}{
		{"missing key", "indexnew-abc1234.svc.eu-west1-gcp.pinecone.io", ""},
		{"blank key", "indexnew-abc1234.svc.eu-west1-gcp.pinecone.io", "   "},
		{"empty url", "", "k"},
		{"too few segments", "indexnew-abc1234.svc", "k"},
		{"not svc", "indexnew-abc1234.api.eu-west1-gcp.pinecone.io", "k"},
		{"no project", "indexnew.svc.eu-west1-gcp.pinecone.io", "k"},
		{"dangling dash", "indexnew-.svc.eu-west1-gcp.pinecone.io", "k"},
		{"leading dash", "-abc.svc.eu-west1-gcp.pinecone.io", "k"},
		{"empty environment", "indexnew-abc1234.svc..pinecone.io", "k"},
	}

	for _, tc := range cases {
		_, err := Resolve(tc.url, tc.key)
		if !errors.Is(err, ErrInvalidDescriptor) {
			t.Errorf("%s: want ErrInvalidDescriptor, got %v", tc.name, err)
		}
	}
}
