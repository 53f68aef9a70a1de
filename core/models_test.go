package core

import (
	"testing"
)

func TestHashContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "short content", content: "test content"},
		{name: "empty string", content: ""},
		{name: "long content", content: "This is a much longer piece of content that should still hash consistently"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h1 := HashContent(tt.content)
			h2 := HashContent(tt.content)
			if h1 != h2 {
				t.Errorf("HashContent() produced different hashes for same content: %d vs %d", h1, h2)
			}
		})
	}

	t.Run("different content produces different hashes", func(t *testing.T) {
		if HashContent("refund policy") == HashContent("return policy") {
			t.Error("expected different hashes")
		}
	})
}

func TestParseMetric(t *testing.T) {
	tests := []struct {
		name    string
		want    Metric
		wantErr bool
	}{
		{name: "cosine", want: MetricCosine},
		{name: "inner-product", want: MetricInnerProduct},
		{name: "dot", want: MetricInnerProduct},
		{name: "euclidean", want: MetricEuclidean},
		{name: "l2", want: MetricEuclidean},
		{name: "manhattan", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMetric(tt.name)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseMetric(%q) expected error", tt.name)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMetric(%q) unexpected error: %v", tt.name, err)
			}
			if got != tt.want {
				t.Errorf("ParseMetric(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestParseVariant(t *testing.T) {
	for name, want := range map[string]Variant{
		"graph":   VariantGraph,
		"hnsw":    VariantGraph,
		"cluster": VariantCluster,
		"ivf":     VariantCluster,
	} {
		got, err := ParseVariant(name)
		if err != nil || got != want {
			t.Errorf("ParseVariant(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
	if _, err := ParseVariant("flat"); err != ErrUnknownVariant {
		t.Errorf("expected ErrUnknownVariant, got %v", err)
	}
}
