package vectorstore

import (
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
)

func TestDistance(t *testing.T) {
	cases := map[string]pb.Distance{
		"cosine":    pb.Distance_Cosine,
		"euclidean": pb.Distance_Euclid,
		"dot":       pb.Distance_Dot,
		"":          pb.Distance_Cosine,
		"manhattan": pb.Distance_Cosine,
	}
	for in, want := range cases {
		if got := Distance(in); got != want {
			t.Errorf("Distance(%q) = %v, want %v", in, got, want)
		}
	}
}
