package vectorstore

import (
	"context"
	"errors"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ErrDimensionMismatch means an existing collection was created with a
// different vector size than requested.
var ErrDimensionMismatch = errors.New("collection vector size mismatch")

// QdrantConfig holds connection settings for a Qdrant instance.
type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Client wraps the gRPC connection to Qdrant's collections service.
type Client struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
}

// NewClient dials the Qdrant gRPC endpoint and returns a ready Client.
func NewClient(cfg QdrantConfig) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	return &Client{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
	}, nil
}

// Ping lists collections to confirm the server answers.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.collections.List(ctx, &pb.ListCollectionsRequest{}); err != nil {
		return fmt.Errorf("qdrant list collections: %w", err)
	}
	return nil
}

// Distance maps a schema similarity function onto a Qdrant distance.
// Unknown values fall back to cosine.
func Distance(similarity string) pb.Distance {
	switch similarity {
	case "euclidean":
		return pb.Distance_Euclid
	case "dot":
		return pb.Distance_Dot
	default:
		return pb.Distance_Cosine
	}
}

// EnsureCollection creates the named collection if it does not already
// exist. An existing collection with a different vector size is an error.
// The returned bool reports whether the collection was created.
func (c *Client) EnsureCollection(ctx context.Context, name string, dimension uint64, similarity string) (bool, error) {
	info, err := c.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
	if err == nil {
		size := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if size != 0 && size != dimension {
			return false, fmt.Errorf("collection %s has size %d, want %d: %w", name, size, dimension, ErrDimensionMismatch)
		}
		return false, nil
	}
	_, err = c.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     dimension,
					Distance: Distance(similarity),
				},
			},
		},
	})
	if err != nil {
		return false, fmt.Errorf("create collection %s: %w", name, err)
	}
	return true, nil
}

// Close tears down the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
