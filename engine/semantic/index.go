// Package semantic maintains the optional Qdrant ANN index over video
// embeddings. It is a pure acceleration layer: the document store stays the
// source of truth, and retrieval falls back to an exhaustive scan when no
// index is configured.
package semantic

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/SponsorLens/sponsorlens-mvp/engine/domain"
)

// DefaultCollection is the Qdrant collection holding video summary vectors.
const DefaultCollection = "video_summaries"

// pointsAPI and collectionsAPI are the slices of the Qdrant gRPC surface the
// index uses, split out so tests can stub them.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Hit is one ANN match: the video id to rehydrate from the record store plus
// the cosine score Qdrant computed.
type Hit struct {
	VideoID string
	Score   float32
}

// VideoIndex owns all Qdrant operations for video vectors.
type VideoIndex struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
}

// New connects to Qdrant at the given gRPC address.
func New(addr, collection string) (*VideoIndex, error) {
	if collection == "" {
		collection = DefaultCollection
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &VideoIndex{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewWithClients builds an index over pre-made clients, for tests.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string) *VideoIndex {
	return &VideoIndex{points: points, collections: collections, collection: collection}
}

// Close closes the underlying gRPC connection.
func (v *VideoIndex) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// EnsureCollection creates the cosine-distance collection if missing.
func (v *VideoIndex) EnsureCollection(ctx context.Context, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}
	return nil
}

// pointID derives a stable UUID from the video id, so re-indexing the same
// video overwrites its point instead of duplicating it.
func pointID(videoID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(videoID)).String()
}

// Index upserts one video's summary vector. Records without an embedding are
// skipped silently: the store keeps them, the index just cannot serve them.
func (v *VideoIndex) Index(ctx context.Context, rec domain.VideoRecord) error {
	if !rec.HasEmbedding() {
		return nil
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(rec.VideoID)}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: rec.Embedding}},
			},
			Payload: map[string]*pb.Value{
				"video_id": {Kind: &pb.Value_StringValue{StringValue: rec.VideoID}},
				"title":    {Kind: &pb.Value_StringValue{StringValue: rec.Title}},
				"channel":  {Kind: &pb.Value_StringValue{StringValue: rec.ChannelName}},
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("semantic: index %s: %w", rec.VideoID, err)
	}
	return nil
}

// Remove deletes a video's point, for re-ingestion tooling.
func (v *VideoIndex) Remove(ctx context.Context, videoID string) error {
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(videoID)}}},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: remove %s: %w", videoID, err)
	}
	return nil
}

// Search runs k-NN over the index and returns video ids with their cosine
// scores, best first.
func (v *VideoIndex) Search(ctx context.Context, embedding []float32, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = 10
	}
	resp, err := v.points.Search(ctx, &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	hits := make([]Hit, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		id := r.GetPayload()["video_id"].GetStringValue()
		if id == "" {
			continue
		}
		hits = append(hits, Hit{VideoID: id, Score: r.GetScore()})
	}
	return hits, nil
}
