package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/oklog/ulid/v2"

	"github.com/kartikbazzad/bunbase/collab/internal/filetree"
	apperrors "github.com/kartikbazzad/bunbase/collab/pkg/errors"
)

// ErrDisabled is returned when storage is not configured.
var ErrDisabled = errors.New("snapshot storage not configured")

// Config holds MinIO connection settings.
type Config struct {
	Endpoint        string // e.g. "minio:9000" or "localhost:9000"
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
	URLExpiry       time.Duration
}

// Snapshot is one stored copy of a project's file tree.
type Snapshot struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	URL       string    `json:"url,omitempty"`
}

// Snapshots stores file tree snapshots as JSON objects under
// projects/<projectID>/ in one bucket.
type Snapshots struct {
	mc      *minio.Client
	bucket  string
	expiry  time.Duration
	enabled bool
}

// NewSnapshots creates a snapshot store. An empty Endpoint gives a
// disabled store whose operations return ErrDisabled.
func NewSnapshots(cfg Config) (*Snapshots, error) {
	if cfg.Endpoint == "" {
		return &Snapshots{enabled: false}, nil
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = time.Hour
	}
	return &Snapshots{mc: mc, bucket: cfg.Bucket, expiry: cfg.URLExpiry, enabled: true}, nil
}

// Enabled reports whether the store is configured.
func (s *Snapshots) Enabled() bool {
	return s.enabled
}

func projectPrefix(projectID string) string {
	return "projects/" + strings.ToLower(projectID) + "/"
}

// SnapshotKey returns a new, time-ordered object key for projectID.
func SnapshotKey(projectID string) string {
	return projectPrefix(projectID) + ulid.Make().String() + ".json"
}

// ensureBucket creates the bucket if it does not exist (idempotent).
func (s *Snapshots) ensureBucket(ctx context.Context) error {
	exists, err := s.mc.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.mc.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
}

// Save uploads tree and returns the snapshot with a presigned download URL.
func (s *Snapshots) Save(ctx context.Context, projectID string, tree filetree.Tree) (*Snapshot, error) {
	if !s.enabled {
		return nil, ErrDisabled
	}
	data, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("failed to encode file tree: %w", err)
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket: %w", err)
	}

	key := SnapshotKey(projectID)
	info, err := s.mc.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return nil, fmt.Errorf("failed to upload snapshot: %w", err)
	}

	u, err := s.mc.PresignedGetObject(ctx, s.bucket, key, s.expiry, url.Values{})
	if err != nil {
		return nil, fmt.Errorf("failed to presign snapshot: %w", err)
	}
	return &Snapshot{Key: key, Size: info.Size, CreatedAt: time.Now().UTC(), URL: u.String()}, nil
}

// List returns the project's snapshots, newest first.
func (s *Snapshots) List(ctx context.Context, projectID string) ([]Snapshot, error) {
	if !s.enabled {
		return nil, ErrDisabled
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	ch := s.mc.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: projectPrefix(projectID), Recursive: true})
	out := []Snapshot{}
	for obj := range ch {
		if obj.Err != nil {
			return nil, obj.Err
		}
		out = append(out, Snapshot{Key: obj.Key, Size: obj.Size, CreatedAt: obj.LastModified})
	}
	// ULID keys sort by creation time.
	sort.Slice(out, func(i, j int) bool { return path.Base(out[i].Key) > path.Base(out[j].Key) })
	return out, nil
}

// Load downloads and decodes a snapshot. key must belong to projectID.
func (s *Snapshots) Load(ctx context.Context, projectID, key string) (filetree.Tree, error) {
	if !s.enabled {
		return nil, ErrDisabled
	}
	if !strings.HasPrefix(key, projectPrefix(projectID)) {
		return nil, apperrors.Validation("snapshot does not belong to this project")
	}
	obj, err := s.mc.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, objectError(err)
	}
	defer obj.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(obj); err != nil {
		return nil, objectError(err)
	}
	tree, err := filetree.Parse(buf.Bytes())
	if err != nil {
		return nil, apperrors.Validation("snapshot is not a valid file tree")
	}
	return tree, nil
}

func objectError(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return apperrors.NotFound("snapshot not found")
	}
	return apperrors.Store("failed to read snapshot", err)
}
