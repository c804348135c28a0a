// Package objectstore archives exported reports in Google Cloud Storage.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/boddenberg/cashflow-bfa-go/internal/domain"

	"cloud.google.com/go/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

var tracer = otel.Tracer("objectstore")

// uploadTimeout bounds a single object write.
const uploadTimeout = 2 * time.Minute

// GCSSink stores objects under a prefix of one bucket.
type GCSSink struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSSink creates a storage client. With an empty credentialsFile it uses
// Application Default Credentials.
func NewGCSSink(ctx context.Context, bucket, prefix, credentialsFile string) (*GCSSink, error) {
	if bucket == "" {
		return nil, errors.New("objectstore: bucket is required")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSSink{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

// Put writes data to <prefix>/<name> and returns its gs:// URI.
func (s *GCSSink) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	ctx, span := tracer.Start(ctx, "GCSSink.Put")
	defer span.End()

	objectName := s.objectName(name)
	span.SetAttributes(attribute.String("gcs.object", objectName), attribute.Int("gcs.size", len(data)))

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", &domain.ErrExternalService{Service: "gcs", Err: fmt.Errorf("write %s: %w", objectName, err)}
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return "", &domain.ErrExternalService{Service: "gcs", Err: fmt.Errorf("finalize %s: %w", objectName, err)}
	}
	return URI(s.bucket, objectName), nil
}

// List returns the archived objects, newest first.
func (s *GCSSink) List(ctx context.Context) ([]domain.ExportObject, error) {
	ctx, span := tracer.Start(ctx, "GCSSink.List")
	defer span.End()

	q := &storage.Query{}
	if s.prefix != "" {
		q.Prefix = s.prefix + "/"
	}
	it := s.client.Bucket(s.bucket).Objects(ctx, q)

	var out []domain.ExportObject
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, &domain.ErrExternalService{Service: "gcs", Err: err}
		}
		out = append(out, domain.ExportObject{
			Name:      path.Base(attrs.Name),
			URI:       URI(s.bucket, attrs.Name),
			Size:      attrs.Size,
			CreatedAt: attrs.Created,
		})
	}
	sortNewestFirst(out)
	return out, nil
}

// Close releases the storage client.
func (s *GCSSink) Close() error {
	return s.client.Close()
}

func (s *GCSSink) objectName(name string) string {
	name = strings.TrimLeft(name, "/")
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

// URI formats a gs:// URI.
func URI(bucket, object string) string {
	return "gs://" + bucket + "/" + object
}

// ParseURI splits a gs:// URI into bucket and object name.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

func sortNewestFirst(objs []domain.ExportObject) {
	sort.Slice(objs, func(i, j int) bool { return objs[i].CreatedAt.After(objs[j].CreatedAt) })
}
