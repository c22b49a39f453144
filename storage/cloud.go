package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/janelia-flyem/ngshow/ngshow"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/gcsblob"
	"gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
	"gocloud.dev/gcp"
)

// ErrNotFound is returned when a requested object does not exist in a bucket.
var ErrNotFound = errors.New("object not found")

// OpenBucket returns a blob.Bucket for the given reference.
// The reference should be of the form:
//
//	gs://<bucketname>[/<prefix>]
//	s3://<bucketname>[/<prefix>]
//	file:///<path> or a plain local path
//	mem://  (empty in-memory bucket, used for testing)
func OpenBucket(ctx context.Context, ref string) (bucket *blob.Bucket, err error) {
	switch {
	case strings.HasPrefix(ref, "gs://"):
		name, prefix := splitRef(strings.TrimPrefix(ref, "gs://"))
		// See https://cloud.google.com/docs/authentication/production
		// for more info on alternatives.
		creds, err := gcp.DefaultCredentials(ctx)
		if err != nil {
			return nil, err
		}
		client, err := gcp.NewHTTPClient(
			gcp.DefaultTransport(),
			gcp.CredentialsTokenSource(creds))
		if err != nil {
			return nil, err
		}
		bucket, err = gcsblob.OpenBucket(ctx, client, name, nil)
		if err != nil {
			ngshow.Errorf("Can't open bucket reference @ %q: %v\n", ref, err)
			return nil, err
		}
		if prefix != "" {
			bucket = blob.PrefixedBucket(bucket, prefix)
		}

	case strings.HasPrefix(ref, "s3://"):
		// Relies on AWS credentials and AWS_REGION being set up where gocloud can find them.
		name, prefix := splitRef(strings.TrimPrefix(ref, "s3://"))
		bucket, err = blob.OpenBucket(ctx, "s3://"+name)
		if err != nil {
			ngshow.Errorf("Can't open bucket reference @ %q: %v\n", ref, err)
			return nil, err
		}
		if prefix != "" {
			bucket = blob.PrefixedBucket(bucket, prefix)
		}

	case strings.HasPrefix(ref, "mem://"):
		bucket = memblob.OpenBucket(nil)

	default:
		dir := strings.TrimPrefix(ref, "file://")
		if dir, err = filepath.Abs(dir); err != nil {
			return nil, err
		}
		bucket, err = fileblob.OpenBucket(dir, nil)
		if err != nil {
			return nil, fmt.Errorf("can't open directory %q: %v", dir, err)
		}
	}
	return bucket, nil
}

// splitRef separates "bucket/some/prefix" into the bucket name and "some/prefix/".
func splitRef(ref string) (name, prefix string) {
	parts := strings.SplitN(strings.Trim(ref, "/"), "/", 2)
	name = parts[0]
	if len(parts) == 2 && parts[1] != "" {
		prefix = parts[1] + "/"
	}
	return
}

// ReadObject returns the contents of key or ErrNotFound.
func ReadObject(ctx context.Context, bucket *blob.Bucket, key string) ([]byte, error) {
	data, err := bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, err
	}
	return data, nil
}

// ReadJSON decodes the JSON object stored at key into v.
func ReadJSON(ctx context.Context, bucket *blob.Bucket, key string, v interface{}) error {
	data, err := ReadObject(ctx, bucket, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("bad JSON in %q: %v", key, err)
	}
	return nil
}

// RangeRead returns size bytes of key starting at offset.  It returns nil, nil if the
// key does not exist.
func RangeRead(ctx context.Context, bucket *blob.Bucket, key string, offset, size uint64) ([]byte, error) {
	timedLog := ngshow.NewTimeLog()
	r, err := bucket.NewRangeReader(ctx, key, int64(offset), int64(size), nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, nil
		}
		return nil, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	timedLog.Debugf("Range read of object %q, offset %d, size %d", key, offset, size)
	return data, nil
}

// ListDirs returns the names of the immediate subdirectories of prefix, which should be
// empty or end in "/".
func ListDirs(ctx context.Context, bucket *blob.Bucket, prefix string) ([]string, error) {
	iter := bucket.List(&blob.ListOptions{Prefix: prefix, Delimiter: "/"})
	var dirs []string
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if obj.IsDir {
			dirs = append(dirs, strings.TrimSuffix(strings.TrimPrefix(obj.Key, prefix), "/"))
		}
	}
	return dirs, nil
}

// IsNotFound returns true if err signals a missing object.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || gcerrors.Code(err) == gcerrors.NotFound
}
