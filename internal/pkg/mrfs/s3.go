package mrfs

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/mattetti/filebuffer"
	log "github.com/sirupsen/logrus"
)

// readChunkSize is the size of the ranged GETs issued by S3 readers
const readChunkSize = 64 * 1024 * 1024

// S3FileSystem is a FileSystem backed by AWS S3. Paths are s3://bucket/key URIs.
type S3FileSystem struct {
	client s3iface.S3API
}

func parseS3URI(uri string) (bucket, key string, err error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", "", err
	}
	if parsed.Scheme != "s3" {
		return "", "", fmt.Errorf("invalid s3 uri %q", uri)
	}
	return parsed.Host, strings.TrimPrefix(parsed.Path, "/"), nil
}

func s3URI(bucket, key string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, key)
}

// ListFiles lists objects matching pathGlob. Objects are listed by the
// literal prefix of the glob and filtered with path.Match.
func (s *S3FileSystem) ListFiles(pathGlob string) ([]FileInfo, error) {
	bucket, keyGlob, err := parseS3URI(pathGlob)
	if err != nil {
		return nil, err
	}

	prefix := keyGlob
	hasMeta := false
	if i := strings.IndexAny(keyGlob, "*?["); i >= 0 {
		prefix = keyGlob[:i]
		hasMeta = true
	}

	files := make([]FileInfo, 0)
	var matchErr error
	params := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}
	err = s.client.ListObjectsV2Pages(params,
		func(page *s3.ListObjectsV2Output, _ bool) bool {
			for _, object := range page.Contents {
				key := aws.StringValue(object.Key)
				if hasMeta {
					ok, err := path.Match(keyGlob, key)
					if err != nil {
						matchErr = err
						return false
					}
					if !ok {
						continue
					}
				}
				files = append(files, FileInfo{
					Name: s3URI(bucket, key),
					Size: aws.Int64Value(object.Size),
				})
			}
			return true
		})
	if matchErr != nil {
		return nil, matchErr
	}

	return files, err
}

func (s *S3FileSystem) OpenReader(filePath string, startAt int64) (io.ReadCloser, error) {
	bucket, key, err := parseS3URI(filePath)
	if err != nil {
		return nil, err
	}
	fInfo, err := s.Stat(filePath)
	if err != nil {
		return nil, err
	}

	return &s3Reader{
		client:    s.client,
		bucket:    bucket,
		key:       key,
		offset:    startAt,
		chunkSize: readChunkSize,
		totalSize: fInfo.Size,
	}, nil
}

// OpenWriter buffers writes in memory and uploads the object on Close
func (s *S3FileSystem) OpenWriter(filePath string) (io.WriteCloser, error) {
	bucket, key, err := parseS3URI(filePath)
	if err != nil {
		return nil, err
	}
	return &s3Writer{
		client: s.client,
		bucket: bucket,
		key:    key,
		buf:    filebuffer.New(nil),
	}, nil
}

func (s *S3FileSystem) Stat(filePath string) (FileInfo, error) {
	bucket, key, err := parseS3URI(filePath)
	if err != nil {
		return FileInfo{}, err
	}

	head, err := s.client.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return FileInfo{}, err
	}

	return FileInfo{
		Name: filePath,
		Size: aws.Int64Value(head.ContentLength),
	}, nil
}

// Delete removes the object at filePath. Deleting a missing object is not an error.
func (s *S3FileSystem) Delete(filePath string) error {
	bucket, key, err := parseS3URI(filePath)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	return err
}

func (s *S3FileSystem) Join(elem ...string) string {
	stripped := make([]string, 0, len(elem))
	for _, e := range elem {
		stripped = append(stripped, strings.Trim(e, "/"))
	}
	return strings.Join(stripped, "/")
}

func (s *S3FileSystem) Init() error {
	if s.client != nil {
		return nil
	}

	os.Setenv("AWS_SDK_LOAD_CONFIG", "true")
	sess, err := session.NewSession()
	if err != nil {
		return err
	}
	s.client = s3.New(sess)
	log.Debug("Initialized S3 filesystem")
	return nil
}
