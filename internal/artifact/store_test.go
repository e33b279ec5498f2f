package artifact

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
)

func TestLocalStorePut(t *testing.T) {
	root := t.TempDir()
	s := NewLocalStore(root)
	uri, err := s.Put(context.Background(), "reports/r1.json", []byte(`{"ok":true}`))
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if !strings.HasPrefix(uri, "file://") || !strings.HasSuffix(uri, "reports/r1.json") {
		t.Fatalf("unexpected uri %q", uri)
	}
	b, err := os.ReadFile(filepath.Join(root, "reports", "r1.json"))
	if err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	if string(b) != `{"ok":true}` {
		t.Fatalf("unexpected content %q", b)
	}
}

func TestLocalStoreRejectsEscapes(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	for _, name := range []string{"", "../etc/passwd", "a/../../b", "/"} {
		if _, err := s.Put(context.Background(), name, []byte("x")); err == nil {
			t.Fatalf("expected error for %q", name)
		}
	}
}

func TestNewSelectsBackend(t *testing.T) {
	st, err := New(Config{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("local backend failed: %v", err)
	}
	if _, ok := st.(*LocalStore); !ok {
		t.Fatalf("expected local store, got %T", st)
	}
	if _, err := New(Config{Backend: "minio"}); err == nil {
		t.Fatalf("expected error for minio without endpoint")
	}
	st, err = New(Config{Backend: "minio", MinIOEndpoint: "localhost:9000", MinIOAccessKey: "a", MinIOSecretKey: "b"})
	if err != nil {
		t.Fatalf("minio store construction failed: %v", err)
	}
	if m, ok := st.(*MinIOStore); !ok || m.bucket != "pilot-artifacts" {
		t.Fatalf("unexpected store %#v", st)
	}
	if _, err := New(Config{Backend: "gcs"}); err == nil {
		t.Fatalf("expected unsupported backend error")
	}
}

func TestContentType(t *testing.T) {
	if contentType("a/b.JSON") != "application/json" || contentType("x.bin") != "application/octet-stream" {
		t.Fatalf("unexpected content types")
	}
}

type fakeBucket struct {
	mu       sync.Mutex
	exists   bool
	checks   int
	makes    int
	objects  map[string][]byte
	checkErr error
}

func (f *fakeBucket) BucketExists(ctx context.Context, bucket string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if f.checkErr != nil {
		return false, f.checkErr
	}
	return f.exists, nil
}

func (f *fakeBucket) MakeBucket(_ context.Context, _ string, _ minio.MakeBucketOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.makes++
	f.exists = true
	return nil
}

func (f *fakeBucket) PutObject(ctx context.Context, _, object string, r io.Reader, _ int64, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	if err := ctx.Err(); err != nil {
		return minio.UploadInfo{}, err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[object] = b
	return minio.UploadInfo{Key: object, Size: int64(len(b))}, nil
}

func TestMinIOStoreRetriesFailedBucketCheck(t *testing.T) {
	fake := &fakeBucket{}
	s := &MinIOStore{client: fake, bucket: "pilot-artifacts"}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Put(cancelled, "reports/a.json", []byte("{}")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled put, got %v", err)
	}

	fake.checkErr = errors.New("connection refused")
	if _, err := s.Put(context.Background(), "reports/a.json", []byte("{}")); err == nil {
		t.Fatalf("expected transient bucket error")
	}

	fake.checkErr = nil
	uri, err := s.Put(context.Background(), "reports/a.json", []byte(`{"n":1}`))
	if err != nil {
		t.Fatalf("put after recovery failed: %v", err)
	}
	if uri != "s3://pilot-artifacts/reports/a.json" || string(fake.objects["reports/a.json"]) != `{"n":1}` {
		t.Fatalf("unexpected upload uri=%q objects=%v", uri, fake.objects)
	}
	if fake.makes != 1 {
		t.Fatalf("expected bucket created once, got %d", fake.makes)
	}

	checks := fake.checks
	if _, err := s.Put(context.Background(), "reports/b.json", []byte("{}")); err != nil {
		t.Fatalf("second put failed: %v", err)
	}
	if fake.checks != checks {
		t.Fatalf("bucket rechecked after success: %d -> %d", checks, fake.checks)
	}
}
