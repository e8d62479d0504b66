package awstrail

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// mockS3 serves a fixed key space with delimiter-aware listing.
type mockS3 struct {
	objects map[string][]byte
	// listErr, when set, fails every ListObjectsV2 call.
	listErr error
}

func (m *mockS3) ListObjectsV2(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}

	prefix := aws.ToString(params.Prefix)
	delimiter := aws.ToString(params.Delimiter)

	out := &s3.ListObjectsV2Output{}
	seen := map[string]bool{}

	var keys []string
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		rest := key[len(prefix):]
		if delimiter != "" {
			if i := strings.Index(rest, delimiter); i >= 0 {
				cp := prefix + rest[:i+1]
				if !seen[cp] {
					seen[cp] = true
					out.CommonPrefixes = append(out.CommonPrefixes, s3types.CommonPrefix{Prefix: aws.String(cp)})
				}
				continue
			}
		}
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(key)})
	}

	return out, nil
}

func (m *mockS3) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	key := aws.ToString(params.Key)
	data, ok := m.objects[key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func gzipped(t *testing.T, data string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write([]byte(data)); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestCollector_Collect(t *testing.T) {
	day := "2024/01/15"
	mock := &mockS3{objects: map[string][]byte{
		"AWSLogs/123/CloudTrail/us-east-1/" + day + "/a.json.gz": gzipped(t,
			`{"Records": [{"eventID": "1"}, {"eventID": "2"}]}`),
		"AWSLogs/123/CloudTrail/us-east-1/" + day + "/b.json.gz": gzipped(t,
			`{"Records": [{"eventID": "3"}]}`),
		"AWSLogs/123/CloudTrail/us-east-1/" + day + "/ignore.txt": []byte("not a log"),
	}}

	collector := NewCollector(mock, "us-east-1", 0)

	var got []RawRecord
	err := collector.Collect(context.Background(), CollectRequest{
		Bucket:  "trail-bucket",
		Prefix:  "AWSLogs/123/CloudTrail/",
		Regions: []string{"us-east-1"},
		Start:   time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC),
		End:     time.Date(2024, 1, 15, 20, 0, 0, 0, time.UTC),
	}, func(batch []RawRecord) error {
		got = append(got, batch...)
		return nil
	})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("collected %d records, want 3", len(got))
	}
	for _, rec := range got {
		if rec.Region != "us-east-1" {
			t.Errorf("Region = %q, want us-east-1", rec.Region)
		}
		if rec.FileName == "" || strings.Contains(rec.FileName, "/") {
			t.Errorf("FileName = %q, want bare file name", rec.FileName)
		}
	}
}

func TestCollector_Collect_DiscoversRegions(t *testing.T) {
	day := "2024/01/15"
	mock := &mockS3{objects: map[string][]byte{
		"CloudTrail/us-east-1/" + day + "/a.json.gz": gzipped(t, `{"Records": [{"eventID": "1"}]}`),
		"CloudTrail/eu-west-1/" + day + "/b.json.gz": gzipped(t, `{"Records": [{"eventID": "2"}]}`),
		"CloudTrail/O-123456/" + day + "/c.json.gz":  gzipped(t, `{"Records": [{"eventID": "3"}]}`),
	}}

	collector := NewCollector(mock, "us-east-1", 0)

	regions := map[string]int{}
	err := collector.Collect(context.Background(), CollectRequest{
		Bucket: "trail-bucket",
		Prefix: "CloudTrail/",
		Start:  time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
	}, func(batch []RawRecord) error {
		for _, rec := range batch {
			regions[rec.Region]++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	if regions["us-east-1"] != 1 || regions["eu-west-1"] != 1 {
		t.Errorf("regions = %v, want one record each from us-east-1 and eu-west-1", regions)
	}
	if _, ok := regions["O-123456"]; ok {
		t.Error("organization folder should not be treated as a region")
	}
}

func TestCollector_Collect_BatchFlush(t *testing.T) {
	day := "2024/01/15"
	mock := &mockS3{objects: map[string][]byte{
		"p/us-east-1/" + day + "/a.json.gz": gzipped(t,
			`{"Records": [{"eventID": "1"}, {"eventID": "2"}, {"eventID": "3"}]}`),
	}}

	collector := NewCollector(mock, "us-east-1", 2)

	var sizes []int
	err := collector.Collect(context.Background(), CollectRequest{
		Bucket:  "trail-bucket",
		Prefix:  "p/",
		Regions: []string{"us-east-1"},
		Start:   time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		End:     time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
	}, func(batch []RawRecord) error {
		sizes = append(sizes, len(batch))
		return nil
	})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	if len(sizes) != 2 || sizes[0] != 2 || sizes[1] != 1 {
		t.Errorf("batch sizes = %v, want [2 1]", sizes)
	}
}

func TestCollector_Collect_SkipsCorruptFiles(t *testing.T) {
	day := "2024/01/15"
	mock := &mockS3{objects: map[string][]byte{
		"p/us-east-1/" + day + "/bad.json.gz":  []byte("not gzip data"),
		"p/us-east-1/" + day + "/good.json.gz": gzipped(t, `{"Records": [{"eventID": "1"}]}`),
	}}

	collector := NewCollector(mock, "us-east-1", 0)

	var got []RawRecord
	err := collector.Collect(context.Background(), CollectRequest{
		Bucket:  "trail-bucket",
		Prefix:  "p/",
		Regions: []string{"us-east-1"},
		Start:   time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		End:     time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
	}, func(batch []RawRecord) error {
		got = append(got, batch...)
		return nil
	})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	if len(got) != 1 {
		t.Errorf("collected %d records, want 1 from the readable file", len(got))
	}
}

func TestCollector_Collect_SavesRawCopies(t *testing.T) {
	day := "2024/01/15"
	mock := &mockS3{objects: map[string][]byte{
		"p/us-east-1/" + day + "/trail.json.gz": gzipped(t, `{"Records": [{"eventID": "1"}]}`),
	}}

	collector := NewCollector(mock, "us-east-1", 0)
	dir := t.TempDir()

	err := collector.Collect(context.Background(), CollectRequest{
		Bucket:     "trail-bucket",
		Prefix:     "p/",
		Regions:    []string{"us-east-1"},
		Start:      time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		End:        time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		SaveRawDir: dir,
	}, func([]RawRecord) error { return nil })
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	saved := filepath.Join(dir, "us-east-1", "2024-01-15", "trail.json")
	data, err := os.ReadFile(saved)
	if err != nil {
		t.Fatalf("expected raw copy at %s: %v", saved, err)
	}
	if !strings.Contains(string(data), `"eventID": "1"`) {
		t.Error("raw copy should hold the decompressed log")
	}
}

func TestDiscoverBucket(t *testing.T) {
	day := "2024/01/15"
	mock := &mockS3{objects: map[string][]byte{
		"AWSLogs/123456789012/CloudTrail/us-east-1/" + day + "/a.json.gz": {},
		"AWSLogs/123456789012/CloudTrail/eu-west-1/" + day + "/b.json.gz": {},
		"AWSLogs/123456789012/Config/us-east-1/snapshot.json":             {},
		"backups/db.sql":                                                  {},
	}}

	collector := NewCollector(mock, "us-east-1", 0)
	structure, err := collector.DiscoverBucket(context.Background(), "trail-bucket", "")
	if err != nil {
		t.Fatalf("DiscoverBucket() error = %v", err)
	}

	base := structure.BasePrefix()
	if base != "AWSLogs/123456789012/CloudTrail/" {
		t.Errorf("BasePrefix() = %q, want the CloudTrail folder", base)
	}

	for _, p := range structure.CloudTrailPaths {
		if strings.Contains(p, "Config") {
			t.Errorf("non-trail service path %q should not be listed", p)
		}
	}
}

func TestDiscoverBucket_AccountFilter(t *testing.T) {
	day := "2024/01/15"
	mock := &mockS3{objects: map[string][]byte{
		"AWSLogs/111111111111/CloudTrail/us-east-1/" + day + "/a.json.gz": {},
		"AWSLogs/222222222222/CloudTrail/us-east-1/" + day + "/b.json.gz": {},
	}}

	collector := NewCollector(mock, "us-east-1", 0)
	structure, err := collector.DiscoverBucket(context.Background(), "org-bucket", "222222222222")
	if err != nil {
		t.Fatalf("DiscoverBucket() error = %v", err)
	}

	if base := structure.BasePrefix(); base != "AWSLogs/222222222222/CloudTrail/" {
		t.Errorf("BasePrefix() = %q, want the resolved account's folder", base)
	}
	for _, p := range structure.CloudTrailPaths {
		if strings.Contains(p, "111111111111") {
			t.Errorf("other account's path %q should not be listed", p)
		}
	}
}

func TestDiscoverBucket_LowercaseFallback(t *testing.T) {
	mock := &mockS3{objects: map[string][]byte{
		"cloudtrail-archive/us-east-1/2024/01/15/a.json.gz": {},
		"misc/readme.txt": {},
	}}

	collector := NewCollector(mock, "us-east-1", 0)
	structure, err := collector.DiscoverBucket(context.Background(), "other-bucket", "")
	if err != nil {
		t.Fatalf("DiscoverBucket() error = %v", err)
	}

	if structure.BasePrefix() != "cloudtrail-archive/" {
		t.Errorf("BasePrefix() = %q, want cloudtrail-archive/", structure.BasePrefix())
	}
}

func TestCollectLocal(t *testing.T) {
	dir := t.TempDir()

	write := func(name string, data []byte) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	write("123456789012_CloudTrail_us-east-1_20240115T1030Z.json.gz",
		gzipped(t, `{"Records": [{"eventID": "1"}, {"eventID": "2"}]}`))
	write("single-event.json",
		[]byte(`{"eventVersion": "1.08", "eventID": "3", "eventName": "ConsoleLogin"}`))
	write("notes.txt", []byte("not a log"))
	write("broken.json", []byte("{"))

	collector := NewCollector(nil, "us-east-1", 0)

	var got []RawRecord
	err := collector.CollectLocal(context.Background(), LocalRequest{Dir: dir}, func(batch []RawRecord) error {
		got = append(got, batch...)
		return nil
	})
	if err != nil {
		t.Fatalf("CollectLocal() error = %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("collected %d records, want 3", len(got))
	}

	regions := map[string]bool{}
	for _, rec := range got {
		regions[rec.Region] = true
	}
	if !regions["us-east-1"] {
		t.Error("region should be guessed from the trail file name")
	}
}

func TestCollectLocal_Recursive(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "us-east-1", "2024-01-15")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "a.json"),
		[]byte(`{"Records": [{"eventID": "1"}]}`), 0o644); err != nil {
		t.Fatal(err)
	}

	collector := NewCollector(nil, "us-east-1", 0)

	total := 0
	err := collector.CollectLocal(context.Background(), LocalRequest{Dir: dir, Recursive: true}, func(batch []RawRecord) error {
		total += len(batch)
		return nil
	})
	if err != nil {
		t.Fatalf("CollectLocal() error = %v", err)
	}

	if total != 1 {
		t.Errorf("collected %d records, want 1 from the nested file", total)
	}

	total = 0
	err = collector.CollectLocal(context.Background(), LocalRequest{Dir: dir}, func(batch []RawRecord) error {
		total += len(batch)
		return nil
	})
	if err != nil {
		t.Fatalf("CollectLocal() error = %v", err)
	}
	if total != 0 {
		t.Errorf("non-recursive run collected %d records, want 0", total)
	}
}

func TestCollectLocal_NotADirectory(t *testing.T) {
	collector := NewCollector(nil, "us-east-1", 0)

	err := collector.CollectLocal(context.Background(), LocalRequest{Dir: "/does/not/exist"}, func([]RawRecord) error {
		t.Fatal("callback should not fire")
		return nil
	})
	if err == nil {
		t.Error("CollectLocal() should fail for a missing directory")
	}
}

func TestSplitLocalRecords(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    int
		wantErr bool
	}{
		{"records document", `{"Records": [{"a": 1}, {"b": 2}]}`, 2, false},
		{"bare event", `{"eventVersion": "1.08", "eventName": "X"}`, 1, false},
		{"empty records", `{"Records": []}`, 0, false},
		{"unrecognized shape", `{"foo": "bar"}`, 0, true},
		{"not json", `nope`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := splitLocalRecords([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("splitLocalRecords() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(records) != tt.want {
				t.Errorf("got %d records, want %d", len(records), tt.want)
			}
		})
	}
}

func TestRegionFromFileName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"123456789012_CloudTrail_us-east-1_20240115T1030Z_abc.json.gz", "us-east-1"},
		{"123456789012_CloudTrail_eu-west-2_20240115T1030Z.json", "eu-west-2"},
		{"export.json", ""},
	}

	for _, tt := range tests {
		if got := regionFromFileName(tt.name); got != tt.want {
			t.Errorf("regionFromFileName(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}
