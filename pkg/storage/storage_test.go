package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redhat-et/obo-delegation-demo/pkg/config"
)

func TestMockStorage_CRUD(t *testing.T) {
	ctx := context.Background()
	m := NewEmptyMockStorage()

	_, err := m.GetRecord(ctx, "carol")
	assert.True(t, IsNotFound(err))

	require.NoError(t, m.PutRecord(ctx, &SecureRecord{Subject: "carol", AccountBalance: "$1.00", CreditScore: 600}))
	got, err := m.GetRecord(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, "$1.00", got.AccountBalance)

	got.AccountBalance = "mutated"
	again, _ := m.GetRecord(ctx, "carol")
	assert.Equal(t, "$1.00", again.AccountBalance, "callers get a copy")

	require.NoError(t, m.DeleteRecord(ctx, "carol"))
	assert.True(t, IsNotFound(m.DeleteRecord(ctx, "carol")))
	assert.Error(t, m.PutRecord(ctx, &SecureRecord{}))
}

func TestLookupFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	m := NewMockStorage()

	rec, err := Lookup(ctx, m, "unknown-subject")
	require.NoError(t, err)
	assert.Equal(t, DefaultRecord(), rec)

	rec, err = Lookup(ctx, m, "alice")
	require.NoError(t, err)
	assert.Equal(t, 802, rec.CreditScore)
}

// objectStore is the fake bucket's contents
type objectStore struct {
	mu      sync.Mutex
	objects map[string]string
}

func (o *objectStore) get(key string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.objects[key]
	return v, ok
}

func (o *objectStore) put(key, v string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[key] = v
}

func (o *objectStore) keys() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var keys []string
	for k := range o.objects {
		keys = append(keys, k)
	}
	return keys
}

func listResult(keys []string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult><Name>secure-data</Name>`)
	fmt.Fprintf(&b, "<KeyCount>%d</KeyCount>", len(keys))
	for _, k := range keys {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key></Contents>", k)
	}
	b.WriteString("</ListBucketResult>")
	return b.String()
}

// fakeS3 serves path-style object requests for a single bucket
func fakeS3(t *testing.T, store *objectStore) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.EscapedPath(), "/secure-data/")
		key, _ = url.PathUnescape(key)
		switch r.Method {
		case http.MethodGet:
			if r.URL.Query().Get("list-type") == "2" {
				w.Header().Set("Content-Type", "application/xml")
				io.WriteString(w, listResult(store.keys()))
				return
			}
			body, ok := store.get(key)
			if !ok {
				w.Header().Set("Content-Type", "application/xml")
				w.WriteHeader(http.StatusNotFound)
				io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			io.WriteString(w, body)
		case http.MethodPut:
			io.Copy(io.Discard, r.Body)
			store.put(key, "stored")
			w.WriteHeader(http.StatusOK)
		case http.MethodHead:
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestS3Storage(t *testing.T, srv *httptest.Server) *S3Storage {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	s, err := NewS3Storage(context.Background(), config.StorageConfig{
		BucketHost:      u.Hostname(),
		BucketPort:      port,
		BucketName:      "secure-data",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	require.NoError(t, err)
	return s
}

func TestS3Storage_GetRecord(t *testing.T) {
	store := &objectStore{objects: map[string]string{
		"records/alice.json": `{"account_balance":"$25,340.12","ssn_last_four":"4821","credit_score":802}`,
	}}
	s := newTestS3Storage(t, fakeS3(t, store))
	ctx := context.Background()

	rec, err := s.GetRecord(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Subject)
	assert.Equal(t, 802, rec.CreditScore)

	_, err = s.GetRecord(ctx, "nobody")
	assert.True(t, IsNotFound(err), "got %v", err)

	rec, err = Lookup(ctx, s, "nobody")
	require.NoError(t, err)
	assert.Equal(t, "1234", rec.SSNLastFour)
}

func TestS3Storage_PutAndPing(t *testing.T) {
	store := &objectStore{objects: map[string]string{}}
	s := newTestS3Storage(t, fakeS3(t, store))
	ctx := context.Background()

	require.NoError(t, s.PutRecord(ctx, &SecureRecord{Subject: "bob", CreditScore: 688}))
	_, ok := store.get("records/bob.json")
	assert.True(t, ok)
	assert.NoError(t, s.Ping(ctx))
}

func TestS3Storage_IsEmpty(t *testing.T) {
	store := &objectStore{objects: map[string]string{}}
	s := newTestS3Storage(t, fakeS3(t, store))
	ctx := context.Background()

	empty, err := s.IsEmpty(ctx)
	require.NoError(t, err)
	assert.True(t, empty)

	require.NoError(t, s.PutRecord(ctx, SampleRecords()[0]))
	empty, err = s.IsEmpty(ctx)
	require.NoError(t, err)
	assert.False(t, empty)
}

func TestRecordKeyEscapesSubject(t *testing.T) {
	assert.Equal(t, "records/a%2Fb.json", recordKey("a/b"))
}
