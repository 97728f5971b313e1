package s3

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awsS3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phil-mansfield/linkage/store"
)

// mockRoundTripper serves a single path-style bucket out of a map.
type mockRoundTripper struct {
	mu    sync.Mutex
	state map[string][]byte
}

func response(code int, body []byte, hd http.Header) *http.Response {
	if hd == nil {
		hd = http.Header{}
	}
	return &http.Response{
		StatusCode:    code,
		Body:          ioutil.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Header:        hd,
	}
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}

	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		prefix := req.URL.Query().Get("prefix")
		var keys []string
		for k := range m.state {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)

		b := &strings.Builder{}
		b.WriteString(`<?xml version="1.0"?><ListBucketResult>`)
		b.WriteString("<IsTruncated>false</IsTruncated>")
		for _, k := range keys {
			fmt.Fprintf(b, "<Contents><Key>%s</Key><Size>%d</Size>"+
				"<LastModified>2024-01-01T00:00:00Z</LastModified></Contents>",
				k, len(m.state[k]))
		}
		b.WriteString("</ListBucketResult>")
		return response(http.StatusOK, []byte(b.String()),
			http.Header{"Content-Type": {"application/xml"}}), nil
	}

	switch req.Method {
	case http.MethodPut:
		body, err := ioutil.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
			if body, err = decodeChunked(body); err != nil {
				return nil, err
			}
		}
		m.state[key] = body
		return response(http.StatusOK, nil, http.Header{"ETag": {`"etag"`}}), nil
	case http.MethodGet:
		if body, ok := m.state[key]; ok {
			return response(http.StatusOK, body, http.Header{
				"Content-Length": {strconv.Itoa(len(body))},
				"ETag":           {`"etag"`},
			}), nil
		}
		return response(http.StatusNotFound, nil, nil), nil
	case http.MethodDelete:
		delete(m.state, key)
		return response(http.StatusNoContent, nil, nil), nil
	}
	return response(http.StatusNotImplemented, nil, nil), nil
}

// decodeChunked strips aws-chunked framing: hex length lines, each followed
// by that many bytes, ending at a zero-length chunk.
func decodeChunked(b []byte) ([]byte, error) {
	r := bufio.NewReader(bytes.NewReader(b))
	out := &bytes.Buffer{}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = line[:i]
		}
		n, err := strconv.ParseInt(line, 16, 64)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return out.Bytes(), nil
		}
		if _, err := io.CopyN(out, r, n); err != nil {
			return nil, err
		}
		if _, err := r.ReadString('\n'); err != nil {
			return nil, err
		}
	}
}

func newMockStore(t *testing.T) (*Store, *mockRoundTripper) {
	rt := &mockRoundTripper{state: map[string][]byte{}}
	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("AKIA", "SECRET", ""),
		),
	)
	require.NoError(t, err)
	client := awsS3.NewFromConfig(cfg, func(o *awsS3.Options) {
		o.HTTPClient = &http.Client{Transport: rt}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
	})
	return NewWithClient(client, "snapshots"), rt
}

func TestS3RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, rt := newMockStore(t)

	data := []byte{0, 1, '\r', '\n', 0xff, 7}
	require.NoError(t, s.Put(ctx, "run/3/piece-1", data))
	assert.Equal(t, data, rt.state["run/3/piece-1"])

	got, err := s.Get(ctx, "run/3/piece-1")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = s.Get(ctx, "run/3/piece-2")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestS3ListDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := newMockStore(t)

	for _, key := range []string{"r/2/b", "r/1/a", "r/2/a"} {
		require.NoError(t, s.Put(ctx, key, []byte(key)))
	}
	keys, err := s.List(ctx, "r/2/")
	require.NoError(t, err)
	assert.Equal(t, []string{"r/2/a", "r/2/b"}, keys)

	require.NoError(t, store.DeletePrefix(ctx, s, "r/2/"))
	keys, err = s.List(ctx, "r/")
	require.NoError(t, err)
	assert.Equal(t, []string{"r/1/a"}, keys)
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}
