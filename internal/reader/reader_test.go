package reader

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceKey(t *testing.T) {
	tests := []struct {
		name string
		src  Source
		want string
	}{
		{name: "pdf", src: FileSource("report.pdf", nil), want: "report"},
		{name: "first dot wins", src: FileSource("q3.final.pdf", nil), want: "q3"},
		{name: "path stripped", src: FileSource("/tmp/up/paper.pdf", nil), want: "paper"},
		{name: "no extension", src: FileSource("notes", nil), want: "notes"},
		{name: "url kept raw", src: URLSource("http://x.test/a?b=1"), want: "http://x.test/a?b=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.src.Key())
		})
	}
}

func TestChunk(t *testing.T) {
	assert.Nil(t, Chunk("", 4, 1))
	assert.Equal(t, []string{"abcd"}, Chunk("abcd", 4, 1))
	assert.Equal(t, []string{"abcd", "defg", "gh"}, Chunk("abcdefgh", 4, 1))
	assert.Equal(t, []string{"日本語", "語です"}, Chunk("日本語です", 3, 1))
}

func TestPDFReaderRejectsGarbage(t *testing.T) {
	r := &PDFReader{ChunkSize: 100}
	_, err := r.Read(context.Background(), FileSource("a.pdf", strings.NewReader("not a pdf")))
	assert.Error(t, err)
}

func TestPDFReaderEmptyUploadYieldsNothing(t *testing.T) {
	r := &PDFReader{ChunkSize: 100}
	docs, err := r.Read(context.Background(), FileSource("a.pdf", strings.NewReader("")))
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestPDFReaderEnforcesSizeLimit(t *testing.T) {
	r := &PDFReader{MaxBytes: 4}
	_, err := r.Read(context.Background(), FileSource("a.pdf", strings.NewReader("0123456789")))
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestReadersRejectWrongKind(t *testing.T) {
	_, err := (&PDFReader{}).Read(context.Background(), URLSource("http://x.test"))
	assert.ErrorIs(t, err, ErrUnsupportedSource)
	_, err = (&WebsiteReader{}).Read(context.Background(), FileSource("a.pdf", strings.NewReader("x")))
	assert.ErrorIs(t, err, ErrUnsupportedSource)
}

type hitCounter struct {
	mu   sync.Mutex
	hits map[string]int
}

func (h *hitCounter) inc(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hits[path]++
}

func (h *hitCounter) snapshot() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]int, len(h.hits))
	for k, v := range h.hits {
		out[k] = v
	}
	return out
}

func newSite(t *testing.T, hits *hitCounter) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		hits.inc(r.URL.Path)
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Home</title><script>var x = 1;</script></head>
<body><nav>menu</nav><h1>Welcome</h1><p>Hello   world</p>
<a href="/a">A</a><a href="/b#top">B</a><a href="https://elsewhere.test/c">C</a><a href="#frag">F</a>
</body></html>`)
	})
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		hits.inc(r.URL.Path)
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><p>Page A</p><a href="/deeper">D</a></body></html>`)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		hits.inc(r.URL.Path)
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "Page   B")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestWebsiteReaderDefaultDepthFetchesStartOnly(t *testing.T) {
	hits := &hitCounter{hits: map[string]int{}}
	srv := newSite(t, hits)

	r := &WebsiteReader{Client: srv.Client(), MaxLinks: 2, MaxDepth: 1, ChunkSize: 1000}
	docs, err := r.Read(context.Background(), URLSource(srv.URL+"/"))
	require.NoError(t, err)

	require.Len(t, docs, 1)
	assert.Equal(t, srv.URL+"/", docs[0].ID)
	assert.Contains(t, docs[0].Content, "Welcome")
	assert.Contains(t, docs[0].Content, "Hello world")
	assert.NotContains(t, docs[0].Content, "var x")
	assert.NotContains(t, docs[0].Content, "menu")
	assert.Equal(t, srv.URL+"/", docs[0].MetaData["url"])
	assert.Equal(t, map[string]int{"/": 1}, hits.snapshot())
}

func TestWebsiteReaderFollowsSameHostLinksUpToMaxLinks(t *testing.T) {
	hits := &hitCounter{hits: map[string]int{}}
	srv := newSite(t, hits)

	r := &WebsiteReader{Client: srv.Client(), MaxLinks: 3, MaxDepth: 2, ChunkSize: 1000}
	docs, err := r.Read(context.Background(), URLSource(srv.URL+"/"))
	require.NoError(t, err)

	require.Len(t, docs, 3)
	assert.Contains(t, docs[1].Content, "Page A")
	assert.Equal(t, "Page B", docs[2].Content)
	assert.Zero(t, hits.snapshot()["/deeper"])
}

func TestWebsiteReaderStartFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	r := &WebsiteReader{Client: srv.Client(), MaxLinks: 2, MaxDepth: 1}
	_, err := r.Read(context.Background(), URLSource(srv.URL))
	assert.Error(t, err)

	_, err = r.Read(context.Background(), URLSource("not a url"))
	assert.Error(t, err)
}
