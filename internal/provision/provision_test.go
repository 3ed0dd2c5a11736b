// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcem/provisioner/internal/models"
)

// fakeResolver maps asset ids to URLs or errors.
type fakeResolver struct {
	urls map[int64]string
	errs map[int64]error
}

func (f *fakeResolver) FetchAssetURL(_ context.Context, id int64) (string, error) {
	if err, ok := f.errs[id]; ok {
		return "", err
	}
	return f.urls[id], nil
}

// recordingAnnotator remembers annotated folders.
type recordingAnnotator struct {
	mu   sync.Mutex
	dirs []string
	err  error
}

func (r *recordingAnnotator) Annotate(_ context.Context, dir string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirs = append(r.dirs, dir)
	return r.err
}

func writeTemplate(t *testing.T) string {
	t.Helper()
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "01 Brief"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "02 Design", "Exports"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "01 Brief", "brief.docx"), []byte("template"), 0o644))
	return src
}

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "report.pdf", want: "report.pdf"},
		{in: "résumé.pdf", want: "r__sum__.pdf"},
		{in: "日本.txt", want: "______.txt"},
		{in: "tab\there.txt", want: "tab_here.txt"},
		{in: `a/b\c.txt`, want: "a_b_c.txt"},
		{in: "..", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := SanitizeFileName(tt.in)
			assert.Equal(t, tt.want, got)
			if tt.want != "" {
				assert.Len(t, got, len(tt.in), "byte length is preserved")
				assert.Equal(t, filepath.Ext(tt.in), filepath.Ext(got))
			}
		})
	}
}

func TestFileNameFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{url: "https://files.example.com/resources/1/Caf%C3%A9%20Menu.pdf?X-Amz-Signature=abc", want: "Caf__ Menu.pdf"},
		{url: "https://files.example.com/a/plain.png", want: "plain.png"},
		{url: "https://files.example.com/a/evil%2F..%2Fpasswd", want: "evil_.._passwd"},
		{url: "https://files.example.com/", want: ""},
		{url: "https://files.example.com", want: ""},
		{url: "://bad", want: ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FileNameFromURL(tt.url), "url %q", tt.url)
	}
}

// TestPrepare verifies the template copy, the Attachments directory and
// annotation.
func TestPrepare(t *testing.T) {
	root := t.TempDir()
	annotator := &recordingAnnotator{}
	p := New(Config{DestinationRoot: root, Annotator: annotator})

	dest := models.Destination{Path: filepath.Join("Marketing", "EMEA", "0001_Marketing_2024-03-01_Launch")}
	dir, err := p.Prepare(context.Background(), writeTemplate(t), dest)
	require.NoError(t, err)

	target := filepath.Join(root, dest.Path)
	assert.Equal(t, filepath.Join(target, AttachmentsDir), dir)
	assert.DirExists(t, dir)
	assert.DirExists(t, filepath.Join(target, "02 Design", "Exports"))

	data, err := os.ReadFile(filepath.Join(target, "01 Brief", "brief.docx"))
	require.NoError(t, err)
	assert.Equal(t, "template", string(data))

	assert.Equal(t, []string{target}, annotator.dirs)
}

func TestPrepare_AnnotationFailureIsNotFatal(t *testing.T) {
	p := New(Config{
		DestinationRoot: t.TempDir(),
		Annotator:       &recordingAnnotator{err: errors.New("finder unavailable")},
	})

	_, err := p.Prepare(context.Background(), writeTemplate(t), models.Destination{Path: "X/Y/0001_a"})
	assert.NoError(t, err)
}

func TestPrepare_MissingTemplate(t *testing.T) {
	p := New(Config{DestinationRoot: t.TempDir()})

	_, err := p.Prepare(context.Background(), filepath.Join(t.TempDir(), "nope"), models.Destination{Path: "X/Y/0001_a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "copy template")
}

// TestDownload verifies per-asset isolation and the batch summary.
func TestDownload(t *testing.T) {
	var agents sync.Map
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents.Store(r.URL.Path, r.Header.Get("User-Agent"))
		switch r.URL.Path {
		case "/files/report%20final.pdf", "/files/report final.pdf":
			io.WriteString(w, "pdf-bytes")
		case "/moved/photo.png":
			http.Redirect(w, r, "/files/photo-real.png", http.StatusFound)
		case "/files/photo-real.png":
			io.WriteString(w, "png-bytes")
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	resolver := &fakeResolver{
		urls: map[int64]string{
			1: server.URL + "/files/report%20final.pdf",
			2: server.URL + "/files/gone.pdf",
			3: "",
			5: server.URL + "/moved/photo.png",
		},
		errs: map[int64]error{4: errors.New("api down")},
	}

	dir := t.TempDir()
	p := New(Config{Resolver: resolver, HTTPClient: server.Client()})

	summary, err := p.Download(context.Background(), dir, []int64{1, 2, 3, 4, 5}).Wait()
	require.Error(t, err)

	assert.Equal(t, models.DownloadSummary{Total: 5, Succeeded: 2, Failed: 2, Skipped: 1}, summary)

	data, err := os.ReadFile(filepath.Join(dir, "report final.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "pdf-bytes", string(data))

	data, err = os.ReadFile(filepath.Join(dir, "photo.png"))
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	assert.NoFileExists(t, filepath.Join(dir, "gone.pdf"))

	ua, _ := agents.Load("/moved/photo.png")
	assert.Equal(t, DefaultUserAgent, ua)
}

// TestDownload_SameFileName verifies assets whose URLs share a file name
// are written side by side.
func TestDownload_SameFileName(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, strings.TrimPrefix(path.Dir(r.URL.Path), "/"))
	}))
	defer server.Close()

	resolver := &fakeResolver{urls: map[int64]string{
		11: server.URL + "/first/brief.pdf",
		12: server.URL + "/second/brief.pdf",
		13: server.URL + "/third/brief.pdf",
	}}

	dir := t.TempDir()
	p := New(Config{Resolver: resolver, HTTPClient: server.Client()})

	summary, err := p.Download(context.Background(), dir, []int64{11, 12, 13}).Wait()
	require.NoError(t, err)
	assert.Equal(t, models.DownloadSummary{Total: 3, Succeeded: 3}, summary)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	contents := map[string]bool{}
	var plain int
	for _, e := range entries {
		if e.Name() == "brief.pdf" {
			plain++
		} else {
			assert.Regexp(t, `^brief-1[123]\.pdf$`, e.Name())
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		contents[string(data)] = true
	}
	assert.Equal(t, 1, plain)
	assert.Equal(t, map[string]bool{"first": true, "second": true, "third": true}, contents)
}

func TestBatchClaimName(t *testing.T) {
	b := &Batch{}

	assert.Equal(t, "notes.txt", b.claimName("notes.txt", 1))
	assert.Equal(t, "notes-2.txt", b.claimName("notes.txt", 2))
	assert.Equal(t, "README", b.claimName("README", 3))
	assert.Equal(t, "README-4", b.claimName("README", 4))

	// The suffixed name itself may already be taken.
	assert.Equal(t, "notes-5.txt", b.claimName("notes-5.txt", 9))
	assert.Equal(t, "notes-5-1.txt", b.claimName("notes.txt", 5))
}

func TestDownload_Empty(t *testing.T) {
	p := New(Config{Resolver: &fakeResolver{}})

	summary, err := p.Download(context.Background(), t.TempDir(), nil).Wait()
	require.NoError(t, err)
	assert.Equal(t, models.DownloadSummary{}, summary)
}

func TestProvision_StartsDownloads(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "content")
	}))
	defer server.Close()

	root := t.TempDir()
	p := New(Config{
		DestinationRoot: root,
		Resolver:        &fakeResolver{urls: map[int64]string{7: server.URL + "/a/notes.txt"}},
		HTTPClient:      server.Client(),
		UserAgent:       "provisioner-test",
	})

	dest := models.Destination{Path: "F/B/0001_F_d_n", Attachments: []int64{7}}
	batch, err := p.Provision(context.Background(), writeTemplate(t), dest)
	require.NoError(t, err)

	summary, err := batch.Wait()
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.FileExists(t, filepath.Join(root, dest.Path, AttachmentsDir, "notes.txt"))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, fmt.Errorf("connection reset") }

func TestWriteFile_RemovesPartialFile(t *testing.T) {
	target := filepath.Join(t.TempDir(), "partial.bin")

	_, err := writeFile(target, io.MultiReader(strings.NewReader("half"), failingReader{}))
	require.Error(t, err)
	assert.NoFileExists(t, target)
}

func TestNewAnnotator(t *testing.T) {
	assert.IsType(t, NoopAnnotator{}, NewAnnotator("none", FinderGreen))
	assert.IsType(t, &FinderAnnotator{}, NewAnnotator("finder", FinderGreen))

	auto := NewAnnotator("auto", FinderGreen)
	if runtime.GOOS == "darwin" {
		assert.IsType(t, &FinderAnnotator{}, auto)
	} else {
		assert.IsType(t, NoopAnnotator{}, auto)
	}
}

func TestFinderScript(t *testing.T) {
	script := finderScript(`/Volumes/Projects/0001_A "quoted"`, FinderGreen)

	assert.Contains(t, script, `POSIX file "/Volumes/Projects/0001_A \"quoted\"" as alias`)
	assert.Contains(t, script, "set label index of theFolder to 6")
}

func TestFinderAnnotator_CommandFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires POSIX true/false")
	}

	ok := &FinderAnnotator{LabelIndex: FinderGreen, Command: "true"}
	assert.NoError(t, ok.Annotate(context.Background(), t.TempDir()))

	failing := &FinderAnnotator{LabelIndex: FinderGreen, Command: "false"}
	assert.Error(t, failing.Annotate(context.Background(), t.TempDir()))
}
