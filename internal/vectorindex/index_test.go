package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/mock/gomock"

	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/chunker"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/llm/hashembed"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/llm/mocks"
	apperrors "github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/errors"
)

// tableEmbedder returns fixed vectors keyed by text.
type tableEmbedder map[string][]float32

func (e tableEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := e[t]
		if !ok {
			return nil, fmt.Errorf("no vector for %q", t)
		}
		out[i] = append([]float32(nil), v...)
	}
	return out, nil
}

func chunksOf(texts ...string) []chunker.Chunk {
	out := make([]chunker.Chunk, len(texts))
	for i, t := range texts {
		out[i] = chunker.Chunk{Text: t, Page: i + 1, CharStart: 0, CharEnd: len(t)}
	}
	return out
}

func orderingIndex(t *testing.T) *Index {
	t.Helper()
	emb := tableEmbedder{
		"a": {2, 0}, // cos 1
		"b": {0, 3}, // cos 0
		"c": {1, 1}, // cos ~0.707
		"d": {5, 0}, // cos 1, ties with a
		"q": {1, 0},
	}
	idx := New(emb)
	if err := idx.Build(context.Background(), chunksOf("a", "b", "c", "d")); err != nil {
		t.Fatalf("Build: %v", err)
	}
	return idx
}

func ids(results []Result) []int {
	out := make([]int, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}

func TestSearchOrderingAndTies(t *testing.T) {
	idx := orderingIndex(t)
	got, err := idx.Search(context.Background(), "q", 4)
	if err != nil {
		t.Fatal(err)
	}
	want := []int{0, 3, 2, 1}
	if fmt.Sprint(ids(got)) != fmt.Sprint(want) {
		t.Errorf("ids = %v, want %v", ids(got), want)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Errorf("scores not non-increasing: %v", got)
		}
	}
	if math.Abs(float64(got[2].Score)-1/math.Sqrt2) > 1e-6 {
		t.Errorf("cosine of c = %v, want 1/sqrt(2)", got[2].Score)
	}
	if got[0].Page != 1 || got[0].Text != "a" {
		t.Errorf("metadata not carried: %+v", got[0])
	}
}

func TestSearchTopOne(t *testing.T) {
	idx := orderingIndex(t)
	got, err := idx.Search(context.Background(), "q", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != 0 {
		t.Errorf("top_k=1 returned %v, want [0]", ids(got))
	}
}

func TestSearchTopKExceedsCountSkipsPadding(t *testing.T) {
	idx := orderingIndex(t)
	got, err := idx.Search(context.Background(), "q", 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Errorf("got %d results, want all 4 entries", len(got))
	}
	for _, r := range got {
		if r.ID == noMatch {
			t.Error("sentinel id leaked into results")
		}
	}
}

func TestSearchErrors(t *testing.T) {
	idx := New(hashembed.New(16))
	if _, err := idx.Search(context.Background(), "q", 3); !errors.Is(err, apperrors.ErrIndexNotReady) {
		t.Errorf("empty index err = %v, want ErrIndexNotReady", err)
	}
	if idx.Ready() {
		t.Error("fresh index reports ready")
	}
	idx = orderingIndex(t)
	if _, err := idx.Search(context.Background(), "q", 0); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("top_k=0 err = %v, want ErrInvalidInput", err)
	}
	if _, err := idx.Search(context.Background(), "unknown", 1); !errors.Is(err, apperrors.ErrEmbedding) {
		t.Errorf("embedder failure err = %v, want ErrEmbedding", err)
	}
}

func TestBuildStoresUnitVectors(t *testing.T) {
	idx := orderingIndex(t)
	s := idx.current()
	for r := 0; r < len(s.entries); r++ {
		var sum float64
		for _, v := range s.data[r*s.dim : (r+1)*s.dim] {
			sum += float64(v) * float64(v)
		}
		if math.Abs(sum-1) > 1e-6 {
			t.Errorf("row %d norm^2 = %v", r, sum)
		}
	}
}

func TestBuildFailuresKeepPreviousSnapshot(t *testing.T) {
	ctrl := gomock.NewController(t)
	emb := mocks.NewMockEmbedder(ctrl)
	idx := New(emb)

	emb.EXPECT().Embed(gomock.Any(), []string{"x", "y"}).Return([][]float32{{1, 0}, {0, 1}}, nil)
	if err := idx.Build(context.Background(), chunksOf("x", "y")); err != nil {
		t.Fatal(err)
	}

	emb.EXPECT().Embed(gomock.Any(), gomock.Any()).Return(nil, errors.New("quota exceeded"))
	if err := idx.Build(context.Background(), chunksOf("z")); !errors.Is(err, apperrors.ErrEmbedding) {
		t.Errorf("err = %v, want ErrEmbedding", err)
	}

	emb.EXPECT().Embed(gomock.Any(), gomock.Any()).Return([][]float32{{1, 0}, {1, 0, 0}}, nil)
	if err := idx.Build(context.Background(), chunksOf("p", "q")); !errors.Is(err, apperrors.ErrEmbedding) {
		t.Errorf("ragged rows err = %v, want ErrEmbedding", err)
	}

	emb.EXPECT().Embed(gomock.Any(), gomock.Any()).Return([][]float32{{1, 0}}, nil)
	if err := idx.Build(context.Background(), chunksOf("p", "q")); !errors.Is(err, apperrors.ErrEmbedding) {
		t.Errorf("row count mismatch err = %v, want ErrEmbedding", err)
	}

	if err := idx.Build(context.Background(), nil); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("empty build err = %v, want ErrInvalidInput", err)
	}

	if st := idx.Stats(); st.Chunks != 2 || st.Dim != 2 {
		t.Errorf("stats after failed builds = %+v, want original 2x2", st)
	}
}

func corpus() []chunker.Chunk {
	texts := []string{
		"The mitochondria is the powerhouse of the cell",
		"Photosynthesis converts light energy into chemical energy",
		"The French revolution began in 1789",
		"Go channels synchronize goroutines",
		"Cosine similarity compares vector directions",
		"The cell membrane controls what enters the cell",
	}
	return chunksOf(texts...)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	emb := hashembed.New(128)
	src := New(emb)
	if err := src.Build(context.Background(), corpus()); err != nil {
		t.Fatal(err)
	}
	if err := src.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}
	for _, name := range []string{MatrixFile, MetaFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("artifact %s missing: %v", name, err)
		}
		if _, err := os.Stat(filepath.Join(dir, name+".tmp")); err == nil {
			t.Errorf("temp file %s left behind", name)
		}
	}

	dst := New(emb)
	if err := dst.Load(dir); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if src.Version() == "" || dst.Version() != src.Version() {
		t.Errorf("version after reload = %q, want %q", dst.Version(), src.Version())
	}
	for _, q := range []string{"cell", "energy from light", "goroutines", "1789 revolution", "nothing matches"} {
		a, err := src.Search(context.Background(), q, 4)
		if err != nil {
			t.Fatal(err)
		}
		b, err := dst.Search(context.Background(), q, 4)
		if err != nil {
			t.Fatal(err)
		}
		if len(a) != len(b) {
			t.Fatalf("query %q: %d vs %d results", q, len(a), len(b))
		}
		for i := range a {
			if a[i] != b[i] {
				t.Errorf("query %q result %d: %+v vs %+v", q, i, a[i], b[i])
			}
		}
	}
}

func TestVersionTracksContent(t *testing.T) {
	ctx := context.Background()
	idx := New(hashembed.New(32))
	if v := idx.Version(); v != "" {
		t.Fatalf("empty index version = %q", v)
	}

	if err := idx.Build(ctx, chunksOf("alpha", "beta")); err != nil {
		t.Fatal(err)
	}
	first := idx.Version()
	if err := idx.Build(ctx, chunksOf("alpha", "beta")); err != nil {
		t.Fatal(err)
	}
	if idx.Version() != first {
		t.Errorf("rebuilding the same chunks changed the version")
	}
	if err := idx.Build(ctx, chunksOf("gamma")); err != nil {
		t.Fatal(err)
	}
	if idx.Version() == first {
		t.Errorf("new content kept version %q", first)
	}
	if got := idx.Stats().Version; got != idx.Version() {
		t.Errorf("Stats().Version = %q, want %q", got, idx.Version())
	}
}

func TestSaveNotReady(t *testing.T) {
	if err := New(hashembed.New(8)).Save(t.TempDir()); !errors.Is(err, apperrors.ErrIndexNotReady) {
		t.Errorf("err = %v, want ErrIndexNotReady", err)
	}
}

func TestLoadMissingArtifacts(t *testing.T) {
	dir := t.TempDir()
	idx := New(hashembed.New(8))
	if err := idx.Load(dir); !errors.Is(err, apperrors.ErrIndexNotFound) {
		t.Errorf("empty dir err = %v, want ErrIndexNotFound", err)
	}
	os.WriteFile(filepath.Join(dir, MetaFile), []byte("[]"), 0o644)
	if err := idx.Load(dir); !errors.Is(err, apperrors.ErrIndexNotFound) {
		t.Errorf("meta only err = %v, want ErrIndexNotFound", err)
	}
}

func TestLoadCorruptArtifacts(t *testing.T) {
	saved := func(t *testing.T) string {
		t.Helper()
		dir := t.TempDir()
		idx := New(hashembed.New(32))
		if err := idx.Build(context.Background(), corpus()); err != nil {
			t.Fatal(err)
		}
		if err := idx.Save(dir); err != nil {
			t.Fatal(err)
		}
		return dir
	}

	tests := []struct {
		name   string
		damage func(t *testing.T, dir string)
	}{
		{"flipped data byte", func(t *testing.T, dir string) {
			p := filepath.Join(dir, MatrixFile)
			b, _ := os.ReadFile(p)
			b[HeaderSize+5] ^= 0xFF
			os.WriteFile(p, b, 0o644)
		}},
		{"truncated matrix", func(t *testing.T, dir string) {
			p := filepath.Join(dir, MatrixFile)
			b, _ := os.ReadFile(p)
			os.WriteFile(p, b[:len(b)-12], 0o644)
		}},
		{"bad magic", func(t *testing.T, dir string) {
			p := filepath.Join(dir, MatrixFile)
			b, _ := os.ReadFile(p)
			copy(b, "XXXX")
			os.WriteFile(p, b, 0o644)
		}},
		{"meta from another save", func(t *testing.T, dir string) {
			os.WriteFile(filepath.Join(dir, MetaFile), []byte(`[{"id":0,"text":"x","page":1,"char_start":0,"char_end":1}]`), 0o644)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := saved(t)
			tt.damage(t, dir)
			idx := New(hashembed.New(32))
			if err := idx.Load(dir); !errors.Is(err, apperrors.ErrIndexCorrupt) {
				t.Errorf("err = %v, want ErrIndexCorrupt", err)
			}
			if idx.Ready() {
				t.Error("corrupt load made index ready")
			}
		})
	}
}

func TestConcurrentSearchDuringRebuild(t *testing.T) {
	emb := hashembed.New(64)
	idx := New(emb)
	small := chunksOf("red apple", "green apple")
	large := chunksOf("apple pie", "apple tart", "apple juice", "apple cider", "apple sauce")
	for i := range large {
		large[i].Page = 100
	}
	if err := idx.Build(context.Background(), small); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan error, 8)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				res, err := idx.Search(context.Background(), "apple", 10)
				if err != nil {
					errs <- err
					return
				}
				// Every result set must come from one snapshot.
				fromLarge := res[0].Page == 100
				want := len(small)
				if fromLarge {
					want = len(large)
				}
				if len(res) != want {
					errs <- fmt.Errorf("mixed snapshot: %d results", len(res))
					return
				}
				for _, r := range res {
					if (r.Page == 100) != fromLarge {
						errs <- fmt.Errorf("mixed snapshot: %+v", res)
						return
					}
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		next := small
		if i%2 == 0 {
			next = large
		}
		if err := idx.Build(context.Background(), next); err != nil {
			t.Fatal(err)
		}
	}
	close(stop)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestNormalizeZeroVector(t *testing.T) {
	v := []float32{0, 0, 0}
	Normalize(v)
	for _, x := range v {
		if x != 0 {
			t.Fatalf("zero vector changed: %v", v)
		}
	}
}
