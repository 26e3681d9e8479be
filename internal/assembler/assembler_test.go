package assembler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/local/notesync/internal/blob"
)

// fakeEngine treats "doc:<name>:<pages>" as a document and "<name>#<page>" as an extracted page.
type fakeEngine struct {
	opens int
}

type fakeDoc struct {
	name  string
	pages int
}

func (e *fakeEngine) Open(data []byte) (Doc, error) {
	e.opens++
	parts := strings.Split(string(data), ":")
	if len(parts) != 3 || parts[0] != "doc" {
		return nil, errors.New("unreadable")
	}
	n, err := strconv.Atoi(parts[2])
	if err != nil {
		return nil, err
	}
	return &fakeDoc{name: parts[1], pages: n}, nil
}

func (e *fakeEngine) Merge(parts [][]byte) ([]byte, error) {
	s := make([]string, len(parts))
	for i, p := range parts {
		s[i] = string(p)
	}
	return []byte(strings.Join(s, "|")), nil
}

func (d *fakeDoc) PageCount() int { return d.pages }

func (d *fakeDoc) ExtractPage(page int) ([]byte, error) {
	if d.name == "torn" && page == 2 {
		return nil, errors.New("broken content stream")
	}
	return []byte(fmt.Sprintf("%s#%d", d.name, page)), nil
}

type mapSources struct {
	docs     map[string]Source
	recorded map[string]int
}

func (m *mapSources) Source(_ context.Context, id string) (Source, error) {
	s, ok := m.docs[id]
	if !ok {
		return Source{}, ErrUnknownSource
	}
	return s, nil
}

func (m *mapSources) RecordPageCount(_ context.Context, id string, n int) error {
	m.recorded[id] = n
	return nil
}

func setup(t *testing.T) (*Assembler, *fakeEngine, *mapSources) {
	t.Helper()
	ctx := context.Background()
	st, err := blob.NewLocal(t.TempDir())
	require.NoError(t, err)
	docs := map[string]string{"A": "doc:A:3", "B": "doc:B:2", "torn": "doc:torn:3", "junk": "garbage"}
	srcs := &mapSources{docs: map[string]Source{}, recorded: map[string]int{}}
	for id, body := range docs {
		key := "src/" + id + ".pdf"
		require.NoError(t, st.Put(ctx, key, []byte(body), "application/pdf"))
		srcs.docs[id] = Source{ID: id, Key: key}
	}
	srcs.docs["missing-blob"] = Source{ID: "missing-blob", Key: "src/nowhere.pdf"}
	eng := &fakeEngine{}
	return New(srcs, st, eng), eng, srcs
}

func TestAssemblePreservesOrder(t *testing.T) {
	a, eng, _ := setup(t)
	sel := []Selection{{"B", 2}, {"A", 1}, {"A", 3}, {"B", 1}, {"A", 1}}

	res, err := a.Assemble(context.Background(), sel)
	require.NoError(t, err)
	require.Equal(t, "B#2|A#1|A#3|B#1|A#1", string(res.PDF))
	require.Equal(t, []Provenance{
		{1, "B", 2}, {2, "A", 1}, {3, "A", 3}, {4, "B", 1}, {5, "A", 1},
	}, res.Pages)
	require.Empty(t, res.Skipped)
	require.Equal(t, 2, eng.opens)
}

func TestAssembleReversedInputReversesOutput(t *testing.T) {
	a, _, _ := setup(t)
	sel := []Selection{{"A", 1}, {"B", 1}, {"A", 2}, {"B", 2}}
	rev := []Selection{{"B", 2}, {"A", 2}, {"B", 1}, {"A", 1}}

	fwd, err := a.Assemble(context.Background(), sel)
	require.NoError(t, err)
	back, err := a.Assemble(context.Background(), rev)
	require.NoError(t, err)

	f := strings.Split(string(fwd.PDF), "|")
	b := strings.Split(string(back.PDF), "|")
	for i := range f {
		require.Equal(t, f[i], b[len(b)-1-i])
	}
}

func TestAssembleDropsUnknownDocument(t *testing.T) {
	a, _, _ := setup(t)

	res, err := a.Assemble(context.Background(), []Selection{{"A", 1}, {"ghost", 1}, {"B", 2}})
	require.NoError(t, err)
	require.Equal(t, "A#1|B#2", string(res.PDF))
	require.Len(t, res.Pages, 2)
	require.Equal(t, []Skip{{Index: 1, MaterialID: "ghost", Page: 1, Reason: SkipUnresolved}}, res.Skipped)
}

func TestAssembleDropsOutOfRange(t *testing.T) {
	a, _, _ := setup(t)

	res, err := a.Assemble(context.Background(), []Selection{{"A", 0}, {"A", 4}, {"B", 2}, {"B", -1}})
	require.NoError(t, err)
	require.Equal(t, "B#2", string(res.PDF))
	require.Len(t, res.Skipped, 3)
	for _, s := range res.Skipped {
		require.Equal(t, SkipOutOfRange, s.Reason)
	}
}

func TestAssembleDropsBadExtractionsAndBlobs(t *testing.T) {
	a, _, _ := setup(t)

	res, err := a.Assemble(context.Background(), []Selection{
		{"torn", 1}, {"torn", 2}, {"junk", 1}, {"missing-blob", 1}, {"torn", 3},
	})
	require.NoError(t, err)
	require.Equal(t, "torn#1|torn#3", string(res.PDF))
	reasons := []string{}
	for _, s := range res.Skipped {
		reasons = append(reasons, s.Reason)
	}
	require.Equal(t, []string{SkipExtract, SkipUnreadable, SkipUnresolved}, reasons)
}

func TestAssembleNoValidPages(t *testing.T) {
	a, _, _ := setup(t)

	_, err := a.Assemble(context.Background(), []Selection{{"ghost", 1}, {"A", 9}, {"nobody", 2}})
	require.ErrorIs(t, err, ErrNoValidPages)

	_, err = a.Assemble(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoValidPages)
}

func TestAssembleRecordsPageCount(t *testing.T) {
	a, _, srcs := setup(t)

	_, err := a.Assemble(context.Background(), []Selection{{"A", 1}})
	require.NoError(t, err)
	require.Equal(t, 3, srcs.recorded["A"])
}

func TestAssembleCancelled(t *testing.T) {
	a, _, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Assemble(ctx, []Selection{{"A", 1}})
	require.ErrorIs(t, err, context.Canceled)
}
