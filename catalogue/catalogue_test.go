package catalogue

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCatalogue_PublishAndLookup(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	require.NoError(t, err)
	defer c.Close()

	key := SeriesKey{StationID: "KSEA", PartitionDay: 19965}
	entry := ChunkEntry{
		ChunkName: "KSEA-19965-0001.chunk",
		FirstTs:   1000,
		LastTs:    2000,
		RowCount:  100,
		ByteSize:  4096,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, c.Publish(key, entry))

	found := c.Lookup("KSEA", 1500, 2500)
	require.Len(t, found, 1)
	require.Equal(t, "KSEA-19965-0001.chunk", found[0].ChunkName)

	require.Empty(t, c.Lookup("KSEA", 3000, 4000))
	require.Empty(t, c.Lookup("KPDX", 1000, 2000))
}

func TestCatalogue_Lookup_OrderedByFirstTs(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	require.NoError(t, err)
	defer c.Close()

	key := SeriesKey{StationID: "KSEA", PartitionDay: 1}
	for i, ts := range []int64{3000, 1000, 2000} {
		require.NoError(t, c.Publish(key, ChunkEntry{
			ChunkName: "chunk-" + string(rune('A'+i)),
			FirstTs:   ts,
			LastTs:    ts + 500,
		}))
	}

	found := c.Lookup("KSEA", 0, 10000)
	require.Len(t, found, 3)
	require.Less(t, found[0].FirstTs, found[1].FirstTs)
	require.Less(t, found[1].FirstTs, found[2].FirstTs)
}

func TestCatalogue_Supersede_HidesOldEntryAndDeletesFile(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	require.NoError(t, err)
	defer c.Close()

	key := SeriesKey{StationID: "KSEA", PartitionDay: 1}
	require.NoError(t, os.WriteFile(dir+"/old.chunk", []byte("x"), 0o644))
	require.NoError(t, c.Publish(key, ChunkEntry{ChunkName: "old.chunk", FirstTs: 0, LastTs: 1000}))

	require.NoError(t, c.Supersede(key, "old.chunk", ChunkEntry{ChunkName: "new.chunk", FirstTs: 0, LastTs: 1000}))

	found := c.Lookup("KSEA", 0, 1000)
	require.Len(t, found, 1)
	require.Equal(t, "new.chunk", found[0].ChunkName)

	_, statErr := os.Stat(dir + "/old.chunk")
	require.True(t, os.IsNotExist(statErr))
}

func TestCatalogue_Enumerate_SkipsSuperseded(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	require.NoError(t, err)
	defer c.Close()

	key := SeriesKey{StationID: "KSEA", PartitionDay: 1}
	require.NoError(t, os.WriteFile(dir+"/a.chunk", []byte("x"), 0o644))
	require.NoError(t, c.Publish(key, ChunkEntry{ChunkName: "a.chunk", FirstTs: 0, LastTs: 100}))
	require.NoError(t, c.Publish(key, ChunkEntry{ChunkName: "b.chunk", FirstTs: 200, LastTs: 300}))
	require.NoError(t, c.Supersede(key, "a.chunk", ChunkEntry{ChunkName: "a2.chunk", FirstTs: 0, LastTs: 100}))

	var names []string
	c.Enumerate(func(_ SeriesKey, e ChunkEntry) { names = append(names, e.ChunkName) })

	require.ElementsMatch(t, []string{"a2.chunk", "b.chunk"}, names)
}

func TestCatalogue_CompactAndReopen_Recovers(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	require.NoError(t, err)

	key := SeriesKey{StationID: "KSEA", PartitionDay: 1}
	require.NoError(t, c.Publish(key, ChunkEntry{ChunkName: "a.chunk", FirstTs: 0, LastTs: 100}))
	require.NoError(t, c.Compact())
	require.NoError(t, c.Publish(key, ChunkEntry{ChunkName: "b.chunk", FirstTs: 200, LastTs: 300}))
	require.NoError(t, c.Close())

	c2, err := Open(dir)
	require.NoError(t, err)
	defer c2.Close()

	found := c2.Lookup("KSEA", 0, 1000)
	require.Len(t, found, 2)
}

func TestCatalogue_Recovery_TruncatesMalformedTrailingLine(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	require.NoError(t, err)

	key := SeriesKey{StationID: "KSEA", PartitionDay: 1}
	require.NoError(t, c.Publish(key, ChunkEntry{ChunkName: "a.chunk", FirstTs: 0, LastTs: 100}))
	require.NoError(t, c.Close())

	f, err := os.OpenFile(dir+"/catalogue.log", os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("ADD\tKSEA\t1\t{not valid json")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	c2, err := Open(dir)
	require.NoError(t, err)
	defer c2.Close()

	found := c2.Lookup("KSEA", 0, 1000)
	require.Len(t, found, 1)
}
