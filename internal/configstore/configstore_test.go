package configstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type templateDoc struct {
	Record
	Lane int `json:"lane"`
}

func TestSaveLoadRoundTrip(t *testing.T) {
	folder, err := Open(t.TempDir(), KindExpTmp)
	require.NoError(t, err)

	doc := templateDoc{Record: Record{UID: 42, Description: "uv-lane1"}, Lane: 1}
	require.NoError(t, folder.Save(42, doc))

	var loaded templateDoc
	require.NoError(t, folder.Load(42, &loaded))
	assert.Equal(t, doc, loaded)
}

func TestLoadMissingReturnsError(t *testing.T) {
	folder, err := Open(t.TempDir(), KindLed)
	require.NoError(t, err)

	var v templateDoc
	err = folder.Load(7, &v)
	assert.Error(t, err)
}

func TestListSkipsUnparsableFiles(t *testing.T) {
	dir := t.TempDir()
	folder, err := Open(dir, KindBricklet)
	require.NoError(t, err)

	require.NoError(t, folder.Save(1, Record{UID: 1, Description: "reactor-io"}))
	require.NoError(t, folder.Save(2, Record{UID: 2, Description: "power-io"}))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, string(KindBricklet), "obj_3.json"), []byte("{not json"), 0o644))

	results, err := folder.List()
	require.NoError(t, err)
	require.Len(t, results, 2)

	byUID := map[uint64]string{}
	for _, r := range results {
		byUID[r.UID] = r.Description
	}
	assert.Equal(t, "reactor-io", byUID[1])
	assert.Equal(t, "power-io", byUID[2])
}

func TestDeleteRemovesFile(t *testing.T) {
	folder, err := Open(t.TempDir(), KindExperiment)
	require.NoError(t, err)

	require.NoError(t, folder.Save(9, Record{UID: 9, Description: "run-9"}))
	require.NoError(t, folder.Delete(9))

	var v Record
	assert.Error(t, folder.Load(9, &v))
}

func TestWatchNotifiesOnExternalWrite(t *testing.T) {
	folder, err := Open(t.TempDir(), KindConfig)
	require.NoError(t, err)

	notified := make(chan struct{}, 1)
	require.NoError(t, folder.Watch(func() {
		select {
		case notified <- struct{}{}:
		default:
		}
	}))
	defer folder.Close()

	require.NoError(t, folder.Save(5, Record{UID: 5, Description: "edited"}))

	select {
	case <-notified:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a watch notification after Save")
	}
}
