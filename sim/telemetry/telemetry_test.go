package telemetry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogger_WritesRecordGrammar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	l := Open(path)

	l.KernelFinished(7, []BlockRecord{{BlockID: 1, SMID: 0, StartCycle: 10, EndCycle: 20, LaunchedAccesses: 3, ReturnedAccesses: 3, Pages: 2}})
	l.ModelFinished(0, 1, "LeNet", 4)
	l.DemandedPages(12)
	l.DeadlineMiss(0, 1, "LeNet", 4, 5, 100, 7, 120)
	l.Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	require.Contains(t, content, "Finish kernel 7:")
	require.Contains(t, content, "Finish block 1: [0, 10, 20, 3, 3, 2]")
	require.Contains(t, content, "App 0 Model 1: LeNet with 4 batch size is finished")
	require.Contains(t, content, "Demanded page number: 12")
	require.Contains(t, content, "App 0 Model 1 LeNet 4 [5, 100, 7, 120]")
}

func TestBroadcaster_PublishDoesNotBlockWithoutClients(t *testing.T) {
	b := NewBroadcaster()
	for i := 0; i < 300; i++ {
		b.Publish("record")
	}
}
