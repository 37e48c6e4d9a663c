package prof

import (
	"testing"
	"time"
)

func TestSummaryFoldsByLabel(t *testing.T) {
	SnapshotAndReset()
	start := time.Now().Add(-time.Second)
	Track(start, "report")
	Track(time.Now(), "load")
	Track(time.Now(), "load")

	sum := Summary()
	if len(sum) != 2 {
		t.Fatalf("Summary has %d stages want 2", len(sum))
	}
	if sum[0].Label != "report" || sum[0].Calls != 1 {
		t.Fatalf("first stage %+v want report with 1 call", sum[0])
	}
	if sum[1].Label != "load" || sum[1].Calls != 2 {
		t.Fatalf("second stage %+v want load with 2 calls", sum[1])
	}
	if got := len(SnapshotAndReset()); got != 3 {
		t.Fatalf("snapshot has %d entries want 3", got)
	}
	if len(Summary()) != 0 {
		t.Fatalf("Summary not empty after reset")
	}
}
