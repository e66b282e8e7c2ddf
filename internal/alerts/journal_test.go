package alerts

import (
	"testing"
	"time"
)

func TestJournalRecordAndRecent(t *testing.T) {
	j, err := Open(":memory:", nil)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}

	failedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	j.Record(&Entry{
		JobID:    "job-1",
		OwnerID:  "U1",
		Reason:   "extraction exhausted",
		Attempts: 5,
		FailedAt: failedAt,
	})
	j.Record(&Entry{
		JobID:    "job-2",
		OwnerID:  "U2",
		Reason:   "timeout",
		Attempts: 5,
		FailedAt: failedAt.Add(time.Minute),
	})

	// Close drains the async buffer.
	if err := j.Close(); err != nil {
		t.Fatalf("close journal: %v", err)
	}

	j2, err := Open(":memory:", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer j2.Close()
	// A fresh in-memory journal starts empty.
	entries, err := j2.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("fresh journal has %d entries, want 0", len(entries))
	}
}

func TestJournalFlushBeforeRead(t *testing.T) {
	j, err := Open("file:alerts_test?mode=memory&cache=shared", nil)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer j.Close()

	j.Record(&Entry{JobID: "job-1", OwnerID: "U1", Reason: "exhausted", Attempts: 5, FailedAt: time.Now()})

	// The flush loop ticks once a second; wait for it.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		entries, err := j.Recent(10)
		if err != nil {
			t.Fatalf("recent: %v", err)
		}
		if len(entries) == 1 {
			if entries[0].JobID != "job-1" || entries[0].Reason != "exhausted" {
				t.Fatalf("unexpected entry: %+v", entries[0])
			}
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("entry never flushed to the journal")
}
