package audit

import "testing"

// fakeSink pins down the Sink contract (one Entry in, one Entry recorded)
// independent of PocketBase.
type fakeSink struct {
	entries []Entry
}

func (f *fakeSink) Write(entry Entry) {
	f.entries = append(f.entries, entry)
}

func TestFakeSinkRecordsEntries(t *testing.T) {
	sink := &fakeSink{}
	sink.Write(Entry{Action: "execute", Host: "web1", Status: StatusSuccess})
	sink.Write(Entry{Action: "upload", Host: "web1", Status: StatusFailed})

	if len(sink.entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(sink.entries))
	}
	if sink.entries[0].Action != "execute" || sink.entries[1].Status != StatusFailed {
		t.Fatalf("unexpected entries: %+v", sink.entries)
	}
}
