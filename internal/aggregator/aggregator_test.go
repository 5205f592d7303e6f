package aggregator

import (
	"strings"
	"testing"
)

const line1 = `{"finished":"2020-09-15T10:00:00Z","status":"OK","userID":"alice","userLocation":{"country":"US"},"trace":[{"net":"GE","sta":"EIL","cha":"BHZ","loc":"","bytes":98304}]}` + "\n"

const line2 = `{"finished":"2020-09-16T11:00:00Z","status":"ERROR","userID":"bob","userLocation":{"country":"US"},"trace":[]}` + "\n"

const line3 = `{"finished":"2020-09-17T12:00:00Z","status":"OK","userID":"alice","userLocation":{"country":"US"},"trace":[{"net":"GE","sta":"EIL","cha":"BHZ","loc":"","bytes":4096}]}` + "\n"

func TestIngestSuccessAndFailureBuckets(t *testing.T) {
	a := New()
	if err := a.Parse(strings.NewReader(line1+line2), nil); err != nil {
		t.Fatal(err)
	}
	buckets := a.Buckets()
	if len(buckets) != 2 {
		t.Fatalf("got %d buckets, want 2", len(buckets))
	}

	// Buckets sorts by network, so the failure bucket (network "") comes
	// before the GE bucket.
	success := buckets[1]
	if success.Key.Network != "GE" || success.Key.Station != "EIL" || success.Key.Channel != "BHZ" {
		t.Fatalf("unexpected success bucket key: %+v", success.Key)
	}
	if success.NbSuccessfulRequests != 1 || success.Bytes != 98304 {
		t.Fatalf("unexpected success bucket counters: %+v", success)
	}

	failure := buckets[0]
	if failure.Key.Network != "" || failure.Key.Station != "" || failure.Key.Location != "--" || failure.Key.Channel != "" {
		t.Fatalf("unexpected failure bucket key: %+v", failure.Key)
	}
	if failure.NbFailedRequests != 1 {
		t.Fatalf("unexpected failure bucket counters: %+v", failure)
	}
}

func TestMalformedLineSkippedNotFatal(t *testing.T) {
	a := New()
	input := line1 + "not json at all\n" + line2
	if err := a.Parse(strings.NewReader(input), nil); err != nil {
		t.Fatal(err)
	}
	if a.Skipped() != 1 {
		t.Fatalf("Skipped() = %d, want 1", a.Skipped())
	}
	if len(a.Buckets()) != 2 {
		t.Fatalf("got %d buckets, want 2", len(a.Buckets()))
	}
}

func TestIdempotenceUnderMerge(t *testing.T) {
	combined := New()
	if err := combined.Parse(strings.NewReader(line1+line2+line3), nil); err != nil {
		t.Fatal(err)
	}

	part1 := New()
	if err := part1.Parse(strings.NewReader(line1+line2), nil); err != nil {
		t.Fatal(err)
	}
	part2 := New()
	if err := part2.Parse(strings.NewReader(line3), nil); err != nil {
		t.Fatal(err)
	}
	part1.Merge(part2)

	a, b := combined.Buckets(), part1.Buckets()
	if len(a) != len(b) {
		t.Fatalf("bucket count mismatch: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Key != b[i].Key {
			t.Fatalf("key mismatch at %d: %+v vs %+v", i, a[i].Key, b[i].Key)
		}
		if a[i].Bytes != b[i].Bytes || a[i].NbSuccessfulRequests != b[i].NbSuccessfulRequests {
			t.Fatalf("counter mismatch at %d: %+v vs %+v", i, a[i], b[i])
		}
		if !a[i].Clients.Equal(b[i].Clients) {
			t.Fatalf("hll mismatch at %d", i)
		}
	}
}

func TestToPayloadShape(t *testing.T) {
	a := New()
	if err := a.Parse(strings.NewReader(line1), nil); err != nil {
		t.Fatal(err)
	}
	sub := a.ToPayload("1.0.0", "2020-09-30T00:00:00Z", []string{"2020-09-15"})
	if sub.Version != "1.0.0" || len(sub.Stats) != 1 {
		t.Fatalf("unexpected submission: %+v", sub)
	}
	st := sub.Stats[0]
	if st.Month != "2020-09-01" || st.Network != "GE" || !strings.HasPrefix(st.Clients, "\\x") {
		t.Fatalf("unexpected stat envelope: %+v", st)
	}
}
