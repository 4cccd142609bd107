package bucketleak_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nullprobe/bucketleak"
	bkerrors "github.com/nullprobe/bucketleak/errors"
	"github.com/nullprobe/bucketleak/sim"
)

// TestCorpusRecordReplay records a full live session and replays it
// offline: the replayed run must reproduce the same address without the
// target.
func TestCorpusRecordReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.blc")

	recorder, err := bucketleak.NewRecorder(path)
	if err != nil {
		t.Fatal(err)
	}
	target := &sim.Target{MarkerAddress: fixedMarkerAddress}
	live, err := bucketleak.NewEngine(target, bucketleak.WithRecorder(recorder))
	if err != nil {
		t.Fatal(err)
	}
	liveResult, err := live.Reconstruct(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := recorder.Close(); err != nil {
		t.Fatal(err)
	}

	corpus, err := bucketleak.OpenCorpus(path)
	if err != nil {
		t.Fatal(err)
	}
	// Two patterns per modulus.
	if want := 2 * len(bucketleak.Moduli()); corpus.Len() != want {
		t.Fatalf("corpus holds %d exchanges, want %d", corpus.Len(), want)
	}

	replay, err := bucketleak.NewEngine(corpus)
	if err != nil {
		t.Fatal(err)
	}
	replayResult, err := replay.Reconstruct(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if replayResult.Address != liveResult.Address {
		t.Fatalf("replay reconstructed %#x, live %#x",
			replayResult.Address, liveResult.Address)
	}
}

func TestCorpusUnknownRequest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.blc")
	recorder, err := bucketleak.NewRecorder(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := recorder.Record(23, bucketleak.PatternEven, []byte("req"), []byte("resp")); err != nil {
		t.Fatal(err)
	}
	if err := recorder.Close(); err != nil {
		t.Fatal(err)
	}

	corpus, err := bucketleak.OpenCorpus(path)
	if err != nil {
		t.Fatal(err)
	}
	response, err := corpus.RoundTrip(context.Background(), []byte("req"))
	if err != nil || string(response) != "resp" {
		t.Fatalf("got %q, %v", response, err)
	}
	if _, err := corpus.RoundTrip(context.Background(), []byte("never-recorded")); !errors.Is(err, bkerrors.ErrUnknownRequest) {
		t.Fatalf("err = %v, want ErrUnknownRequest", err)
	}
}

func TestCorpusRejectsWrongMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.blc")
	if err := os.WriteFile(path, []byte("XXXXYYYYZZZZ"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := bucketleak.OpenCorpus(path); !errors.Is(err, bkerrors.ErrInvalidMagic) {
		t.Fatalf("err = %v, want ErrInvalidMagic", err)
	}
}

func TestCorpusRejectsWrongVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.blc")
	// Valid magic "BLCR", version 0x0002.
	header := []byte{'B', 'L', 'C', 'R', 0x02, 0x00, 0x00, 0x00}
	if err := os.WriteFile(path, header, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := bucketleak.OpenCorpus(path); !errors.Is(err, bkerrors.ErrInvalidVersion) {
		t.Fatalf("err = %v, want ErrInvalidVersion", err)
	}
}

func TestCorpusRejectsTruncatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.blc")
	if err := os.WriteFile(path, []byte{'B', 'L'}, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := bucketleak.OpenCorpus(path); !errors.Is(err, bkerrors.ErrInvalidMagic) {
		t.Fatalf("err = %v, want ErrInvalidMagic", err)
	}
}

func TestRecorderClosed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "closed.blc")
	recorder, err := bucketleak.NewRecorder(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := recorder.Close(); err != nil {
		t.Fatal(err)
	}
	if err := recorder.Record(23, bucketleak.PatternEven, nil, nil); !errors.Is(err, bkerrors.ErrRecorderClosed) {
		t.Fatalf("err = %v, want ErrRecorderClosed", err)
	}
	// Double close is a no-op.
	if err := recorder.Close(); err != nil {
		t.Fatal(err)
	}
}
