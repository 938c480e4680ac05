package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"poscheck/internal/journal"
	"poscheck/internal/ledger"
	"poscheck/internal/schema"
	"poscheck/internal/store"
)

func main() {
	dir := flag.String("dir", "data/inbound", "Journal directory")
	prefix := flag.String("prefix", "", "Journal file prefix (default: journal)")
	from := flag.Uint64("from", 0, "Only print records with a sequence above this value")
	noChecksum := flag.Bool("no-checksum", false, "Disable checksum validation")
	maxPayload := flag.Int("max-payload", 0, "Max payload size in bytes (0=unlimited)")
	decode := flag.Bool("decode", false, "Decode result payloads")
	quiet := flag.Bool("quiet", false, "Do not print records")
	sodPath := flag.String("sod", "", "Start of day snapshot to rebuild the ledger from")
	verifyPath := flag.String("verify", "", "Expected snapshot to compare the rebuilt ledger against")
	outPath := flag.String("out", "", "Write the rebuilt ledger snapshot to this path")
	flag.Parse()

	cfg := journal.PlaybackConfig{
		Dir:             *dir,
		FilePrefix:      *prefix,
		DisableChecksum: *noChecksum,
		MaxPayloadSize:  *maxPayload,
	}
	pb, err := journal.NewPlayback(cfg)
	if err != nil {
		log.Fatalf("playback init failed: %v", err)
	}

	ctx := context.Background()
	if !*quiet {
		if err := dump(ctx, pb, *from, *decode); err != nil {
			log.Fatalf("playback run failed: %v", err)
		}
	}

	if *sodPath == "" && *verifyPath == "" && *outPath == "" {
		return
	}
	snap, replayed, err := rebuild(ctx, pb, *sodPath)
	if err != nil {
		log.Fatalf("rebuild failed: %v", err)
	}
	fmt.Printf("rebuilt ledger: replayed=%d last_seq=%d records=%d\n", replayed, snap.LastSeq, len(snap.Inventory))

	if *outPath != "" {
		if err := ledger.WriteSnapshot(*outPath, snap); err != nil {
			log.Fatalf("write snapshot failed: %v", err)
		}
	}
	if *verifyPath != "" {
		expected, err := ledger.ReadSnapshot(*verifyPath)
		if err != nil {
			log.Fatalf("read expected snapshot failed: %v", err)
		}
		if err := ledger.CompareSnapshots(expected, snap); err != nil {
			log.Fatalf("snapshot verify failed: %v", err)
		}
		fmt.Println("snapshot verified")
	}
}

func dump(ctx context.Context, pb *journal.Playback, from uint64, decode bool) error {
	var index int
	return pb.Run(ctx, from, func(r journal.Record) error {
		index++
		h := r.Header
		fmt.Printf("%06d seq=%d type=%s created=%d journaled=%d uid=%s %s\n",
			index, h.Seq, h.Type, h.CreatedTime, h.JournalTime, r.Payload.UID, r.Payload.Text())
		if decode && h.Type == schema.EventResult {
			printResult(r.Payload)
		}
		return nil
	})
}

func printResult(p schema.Payload) {
	res, err := ledger.ParseResult(p)
	if err != nil {
		fmt.Printf("  decode Result failed: %v\n", err)
		return
	}
	fmt.Printf("  result request=%s seq=%d op=%s key=%s amount=%d status=%s reason=%q quantity=%d version=%d\n",
		res.RequestUID, res.Seq, res.Operation, res.Key, res.Amount, res.Status, res.Reason, res.Quantity, res.Version)
}

// rebuild replays the journal into an in-memory ledger seeded from the start of day file.
func rebuild(ctx context.Context, pb *journal.Playback, sodPath string) (ledger.Snapshot, int, error) {
	l := ledger.New(store.NewMemory(), ledger.Options{PersistBatch: true})
	if err := l.Open(ctx); err != nil {
		return ledger.Snapshot{}, 0, err
	}
	defer l.Close(ctx)

	if sodPath != "" {
		if err := l.LoadStartOfDay(ctx, sodPath); err != nil {
			return ledger.Snapshot{}, 0, err
		}
	}
	replayed, err := l.Recover(ctx, pb)
	if err != nil {
		return ledger.Snapshot{}, replayed, err
	}
	return l.Snapshot(), replayed, nil
}
