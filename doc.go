// Package bucketleak reconstructs the hidden 64-bit address of a
// process-unique marker object by exploiting deterministic bucket
// placement inside serialized keyed containers.
//
// The technique: for each prime table size m, build two containers whose
// synthesized numeric keys pre-occupy every even (respectively odd)
// bucket, plus the marker. The target's deserialize/reserialize cycle
// re-emits keys in bucket order, so the marker's position in each returned
// order pins down hash(marker) mod m up to one linear-probing step.
// Reconciling the two observations yields the exact residue, and combining
// the residues across all table sizes via the Chinese Remainder Theorem
// recovers hash(marker), which for the marker object is its address.
//
// # Basic usage
//
//	engine, err := bucketleak.NewEngine(target) // target implements RoundTripper
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := engine.Reconstruct(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("marker address: %#016x\n", result.Address)
//
// The engine performs no file or network I/O itself: the round trip
// through the system under test is abstracted behind the RoundTripper
// interface. Package sim provides a reference target for validation, and
// Recorder/Corpus persist and replay captured sessions.
//
// # Failure model
//
// Per-modulus failures (unreachable buckets, probing desynchronization)
// exclude that modulus and are reported in Result.Outcomes. Archive-format
// violations abort the run: a changed wire shape means the target changed
// behavior and nothing derived from it can be trusted. Fewer residues than
// the configured minimum abort the combination rather than risk a false
// answer. This is a research and validation tool for the information-leak
// technique; it performs no memory-safety violation of any kind.
package bucketleak
