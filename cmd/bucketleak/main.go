// Bucketleak drives the address-reconstruction engine against a target.
//
// Usage:
//
//	bucketleak --mode sim --address 0x00000001eb91ab60
//	bucketleak --mode exec --target ./roundtrip-helper --record session.blc
//	bucketleak --mode replay --corpus session.blc
//
// Modes:
//
//	sim     Run against the built-in open-addressing simulator. The
//	        --address flag sets the marker address to recover; --hash
//	        selects the simulated hash model (cf, xxhash, murmur3).
//	exec    Spawn an external helper per round trip: the serialized
//	        container is written to its stdin, the reserialized bytes are
//	        read from its stdout.
//	replay  Serve round trips from a recorded corpus file.
//
// --diagnose prints the target characterization report instead of running
// a reconstruction.
package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/nullprobe/bucketleak"
	"github.com/nullprobe/bucketleak/sim"
)

// config is the optional YAML configuration file. Flags override file
// values.
type config struct {
	Engine struct {
		Workers      int    `yaml:"workers"`
		MinResidues  int    `yaml:"min_residues"`
		SampleCount  int    `yaml:"sample_count"`
		ScanMultiple uint64 `yaml:"scan_multiple"`
	} `yaml:"engine"`
	Target struct {
		Command string   `yaml:"command"`
		Args    []string `yaml:"args"`
	} `yaml:"target"`
	Record string `yaml:"record"`
}

func loadConfig(path string) (*config, error) {
	cfg := &config{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// execRoundTripper spawns the helper once per round trip, following the
// bytes-in/bytes-out contract.
type execRoundTripper struct {
	command string
	args    []string
}

func (e *execRoundTripper) RoundTrip(ctx context.Context, archive []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, e.command, e.args...)
	cmd.Stdin = bytes.NewReader(archive)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w (stderr: %s)", e.command, err,
			strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func hashModel(name string) (bucketleak.HashFunc, error) {
	switch name {
	case "cf":
		return bucketleak.CFHash, nil
	case "xxhash":
		return func(v uint64) uint64 {
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], v)
			return xxhash.Sum64(buf[:])
		}, nil
	case "murmur3":
		return func(v uint64) uint64 {
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], v)
			return murmur3.Sum64(buf[:])
		}, nil
	default:
		return nil, fmt.Errorf("unknown hash model %q (want cf, xxhash, or murmur3)", name)
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "bucketleak:", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("bucketleak", pflag.ContinueOnError)
	mode := flags.String("mode", "sim", "target mode: sim, exec, or replay")
	address := flags.String("address", "0x00000001eb91ab60", "marker address for sim mode (hex)")
	hashName := flags.String("hash", "cf", "simulated hash model: cf, xxhash, or murmur3")
	target := flags.String("target", "", "helper command for exec mode")
	corpusPath := flags.String("corpus", "", "corpus file for replay mode")
	recordPath := flags.String("record", "", "record round trips to this corpus file")
	configPath := flags.String("config", "", "YAML configuration file")
	workers := flags.Int("workers", 0, "moduli probed in parallel")
	minResidues := flags.Int("min-residues", 0, "minimum residues required before combining")
	samples := flags.Int("samples", 0, "calibration sample count")
	diagnose := flags.Bool("diagnose", false, "print the target characterization report and exit")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *target == "" {
		*target = cfg.Target.Command
	}
	if *recordPath == "" {
		*recordPath = cfg.Record
	}
	if *workers == 0 {
		*workers = cfg.Engine.Workers
	}
	if *minResidues == 0 {
		*minResidues = cfg.Engine.MinResidues
	}
	if *samples == 0 {
		*samples = cfg.Engine.SampleCount
	}

	hash, err := hashModel(*hashName)
	if err != nil {
		return err
	}

	if *diagnose {
		printReport(bucketleak.Diagnose(hash, *samples))
		return nil
	}

	var rt bucketleak.RoundTripper
	switch *mode {
	case "sim":
		addr, err := strconv.ParseUint(strings.TrimPrefix(*address, "0x"), 16, 64)
		if err != nil {
			return fmt.Errorf("parse --address: %w", err)
		}
		rt = &sim.Target{Hash: hash, MarkerAddress: addr}
	case "exec":
		if *target == "" {
			return fmt.Errorf("exec mode requires --target")
		}
		rt = &execRoundTripper{command: *target, args: cfg.Target.Args}
	case "replay":
		if *corpusPath == "" {
			return fmt.Errorf("replay mode requires --corpus")
		}
		corpus, err := bucketleak.OpenCorpus(*corpusPath)
		if err != nil {
			return err
		}
		fmt.Printf("replaying %d recorded exchanges from %s\n", corpus.Len(), *corpusPath)
		rt = corpus
	default:
		return fmt.Errorf("unknown mode %q (want sim, exec, or replay)", *mode)
	}

	opts := []bucketleak.EngineOption{bucketleak.WithHash(hash)}
	if *workers > 0 {
		opts = append(opts, bucketleak.WithWorkers(*workers))
	}
	if *minResidues > 0 {
		opts = append(opts, bucketleak.WithMinResidues(*minResidues))
	}
	if *samples > 0 {
		opts = append(opts, bucketleak.WithSampleCount(*samples))
	}
	if cfg.Engine.ScanMultiple > 0 {
		opts = append(opts, bucketleak.WithScanMultiple(cfg.Engine.ScanMultiple))
	}

	var recorder *bucketleak.Recorder
	if *recordPath != "" {
		recorder, err = bucketleak.NewRecorder(*recordPath)
		if err != nil {
			return err
		}
		defer recorder.Close()
		opts = append(opts, bucketleak.WithRecorder(recorder))
	}

	engine, err := bucketleak.NewEngine(rt, opts...)
	if err != nil {
		return err
	}

	result, runErr := engine.Reconstruct(context.Background())
	if result != nil {
		printOutcomes(result)
	}
	if runErr != nil {
		return runErr
	}

	fmt.Printf("\nreconstructed address: %#016x\n", result.Address)
	if recorder != nil {
		if err := recorder.Close(); err != nil {
			return err
		}
		fmt.Printf("session recorded to %s\n", *recordPath)
	}
	return nil
}

func printOutcomes(result *bucketleak.Result) {
	if result.Model.Linear {
		fmt.Printf("hash model: affine, multiplier %#x\n", result.Model.Multiplier)
	} else {
		fmt.Println("hash model: non-linear, using bounded key scan")
	}
	fmt.Println("modulus  outcome")
	for _, o := range result.Outcomes {
		if o.OK() {
			fmt.Printf("%7d  remainder %d\n", o.Modulus, o.Remainder)
		} else {
			fmt.Printf("%7d  excluded: %v\n", o.Modulus, o.Err)
		}
	}
	fmt.Printf("residues: %d of %d\n", result.ResidueCount(), len(result.Outcomes))
}

func printReport(r *bucketleak.Report) {
	fmt.Printf("run id:            %s\n", r.RunID)
	fmt.Printf("generated:         %s\n", r.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("deterministic:     %v\n", r.Deterministic)
	fmt.Printf("affine model:      %v", r.Linear)
	if r.Linear {
		fmt.Printf(" (multiplier %#x)", r.Multiplier)
	}
	fmt.Println()
	fmt.Printf("bucket prediction: %v\n", r.BucketPrediction)
	if r.MatchesXXHash64 {
		fmt.Println("hash fingerprint:  xxhash64")
	}
	if r.MatchesMurmur3 {
		fmt.Println("hash fingerprint:  murmur3")
	}
	fmt.Printf("vulnerable:        %v\n", r.Vulnerable)
}
