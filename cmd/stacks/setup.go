package main

import (
	"context"
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"gopkg.in/yaml.v3"

	"github.com/jackzampolin/stacks/internal/checkpoint"
	"github.com/jackzampolin/stacks/internal/engine"
	"github.com/jackzampolin/stacks/internal/home"
	"github.com/jackzampolin/stacks/internal/progress"
	"github.com/jackzampolin/stacks/internal/providers"
	"github.com/jackzampolin/stacks/internal/resource"
	"github.com/jackzampolin/stacks/internal/store"
)

// checkpointCacheSize bounds the in-memory layer over the badger checkpoint
// store. Resume scans hit the cache; 4096 covers the largest plannable batch
// set several times over.
const checkpointCacheSize = 4096

// runtime bundles everything a processing command needs and owns the badger
// handles.
type runtime struct {
	home      *home.Dir
	processor *engine.Processor
	reporter  *progress.Reporter
	records   engine.Records

	dbs []*badger.DB
}

// Close shuts down sessions and releases the databases.
func (rt *runtime) Close() {
	if rt.processor != nil {
		rt.processor.Close()
	}
	if rt.reporter != nil {
		rt.reporter.Stop()
	}
	for _, db := range rt.dbs {
		_ = db.Close()
	}
}

// openDB opens one badger database under the home data directory.
func openDB(path string) (*badger.DB, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}
	return db, nil
}

// openEngine builds a processor over the on-disk stores and the configured
// providers.
func openEngine(ctx context.Context) (*runtime, error) {
	h, err := getHome()
	if err != nil {
		return nil, err
	}
	cfg := cfgManager.Get()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	rt := &runtime{home: h}

	cpDB, err := openDB(h.CheckpointDBPath())
	if err != nil {
		return nil, err
	}
	rt.dbs = append(rt.dbs, cpDB)

	segDB, err := openDB(h.SegmentDBPath())
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.dbs = append(rt.dbs, segDB)

	sesDB, err := openDB(h.SessionDBPath())
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.dbs = append(rt.dbs, sesDB)

	extractor, err := providers.NewExtractor(cfg.ExtractorSettings())
	if err != nil {
		rt.Close()
		return nil, err
	}
	analyzer, err := providers.NewAnalyzer(ctx, cfg.AnalyzerSettings())
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.reporter = progress.NewReporter(progress.ReporterConfig{Logger: logger})
	rt.records = engine.NewBadgerRecords(sesDB)

	rt.processor, err = engine.NewProcessor(engine.Deps{
		Monitor:     resource.New(0),
		Checkpoints: checkpoint.NewCachedStore(checkpoint.NewBadgerStore(cpDB), checkpointCacheSize),
		Records:     rt.records,
		Sink:        store.NewBadgerSink(segDB),
		Extractor:   extractor,
		Analyzer:    analyzer,
		Reporter:    rt.reporter,
		Logger:      logger,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// openRecords opens only the session record database, for read-side commands
// that must not contend with a live engine for the other stores.
func openRecords() (engine.Records, func(), error) {
	h, err := getHome()
	if err != nil {
		return nil, nil, err
	}
	db, err := openDB(h.SessionDBPath())
	if err != nil {
		return nil, nil, err
	}
	return engine.NewBadgerRecords(db), func() { _ = db.Close() }, nil
}

// marshalOutput encodes v in the format selected by --output.
func marshalOutput(v any) ([]byte, error) {
	if outputFormat == "json" {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	}
	return yaml.Marshal(v)
}

// printOutput renders v to stdout in the format selected by --output.
func printOutput(v any) error {
	data, err := marshalOutput(v)
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}
