package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/voxgraph/pkg/config"
	"github.com/chazu/voxgraph/pkg/engine"
	"github.com/chazu/voxgraph/pkg/executor"
	"github.com/chazu/voxgraph/pkg/graph"
	"github.com/chazu/voxgraph/pkg/store"
	"github.com/google/uuid"
)

// session ties a DSL engine to an executor. Loading a new version of a
// script keeps the executor, so unchanged nodes are not recomputed.
type session struct {
	engine *engine.Engine
	exec   *executor.Executor
	logger *slog.Logger
}

// loadResult is what reading a source file produced.
type loadResult struct {
	Graph    *graph.Graph
	DocID    uuid.UUID
	Errors   []engine.EvalError
	Warnings []engine.EvalWarning
}

// OK reports whether a graph was built.
func (r *loadResult) OK() bool { return r.Graph != nil && len(r.Errors) == 0 }

func newSession(cfg config.Config, logger *slog.Logger) (*session, error) {
	var st store.Store
	mem := store.NewMemory(cfg.Store.MemoryBudget)
	st = mem
	if dc, ok := cfg.Disk(); ok {
		dc.Logger = logger
		disk, err := store.OpenDisk(dc)
		if err != nil {
			return nil, fmt.Errorf("open result cache: %w", err)
		}
		st = store.NewTiered(mem, disk, logger)
	}

	eng := engine.NewEngine()
	eng.Timeout = cfg.Engine.Timeout
	eng.Logger = logger

	return &session{
		engine: eng,
		exec: executor.New(executor.Options{
			Workers: cfg.Executor.Workers,
			Store:   st,
			Policy:  cfg.Policy(),
			Limits:  cfg.Limits(),
			Logger:  logger,
		}),
		logger: logger,
	}, nil
}

// read loads path as a DSL script (.lisp, .vg) or a YAML document
// (.yaml, .yml).
func (s *session) read(ctx context.Context, path string) (*loadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		g, id, err := graph.Unmarshal(data)
		if err != nil {
			return &loadResult{Errors: []engine.EvalError{{Message: err.Error()}}}, nil
		}
		res := &loadResult{Graph: g, DocID: id}
		for _, f := range graph.Validate(g).Findings {
			if f.Severity == graph.SeverityError {
				res.Errors = append(res.Errors, engine.EvalError{Message: f.Error()})
			} else {
				res.Warnings = append(res.Warnings, engine.EvalWarning{Message: f.Message, NodeID: f.Node})
			}
		}
		return res, nil
	default:
		run, err := s.engine.Run(ctx, string(data))
		if err != nil {
			return nil, err
		}
		return &loadResult{Graph: run.Graph, Errors: run.Errors, Warnings: run.Warnings}, nil
	}
}

// evaluate swaps g into the executor and computes every sink. Node
// failures are reported through the views, not the returned error.
func (s *session) evaluate(ctx context.Context, g *graph.Graph) ([]executor.View, error) {
	if err := s.exec.Load(g); err != nil {
		return nil, err
	}
	before := s.exec.Stats()
	if _, err := s.exec.EvaluateAll(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Debug("evaluation finished with failures", "error", err)
	}
	after := s.exec.Stats()
	s.logger.Info("graph evaluated",
		"nodes", g.Len(),
		"computed", after.Computations-before.Computations,
		"fresh_hits", after.FreshHits-before.FreshHits,
		"store_hits", after.StoreHits-before.StoreHits)
	return s.exec.Views(), nil
}

// resolve finds a node by name or by "#id".
func (s *session) resolve(ref string) (executor.View, error) {
	for _, v := range s.exec.Views() {
		if v.Name == ref || v.ID.String() == ref {
			return v, nil
		}
	}
	return executor.View{}, fmt.Errorf("%w: %q", executor.ErrNodeNotFound, ref)
}

func (s *session) Close() error {
	return s.exec.Close()
}
