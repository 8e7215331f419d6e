package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/chazu/voxgraph/pkg/engine"
	"github.com/chazu/voxgraph/pkg/executor"
	"github.com/chazu/voxgraph/pkg/graph"
	"github.com/chazu/voxgraph/pkg/kernel/sdfx"
	"github.com/chazu/voxgraph/pkg/logging"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	evalOut  string
	evalNode string

	watchDebounce time.Duration
)

var evalCmd = &cobra.Command{
	Use:   "eval FILE",
	Short: "Evaluate a script or document and print every node",
	Long: `Evaluate FILE (.lisp script or .yaml document), then print the state
and output of every node. With --out, the mesh of --node (or of the only
mesh sink) is written as binary STL.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		s, err := newSession(cfg, logging.Logger())
		if err != nil {
			return err
		}
		defer s.Close()

		res, err := s.read(ctx, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		printDiagnostics(out, res)
		if !res.OK() {
			return &exitError{code: 2, msg: "script has errors"}
		}

		views, err := s.evaluate(ctx, res.Graph)
		if err != nil {
			return err
		}
		printViews(out, views)

		if evalOut != "" {
			if err := writeSTL(s, views, evalNode, evalOut); err != nil {
				return err
			}
			fmt.Fprintf(out, "wrote %s\n", evalOut)
		}
		if failed(views) {
			return &exitError{code: 3, msg: "evaluation failed"}
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch FILE",
	Short: "Re-evaluate FILE whenever it changes",
	Long: `Evaluate FILE, then watch it and re-evaluate on every save. Nodes whose
fingerprint did not change are served from the result store.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		s, err := newSession(cfg, logging.Logger())
		if err != nil {
			return err
		}
		defer s.Close()
		return watch(ctx, s, args[0], watchDebounce, cmd.OutOrStdout())
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "Check a graph and the meshes it produces",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		s, err := newSession(cfg, logging.Logger())
		if err != nil {
			return err
		}
		defer s.Close()

		res, err := s.read(ctx, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		printDiagnostics(out, res)
		if !res.OK() {
			return &exitError{code: 2, msg: "graph is invalid"}
		}
		views, err := s.evaluate(ctx, res.Graph)
		if err != nil {
			return err
		}
		printMeshReports(out, views)
		if failed(views) {
			return &exitError{code: 3, msg: "evaluation failed"}
		}
		fmt.Fprintln(out, "ok")
		return nil
	},
}

var convertCmd = &cobra.Command{
	Use:   "convert FILE.lisp",
	Short: "Print the YAML document for a script",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e := engine.NewEngine()
		e.Timeout = cfg.Engine.Timeout
		e.Logger = logging.Logger()
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		res, err := e.Run(cmd.Context(), string(data))
		if err != nil {
			return err
		}
		if !res.OK() {
			for _, ee := range res.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "error: %s\n", ee.Error())
			}
			return &exitError{code: 2, msg: "script has errors"}
		}
		doc, err := graph.Marshal(res.Graph, uuid.New())
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(doc)
		return err
	},
}

func init() {
	evalCmd.Flags().StringVarP(&evalOut, "out", "o", "", "write a mesh as STL to this path")
	evalCmd.Flags().StringVar(&evalNode, "node", "", "node to export, by name or #id")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 100*time.Millisecond, "wait this long after a change before evaluating")
}

func printDiagnostics(w io.Writer, res *loadResult) {
	for _, e := range res.Errors {
		fmt.Fprintf(w, "error: %s\n", e.Error())
	}
	for _, warn := range res.Warnings {
		if warn.NodeID.IsZero() {
			fmt.Fprintf(w, "warning: %s\n", warn.Message)
		} else {
			fmt.Fprintf(w, "warning: node %s: %s\n", warn.NodeID, warn.Message)
		}
	}
}

func printViews(w io.Writer, views []executor.View) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tNAME\tKIND\tSTATE\tFINGERPRINT\tOUTPUT")
	for _, v := range views {
		out := v.Output.String()
		if v.Err != nil {
			out = v.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", v.ID, v.Name, v.Kind, v.State, v.Fingerprint.Short(), out)
	}
	tw.Flush()
}

func printMeshReports(w io.Writer, views []executor.View) {
	for _, v := range views {
		if v.Err != nil {
			fmt.Fprintf(w, "%s %s: %v\n", v.ID, v.Kind, v.Err)
			continue
		}
		m := v.Output.Mesh
		if m == nil {
			continue
		}
		r := m.Validate()
		status := "watertight"
		if !r.Watertight {
			status = "open"
		}
		fmt.Fprintf(w, "%s %s: %d vertices, %d faces, %d components, %s\n",
			v.ID, v.Kind, r.Vertices, r.Faces, r.Components, status)
		for _, f := range r.Findings {
			fmt.Fprintf(w, "  %s\n", f)
		}
	}
}

func failed(views []executor.View) bool {
	for _, v := range views {
		if v.State == executor.Error {
			return true
		}
	}
	return false
}

// writeSTL exports the mesh of ref, or of the single mesh sink when ref
// is empty.
func writeSTL(s *session, views []executor.View, ref, path string) error {
	var target executor.View
	if ref != "" {
		v, err := s.resolve(ref)
		if err != nil {
			return err
		}
		target = v
	} else {
		g := s.exec.Graph()
		var found []executor.View
		for _, id := range g.Sinks() {
			for _, v := range views {
				if v.ID == id && v.Output.Mesh != nil {
					found = append(found, v)
				}
			}
		}
		if len(found) != 1 {
			return fmt.Errorf("--out needs --node: graph has %d mesh sinks", len(found))
		}
		target = found[0]
	}
	if target.Output.Mesh == nil {
		return fmt.Errorf("node %s has no mesh output (%s)", target.ID, target.State)
	}
	return sdfx.SaveSTL(path, target.Output.Mesh)
}

// watch evaluates path on start and after every debounced change until ctx
// ends. A change arriving mid-evaluation cancels it.
func watch(ctx context.Context, s *session, path string, debounce time.Duration, out io.Writer) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	// Editors often replace files on save; watching the directory survives
	// the rename.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	runs := make(chan struct{}, 1)
	runs <- struct{}{}
	var (
		timer     *time.Timer
		wg        sync.WaitGroup
		cancelRun context.CancelFunc = func() {}
	)
	defer func() {
		cancelRun()
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case runs <- struct{}{}:
				default:
				}
			})

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("watch error", "error", err)

		case <-runs:
			// A newer save supersedes the evaluation in flight.
			cancelRun()
			wg.Wait()
			var runCtx context.Context
			runCtx, cancelRun = context.WithCancel(ctx)
			wg.Add(1)
			go func(ctx context.Context) {
				defer wg.Done()
				runOnce(ctx, s, abs, out)
			}(runCtx)
		}
	}
}

func runOnce(ctx context.Context, s *session, path string, out io.Writer) {
	fmt.Fprintf(out, "--- %s %s\n", filepath.Base(path), time.Now().Format(time.TimeOnly))
	res, err := s.read(ctx, path)
	if err != nil {
		if ctx.Err() == nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
		return
	}
	printDiagnostics(out, res)
	if !res.OK() {
		return
	}
	views, err := s.evaluate(ctx, res.Graph)
	if err != nil {
		if ctx.Err() == nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
		return
	}
	printViews(out, views)
}
