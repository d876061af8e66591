package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"rectipano/internal/config"
	"rectipano/internal/grpcserver"
	"rectipano/internal/pipeline"
	"rectipano/internal/server"
	"rectipano/internal/storage"
	"rectipano/internal/tasks"
)

type pipelineClient interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
}

type watchFunc func(ctx context.Context, req tasks.WatchRequest, onResult func(tasks.RectifyResult)) error

type serveFunc func(ctx context.Context, httpAddr, grpcAddr string) error

// Root wires CLI commands to the pipeline.
type Root struct {
	pipeline pipelineClient
	cfg      *config.Config
	cfgPath  string
	log      *slog.Logger
	store    *storage.Store
	watchFn  watchFunc
	serveFn  serveFunc
}

// NewRoot constructs the CLI root. runner backs watch mode.
func NewRoot(pl *pipeline.Pipeline, runner *tasks.Runner, cfg *config.Config, cfgPath string, logger *slog.Logger, store *storage.Store) *Root {
	r := &Root{
		pipeline: pl,
		cfg:      cfg,
		cfgPath:  cfgPath,
		log:      logger,
		store:    store,
	}
	if runner != nil {
		r.watchFn = runner.Watch
	}
	r.serveFn = r.defaultServe
	return r
}

// defaultServe runs the HTTP API and, when grpcAddr is set, the gRPC API
// until ctx is cancelled or either fails.
func (r *Root) defaultServe(ctx context.Context, httpAddr, grpcAddr string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	running := 1
	go func() {
		errCh <- server.NewServer(httpAddr, r.store, r.pipeline, r.cfg.Geometry, r.log).Start(ctx)
	}()
	if grpcAddr != "" {
		running++
		go func() {
			errCh <- grpcserver.New(r.pipeline, r.cfg.Geometry, r.log).Serve(ctx, grpcAddr)
		}()
	}

	var first error
	for i := 0; i < running; i++ {
		if err := <-errCh; err != nil && first == nil {
			first = err
		}
		cancel()
	}
	return first
}

func (r *Root) enqueueAndWait(ctx context.Context, out io.Writer, job pipeline.Job) error {
	resCh, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()
	if err := r.enqueue(ctx, job); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok := <-resCh:
			if !ok {
				return fmt.Errorf("pipeline stopped before completion")
			}
			if res.Job.ID == job.ID {
				if res.Error != nil {
					return res.Error
				}
				printMeta(out, res)
				return nil
			}
		}
	}
}

func (r *Root) enqueue(ctx context.Context, job pipeline.Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if job.Options == nil {
		job.Options = map[string]any{}
	}
	job.Options["source"] = "cli"
	if err := r.pipeline.Submit(job); err != nil {
		return err
	}

	r.log.Info("job queued", "type", job.Type, "id", job.ID, "input", job.InputPath)
	return nil
}

// printMeta writes "<type> <id> completed" and the result fields sorted by key.
func printMeta(out io.Writer, res pipeline.Result) {
	fmt.Fprintf(out, "%s %s %s\n", res.Job.Type, res.Job.ID, res.Status())
	keys := make([]string, 0, len(res.Meta))
	for k := range res.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		val, err := json.Marshal(res.Meta[k])
		if err != nil {
			val = []byte(fmt.Sprint(res.Meta[k]))
		}
		fmt.Fprintf(out, "  %s: %s\n", k, val)
	}
}

func argOr(args []string, index int, fallback string) string {
	if index < len(args) && strings.TrimSpace(args[index]) != "" {
		return args[index]
	}
	return fallback
}
