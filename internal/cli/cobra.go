package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"rectipano/internal/geom"
	"rectipano/internal/grpcserver"
	"rectipano/internal/pipeline"
	"rectipano/internal/rectify"
	"rectipano/internal/tasks"
)

// Version is printed by `rectipano version`.
var Version = "0.3.0"

// NewRootCmd creates the root Cobra command.
func NewRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rectipano",
		Short: "Perspective rectification and seam compositing for image sets",
		Long: `rectipano straightens image sets from a few clicked corner points,
softens the seams around each rectified region and joins bent halves
into panoramas.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&root.cfgPath, "config", root.cfgPath, "config file path")

	rootCmd.AddCommand(newRectifyCmd(root))
	rootCmd.AddCommand(newBendCmd(root))
	rootCmd.AddCommand(newPanoramaCmd(root))
	rootCmd.AddCommand(newFlattenCmd(root))
	rootCmd.AddCommand(newPreviewCmd(root))
	rootCmd.AddCommand(newSolveCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newJobsCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func newRectifyCmd(root *Root) *cobra.Command {
	var (
		points string
		mode   string
		output string
		tree   bool
	)

	cmd := &cobra.Command{
		Use:   "rectify <input_directory> [output_directory]",
		Short: "Rectify every frame of an image set",
		Long: `Solve one transform per clicked quad and apply it to every frame of the set.
Points come from --points or from points.yaml inside the set folder.
A folder of sets is processed set by set.

Examples:
  rectipano rectify ./shoot/set1 --points "40,30 160,30 160,130 40,130"
  rectipano rectify ./shoot --tree -o ./shoot_rectified`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := map[string]any{"mode": mode, "tree": tree}
			if points != "" {
				opts["points"] = points
			}
			job, err := pipeline.NewJob(string(pipeline.JobRectify), args[0], argOr(args, 1, output), opts)
			if err != nil {
				return err
			}
			return root.enqueueAndWait(cmd.Context(), cmd.OutOrStdout(), job)
		},
	}

	cmd.Flags().StringVar(&points, "points", "", `corner points "x,y x,y ..." (4, 8 or 12)`)
	cmd.Flags().StringVar(&mode, "mode", string(rectify.ModeFocus), "focus or dual-bend")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output directory (default <input>_rectified)")
	cmd.Flags().BoolVar(&tree, "tree", false, "treat input as a folder of image sets")
	return cmd
}

func newBendCmd(root *Root) *cobra.Command {
	var (
		points string
		output string
	)

	cmd := &cobra.Command{
		Use:   "bend <input_directory> [output_directory]",
		Short: "Rectify a set with both bent halves of one quad",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := map[string]any{}
			if points != "" {
				opts["points"] = points
			}
			job, err := pipeline.NewJob("bend", args[0], argOr(args, 1, output), opts)
			if err != nil {
				return err
			}
			return root.enqueueAndWait(cmd.Context(), cmd.OutOrStdout(), job)
		},
	}

	cmd.Flags().StringVar(&points, "points", "", `corner points "x,y x,y x,y x,y"`)
	cmd.Flags().StringVarP(&output, "output", "o", "", "output directory (default <input>_rectified)")
	return cmd
}

func newPanoramaCmd(root *Root) *cobra.Command {
	var (
		pair    string
		order   string
		output  string
		noBlend bool
		tree    bool
	)

	cmd := &cobra.Command{
		Use:   "panorama <rectified_set_directory> [output_directory]",
		Short: "Join rectified halves into panoramas",
		Long: `Pair left and right outputs of a rectified set by frame name and join them.
Bent pairs (left_bend/right_bend) are the default; --pair plain joins left/right.
With --tree, or when the folder only holds sets in subfolders, every set is
joined into <output>/<set>.

Examples:
  rectipano panorama ./shoot_rectified/set1
  rectipano panorama ./shoot_rectified --tree
  rectipano panorama ./shoot_rectified/set1 --no-blend --order left-right`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := map[string]any{"pair": pair, "order": order, "noBlend": noBlend, "tree": tree}
			job, err := pipeline.NewJob(string(pipeline.JobPanorama), args[0], argOr(args, 1, output), opts)
			if err != nil {
				return err
			}
			return root.enqueueAndWait(cmd.Context(), cmd.OutOrStdout(), job)
		},
	}

	cmd.Flags().StringVar(&pair, "pair", tasks.PairBend, "bend or plain")
	cmd.Flags().StringVar(&order, "order", tasks.OrderRightLeft, "right-left or left-right")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output directory (default <input>/panorama)")
	cmd.Flags().BoolVar(&noBlend, "no-blend", false, "butt-join the halves without a blend band")
	cmd.Flags().BoolVar(&tree, "tree", false, "treat each subfolder as a rectified set")
	return cmd
}

func newFlattenCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "flatten <source_directory> [destination_directory]",
		Short: "Copy every image below a folder into one folder",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := pipeline.NewJob(string(pipeline.JobFlatten), args[0], argOr(args, 1, ""), nil)
			if err != nil {
				return err
			}
			return root.enqueueAndWait(cmd.Context(), cmd.OutOrStdout(), job)
		},
	}
}

func newPreviewCmd(root *Root) *cobra.Command {
	var (
		points string
		mode   string
		output string
		maxDim int
	)

	cmd := &cobra.Command{
		Use:   "preview <input_directory> [output_directory]",
		Short: "Draw the quads over the first frame and render each strip",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if maxDim == 0 {
				maxDim = root.cfg.Output.PreviewMaxDim
			}
			opts := map[string]any{"mode": mode, "maxDim": maxDim}
			if points != "" {
				opts["points"] = points
			}
			job, err := pipeline.NewJob(string(pipeline.JobPreview), args[0], argOr(args, 1, output), opts)
			if err != nil {
				return err
			}
			return root.enqueueAndWait(cmd.Context(), cmd.OutOrStdout(), job)
		},
	}

	cmd.Flags().StringVar(&points, "points", "", `corner points "x,y x,y ..."`)
	cmd.Flags().StringVar(&mode, "mode", string(rectify.ModeFocus), "focus or dual-bend")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output directory (default <input>/preview)")
	cmd.Flags().IntVar(&maxDim, "max-dim", 0, "longest side of preview images")
	return cmd
}

func newSolveCmd(root *Root) *cobra.Command {
	var (
		points string
		mode   string
		remote string
	)

	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Print the transforms for a set of corner points",
		Long: `Solve the quads without touching any image and print them as JSON.
With --server the solve runs on a remote rectipano serve instance over gRPC.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pts, err := geom.ParsePoints(points)
			if err != nil {
				return err
			}
			parsed, err := rectify.ParseMode(mode)
			if err != nil {
				return err
			}

			var out any
			if remote != "" {
				out, err = solveRemote(cmd.Context(), remote, parsed, pts)
			} else {
				out, err = rectify.BuildSpecs(pts, parsed, root.cfg.Geometry)
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVar(&points, "points", "", `corner points "x,y x,y ..."`)
	cmd.Flags().StringVar(&mode, "mode", string(rectify.ModeFocus), "focus or dual-bend")
	cmd.Flags().StringVar(&remote, "server", "", "gRPC address of a running server")
	_ = cmd.MarkFlagRequired("points")
	return cmd
}

func solveRemote(ctx context.Context, addr string, mode rectify.Mode, pts []geom.Point2D) (map[string]any, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 30 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	defer conn.Close()

	raw := make([]any, len(pts))
	for i, p := range pts {
		raw[i] = []any{p.X, p.Y}
	}
	in, err := structpb.NewStruct(map[string]any{"mode": string(mode), "points": raw})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	out, err := grpcserver.NewClient(conn).Solve(ctx, in)
	if err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func newWatchCmd(root *Root) *cobra.Command {
	var (
		output string
		settle time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch <input_directory> [output_directory]",
		Short: "Rectify frames as they land in a folder of sets",
		Long: `Watch a folder of image sets and rectify new frames once writes settle.
Each set reuses its saved session, the last stored session, or its points.yaml.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if root.watchFn == nil {
				return fmt.Errorf("watch mode unavailable")
			}
			if settle == 0 {
				settle = time.Duration(root.cfg.Watch.SettleMillis) * time.Millisecond
			}
			input := args[0]
			out := argOr(args, 1, output)
			if out == "" {
				out = filepath.Clean(input) + "_rectified"
			}

			ctx, stop := signalContext(cmd)
			defer stop()

			w := cmd.OutOrStdout()
			root.log.Info("watching", "input", input, "output", out, "settle", settle)
			req := tasks.WatchRequest{JobID: pipeline.NewID("watch"), InputDir: input, OutputDir: out, Settle: settle}
			err := root.watchFn(ctx, req, func(res tasks.RectifyResult) {
				fmt.Fprintf(w, "%s: %d written, %d skipped, %d failed\n", res.SetName, res.Written, res.Skipped, res.Failed)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output directory (default <input>_rectified)")
	cmd.Flags().DurationVar(&settle, "settle", 0, "quiet period before a frame is processed")
	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var (
		addr     string
		grpcAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and gRPC APIs",
		Long: `Serve job submission, job history, live progress and solving.

Examples:
  rectipano serve --addr :8080 --grpc-addr :9090
  rectipano serve --grpc-addr ""   # HTTP only`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			root.log.Info("starting server", "addr", addr, "grpc_addr", grpcAddr)
			return root.serveFn(ctx, addr, grpcAddr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", root.cfg.Server.HTTPAddr, "HTTP address (host:port)")
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", root.cfg.Server.GRPCAddr, "gRPC address, empty to disable")
	return cmd
}

func newJobsCmd(root *Root) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs [job_id]",
		Short: "List recent jobs or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				job, err := root.store.Job(args[0])
				if err != nil {
					return fmt.Errorf("job %s: %w", args[0], err)
				}
				fmt.Fprintf(out, "%s %s %s (%s)\n", job.JobType, job.ID, job.Status, humanize.Time(job.CreatedAt))
				fmt.Fprintf(out, "  input: %s\n", job.InputPath)
				if job.OutputPath != "" {
					fmt.Fprintf(out, "  output: %s\n", job.OutputPath)
				}
				if job.Error != "" {
					fmt.Fprintf(out, "  error: %s\n", job.Error)
				}
				counts, err := root.store.FrameCounts(job.ID)
				if err != nil {
					return err
				}
				for _, status := range []string{tasks.FrameOK, tasks.FrameSkipped, tasks.FrameFailed} {
					if n, ok := counts[status]; ok {
						fmt.Fprintf(out, "  frames %s: %s\n", status, humanize.Comma(int64(n)))
					}
				}
				return nil
			}

			jobs, err := root.store.RecentJobs(limit)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(out, "no jobs recorded")
				return nil
			}
			for _, job := range jobs {
				fmt.Fprintf(out, "%-40s %-9s %-10s %s\n", job.ID, job.JobType, job.Status, humanize.Time(job.CreatedAt))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of jobs to list")
	return cmd
}
