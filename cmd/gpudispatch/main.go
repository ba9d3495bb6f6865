// Package main provides the gpudispatch CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/orneryd/gpudispatch/pkg/config"
	"github.com/orneryd/gpudispatch/pkg/gpu"
	"github.com/orneryd/gpudispatch/pkg/kernels"
	"github.com/orneryd/gpudispatch/pkg/matrix"
	"github.com/orneryd/gpudispatch/pkg/simd"
)

var (
	version   = "0.1.0"
	commit    = "dev"
	buildTime = "unknown" // Set via ldflags: -X main.buildTime=$(date +%Y%m%d-%H%M%S)
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gpudispatch",
		Short: "gpudispatch - run precompiled compute kernels on the GPU",
		Long: `gpudispatch loads precompiled kernel libraries, builds compute pipelines,
and dispatches them on Metal, Vulkan or the built-in software device.

Operations:
  • dot     element-wise product of two uint32 vectors
  • matmul  product of two constant square float32 matrices
  • fill    assign a[i] = i over a Managed buffer, with or without sync`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("config", "", "Config file (default: search ~/.gpudispatch, binary dir, cwd)")
	rootCmd.PersistentFlags().String("backend", "", "Compute backend: auto, metal, vulkan, soft")
	rootCmd.PersistentFlags().Int("device", 0, "Device index on multi-GPU systems")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: DEBUG, INFO, WARN, ERROR")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: text, json")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gpudispatch v%s (%s) built %s\n", version, commit, buildTime)
		},
	})

	dotCmd := &cobra.Command{
		Use:   "dot",
		Short: "Multiply two uint32 vectors element by element",
		RunE:  runDot,
	}
	dotCmd.Flags().String("v", "3,4,1,7,10,20", "First vector (comma separated)")
	dotCmd.Flags().String("w", "2,5,6,9,5,10", "Second vector (comma separated)")
	rootCmd.AddCommand(dotCmd)

	matmulCmd := &cobra.Command{
		Use:   "matmul",
		Short: "Multiply two constant square float32 matrices",
		RunE:  runMatmul,
	}
	matmulCmd.Flags().Int("order", 4, "Matrix order n (n x n)")
	matmulCmd.Flags().Float32("a", 1, "Value of every entry of the left matrix")
	matmulCmd.Flags().Float32("b", 2, "Value of every entry of the right matrix")
	matmulCmd.Flags().Bool("verify", false, "Compare against the host reference product")
	matmulCmd.Flags().Bool("print", false, "Print the full result matrix")
	rootCmd.AddCommand(matmulCmd)

	fillCmd := &cobra.Command{
		Use:   "fill",
		Short: "Run a[i] = i over a Managed buffer",
		RunE:  runFill,
	}
	fillCmd.Flags().Int("length", gpu.FillLength, "Buffer length in uint32s (1024 or 2048)")
	fillCmd.Flags().Bool("no-sync", false, "Skip the synchronize pass before reading")
	rootCmd.AddCommand(fillCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "kernels",
		Short: "List bundled kernel libraries and their entry points",
		RunE:  runKernels,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "devices",
		Short: "Probe every backend and list compute devices",
		RunE:  runDevices,
	})

	return rootCmd
}

// loadConfig resolves configuration with flags applied last and installs
// the logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.FindConfigFile()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.GPU.Backend, _ = flags.GetString("backend")
	}
	if flags.Changed("device") {
		cfg.GPU.DeviceID, _ = flags.GetInt("device")
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format, _ = flags.GetString("log-format")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	gpu.SetLogger(newLogger(cmd.ErrOrStderr(), cfg.Logging))
	gpu.Logger().Debug("config loaded", "path", path, "config", cfg.String())
	return cfg, nil
}

func newLogger(w io.Writer, lc config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(lc.Level)}
	if strings.EqualFold(lc.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openContext loads config and opens the selected device.
func openContext(cmd *cobra.Command) (*gpu.Context, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return gpu.Open(cfg.GPUConfig())
}

func runDot(cmd *cobra.Command, args []string) error {
	vs, _ := cmd.Flags().GetString("v")
	ws, _ := cmd.Flags().GetString("w")
	v, err := parseUint32s(vs)
	if err != nil {
		return fmt.Errorf("--v: %w", err)
	}
	w, err := parseUint32s(ws)
	if err != nil {
		return fmt.Errorf("--w: %w", err)
	}

	c, err := openContext(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	out, err := c.DotProduct(cmd.Context(), v, w)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "device: %s (%s)\n", c.Device().Name, c.Device().Backend)
	fmt.Fprintf(cmd.OutOrStdout(), "%v\n", out)
	return nil
}

func runMatmul(cmd *cobra.Command, args []string) error {
	order, _ := cmd.Flags().GetInt("order")
	av, _ := cmd.Flags().GetFloat32("a")
	bv, _ := cmd.Flags().GetFloat32("b")
	verify, _ := cmd.Flags().GetBool("verify")
	full, _ := cmd.Flags().GetBool("print")
	if order <= 0 {
		return fmt.Errorf("--order must be positive, got %d", order)
	}

	c, err := openContext(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	a := matrix.Filled(order, av)
	b := matrix.Filled(order, bv)
	out, err := c.MatrixProduct(cmd.Context(), a, b)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "device: %s (%s)\n", c.Device().Name, c.Device().Backend)
	fmt.Fprintf(w, "%dx%d result, C[0][0] = %g\n", out.Rows, out.Cols, out.At(0, 0))
	if full {
		fmt.Fprint(w, out.Render())
	}
	if verify {
		want, err := matrix.Mul(a, b)
		if err != nil {
			return err
		}
		if !matrix.ApproxEqual(out, want, 1e-4) {
			return errors.New("verify: device result differs from host reference")
		}
		fmt.Fprintln(w, "verify: ok")
	}
	return nil
}

func runFill(cmd *cobra.Command, args []string) error {
	length, _ := cmd.Flags().GetInt("length")
	noSync, _ := cmd.Flags().GetBool("no-sync")

	c, err := openContext(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	res, err := c.Fill(cmd.Context(), length, !noSync)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "device: %s (%s)\n", c.Device().Name, c.Device().Backend)
	fmt.Fprintf(w, "synchronized: %v\n", res.Synchronized)
	fmt.Fprintf(w, "host:   %v\n", head(res.Host, 10))
	if res.Device != nil {
		fmt.Fprintf(w, "device: %v\n", head(res.Device, 10))
	}
	return nil
}

func runKernels(cmd *cobra.Command, args []string) error {
	c, err := openContext(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	w := cmd.OutOrStdout()
	format := c.KernelFormat()
	fmt.Fprintf(w, "format: %s\n", format)
	for _, name := range kernels.Names() {
		blob, err := kernels.Blob(format, name)
		if err != nil {
			fmt.Fprintf(w, "%-12s %v\n", name, err)
			continue
		}
		lib, err := c.LoadLibrary(blob)
		if err != nil {
			fmt.Fprintf(w, "%-12s %v\n", name, err)
			continue
		}
		fmt.Fprintf(w, "%-12s %6d bytes  %s  entries: %s\n",
			name, len(blob), lib.Digest(), strings.Join(lib.Names(), ", "))
		lib.Release()
	}
	return nil
}

func runDevices(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BACKEND\tID\tNAME\tVENDOR\tMEMORY\tMAX GROUP\tAVAILABLE")
	for _, d := range gpu.ListDevices(cfg.GPUConfig()) {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%d MB\t%d\t%v\n",
			d.Backend, d.ID, d.Name, d.Vendor, d.MemoryMB, d.MaxWorkGroup, d.Available)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	info := simd.Info()
	fmt.Fprintf(w, "host simd: %s (accelerated: %v) %s\n",
		info.Implementation, info.Accelerated, strings.Join(info.Features, " "))
	return nil
}

func parseUint32s(s string) ([]uint32, error) {
	parts := strings.Split(s, ",")
	out := make([]uint32, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, err
		}
		out = append(out, uint32(v))
	}
	return out, nil
}

func head(s []uint32, n int) []uint32 {
	if len(s) < n {
		return s
	}
	return s[:n]
}
