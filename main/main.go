package main

import (
	"errors"
	"fmt"
	"os"
	"runtime/pprof"

	plt "github.com/phil-mansfield/pyplot"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/phil-mansfield/polarize"
	"github.com/phil-mansfield/polarize/comm"
	"github.com/phil-mansfield/polarize/io"
	"github.com/phil-mansfield/polarize/layout"
	"github.com/phil-mansfield/polarize/monomer"
	"github.com/phil-mansfield/polarize/solver"
)

var (
	verbose    bool
	ghost      bool
	cpuProfile string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "polarize",
	Short: "Polarizable electrostatics of molecular systems",
	Long: `polarize computes the electrostatic energy, gradients and virial of a
system of polarizable monomers, in open or periodic boundary conditions.

Run 'polarize example-config' for a commented configuration file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = buildLogger()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run <config>",
	Short: "Evaluate the system described by a configuration file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMain(args[0])
	},
}

var exampleCmd = &cobra.Command{
	Use:       "example-config [run|monomers]",
	Short:     "Print an example configuration file to stdout",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"run", "monomers"},
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := "run"
		if len(args) == 1 {
			kind = args[0]
		}
		switch kind {
		case "run":
			fmt.Println(io.ExampleElectrostaticsFile)
			fmt.Println()
			fmt.Println(io.ExampleRunFile)
		case "monomers":
			fmt.Println(monomer.ExampleRegistryFile)
		default:
			return fmt.Errorf(
				"Unrecognized example '%s'. Only 'run' and 'monomers' are "+
					"recognized.", kind,
			)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level.")
	runCmd.Flags().BoolVar(&ghost, "ghost", false,
		"Split monomers between ranks and evaluate in local mode with ghosts.")
	runCmd.Flags().StringVar(&cpuProfile, "cpuprofile", "", "Write a CPU profile to this file.")
	rootCmd.AddCommand(runCmd, exampleCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildLogger(paths ...string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	config.OutputPaths = append(config.OutputPaths, paths...)
	return config.Build()
}

// FileGroup holds the files that must be closed when a run ends.
type FileGroup struct {
	prof *os.File
}

func (fg *FileGroup) Close() {
	if fg.prof != nil {
		pprof.StopCPUProfile()
		if err := fg.prof.Close(); err != nil {
			logger.Error("closing profile", zap.Error(err))
		}
	}
}

// input is everything a run reads from disk.
type input struct {
	con   *io.Wrapper
	geom  *io.Geometry
	sites *io.SiteTable
	reg   *monomer.Registry
	types []layout.TypeCount
	box   []float64
}

func readInput(fname string) (*input, error) {
	wrap, err := io.ReadConfig(fname)
	if err != nil {
		return nil, err
	}
	in := &input{con: wrap, reg: monomer.Default()}
	con := &wrap.Run

	if in.geom, err = io.ReadGeometry(con.Geometry); err != nil {
		return nil, err
	}
	if in.sites, err = io.ReadSiteTable(con.Sites); err != nil {
		return nil, err
	}
	if err = io.CheckSites(in.geom, in.sites); err != nil {
		return nil, err
	}

	if con.ValidMonomers() {
		f, err := os.Open(con.Monomers)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if in.reg, err = monomer.LoadRegistry(f); err != nil {
			return nil, err
		}
	}

	counts, err := con.TypeCounts()
	if err != nil {
		return nil, err
	}
	for _, tc := range counts {
		in.types = append(in.types, layout.TypeCount{ID: tc.ID, Count: tc.Count})
	}
	if in.box, err = con.Lattice(); err != nil {
		return nil, err
	}
	return in, nil
}

// result is what rank 0 reports.
type result struct {
	energy, perm, ind float64
	grad, virial      []float64
	dipoles           []float64
	stats             solver.Stats
}

func runMain(fname string) error {
	in, err := readInput(fname)
	if err != nil {
		return err
	}
	con := &in.con.Run

	if con.ValidLogFile() {
		if logger, err = buildLogger(con.LogFile); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
	}

	fg := &FileGroup{}
	defer fg.Close()
	if cpuProfile != "" {
		if fg.prof, err = os.Create(cpuProfile); err != nil {
			return err
		}
		if err = pprof.StartCPUProfile(fg.prof); err != nil {
			return err
		}
	}

	logger.Info("starting run",
		zap.String("config", fname), zap.Int("sites", len(in.geom.Symbols)),
		zap.Int("ranks", con.Ranks), zap.Bool("ghost", ghost))

	var res *result
	if con.Ranks == 1 {
		res, err = evaluate(in, comm.Serial{})
	} else {
		res, err = evaluateRanks(in)
	}

	var cerr *solver.ConvergenceError
	if errors.As(err, &cerr) {
		logger.Fatal("dipoles did not converge", zap.Error(err))
	} else if err != nil {
		return err
	}

	logger.Info("run finished",
		zap.Float64("energy", res.energy), zap.Float64("permanent", res.perm),
		zap.Float64("induced", res.ind), zap.Int("iterations", res.stats.Iterations))
	printResult(in, res)

	if con.ValidOutput() {
		if err := writeResult(con.Output, res); err != nil {
			return err
		}
	}

	if con.ValidResidualPlot() {
		plotResiduals(res.stats, con.ResidualPlot)
	}
	return nil
}

func evaluateRanks(in *input) (*result, error) {
	var res *result
	err := comm.NewGroup(in.con.Run.Ranks).Run(func(c comm.Communicator) error {
		r, err := evaluate(in, c)
		if c.Rank() == 0 {
			res = r
		}
		return err
	})
	return res, err
}

// evaluate runs one rank. With ghosts, the partial results of every rank
// are summed so that each rank returns the totals.
func evaluate(in *input, c comm.Communicator) (*result, error) {
	con := &in.con.Run
	e := polarize.NewEngine(
		polarize.WithLogger(logger.With(zap.Int("rank", c.Rank()))),
		polarize.WithWorkers(con.Workers),
		polarize.WithCommunicator(c),
		polarize.WithRegistry(in.reg),
	)
	if err := e.Apply(&in.con.Electrostatics); err != nil {
		return nil, err
	}

	sys := polarize.System{
		Charges: in.sites.Charges, Pol: in.sites.Pol, PolFac: in.sites.PolFac,
		XYZ: in.geom.XYZ, Types: in.types, Box: in.box, Gradients: true,
	}
	nmon := 0
	for _, tc := range in.types {
		nmon += tc.Count
	}
	if ghost {
		sys.Local = partition(nmon, c.Rank(), c.Size())
	}
	if err := e.Initialize(sys); err != nil {
		return nil, err
	}

	res := &result{grad: make([]float64, len(in.geom.XYZ)), virial: make([]float64, 9)}
	var err error
	if ghost {
		res.energy, err = e.GetElectrostaticsLocal(res.grad, res.virial, true)
	} else {
		res.energy, err = e.GetElectrostatics(res.grad, res.virial)
	}
	if err != nil {
		return nil, err
	}
	res.perm, res.ind, res.stats = e.PermanentEnergy(), e.InducedEnergy(), e.SolverStats()
	res.dipoles = e.InducedDipoles()

	if ghost {
		parts := []float64{res.energy, res.perm, res.ind}
		c.AllReduceSum(parts)
		res.energy, res.perm, res.ind = parts[0], parts[1], parts[2]
		c.AllReduceSum(res.grad)
		c.AllReduceSum(res.virial)
	}
	return res, nil
}

// partition gives each rank a contiguous block of monomers.
func partition(nmon, rank, size int) []bool {
	local := make([]bool, nmon)
	lo, hi := rank*nmon/size, (rank+1)*nmon/size
	for mon := lo; mon < hi; mon++ {
		local[mon] = true
	}
	return local
}

func printResult(in *input, res *result) {
	fmt.Printf("# Energy:    %16.8f kcal/mol\n", res.energy)
	fmt.Printf("# Permanent: %16.8f kcal/mol\n", res.perm)
	fmt.Printf("# Induced:   %16.8f kcal/mol\n", res.ind)
	fmt.Printf("# Virial:\n")
	for a := 0; a < 3; a++ {
		v := res.virial[3*a : 3*a+3]
		fmt.Printf("#   %16.8f %16.8f %16.8f\n", v[0], v[1], v[2])
	}
	fmt.Printf("# %-4s %16s %16s %16s\n", "Site", "dE/dx", "dE/dy", "dE/dz")
	for i, sym := range in.geom.Symbols {
		g := res.grad[3*i : 3*i+3]
		fmt.Printf("%-6s %16.8f %16.8f %16.8f\n", sym, g[0], g[1], g[2])
	}
}

func writeResult(fname string, res *result) error {
	f, err := os.Create(fname)
	if err != nil {
		return err
	}
	defer f.Close()

	hd := io.ResultHeader{
		Sites:  int64(len(res.grad) / 3),
		Energy: res.energy, Permanent: res.perm, Induced: res.ind,
	}
	copy(hd.Virial[:], res.virial)
	if err := io.WriteResult(f, hd, res.grad, res.dipoles); err != nil {
		return err
	}
	return f.Close()
}

func plotResiduals(stats solver.Stats, fname string) {
	its := make([]float64, len(stats.Residuals))
	for i := range its {
		its[i] = float64(i)
	}

	plt.Figure()
	plt.Plot(its, stats.Residuals, "k", plt.LW(2))
	plt.Title(fmt.Sprintf("%s dipole solve", stats.Method))
	plt.XLabel("Iteration", plt.FontSize(16))
	plt.YLabel(`$|r|^2$`, plt.FontSize(16))
	plt.YScale("log")
	plt.SaveFig(fname)
	plt.Execute()
}
