package io

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/multierr"
	"gopkg.in/gcfg.v1"
)

const (
	ExampleElectrostaticsFile = `[Electrostatics]

#######################
# Required Parameters #
#######################

# Real-space cutoff in Angstroms. Pairs further apart than this are skipped
# in every direct-space sum.
Cutoff = 9.0

#######################
# Optional Parameters #
#######################

# Ewald splitting parameter in 1/Angstrom. It is ignored for open systems,
# where the full Coulomb interaction is summed directly. Default is 0.6.
# EwaldAlpha = 0.6

# PME mesh points per Angstrom along each lattice vector, and the order of
# the cardinal B-splines used to spread charges and dipoles onto the mesh.
# Defaults are 2.5 and 6.
# GridDensity = 2.5
# SplineOrder = 6

# Explicit PME mesh size. If set, it overrides GridDensity. Must be three
# positive integers.
# FFTGrid = 32 32 32

# Induced dipole solver: cg, iter or aspc. Default is cg. Only cg can be
# used in local (ghost) mode.
# DipoleMethod = cg
# DipoleTolerance = 1e-16
# DipoleMaxIt = 100

# Number of previous solutions extrapolated by aspc. Default is 6.
# ASPCOrder = 6

# Set to false to treat a periodic geometry as an open cluster.
# Periodic = true`

	ExampleRunFile = `[Run]

#######################
# Required Parameters #
#######################

# XYZ geometry file. Sites must be grouped by monomer and monomers of one
# type must be contiguous.
Geometry = path/to/geometry.xyz

# Whitespace-separated table with one row per site and the columns
# charge, polarizability and polarizability factor.
Sites = path/to/sites.txt

# Monomer types in input order, as "id count" pairs.
Types = h2o 64

#######################
# Optional Parameters #
#######################

# YAML file with monomer types that are not built in.
# Monomers = path/to/monomers.yaml

# Lattice vectors a, b and c as nine numbers. Leave unset for an open
# cluster.
# Box = 12.4 0 0 0 12.4 0 0 0 12.4

# Worker goroutines per rank and the number of in-process ranks. Defaults
# are the number of CPUs and 1.
# Workers = 8
# Ranks = 1

# LogFile = log.out

# Binary result file holding the energies, virial, gradient and induced
# dipoles. See io.WriteResult for the format.
# Output = result.bin

# Writes a plot of the dipole solver residuals to this file.
# ResidualPlot = residuals.png`
)

type ElectrostaticsConfig struct {
	// Required
	Cutoff float64

	// Optional
	EwaldAlpha, GridDensity float64
	SplineOrder             int
	FFTGrid                 string
	DipoleMethod            string
	DipoleTolerance         float64
	DipoleMaxIt, ASPCOrder  int
	Periodic                bool
}

type RunConfig struct {
	// Required
	Geometry, Sites, Types string

	// Optional
	Monomers, Box  string
	Workers, Ranks int
	LogFile        string
	Output         string
	ResidualPlot   string
}

type ElectrostaticsWrapper struct {
	Electrostatics ElectrostaticsConfig
}

type RunWrapper struct {
	Run RunConfig
}

// Wrapper holds both sections so that one file can carry a whole run.
type Wrapper struct {
	Electrostatics ElectrostaticsConfig
	Run            RunConfig
}

func DefaultElectrostaticsConfig() ElectrostaticsConfig {
	return ElectrostaticsConfig{
		EwaldAlpha:      0.6,
		GridDensity:     2.5,
		SplineOrder:     6,
		DipoleMethod:    "cg",
		DipoleTolerance: 1e-16,
		DipoleMaxIt:     100,
		ASPCOrder:       6,
		Periodic:        true,
	}
}

func DefaultRunConfig() RunConfig {
	return RunConfig{Ranks: 1}
}

func DefaultElectrostaticsWrapper() *ElectrostaticsWrapper {
	return &ElectrostaticsWrapper{DefaultElectrostaticsConfig()}
}

func DefaultRunWrapper() *RunWrapper {
	return &RunWrapper{DefaultRunConfig()}
}

func DefaultWrapper() *Wrapper {
	return &Wrapper{DefaultElectrostaticsConfig(), DefaultRunConfig()}
}

// ReadConfig reads a file with an [Electrostatics] and a [Run] section and
// checks both.
func ReadConfig(fname string) (*Wrapper, error) {
	wrap := DefaultWrapper()
	if err := gcfg.ReadFileInto(wrap, fname); err != nil {
		return nil, err
	}
	err := multierr.Append(
		wrap.Electrostatics.CheckInit(), wrap.Run.CheckInit(),
	)
	if err != nil {
		return nil, err
	}
	return wrap, nil
}

// ReadConfigString is ReadConfig for an in-memory file.
func ReadConfigString(text string) (*Wrapper, error) {
	wrap := DefaultWrapper()
	if err := gcfg.ReadStringInto(wrap, text); err != nil {
		return nil, err
	}
	err := multierr.Append(
		wrap.Electrostatics.CheckInit(), wrap.Run.CheckInit(),
	)
	if err != nil {
		return nil, err
	}
	return wrap, nil
}

////////////////////
// Electrostatics //
////////////////////

func (con *ElectrostaticsConfig) ValidCutoff() bool {
	return con.Cutoff > 0
}
func (con *ElectrostaticsConfig) ValidEwaldAlpha() bool {
	return con.EwaldAlpha >= 0
}
func (con *ElectrostaticsConfig) ValidGridDensity() bool {
	return con.GridDensity > 0
}
func (con *ElectrostaticsConfig) ValidSplineOrder() bool {
	return con.SplineOrder >= 3
}
func (con *ElectrostaticsConfig) ValidFFTGrid() bool {
	_, err := con.FFTDims()
	return con.FFTGrid != "" && err == nil
}
func (con *ElectrostaticsConfig) ValidDipoleMethod() bool {
	switch strings.ToLower(strings.TrimSpace(con.DipoleMethod)) {
	case "cg", "iter", "aspc":
		return true
	}
	return false
}
func (con *ElectrostaticsConfig) ValidDipoleTolerance() bool {
	return con.DipoleTolerance > 0
}
func (con *ElectrostaticsConfig) ValidDipoleMaxIt() bool {
	return con.DipoleMaxIt > 0
}
func (con *ElectrostaticsConfig) ValidASPCOrder() bool {
	return con.ASPCOrder >= 0
}

// FFTDims parses FFTGrid. An unset FFTGrid gives nil.
func (con *ElectrostaticsConfig) FFTDims() ([]int, error) {
	if strings.TrimSpace(con.FFTGrid) == "" {
		return nil, nil
	}
	dims, err := parseInts(con.FFTGrid)
	if err != nil {
		return nil, fmt.Errorf("FFTGrid: %w", err)
	}
	return dims, nil
}

// CheckInit returns every invalid value in the section.
func (con *ElectrostaticsConfig) CheckInit() error {
	var err error
	if !con.ValidCutoff() {
		err = multierr.Append(err, fmt.Errorf(
			"Need to specify a positive Cutoff, but it is %g.", con.Cutoff,
		))
	}
	if !con.ValidEwaldAlpha() {
		err = multierr.Append(err, fmt.Errorf(
			"EwaldAlpha must be non-negative, but is %g.", con.EwaldAlpha,
		))
	}
	if !con.ValidGridDensity() {
		err = multierr.Append(err, fmt.Errorf(
			"GridDensity must be positive, but is %g.", con.GridDensity,
		))
	}
	if !con.ValidSplineOrder() {
		err = multierr.Append(err, fmt.Errorf(
			"SplineOrder must be at least 3, but is %d.", con.SplineOrder,
		))
	}
	if con.FFTGrid != "" && !con.ValidFFTGrid() {
		err = multierr.Append(err, fmt.Errorf(
			"FFTGrid must be three positive integers, but is '%s'.", con.FFTGrid,
		))
	}
	if !con.ValidDipoleMethod() {
		err = multierr.Append(err, fmt.Errorf(
			"Unrecognized DipoleMethod '%s'. Recognized methods are "+
				"'cg', 'iter' and 'aspc'.", con.DipoleMethod,
		))
	}
	if !con.ValidDipoleTolerance() {
		err = multierr.Append(err, fmt.Errorf(
			"DipoleTolerance must be positive, but is %g.", con.DipoleTolerance,
		))
	}
	if !con.ValidDipoleMaxIt() {
		err = multierr.Append(err, fmt.Errorf(
			"DipoleMaxIt must be positive, but is %d.", con.DipoleMaxIt,
		))
	}
	if !con.ValidASPCOrder() {
		err = multierr.Append(err, fmt.Errorf(
			"ASPCOrder must be non-negative, but is %d.", con.ASPCOrder,
		))
	}
	return err
}

/////////
// Run //
/////////

func (con *RunConfig) ValidGeometry() bool { return con.Geometry != "" }
func (con *RunConfig) ValidSites() bool    { return con.Sites != "" }
func (con *RunConfig) ValidTypes() bool {
	_, err := con.TypeCounts()
	return err == nil
}
func (con *RunConfig) ValidMonomers() bool { return con.Monomers != "" }
func (con *RunConfig) ValidBox() bool {
	box, err := con.Lattice()
	return err == nil && len(box) == 9
}
func (con *RunConfig) ValidWorkers() bool      { return con.Workers > 0 }
func (con *RunConfig) ValidRanks() bool        { return con.Ranks > 0 }
func (con *RunConfig) ValidLogFile() bool      { return con.LogFile != "" }
func (con *RunConfig) ValidOutput() bool       { return con.Output != "" }
func (con *RunConfig) ValidResidualPlot() bool { return con.ResidualPlot != "" }

// TypeCount is one "id count" entry of Types.
type TypeCount struct {
	ID    string
	Count int
}

// TypeCounts parses Types.
func (con *RunConfig) TypeCounts() ([]TypeCount, error) {
	tok := strings.Fields(con.Types)
	if len(tok) == 0 || len(tok)%2 != 0 {
		return nil, fmt.Errorf(
			"Types must be a list of 'id count' pairs, but is '%s'.", con.Types,
		)
	}
	out := make([]TypeCount, 0, len(tok)/2)
	for i := 0; i < len(tok); i += 2 {
		n, err := strconv.Atoi(tok[i+1])
		if err != nil || n <= 0 {
			return nil, fmt.Errorf(
				"Count of monomer type '%s' must be a positive integer, "+
					"but is '%s'.", tok[i], tok[i+1],
			)
		}
		out = append(out, TypeCount{strings.ToLower(tok[i]), n})
	}
	return out, nil
}

// Lattice parses Box. An unset Box gives nil.
func (con *RunConfig) Lattice() ([]float64, error) {
	if strings.TrimSpace(con.Box) == "" {
		return nil, nil
	}
	tok := strings.Fields(con.Box)
	if len(tok) != 9 {
		return nil, fmt.Errorf("Box needs 9 values, but has %d.", len(tok))
	}
	out := make([]float64, len(tok))
	for i := range tok {
		x, err := strconv.ParseFloat(tok[i], 64)
		if err != nil {
			return nil, fmt.Errorf("Box value %d: %w", i, err)
		}
		out[i] = x
	}
	return out, nil
}

func (con *RunConfig) CheckInit() error {
	var err error
	if !con.ValidGeometry() {
		err = multierr.Append(err, fmt.Errorf("Invalid/non-existent 'Geometry' value."))
	}
	if !con.ValidSites() {
		err = multierr.Append(err, fmt.Errorf("Invalid/non-existent 'Sites' value."))
	}
	if _, terr := con.TypeCounts(); terr != nil {
		err = multierr.Append(err, terr)
	}
	if con.Box != "" && !con.ValidBox() {
		_, berr := con.Lattice()
		err = multierr.Append(err, berr)
	}
	if con.Workers < 0 {
		err = multierr.Append(err, fmt.Errorf(
			"Workers must be positive, but is %d.", con.Workers,
		))
	}
	if !con.ValidRanks() {
		err = multierr.Append(err, fmt.Errorf(
			"Ranks must be positive, but is %d.", con.Ranks,
		))
	}
	return err
}

func parseInts(s string) ([]int, error) {
	tok := strings.Fields(s)
	if len(tok) != 3 {
		return nil, fmt.Errorf("expected 3 values, got %d", len(tok))
	}
	out := make([]int, len(tok))
	for i := range tok {
		n, err := strconv.Atoi(tok[i])
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			return nil, fmt.Errorf("value %d is %d, not positive", i, n)
		}
		out[i] = n
	}
	return out, nil
}
