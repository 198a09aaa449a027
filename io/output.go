package io

import (
	"encoding/binary"
	"fmt"
	"io"
)

var end = binary.LittleEndian

// MaxResultSites bounds the site count ReadResult accepts from a header.
const MaxResultSites = 1 << 26

/*
The binary format used for result files is as follows:
    |-- 1 --||-- 2 --||-- ... 3 ... --||-- ... 4 ... --|

    1 - (ResultHeader) Energies, virial and the site count. The first field
        is -1 for a little endian file and 0 for a big endian one.
    2 - ([]float64) Energy gradient, x, y, z per site in kcal/mol/A.
    3 - ([]float64) Induced dipoles, x, y, z per site in e A.
*/
type ResultHeader struct {
	Endianness int64
	HeaderSize int64
	Sites      int64

	Energy, Permanent, Induced float64
	Virial                     [9]float64
}

// WriteResult writes the result of one evaluation to wr. The endianness and
// header size fields of hd are filled in.
func WriteResult(wr io.Writer, hd ResultHeader, grad, dipoles []float64) error {
	n := int(hd.Sites)
	if len(grad) != 3*n || len(dipoles) != 3*n {
		return fmt.Errorf(
			"Result has %d sites, but %d gradient and %d dipole values.",
			n, len(grad), len(dipoles),
		)
	}

	hd.Endianness = -1
	hd.HeaderSize = int64(binary.Size(hd))

	for _, x := range []interface{}{&hd, grad, dipoles} {
		if err := binary.Write(wr, end, x); err != nil {
			return err
		}
	}
	return nil
}

// ReadResult reads a file written by WriteResult.
func ReadResult(rd io.Reader) (*ResultHeader, []float64, []float64, error) {
	hd := &ResultHeader{}
	if err := binary.Read(rd, end, hd); err != nil {
		return nil, nil, nil, err
	}
	if hd.Endianness != -1 {
		return nil, nil, nil, fmt.Errorf("Result file is not little endian.")
	} else if hd.HeaderSize != int64(binary.Size(hd)) {
		return nil, nil, nil, fmt.Errorf(
			"Result header has size %d, but %d was expected.",
			hd.HeaderSize, binary.Size(hd),
		)
	} else if hd.Sites < 0 || hd.Sites > MaxResultSites {
		return nil, nil, nil, fmt.Errorf(
			"Result header has %d sites, outside [0, %d].",
			hd.Sites, MaxResultSites,
		)
	}

	grad, dipoles := make([]float64, 3*hd.Sites), make([]float64, 3*hd.Sites)
	if err := binary.Read(rd, end, grad); err != nil {
		return nil, nil, nil, err
	}
	if err := binary.Read(rd, end, dipoles); err != nil {
		return nil, nil, nil, err
	}
	return hd, grad, dipoles, nil
}
