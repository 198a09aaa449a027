/*package field contains the Ewald-attenuated, Thole-damped pair kernels of the
electrostatics engine: the field and potential of permanent charges, the field
of induced dipoles, and the position derivatives of the polarization energy.

Kernels act on one site pair at a time and return their contributions by
value. Accumulation, ghost bookkeeping and the Coulomb constant are left to the
caller. Every kernel takes the displacement r_ij = r_i - r_j through the
minimum image of the Holder's box.
*/
package field

import (
	"math"

	"gonum.org/v1/gonum/mathext"

	"github.com/phil-mansfield/polarize/geom"
)

const (
	// Coulomb converts e^2/Angstrom to kcal/mol.
	Coulomb = 332.06371

	// ACC and ACD are the Thole parameters of charge-charge and
	// charge-dipole interactions. They must agree for the gradients to be
	// consistent with the permanent field.
	ACC = 0.4
	ACD = 0.4

	// TholeEps is the smallest polarizability-factor product that is
	// damped. Smaller products switch damping off.
	TholeEps = 1e-16
	bigNum   = 1e50

	// Exponents past this underflow to zero.
	maxExp = 700.0
)

var (
	gamma34 = math.Gamma(0.75)
	acc14   = math.Pow(ACC, 0.25)
	sqrtPi  = math.Sqrt(math.Pi)
)

// Thole returns 1/A and 1/A^4 for A = (pf_i pf_j)^(1/6).
func Thole(pfi, pfj float64) (ai, asqsqi float64) {
	a := pfi * pfj
	if a <= TholeEps {
		return bigNum, bigNum
	}
	ai = 1 / math.Pow(a, 1.0/6)
	return ai, ai * ai * ai * ai
}

// SelfDipole returns the factor of the Ewald self field, E_self = f mu.
func SelfDipole(alpha float64) float64 {
	return 4 * alpha * alpha * alpha / (3 * sqrtPi)
}

// SelfPotential returns the factor of the Ewald self potential,
// phi_self = f q.
func SelfPotential(alpha float64) float64 {
	return -2 * alpha / sqrtPi
}

// Holder carries the parameters shared by every kernel call of one
// evaluation.
type Holder struct {
	Alpha, Cutoff float64
	Box           geom.Box

	apt, twoA2 float64
}

// NewHolder returns a Holder. alpha is ignored for open boxes.
func NewHolder(alpha, cutoff float64, box geom.Box) *Holder {
	if !box.Periodic() {
		alpha = 0
	}
	return &Holder{
		Alpha: alpha, Cutoff: cutoff, Box: box,
		apt:   2 * alpha / sqrtPi,
		twoA2: 2 * alpha * alpha,
	}
}

func (h *Holder) displacement(ri, rj [3]float64) (d [3]float64, rsq float64) {
	d[0], d[1], d[2] = h.Box.MinImage(ri[0]-rj[0], ri[1]-rj[1], ri[2]-rj[2])
	return d, d[0]*d[0] + d[1]*d[1] + d[2]*d[2]
}

func dot(a, b [3]float64) float64 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }

// outer6 returns the xx, xy, xz, yy, yz, zz entries of f a (x) b.
func outer6(f float64, a, b [3]float64) [6]float64 {
	return [6]float64{
		f * a[0] * b[0], f * a[0] * b[1], f * a[0] * b[2],
		f * a[1] * b[1], f * a[1] * b[2], f * a[2] * b[2],
	}
}

/////////////////////
// Permanent field //
/////////////////////

// Perm is the contribution of one charge pair.
type Perm struct {
	PhiI, PhiJ float64
	EI, EJ     [3]float64
	// Virial is w q_i q_j s1r3 r_ij (x) r_ij, without the Coulomb constant.
	Virial [6]float64
}

// PermanentField returns the potential and field that charges q_i and q_j
// produce at each other. scale is the exclusion scale of the pair, w its
// ghost weight. It returns false if the pair is beyond the cutoff.
func (h *Holder) PermanentField(
	ri, rj [3]float64, qi, qj, ai, asqsqi, scale, w float64,
) (Perm, bool) {
	d, rsq := h.displacement(ri, rj)
	r := math.Sqrt(rsq)
	if r > h.Cutoff {
		return Perm{}, false
	}

	ar := h.Alpha * r
	v4 := (scale - math.Erf(ar)) / r

	v5 := ACC * rsq * rsq * asqsqi
	exp1, v6 := 0.0, 0.0
	if scale != 0 && v5 < maxExp {
		exp1 = scale * math.Exp(-v5)
		v6 = scale * mathext.GammaIncRegComp(0.75, v5)
	}

	s1r := v4 - exp1/r
	s0r := s1r + acc14*ai*gamma34*v6
	s1r3 := (s1r + h.apt*math.Exp(-ar*ar)) / rsq

	p := Perm{PhiI: w * s0r * qj, PhiJ: w * s0r * qi}
	for k := 0; k < 3; k++ {
		p.EI[k] = w * s1r3 * qj * d[k]
		p.EJ[k] = -w * s1r3 * qi * d[k]
	}
	p.Virial = outer6(w*qi*qj*s1r3, d, d)

	return p, true
}

//////////////////
// Dipole field //
//////////////////

// DipoleField returns the field that dipole mu_j produces at i and mu_i
// produces at j. aDD is the Thole parameter of the pair. It returns false if
// the pair is beyond the cutoff.
func (h *Holder) DipoleField(
	ri, rj, mui, muj [3]float64, asqsqi, aDD, w float64,
) (ei, ej [3]float64, ok bool) {
	d, rsq := h.displacement(ri, rj)
	if rsq >= h.Cutoff*h.Cutoff {
		return ei, ej, false
	}
	r := math.Sqrt(rsq)
	r3 := r * rsq
	r5 := r3 * rsq

	ar := h.Alpha * r
	t := h.apt * math.Exp(-ar*ar)
	bn1 := (math.Erfc(ar)/r + t) / rsq
	bn2 := (3*bn1 + h.twoA2*t) / rsq

	rA4 := rsq * rsq * asqsqi
	exp1 := 0.0
	if aDD*rA4 < maxExp {
		exp1 = math.Exp(-aDD * rA4)
	}
	s1r3 := w * (bn1 - exp1/r3)
	s2r5 := w * (bn2 - (3+4*aDD*rA4)*exp1/r5)

	dmi, dmj := dot(d, mui), dot(d, muj)
	for k := 0; k < 3; k++ {
		ei[k] = s2r5*d[k]*dmj - s1r3*muj[k]
		ej[k] = s2r5*d[k]*dmi - s1r3*mui[k]
	}
	return ei, ej, true
}

/////////////////////
// Field gradients //
/////////////////////

// Grad is the contribution of one pair to the polarization energy gradient.
type Grad struct {
	// GI is added to the gradient of site i. Site j receives -GI.
	GI [3]float64
	// PhiI and PhiJ are the potentials of the dipoles at the other site.
	PhiI, PhiJ float64
	// Virial is -r_ij (x) GI, without the Coulomb constant.
	Virial [6]float64
}

// FieldGradient returns the derivative of the charge-dipole and
// dipole-dipole energy of a pair with respect to r_i, holding the dipoles
// fixed. scale applies to the charge-dipole terms only. It returns false if
// the pair is beyond the cutoff.
func (h *Holder) FieldGradient(
	ri, rj [3]float64, qi, qj float64, mui, muj [3]float64,
	asqsqi, aDD, scale, w float64,
) (Grad, bool) {
	d, rsq := h.displacement(ri, rj)
	if rsq >= h.Cutoff*h.Cutoff {
		return Grad{}, false
	}
	r := math.Sqrt(rsq)
	r3 := r * rsq
	r5 := r3 * rsq
	r7 := r5 * rsq

	ar := h.Alpha * r
	erf := math.Erf(ar)
	t := h.apt * math.Exp(-ar*ar)

	bn1 := ((1-erf)/r + t) / rsq
	bn1cd := ((scale-erf)/r + t) / rsq
	t *= h.twoA2
	bn2 := (3*bn1 + t) / rsq
	bn2cd := (3*bn1cd + t) / rsq
	t *= h.twoA2
	bn3 := (5*bn2 + t) / rsq

	rA4 := rsq * rsq * asqsqi
	adr, acr := 4*aDD*rA4, 4*ACD*rA4
	exp1d, exp1c := 0.0, 0.0
	if aDD*rA4 < maxExp {
		exp1d = math.Exp(-aDD * rA4)
	}
	if ACD*rA4 < maxExp {
		exp1c = scale * math.Exp(-ACD*rA4)
	}

	s2d := bn2 - (3+adr)*exp1d/r5
	s3d := bn3 - (15+4*adr+adr*adr)*exp1d/r7
	s1c := bn1cd - exp1c/r3
	s2c := bn2cd - (3+acr)*exp1c/r5

	var c [3]float64
	for k := 0; k < 3; k++ {
		c[k] = qj*mui[k] - qi*muj[k]
	}
	dc, dmi, dmj, mm := dot(d, c), dot(d, mui), dot(d, muj), dot(mui, muj)

	g := Grad{
		PhiI: w * s1c * dmj,
		PhiJ: -w * s1c * dmi,
	}
	for a := 0; a < 3; a++ {
		charge := s2c*d[a]*dc - s1c*c[a]
		dipole := s3d*d[a]*dmi*dmj - s2d*(d[a]*mm+mui[a]*dmj+muj[a]*dmi)
		g.GI[a] = w * (charge + dipole)
	}
	g.Virial = outer6(-1, d, g.GI)

	return g, true
}
