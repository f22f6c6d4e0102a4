package core

import "math"

// Sin/cos and atan2 evaluated with every product explicitly rounded, so the
// results are the same on every architecture. The math package versions are
// plain Go polynomials that the compiler may fuse into FMA instructions.
//
// Coefficients are the Cephes minimax polynomials.

var sinCoef = [...]float64{
	1.58962301576546568060e-10,
	-2.50507477628578072866e-8,
	2.75573136213857245213e-6,
	-1.98412698295895385996e-4,
	8.33333333332211858878e-3,
	-1.66666666666666307295e-1,
}

var cosCoef = [...]float64{
	-1.13585365213876817300e-11,
	2.08757008419747316778e-9,
	-2.75573141792967388112e-7,
	2.48015872888517045348e-5,
	-1.38888888888730564116e-3,
	4.16666666666665929218e-2,
}

// mul rounds a product before it can take part in a sum.
func mul(a, b float64) float64 {
	return float64(a * b)
}

func horner(coef []float64, z float64) float64 {
	p := coef[0]
	for _, c := range coef[1:] {
		p = mul(p, z) + c
	}
	return p
}

// Sincos returns sin(x) and cos(x). Arguments beyond ±2π are first reduced
// with math.Remainder, which is exact.
func Sincos(x float64) (sin, cos float64) {
	const (
		pi4A = 7.85398125648498535156e-1 // pi/4 split into three parts
		pi4B = 3.77489470793079817668e-8
		pi4C = 2.69515142907905952645e-15
	)
	switch {
	case x == 0:
		return x, 1
	case math.IsNaN(x) || math.IsInf(x, 0):
		return math.NaN(), math.NaN()
	}
	if x > 2*math.Pi || x < -2*math.Pi {
		x = math.Remainder(x, 2*math.Pi)
	}

	sinSign, cosSign := false, false
	if x < 0 {
		x = -x
		sinSign = true
	}

	j := uint64(mul(x, 4/math.Pi))
	y := float64(j)
	if j&1 == 1 {
		j++
		y++
	}
	j &= 7
	z := ((x - mul(y, pi4A)) - mul(y, pi4B)) - mul(y, pi4C)

	if j > 3 {
		j -= 4
		sinSign, cosSign = !sinSign, !cosSign
	}
	if j > 1 {
		cosSign = !cosSign
	}

	zz := mul(z, z)
	cos = (1.0 - mul(0.5, zz)) + mul(mul(zz, zz), horner(cosCoef[:], zz))
	sin = z + mul(mul(z, zz), horner(sinCoef[:], zz))
	if j == 1 || j == 2 {
		sin, cos = cos, sin
	}
	if cosSign {
		cos = -cos
	}
	if sinSign {
		sin = -sin
	}
	return sin, cos
}

// xatan is atan on [0, 0.66].
func xatan(x float64) float64 {
	const (
		p0 = -8.750608600031904122785e-01
		p1 = -1.615753718733365076637e+01
		p2 = -7.500855792314704667340e+01
		p3 = -1.228866684490136173410e+02
		p4 = -6.485021904942025371773e+01
		q0 = +2.485846490142306297962e+01
		q1 = +1.650270098316988542046e+02
		q2 = +4.328810604912902668951e+02
		q3 = +4.853903996359136964868e+02
		q4 = +1.945506571482613964425e+02
	)
	z := mul(x, x)
	num := mul(z, horner([]float64{p0, p1, p2, p3, p4}, z))
	den := horner([]float64{1, q0, q1, q2, q3, q4}, z)
	return mul(x, num/den) + x
}

// satan reduces a non-negative argument into xatan's range.
func satan(x float64) float64 {
	const (
		morebits = 6.123233995736765886130e-17 // pi/2 = PI/2 + morebits
		tan3pio8 = 2.41421356237309504880
	)
	if x <= 0.66 {
		return xatan(x)
	}
	if x > tan3pio8 {
		return (math.Pi/2 - xatan(1/x)) + morebits
	}
	return (math.Pi/4 + xatan((x-1)/(x+1))) + mul(0.5, morebits)
}

// Atan2 returns the arc tangent of y/x in (-π, π].
func Atan2(y, x float64) float64 {
	switch {
	case math.IsNaN(y) || math.IsNaN(x):
		return math.NaN()
	case y == 0:
		if x >= 0 && !math.Signbit(x) {
			return math.Copysign(0, y)
		}
		return math.Copysign(math.Pi, y)
	case x == 0:
		return math.Copysign(math.Pi/2, y)
	case math.IsInf(x, 0) || math.IsInf(y, 0):
		return math.Atan2(y, x) // exact special values only
	}

	r := y / x
	q := satan(math.Abs(r))
	if r < 0 {
		q = -q
	}
	if x < 0 {
		if q <= 0 {
			return q + math.Pi
		}
		return q - math.Pi
	}
	return q
}
