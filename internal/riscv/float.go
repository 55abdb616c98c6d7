package riscv

// Single-precision IEEE-754 arithmetic, implemented directly on the bit
// pattern rather than routed through the host's float32/float64 hardware.
// Every operation below works in terms of sign/exponent/mantissa triples
// and explicit integer widening, so rounding behaves exactly as the
// specification (not the host FPU) dictates.

const (
	fSignBit  = uint32(1) << 31
	fExpMask  = uint32(0xFF) << 23
	fMantMask = uint32(0x7FFFFF)
	fExpBias  = 127
	fMantBits = 23

	CanonicalNaN = uint32(0x7FC00000)
)

// RoundingMode is an frm encoding.
type RoundingMode uint8

const (
	RNE RoundingMode = 0
	RTZ RoundingMode = 1
	RDN RoundingMode = 2
	RUP RoundingMode = 3
	RMM RoundingMode = 4
)

// Accrued-exception flag bits (fflags).
const (
	FlagNX uint32 = 1 << 0
	FlagUF uint32 = 1 << 1
	FlagOF uint32 = 1 << 2
	FlagDZ uint32 = 1 << 3
	FlagNV uint32 = 1 << 4
)

type unpacked struct {
	sign bool
	exp  int32  // unbiased; for zero/subnormal, exp = 1-bias and mant carries no implicit bit
	mant uint32 // 24-bit significand with implicit bit for normals, 23-bit for subnormals
	isNaN, isSignaling, isInf, isZero bool
}

func fsign(bits uint32) bool { return bits&fSignBit != 0 }
func fexpField(bits uint32) uint32 { return (bits & fExpMask) >> fMantBits }
func fmantField(bits uint32) uint32 { return bits & fMantMask }

func unpack(bits uint32) unpacked {
	sign := fsign(bits)
	expField := fexpField(bits)
	mant := fmantField(bits)

	switch {
	case expField == 0xFF && mant != 0:
		return unpacked{sign: sign, isNaN: true, isSignaling: mant&(1<<22) == 0}
	case expField == 0xFF:
		return unpacked{sign: sign, isInf: true}
	case expField == 0:
		if mant == 0 {
			return unpacked{sign: sign, isZero: true}
		}
		return unpacked{sign: sign, exp: 1 - fExpBias, mant: mant}
	default:
		return unpacked{sign: sign, exp: int32(expField) - fExpBias, mant: mant | (1 << fMantBits)}
	}
}

func packInf(sign bool) uint32 {
	v := fExpMask
	if sign {
		v |= fSignBit
	}
	return v
}

func packZero(sign bool) uint32 {
	if sign {
		return fSignBit
	}
	return 0
}

func packNaN() uint32 { return CanonicalNaN }

// roundMantissa rounds a 1.xxxx significand carried as a 32-bit fixed-point
// value with fMantBits fractional bits plus extra guard bits below that,
// per mode, returning the rounded mantissa (which may carry one extra bit
// on overflow) and whether the result was inexact.
func roundMantissa(mant uint64, extraBits uint, sign bool, mode RoundingMode) (uint64, bool) {
	if extraBits == 0 {
		return mant, false
	}
	halfway := uint64(1) << (extraBits - 1)
	remainder := mant & ((uint64(1) << extraBits) - 1)
	truncated := mant >> extraBits
	inexact := remainder != 0

	roundUp := false
	switch mode {
	case RNE:
		if remainder > halfway || (remainder == halfway && truncated&1 == 1) {
			roundUp = true
		}
	case RTZ:
		roundUp = false
	case RDN:
		roundUp = inexact && sign
	case RUP:
		roundUp = inexact && !sign
	case RMM:
		roundUp = remainder >= halfway
	}
	if roundUp {
		truncated++
	}
	return truncated, inexact
}

// normalizeRound builds a float32 bit pattern from a sign, unbiased
// exponent (for the leading mantissa bit's weight), a significand with
// fMantBits+1+extraBits bits (leading 1 at bit fMantBits+extraBits for
// normals), and accrues NX/UF/OF into *flags.
func normalizeRound(sign bool, exp int32, mant uint64, mantBits uint, mode RoundingMode, flags *uint32) uint32 {
	// Normalize so the leading 1 sits at bit mantBits-1 (i.e. mant has
	// mantBits significant bits above the rounding position).
	for mant != 0 && mant>>mantBits != 0 {
		mant = (mant >> 1) | (mant & 1)
		exp++
	}
	for mant != 0 && mant>>(mantBits-1) == 0 {
		mant <<= 1
		exp--
	}

	extra := mantBits - (fMantBits + 1)
	rounded, inexact := roundMantissa(mant, extra, sign, mode)
	if rounded>>(fMantBits+1) != 0 {
		rounded >>= 1
		exp++
	}

	if inexact {
		*flags |= FlagNX
	}

	if exp > 127 {
		*flags |= FlagOF | FlagNX
		switch mode {
		case RTZ:
			return packMax(sign)
		case RDN:
			if !sign {
				return packMax(sign)
			}
		case RUP:
			if sign {
				return packMax(sign)
			}
		}
		return packInf(sign)
	}

	if exp < -126 {
		shift := uint(-126 - exp)
		if shift >= 64 {
			rounded = 0
		} else {
			var subInexact bool
			rounded, subInexact = roundMantissa(rounded, shift, sign, mode)
			if subInexact {
				*flags |= FlagNX | FlagUF
			}
		}
		v := uint32(rounded) // a rounding carry into bit 23 yields the smallest normal
		if sign {
			v |= fSignBit
		}
		return v
	}

	v := (uint32(exp+fExpBias) << fMantBits) | (uint32(rounded) & fMantMask)
	if sign {
		v |= fSignBit
	}
	return v
}

func packMax(sign bool) uint32 {
	v := uint32(0xFF<<fMantBits) - 1
	if sign {
		v |= fSignBit
	}
	return v
}

// FAdd computes a+b.
func FAdd(a, b uint32, mode RoundingMode, flags *uint32) uint32 {
	return fAddSub(a, b, false, mode, flags)
}

// FSub computes a-b.
func FSub(a, b uint32, mode RoundingMode, flags *uint32) uint32 {
	return fAddSub(a, b, true, mode, flags)
}

func fAddSub(a, b uint32, subtract bool, mode RoundingMode, flags *uint32) uint32 {
	ua, ub := unpack(a), unpack(b)
	if subtract {
		ub.sign = !ub.sign
	}

	if ua.isNaN || ub.isNaN {
		if ua.isSignaling || ub.isSignaling {
			*flags |= FlagNV
		}
		return packNaN()
	}
	if ua.isInf && ub.isInf {
		if ua.sign != ub.sign {
			*flags |= FlagNV
			return packNaN()
		}
		return packInf(ua.sign)
	}
	if ua.isInf {
		return packInf(ua.sign)
	}
	if ub.isInf {
		return packInf(ub.sign)
	}
	if ua.isZero && ub.isZero {
		if ua.sign == ub.sign {
			return packZero(ua.sign)
		}
		if mode == RDN {
			return packZero(true)
		}
		return packZero(false)
	}
	if ua.isZero {
		return b ^ boolMask(subtract)
	}
	if ub.isZero {
		return a
	}

	// Align to the larger exponent, keeping 3 extra guard/round/sticky bits.
	const extraGuard = 3
	expDiff := ua.exp - ub.exp
	var exp int32
	var mantA, mantB uint64
	if expDiff >= 0 {
		exp = ua.exp
		mantA = uint64(ua.mant) << extraGuard
		mantB = shiftRightSticky(uint64(ub.mant)<<extraGuard, uint(expDiff))
	} else {
		exp = ub.exp
		mantB = uint64(ub.mant) << extraGuard
		mantA = shiftRightSticky(uint64(ua.mant)<<extraGuard, uint(-expDiff))
	}

	var resultSign bool
	var mantSum uint64
	if ua.sign == ub.sign {
		mantSum = mantA + mantB
		resultSign = ua.sign
	} else {
		if mantA >= mantB {
			mantSum = mantA - mantB
			resultSign = ua.sign
		} else {
			mantSum = mantB - mantA
			resultSign = ub.sign
		}
		if mantSum == 0 {
			resultSign = mode == RDN
		}
	}

	return normalizeRound(resultSign, exp, mantSum, fMantBits+1+extraGuard, mode, flags)
}

func boolMask(v bool) uint32 {
	if v {
		return fSignBit
	}
	return 0
}

func shiftRightSticky(v uint64, shift uint) uint64 {
	if shift == 0 {
		return v
	}
	if shift >= 64 {
		if v != 0 {
			return 1
		}
		return 0
	}
	sticky := uint64(0)
	if v&((uint64(1)<<shift)-1) != 0 {
		sticky = 1
	}
	return (v >> shift) | sticky
}

// FMul computes a*b.
func FMul(a, b uint32, mode RoundingMode, flags *uint32) uint32 {
	ua, ub := unpack(a), unpack(b)
	sign := ua.sign != ub.sign

	if ua.isNaN || ub.isNaN {
		if ua.isSignaling || ub.isSignaling {
			*flags |= FlagNV
		}
		return packNaN()
	}
	if (ua.isInf && ub.isZero) || (ua.isZero && ub.isInf) {
		*flags |= FlagNV
		return packNaN()
	}
	if ua.isInf || ub.isInf {
		return packInf(sign)
	}
	if ua.isZero || ub.isZero {
		return packZero(sign)
	}

	product := uint64(ua.mant) * uint64(ub.mant)
	exp := ua.exp + ub.exp + 1 // product bit 47 weighs 2^(ea+eb+1)
	return normalizeRound(sign, exp, product, 2*(fMantBits+1), mode, flags)
}

// FDiv computes a/b with one exact integer division of the widened dividend
// mantissa by the divisor mantissa; a nonzero remainder is folded into a
// sticky bit, so the quotient rounds with full guard/round/sticky
// information.
func FDiv(a, b uint32, mode RoundingMode, flags *uint32) uint32 {
	ua, ub := unpack(a), unpack(b)
	sign := ua.sign != ub.sign

	if ua.isNaN || ub.isNaN {
		if ua.isSignaling || ub.isSignaling {
			*flags |= FlagNV
		}
		return packNaN()
	}
	if ua.isInf && ub.isInf {
		*flags |= FlagNV
		return packNaN()
	}
	if ua.isZero && ub.isZero {
		*flags |= FlagNV
		return packNaN()
	}
	if ua.isInf || ub.isZero {
		if ub.isZero && !ua.isInf {
			*flags |= FlagDZ
		}
		return packInf(sign)
	}
	if ua.isZero || ub.isInf {
		return packZero(sign)
	}

	// Normalize subnormal operands so the quotient keeps full precision.
	for ua.mant&(1<<fMantBits) == 0 {
		ua.mant <<= 1
		ua.exp--
	}
	for ub.mant&(1<<fMantBits) == 0 {
		ub.mant <<= 1
		ub.exp--
	}

	const quotBits = fMantBits + 3
	remainder := uint64(ua.mant) << quotBits
	divisor := uint64(ub.mant)
	quotient := remainder / divisor
	rem := remainder % divisor
	if rem != 0 {
		quotient |= 1
	}
	exp := ua.exp - ub.exp
	return normalizeRound(sign, exp, quotient, fMantBits+1+3, mode, flags)
}

// FSqrt computes sqrt(a) via a binary restoring digit recurrence, one
// result bit per step (bit-exact, no host math.Sqrt call).
func FSqrt(a uint32, mode RoundingMode, flags *uint32) uint32 {
	ua := unpack(a)
	if ua.isNaN {
		if ua.isSignaling {
			*flags |= FlagNV
		}
		return packNaN()
	}
	if ua.isZero {
		return packZero(ua.sign)
	}
	if ua.sign {
		*flags |= FlagNV
		return packNaN()
	}
	if ua.isInf {
		return packInf(false)
	}

	exp := ua.exp
	mant := uint64(ua.mant)
	if exp%2 != 0 {
		mant <<= 1
		exp--
	}
	exp /= 2

	// Digit-by-digit (restoring) binary square root over a
	// 2*(mantBits+1+extra)-bit radicand, producing mantBits+1+extra
	// result bits plus a sticky remainder bit. mant has up to
	// fMantBits+2 bits after the parity shift above.
	const extra = 3
	workBits := 2 * (fMantBits + 1 + extra)
	radicand := uint64(mant) << uint(workBits-(fMantBits+2))

	res := uint64(0)
	r := uint64(0)
	for i := 0; i < fMantBits+1+extra; i++ {
		r <<= 2
		r |= (radicand >> uint(workBits-2*(i+1))) & 0x3
		tryVal := (res << 2) | 1
		if r >= tryVal {
			r -= tryVal
			res = (res << 1) | 1
		} else {
			res = res << 1
		}
	}
	sticky := uint64(0)
	if r != 0 {
		sticky = 1
	}
	result := (res << 1) | sticky

	return normalizeRound(false, exp, result, fMantBits+2+extra, mode, flags)
}

// FMadd computes (a*b)+c (fused: one rounding, widened product kept exact
// before the addend is combined in).
func FMadd(a, b, c uint32, negMul, negAdd bool, mode RoundingMode, flags *uint32) uint32 {
	ua, ub, uc := unpack(a), unpack(b), unpack(c)
	signAB := ua.sign != ub.sign
	if negMul {
		signAB = !signAB
	}
	signC := uc.sign
	if negAdd {
		signC = !signC
	}

	if ua.isNaN || ub.isNaN || uc.isNaN {
		if ua.isSignaling || ub.isSignaling || uc.isSignaling {
			*flags |= FlagNV
		}
		return packNaN()
	}
	if (ua.isInf && ub.isZero) || (ua.isZero && ub.isInf) {
		*flags |= FlagNV
		return packNaN()
	}
	productIsInf := ua.isInf || ub.isInf
	if productIsInf && uc.isInf && signAB != signC {
		*flags |= FlagNV
		return packNaN()
	}
	if productIsInf {
		return packInf(signAB)
	}
	if uc.isInf {
		return packInf(signC)
	}

	if ua.isZero || ub.isZero {
		if uc.isZero {
			if signAB == signC {
				return packZero(signAB)
			}
			if mode == RDN {
				return packZero(true)
			}
			return packZero(false)
		}
		return c ^ boolMask(negAdd)
	}

	const extra = 3
	product := uint64(ua.mant) * uint64(ub.mant) // 2*(mantBits+1) bits
	productExp := ua.exp + ub.exp + 1 // weight of the widened product's bit 50, cMant's leading bit
	productShift := uint(extra)
	product <<= productShift // widen for alignment headroom

	if uc.isZero {
		return normalizeRound(signAB, productExp, product, 2*(fMantBits+1)+extra, mode, flags)
	}

	cMant := uint64(uc.mant) << (2*(fMantBits+1) + extra - (fMantBits + 1))
	expDiff := productExp - uc.exp

	var sum uint64
	var exp int32
	var sign bool
	cWidth := 2*(fMantBits+1) + extra
	if expDiff >= 0 {
		exp = productExp
		shifted := shiftRightSticky(cMant, uint(expDiff))
		if signAB == signC {
			sum = product + shifted
			sign = signAB
		} else {
			if product >= shifted {
				sum = product - shifted
				sign = signAB
			} else {
				sum = shifted - product
				sign = signC
			}
		}
	} else {
		exp = uc.exp
		shifted := shiftRightSticky(product, uint(-expDiff))
		if signAB == signC {
			sum = shifted + cMant
			sign = signC
		} else {
			if cMant >= shifted {
				sum = cMant - shifted
				sign = signC
			} else {
				sum = shifted - cMant
				sign = signAB
			}
		}
	}
	if sum == 0 {
		sign = mode == RDN
	}

	return normalizeRound(sign, exp, sum, uint(cWidth), mode, flags)
}

// FMin/FMax: a NaN operand (quiet or signaling) is passed over in favour of
// the other operand, the canonical NaN results only when both are NaN, and
// any signaling-NaN operand sets NV.
func FMin(a, b uint32, flags *uint32) uint32 { return fMinMax(a, b, true, flags) }
func FMax(a, b uint32, flags *uint32) uint32 { return fMinMax(a, b, false, flags) }

func fMinMax(a, b uint32, wantMin bool, flags *uint32) uint32 {
	ua, ub := unpack(a), unpack(b)
	if ua.isSignaling || ub.isSignaling {
		*flags |= FlagNV
	}
	if ua.isNaN && ub.isNaN {
		return packNaN()
	}
	if ua.isNaN {
		return b
	}
	if ub.isNaN {
		return a
	}
	if isNegZero(a) && isPosZero(b) {
		if wantMin {
			return a
		}
		return b
	}
	if isPosZero(a) && isNegZero(b) {
		if wantMin {
			return b
		}
		return a
	}
	if fLess(a, b) == wantMin {
		return a
	}
	return b
}

func isNegZero(bits uint32) bool { return bits == fSignBit }
func isPosZero(bits uint32) bool { return bits == 0 }

func fLess(a, b uint32) bool {
	ua, ub := unpack(a), unpack(b)
	if ua.isZero && ub.isZero {
		return false
	}
	if ua.sign != ub.sign {
		return ua.sign
	}
	if ua.sign {
		return magnitudeGreater(a, b)
	}
	return magnitudeGreater(b, a)
}

func magnitudeGreater(a, b uint32) bool {
	return (a &^ fSignBit) > (b &^ fSignBit)
}

// FEq/FLt/FLe implement the comparison predicates; FEq signals only on a
// signaling NaN, FLt/FLe signal on any NaN operand.
func FEq(a, b uint32, flags *uint32) bool {
	ua, ub := unpack(a), unpack(b)
	if ua.isSignaling || ub.isSignaling {
		*flags |= FlagNV
	}
	if ua.isNaN || ub.isNaN {
		return false
	}
	if ua.isZero && ub.isZero {
		return true
	}
	return a == b
}

func FLt(a, b uint32, flags *uint32) bool {
	ua, ub := unpack(a), unpack(b)
	if ua.isNaN || ub.isNaN {
		*flags |= FlagNV
		return false
	}
	return fLess(a, b)
}

func FLe(a, b uint32, flags *uint32) bool {
	ua, ub := unpack(a), unpack(b)
	if ua.isNaN || ub.isNaN {
		*flags |= FlagNV
		return false
	}
	return fLess(a, b) || a == b || (ua.isZero && ub.isZero)
}

// FClass reports the ten-bit FCLASS mask for bits.
func FClass(bits uint32) uint32 {
	u := unpack(bits)
	switch {
	case u.isNaN && u.isSignaling:
		return 1 << 8
	case u.isNaN:
		return 1 << 9
	case u.isInf && u.sign:
		return 1 << 0
	case u.isInf:
		return 1 << 7
	case u.isZero && u.sign:
		return 1 << 3
	case u.isZero:
		return 1 << 4
	case u.sign && u.exp == 1-fExpBias && u.mant>>fMantBits == 0:
		return 1 << 2
	case !u.sign && u.exp == 1-fExpBias && u.mant>>fMantBits == 0:
		return 1 << 5
	case u.sign:
		return 1 << 1
	default:
		return 1 << 6
	}
}

// FSgnj/FSgnjn/FSgnjx implement the sign-injection family.
func FSgnj(a, b uint32) uint32  { return (a &^ fSignBit) | (b & fSignBit) }
func FSgnjn(a, b uint32) uint32 { return (a &^ fSignBit) | (^b & fSignBit) }
func FSgnjx(a, b uint32) uint32 { return a ^ (b & fSignBit) }

// FCvtWS converts a to a signed 32-bit integer, per mode, saturating and
// setting NV on overflow or NaN input (NaN converts to the largest
// positive representable value, per the architectural convention).
func FCvtWS(a uint32, mode RoundingMode, flags *uint32) uint32 {
	u := unpack(a)
	if u.isNaN {
		*flags |= FlagNV
		return 0x7FFFFFFF
	}
	if u.isInf {
		*flags |= FlagNV
		if u.sign {
			return 0x80000000
		}
		return 0x7FFFFFFF
	}
	if u.isZero {
		return 0
	}

	fixed, inexact, overflow := toFixed(u, 32, mode)
	if overflow || (!u.sign && fixed > 0x7FFFFFFF) || (u.sign && fixed > 0x80000000) {
		*flags |= FlagNV
		if u.sign {
			return 0x80000000
		}
		return 0x7FFFFFFF
	}
	if inexact {
		*flags |= FlagNX
	}
	if u.sign {
		return uint32(-int32(fixed))
	}
	return uint32(fixed)
}

// FCvtWUS converts a to an unsigned 32-bit integer.
func FCvtWUS(a uint32, mode RoundingMode, flags *uint32) uint32 {
	u := unpack(a)
	if u.isNaN {
		*flags |= FlagNV
		return 0xFFFFFFFF
	}
	if u.isInf {
		*flags |= FlagNV
		if u.sign {
			return 0
		}
		return 0xFFFFFFFF
	}
	if u.isZero {
		return 0
	}
	if u.sign {
		fixed, inexact, _ := toFixed(u, 31, mode)
		if fixed != 0 {
			*flags |= FlagNV
			return 0
		}
		if inexact {
			*flags |= FlagNX
		}
		return 0
	}
	fixed, inexact, overflow := toFixed(u, 32, mode)
	if overflow {
		*flags |= FlagNV
		return 0xFFFFFFFF
	}
	if inexact {
		*flags |= FlagNX
	}
	return fixed
}

// toFixed converts an unpacked magnitude to an unsigned fixed-point value
// with at most widthBits bits, rounding per mode and reporting inexact and
// out-of-range.
func toFixed(u unpacked, widthBits uint, mode RoundingMode) (uint32, bool, bool) {
	if u.exp < 0 {
		rounded, inexact := roundMantissa(uint64(u.mant), uint(-u.exp)+fMantBits, u.sign, mode)
		return uint32(rounded), inexact, false
	}
	shift := u.exp - fMantBits
	if shift >= 0 {
		if uint(shift)+fMantBits+1 > widthBits+8 {
			return 0, false, true
		}
		v := uint64(u.mant) << uint(shift)
		if v>>widthBits != 0 {
			return 0, false, true
		}
		return uint32(v), false, false
	}
	rounded, inexact := roundMantissa(uint64(u.mant), uint(-shift), u.sign, mode)
	if rounded>>widthBits != 0 {
		return 0, false, true
	}
	return uint32(rounded), inexact, false
}

// FCvtSW converts a signed 32-bit integer to float.
func FCvtSW(v uint32, mode RoundingMode, flags *uint32) uint32 {
	signed := int32(v)
	if signed == 0 {
		return 0
	}
	sign := signed < 0
	mag := uint32(signed)
	if sign {
		mag = uint32(-signed)
	}
	return fromFixed(sign, mag, mode, flags)
}

// FCvtSWU converts an unsigned 32-bit integer to float.
func FCvtSWU(v uint32, mode RoundingMode, flags *uint32) uint32 {
	if v == 0 {
		return 0
	}
	return fromFixed(false, v, mode, flags)
}

func fromFixed(sign bool, mag uint32, mode RoundingMode, flags *uint32) uint32 {
	shift := 0
	m := mag
	for m&0x80000000 == 0 {
		m <<= 1
		shift++
	}
	exp := int32(31 - shift)
	// m now has its top bit set at bit 31; treat as mantBits+1+extra significand.
	const extra = 8
	wide := uint64(m) >> (31 - (fMantBits + extra))
	return normalizeRound(sign, exp, wide, fMantBits+1+extra, mode, flags)
}
