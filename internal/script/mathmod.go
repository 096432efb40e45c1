package script

import (
	"math"
	"math/big"
)

func mathDomain() error { return newError(ValueError, "math domain error") }

func floatArg(fname string, v Value) (float64, error) {
	f, ok := toFloat(v)
	if !ok {
		return 0, newError(TypeError, "must be real number, not %s", v.TypeName())
	}
	return f, nil
}

func intArg(fname string, v Value) (*big.Int, error) {
	b, ok := toBig(v)
	if !ok || !isIntegral(v) {
		return nil, newError(TypeError, "'%s' object cannot be interpreted as an integer", v.TypeName())
	}
	return b, nil
}

func checkFloat(f float64) (Value, error) {
	if math.IsInf(f, 0) {
		return nil, newError(OverflowError, "math range error")
	}
	return Float(f), nil
}

func mathModule(in *Interp) *Module {
	m := NewModule("math")
	m.Set("pi", Float(math.Pi))
	m.Set("e", Float(math.E))
	m.Set("tau", Float(2*math.Pi))
	m.Set("inf", Float(math.Inf(1)))
	m.Set("nan", Float(math.NaN()))

	unary := func(name string, fn func(float64) (float64, bool)) {
		m.Func(name, func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
			a, err := unpackArgs(name, args, kw, "x")
			if err != nil {
				return nil, err
			}
			x, err := floatArg(name, a[0])
			if err != nil {
				return nil, err
			}
			r, ok := fn(x)
			if !ok {
				return nil, mathDomain()
			}
			if math.IsInf(r, 0) && !math.IsInf(x, 0) {
				return nil, newError(OverflowError, "math range error")
			}
			return Float(r), nil
		})
	}
	total := func(fn func(float64) float64) func(float64) (float64, bool) {
		return func(x float64) (float64, bool) { return fn(x), true }
	}
	positive := func(fn func(float64) float64) func(float64) (float64, bool) {
		return func(x float64) (float64, bool) { return fn(x), x > 0 }
	}
	unary("sqrt", func(x float64) (float64, bool) { return math.Sqrt(x), x >= 0 })
	unary("exp", total(math.Exp))
	unary("log2", positive(math.Log2))
	unary("log10", positive(math.Log10))
	unary("log1p", func(x float64) (float64, bool) { return math.Log1p(x), x > -1 })
	unary("sin", total(math.Sin))
	unary("cos", total(math.Cos))
	unary("tan", total(math.Tan))
	unary("asin", func(x float64) (float64, bool) { return math.Asin(x), x >= -1 && x <= 1 })
	unary("acos", func(x float64) (float64, bool) { return math.Acos(x), x >= -1 && x <= 1 })
	unary("atan", total(math.Atan))
	unary("sinh", total(math.Sinh))
	unary("cosh", total(math.Cosh))
	unary("tanh", total(math.Tanh))
	unary("fabs", total(math.Abs))
	unary("degrees", total(func(x float64) float64 { return x * 180 / math.Pi }))
	unary("radians", total(func(x float64) float64 { return x * math.Pi / 180 }))

	m.Func("log", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("log", args, kw, "x", "base?")
		if err != nil {
			return nil, err
		}
		x, err := logOf(a[0])
		if err != nil {
			return nil, err
		}
		if a[1] == nil {
			return Float(x), nil
		}
		b, err := logOf(a[1])
		if err != nil {
			return nil, err
		}
		if b == 0 {
			return nil, newError(ZeroDivisionError, "float division by zero")
		}
		return Float(x / b), nil
	})
	rounding := func(name string, fn func(float64) float64) {
		m.Func(name, func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
			a, err := unpackArgs(name, args, kw, "x")
			if err != nil {
				return nil, err
			}
			if isIntegral(a[0]) {
				b, _ := toBig(a[0])
				return NewBig(b), nil
			}
			if inst, ok := a[0].(*Instance); ok {
				if meth, ok := inst.Class.Lookup("__" + name + "__"); ok {
					return in.callMethod(inst, meth, nil, nil)
				}
			}
			x, err := floatArg(name, a[0])
			if err != nil {
				return nil, err
			}
			if math.IsInf(x, 0) {
				return nil, newError(OverflowError, "cannot convert float infinity to integer")
			}
			if math.IsNaN(x) {
				return nil, newError(ValueError, "cannot convert float NaN to integer")
			}
			return NewBig(floatToBig(fn(x))), nil
		})
	}
	rounding("floor", math.Floor)
	rounding("ceil", math.Ceil)
	rounding("trunc", math.Trunc)

	binary := func(name string, fn func(x, y float64) (Value, error)) {
		m.Func(name, func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
			a, err := unpackArgs(name, args, kw, "x", "y")
			if err != nil {
				return nil, err
			}
			x, err := floatArg(name, a[0])
			if err != nil {
				return nil, err
			}
			y, err := floatArg(name, a[1])
			if err != nil {
				return nil, err
			}
			return fn(x, y)
		})
	}
	binary("pow", func(x, y float64) (Value, error) {
		if x == 0 && y < 0 {
			return nil, mathDomain()
		}
		if x < 0 && y != math.Trunc(y) {
			return nil, mathDomain()
		}
		return checkFloat(math.Pow(x, y))
	})
	binary("atan2", func(y, x float64) (Value, error) { return Float(math.Atan2(y, x)), nil })
	binary("copysign", func(x, y float64) (Value, error) { return Float(math.Copysign(x, y)), nil })
	binary("fmod", func(x, y float64) (Value, error) {
		if y == 0 {
			return nil, mathDomain()
		}
		return Float(math.Mod(x, y)), nil
	})
	binary("remainder", func(x, y float64) (Value, error) {
		if y == 0 {
			return nil, mathDomain()
		}
		return Float(math.Remainder(x, y)), nil
	})
	m.Func("modf", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("modf", args, kw, "x")
		if err != nil {
			return nil, err
		}
		x, err := floatArg("modf", a[0])
		if err != nil {
			return nil, err
		}
		i, f := math.Modf(x)
		return NewTuple(Float(f), Float(i)), nil
	})
	m.Func("hypot", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		if err := noKwargs("hypot", kw); err != nil {
			return nil, err
		}
		sum := 0.0
		for _, v := range args {
			x, err := floatArg("hypot", v)
			if err != nil {
				return nil, err
			}
			sum = math.Hypot(sum, x)
		}
		return Float(sum), nil
	})
	m.Func("dist", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("dist", args, kw, "p", "q")
		if err != nil {
			return nil, err
		}
		p, err := in.iterate(a[0])
		if err != nil {
			return nil, err
		}
		q, err := in.iterate(a[1])
		if err != nil {
			return nil, err
		}
		if len(p) != len(q) {
			return nil, newError(ValueError, "both points must have the same number of dimensions")
		}
		sum := 0.0
		for i := range p {
			x, err := floatArg("dist", p[i])
			if err != nil {
				return nil, err
			}
			y, err := floatArg("dist", q[i])
			if err != nil {
				return nil, err
			}
			sum = math.Hypot(sum, x-y)
		}
		return Float(sum), nil
	})
	predicate := func(name string, fn func(float64) bool) {
		m.Func(name, func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
			a, err := unpackArgs(name, args, kw, "x")
			if err != nil {
				return nil, err
			}
			x, err := floatArg(name, a[0])
			if err != nil {
				return nil, err
			}
			return boolValue(fn(x)), nil
		})
	}
	predicate("isinf", func(x float64) bool { return math.IsInf(x, 0) })
	predicate("isnan", math.IsNaN)
	predicate("isfinite", func(x float64) bool { return !math.IsInf(x, 0) && !math.IsNaN(x) })
	m.Func("isclose", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("isclose", args, kw, "a", "b", "rel_tol?", "abs_tol?")
		if err != nil {
			return nil, err
		}
		x, err := floatArg("isclose", a[0])
		if err != nil {
			return nil, err
		}
		y, err := floatArg("isclose", a[1])
		if err != nil {
			return nil, err
		}
		rel, abs := 1e-9, 0.0
		if a[2] != nil {
			if rel, err = floatArg("isclose", a[2]); err != nil {
				return nil, err
			}
		}
		if a[3] != nil {
			if abs, err = floatArg("isclose", a[3]); err != nil {
				return nil, err
			}
		}
		if rel < 0 || abs < 0 {
			return nil, newError(ValueError, "tolerances must be non-negative")
		}
		if x == y {
			return True, nil
		}
		if math.IsInf(x, 0) || math.IsInf(y, 0) {
			return False, nil
		}
		diff := math.Abs(x - y)
		return boolValue(diff <= math.Abs(rel*y) || diff <= math.Abs(rel*x) || diff <= abs), nil
	})

	m.Func("factorial", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("factorial", args, kw, "n")
		if err != nil {
			return nil, err
		}
		n, err := intArg("factorial", a[0])
		if err != nil {
			return nil, err
		}
		if n.Sign() < 0 {
			return nil, newError(ValueError, "factorial() not defined for negative values")
		}
		if !n.IsInt64() || n.Int64() > 100000 {
			return nil, newError(OverflowError, "factorial() argument should not exceed 100000")
		}
		return NewBig(new(big.Int).MulRange(1, n.Int64())), nil
	})
	m.Func("gcd", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		g := new(big.Int)
		for _, v := range args {
			b, err := intArg("gcd", v)
			if err != nil {
				return nil, err
			}
			g.GCD(nil, nil, g.Abs(g), new(big.Int).Abs(b))
		}
		return NewBig(g), nil
	})
	m.Func("lcm", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		l := big.NewInt(1)
		for _, v := range args {
			b, err := intArg("lcm", v)
			if err != nil {
				return nil, err
			}
			if b.Sign() == 0 {
				return Int(0), nil
			}
			b = new(big.Int).Abs(b)
			g := new(big.Int).GCD(nil, nil, l, b)
			l.Mul(l, b.Quo(b, g))
		}
		return NewBig(l), nil
	})
	m.Func("isqrt", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("isqrt", args, kw, "n")
		if err != nil {
			return nil, err
		}
		n, err := intArg("isqrt", a[0])
		if err != nil {
			return nil, err
		}
		if n.Sign() < 0 {
			return nil, newError(ValueError, "isqrt() argument must be nonnegative")
		}
		return NewBig(new(big.Int).Sqrt(n)), nil
	})
	choose := func(name string, perm bool) {
		m.Func(name, func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
			a, err := unpackArgs(name, args, kw, "n", "k?")
			if err != nil {
				return nil, err
			}
			n, err := intArg(name, a[0])
			if err != nil {
				return nil, err
			}
			k := n
			if a[1] != nil && a[1] != None {
				if k, err = intArg(name, a[1]); err != nil {
					return nil, err
				}
			} else if !perm {
				return nil, newError(TypeError, "comb() missing required argument 'k' (pos 2)")
			}
			if n.Sign() < 0 {
				return nil, newError(ValueError, "n must be a non-negative integer")
			}
			if k.Sign() < 0 {
				return nil, newError(ValueError, "k must be a non-negative integer")
			}
			if k.Cmp(n) > 0 {
				return Int(0), nil
			}
			if !n.IsInt64() {
				return nil, newError(OverflowError, "%s() argument too large", name)
			}
			nn, kk := n.Int64(), k.Int64()
			if perm {
				return NewBig(new(big.Int).MulRange(nn-kk+1, nn)), nil
			}
			return NewBig(new(big.Int).Binomial(nn, kk)), nil
		})
	}
	choose("comb", false)
	choose("perm", true)
	m.Func("prod", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("prod", args, kw, "iterable", "start?")
		if err != nil {
			return nil, err
		}
		items, err := in.iterate(a[0])
		if err != nil {
			return nil, err
		}
		acc := Value(Int(1))
		if a[1] != nil {
			acc = a[1]
		}
		for _, it := range items {
			if acc, err = in.binaryOp("*", acc, it); err != nil {
				return nil, err
			}
		}
		return acc, nil
	})
	m.Func("fsum", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("fsum", args, kw, "seq")
		if err != nil {
			return nil, err
		}
		items, err := in.iterate(a[0])
		if err != nil {
			return nil, err
		}
		// Neumaier summation
		sum, c := 0.0, 0.0
		for _, it := range items {
			x, err := floatArg("fsum", it)
			if err != nil {
				return nil, err
			}
			t := sum + x
			if math.Abs(sum) >= math.Abs(x) {
				c += (sum - t) + x
			} else {
				c += (x - t) + sum
			}
			sum = t
		}
		return Float(sum + c), nil
	})
	return m
}

func logOf(v Value) (float64, error) {
	if b, ok := toBig(v); ok && isIntegral(v) {
		if b.Sign() <= 0 {
			return 0, mathDomain()
		}
		if b.BitLen() > 1000 {
			shift := b.BitLen() - 64
			top, _ := new(big.Float).SetInt(new(big.Int).Rsh(b, uint(shift))).Float64()
			return math.Log(top) + float64(shift)*math.Ln2, nil
		}
	}
	x, err := floatArg("log", v)
	if err != nil {
		return 0, err
	}
	if x <= 0 {
		return 0, mathDomain()
	}
	return math.Log(x), nil
}

func randomModule(in *Interp) *Module {
	m := NewModule("random")
	r := in.Rand()
	m.Func("seed", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("seed", args, kw, "a?", "version?")
		if err != nil {
			return nil, err
		}
		var seed int64
		if a[0] != nil && a[0] != None {
			h, err := in.Hash(a[0])
			if err != nil {
				return nil, err
			}
			seed = h
		}
		in.Seed(seed)
		return None, nil
	})
	m.Func("random", func(*Interp, []Value, []Kwarg) (Value, error) { return Float(r.Float64()), nil })
	m.Func("uniform", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("uniform", args, kw, "a", "b")
		if err != nil {
			return nil, err
		}
		lo, err := floatArg("uniform", a[0])
		if err != nil {
			return nil, err
		}
		hi, err := floatArg("uniform", a[1])
		if err != nil {
			return nil, err
		}
		return Float(lo + (hi-lo)*r.Float64()), nil
	})
	gauss := func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("gauss", args, kw, "mu?", "sigma?")
		if err != nil {
			return nil, err
		}
		mu, sigma := 0.0, 1.0
		if a[0] != nil {
			if mu, err = floatArg("gauss", a[0]); err != nil {
				return nil, err
			}
		}
		if a[1] != nil {
			if sigma, err = floatArg("gauss", a[1]); err != nil {
				return nil, err
			}
		}
		return Float(mu + sigma*r.NormFloat64()), nil
	}
	m.Func("gauss", gauss)
	m.Func("normalvariate", gauss)
	randrange := func(start, stop, step int64) (Value, error) {
		if step == 0 {
			return nil, newError(ValueError, "zero step for randrange()")
		}
		n := (stop - start + step - 1) / step
		if step < 0 {
			n = (stop - start + step + 1) / step
		}
		if n <= 0 {
			return nil, newError(ValueError, "empty range for randrange() (%d, %d, %d)", start, stop, n)
		}
		return Int(start + step*r.Int63n(n)), nil
	}
	m.Func("randint", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("randint", args, kw, "a", "b")
		if err != nil {
			return nil, err
		}
		lo, ok1 := toInt64(a[0])
		hi, ok2 := toInt64(a[1])
		if !ok1 || !ok2 {
			return nil, newError(TypeError, "randint() arguments must be integers")
		}
		return randrange(lo, hi+1, 1)
	})
	m.Func("randrange", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("randrange", args, kw, "start", "stop?", "step?")
		if err != nil {
			return nil, err
		}
		var bounds [3]int64
		bounds[2] = 1
		for i, v := range a {
			if v == nil || v == None {
				continue
			}
			n, ok := toInt64(v)
			if !ok {
				return nil, newError(TypeError, "'%s' object cannot be interpreted as an integer", v.TypeName())
			}
			bounds[i] = n
		}
		if a[1] == nil || a[1] == None {
			return randrange(0, bounds[0], 1)
		}
		return randrange(bounds[0], bounds[1], bounds[2])
	})
	m.Func("getrandbits", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("getrandbits", args, kw, "k")
		if err != nil {
			return nil, err
		}
		k, ok := toInt64(a[0])
		if !ok || k < 0 {
			return nil, newError(ValueError, "number of bits must be non-negative")
		}
		out := new(big.Int)
		for i := int64(0); i < k; i += 63 {
			out.Lsh(out, 63).Or(out, big.NewInt(r.Int63()))
		}
		return NewBig(out.Rsh(out, uint((63-k%63)%63))), nil
	})
	m.Func("choice", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("choice", args, kw, "seq")
		if err != nil {
			return nil, err
		}
		n, err := in.Len(a[0])
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, newError(IndexError, "Cannot choose from an empty sequence")
		}
		return in.getItem(a[0], Int(r.Intn(n)))
	})
	m.Func("choices", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("choices", args, kw, "population", "weights?", "cum_weights?", "k?")
		if err != nil {
			return nil, err
		}
		pop, err := in.iterate(a[0])
		if err != nil {
			return nil, err
		}
		k := int64(1)
		if a[3] != nil {
			k, _ = toInt64(a[3])
		}
		var cum []float64
		switch {
		case a[1] != nil && a[1] != None:
			ws, err := in.iterate(a[1])
			if err != nil {
				return nil, err
			}
			acc := 0.0
			for _, w := range ws {
				x, err := floatArg("choices", w)
				if err != nil {
					return nil, err
				}
				acc += x
				cum = append(cum, acc)
			}
		case a[2] != nil && a[2] != None:
			ws, err := in.iterate(a[2])
			if err != nil {
				return nil, err
			}
			for _, w := range ws {
				x, err := floatArg("choices", w)
				if err != nil {
					return nil, err
				}
				cum = append(cum, x)
			}
		}
		if cum != nil && len(cum) != len(pop) {
			return nil, newError(ValueError, "The number of weights does not match the population")
		}
		if len(pop) == 0 {
			return nil, newError(IndexError, "Cannot choose from an empty population")
		}
		out := make([]Value, 0, max(k, 0))
		for range k {
			if cum == nil {
				out = append(out, pop[r.Intn(len(pop))])
				continue
			}
			x := r.Float64() * cum[len(cum)-1]
			i := 0
			for i < len(cum)-1 && cum[i] <= x {
				i++
			}
			out = append(out, pop[i])
		}
		return NewList(out), nil
	})
	m.Func("shuffle", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("shuffle", args, kw, "x")
		if err != nil {
			return nil, err
		}
		l, ok := a[0].(*List)
		if !ok {
			return nil, newError(TypeError, "'%s' object does not support item assignment", a[0].TypeName())
		}
		r.Shuffle(len(l.Items), func(i, j int) { l.Items[i], l.Items[j] = l.Items[j], l.Items[i] })
		return None, nil
	})
	m.Func("sample", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("sample", args, kw, "population", "k", "counts?")
		if err != nil {
			return nil, err
		}
		if _, ok := a[0].(*Set); ok {
			return nil, newError(TypeError, "Population must be a sequence.  For dicts or sets, use sorted(d).")
		}
		pop, err := in.iterate(a[0])
		if err != nil {
			return nil, err
		}
		k, ok := toInt64(a[1])
		if !ok || k < 0 || k > int64(len(pop)) {
			return nil, newError(ValueError, "Sample larger than population or is negative")
		}
		perm := r.Perm(len(pop))[:k]
		out := make([]Value, k)
		for i, p := range perm {
			out[i] = pop[p]
		}
		return NewList(out), nil
	})
	return m
}
