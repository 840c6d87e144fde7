package device

// Operator is a binary, associative, commutative combine step. The engine
// and the device kernels are parameterized over it instead of hard-coding
// summation: Combine drives host-side and simulated execution, Expr is
// the WGSL expression (over operands `a` and `b`) baked into generated
// shader source.
type Operator struct {
	// Name identifies the operator in shader cache keys and diagnostics.
	Name string

	// Combine merges two partial results.
	Combine func(a, b float64) float64

	// Expr is the WGSL f32 expression combining operands a and b.
	Expr string
}

// Sum adds partial results. This is the default reduction.
var Sum = Operator{
	Name:    "sum",
	Combine: func(a, b float64) float64 { return a + b },
	Expr:    "a + b",
}

// Product multiplies partial results.
var Product = Operator{
	Name:    "product",
	Combine: func(a, b float64) float64 { return a * b },
	Expr:    "a * b",
}

// Max keeps the larger of two partial results.
var Max = Operator{
	Name:    "max",
	Combine: func(a, b float64) float64 { return max(a, b) },
	Expr:    "max(a, b)",
}

// Min keeps the smaller of two partial results.
var Min = Operator{
	Name:    "min",
	Combine: func(a, b float64) float64 { return min(a, b) },
	Expr:    "min(a, b)",
}
