package querytree

// UnaryOperator identifies the operation of a UnaryOp node.
type UnaryOperator int

const (
	OpNot UnaryOperator = iota
	OpNeg
)

func (o UnaryOperator) String() string {
	switch o {
	case OpNot:
		return "not"
	case OpNeg:
		return "neg"
	}
	return "unary?"
}

// BinaryOperator identifies the operation of a BinaryOp node.
type BinaryOperator int

const (
	OpAnd BinaryOperator = iota
	OpOr
	OpEqual
	OpNotEqual
	OpLess
	OpLessOrEqual
	OpGreater
	OpGreaterOrEqual
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpIn
)

func (o BinaryOperator) String() string {
	switch o {
	case OpAnd:
		return "and"
	case OpOr:
		return "or"
	case OpEqual:
		return "eq"
	case OpNotEqual:
		return "ne"
	case OpLess:
		return "lt"
	case OpLessOrEqual:
		return "le"
	case OpGreater:
		return "gt"
	case OpGreaterOrEqual:
		return "ge"
	case OpAdd:
		return "add"
	case OpSub:
		return "sub"
	case OpMul:
		return "mul"
	case OpDiv:
		return "div"
	case OpMod:
		return "mod"
	case OpIn:
		return "in"
	}
	return "binary?"
}

// UnaryOp applies Op to its operand. OpNot follows the truthiness rules of
// Conditional; OpNeg requires a numeric operand.
type UnaryOp struct {
	Op      UnaryOperator
	Operand Node
}

// Not negates a predicate.
func Not(operand Node) *UnaryOp { return &UnaryOp{Op: OpNot, Operand: operand} }

func (n *UnaryOp) Children() []Node { return []Node{n.Operand} }

func (n *UnaryOp) mapChildren(fn func(Node) Node) Node {
	op := fn(n.Operand)
	if op == n.Operand {
		return n
	}
	return &UnaryOp{Op: n.Op, Operand: op}
}

// BinaryOp applies Op to Left and Right. OpAnd and OpOr short-circuit: the
// right operand is not evaluated when the left decides the result.
type BinaryOp struct {
	Op    BinaryOperator
	Left  Node
	Right Node
}

// Bin constructs a BinaryOp.
func Bin(op BinaryOperator, left, right Node) *BinaryOp {
	return &BinaryOp{Op: op, Left: left, Right: right}
}

func (n *BinaryOp) Children() []Node { return []Node{n.Left, n.Right} }

func (n *BinaryOp) mapChildren(fn func(Node) Node) Node {
	l, r := fn(n.Left), fn(n.Right)
	if l == n.Left && r == n.Right {
		return n
	}
	return &BinaryOp{Op: n.Op, Left: l, Right: r}
}

// And folds terms into a left-associated conjunction. Nil terms are skipped.
// It returns nil when no terms remain, which callers treat as "no
// predicate".
func And(terms ...Node) Node {
	return fold(OpAnd, terms)
}

// Or folds terms into a left-associated disjunction, skipping nil terms and
// returning nil when none remain.
func Or(terms ...Node) Node {
	return fold(OpOr, terms)
}

func fold(op BinaryOperator, terms []Node) Node {
	var acc Node
	for _, t := range terms {
		if t == nil {
			continue
		}
		if acc == nil {
			acc = t
			continue
		}
		acc = &BinaryOp{Op: op, Left: acc, Right: t}
	}
	return acc
}
