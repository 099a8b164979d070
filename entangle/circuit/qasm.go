package circuit

import (
	"fmt"
	"strconv"
	"strings"
)

// QASM renders the circuit as an OpenQASM 3.0 program, the exchange format
// understood by most hardware providers.
func (c *Circuit) QASM() string {
	var b strings.Builder
	b.WriteString("OPENQASM 3.0;\n")
	b.WriteString("include \"stdgates.inc\";\n")
	fmt.Fprintf(&b, "qubit[%d] q;\n", c.NumQubits)
	fmt.Fprintf(&b, "bit[%d] c;\n", c.NumClbits)
	for _, op := range c.Ops {
		if op.If != nil {
			fmt.Fprintf(&b, "if (c[%d] == %d) ", op.If.Clbit, op.If.Value)
		}
		if op.Gate == Measure {
			fmt.Fprintf(&b, "c[%d] = measure q[%d];\n", op.Clbit, op.Qubits[0])
			continue
		}
		b.WriteString(string(op.Gate))
		if len(op.Params) > 0 {
			ps := make([]string, len(op.Params))
			for i, p := range op.Params {
				ps[i] = strconv.FormatFloat(p, 'g', -1, 64)
			}
			fmt.Fprintf(&b, "(%s)", strings.Join(ps, ", "))
		}
		qs := make([]string, len(op.Qubits))
		for i, q := range op.Qubits {
			qs[i] = fmt.Sprintf("q[%d]", q)
		}
		fmt.Fprintf(&b, " %s;\n", strings.Join(qs, ", "))
	}
	return b.String()
}
