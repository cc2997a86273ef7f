package invariant

// Invariant panics with msg when cond does not hold. Used for conditions that
// indicate a bug in this module rather than bad caller input.
func Invariant(cond bool, msg string) {
	if !cond {
		panic(msg)
	}
}
