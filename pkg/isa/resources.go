package isa

import "fmt"

// ResourceNamespace names a reservable register/CSR class, matching the
// namespaces the Reserver pools by.
type ResourceNamespace string

const (
	NamespaceGPR ResourceNamespace = "GPR"
	NamespaceFPR ResourceNamespace = "FPR"
	NamespaceCSR ResourceNamespace = "CSR"
)

// ReservableResources enumerates every identifier the Reserver should
// seed its pools with: x1..x31 (x0 is hardwired zero and never
// reservable), f0..f31, and the writable CSR set.
func ReservableResources() map[ResourceNamespace][]any {
	gpr := make([]any, 0, 31)
	for i := 1; i < 32; i++ {
		gpr = append(gpr, i)
	}
	fpr := make([]any, 0, 32)
	for i := 0; i < 32; i++ {
		fpr = append(fpr, i)
	}
	var csr []any
	for _, c := range WritableCSRs() {
		csr = append(csr, c.Name)
	}
	return map[ResourceNamespace][]any{
		NamespaceGPR: gpr,
		NamespaceFPR: fpr,
		NamespaceCSR: csr,
	}
}

// GPRName renders a GPR index as its conventional assembly name.
func GPRName(i int) string {
	if i == 0 {
		return "zero"
	}
	return fmt.Sprintf("x%d", i)
}

// FPRName renders an FPR index as its conventional assembly name.
func FPRName(i int) string { return fmt.Sprintf("f%d", i) }
