package isa

// CSR describes one control/status register: its address and whether it
// can be written (some, like the performance counters this subset
// doesn't model, would be read-only if present).
type CSR struct {
	Name     string
	Address  uint16
	ReadOnly bool
}

// Well-known CSR addresses this subset's trap model touches.
const (
	CSRMscratch uint16 = 0x340
	CSRMepc     uint16 = 0x341
	CSRMcause   uint16 = 0x342
	CSRMtval    uint16 = 0x343
	CSRMtvec    uint16 = 0x305
)

var csrTable = []CSR{
	{Name: "mscratch", Address: CSRMscratch},
	{Name: "mepc", Address: CSRMepc},
	{Name: "mcause", Address: CSRMcause},
	{Name: "mtval", Address: CSRMtval},
	{Name: "mtvec", Address: CSRMtvec},
}

// CSRs returns every modeled CSR.
func CSRs() []CSR { return csrTable }

// WritableCSRs returns the subset of CSRs a sequence may pick as the
// target of csrrw/csrrs/csrrc/csrrwi/csrrsi/csrrci.
func WritableCSRs() []CSR {
	var out []CSR
	for _, c := range csrTable {
		if !c.ReadOnly {
			out = append(out, c)
		}
	}
	return out
}

// CSRByName looks up a CSR by its conventional name.
func CSRByName(name string) (CSR, bool) {
	for _, c := range csrTable {
		if c.Name == name {
			return c, true
		}
	}
	return CSR{}, false
}
