package acpi

import (
	"io"
	"log/slog"
)

// Table is a sub-table referenced by the extended table.
type Table struct {
	Addr   uint64
	Header Header
}

// Walker enumerates the sub-tables of an extended table.
type Walker struct {
	r    io.ReaderAt
	log  *slog.Logger
	addr uint64
	xsdt *XSDT
}

// NewWalker reads the extended table referenced by root. A wrong XSDT
// signature is reported and tolerated; a missing address or a length outside
// [HeaderSize, MaxTableLength] is an error.
func NewWalker(r io.ReaderAt, log *slog.Logger, root *RootPointer) (*Walker, error) {
	if !root.HasXSDT() || root.XSDTAddr == 0 {
		return nil, ErrMissingExtendedTable
	}

	x, err := ReadXSDT(r, root.XSDTAddr)
	if err != nil {
		return nil, err
	}

	if err := x.Valid(); err != nil {
		log.Warn("xsdt invalid, continuing", "addr", root.XSDTAddr, "err", err)
	} else {
		log.Info("xsdt valid", "addr", root.XSDTAddr, "entries", len(x.Entries))
	}

	return &Walker{r: r, log: log, addr: root.XSDTAddr, xsdt: x}, nil
}

func (w *Walker) Addr() uint64 {
	return w.addr
}

func (w *Walker) XSDT() *XSDT {
	return w.xsdt
}

// Tables returns the sub-table headers in array order. Entries that are null
// or whose header cannot be read are skipped. Every call reads memory again.
func (w *Walker) Tables() []Table {
	tables := make([]Table, 0, len(w.xsdt.Entries))

	for i, addr := range w.xsdt.Entries {
		if addr == 0 {
			w.log.Warn("null xsdt entry", "index", i)

			continue
		}

		h, err := ReadHeader(w.r, addr)
		if err != nil {
			w.log.Warn("unreadable xsdt entry", "index", i, "addr", addr, "err", err)

			continue
		}

		tables = append(tables, Table{Addr: addr, Header: h})
	}

	return tables
}

// Find returns the first sub-table with signature sig.
func (w *Walker) Find(sig Signature) (Table, bool) {
	for _, t := range w.Tables() {
		if sig.Equal(t.Header.Signature) {
			return t, true
		}
	}

	return Table{}, false
}
