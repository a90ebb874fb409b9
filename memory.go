package symx

import (
	"fmt"
	"strings"

	"github.com/benbjohnson/immutable"
	"github.com/pkg/errors"
)

// PageSize is the granularity of mappings and copy-on-write storage.
const PageSize = 0x1000

// Perm represents the access permissions of a mapped region.
type Perm uint8

// Region permissions.
const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec

	PermNone Perm = 0
	PermAll       = PermRead | PermWrite | PermExec
)

// String returns the permissions in "rwx" form.
func (p Perm) String() string {
	b := []byte("---")
	if p&PermRead != 0 {
		b[0] = 'r'
	}
	if p&PermWrite != 0 {
		b[1] = 'w'
	}
	if p&PermExec != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// ParsePerm parses permissions in "rwx" form. Dashes are ignored.
func ParsePerm(s string) (Perm, error) {
	var p Perm
	for _, ch := range strings.ToLower(s) {
		switch ch {
		case 'r':
			p |= PermRead
		case 'w':
			p |= PermWrite
		case 'x':
			p |= PermExec
		case '-':
		default:
			return 0, errors.Errorf("invalid permission %q in %q", ch, s)
		}
	}
	return p, nil
}

// Access represents the kind of memory access that caused a fault.
type Access int

// Memory access kinds.
const (
	AccessRead Access = iota + 1
	AccessWrite
	AccessExec
)

// String returns the name of the access kind.
func (a Access) String() string {
	switch a {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessExec:
		return "exec"
	default:
		return fmt.Sprintf("Access<%d>", int(a))
	}
}

func (a Access) perm() Perm {
	switch a {
	case AccessRead:
		return PermRead
	case AccessWrite:
		return PermWrite
	case AccessExec:
		return PermExec
	default:
		return PermNone
	}
}

// MemoryFault is returned when an access falls outside of a mapped region
// or violates the region's permissions.
type MemoryFault struct {
	Addr   uint64
	Size   uint64
	Access Access
	Err    error // ErrUnmapped or ErrPermission
}

// Error returns the error message.
func (e *MemoryFault) Error() string {
	return fmt.Sprintf("%s fault at %#x (%d bytes): %s", e.Access, e.Addr, e.Size, e.Err)
}

// Unwrap returns the underlying error.
func (e *MemoryFault) Unwrap() error { return e.Err }

// Mapping is a contiguous region of mapped memory.
type Mapping struct {
	Start uint64
	Size  uint64
	Perm  Perm
}

// End returns the address immediately after the region.
func (m Mapping) End() uint64 { return m.Start + m.Size }

// Contains returns true if [addr, addr+n) lies within the region.
func (m Mapping) Contains(addr, n uint64) bool {
	return addr >= m.Start && addr-m.Start < m.Size && n <= m.Size-(addr-m.Start)
}

// String returns the region in "start-end perm" form.
func (m Mapping) String() string {
	return fmt.Sprintf("%#x-%#x %s", m.Start, m.End(), m.Perm)
}

// Memory represents a byte addressable, page mapped address space.
//
// Read & Write are architectural accesses and enforce region permissions.
// ReadBytes & WriteBytes are host accesses used for loading and inspection
// and only require the range to be mapped.
type Memory interface {
	// Map reserves a page aligned region. Size is rounded up to a page.
	Map(addr, size uint64, perm Perm) error

	// Unmap removes any mappings within the page aligned range.
	Unmap(addr, size uint64) error

	// Protect changes the permissions of a fully mapped range.
	Protect(addr, size uint64, perm Perm) error

	// Mappings returns the mapped regions ordered by address.
	Mappings() []Mapping

	// Read returns n bytes at addr composed little-endian into an 8n-bit value.
	Read(addr uint64, n uint) (Expr, error)

	// Write stores value little-endian at addr. Value must be a whole number of bytes.
	Write(addr uint64, value Expr) error

	// ReadBytes returns n concrete bytes at addr.
	ReadBytes(addr uint64, n uint) ([]byte, error)

	// WriteBytes stores p at addr.
	WriteBytes(addr uint64, p []byte) error

	// Fetch returns up to max executable bytes starting at addr. Fewer bytes
	// are returned if executable memory ends or a symbolic byte is reached.
	Fetch(addr uint64, max uint) ([]byte, error)

	// Snapshot returns the current contents for a later Restore.
	Snapshot() MemorySnapshot

	// Restore resets the memory to a previous snapshot.
	Restore(MemorySnapshot)

	// Fork returns an independent copy bound to cs.
	Fork(cs *ConstraintSet) Memory
}

// MemorySnapshot is an immutable view of a Memory's mappings and contents.
type MemorySnapshot struct {
	regions *immutable.SortedMap[uint64, Mapping]
	pages   *immutable.SortedMap[uint64, *page]
}

// page holds PageSize bytes. Pages reachable from a snapshot or another
// memory are never modified; see pagedMemory.gen.
type page struct {
	gen  uint64
	data [PageSize]byte
	sym  map[uint16]Expr // symbolic bytes by page offset
}

func (p *page) clone(gen uint64) *page {
	other := &page{gen: gen, data: p.data}
	if len(p.sym) > 0 {
		other.sym = make(map[uint16]Expr, len(p.sym))
		for k, v := range p.sym {
			other.sym[k] = v
		}
	}
	return other
}

// pagedMemory implements the mapping & page storage shared by the concrete
// and symbolic memories. Pages are stored in persistent sorted maps so a
// snapshot is a pair of pointers.
type pagedMemory struct {
	regions *immutable.SortedMap[uint64, Mapping]
	pages   *immutable.SortedMap[uint64, *page]

	// Pages created at the current generation are owned exclusively and may
	// be written in place. Snapshots and forks start a new generation.
	gen uint64
}

func newPagedMemory() pagedMemory {
	return pagedMemory{
		regions: immutable.NewSortedMap[uint64, Mapping](&uint64Comparer{}),
		pages:   immutable.NewSortedMap[uint64, *page](&uint64Comparer{}),
		gen:     1,
	}
}

// Map reserves a page aligned region. Returns ErrMappingOverlap if any part
// of the region is already mapped.
func (m *pagedMemory) Map(addr, size uint64, perm Perm) error {
	size, err := alignRange(addr, size)
	if err != nil {
		return err
	}
	for _, r := range m.Mappings() {
		if r.Start < addr+size && addr < r.End() {
			return errors.Wrapf(ErrMappingOverlap, "map %#x-%#x: %s", addr, addr+size, r)
		}
	}
	m.regions = m.regions.Set(addr, Mapping{Start: addr, Size: size, Perm: perm})
	return nil
}

// Unmap removes the range from every region and discards its contents.
func (m *pagedMemory) Unmap(addr, size uint64) error {
	size, err := alignRange(addr, size)
	if err != nil {
		return err
	}
	m.carve(addr, addr+size)
	for pg := addr; pg < addr+size; pg += PageSize {
		m.pages = m.pages.Delete(pg)
	}
	return nil
}

// Protect changes the permissions of a range. Every byte must be mapped.
func (m *pagedMemory) Protect(addr, size uint64, perm Perm) error {
	size, err := alignRange(addr, size)
	if err != nil {
		return err
	}

	var mapped uint64
	for _, r := range m.Mappings() {
		if r.Start < addr+size && addr < r.End() {
			mapped += min(r.End(), addr+size) - max(r.Start, addr)
		}
	}
	if mapped != size {
		return &MemoryFault{Addr: addr, Size: size, Err: ErrUnmapped}
	}

	for _, r := range m.carve(addr, addr+size) {
		r.Perm = perm
		m.regions = m.regions.Set(r.Start, r)
	}
	return nil
}

// carve removes [addr, end) from every region, keeping the remainders,
// and returns the removed pieces.
func (m *pagedMemory) carve(addr, end uint64) []Mapping {
	var removed []Mapping
	for _, r := range m.Mappings() {
		if r.Start >= end || r.End() <= addr {
			continue
		}
		m.regions = m.regions.Delete(r.Start)
		if r.Start < addr {
			m.regions = m.regions.Set(r.Start, Mapping{Start: r.Start, Size: addr - r.Start, Perm: r.Perm})
		}
		if r.End() > end {
			m.regions = m.regions.Set(end, Mapping{Start: end, Size: r.End() - end, Perm: r.Perm})
		}
		lo, hi := max(r.Start, addr), min(r.End(), end)
		removed = append(removed, Mapping{Start: lo, Size: hi - lo, Perm: r.Perm})
	}
	return removed
}

// Mappings returns all regions ordered by start address.
func (m *pagedMemory) Mappings() []Mapping {
	a := make([]Mapping, 0, m.regions.Len())
	itr := m.regions.Iterator()
	for !itr.Done() {
		_, r, _ := itr.Next()
		a = append(a, r)
	}
	return a
}

// region returns the region containing addr.
func (m *pagedMemory) region(addr uint64) (Mapping, bool) {
	itr := m.regions.Iterator()
	if itr.Seek(addr); itr.Done() {
		itr.Last()
	}
	for !itr.Done() {
		start, r, _ := itr.Prev()
		if r.Contains(addr, 1) {
			return r, true
		} else if start <= addr {
			break
		}
	}
	return Mapping{}, false
}

// check returns a fault unless [addr, addr+n) lies within a single region
// allowing access. A zero access only requires the range to be mapped.
func (m *pagedMemory) check(addr, n uint64, access Access) error {
	if n == 0 {
		return nil
	}
	r, ok := m.region(addr)
	if !ok || !r.Contains(addr, n) {
		return &MemoryFault{Addr: addr, Size: n, Access: access, Err: ErrUnmapped}
	} else if p := access.perm(); r.Perm&p != p {
		return &MemoryFault{Addr: addr, Size: n, Access: access, Err: ErrPermission}
	}
	return nil
}

// load returns the byte at addr. The expression is non-nil if the byte is symbolic.
func (m *pagedMemory) load(addr uint64) (byte, Expr) {
	pg, ok := m.pages.Get(addr &^ (PageSize - 1))
	if !ok {
		return 0, nil
	}
	off := addr & (PageSize - 1)
	if expr, ok := pg.sym[uint16(off)]; ok {
		return 0, expr
	}
	return pg.data[off], nil
}

// store sets the byte at addr. A nil expr stores the concrete byte b.
func (m *pagedMemory) store(addr uint64, b byte, expr Expr) {
	base, off := addr&^(PageSize-1), addr&(PageSize-1)

	pg, ok := m.pages.Get(base)
	switch {
	case !ok:
		pg = &page{gen: m.gen}
		m.pages = m.pages.Set(base, pg)
	case pg.gen != m.gen:
		pg = pg.clone(m.gen)
		m.pages = m.pages.Set(base, pg)
	}

	if expr != nil {
		if pg.sym == nil {
			pg.sym = make(map[uint16]Expr)
		}
		pg.sym[uint16(off)] = expr
		return
	}
	delete(pg.sym, uint16(off))
	pg.data[off] = b
}

// read composes n bytes at addr after checking access.
func (m *pagedMemory) read(addr uint64, n uint, access Access) (Expr, error) {
	assert(n > 0 && n <= MaxWidth/8, "invalid read size: %d", n)
	if err := m.check(addr, uint64(n), access); err != nil {
		return nil, err
	}

	buf := make([]byte, n)
	var exprs []Expr
	for i := uint(0); i < n; i++ {
		b, expr := m.load(addr + uint64(i))
		if expr != nil && exprs == nil {
			exprs = make([]Expr, n)
			for j := uint(0); j < i; j++ {
				exprs[n-1-j] = NewConstantExpr8(uint64(buf[j]))
			}
		}
		buf[i] = b

		if exprs != nil {
			if expr == nil {
				expr = NewConstantExpr8(uint64(b))
			}
			exprs[n-1-i] = expr
		}
	}

	if exprs == nil {
		return NewConstantExprBytes(buf), nil
	}
	return NewConcatExprs(exprs...), nil
}

// bytes returns n concrete bytes at addr.
func (m *pagedMemory) bytes(addr uint64, n uint) ([]byte, error) {
	p := make([]byte, n)
	for i := range p {
		b, expr := m.load(addr + uint64(i))
		if expr != nil {
			return nil, errors.Wrapf(ErrSymbolicValue, "read %#x", addr+uint64(i))
		}
		p[i] = b
	}
	return p, nil
}

// ReadBytes returns n concrete bytes at addr. The range must be mapped.
func (m *pagedMemory) ReadBytes(addr uint64, n uint) ([]byte, error) {
	if err := m.check(addr, uint64(n), 0); err != nil {
		return nil, err
	}
	return m.bytes(addr, n)
}

// WriteBytes stores p at addr regardless of region permissions.
func (m *pagedMemory) WriteBytes(addr uint64, p []byte) error {
	if err := m.check(addr, uint64(len(p)), 0); err != nil {
		return err
	}
	for i, b := range p {
		m.store(addr+uint64(i), b, nil)
	}
	return nil
}

// Fetch returns up to max executable bytes at addr.
func (m *pagedMemory) Fetch(addr uint64, max uint) ([]byte, error) {
	var p []byte
	for i := uint(0); i < max; i++ {
		a := addr + uint64(i)
		if err := m.check(a, 1, AccessExec); err != nil {
			if i == 0 {
				return nil, err
			}
			break
		}

		b, expr := m.load(a)
		if expr != nil {
			if i == 0 {
				return nil, &ConcretizeRequest{Location: MemoryLocation(a, 1), Expr: expr}
			}
			break
		}
		p = append(p, b)
	}
	return p, nil
}

// Snapshot returns the current contents. Subsequent writes copy pages.
func (m *pagedMemory) Snapshot() MemorySnapshot {
	m.gen++
	return MemorySnapshot{regions: m.regions, pages: m.pages}
}

// Restore resets the memory to the contents of snapshot.
func (m *pagedMemory) Restore(snapshot MemorySnapshot) {
	m.regions, m.pages = snapshot.regions, snapshot.pages
	m.gen++
}

// fork returns a copy sharing all current pages.
func (m *pagedMemory) fork() pagedMemory {
	m.gen++
	return pagedMemory{regions: m.regions, pages: m.pages, gen: m.gen}
}

// alignRange validates a page aligned range and returns the rounded up size.
func alignRange(addr, size uint64) (uint64, error) {
	if addr%PageSize != 0 {
		return 0, errors.Wrapf(ErrMappingAlignment, "address %#x", addr)
	} else if size == 0 {
		return 0, errors.Errorf("invalid mapping size at %#x: 0", addr)
	}

	size = (size + PageSize - 1) &^ (PageSize - 1)
	if size == 0 || addr+size <= addr {
		return 0, errors.Errorf("mapping %#x+%#x overflows address space", addr, size)
	}
	return size, nil
}

var _ Memory = (*ConcreteMemory)(nil)

// ConcreteMemory is a Memory that only stores concrete bytes.
type ConcreteMemory struct {
	pagedMemory
}

// NewConcreteMemory returns a new, empty concrete memory.
func NewConcreteMemory() *ConcreteMemory {
	return &ConcreteMemory{pagedMemory: newPagedMemory()}
}

// Read returns n bytes at addr as a constant.
func (m *ConcreteMemory) Read(addr uint64, n uint) (Expr, error) {
	return m.read(addr, n, AccessRead)
}

// Write stores a constant value at addr. Returns ErrSymbolicValue if value is symbolic.
func (m *ConcreteMemory) Write(addr uint64, value Expr) error {
	width := ExprWidth(value)
	assert(width%8 == 0, "memory write of partial byte: %d bits", width)

	k, ok := value.(*ConstantExpr)
	if !ok {
		return errors.Wrapf(ErrSymbolicValue, "write %#x", addr)
	}
	if err := m.check(addr, uint64(width/8), AccessWrite); err != nil {
		return err
	}
	for i, b := range k.Bytes() {
		m.store(addr+uint64(i), b, nil)
	}
	return nil
}

// Fork returns an independent copy of the memory. The constraint set is unused.
func (m *ConcreteMemory) Fork(cs *ConstraintSet) Memory {
	return &ConcreteMemory{pagedMemory: m.fork()}
}

var _ Memory = (*SymbolicMemory)(nil)

// SymbolicMemory is a Memory whose bytes may be symbolic expressions over
// the symbols of a ConstraintSet.
type SymbolicMemory struct {
	pagedMemory
	cs *ConstraintSet
}

// NewSymbolicMemory returns a new, empty symbolic memory bound to cs.
func NewSymbolicMemory(cs *ConstraintSet) *SymbolicMemory {
	return &SymbolicMemory{pagedMemory: newPagedMemory(), cs: cs}
}

// ConstraintSet returns the constraint set the memory's symbols belong to.
func (m *SymbolicMemory) ConstraintSet() *ConstraintSet { return m.cs }

// Read returns n bytes at addr. The result is a constant if every byte is concrete.
func (m *SymbolicMemory) Read(addr uint64, n uint) (Expr, error) {
	return m.read(addr, n, AccessRead)
}

// Write stores value at addr one byte at a time.
func (m *SymbolicMemory) Write(addr uint64, value Expr) error {
	width := ExprWidth(value)
	assert(width%8 == 0, "memory write of partial byte: %d bits", width)

	if err := m.check(addr, uint64(width/8), AccessWrite); err != nil {
		return err
	}
	m.storeExpr(addr, value)
	return nil
}

func (m *SymbolicMemory) storeExpr(addr uint64, value Expr) {
	for i := uint(0); i < ExprWidth(value)/8; i++ {
		switch b := NewExtractExpr(value, i*8, 8).(type) {
		case *ConstantExpr:
			m.store(addr+uint64(i), byte(b.Uint64()), nil)
		default:
			m.store(addr+uint64(i), 0, b)
		}
	}
}

// MakeSymbolic replaces n bytes at addr with fresh 8-bit symbols named
// "name[i]" and returns their little-endian composition.
func (m *SymbolicMemory) MakeSymbolic(addr uint64, n uint, name string) (Expr, error) {
	if err := m.check(addr, uint64(n), 0); err != nil {
		return nil, err
	}

	exprs := make([]Expr, n)
	for i := uint(0); i < n; i++ {
		sym, err := m.cs.Declare(fmt.Sprintf("%s[%d]", name, i), Width8)
		if err != nil {
			return nil, err
		}
		m.store(addr+uint64(i), 0, sym)
		exprs[n-1-i] = sym
	}
	return NewConcatExprs(exprs...), nil
}

// Fork returns an independent copy of the memory bound to cs.
func (m *SymbolicMemory) Fork(cs *ConstraintSet) Memory {
	return &SymbolicMemory{pagedMemory: m.fork(), cs: cs}
}

// uint64Comparer compares two 64-bit unsigned integers. Implements immutable.Comparer.
type uint64Comparer struct{}

// Compare returns -1 if a is less than b, returns 1 if a is greater than b, and
// returns 0 if a is equal to b.
func (c *uint64Comparer) Compare(a, b uint64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}
