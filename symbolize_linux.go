//go:build linux

package faultline

import (
	"bufio"
	"debug/dwarf"
	"debug/elf"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// native symbol resolution from the objects mapped into the process, used for frames the Go
// runtime can't name.

type mapping struct {
	start, end uintptr
	offset     uint64
	path       string
}

type elfObject struct {
	file  *elf.File
	syms  []elf.Symbol // STT_FUNC only, sorted by Value
	dwarf *dwarf.Data  // nil if the object has no debug info
}

// nativeResolver resolves program counters in the objects listed in a maps file, as in
// /proc/self/maps. Mappings and objects are loaded lazily and cached.
type nativeResolver struct {
	mapsPath string

	mu       sync.Mutex
	loaded   bool
	mappings []mapping
	objects  map[string]*elfObject // nil value: failed to load
}

var native = &nativeResolver{mapsPath: "/proc/self/maps"}

func resolveNative(pc uintptr) (function, file string, line int, ok bool) {
	return native.resolve(pc)
}

func (r *nativeResolver) resolve(pc uintptr) (function, file string, line int, ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	m, found := r.lookupMapping(pc)
	if !found {
		return "", "", 0, false
	}

	obj := r.loadObject(m.path)
	if obj == nil {
		return "", "", 0, false
	}

	addr, found := fileAddress(obj.file, m, pc)
	if !found {
		return "", "", 0, false
	}

	if sym, found := findSymbol(obj.syms, addr); found {
		function = sym.Name
	}
	if obj.dwarf != nil {
		file, line = dwarfLine(obj.dwarf, addr)
	}

	return function, file, line, function != "" || file != ""
}

// lookupMapping finds the mapping containing pc. On a miss, the maps file is read again, in case
// the object was loaded (e.g. with dlopen) after the mappings were last read.
func (r *nativeResolver) lookupMapping(pc uintptr) (mapping, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded {
		if m, ok := findMapping(r.mappings, pc); ok {
			return m, true
		}
	}

	r.mappings = readMappings(r.mapsPath)
	r.loaded = true
	return findMapping(r.mappings, pc)
}

// readMappings parses lines of the form:
//
//	00400000-00452000 r-xp 00000000 08:02 173521      /usr/bin/dbus-daemon
func readMappings(path string) []mapping {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var ms []mapping
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 6 || !strings.Contains(fields[1], "x") {
			continue
		}
		path := fields[5]
		if strings.HasPrefix(path, "[") {
			continue // [vdso], [stack], etc.
		}

		bounds := strings.SplitN(fields[0], "-", 2)
		if len(bounds) != 2 {
			continue
		}
		start, err1 := strconv.ParseUint(bounds[0], 16, 64)
		end, err2 := strconv.ParseUint(bounds[1], 16, 64)
		offset, err3 := strconv.ParseUint(fields[2], 16, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}

		ms = append(ms, mapping{start: uintptr(start), end: uintptr(end), offset: offset, path: path})
	}

	sort.Slice(ms, func(i, j int) bool { return ms[i].start < ms[j].start })
	return ms
}

func findMapping(ms []mapping, pc uintptr) (mapping, bool) {
	idx := sort.Search(len(ms), func(i int) bool { return ms[i].end > pc })
	if idx < len(ms) && ms[idx].start <= pc {
		return ms[idx], true
	}
	return mapping{}, false
}

func (r *nativeResolver) loadObject(path string) *elfObject {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.objects == nil {
		r.objects = make(map[string]*elfObject)
	}
	if obj, ok := r.objects[path]; ok {
		return obj
	}

	obj := openObject(path)
	r.objects[path] = obj
	return obj
}

func openObject(path string) *elfObject {
	f, err := elf.Open(path)
	if err != nil {
		return nil
	}

	syms, err := f.Symbols()
	if err != nil || len(syms) == 0 {
		syms, _ = f.DynamicSymbols()
	}

	funcs := syms[:0]
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) == elf.STT_FUNC && s.Value != 0 {
			funcs = append(funcs, s)
		}
	}
	sort.Slice(funcs, func(i, j int) bool { return funcs[i].Value < funcs[j].Value })

	d, err := f.DWARF()
	if err != nil {
		d = nil
	}

	return &elfObject{file: f, syms: funcs, dwarf: d}
}

// fileAddress translates a runtime program counter into the virtual address used by the object's
// symbol table and debug info.
func fileAddress(f *elf.File, m mapping, pc uintptr) (uint64, bool) {
	if f.Type == elf.ET_EXEC {
		return uint64(pc), true
	}

	off := uint64(pc-m.start) + m.offset
	for _, p := range f.Progs {
		if p.Type == elf.PT_LOAD && p.Off <= off && off < p.Off+p.Filesz {
			return off - p.Off + p.Vaddr, true
		}
	}
	return 0, false
}

func findSymbol(syms []elf.Symbol, addr uint64) (elf.Symbol, bool) {
	idx := sort.Search(len(syms), func(i int) bool { return syms[i].Value > addr }) - 1
	if idx < 0 {
		return elf.Symbol{}, false
	}

	s := syms[idx]
	if s.Size != 0 && addr >= s.Value+s.Size {
		return elf.Symbol{}, false
	}
	return s, true
}

func dwarfLine(d *dwarf.Data, addr uint64) (file string, line int) {
	r := d.Reader()
	for {
		entry, err := r.Next()
		if err != nil || entry == nil {
			return "", 0
		}
		if entry.Tag != dwarf.TagCompileUnit {
			r.SkipChildren()
			continue
		}

		ranges, err := d.Ranges(entry)
		if err != nil {
			r.SkipChildren()
			continue
		}

		contained := false
		for _, rng := range ranges {
			if rng[0] <= addr && addr < rng[1] {
				contained = true
				break
			}
		}
		if !contained {
			r.SkipChildren()
			continue
		}

		lr, err := d.LineReader(entry)
		if err != nil || lr == nil {
			return "", 0
		}
		var le dwarf.LineEntry
		if err := lr.SeekPC(addr, &le); err != nil {
			return "", 0
		}
		if le.File != nil {
			file = le.File.Name
		}
		return file, le.Line
	}
}
