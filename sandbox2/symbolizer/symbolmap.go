// Package symbolizer builds an address->symbol map from a traced process's
// memory layout and ELF symbol tables, and demangles the results.
package symbolizer

import (
	"bufio"
	"debug/elf"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// entry is one (address, name) point in a SymbolMap. An empty Name marks
// the end of a mapped region, so a floor-lookup never bleeds a symbol from
// one region into the unmapped gap after it.
type entry struct {
	addr uint64
	name string
}

// SymbolMap is a sorted mapping from virtual address to symbol name within
// one traced process, built once at termination (or on-demand for a dump)
// and then queried by GetSymbolAt.
type SymbolMap struct {
	entries []entry
}

// armMappingSymbols are synthetic ARM/AArch64 symbols ($x, $d, $t, $a, $v)
// that mark code/data boundaries rather than naming real functions; they
// must never show up in a resolved stack trace.
var armMappingSymbols = map[string]bool{
	"$x": true, "$d": true, "$t": true, "$a": true, "$v": true,
}

type mapsRegion struct {
	start, end uint64
	executable bool
	fileBacked bool
	deleted    bool
	pgoff      uint64
	path       string
}

// LoadSymbolsMap parses /proc/<pid>/maps and, for every executable,
// file-backed, non-deleted region, loads that file's ELF symbol table and
// relocates each symbol into the mapped address range.
func LoadSymbolsMap(pid int) (*SymbolMap, error) {
	regions, err := parseMaps(pid)
	if err != nil {
		return nil, err
	}

	sm := &SymbolMap{}
	seen := map[string]bool{}
	for _, r := range regions {
		if !r.executable || !r.fileBacked || r.deleted {
			continue
		}
		key := fmt.Sprintf("%s@%d", r.path, r.pgoff)
		if seen[key] {
			// Same file+offset mapped more than once (e.g. a second
			// thread's view); the symbols are identical, skip re-parsing.
			continue
		}
		seen[key] = true
		syms, pie, err := loadELFSymbols(r.path)
		if err != nil {
			continue // unreadable or non-ELF region; not fatal
		}
		for _, s := range syms {
			addr := s.addr
			if pie {
				if addr < r.pgoff || addr >= r.pgoff+(r.end-r.start) {
					continue
				}
				addr = addr + r.start - r.pgoff
			} else if addr < r.start || addr >= r.end {
				continue
			}
			sm.entries = append(sm.entries, entry{addr: addr, name: s.name})
		}
		// Sentinel: an empty-name entry at the region's end stops a
		// floor-lookup from attributing an address past this region to
		// the last real symbol inside it.
		sm.entries = append(sm.entries, entry{addr: r.end, name: ""})
	}

	sort.Slice(sm.entries, func(i, j int) bool { return sm.entries[i].addr < sm.entries[j].addr })
	return sm, nil
}

// GetSymbolAt floor-looks-up addr: an exact match returns the demangled
// symbol; an inexact match returns "demangle(prev)+0xOFFSET"; landing on
// (or past) an empty sentinel entry returns "" (address is not inside any
// known function).
func (sm *SymbolMap) GetSymbolAt(addr uint64) string {
	n := len(sm.entries)
	if n == 0 {
		return ""
	}
	i := sort.Search(n, func(i int) bool { return sm.entries[i].addr > addr })
	if i == 0 {
		return ""
	}
	e := sm.entries[i-1]
	if e.name == "" {
		return ""
	}
	if e.addr == addr {
		return Demangle(e.name)
	}
	return fmt.Sprintf("%s+0x%x", Demangle(e.name), addr-e.addr)
}

func parseMaps(pid int) ([]mapsRegion, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var regions []mapsRegion
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		r, ok := parseMapsLine(sc.Text())
		if ok {
			regions = append(regions, r)
		}
	}
	return regions, sc.Err()
}

func parseMapsLine(line string) (mapsRegion, bool) {
	// address           perms offset  dev   inode  pathname
	// 7f1234500000-7f1234700000 r-xp 00001000 08:01 131080 /lib/x86_64-linux-gnu/libc.so.6
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return mapsRegion{}, false
	}
	addrs := strings.SplitN(fields[0], "-", 2)
	if len(addrs) != 2 {
		return mapsRegion{}, false
	}
	start, err1 := strconv.ParseUint(addrs[0], 16, 64)
	end, err2 := strconv.ParseUint(addrs[1], 16, 64)
	if err1 != nil || err2 != nil {
		return mapsRegion{}, false
	}
	perms := fields[1]
	pgoff, err := strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		return mapsRegion{}, false
	}

	r := mapsRegion{
		start:      start,
		end:        end,
		executable: strings.Contains(perms, "x"),
		pgoff:      pgoff,
	}
	if len(fields) >= 6 {
		path := fields[5]
		r.fileBacked = strings.HasPrefix(path, "/")
		r.deleted = strings.Contains(line, "(deleted)")
		r.path = path
	}
	return r, true
}

type elfSym struct {
	name string
	addr uint64
}

func loadELFSymbols(path string) (syms []elfSym, pie bool, err error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	pie = f.Type == elf.ET_DYN

	all, symErr := f.Symbols()
	dyn, dynErr := f.DynamicSymbols()
	if symErr != nil && dynErr != nil {
		return nil, pie, symErr
	}
	all = append(all, dyn...)

	for _, s := range all {
		if s.Name == "" || armMappingSymbols[s.Name] {
			continue
		}
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC {
			continue
		}
		syms = append(syms, elfSym{name: s.Name, addr: s.Value})
	}
	return syms, pie, nil
}
