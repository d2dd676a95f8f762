package debugger

const startHandle = 1000

// handlesMap maps bridge variable handles to the adapter references they
// stand for. Handles are only valid for the stop during which they were
// issued: reset drops every mapping but never reuses a number, so a stale
// handle presented after a resume misses instead of aliasing a new one.
// Based on
// https://github.com/microsoft/vscode-debugadapter-node/blob/master/adapter/src/handles.ts
type handlesMap struct {
	nextHandle  int
	handleToRef map[int]int
	// memRefs holds the memory references the adapter handed out during
	// the current stop.
	memRefs map[string]bool
}

func newHandlesMap() *handlesMap {
	return &handlesMap{startHandle, make(map[int]int), make(map[string]bool)}
}

func (hs *handlesMap) reset() {
	hs.handleToRef = make(map[int]int)
	hs.memRefs = make(map[string]bool)
}

// create returns a new handle for the adapter variables reference ref.
// Zero means "no children" and is passed through.
func (hs *handlesMap) create(ref int) int {
	if ref <= 0 {
		return 0
	}
	next := hs.nextHandle
	hs.nextHandle++
	hs.handleToRef[next] = ref
	return next
}

func (hs *handlesMap) get(handle int) (int, bool) {
	v, ok := hs.handleToRef[handle]
	return v, ok
}

func (hs *handlesMap) addMemory(ref string) {
	if ref != "" {
		hs.memRefs[ref] = true
	}
}

func (hs *handlesMap) hasMemory(ref string) bool {
	return hs.memRefs[ref]
}
