package prof

// Options selects what a run records.
type Options struct {
	CPU        string // CPU profile path, written until stop
	Heap       string // heap snapshot path, written at stop
	Contention bool   // sample blocking and mutex contention
}

// Empty reports whether no profile is requested.
func (o Options) Empty() bool {
	return o.CPU == "" && o.Heap == "" && !o.Contention
}
