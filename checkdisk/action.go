package checkdisk

// Action is the caller's chosen response to a reported Finding, per spec
// §4.5.1.
type Action int

const (
	// DoNotRepair logs the finding and leaves the volume untouched.
	DoNotRepair Action = iota
	// SaveClusters preserves data that would otherwise be discarded, by
	// salvaging it into a FOUND.DDD/FILEnnnn.CHK entry (spec §4.5.4).
	SaveClusters
	// DeleteClusters frees the affected clusters outright.
	DeleteClusters
	// Abort ends the session immediately; Run returns ResultAbort.
	Abort
)

// Callback is invoked once per Finding. Its return value selects the
// repair strategy applied before Run returns ResultRetry.
type Callback func(Finding) Action

// Result is CheckDisk's bounded-work outcome, per spec §4.5.1/§4.5.7.
type Result int

const (
	// ResultOK means the window was walked with no finding reported.
	ResultOK Result = iota
	// ResultRetry means a finding was handled; the caller should invoke
	// Run again to make further progress.
	ResultRetry
	// ResultAbort means the external abort flag was observed, or the
	// callback returned Abort.
	ResultAbort
	// ResultMaxRecursion means the directory tree is deeper than the
	// configured recursion cap allows; not an error, a bounded-work
	// signal (spec §4.5.7).
	ResultMaxRecursion
)
