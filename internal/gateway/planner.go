package gateway

// PlanRequest carries the inputs an EncoderPlanner needs to produce an
// argument vector, per §4.6.
type PlanRequest struct {
	SourcePath      string
	Variant         Variant
	StartSegment    SegmentIndex
	SegmentDuration int // seconds
	UseHardware     bool
	ForceSDR        bool
	OutputDir       string
}

// Plan is an EncoderPlanner's output: the argument vector and the output
// pattern the supervisor should expect the process to produce. The core
// never inspects Args; it only schedules the process.
type Plan struct {
	Binary           string
	Args             []string
	OutputPattern    string
	FirstSegmentFile string
}

// EncoderPlanner is the interface consumed by the Segment Orchestrator
// (C10). Implementations live outside the core; this package treats the
// encoder's argument vector and HLS tag syntax as a black box (§1 Non-goals).
type EncoderPlanner interface {
	// PlanStream produces a command that, once started, continuously
	// produces segments starting at req.StartSegment (the "streaming" call
	// shape in §4.6).
	PlanStream(req PlanRequest) (Plan, error)

	// PlanSegment produces a command that writes exactly one segment file
	// at the offset implied by req.StartSegment (the "explicit
	// single-segment" call shape in §4.6).
	PlanSegment(req PlanRequest) (Plan, error)
}
