package engine

// Wire protocol: one JSON request object per line, answered by one JSON
// response per line, strictly in order on a single connection.

// Request operations.
const (
	OpHello   = "hello"
	OpLoad    = "load"
	OpAdvance = "advance"
	OpState   = "state"
	OpApply   = "apply"
	OpBye     = "bye"
)

// Request is one line from the orchestrator to the engine.
type Request struct {
	Op   string       `json:"op"`
	Seq  uint64       `json:"seq"`
	DT   float64      `json:"dt,omitempty"`
	Load *LoadRequest `json:"load,omitempty"`
	Cmds []Command    `json:"cmds,omitempty"`
}

// Response is the engine's answer, matched to its request by Seq.
type Response struct {
	OK    bool    `json:"ok"`
	Seq   uint64  `json:"seq"`
	Error string  `json:"error,omitempty"`
	Info  *Info   `json:"info,omitempty"`
	Time  float64 `json:"time,omitempty"`
	State *State  `json:"state,omitempty"`
}
