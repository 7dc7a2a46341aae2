package engine

// CommandKind enumerates engine instructions.
type CommandKind string

const (
	CmdSetPhase       CommandKind = "set_phase"
	CmdInsertVehicle  CommandKind = "insert_vehicle"
	CmdSetSpeedFactor CommandKind = "set_speed_factor"
	CmdSetGreenAdjust CommandKind = "set_green_adjust"
)

// Command is one queued engine instruction. Only the fields matching Kind
// are meaningful.
type Command struct {
	Kind CommandKind `json:"kind"`

	Junction string `json:"junction,omitempty"`
	Phase    int    `json:"phase,omitempty"`

	VehicleID string `json:"vehicle_id,omitempty"`
	Class     string `json:"class,omitempty"`
	Entry     string `json:"entry,omitempty"`
	Exit      string `json:"exit,omitempty"`
	Emergency bool   `json:"emergency,omitempty"`

	Factor float64 `json:"factor,omitempty"`
	Delta  float64 `json:"delta,omitempty"`
}

// SetPhase forces the signal to the given phase index.
func SetPhase(junction string, phase int) Command {
	return Command{Kind: CmdSetPhase, Junction: junction, Phase: phase}
}

// InsertVehicle adds a vehicle entering at the given approach. Emergency
// vehicles get head-of-line priority in the engine.
func InsertVehicle(id, class, entry, exit string, emergency bool) Command {
	return Command{
		Kind:      CmdInsertVehicle,
		VehicleID: id,
		Class:     class,
		Entry:     entry,
		Exit:      exit,
		Emergency: emergency,
	}
}

// SetSpeedFactor scales travel and discharge rates, 1 being nominal.
func SetSpeedFactor(factor float64) Command {
	return Command{Kind: CmdSetSpeedFactor, Factor: factor}
}

// SetGreenAdjust stretches every green window of a fixed plan by delta
// seconds. The value replaces any previous adjustment.
func SetGreenAdjust(delta float64) Command {
	return Command{Kind: CmdSetGreenAdjust, Delta: delta}
}
