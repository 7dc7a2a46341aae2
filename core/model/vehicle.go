package model

// VehicleClass categorises demand by vehicle type. The generator draws from
// ClassMix; engines may use the class to size queue space and speeds.
type VehicleClass string

const (
	ClassCar        VehicleClass = "car"
	ClassMotorcycle VehicleClass = "motorcycle"
	ClassBus        VehicleClass = "bus"
	ClassTruck      VehicleClass = "truck"
)

// ClassShare pairs a vehicle class with its share of generated demand.
type ClassShare struct {
	Class VehicleClass
	Share float64
}

// ClassMix is the default composition of generated demand. Shares sum to 1
// and the order is significant: generators sample by cumulative share.
var ClassMix = []ClassShare{
	{ClassCar, 0.70},
	{ClassMotorcycle, 0.15},
	{ClassBus, 0.05},
	{ClassTruck, 0.10},
}

// Valid reports whether c is one of the known demand classes.
func (c VehicleClass) Valid() bool {
	switch c {
	case ClassCar, ClassMotorcycle, ClassBus, ClassTruck:
		return true
	}
	return false
}

// EmergencyClass identifies the kind of emergency vehicle injected into a run.
type EmergencyClass string

const (
	EmergencyAmbulance EmergencyClass = "ambulance"
	EmergencyFireTruck EmergencyClass = "fire_truck"
	EmergencyPolice    EmergencyClass = "police"
)

// Valid reports whether c is a known emergency class.
func (c EmergencyClass) Valid() bool {
	switch c {
	case EmergencyAmbulance, EmergencyFireTruck, EmergencyPolice:
		return true
	}
	return false
}
