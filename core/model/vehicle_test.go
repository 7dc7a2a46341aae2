package model

import "testing"

func TestVehicleClassValid(t *testing.T) {
	for _, c := range []VehicleClass{ClassCar, ClassMotorcycle, ClassBus, ClassTruck} {
		if !c.Valid() {
			t.Errorf("%s should be valid", c)
		}
	}
	if VehicleClass("rickshaw").Valid() {
		t.Error("rickshaw is not a demand class")
	}
	if VehicleClass("").Valid() {
		t.Error("empty class accepted")
	}
}

func TestEmergencyClassValid(t *testing.T) {
	for _, c := range []EmergencyClass{EmergencyAmbulance, EmergencyFireTruck, EmergencyPolice} {
		if !c.Valid() {
			t.Errorf("%s should be valid", c)
		}
	}
	if EmergencyClass("car").Valid() {
		t.Error("regular classes are not emergency classes")
	}
}

func TestPhaseTargetValid(t *testing.T) {
	for _, tt := range []PhaseTarget{TargetAdaptive, TargetFixed, TargetBoth} {
		if !tt.Valid() {
			t.Errorf("%s should be valid", tt)
		}
	}
	if PhaseTarget("all").Valid() {
		t.Error("unknown target accepted")
	}
}
