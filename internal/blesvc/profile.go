package blesvc

import "tinygo.org/x/bluetooth"

// CarDevicePrefix is the required prefix of every car's advertised local
// name, e.g. "RL-CAR-cc:ba:97:0d:8c:b5".
const CarDevicePrefix = "RL-CAR-"

// UUID suffixes share this prefix (§6.2).
const uuidPrefix = "7f1f9b2a-6a43-4f62-8c2a-b9d3c0e4"

// Characteristic and service UUIDs for the fixed car GATT profile.
var (
	ServiceUUID  = mustParse(uuidPrefix + "a1f0")
	CharSSID     = mustParse(uuidPrefix + "a1f1")
	CharPass     = mustParse(uuidPrefix + "a1f2")
	CharApply    = mustParse(uuidPrefix + "a1f3")
	CharStatus   = mustParse(uuidPrefix + "a1f4")
	CharBattery  = mustParse(uuidPrefix + "a1f5")
	CharDirX     = mustParse(uuidPrefix + "a1f6")
	CharDirY     = mustParse(uuidPrefix + "a1f7")
	CharDirSpeed = mustParse(uuidPrefix + "a1f8")
	CharDevID    = mustParse(uuidPrefix + "a1f9")
	CharDecay    = mustParse(uuidPrefix + "a1fa")
)

func mustParse(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic("blesvc: invalid built-in UUID " + s + ": " + err.Error())
	}
	return u
}

// Domain-specific clamp bounds (§4.1), applied by the Device Session before
// the value reaches the codec.
const (
	SteeringMin = -100
	SteeringMax = 100
	ForwardMin  = -100
	ForwardMax  = 100
	SpeedMin    = 0
	SpeedMax    = 100
	DecayMin    = 0
	DecayMax    = 1
	BatteryMin  = 0
	BatteryMax  = 100
)
