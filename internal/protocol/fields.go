package protocol

import "fmt"

// Buddha Rev F GATT services.
const (
	DeviceInfoServiceUUID = "01950010-1b5f-4a33-9a3e-8f2dd45cfa63"
	BatteryServiceUUID    = "01950020-1b5f-4a33-9a3e-8f2dd45cfa63"
	StepListServiceUUID   = "01950030-1b5f-4a33-9a3e-8f2dd45cfa63"
	TreatmentServiceUUID  = "01950040-1b5f-4a33-9a3e-8f2dd45cfa63"
)

// FieldName identifies one logical device attribute.
type FieldName string

const (
	FieldHWVersion           FieldName = "hwVersion"
	FieldFWVersion           FieldName = "fwVersion"
	FieldBatteryLevel        FieldName = "batteryLevel"
	FieldBatteryAvgCurrentMa FieldName = "batteryAvgCurrentMa"
	FieldBatteryStatus       FieldName = "batteryStatus"
	FieldChargerConnected    FieldName = "chargerConnected"
	FieldShipMode            FieldName = "shipMode"
	FieldStepList            FieldName = "stepList"
	FieldControl             FieldName = "control"
	FieldTotalDurationMs     FieldName = "totalDurationMs"
	FieldLRA1Enable          FieldName = "lra1Enable"
	FieldLRA2Enable          FieldName = "lra2Enable"
	FieldLRA3Enable          FieldName = "lra3Enable"
	FieldRemainingMs         FieldName = "remainingMs"
	FieldIntensityPct        FieldName = "intensityPct"
	FieldStatus              FieldName = "status"
	FieldErrorCode           FieldName = "errorCode"
)

// Kind selects the codec for a field's payload.
type Kind uint8

const (
	KindU8 Kind = iota
	KindU16
	KindI16
	KindVersion
	KindSteps
)

// Access is a field's capability set.
type Access uint8

const (
	AccessRead Access = 1 << iota
	AccessWrite
	AccessNotify
)

func (a Access) CanRead() bool   { return a&AccessRead != 0 }
func (a Access) CanWrite() bool  { return a&AccessWrite != 0 }
func (a Access) CanNotify() bool { return a&AccessNotify != 0 }

// FieldDescriptor maps a logical field to its GATT location, codec, and
// capability set. Min/Max bound the numeric domain for writable fields.
type FieldDescriptor struct {
	Name           FieldName
	Service        string
	Characteristic string
	Kind           Kind
	Access         Access
	Min, Max       int
}

// fields is the authoritative Rev F table. Order matches the firmware's
// GATT database layout.
var fields = []FieldDescriptor{
	{FieldHWVersion, DeviceInfoServiceUUID, "01950011-1b5f-4a33-9a3e-8f2dd45cfa63", KindVersion, AccessRead, 0, 0},
	{FieldFWVersion, DeviceInfoServiceUUID, "01950012-1b5f-4a33-9a3e-8f2dd45cfa63", KindVersion, AccessRead, 0, 0},
	{FieldBatteryLevel, BatteryServiceUUID, "01950021-1b5f-4a33-9a3e-8f2dd45cfa63", KindU8, AccessRead | AccessNotify, 0, 100},
	{FieldBatteryAvgCurrentMa, BatteryServiceUUID, "01950022-1b5f-4a33-9a3e-8f2dd45cfa63", KindI16, AccessRead, -32768, 32767},
	{FieldBatteryStatus, BatteryServiceUUID, "01950023-1b5f-4a33-9a3e-8f2dd45cfa63", KindU8, AccessRead | AccessNotify, 0, 1},
	{FieldChargerConnected, BatteryServiceUUID, "01950024-1b5f-4a33-9a3e-8f2dd45cfa63", KindU8, AccessRead | AccessNotify, 0, 1},
	{FieldShipMode, BatteryServiceUUID, "01950025-1b5f-4a33-9a3e-8f2dd45cfa63", KindU8, AccessWrite, 0, 1},
	{FieldStepList, StepListServiceUUID, "01950031-1b5f-4a33-9a3e-8f2dd45cfa63", KindSteps, AccessRead | AccessWrite, 0, 0},
	{FieldControl, TreatmentServiceUUID, "01950041-1b5f-4a33-9a3e-8f2dd45cfa63", KindU8, AccessRead | AccessWrite, 0, 2},
	{FieldTotalDurationMs, TreatmentServiceUUID, "01950042-1b5f-4a33-9a3e-8f2dd45cfa63", KindU16, AccessRead | AccessWrite, 0, 65535},
	{FieldLRA1Enable, TreatmentServiceUUID, "01950043-1b5f-4a33-9a3e-8f2dd45cfa63", KindU8, AccessRead | AccessWrite, 0, 1},
	{FieldLRA2Enable, TreatmentServiceUUID, "01950044-1b5f-4a33-9a3e-8f2dd45cfa63", KindU8, AccessRead | AccessWrite, 0, 1},
	{FieldLRA3Enable, TreatmentServiceUUID, "01950045-1b5f-4a33-9a3e-8f2dd45cfa63", KindU8, AccessRead | AccessWrite, 0, 1},
	{FieldRemainingMs, TreatmentServiceUUID, "01950046-1b5f-4a33-9a3e-8f2dd45cfa63", KindU16, AccessRead | AccessNotify, 0, 65535},
	{FieldIntensityPct, TreatmentServiceUUID, "01950047-1b5f-4a33-9a3e-8f2dd45cfa63", KindU8, AccessRead | AccessWrite, 0, 100},
	{FieldStatus, TreatmentServiceUUID, "01950048-1b5f-4a33-9a3e-8f2dd45cfa63", KindU8, AccessRead | AccessNotify, 0, 3},
	{FieldErrorCode, TreatmentServiceUUID, "01950049-1b5f-4a33-9a3e-8f2dd45cfa63", KindU16, AccessRead, 0, 65535},
}

var fieldsByName = func() map[FieldName]FieldDescriptor {
	m := make(map[FieldName]FieldDescriptor, len(fields))
	for _, f := range fields {
		m[f.Name] = f
	}
	return m
}()

// Field returns the descriptor for name. The table is fixed at compile
// time, so an unknown name is a bug in the caller and panics.
func Field(name FieldName) FieldDescriptor {
	f, ok := fieldsByName[name]
	if !ok {
		panic(fmt.Sprintf("protocol: unknown field %q", name))
	}
	return f
}

// Fields returns every descriptor in GATT database order.
func Fields() []FieldDescriptor {
	out := make([]FieldDescriptor, len(fields))
	copy(out, fields)
	return out
}

// Control is the treatment control action.
type Control uint8

const (
	ControlStop Control = iota
	ControlStart
	ControlPause
)

func (c Control) String() string {
	switch c {
	case ControlStop:
		return "stop"
	case ControlStart:
		return "start"
	case ControlPause:
		return "pause"
	}
	return fmt.Sprintf("control(%d)", uint8(c))
}

// Status is the device-reported treatment state.
type Status uint8

const (
	StatusStopped Status = iota
	StatusRunning
	StatusPaused
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	case StatusError:
		return "error"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}
