package comm

import "fmt"

// Direction tells which way a message travels between a device and a server.
type Direction int

// The two directions of the protocol.
const (
	DeviceToServer Direction = iota
	ServerToDevice
)

func (d Direction) String() string {
	switch d {
	case DeviceToServer:
		return "DeviceToServer"
	case ServerToDevice:
		return "ServerToDevice"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Class is the coarse category of a message. Every class belongs to exactly
// one direction.
type Class int

// The message classes. ClassInvalid is the zero value and is never accepted.
const (
	ClassInvalid Class = iota
	DeviceNotification
	DeviceQuery
	DeviceSend
	ServerNotification
	ServerQuery
	ServerSend
	numClasses
)

type classInfo struct {
	direction Direction
	code      int
	name      string
}

var classTable = [...]classInfo{
	ClassInvalid:       {name: "INVALID"},
	DeviceNotification: {DeviceToServer, 0, "D2S_NOTIFICATION"},
	DeviceQuery:        {DeviceToServer, 1, "D2S_QUERY"},
	DeviceSend:         {DeviceToServer, 2, "D2S_SEND"},
	ServerNotification: {ServerToDevice, 0, "S2D_NOTIFICATION"},
	ServerQuery:        {ServerToDevice, 1, "S2D_QUERY"},
	ServerSend:         {ServerToDevice, 2, "S2D_SEND"},
}

// Valid reports whether c is one of the six defined classes.
func (c Class) Valid() bool {
	return c > ClassInvalid && c < numClasses
}

// Direction returns the direction the class belongs to. It panics on an
// invalid class.
func (c Class) Direction() Direction {
	classMustBeValid(c)
	return classTable[c].direction
}

// Code returns the wire code of the class within its direction.
func (c Class) Code() int {
	classMustBeValid(c)
	return classTable[c].code
}

func (c Class) String() string {
	if c < ClassInvalid || c >= numClasses {
		return fmt.Sprintf("Class(%d)", int(c))
	}

	return classTable[c].name
}

// Types lists the message types of the class in declaration order.
func (c Class) Types() []Type {
	var types []Type
	for t := TypeInvalid + 1; t < numTypes; t++ {
		if typeTable[t].class == c {
			types = append(types, t)
		}
	}

	return types
}

// Classes lists the classes of a direction.
func Classes(d Direction) []Class {
	var classes []Class
	for c := ClassInvalid + 1; c < numClasses; c++ {
		if classTable[c].direction == d {
			classes = append(classes, c)
		}
	}

	return classes
}

func classMustBeValid(c Class) {
	if !c.Valid() {
		panic(fmt.Sprintf("invalid message class %d", int(c)))
	}
}

// Type is the specific meaning of a message within its class.
type Type int

// The message types, grouped by the class they belong to.
const (
	TypeInvalid Type = iota

	// DeviceNotification
	NotReady
	Ready
	TaskRunning
	TaskFinished
	TaskAborted

	// DeviceQuery
	QueryGlobalModel
	QueryTaskConfig

	// DeviceSend
	SendGradientUpdates
	SendTaskMetrics

	// ServerNotification
	TryLater
	Selected

	// ServerQuery
	CheckAlive
	CheckReady

	// ServerSend
	SendGlobalModel
	SendTaskConfig
	SendServerTaskMetrics

	numTypes
)

type typeInfo struct {
	class Class
	code  int
	name  string
}

var typeTable = [...]typeInfo{
	TypeInvalid: {ClassInvalid, 0, "INVALID"},

	NotReady:     {DeviceNotification, 0, "NOT_READY"},
	Ready:        {DeviceNotification, 1, "READY"},
	TaskRunning:  {DeviceNotification, 2, "TASK_RUNNING"},
	TaskFinished: {DeviceNotification, 3, "TASK_FINISHED"},
	TaskAborted:  {DeviceNotification, -1, "TASK_ABORTED"},

	QueryGlobalModel: {DeviceQuery, 0, "QUERY_GLOBAL_MODEL"},
	QueryTaskConfig:  {DeviceQuery, 1, "QUERY_TASK_CONFIG"},

	SendGradientUpdates: {DeviceSend, 0, "SEND_GRADIENT_UPDATES"},
	SendTaskMetrics:     {DeviceSend, 1, "SEND_TASK_METRICS"},

	TryLater: {ServerNotification, 0, "TRY_LATER"},
	Selected: {ServerNotification, 1, "SELECTED"},

	CheckAlive: {ServerQuery, 0, "CHECK_ALIVE"},
	CheckReady: {ServerQuery, 1, "CHECK_READY"},

	SendGlobalModel:       {ServerSend, 0, "SEND_GLOBAL_MODEL"},
	SendTaskConfig:        {ServerSend, 1, "SEND_TASK_CONFIG"},
	SendServerTaskMetrics: {ServerSend, 2, "SEND_TASK_METRICS"},
}

// Valid reports whether t is a defined message type.
func (t Type) Valid() bool {
	return t > TypeInvalid && t < numTypes
}

// Class returns the class that owns the type, or ClassInvalid.
func (t Type) Class() Class {
	if !t.Valid() {
		return ClassInvalid
	}

	return typeTable[t].class
}

// Code returns the wire code of the type within its class.
func (t Type) Code() int {
	if !t.Valid() {
		panic(fmt.Sprintf("invalid message type %d", int(t)))
	}

	return typeTable[t].code
}

// BelongsTo reports whether t is one of the types of class c.
func (t Type) BelongsTo(c Class) bool {
	return t.Valid() && c.Valid() && typeTable[t].class == c
}

func (t Type) String() string {
	if t < TypeInvalid || t >= numTypes {
		return fmt.Sprintf("Type(%d)", int(t))
	}

	return typeTable[t].name
}

// TypeFromCode resolves a wire code within a class.
func TypeFromCode(c Class, code int) (Type, error) {
	for _, t := range c.Types() {
		if typeTable[t].code == code {
			return t, nil
		}
	}

	return TypeInvalid, &TaxonomyMismatchError{Class: c, Code: code, ByCode: true}
}

// CheckTaxonomy returns a TaxonomyMismatchError if t is not a type of c.
func CheckTaxonomy(c Class, t Type) error {
	if !t.BelongsTo(c) {
		return &TaxonomyMismatchError{Class: c, Type: t}
	}

	return nil
}

// CheckDirection returns a DirectionMismatchError if c does not travel in
// direction d.
func CheckDirection(c Class, d Direction) error {
	if !c.Valid() || classTable[c].direction != d {
		return &DirectionMismatchError{Class: c, Direction: d}
	}

	return nil
}
