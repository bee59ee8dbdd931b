package protocol

// Role-selection bytes read from the very first byte of a freshly accepted
// TCP socket (spec.md §4.2, §6).
const (
	RoleGameClient byte = 'C' // enter the auth state machine
	RoleDownloader byte = 'D' // legacy split-file downloader
	RoleHTTPProbe  byte = 'G' // HTTP GET health probe
)

// Single-byte/short payload codes used once a session is Active (spec.md
// §4.5, §4.6, §6).
const (
	CodeFullSync         byte = 'H' // client requests full state sync
	CodeVehicle          byte = 'O' // vehicle sub-protocol; byte 1 selects spawn/edit/delete/...
	CodeChat             byte = 'C'
	CodeJoinNotification byte = 'J'
	CodeKick             byte = 'K'
	CodePlayerList       byte = 'S' // "Ss..." player list, "Sn..." full-sync username echo
	CodeMap              byte = 'M'
	CodeClientEvent      byte = 'E' // E:<event>:<payload>, client → plugin call
	CodePong             byte = 'p' // UDP pong
	CodePosition         byte = 'Z' // UDP transform update
)

// Vehicle sub-codes: payload[1] when payload[0] == CodeVehicle.
const (
	VehicleSpawn  byte = 's'
	VehicleEdit   byte = 'c'
	VehicleDelete byte = 'd'
	VehicleReset  byte = 'r'
	VehicleTick   byte = 't'
	VehicleMove   byte = 'm'
)

// RawBroadcastLow and RawBroadcastHigh bound the inclusive range of opaque
// code bytes that are broadcast to other players unexamined (spec.md §4.5,
// §4.6: "Raw bytes in the inclusive range 86..=89").
const (
	RawBroadcastLow  byte = 86
	RawBroadcastHigh byte = 89
)

// IsRawBroadcast reports whether code falls in the inclusive opaque
// broadcast range.
func IsRawBroadcast(code byte) bool {
	return code >= RawBroadcastLow && code <= RawBroadcastHigh
}
