package domain

// ConnectionState is the client's view of the hub connection.
//
//	Disconnected --Connect--> Connecting --ready--> Connected
//	Connected --drop--> Reconnecting --ready--> Connected
//	Reconnecting --window elapsed--> Disconnected
//	any --Disconnect--> Disconnected
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	default:
		return "Unknown"
	}
}

// Live reports whether a link exists that is usable now or about to be.
func (s ConnectionState) Live() bool {
	return s == Connecting || s == Connected
}
