package domain

// Direction represents the side of a trade (LONG or SHORT).
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// DealKind distinguishes opening and closing executions in the broker's
// deal history.
type DealKind string

const (
	DealEntry DealKind = "ENTRY"
	DealExit  DealKind = "EXIT"
)

// ConnectionState is the lifecycle state of the terminal connection.
// Owned exclusively by the connection manager.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateBackoffWait  ConnectionState = "backoff_wait"
)

// Timeframe identifies a chart timeframe for historical bars.
type Timeframe string

const (
	TimeframeM1  Timeframe = "M1"
	TimeframeM5  Timeframe = "M5"
	TimeframeM15 Timeframe = "M15"
	TimeframeM30 Timeframe = "M30"
	TimeframeH1  Timeframe = "H1"
	TimeframeH4  Timeframe = "H4"
	TimeframeD1  Timeframe = "D1"
)

// IsValid reports whether the timeframe is one of the supported units.
func (tf Timeframe) IsValid() bool {
	switch tf {
	case TimeframeM1, TimeframeM5, TimeframeM15, TimeframeM30, TimeframeH1, TimeframeH4, TimeframeD1:
		return true
	}
	return false
}
