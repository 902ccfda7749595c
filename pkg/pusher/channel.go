package pusher

import "strings"

// Channel identifies one of the two upstream market segments. Each channel
// owns its own socket, subscription set and connected flag.
type Channel int

const (
	ChannelOTC Channel = iota
	ChannelRegular

	numChannels
)

func (c Channel) String() string {
	switch c {
	case ChannelOTC:
		return "otc"
	case ChannelRegular:
		return "regular"
	default:
		return "unknown"
	}
}

// ChannelForSymbol routes an asset symbol to its market segment.
// OTC symbols carry the "-OTC" suffix by broker convention.
func ChannelForSymbol(symbol string) Channel {
	if strings.Contains(symbol, "-OTC") {
		return ChannelOTC
	}
	return ChannelRegular
}
