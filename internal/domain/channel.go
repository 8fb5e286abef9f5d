package domain

// Channel is a logical routing destination for opportunities.
type Channel string

const (
	ChannelSports        Channel = "sports"
	ChannelWeather       Channel = "weather"
	ChannelEconomics     Channel = "economics"
	ChannelMentions      Channel = "mentions"
	ChannelEntertainment Channel = "entertainment"
	ChannelHealth        Channel = "health"
	ChannelPolitics      Channel = "politics"
	ChannelCrypto        Channel = "crypto"
	ChannelDigest        Channel = "digest"
	ChannelStatus        Channel = "status"
)

// Channels lists every routing destination, in display order.
var Channels = []Channel{
	ChannelSports, ChannelWeather, ChannelEconomics, ChannelMentions,
	ChannelEntertainment, ChannelHealth, ChannelPolitics, ChannelCrypto,
	ChannelDigest, ChannelStatus,
}

// Valid reports whether c is one of the closed channel set.
func (c Channel) Valid() bool {
	for _, known := range Channels {
		if c == known {
			return true
		}
	}
	return false
}
