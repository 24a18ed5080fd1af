package comm

// A ChannelKey identifies a directed channel.
type ChannelKey struct {
	Src, Dst EndpointID
}

// Reverse returns the key of the opposite direction.
func (k ChannelKey) Reverse() ChannelKey {
	return ChannelKey{Src: k.Dst, Dst: k.Src}
}

// A Channel is one direction of a registered pair. The sender writes through
// tx, which is its own end of the pipe, and the receiver reads through rx.
// Each channel has exactly one writer and one reader.
type Channel struct {
	key ChannelKey
	tx  Endpoint
	rx  Endpoint
}

// Key returns the directed key of the channel.
func (c *Channel) Key() ChannelKey {
	return c.key
}

// Pending returns the number of messages waiting to be received.
func (c *Channel) Pending() int {
	return c.rx.Pending()
}

// ChannelInfo is a snapshot of a channel.
type ChannelInfo struct {
	Src     EndpointID `json:"src"`
	Dst     EndpointID `json:"dst"`
	Pending int        `json:"pending"`
}
