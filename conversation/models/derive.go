package models

// Recompute refreshes the aggregate fields that are derived from the message log.
// Counts are tallied first, then lastActive follows the newest message. System
// messages are not counted. Running it twice on the same log changes nothing.
func Recompute(c *Conversation) {
	var count MessageCount
	for i := range c.Messages {
		switch c.Messages[i].Sender {
		case SenderUser:
			count.User++
		case SenderBot:
			count.Bot++
		}
	}
	c.MessageCount = count

	if last := c.Messages.Last(); last != nil {
		c.LastActive = last.Timestamp
	}
}
