package cache

import (
	"fmt"
	"time"
)

const (
	userKeyFormat     = "user:%d:display"
	productKeyFormat  = "product:%d:summary"
	roomChannelFormat = "chat:room:%d"

	// RoomChannelPattern matches every room fan-out channel.
	RoomChannelPattern = "chat:room:*"
)

const (
	UserTTL    = 5 * time.Minute
	ProductTTL = 5 * time.Minute
)

func UserKey(userID uint) string {
	return fmt.Sprintf(userKeyFormat, userID)
}

func ProductKey(productID uint) string {
	return fmt.Sprintf(productKeyFormat, productID)
}

// RoomChannel is the pub/sub channel carrying frames for one chat room.
func RoomChannel(chatID uint) string {
	return fmt.Sprintf(roomChannelFormat, chatID)
}
