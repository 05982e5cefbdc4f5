package mqtt

import "fmt"

func TopicDirective(prefix, sessionID string) string {
	return fmt.Sprintf("%s/lane/%s/directive", prefix, sessionID)
}

func TopicOrderAccepted(prefix, sessionID string) string {
	return fmt.Sprintf("%s/lane/%s/order", prefix, sessionID)
}
