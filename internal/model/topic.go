package model

import "fmt"

func joinTopic(base string, groupID int, sensorType, sensorName string) string {
	return fmt.Sprintf("%s/%d/%s/%s", base, groupID, sensorType, sensorName)
}

// SharedTopic wraps a topic in the broker's shared-subscription syntax so that
// multiple worker instances load-balance one logical feed.
func SharedTopic(group, topic string) string {
	return fmt.Sprintf("$share/%s/%s", group, topic)
}

// RecoveredTopic is the companion topic a feed publishes backfill batches on.
func RecoveredTopic(topic string) string {
	return topic + "/recovered"
}
