package rabbitmq

// QueueConfig описывает очередь и ключ маршрутизации внутри exchange notifications.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// GetNotificationQueues возвращает очереди уведомлений об истечении доступа.
func GetNotificationQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: "access_expired", RoutingKey: "expired"},
	}
}
