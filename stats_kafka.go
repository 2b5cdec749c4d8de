package evhub

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

const (
	KafkaBrokersProp = "stats_kafka_brokers"
	KafkaTopicProp   = "stats_kafka_topic"
)

// KafkaStatsSink forwards hub statistics snapshots to a kafka topic,
// keyed by hub name. The writer is async so Emit never blocks the
// dispatch loop.
type KafkaStatsSink struct {
	ctx      context.Context
	producer *kafka.Writer
}

func NewKafkaStatsSink(ctx context.Context, conf map[string]interface{}) *KafkaStatsSink {
	sink := &KafkaStatsSink{ctx: ctx}
	sink.configure(conf)
	return sink
}

func (s *KafkaStatsSink) Emit(snapshot StatsSnapshot) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		log.Error().Msgf("can't marshal stats snapshot: %+v", err)
		return
	}
	message := kafka.Message{
		Key:   []byte(snapshot.Hub),
		Value: data,
	}
	err = s.producer.WriteMessages(s.ctx, message)
	if err != nil {
		log.Error().Msgf("can't publish stats snapshot: %+v", err)
	}
}

func (s *KafkaStatsSink) Close() error {
	return s.producer.Close()
}

func (s *KafkaStatsSink) configure(conf map[string]interface{}) {
	s.producer = &kafka.Writer{
		Addr:         kafka.TCP(getBrokers(conf)...),
		Topic:        getTopic(conf),
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Balancer:     &kafka.RoundRobin{},
	}
}

func getTopic(conf map[string]interface{}) string {
	if topicValue, ok := conf[KafkaTopicProp]; ok {
		if topic, ok := topicValue.(string); ok {
			return topic
		}
	}
	log.Fatal().Msgf("Incorrect topic name for kafka stats sink: %+v", conf)
	return ""
}

func getBrokers(conf map[string]interface{}) []string {
	if brokersValue, ok := conf[KafkaBrokersProp]; ok {
		if brokers, ok := brokersValue.(string); ok {
			return strings.Split(brokers, ",")
		}
	}
	log.Fatal().Msgf("Incorrect brokers url for kafka stats sink: %+v", conf)
	return nil
}
