// Package kafka republishes the link status and decoded snapshots to a Kafka
// topic and optionally consumes panel commands from a second topic.
package kafka

import (
	"crypto/tls"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"maintlink/config"
)

// SASLMechanism represents the SASL authentication mechanism.
type SASLMechanism string

const (
	SASLNone        SASLMechanism = ""
	SASLPlain       SASLMechanism = "PLAIN"
	SASLSCRAMSHA256 SASLMechanism = "SCRAM-SHA-256"
	SASLSCRAMSHA512 SASLMechanism = "SCRAM-SHA-512"
)

// tlsConfig returns a TLS configuration if TLS is enabled.
func tlsConfig(cfg config.KafkaConfig) *tls.Config {
	if !cfg.UseTLS {
		return nil
	}
	return &tls.Config{
		InsecureSkipVerify: cfg.TLSSkipVerify,
	}
}

// saslMechanism returns the configured SASL mechanism, or nil when no
// credentials are set or the mechanism is unknown.
func saslMechanism(cfg config.KafkaConfig) sasl.Mechanism {
	if cfg.Username == "" {
		return nil
	}

	switch SASLMechanism(cfg.SASLMechanism) {
	case SASLPlain:
		return plain.Mechanism{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	case SASLSCRAMSHA256:
		mechanism, _ := scram.Mechanism(scram.SHA256, cfg.Username, cfg.Password)
		return mechanism
	case SASLSCRAMSHA512:
		mechanism, _ := scram.Mechanism(scram.SHA512, cfg.Username, cfg.Password)
		return mechanism
	default:
		return nil
	}
}

// newDialer creates a Kafka dialer with auth and TLS.
func newDialer(cfg config.KafkaConfig) *kafka.Dialer {
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
		TLS:       tlsConfig(cfg),
	}
	if mechanism := saslMechanism(cfg); mechanism != nil {
		dialer.SASLMechanism = mechanism
	}
	return dialer
}

// newTransport creates a Kafka transport with auth and TLS.
func newTransport(cfg config.KafkaConfig) *kafka.Transport {
	transport := &kafka.Transport{
		DialTimeout: 10 * time.Second,
		TLS:         tlsConfig(cfg),
	}
	if mechanism := saslMechanism(cfg); mechanism != nil {
		transport.SASL = mechanism
	}
	return transport
}
